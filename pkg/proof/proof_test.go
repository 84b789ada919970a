package proof

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecords() []AdapterRecord {
	return []AdapterRecord{
		{AdapterID: "coingecko", EntityID: "HBAR-USD", Payload: map[string]interface{}{"price": 0.071, "source": "coingecko"}, SourceFingerprint: "cg"},
		{AdapterID: "binance", EntityID: "HBAR-USD", Payload: map[string]interface{}{"price": 0.07, "source": "binance"}, SourceFingerprint: "bn"},
		{AdapterID: "hedera", EntityID: "HBAR-USD", Payload: map[string]interface{}{"price": 0.072, "source": "hedera"}, SourceFingerprint: "hd"},
	}
}

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	b, err := NewBuilder(BuilderConfig{
		EpochOriginMs:        1700000000000,
		BlockTimeMs:          2000,
		ThresholdFingerprint: "tf-1",
		AdapterFingerprints:  map[string]string{"binance": "bn", "coingecko": "cg", "hedera": "hd"},
		RegistryTopicID:      "0.0.500",
		FloraAccountID:       "0.0.100",
		PetalID:              "petal-a",
		PetalAccountID:       "0.0.10",
		PetalStateTopicID:    "0.0.200",
		Participants:         []string{"0.0.12", "0.0.10", "0.0.11"},
	})
	require.NoError(t, err)
	return b
}

func TestBuild_HashFixpoint(t *testing.T) {
	b := testBuilder(t)
	p, err := b.Build(3, testRecords())
	require.NoError(t, err)

	// Recomputing the state hash from the proof body matches.
	require.NoError(t, p.Verify())

	// Records re-stamped with the epoch timestamp and sorted.
	assert.Equal(t, "binance", p.Records[0].AdapterID)
	assert.Equal(t, "coingecko", p.Records[1].AdapterID)
	assert.Equal(t, "hedera", p.Records[2].AdapterID)
	for _, r := range p.Records {
		assert.Equal(t, p.Timestamp, r.Timestamp)
	}
	assert.Equal(t, []string{"0.0.10", "0.0.11", "0.0.12"}, p.Participants)
}

func TestBuild_TimestampDerivedFromEpoch(t *testing.T) {
	b := testBuilder(t)
	p0, err := b.Build(0, testRecords())
	require.NoError(t, err)
	p1, err := b.Build(1, testRecords())
	require.NoError(t, err)

	assert.Equal(t, "2023-11-14T22:13:20.000Z", p0.Timestamp)
	assert.Equal(t, "2023-11-14T22:13:22.000Z", p1.Timestamp)
	assert.NotEqual(t, p0.StateHash, p1.StateHash)
}

func TestBuild_SameInputsSameHash(t *testing.T) {
	b := testBuilder(t)
	p1, err := b.Build(7, testRecords())
	require.NoError(t, err)

	// A second petal with different identity but the same records and
	// shared material produces the same state hash.
	b2, err := NewBuilder(BuilderConfig{
		EpochOriginMs:        1700000000000,
		BlockTimeMs:          2000,
		ThresholdFingerprint: "tf-1",
		AdapterFingerprints:  map[string]string{"binance": "bn", "coingecko": "cg", "hedera": "hd"},
		RegistryTopicID:      "0.0.500",
		FloraAccountID:       "0.0.100",
		PetalID:              "petal-b",
		PetalAccountID:       "0.0.11",
		PetalStateTopicID:    "0.0.201",
		Participants:         []string{"0.0.10", "0.0.11", "0.0.12"},
	})
	require.NoError(t, err)

	// Hand the records in a different order.
	recs := testRecords()
	recs[0], recs[2] = recs[2], recs[0]
	p2, err := b2.Build(7, recs)
	require.NoError(t, err)

	assert.Equal(t, p1.StateHash, p2.StateHash)
}

func TestVerify_DetectsTampering(t *testing.T) {
	b := testBuilder(t)
	p, err := b.Build(1, testRecords())
	require.NoError(t, err)

	p.Records[0].Payload["price"] = 99.0
	assert.Error(t, p.Verify())
}

func TestSortAccountIDs_DottedIntegerOrder(t *testing.T) {
	got := SortAccountIDs([]string{"0.0.100", "0.0.9", " 0.0.20 ", "0.0.9"})
	assert.Equal(t, []string{"0.0.9", "0.0.20", "0.0.100"}, got)
}

func TestSortAccountIDs_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	genIDs := gen.SliceOf(gen.OneGenOf(
		gen.RegexMatch(`[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,5}`),
		gen.AlphaString(),
	))

	properties.Property("ordering is stable and total", prop.ForAll(func(ids []string) bool {
		a := SortAccountIDs(ids)
		b := SortAccountIDs(a)
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		for i := 1; i < len(a); i++ {
			if CompareAccountIDs(a[i-1], a[i]) >= 0 {
				return false
			}
		}
		return true
	}, genIDs))

	properties.TestingRun(t)
}

func TestParseSubmission_Whole(t *testing.T) {
	b := testBuilder(t)
	p, err := b.Build(2, testRecords())
	require.NoError(t, err)

	raw, err := json.Marshal(p)
	require.NoError(t, err)

	sub, err := ParseSubmission(raw)
	require.NoError(t, err)
	require.NotNil(t, sub.Whole)
	assert.Nil(t, sub.Chunk)
	assert.Equal(t, p.StateHash, sub.Whole.StateHash)
}

func TestParseSubmission_Chunk(t *testing.T) {
	raw := []byte(`{"petalId":"petal-a","epoch":4,"chunk_id":2,"total_chunks":3,"data":"aGVsbG8="}`)
	sub, err := ParseSubmission(raw)
	require.NoError(t, err)
	require.NotNil(t, sub.Chunk)
	assert.Equal(t, 2, sub.Chunk.ChunkID)
	assert.Equal(t, 3, sub.Chunk.TotalChunks)
}

func TestParseSubmission_Rejects(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not json", `{"epoch":`},
		{"missing state hash", `{"epoch":1,"petalId":"a"}`},
		{"chunk id out of range", `{"petalId":"a","epoch":1,"chunk_id":4,"total_chunks":3,"data":"eA=="}`},
		{"chunk without data", `{"petalId":"a","epoch":1,"chunk_id":1,"total_chunks":2}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseSubmission([]byte(tc.body))
			require.Error(t, err)
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}
