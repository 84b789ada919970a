package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/floranet/petal-oracle/pkg/consumer"
	"github.com/floranet/petal-oracle/pkg/ledger"
	"github.com/floranet/petal-oracle/pkg/proof"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReader struct{}

func (stubReader) TopicMessages(ctx context.Context, topicID string, q ledger.Query) ([]ledger.TopicMessage, error) {
	return nil, nil
}

func (stubReader) AccountKey(ctx context.Context, accountID string) (*ledger.AccountKey, error) {
	return &ledger.AccountKey{AccountID: accountID, KeyType: "ED25519", PublicKey: "ab"}, nil
}

const (
	testFlora     = "0.0.100"
	testThreshold = "tf-1"
	testRegistry  = "0.0.500"
)

func newTestServer(t *testing.T) (*Server, *consumer.Consumer) {
	t.Helper()
	c, err := consumer.New(consumer.Config{
		FloraAccountID:           testFlora,
		ThresholdFingerprint:     testThreshold,
		RegistryTopicID:          testRegistry,
		FloraStateTopicID:        "0.0.300",
		FloraCoordinationTopicID: "0.0.301",
		FloraTransactionTopicID:  "0.0.302",
		Quorum:                   2,
		ExpectedPetals:           3,
		PollInterval:             time.Hour,
	}, stubReader{}, nil, nil, nil, slog.Default())
	require.NoError(t, err)
	t.Cleanup(c.Stop)
	return NewServer(c, Meta{Network: "testnet", FloraAccountID: testFlora, RegistryTopicID: testRegistry}, slog.Default()), c
}

func buildProof(t *testing.T, i int, epoch int64, price float64) *proof.ProofPayload {
	t.Helper()
	members := []string{"0.0.10", "0.0.11", "0.0.12"}
	b, err := proof.NewBuilder(proof.BuilderConfig{
		EpochOriginMs:        1700000000000,
		BlockTimeMs:          2000,
		ThresholdFingerprint: testThreshold,
		AdapterFingerprints:  map[string]string{"binance": "fp"},
		RegistryTopicID:      testRegistry,
		FloraAccountID:       testFlora,
		PetalID:              fmt.Sprintf("petal-%d", i),
		PetalAccountID:       members[i],
		PetalStateTopicID:    fmt.Sprintf("0.0.2%02d", i),
		Participants:         members,
	})
	require.NoError(t, err)
	p, err := b.Build(epoch, []proof.AdapterRecord{{
		AdapterID: "binance",
		EntityID:  "HBAR-USD",
		Payload:   map[string]interface{}{"price": price, "source": "binance"},
	}})
	require.NoError(t, err)
	return p
}

func postProof(t *testing.T, h http.Handler, p *proof.ProofPayload) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(p)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/proof", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestProofEndpoint_AcceptAndReject(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := postProof(t, h, buildProof(t, 0, 0, 0.07))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Wrong flora account: 400 with a problem+json body and no state
	// mutation.
	bad := buildProof(t, 1, 0, 0.07)
	bad.FloraAccountID = "0.0.999"
	rec = postProof(t, h, bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, http.StatusBadRequest, problem.Status)
	assert.Contains(t, problem.Detail, "floraAccountId")

	req := httptest.NewRequest(http.MethodGet, "/price/latest", nil)
	latest := httptest.NewRecorder()
	h.ServeHTTP(latest, req)
	assert.Equal(t, http.StatusNotFound, latest.Code)
}

func TestProofEndpoint_MethodAndBodyLimits(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	req := httptest.NewRequest(http.MethodGet, "/proof", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	big := bytes.Repeat([]byte("x"), 2<<20)
	req = httptest.NewRequest(http.MethodPost, "/proof", bytes.NewReader(big))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLatestAndHistory(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	for epoch := int64(0); epoch < 3; epoch++ {
		for i := 0; i < 2; i++ {
			rec := postProof(t, h, buildProof(t, i, epoch, 0.07))
			require.Equal(t, http.StatusOK, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/price/latest", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var entry proof.ConsensusEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, int64(2), entry.Epoch)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/price/history?limit=2&offset=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var window struct {
		Total  int                    `json:"total"`
		Offset int                    `json:"offset"`
		Limit  int                    `json:"limit"`
		Items  []proof.ConsensusEntry `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &window))
	assert.Equal(t, 3, window.Total)
	assert.Equal(t, 1, window.Offset)
	assert.Equal(t, 2, window.Limit)
	require.Len(t, window.Items, 2)
	// Newest-first after the offset.
	assert.Equal(t, int64(1), window.Items[0].Epoch)
	assert.Equal(t, int64(0), window.Items[1].Epoch)
	assert.Equal(t, "hcs://17/0.0.300", window.Items[0].HCSMessage)
}

func TestHistoryClamping(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	cases := []struct {
		query string
		limit int
	}{
		{"limit=0", 1},
		{"limit=9999", 200},
		{"limit=abc", 50},
		{"", 50},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/price/history?"+tc.query, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var window struct {
			Limit  int `json:"limit"`
			Offset int `json:"offset"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &window))
		assert.Equal(t, tc.limit, window.Limit, tc.query)
		assert.Equal(t, 0, window.Offset)
	}
}

func TestAdaptersRoster(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := postProof(t, h, buildProof(t, 0, 0, 0.07))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/adapters", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Petals []consumer.PetalRoster `json:"petals"`
		Topics []string               `json:"topics"`
		Meta   Meta                   `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Petals, 1)
	assert.Equal(t, "0.0.10", out.Petals[0].AccountID)
	assert.Equal(t, "ED25519", out.Petals[0].KeyType)
	assert.Contains(t, out.Petals[0].Adapters, "binance")
	assert.Contains(t, out.Topics, "0.0.300")
	assert.Equal(t, "testnet", out.Meta.Network)
}

func TestHealthAndCORS(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodOptions, "/proof", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
