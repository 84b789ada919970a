package proof

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoEpoch(t *testing.T) {
	assert.Equal(t, "hcs17:42", EpochMemo(42))

	e, ok := MemoEpoch("hcs17:42")
	require.True(t, ok)
	assert.Equal(t, int64(42), e)

	_, ok = MemoEpoch("hcs16:42")
	assert.False(t, ok)
	_, ok = MemoEpoch("hcs17:")
	assert.False(t, ok)
}

func TestDecodeStateMessage(t *testing.T) {
	raw := []byte(`{"p":"hcs-17","op":"state_hash","m":"hcs17:3","account_id":"0.0.10","state_hash":"aa","topics":["0.0.200"],"epoch":3}`)
	sm, ok := DecodeStateMessage(raw)
	require.True(t, ok)
	assert.Equal(t, "0.0.10", sm.AccountID)
	require.NotNil(t, sm.Epoch)
	assert.Equal(t, int64(3), *sm.Epoch)

	_, ok = DecodeStateMessage([]byte(`{"p":"hcs-2","op":"register"}`))
	assert.False(t, ok)
	_, ok = DecodeStateMessage([]byte(`not json`))
	assert.False(t, ok)
}

func TestStateMessage_MatchesProof(t *testing.T) {
	b := testBuilder(t)
	p, err := b.Build(3, testRecords())
	require.NoError(t, err)

	msg := PetalStateMessage(p)
	assert.True(t, msg.MatchesProof(p))

	// Memo alone is enough when the epoch field is absent.
	noEpoch := *msg
	noEpoch.Epoch = nil
	assert.True(t, noEpoch.MatchesProof(p))

	wrongHash := *msg
	wrongHash.StateHash = "bb"
	assert.False(t, wrongHash.MatchesProof(p))

	wrongAccount := *msg
	wrongAccount.AccountID = "0.0.99"
	assert.False(t, wrongAccount.MatchesProof(p))

	other, err := b.Build(4, testRecords())
	require.NoError(t, err)
	assert.False(t, msg.MatchesProof(other), "different epoch must not match")

	// Round-trips through JSON the way the topic carries it.
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	decoded, ok := DecodeStateMessage(raw)
	require.True(t, ok)
	assert.True(t, decoded.MatchesProof(p))
}
