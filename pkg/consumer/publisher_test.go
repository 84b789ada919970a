package consumer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/floranet/petal-oracle/pkg/proof"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// publishReady posts each petal's state message onto its own state
// topic so leader validation can succeed.
func publishReady(reader *fakeReader, proofs ...*proof.ProofPayload) {
	for _, p := range proofs {
		reader.addMessage(p.PetalStateTopicID, proof.PetalStateMessage(p))
	}
}

func TestLeaderPublish_HappyPath(t *testing.T) {
	reader := newFakeReader()
	submit := &fakeSubmitter{}
	cfg := testConfig()
	cfg.LeaderPublish = true
	c := newTestConsumer(t, cfg, reader, submit)

	proofs := []*proof.ProofPayload{
		petalProof(t, 0, 0, s1Prices),
		petalProof(t, 1, 0, s1Prices),
		petalProof(t, 2, 0, s1Prices),
	}
	publishReady(reader, proofs...)
	for _, p := range proofs {
		require.NoError(t, submitWhole(t, c, p))
	}

	require.Eventually(t, func() bool {
		entry := c.LatestEntry()
		return entry != nil && entry.ConsensusTimestamp != ""
	}, 2*time.Second, 10*time.Millisecond)

	entry := c.LatestEntry()
	assert.Equal(t, "hcs://17/0.0.300", entry.HCSMessage)
	assert.NotZero(t, entry.SequenceNumber)

	// Epoch 0 elects the first sorted participant as leader and pays
	// from its account.
	submit.mu.Lock()
	defer submit.mu.Unlock()
	require.Len(t, submit.payers, 1)
	assert.Equal(t, "0.0.10", submit.payers[0])
	assert.Equal(t, "0.0.300", submit.topics[0])
}

func TestLeaderPublish_AbortsWithoutStateTopicMessage(t *testing.T) {
	reader := newFakeReader()
	submit := &fakeSubmitter{}
	cfg := testConfig()
	cfg.LeaderPublish = true
	c := newTestConsumer(t, cfg, reader, submit)

	// No petal state messages on the topics: validation must fail and
	// the entry stays unpublished (LatestEntry gates on publication).
	for i := 0; i < 3; i++ {
		require.NoError(t, submitWhole(t, c, petalProof(t, i, 0, s1Prices)))
	}

	time.Sleep(100 * time.Millisecond)
	assert.Nil(t, c.LatestEntry())
	submit.mu.Lock()
	assert.Empty(t, submit.payers)
	submit.mu.Unlock()

	// The entry itself exists and is retained for retry.
	total, _ := c.HistoryWindow(0, 10)
	assert.Equal(t, 1, total)
}

func TestLeaderPublish_RetriesAfterSubmitFailure(t *testing.T) {
	reader := newFakeReader()
	submit := &fakeSubmitter{failures: 1}
	cfg := testConfig()
	cfg.LeaderPublish = true
	c := newTestConsumer(t, cfg, reader, submit)

	proofs := []*proof.ProofPayload{
		petalProof(t, 0, 0, s1Prices),
		petalProof(t, 1, 0, s1Prices),
	}
	publishReady(reader, proofs...)
	for _, p := range proofs {
		require.NoError(t, submitWhole(t, c, p))
	}

	// First attempt fails; a retry timer is scheduled. Fire it early
	// instead of waiting out the backoff.
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.retryTimers) == 1
	}, 2*time.Second, 10*time.Millisecond)

	c.mu.Lock()
	for _, timer := range c.retryTimers {
		timer.Reset(time.Millisecond)
	}
	c.mu.Unlock()

	require.Eventually(t, func() bool {
		entry := c.LatestEntry()
		return entry != nil && entry.ConsensusTimestamp != ""
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMetadataBackfillExactlyOnce(t *testing.T) {
	c := newTestConsumer(t, testConfig(), newFakeReader(), nil)

	for i := 0; i < 2; i++ {
		require.NoError(t, submitWhole(t, c, petalProof(t, i, 4, s1Prices)))
	}
	entry := c.LatestEntry()
	require.NotNil(t, entry)
	assert.Empty(t, entry.ConsensusTimestamp)

	// The tailer discovers the consolidated message after the fact.
	msg := proof.FloraStateMessage(entry, testFlora, testThreshold, []string{"0.0.300"})
	raw, _ := json.Marshal(msg)
	c.handleTopicMessage(topicMsg("0.0.300", "1700000150.000000001", 41, raw))

	entry = c.LatestEntry()
	assert.Equal(t, "1700000150.000000001", entry.ConsensusTimestamp)
	assert.Equal(t, int64(41), entry.SequenceNumber)
	assert.Equal(t, "hcs://17/0.0.300", entry.HCSMessage)

	// A second observation cannot overwrite.
	c.handleTopicMessage(topicMsg("0.0.300", "1700000160.000000001", 55, raw))
	entry = c.LatestEntry()
	assert.Equal(t, "1700000150.000000001", entry.ConsensusTimestamp)
	assert.Equal(t, int64(41), entry.SequenceNumber)
}

func TestMetadataBeforeEntry(t *testing.T) {
	c := newTestConsumer(t, testConfig(), newFakeReader(), nil)

	// Metadata for epoch 6 arrives before any proof.
	sm := &proof.StateMessage{
		Protocol:  proof.StateProtocol,
		Op:        proof.StateOp,
		Memo:      proof.EpochMemo(6),
		AccountID: testFlora,
		StateHash: "deadbeef",
	}
	raw, _ := json.Marshal(sm)
	c.handleTopicMessage(topicMsg("0.0.300", "1700000170.000000001", 77, raw))

	for i := 0; i < 2; i++ {
		require.NoError(t, submitWhole(t, c, petalProof(t, i, 6, s1Prices)))
	}
	entry := c.LatestEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "1700000170.000000001", entry.ConsensusTimestamp)
	assert.Equal(t, int64(77), entry.SequenceNumber)
}
