package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/floranet/petal-oracle/pkg/ledger"
	"github.com/floranet/petal-oracle/pkg/proof"
	"github.com/floranet/petal-oracle/pkg/retry"
)

// Leader elects the publishing petal for an epoch by rotating through
// the sorted participant accounts. Negative epochs use their absolute
// value.
func Leader(participants []string, epoch int64) (string, error) {
	if len(participants) == 0 {
		return "", fmt.Errorf("consumer: no participants to elect from")
	}
	e := epoch
	if e < 0 {
		e = -e
	}
	return participants[e%int64(len(participants))], nil
}

// schedulePublishLocked arranges the consolidated publication for an
// epoch. At most one publication per epoch is in flight; re-entrant
// calls coalesce.
func (c *Consumer) schedulePublishLocked(epoch int64, attempt int, delay time.Duration) {
	if c.published[epoch] || c.inFlight[epoch] {
		return
	}
	if delay <= 0 {
		c.inFlight[epoch] = true
		c.wg.Add(1)
		go c.publishEpoch(epoch, attempt)
		return
	}
	if _, ok := c.retryTimers[epoch]; ok {
		return
	}
	c.retryTimers[epoch] = time.AfterFunc(delay, func() {
		c.mu.Lock()
		delete(c.retryTimers, epoch)
		select {
		case <-c.stopCh:
			c.mu.Unlock()
			return
		default:
		}
		c.schedulePublishLocked(epoch, attempt, 0)
		c.mu.Unlock()
	})
}

func (c *Consumer) publishEpoch(epoch int64, attempt int) {
	defer c.wg.Done()

	c.mu.Lock()
	entry := c.byEpoch[epoch]
	if entry == nil || c.published[epoch] {
		delete(c.inFlight, epoch)
		c.mu.Unlock()
		return
	}
	matching := make([]*proof.ProofPayload, 0)
	for _, p := range c.buckets[epoch] {
		if p.StateHash == entry.StateHash {
			matching = append(matching, p)
		}
	}
	snapshot := cloneEntry(entry)
	c.mu.Unlock()

	if err := c.validatePetalTopics(matching); err != nil {
		c.log.Warn("petal state topic validation failed",
			"epoch", epoch, "attempt", attempt, "err", err)
		c.retryPublish(epoch, attempt)
		return
	}

	leader, err := Leader(snapshot.Participants, epoch)
	if err != nil {
		c.log.Warn("leader election failed", "epoch", epoch, "err", err)
		c.retryPublish(epoch, attempt)
		return
	}

	msg := proof.FloraStateMessage(snapshot, c.cfg.FloraAccountID, c.cfg.ThresholdFingerprint, c.TopicIDs())
	payload, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("consolidated message marshal failed", "epoch", epoch, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	receipt, err := c.submit.SubmitMessage(ctx, c.cfg.FloraStateTopicID, payload, leader)
	cancel()
	if err != nil {
		c.meter.PublishRetried()
		c.log.Warn("consolidated publish failed",
			"epoch", epoch, "leader", leader, "attempt", attempt, "err", err)
		c.retryPublish(epoch, attempt)
		return
	}

	c.mu.Lock()
	c.published[epoch] = true
	delete(c.inFlight, epoch)
	c.stampEntryLocked(epoch, receipt.ConsensusTimestamp, receipt.SequenceNumber)
	c.mu.Unlock()
	c.meter.ConsensusPublished()
	c.log.Info("consolidated proof published",
		"epoch", epoch, "leader", leader,
		"consensusTimestamp", receipt.ConsensusTimestamp, "sequenceNumber", receipt.SequenceNumber)
}

func (c *Consumer) retryPublish(epoch int64, attempt int) {
	c.mu.Lock()
	delete(c.inFlight, epoch)
	select {
	case <-c.stopCh:
		c.mu.Unlock()
		return
	default:
	}
	delay := retry.Backoff(fmt.Sprintf("publish:%d", epoch), attempt, retry.PublishPolicy)
	c.schedulePublishLocked(epoch, attempt+1, delay)
	c.mu.Unlock()
}

// validatePetalTopics confirms every matching proof was published on its
// petal's own state topic before consolidating. Mirror propagation lags
// the HTTP submission, so each proof is retried a few times.
func (c *Consumer) validatePetalTopics(matching []*proof.ProofPayload) error {
	for _, p := range matching {
		if p.PetalStateTopicID == "" {
			continue
		}
		if err := c.validateProofOnTopic(p); err != nil {
			return err
		}
	}
	return nil
}

func (c *Consumer) validateProofOnTopic(p *proof.ProofPayload) error {
	var lastErr error
	for attempt := 0; attempt < c.cfg.ValidationAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-c.stopCh:
				return fmt.Errorf("consumer: stopped")
			case <-time.After(c.cfg.ValidationDelay):
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		msgs, err := c.reader.TopicMessages(ctx, p.PetalStateTopicID, ledger.Query{Order: "desc", Limit: 10})
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		for _, m := range msgs {
			sm, ok := proof.DecodeStateMessage(m.Contents)
			if ok && sm.MatchesProof(p) {
				return nil
			}
		}
		lastErr = fmt.Errorf("no matching state message on topic %s for petal %s epoch %d",
			p.PetalStateTopicID, p.PetalID, p.Epoch)
	}
	return lastErr
}

// stampEntryLocked records log metadata for an epoch and fills the
// history entry exactly once. The first observation wins; metadata
// arriving before the entry is kept and applied when aggregation
// appends it.
func (c *Consumer) stampEntryLocked(epoch int64, consensusTimestamp string, sequenceNumber int64) {
	md, ok := c.metadata[epoch]
	if !ok {
		md = &epochMetadata{
			ConsensusTimestamp: consensusTimestamp,
			SequenceNumber:     sequenceNumber,
		}
		c.metadata[epoch] = md
	}
	entry := c.byEpoch[epoch]
	if entry == nil {
		return
	}
	if entry.ConsensusTimestamp == "" {
		entry.ConsensusTimestamp = md.ConsensusTimestamp
		entry.SequenceNumber = md.SequenceNumber
	}
	if entry.HCSMessage == "" {
		entry.HCSMessage = "hcs://17/" + c.cfg.FloraStateTopicID
	}
	c.dropPendingMetaLocked(epoch)
	c.persistLocked(entry)
}

func (c *Consumer) dropPendingMetaLocked(epoch int64) {
	for i, e := range c.pendingMeta {
		if e == epoch {
			c.pendingMeta = append(c.pendingMeta[:i], c.pendingMeta[i+1:]...)
			return
		}
	}
}
