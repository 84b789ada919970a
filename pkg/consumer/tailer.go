package consumer

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/floranet/petal-oracle/pkg/ledger"
	"github.com/floranet/petal-oracle/pkg/proof"
)

// runTailer polls the flora state topic, feeds legacy proofs back into
// aggregation, and backfills log metadata onto consensus entries. I/O
// errors are logged and retried on the next poll, never fatal.
func (c *Consumer) runTailer(ctx context.Context) {
	defer c.wg.Done()

	cursor := c.initialCursor(ctx)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			cursor = c.pollOnce(ctx, cursor)
		}
	}
}

// initialCursor picks the starting point: the newest persisted entry's
// consensus timestamp, else the newest message on the topic, else "0".
func (c *Consumer) initialCursor(ctx context.Context) string {
	c.mu.Lock()
	var newest string
	for _, e := range c.history {
		if e.ConsensusTimestamp != "" && compareTimestamps(e.ConsensusTimestamp, newest) > 0 {
			newest = e.ConsensusTimestamp
		}
	}
	c.mu.Unlock()
	if newest != "" {
		return newest
	}

	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	msgs, err := c.reader.TopicMessages(rctx, c.cfg.FloraStateTopicID, ledger.Query{Order: "desc", Limit: 1})
	if err == nil && len(msgs) > 0 {
		return msgs[0].ConsensusTimestamp
	}
	return "0"
}

// pollOnce reads everything past the cursor and returns the advanced
// cursor. The cursor only moves forward.
func (c *Consumer) pollOnce(ctx context.Context, cursor string) string {
	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	msgs, err := c.reader.TopicMessages(rctx, c.cfg.FloraStateTopicID, ledger.Query{
		Order:          "asc",
		Limit:          100,
		AfterTimestamp: cursor,
	})
	if err != nil {
		c.log.Warn("mirror poll failed", "topic", c.cfg.FloraStateTopicID, "err", err)
		return cursor
	}

	for _, m := range msgs {
		if compareTimestamps(m.ConsensusTimestamp, cursor) <= 0 {
			continue
		}
		c.handleTopicMessage(m)
		cursor = m.ConsensusTimestamp
	}
	return cursor
}

func (c *Consumer) handleTopicMessage(m ledger.TopicMessage) {
	var targetEpoch int64
	var haveEpoch bool
	var consolidated bool

	if sm, ok := proof.DecodeStateMessage(m.Contents); ok {
		if sm.Epoch != nil {
			targetEpoch, haveEpoch = *sm.Epoch, true
		} else if e, ok := proof.MemoEpoch(sm.Memo); ok {
			targetEpoch, haveEpoch = e, true
		}
		consolidated = sm.AccountID == c.cfg.FloraAccountID
	} else if p, err := proof.ParseProofPayload(m.Contents); err == nil {
		// Legacy petals published whole proofs straight to the flora
		// topic; feed them through normal intake.
		targetEpoch, haveEpoch = p.Epoch, true
		if err := c.Submit(&proof.Submission{Whole: p}); err != nil {
			c.log.Debug("legacy proof from topic rejected", "epoch", p.Epoch, "err", err)
		}
	}

	c.mu.Lock()
	if !haveEpoch && len(c.pendingMeta) > 0 {
		targetEpoch, haveEpoch = c.pendingMeta[0], true
	}
	if haveEpoch {
		c.stampEntryLocked(targetEpoch, m.ConsensusTimestamp, m.SequenceNumber)
		if consolidated {
			// The consolidated message already landed (possibly before a
			// restart); re-publishing it would duplicate the epoch.
			c.published[targetEpoch] = true
			if t, ok := c.retryTimers[targetEpoch]; ok {
				t.Stop()
				delete(c.retryTimers, targetEpoch)
			}
		}
	}
	c.mu.Unlock()
}

// compareTimestamps orders mirror consensus timestamps of the form
// "<seconds>.<nanos>". Empty strings sort first.
func compareTimestamps(a, b string) int {
	as, an := splitTimestamp(a)
	bs, bn := splitTimestamp(b)
	if as != bs {
		if as < bs {
			return -1
		}
		return 1
	}
	if an != bn {
		if an < bn {
			return -1
		}
		return 1
	}
	return 0
}

func splitTimestamp(ts string) (int64, int64) {
	if ts == "" {
		return -1, -1
	}
	sec, nanos, _ := strings.Cut(ts, ".")
	s, _ := strconv.ParseInt(sec, 10, 64)
	for len(nanos) < 9 {
		nanos += "0"
	}
	n, _ := strconv.ParseInt(nanos, 10, 64)
	return s, n
}
