package consumer

import (
	"context"
	"math"
	"sort"

	"github.com/floranet/petal-oracle/pkg/proof"
)

// addProofLocked appends an accepted proof to its epoch bucket and
// attempts aggregation. Proofs are processed in arrival order.
func (c *Consumer) addProofLocked(p *proof.ProofPayload) {
	if md, ok := c.metadata[p.Epoch]; ok {
		p.ConsensusTimestamp = md.ConsensusTimestamp
		p.SequenceNumber = md.SequenceNumber
	}
	c.buckets[p.Epoch] = append(c.buckets[p.Epoch], p)
	c.tryAggregateLocked(p.Epoch)
}

// tryAggregateLocked forms a consensus entry once a quorum of proofs
// agrees on a state hash. The first quorum wins; later matching proofs
// update nothing except metadata.
func (c *Consumer) tryAggregateLocked(epoch int64) {
	bucket := c.buckets[epoch]
	if len(bucket) < c.cfg.Quorum {
		return
	}

	matching := largestHashGroup(bucket)
	if len(matching) < c.cfg.Quorum {
		return
	}

	if _, ok := c.byEpoch[epoch]; ok {
		// Already consolidated; nothing to re-emit for the same hash,
		// and a competing hash can never displace the appended entry.
		return
	}

	// Guard against tampering: the chosen group's hash must reproduce
	// from its own records.
	if err := matching[0].Verify(); err != nil {
		c.log.Warn("state hash recomputation diverged, dropping consensus attempt",
			"epoch", epoch, "err", err)
		return
	}

	entry := &proof.ConsensusEntry{
		Epoch:        epoch,
		StateHash:    matching[0].StateHash,
		Price:        medianPrice(matching),
		Timestamp:    matching[0].Timestamp,
		Participants: c.participantsLocked(matching),
		Sources:      flattenSources(matching),
	}
	if md, ok := c.metadata[epoch]; ok {
		entry.ConsensusTimestamp = md.ConsensusTimestamp
		entry.SequenceNumber = md.SequenceNumber
		entry.HCSMessage = "hcs://17/" + c.cfg.FloraStateTopicID
	} else {
		c.pendingMeta = append(c.pendingMeta, epoch)
	}

	c.appendHistoryLocked(entry)
	c.meter.ConsensusFormed()
	c.log.Info("consensus formed",
		"epoch", epoch, "price", entry.Price, "stateHash", entry.StateHash,
		"proofs", len(matching), "bucket", len(bucket))

	if epoch > c.maxConsolidated {
		c.maxConsolidated = epoch
	}
	c.pruneLocked()
	c.persistLocked(entry)

	if c.cfg.LeaderPublish {
		c.schedulePublishLocked(epoch, 1, 0)
	}
}

// largestHashGroup groups the bucket by state hash and returns the
// largest group. Equal sizes resolve to the earliest-seen hash, so the
// choice is deterministic in arrival order.
func largestHashGroup(bucket []*proof.ProofPayload) []*proof.ProofPayload {
	order := make([]string, 0, len(bucket))
	groups := make(map[string][]*proof.ProofPayload, len(bucket))
	for _, p := range bucket {
		if _, ok := groups[p.StateHash]; !ok {
			order = append(order, p.StateHash)
		}
		groups[p.StateHash] = append(groups[p.StateHash], p)
	}
	var best []*proof.ProofPayload
	for _, h := range order {
		if len(groups[h]) > len(best) {
			best = groups[h]
		}
	}
	return best
}

// medianPrice computes the 8-decimal-rounded median over every record
// price in the matching proofs.
func medianPrice(matching []*proof.ProofPayload) float64 {
	var prices []float64
	for _, p := range matching {
		for i := range p.Records {
			if v, ok := p.Records[i].Price(); ok {
				prices = append(prices, v)
			}
		}
	}
	if len(prices) == 0 {
		return 0
	}
	sort.Float64s(prices)
	var m float64
	n := len(prices)
	if n%2 == 1 {
		m = prices[n/2]
	} else {
		m = (prices[n/2-1] + prices[n/2]) / 2
	}
	return math.Round(m*1e8) / 1e8
}

// participantsLocked resolves the participant account set: the bootstrap
// member list when known, else well-formed account ids from the proofs'
// participant sets, else each proof's payer account.
func (c *Consumer) participantsLocked(matching []*proof.ProofPayload) []string {
	if len(c.cfg.MemberAccountIDs) > 0 {
		return proof.SortAccountIDs(c.cfg.MemberAccountIDs)
	}
	var ids []string
	for _, p := range matching {
		for _, part := range p.Participants {
			if proof.IsAccountID(part) {
				ids = append(ids, part)
			}
		}
	}
	if len(ids) == 0 {
		for _, p := range matching {
			ids = append(ids, p.PetalAccountID)
		}
	}
	return proof.SortAccountIDs(ids)
}

func flattenSources(matching []*proof.ProofPayload) []proof.SourcePrice {
	var out []proof.SourcePrice
	for _, p := range matching {
		for i := range p.Records {
			price, ok := p.Records[i].Price()
			if !ok {
				continue
			}
			out = append(out, proof.SourcePrice{Source: p.Records[i].Source(), Price: price})
		}
	}
	return out
}

// appendHistoryLocked inserts the entry keeping history sorted by epoch.
func (c *Consumer) appendHistoryLocked(entry *proof.ConsensusEntry) {
	c.byEpoch[entry.Epoch] = entry
	i := sort.Search(len(c.history), func(i int) bool {
		return c.history[i].Epoch >= entry.Epoch
	})
	c.history = append(c.history, nil)
	copy(c.history[i+1:], c.history[i:])
	c.history[i] = entry
}

// pruneLocked drops proof buckets and accepted-proof keys for epochs a
// bounded tail behind the newest consolidated epoch, and chunk buffers
// for every epoch up to and including it. Late arrivals inside the tail
// can still be validated against the published hash.
func (c *Consumer) pruneLocked() {
	cut := c.maxConsolidated - c.cfg.BucketTail
	if cut < 0 {
		return
	}
	for epoch := range c.buckets {
		if epoch < cut {
			delete(c.buckets, epoch)
		}
	}
	for key := range c.chunks {
		if key.epoch <= c.maxConsolidated {
			delete(c.chunks, key)
		}
	}
	for key := range c.accepted {
		if key.epoch < cut {
			delete(c.accepted, key)
		}
	}
}

func (c *Consumer) persistLocked(entry *proof.ConsensusEntry) {
	if c.db == nil {
		return
	}
	if err := c.db.UpsertEntry(context.Background(), entry); err != nil {
		c.log.Warn("history persist failed", "epoch", entry.Epoch, "err", err)
	}
}
