package consumer

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/floranet/petal-oracle/pkg/proof"
)

func reject(reason string) error {
	return &proof.ValidationError{Reason: reason}
}

// Submit runs one parsed submission through policy validation, chunk
// assembly and aggregation. A nil return means the submission was
// accepted (including idempotent re-submissions).
func (c *Consumer) Submit(sub *proof.Submission) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sub.Chunk != nil {
		assembled, err := c.addChunkLocked(sub.Chunk)
		if err != nil || assembled == nil {
			return err
		}
		return c.acceptProofLocked(assembled)
	}
	return c.acceptProofLocked(sub.Whole)
}

// addChunkLocked buffers one chunk and returns the assembled proof once
// all parts for the (petalId, epoch) key are present.
func (c *Consumer) addChunkLocked(ch *proof.ChunkedProofPayload) (*proof.ProofPayload, error) {
	key := chunkKey{petalID: ch.PetalID, epoch: ch.Epoch}
	buf, ok := c.chunks[key]
	if !ok {
		buf = &chunkBuffer{total: ch.TotalChunks, parts: make(map[int]string), record: time.Now()}
		c.chunks[key] = buf
	}
	if buf.total != ch.TotalChunks {
		return nil, reject("total_chunks differs from earlier chunks")
	}
	buf.parts[ch.ChunkID] = ch.Data
	if len(buf.parts) < buf.total {
		return nil, nil
	}

	var joined []byte
	for i := 1; i <= buf.total; i++ {
		part, ok := buf.parts[i]
		if !ok {
			return nil, nil
		}
		decoded, err := base64.StdEncoding.DecodeString(part)
		if err != nil {
			delete(c.chunks, key)
			return nil, reject(fmt.Sprintf("chunk %d is not valid base64", i))
		}
		joined = append(joined, decoded...)
	}
	delete(c.chunks, key)

	assembled, err := proof.ParseProofPayload(joined)
	if err != nil {
		return nil, err
	}
	if assembled.PetalID != ch.PetalID || assembled.Epoch != ch.Epoch {
		return nil, reject("assembled proof identity differs from chunk key")
	}
	return assembled, nil
}

func (c *Consumer) acceptProofLocked(p *proof.ProofPayload) error {
	if err := c.validatePolicyLocked(p); err != nil {
		c.meter.ProofRejected()
		return err
	}

	key := chunkKey{petalID: p.PetalID, epoch: p.Epoch}
	if prior, ok := c.accepted[key]; ok {
		if prior == p.StateHash {
			// Re-submitting the same assembled proof is a no-op.
			return nil
		}
		return reject("conflicting proof already accepted for this epoch")
	}
	c.accepted[key] = p.StateHash

	c.recordPetalLocked(p)
	c.meter.ProofAccepted()
	c.addProofLocked(p)
	return nil
}

func (c *Consumer) validatePolicyLocked(p *proof.ProofPayload) error {
	if p.FloraAccountID != c.cfg.FloraAccountID {
		return reject("floraAccountId does not match this flora")
	}
	if p.ThresholdFingerprint != c.cfg.ThresholdFingerprint {
		return reject("thresholdFingerprint mismatch")
	}
	if c.cfg.RegistryTopicID != "" && p.RegistryTopicID != c.cfg.RegistryTopicID {
		return reject("registryTopicId does not match active registry")
	}
	if known, ok := c.cfg.PetalAccounts[p.PetalID]; ok && known != p.PetalAccountID {
		return reject("petalAccountId does not match bootstrap binding")
	}
	if bound, ok := c.topicBindings[p.PetalID]; ok && p.PetalStateTopicID != bound {
		return reject("petalStateTopicId differs from earlier proofs")
	}

	if len(c.cfg.MemberAccountIDs) > 0 {
		want := proof.SortAccountIDs(c.cfg.MemberAccountIDs)
		got := proof.SortAccountIDs(p.Participants)
		if len(want) != len(got) {
			return reject("participants do not match flora membership")
		}
		for i := range want {
			if want[i] != got[i] {
				return reject("participants do not match flora membership")
			}
		}
	} else if len(proof.SortAccountIDs(p.Participants)) != c.cfg.ExpectedPetals {
		return reject("participant count does not match expected petals")
	}
	return nil
}

func (c *Consumer) recordPetalLocked(p *proof.ProofPayload) {
	ps, ok := c.petals[p.PetalID]
	if !ok {
		ps = &petalState{Adapters: make(map[string]string)}
		c.petals[p.PetalID] = ps
	}
	ps.AccountID = p.PetalAccountID
	if ps.StateTopicID == "" {
		ps.StateTopicID = p.PetalStateTopicID
	}
	if _, ok := c.topicBindings[p.PetalID]; !ok && p.PetalStateTopicID != "" {
		// First observation pins the petal's state topic for the run.
		c.topicBindings[p.PetalID] = p.PetalStateTopicID
	}
	for _, r := range p.Records {
		ps.Adapters[r.AdapterID] = p.AdapterFingerprints[r.AdapterID]
	}
}
