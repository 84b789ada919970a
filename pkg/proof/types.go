// Package proof defines the oracle wire types: per-adapter observations,
// per-petal epoch proofs, chunked proof transport, and the consolidated
// consensus entries the flora publishes.
package proof

import (
	"fmt"
	"sort"

	"github.com/floranet/petal-oracle/pkg/canonical"
)

// AdapterRecord is one adapter's observation for one epoch. Records are
// immutable once stamped with the epoch timestamp.
type AdapterRecord struct {
	AdapterID         string                 `json:"adapterId"`
	EntityID          string                 `json:"entityId"`
	Payload           map[string]interface{} `json:"payload"`
	Timestamp         string                 `json:"timestamp"`
	SourceFingerprint string                 `json:"sourceFingerprint"`
}

// Price extracts the numeric price from the record payload.
func (r *AdapterRecord) Price() (float64, bool) {
	v, ok := r.Payload["price"]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// Source extracts the source label from the record payload.
func (r *AdapterRecord) Source() string {
	if s, ok := r.Payload["source"].(string); ok {
		return s
	}
	return r.AdapterID
}

// ProofPayload is a single petal's submission for one epoch.
type ProofPayload struct {
	Epoch                int64             `json:"epoch"`
	StateHash            string            `json:"stateHash"`
	ThresholdFingerprint string            `json:"thresholdFingerprint"`
	PetalID              string            `json:"petalId"`
	PetalAccountID       string            `json:"petalAccountId"`
	PetalStateTopicID    string            `json:"petalStateTopicId"`
	FloraAccountID       string            `json:"floraAccountId"`
	Participants         []string          `json:"participants"`
	Records              []AdapterRecord   `json:"records"`
	AdapterFingerprints  map[string]string `json:"adapterFingerprints"`
	RegistryTopicID      string            `json:"registryTopicId"`
	Timestamp            string            `json:"timestamp"`

	// ConsensusTimestamp and SequenceNumber are copied from the epoch's
	// log metadata when the consumer adds the proof to its bucket; the
	// consumer does not set HCSMessage on proofs.
	HCSMessage         string `json:"hcsMessage,omitempty"`
	ConsensusTimestamp string `json:"consensusTimestamp,omitempty"`
	SequenceNumber     int64  `json:"sequenceNumber,omitempty"`
}

// ChunkedProofPayload carries one part of a proof too large for a single
// submission. Chunk ids are 1-based; data is base64.
type ChunkedProofPayload struct {
	Epoch          int64  `json:"epoch"`
	PetalID        string `json:"petalId"`
	PetalAccountID string `json:"petalAccountId"`
	FloraAccountID string `json:"floraAccountId"`
	ChunkID        int    `json:"chunk_id"`
	TotalChunks    int    `json:"total_chunks"`
	Data           string `json:"data"`
}

// SourcePrice is one flattened (source, price) observation inside a
// consensus entry.
type SourcePrice struct {
	Source string  `json:"source"`
	Price  float64 `json:"price"`
}

// ConsensusEntry is the consolidated result of aggregation for one epoch.
// Epoch and state hash are immutable once appended; the log metadata
// fields are filled in place exactly once.
type ConsensusEntry struct {
	Epoch              int64         `json:"epoch"`
	StateHash          string        `json:"stateHash"`
	Price              float64       `json:"price"`
	Timestamp          string        `json:"timestamp"`
	Participants       []string      `json:"participants"`
	Sources            []SourcePrice `json:"sources"`
	HCSMessage         string        `json:"hcsMessage,omitempty"`
	ConsensusTimestamp string        `json:"consensusTimestamp,omitempty"`
	SequenceNumber     int64         `json:"sequenceNumber,omitempty"`
}

// stateHashInput is the exact structure committed to by a state hash.
type stateHashInput struct {
	Records              []AdapterRecord   `json:"records"`
	ThresholdFingerprint string            `json:"thresholdFingerprint"`
	AdapterFingerprints  map[string]string `json:"adapterFingerprints"`
	RegistryTopicID      string            `json:"registryTopicId"`
}

// StateHash computes the SHA-384 state hash over the sorted records and
// the flora's shared identity material.
func StateHash(records []AdapterRecord, thresholdFingerprint string, adapterFingerprints map[string]string, registryTopicID string) (string, error) {
	sorted := make([]AdapterRecord, len(records))
	copy(sorted, records)
	SortRecords(sorted)
	h, err := canonical.Hash(stateHashInput{
		Records:              sorted,
		ThresholdFingerprint: thresholdFingerprint,
		AdapterFingerprints:  adapterFingerprints,
		RegistryTopicID:      registryTopicID,
	})
	if err != nil {
		return "", fmt.Errorf("proof: state hash: %w", err)
	}
	return h, nil
}

// Verify recomputes the state hash from the proof body and compares it
// with the declared one.
func (p *ProofPayload) Verify() error {
	h, err := StateHash(p.Records, p.ThresholdFingerprint, p.AdapterFingerprints, p.RegistryTopicID)
	if err != nil {
		return err
	}
	if h != p.StateHash {
		return fmt.Errorf("proof: state hash mismatch: declared %s computed %s", p.StateHash, h)
	}
	return nil
}

// SortRecords orders records by (adapterId, entityId) in place.
func SortRecords(records []AdapterRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].AdapterID != records[j].AdapterID {
			return records[i].AdapterID < records[j].AdapterID
		}
		return records[i].EntityID < records[j].EntityID
	})
}
