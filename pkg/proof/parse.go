package proof

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// ValidationError is a structured reject reason produced at the proof
// boundary. Reason strings are stable and machine-readable.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func rejectf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Submission is the decoded form of a POST /proof body: exactly one of
// Whole or Chunk is set.
type Submission struct {
	Whole *ProofPayload
	Chunk *ChunkedProofPayload
}

// ParseSubmission decodes a raw proof submission into either a whole
// ProofPayload or a ChunkedProofPayload, validating structure and
// semantic types. A mistyped field is a reject. A whole proof is also
// rejected when epoch is missing or when stateHash, thresholdFingerprint,
// petalId, petalAccountId, floraAccountId, registryTopicId, participants
// or records are missing or empty; petalStateTopicId, timestamp,
// adapterFingerprints and the per-record timestamp and sourceFingerprint
// may be absent and then decode as empty values. A chunk needs epoch,
// petalId, chunk_id, total_chunks and data.
func ParseSubmission(raw []byte) (*Submission, error) {
	var probe map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&probe); err != nil {
		return nil, rejectf("malformed json")
	}

	if _, chunked := probe["chunk_id"]; chunked {
		c, err := parseChunk(raw, probe)
		if err != nil {
			return nil, err
		}
		return &Submission{Chunk: c}, nil
	}
	p, err := ParseProofPayload(raw)
	if err != nil {
		return nil, err
	}
	return &Submission{Whole: p}, nil
}

// ParseProofPayload decodes and structurally validates a whole proof.
func ParseProofPayload(raw []byte) (*ProofPayload, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, rejectf("malformed proof payload")
	}
	if v, ok := probe["epoch"]; !ok || string(v) == "null" {
		return nil, rejectf("epoch missing")
	}
	var p ProofPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, rejectf("malformed proof payload")
	}
	if err := p.validateStructure(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *ProofPayload) validateStructure() error {
	switch {
	case p.Epoch < 0:
		return rejectf("epoch must be a non-negative integer")
	case len(p.StateHash) != 96:
		return rejectf("stateHash must be a hex SHA-384 digest")
	case p.ThresholdFingerprint == "":
		return rejectf("thresholdFingerprint missing")
	case p.PetalID == "":
		return rejectf("petalId missing")
	case p.PetalAccountID == "":
		return rejectf("petalAccountId missing")
	case p.FloraAccountID == "":
		return rejectf("floraAccountId missing")
	case p.RegistryTopicID == "":
		return rejectf("registryTopicId missing")
	case len(p.Participants) == 0:
		return rejectf("participants missing")
	case len(p.Records) == 0:
		return rejectf("records missing")
	}
	for i := range p.Records {
		r := &p.Records[i]
		if r.AdapterID == "" || r.EntityID == "" {
			return rejectf("record %d missing adapterId/entityId", i)
		}
		if r.Payload == nil {
			return rejectf("record %d missing payload", i)
		}
		price, ok := r.Price()
		if !ok {
			return rejectf("record %d missing numeric price", i)
		}
		if math.IsNaN(price) || math.IsInf(price, 0) {
			return rejectf("record %d price is not finite", i)
		}
	}
	return nil
}

func parseChunk(raw []byte, probe map[string]json.RawMessage) (*ChunkedProofPayload, error) {
	var c ChunkedProofPayload
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, rejectf("malformed chunked payload")
	}
	if _, ok := probe["total_chunks"]; !ok {
		return nil, rejectf("total_chunks missing")
	}
	if v, ok := probe["epoch"]; !ok || string(v) == "null" {
		return nil, rejectf("epoch missing")
	}
	switch {
	case c.Epoch < 0:
		return nil, rejectf("epoch must be a non-negative integer")
	case c.PetalID == "":
		return nil, rejectf("petalId missing")
	case c.TotalChunks < 1:
		return nil, rejectf("total_chunks must be >= 1")
	case c.ChunkID < 1 || c.ChunkID > c.TotalChunks:
		return nil, rejectf("chunk_id out of range")
	case c.Data == "":
		return nil, rejectf("chunk data missing")
	}
	return &c, nil
}
