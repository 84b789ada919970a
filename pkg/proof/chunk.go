package proof

import "encoding/base64"

// SplitIntoChunks splits a serialized proof into n base64 chunk
// payloads sharing the proof's identity keys, in the framing the
// consumer's chunk intake reassembles. The petal scheduler posts whole
// proofs and does not call it.
func SplitIntoChunks(p *ProofPayload, raw []byte, n int) []*ChunkedProofPayload {
	if n < 1 {
		n = 1
	}
	size := (len(raw) + n - 1) / n
	out := make([]*ChunkedProofPayload, 0, n)
	for i := 0; i < n; i++ {
		start := i * size
		if start >= len(raw) {
			break
		}
		end := start + size
		if end > len(raw) {
			end = len(raw)
		}
		out = append(out, &ChunkedProofPayload{
			Epoch:          p.Epoch,
			PetalID:        p.PetalID,
			PetalAccountID: p.PetalAccountID,
			FloraAccountID: p.FloraAccountID,
			ChunkID:        i + 1,
			TotalChunks:    n,
			Data:           base64.StdEncoding.EncodeToString(raw[start:end]),
		})
	}
	if len(out) > 0 && len(out) < n {
		// Short input: re-number so total matches the emitted count.
		for _, c := range out {
			c.TotalChunks = len(out)
		}
	}
	return out
}
