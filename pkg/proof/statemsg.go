package proof

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// StateMessage is the JSON body published to a state topic. Petals emit
// the minimal form; the flora consolidated message also carries price,
// threshold fingerprint and participants.
type StateMessage struct {
	Protocol             string   `json:"p"`
	Op                   string   `json:"op"`
	Memo                 string   `json:"m"`
	AccountID            string   `json:"account_id"`
	StateHash            string   `json:"state_hash"`
	Topics               []string `json:"topics"`
	Epoch                *int64   `json:"epoch,omitempty"`
	Price                *float64 `json:"price,omitempty"`
	ThresholdFingerprint string   `json:"threshold_fingerprint,omitempty"`
	Participants         []string `json:"participants,omitempty"`
}

const (
	// StateProtocol identifies state-hash messages on a topic.
	StateProtocol = "hcs-17"
	// StateOp is the only operation the oracle publishes.
	StateOp = "state_hash"
)

// EpochMemo renders the "hcs17:<epoch>" memo that ties a state message
// to its epoch.
func EpochMemo(epoch int64) string {
	return fmt.Sprintf("hcs17:%d", epoch)
}

// MemoEpoch parses an epoch out of an "hcs17:<epoch>" memo.
func MemoEpoch(memo string) (int64, bool) {
	rest, ok := strings.CutPrefix(memo, "hcs17:")
	if !ok {
		return 0, false
	}
	e, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return e, true
}

// PetalStateMessage builds the per-petal topic message for a proof.
func PetalStateMessage(p *ProofPayload) *StateMessage {
	epoch := p.Epoch
	return &StateMessage{
		Protocol:  StateProtocol,
		Op:        StateOp,
		Memo:      EpochMemo(p.Epoch),
		AccountID: p.PetalAccountID,
		StateHash: p.StateHash,
		Topics:    []string{p.PetalStateTopicID},
		Epoch:     &epoch,
	}
}

// FloraStateMessage builds the consolidated consensus message.
func FloraStateMessage(entry *ConsensusEntry, floraAccountID, thresholdFingerprint string, topics []string) *StateMessage {
	epoch := entry.Epoch
	price := entry.Price
	return &StateMessage{
		Protocol:             StateProtocol,
		Op:                   StateOp,
		Memo:                 EpochMemo(entry.Epoch),
		AccountID:            floraAccountID,
		StateHash:            entry.StateHash,
		Topics:               topics,
		Epoch:                &epoch,
		Price:                &price,
		ThresholdFingerprint: thresholdFingerprint,
		Participants:         entry.Participants,
	}
}

// DecodeStateMessage parses a topic message body. Returns false when the
// body is not a state-hash message.
func DecodeStateMessage(raw []byte) (*StateMessage, bool) {
	var m StateMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	if m.Protocol != StateProtocol || m.Op != StateOp || m.StateHash == "" {
		return nil, false
	}
	return &m, true
}

// MatchesProof reports whether a decoded state message is the petal's
// publication for the given proof.
func (m *StateMessage) MatchesProof(p *ProofPayload) bool {
	if m.StateHash != p.StateHash || m.AccountID != p.PetalAccountID {
		return false
	}
	if m.Epoch != nil && *m.Epoch == p.Epoch {
		return true
	}
	return m.Memo == EpochMemo(p.Epoch)
}
