package proof

import (
	"errors"
	"time"
)

// EpochTimestampLayout matches the millisecond ISO-8601 form the petals
// stamp on records and proofs.
const EpochTimestampLayout = "2006-01-02T15:04:05.000Z"

// BuilderConfig is the per-petal identity and flora membership material
// a proof commits to.
type BuilderConfig struct {
	EpochOriginMs        int64
	BlockTimeMs          int64
	ThresholdFingerprint string
	AdapterFingerprints  map[string]string
	RegistryTopicID      string
	FloraAccountID       string
	PetalID              string
	PetalAccountID       string
	PetalStateTopicID    string
	Participants         []string
}

// Builder assembles proof payloads for a single petal.
type Builder struct {
	cfg BuilderConfig
}

// NewBuilder validates the identity material and returns a Builder.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if cfg.BlockTimeMs <= 0 {
		return nil, errors.New("proof: block time must be positive")
	}
	if cfg.PetalID == "" || cfg.PetalAccountID == "" {
		return nil, errors.New("proof: petal identity missing")
	}
	if cfg.FloraAccountID == "" {
		return nil, errors.New("proof: flora account id missing")
	}
	return &Builder{cfg: cfg}, nil
}

// EpochTimestamp derives the canonical timestamp for an epoch. It is a
// pure function of the epoch so that petals hashing the same adapter
// data agree byte-for-byte.
func (b *Builder) EpochTimestamp(epoch int64) string {
	ms := b.cfg.EpochOriginMs + epoch*b.cfg.BlockTimeMs
	return time.UnixMilli(ms).UTC().Format(EpochTimestampLayout)
}

// Build re-stamps the records with the epoch timestamp, sorts them, and
// packages the proof envelope with its state hash.
func (b *Builder) Build(epoch int64, records []AdapterRecord) (*ProofPayload, error) {
	if epoch < 0 {
		return nil, errors.New("proof: negative epoch")
	}
	ts := b.EpochTimestamp(epoch)
	stamped := make([]AdapterRecord, len(records))
	copy(stamped, records)
	for i := range stamped {
		stamped[i].Timestamp = ts
	}
	SortRecords(stamped)

	stateHash, err := StateHash(stamped, b.cfg.ThresholdFingerprint, b.cfg.AdapterFingerprints, b.cfg.RegistryTopicID)
	if err != nil {
		return nil, err
	}

	return &ProofPayload{
		Epoch:                epoch,
		StateHash:            stateHash,
		ThresholdFingerprint: b.cfg.ThresholdFingerprint,
		PetalID:              b.cfg.PetalID,
		PetalAccountID:       b.cfg.PetalAccountID,
		PetalStateTopicID:    b.cfg.PetalStateTopicID,
		FloraAccountID:       b.cfg.FloraAccountID,
		Participants:         SortAccountIDs(b.cfg.Participants),
		Records:              stamped,
		AdapterFingerprints:  b.cfg.AdapterFingerprints,
		RegistryTopicID:      b.cfg.RegistryTopicID,
		Timestamp:            ts,
	}, nil
}
