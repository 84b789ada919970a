// Package store persists consensus history and bootstrap state in
// sqlite. Secrets written to app_state are wrapped with AES-256-GCM.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/floranet/petal-oracle/pkg/proof"

	_ "modernc.org/sqlite"
)

// History is the append-only consensus store plus a small key/value
// bootstrap map.
type History struct {
	db      *sql.DB
	secrets *SecretBox
}

// Open opens (or creates) the sqlite database at path. keySecret is the
// AEAD material for secret state values; it may be empty if no secrets
// will be written.
func Open(path, keySecret string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	h := &History{db: db}
	if keySecret != "" {
		box, err := NewSecretBox(keySecret)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		h.secrets = box
	}
	if err := h.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return h, nil
}

func (h *History) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS app_state (
			key TEXT PRIMARY KEY,
			value TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS consensus_entries (
			epoch INTEGER PRIMARY KEY,
			state_hash TEXT NOT NULL,
			price DOUBLE NOT NULL,
			timestamp TEXT NOT NULL,
			participants JSON,
			sources JSON,
			hcs_message TEXT,
			consensus_timestamp TEXT,
			sequence_number INTEGER
		)`,
	}
	for _, stmt := range statements {
		if _, err := h.db.ExecContext(context.Background(), stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (h *History) Close() error { return h.db.Close() }

// UpsertEntry inserts or replaces the consensus entry for its epoch.
func (h *History) UpsertEntry(ctx context.Context, e *proof.ConsensusEntry) error {
	participants, _ := json.Marshal(e.Participants)
	sources, _ := json.Marshal(e.Sources)

	query := `INSERT INTO consensus_entries
		(epoch, state_hash, price, timestamp, participants, sources, hcs_message, consensus_timestamp, sequence_number)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(epoch) DO UPDATE SET
			state_hash = excluded.state_hash,
			price = excluded.price,
			timestamp = excluded.timestamp,
			participants = excluded.participants,
			sources = excluded.sources,
			hcs_message = excluded.hcs_message,
			consensus_timestamp = excluded.consensus_timestamp,
			sequence_number = excluded.sequence_number`

	_, err := h.db.ExecContext(ctx, query,
		e.Epoch, e.StateHash, e.Price, e.Timestamp,
		string(participants), string(sources),
		e.HCSMessage, e.ConsensusTimestamp, e.SequenceNumber,
	)
	if err != nil {
		return fmt.Errorf("store: upsert epoch %d: %w", e.Epoch, err)
	}
	return nil
}

// LoadEntries returns all consensus entries sorted ascending by epoch.
func (h *History) LoadEntries(ctx context.Context) ([]*proof.ConsensusEntry, error) {
	query := `SELECT epoch, state_hash, price, timestamp, participants, sources,
		hcs_message, consensus_timestamp, sequence_number
		FROM consensus_entries ORDER BY epoch ASC`
	rows, err := h.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: load entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*proof.ConsensusEntry
	for rows.Next() {
		var e proof.ConsensusEntry
		var participants, sources sql.NullString
		var hcsMessage, consensusTimestamp sql.NullString
		var sequenceNumber sql.NullInt64
		if err := rows.Scan(&e.Epoch, &e.StateHash, &e.Price, &e.Timestamp,
			&participants, &sources, &hcsMessage, &consensusTimestamp, &sequenceNumber); err != nil {
			return nil, fmt.Errorf("store: scan entry: %w", err)
		}
		if participants.Valid && participants.String != "" {
			_ = json.Unmarshal([]byte(participants.String), &e.Participants)
		}
		if sources.Valid && sources.String != "" {
			_ = json.Unmarshal([]byte(sources.String), &e.Sources)
		}
		e.HCSMessage = hcsMessage.String
		e.ConsensusTimestamp = consensusTimestamp.String
		e.SequenceNumber = sequenceNumber.Int64
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetState reads a bootstrap state value. Missing keys return "".
func (h *History) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := h.db.QueryRowContext(ctx, `SELECT value FROM app_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: get state %s: %w", key, err)
	}
	if IsWrapped(value) {
		if h.secrets == nil {
			return "", fmt.Errorf("store: state %s is encrypted but no key material configured", key)
		}
		return h.secrets.Open(value)
	}
	return value, nil
}

// SetState writes a bootstrap state value.
func (h *History) SetState(ctx context.Context, key, value string) error {
	return h.putState(ctx, key, value)
}

// SetSecret writes a bootstrap state value wrapped with the AEAD.
func (h *History) SetSecret(ctx context.Context, key, value string) error {
	if h.secrets == nil {
		return errors.New("store: no key material configured for secrets")
	}
	wrapped, err := h.secrets.Seal(value)
	if err != nil {
		return err
	}
	return h.putState(ctx, key, wrapped)
}

func (h *History) putState(ctx context.Context, key, value string) error {
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO app_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("store: set state %s: %w", key, err)
	}
	return nil
}
