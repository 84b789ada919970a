// Package bootstrap resolves the flora's topic ids: created once on
// first boot through the ledger client, then cached in the history
// store's app_state map and reused across restarts.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/floranet/petal-oracle/pkg/ledger"
	"github.com/floranet/petal-oracle/pkg/store"
)

const (
	keyRunID              = "bootstrap_run_id"
	keyStateTopic         = "flora_state_topic_id"
	keyCoordinationTopic  = "flora_coordination_topic_id"
	keyTransactionTopic   = "flora_transaction_topic_id"
	keyOperatorKey        = "operator_key"
	petalAccountKeyPrefix = "petal_account:"
)

// Topics is the provisioned flora topic set.
type Topics struct {
	StateTopicID        string
	CoordinationTopicID string
	TransactionTopicID  string
}

// Bootstrapper provisions or loads the flora's ledger resources.
type Bootstrapper struct {
	admin ledger.TopicAdmin
	db    *store.History
	log   *slog.Logger
}

// New builds a Bootstrapper.
func New(admin ledger.TopicAdmin, db *store.History, log *slog.Logger) *Bootstrapper {
	if log == nil {
		log = slog.Default()
	}
	return &Bootstrapper{admin: admin, db: db, log: log}
}

// EnsureTopics returns the flora topic ids. Configured ids win; missing
// ones are served from the cache or created once and cached.
func (b *Bootstrapper) EnsureTopics(ctx context.Context, configured Topics) (Topics, error) {
	out := configured
	var err error
	if out.StateTopicID, err = b.ensureTopic(ctx, keyStateTopic, configured.StateTopicID, "flora state"); err != nil {
		return out, err
	}
	if out.CoordinationTopicID, err = b.ensureTopic(ctx, keyCoordinationTopic, configured.CoordinationTopicID, "flora coordination"); err != nil {
		return out, err
	}
	if out.TransactionTopicID, err = b.ensureTopic(ctx, keyTransactionTopic, configured.TransactionTopicID, "flora transaction"); err != nil {
		return out, err
	}
	if err := b.ensureRunID(ctx); err != nil {
		return out, err
	}
	return out, nil
}

func (b *Bootstrapper) ensureTopic(ctx context.Context, stateKey, configured, memo string) (string, error) {
	if configured != "" {
		if err := b.db.SetState(ctx, stateKey, configured); err != nil {
			return "", err
		}
		return configured, nil
	}
	cached, err := b.db.GetState(ctx, stateKey)
	if err != nil {
		return "", err
	}
	if cached != "" {
		return cached, nil
	}
	id, err := b.admin.CreateTopic(ctx, memo)
	if err != nil {
		return "", fmt.Errorf("bootstrap: create %s topic: %w", memo, err)
	}
	if err := b.db.SetState(ctx, stateKey, id); err != nil {
		return "", err
	}
	b.log.Info("topic provisioned", "memo", memo, "topic", id)
	return id, nil
}

func (b *Bootstrapper) ensureRunID(ctx context.Context) error {
	existing, err := b.db.GetState(ctx, keyRunID)
	if err != nil {
		return err
	}
	if existing != "" {
		return nil
	}
	return b.db.SetState(ctx, keyRunID, uuid.NewString())
}

// StoreOperatorKey persists the operator key wrapped with the AEAD.
func (b *Bootstrapper) StoreOperatorKey(ctx context.Context, key string) error {
	return b.db.SetSecret(ctx, keyOperatorKey, key)
}

// OperatorKey loads the wrapped operator key.
func (b *Bootstrapper) OperatorKey(ctx context.Context) (string, error) {
	return b.db.GetState(ctx, keyOperatorKey)
}

// BindPetalAccount records a petal label to account binding.
func (b *Bootstrapper) BindPetalAccount(ctx context.Context, petalID, accountID string) error {
	return b.db.SetState(ctx, petalAccountKeyPrefix+petalID, accountID)
}

// PetalAccounts resolves the bindings for the given petal labels.
// Unknown labels are simply absent from the result.
func (b *Bootstrapper) PetalAccounts(ctx context.Context, petalIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(petalIDs))
	for _, id := range petalIDs {
		acct, err := b.db.GetState(ctx, petalAccountKeyPrefix+id)
		if err != nil {
			return nil, err
		}
		if acct != "" {
			out[id] = acct
		}
	}
	return out, nil
}
