// Package consumer implements the flora consumer: proof intake, quorum
// aggregation, rotating-leader publication and mirror log tailing. All
// mutable state is owned by the Consumer and guarded by one mutex;
// HTTP handlers and background loops read consistent snapshots.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/floranet/petal-oracle/pkg/ledger"
	"github.com/floranet/petal-oracle/pkg/observability"
	"github.com/floranet/petal-oracle/pkg/proof"
	"github.com/floranet/petal-oracle/pkg/store"
)

// Config is the consumer's identity and policy.
type Config struct {
	FloraAccountID       string
	ThresholdFingerprint string
	RegistryTopicID      string

	FloraStateTopicID        string
	FloraCoordinationTopicID string
	FloraTransactionTopicID  string
	DiscoveryTopicID         string

	Quorum         int
	ExpectedPetals int

	// MemberAccountIDs is the full participant set when the bootstrap
	// store knows it; empty otherwise.
	MemberAccountIDs []string
	// PetalAccounts maps petal labels to account ids from the bootstrap
	// store; intake enforces the binding when present.
	PetalAccounts map[string]string

	// LeaderPublish enables the consolidated flora-topic publication.
	LeaderPublish bool

	PollInterval time.Duration

	// ValidationAttempts/ValidationDelay bound the petal state-topic
	// check before a consolidated publish (default 6 x 2 s).
	ValidationAttempts int
	ValidationDelay    time.Duration

	// BucketTail is how many consolidated epochs keep their proof
	// buckets around for late-arrival validation.
	BucketTail int64
}

type chunkKey struct {
	petalID string
	epoch   int64
}

type chunkBuffer struct {
	total  int
	parts  map[int]string
	record time.Time
}

// petalState is what the roster endpoint reports per petal.
type petalState struct {
	AccountID    string
	StateTopicID string
	Adapters     map[string]string // adapterId -> fingerprint
}

// epochMetadata is log metadata observed for an epoch, possibly before
// the epoch's consensus entry exists.
type epochMetadata struct {
	ConsensusTimestamp string
	SequenceNumber     int64
}

// Consumer owns the aggregation state machine.
type Consumer struct {
	cfg    Config
	log    *slog.Logger
	reader ledger.Reader
	submit ledger.Submitter
	db     *store.History
	meter  *observability.Meter

	mu sync.Mutex
	// buckets holds proofs per epoch in arrival order.
	buckets map[int64][]*proof.ProofPayload
	// accepted dedupes assembled proofs per (petalId, epoch).
	accepted map[chunkKey]string
	// chunks buffers partial chunked payloads per (petalId, epoch).
	chunks map[chunkKey]*chunkBuffer
	// topicBindings pins petalId -> petalStateTopicId for the run.
	topicBindings map[string]string
	// petals tracks roster state seen this run.
	petals map[string]*petalState
	// metadata holds log metadata per epoch, set exactly once.
	metadata map[int64]*epochMetadata
	// history is kept sorted ascending by epoch.
	history []*proof.ConsensusEntry
	byEpoch map[int64]*proof.ConsensusEntry
	// published marks epochs whose consolidated message landed.
	published map[int64]bool
	// inFlight coalesces publications per epoch.
	inFlight map[int64]bool
	// retryTimers holds the pending publish retry per epoch.
	retryTimers map[int64]*time.Timer
	// pendingMeta is the FIFO of epochs awaiting log metadata.
	pendingMeta []int64
	// maxConsolidated tracks the newest consolidated epoch for bucket GC.
	maxConsolidated int64

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// New constructs a Consumer. reader is required; submit may be nil when
// leader publishing is disabled; db may be nil for an in-memory run.
func New(cfg Config, reader ledger.Reader, submit ledger.Submitter, db *store.History, meter *observability.Meter, log *slog.Logger) (*Consumer, error) {
	if cfg.FloraAccountID == "" {
		return nil, errors.New("consumer: flora account id missing")
	}
	if cfg.FloraStateTopicID == "" || cfg.FloraCoordinationTopicID == "" || cfg.FloraTransactionTopicID == "" {
		return nil, errors.New("consumer: state/coordination/transaction topic ids missing")
	}
	if cfg.Quorum < 1 {
		cfg.Quorum = 2
	}
	if cfg.ExpectedPetals < 1 {
		cfg.ExpectedPetals = 3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.ValidationAttempts <= 0 {
		cfg.ValidationAttempts = 6
	}
	if cfg.ValidationDelay <= 0 {
		cfg.ValidationDelay = 2 * time.Second
	}
	if cfg.BucketTail <= 0 {
		cfg.BucketTail = 16
	}
	if cfg.LeaderPublish && submit == nil {
		return nil, errors.New("consumer: leader publishing enabled without a submitter")
	}
	if log == nil {
		log = slog.Default()
	}
	if meter == nil {
		meter = observability.Noop()
	}

	c := &Consumer{
		cfg:             cfg,
		log:             log,
		reader:          reader,
		submit:          submit,
		db:              db,
		meter:           meter,
		buckets:         make(map[int64][]*proof.ProofPayload),
		accepted:        make(map[chunkKey]string),
		chunks:          make(map[chunkKey]*chunkBuffer),
		topicBindings:   make(map[string]string),
		petals:          make(map[string]*petalState),
		metadata:        make(map[int64]*epochMetadata),
		byEpoch:         make(map[int64]*proof.ConsensusEntry),
		published:       make(map[int64]bool),
		inFlight:        make(map[int64]bool),
		retryTimers:     make(map[int64]*time.Timer),
		maxConsolidated: -1,
		stopCh:          make(chan struct{}),
	}
	if err := c.loadHistory(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Consumer) loadHistory() error {
	if c.db == nil {
		return nil
	}
	entries, err := c.db.LoadEntries(context.Background())
	if err != nil {
		return err
	}
	c.history = entries
	for _, e := range entries {
		c.byEpoch[e.Epoch] = e
		if e.Epoch > c.maxConsolidated {
			c.maxConsolidated = e.Epoch
		}
		if e.ConsensusTimestamp != "" {
			// Entries that already landed need no further publication.
			c.published[e.Epoch] = true
		}
	}
	return nil
}

// Start launches the log tailer.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.runTailer(ctx)
}

// Stop shuts down the tailer and cancels pending retry timers. In-flight
// network calls drain on their own contexts.
func (c *Consumer) Stop() {
	c.stopped.Do(func() { close(c.stopCh) })
	c.mu.Lock()
	for epoch, t := range c.retryTimers {
		t.Stop()
		delete(c.retryTimers, epoch)
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// LatestEntry returns the newest consensus entry, preferring published
// entries when leader publishing is enabled.
func (c *Consumer) LatestEntry() *proof.ConsensusEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.history) - 1; i >= 0; i-- {
		e := c.history[i]
		if !c.cfg.LeaderPublish || c.published[e.Epoch] {
			return cloneEntry(e)
		}
	}
	return nil
}

// HistoryWindow returns total count plus a newest-first window of
// consensus entries.
func (c *Consumer) HistoryWindow(offset, limit int) (int, []*proof.ConsensusEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := len(c.history)
	if offset < 0 {
		offset = 0
	}
	out := make([]*proof.ConsensusEntry, 0, limit)
	for i := total - 1 - offset; i >= 0 && len(out) < limit; i-- {
		e := cloneEntry(c.history[i])
		if e.HCSMessage == "" {
			e.HCSMessage = "hcs://17/" + c.cfg.FloraStateTopicID
		}
		out = append(out, e)
	}
	return total, out
}

// PetalRoster is the per-petal view for the adapters endpoint.
type PetalRoster struct {
	PetalID      string            `json:"petalId"`
	AccountID    string            `json:"accountId"`
	StateTopicID string            `json:"stateTopicId,omitempty"`
	PublicKey    string            `json:"publicKey,omitempty"`
	KeyType      string            `json:"keyType,omitempty"`
	Adapters     []string          `json:"adapters"`
	Fingerprints map[string]string `json:"fingerprints"`
}

// Roster snapshots petal state seen this run; account keys are resolved
// through the reader (normally wrapped in the 5-minute key cache).
func (c *Consumer) Roster(ctx context.Context) []PetalRoster {
	c.mu.Lock()
	ids := make([]string, 0, len(c.petals))
	for id := range c.petals {
		ids = append(ids, id)
	}
	snapshot := make(map[string]petalState, len(ids))
	for _, id := range ids {
		p := c.petals[id]
		adapters := make(map[string]string, len(p.Adapters))
		for k, v := range p.Adapters {
			adapters[k] = v
		}
		snapshot[id] = petalState{AccountID: p.AccountID, StateTopicID: p.StateTopicID, Adapters: adapters}
	}
	c.mu.Unlock()

	out := make([]PetalRoster, 0, len(ids))
	for _, id := range proof.SortAccountIDs(ids) {
		p := snapshot[id]
		r := PetalRoster{
			PetalID:      id,
			AccountID:    p.AccountID,
			StateTopicID: p.StateTopicID,
			Fingerprints: p.Adapters,
		}
		for a := range p.Adapters {
			r.Adapters = append(r.Adapters, a)
		}
		sort.Strings(r.Adapters)
		if key, err := c.reader.AccountKey(ctx, p.AccountID); err == nil {
			r.PublicKey = key.PublicKey
			r.KeyType = key.KeyType
		}
		out = append(out, r)
	}
	return out
}

// TopicIDs reports the flora topic set for the roster endpoint and the
// consolidated message.
func (c *Consumer) TopicIDs() []string {
	topics := []string{
		c.cfg.FloraStateTopicID,
		c.cfg.FloraCoordinationTopicID,
		c.cfg.FloraTransactionTopicID,
	}
	if c.cfg.RegistryTopicID != "" {
		topics = append(topics, c.cfg.RegistryTopicID)
	}
	if c.cfg.DiscoveryTopicID != "" {
		topics = append(topics, c.cfg.DiscoveryTopicID)
	}
	return topics
}

func cloneEntry(e *proof.ConsensusEntry) *proof.ConsensusEntry {
	out := *e
	out.Participants = append([]string(nil), e.Participants...)
	out.Sources = append([]proof.SourcePrice(nil), e.Sources...)
	return &out
}
