// Package petal drives a single petal worker: an epoch loop that samples
// the adapter set, builds the epoch proof, publishes the petal's state
// hash, and posts the proof to the flora consumer.
package petal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/floranet/petal-oracle/pkg/adapters"
	"github.com/floranet/petal-oracle/pkg/ledger"
	"github.com/floranet/petal-oracle/pkg/proof"
	"github.com/floranet/petal-oracle/pkg/store"
)

const epochOriginKey = "epoch_origin_ms"

// ResolveEpochOrigin loads the persisted epoch origin, creating it on
// first boot. A persisted origin in the future is clamped to now so a
// clock step backwards cannot produce future epochs.
func ResolveEpochOrigin(ctx context.Context, db *store.History, now time.Time) (int64, error) {
	nowMs := now.UnixMilli()
	if db == nil {
		return nowMs, nil
	}
	v, err := db.GetState(ctx, epochOriginKey)
	if err != nil {
		return 0, err
	}
	if v == "" {
		if err := db.SetState(ctx, epochOriginKey, strconv.FormatInt(nowMs, 10)); err != nil {
			return 0, err
		}
		return nowMs, nil
	}
	origin, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("petal: corrupt %s value %q", epochOriginKey, v)
	}
	if origin > nowMs {
		origin = nowMs
		if err := db.SetState(ctx, epochOriginKey, strconv.FormatInt(origin, 10)); err != nil {
			return 0, err
		}
	}
	return origin, nil
}

// SchedulerConfig wires one petal's epoch loop.
type SchedulerConfig struct {
	EpochOriginMs     int64
	BlockTime         time.Duration
	ConsumerURL       string
	PublishStateTopic bool
	StateTopicID      string
	AccountID         string
}

// Scheduler is the single-threaded epoch loop.
type Scheduler struct {
	cfg     SchedulerConfig
	runner  *adapters.Runner
	builder *proof.Builder
	submit  ledger.Submitter
	httpc   *http.Client
	log     *slog.Logger

	lastEpoch int64
	now       func() time.Time

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewScheduler builds a scheduler. submit may be nil when state-topic
// publication is disabled.
func NewScheduler(cfg SchedulerConfig, runner *adapters.Runner, builder *proof.Builder, submit ledger.Submitter, log *slog.Logger) (*Scheduler, error) {
	if cfg.BlockTime <= 0 {
		return nil, fmt.Errorf("petal: block time must be positive")
	}
	if cfg.ConsumerURL == "" {
		return nil, fmt.Errorf("petal: consumer url missing")
	}
	if cfg.PublishStateTopic && (submit == nil || cfg.StateTopicID == "") {
		return nil, fmt.Errorf("petal: state topic publication enabled without submitter/topic")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cfg:       cfg,
		runner:    runner,
		builder:   builder,
		submit:    submit,
		httpc:     &http.Client{Timeout: 10 * time.Second},
		log:       log,
		lastEpoch: -1,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}, nil
}

// Start runs the epoch loop until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.BlockTime)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop halts the timer and waits for the current tick and any
// state-topic submissions still in flight, each bounded by its own
// timeout.
func (s *Scheduler) Stop() {
	s.stopped.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Tick runs at most one epoch. Ticks landing inside an already-processed
// epoch are no-ops.
func (s *Scheduler) Tick(ctx context.Context) {
	epoch := (s.now().UnixMilli() - s.cfg.EpochOriginMs) / s.cfg.BlockTime.Milliseconds()
	if epoch <= s.lastEpoch {
		return
	}
	s.lastEpoch = epoch

	records, err := s.runner.Run(ctx)
	if err != nil {
		s.log.Warn("epoch skipped", "epoch", epoch, "err", err)
		return
	}
	p, err := s.builder.Build(epoch, records)
	if err != nil {
		s.log.Warn("proof build failed", "epoch", epoch, "err", err)
		return
	}

	if s.cfg.PublishStateTopic {
		// Fire and forget: a state-topic failure is logged but never
		// blocks the proof post.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.publishStateHash(p)
		}()
	}

	if err := s.postProof(ctx, p); err != nil {
		s.log.Warn("proof post failed", "epoch", epoch, "err", err)
		return
	}
	s.log.Info("proof submitted", "epoch", epoch, "stateHash", p.StateHash)
}

func (s *Scheduler) publishStateHash(p *proof.ProofPayload) {
	msg := proof.PetalStateMessage(p)
	payload, err := json.Marshal(msg)
	if err != nil {
		s.log.Warn("state message marshal failed", "epoch", p.Epoch, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := s.submit.SubmitMessage(ctx, s.cfg.StateTopicID, payload, s.cfg.AccountID); err != nil {
		s.log.Warn("state topic publish failed", "epoch", p.Epoch, "topic", s.cfg.StateTopicID, "err", err)
	}
}

func (s *Scheduler) postProof(ctx context.Context, p *proof.ProofPayload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("petal: marshal proof: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.ConsumerURL+"/proof", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("petal: consumer returned %d", resp.StatusCode)
	}
	return nil
}
