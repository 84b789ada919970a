// Command petal runs one petal worker: it samples the adapter set every
// epoch, publishes its state hash, and posts the proof to the consumer.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/floranet/petal-oracle/pkg/adapters"
	"github.com/floranet/petal-oracle/pkg/config"
	"github.com/floranet/petal-oracle/pkg/ledger"
	"github.com/floranet/petal-oracle/pkg/observability"
	"github.com/floranet/petal-oracle/pkg/petal"
	"github.com/floranet/petal-oracle/pkg/proof"
	"github.com/floranet/petal-oracle/pkg/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	log := observability.NewLogger(cfg.LogLevel)
	if err := cfg.ValidatePetal(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DatabasePath, cfg.PetalKeySecret)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	manifest, err := adapters.LoadManifest(cfg.AdapterManifest)
	if err != nil {
		return err
	}
	timeout := time.Duration(cfg.AdapterTimeoutMs) * time.Millisecond
	set, err := manifest.Build(timeout)
	if err != nil {
		return err
	}
	shutdownMetrics, err := observability.Setup("petal-worker")
	if err != nil {
		return err
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()
	meter, err := observability.NewMeter()
	if err != nil {
		return err
	}
	runner := adapters.NewRunner(set, timeout, log).WithMeter(meter)

	origin, err := petal.ResolveEpochOrigin(ctx, db, time.Now())
	if err != nil {
		return err
	}

	participants := cfg.FloraMemberAccounts
	if len(participants) == 0 {
		participants = cfg.FloraParticipants
	}
	builder, err := proof.NewBuilder(proof.BuilderConfig{
		EpochOriginMs:        origin,
		BlockTimeMs:          cfg.BlockTimeMs,
		ThresholdFingerprint: cfg.ThresholdFingerprint,
		AdapterFingerprints:  manifest.Fingerprints(),
		RegistryTopicID:      cfg.RegistryTopicID,
		FloraAccountID:       cfg.FloraAccountID,
		PetalID:              cfg.PetalID,
		PetalAccountID:       cfg.PetalAccountID,
		PetalStateTopicID:    cfg.PetalStateTopicID,
		Participants:         participants,
	})
	if err != nil {
		return err
	}

	var submitter ledger.Submitter
	publishStateTopic := cfg.PublishStateTopic
	if publishStateTopic {
		if cfg.LedgerRelayURL == "" || cfg.PetalStateTopicID == "" {
			log.Warn("state topic publication disabled: relay url or state topic missing")
			publishStateTopic = false
		} else {
			submitter = ledger.NewRelayClient(cfg.LedgerRelayURL)
		}
	}

	scheduler, err := petal.NewScheduler(petal.SchedulerConfig{
		EpochOriginMs:     origin,
		BlockTime:         time.Duration(cfg.BlockTimeMs) * time.Millisecond,
		ConsumerURL:       cfg.ConsumerURL,
		PublishStateTopic: publishStateTopic,
		StateTopicID:      cfg.PetalStateTopicID,
		AccountID:         cfg.PetalAccountID,
	}, runner, builder, submitter, log)
	if err != nil {
		return err
	}

	log.Info("petal running",
		"petal", cfg.PetalID, "account", cfg.PetalAccountID,
		"blockTimeMs", cfg.BlockTimeMs, "adapters", runner.Adapters(),
		"publishStateTopic", publishStateTopic)

	scheduler.Start(ctx)
	<-ctx.Done()
	scheduler.Stop()
	return nil
}
