// Command consumer runs the flora consumer: proof intake over HTTP,
// quorum aggregation, rotating-leader publication and mirror tailing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/floranet/petal-oracle/pkg/bootstrap"
	"github.com/floranet/petal-oracle/pkg/config"
	"github.com/floranet/petal-oracle/pkg/consumer"
	"github.com/floranet/petal-oracle/pkg/httpapi"
	"github.com/floranet/petal-oracle/pkg/ledger"
	"github.com/floranet/petal-oracle/pkg/observability"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DatabasePath, cfg.PetalKeySecret)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	mirror := ledger.NewMirrorClient(cfg.MirrorBaseURL)
	keys := ledger.NewKeyCache(mirror, 128, 5*time.Minute)

	var relay *ledger.RelayClient
	if cfg.LedgerRelayURL != "" {
		relay = ledger.NewRelayClient(cfg.LedgerRelayURL)
	}

	// Resolve topic ids: configured values win, otherwise cached or
	// provisioned through the relay on first boot.
	if relay != nil {
		topics, err := bootstrap.New(relay, db, log).EnsureTopics(ctx, bootstrap.Topics{
			StateTopicID:        cfg.FloraStateTopicID,
			CoordinationTopicID: cfg.FloraCoordinationTopicID,
			TransactionTopicID:  cfg.FloraTransactionTopicID,
		})
		if err != nil {
			return err
		}
		cfg.FloraStateTopicID = topics.StateTopicID
		cfg.FloraCoordinationTopicID = topics.CoordinationTopicID
		cfg.FloraTransactionTopicID = topics.TransactionTopicID
	}
	if err := cfg.ValidateConsumer(); err != nil {
		return err
	}

	petalAccounts, err := bootstrap.New(relay, db, log).PetalAccounts(ctx, cfg.FloraParticipants)
	if err != nil {
		return err
	}
	memberAccounts := cfg.FloraMemberAccounts
	if len(memberAccounts) == 0 && len(petalAccounts) == len(cfg.FloraParticipants) && len(petalAccounts) > 0 {
		for _, acct := range petalAccounts {
			memberAccounts = append(memberAccounts, acct)
		}
	}

	shutdownMetrics, err := observability.Setup("flora-consumer")
	if err != nil {
		return err
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()
	meter, err := observability.NewMeter()
	if err != nil {
		return err
	}

	var submitter ledger.Submitter
	if relay != nil {
		submitter = relay
	}
	leaderPublish := cfg.LeaderPublish && submitter != nil

	c, err := consumer.New(consumer.Config{
		FloraAccountID:           cfg.FloraAccountID,
		ThresholdFingerprint:     cfg.ThresholdFingerprint,
		RegistryTopicID:          cfg.RegistryTopicID,
		FloraStateTopicID:        cfg.FloraStateTopicID,
		FloraCoordinationTopicID: cfg.FloraCoordinationTopicID,
		FloraTransactionTopicID:  cfg.FloraTransactionTopicID,
		DiscoveryTopicID:         cfg.DiscoveryTopicID,
		Quorum:                   cfg.Quorum,
		ExpectedPetals:           cfg.ExpectedPetals,
		MemberAccountIDs:         memberAccounts,
		PetalAccounts:            petalAccounts,
		LeaderPublish:            leaderPublish,
		PollInterval:             time.Duration(cfg.PollIntervalMs) * time.Millisecond,
	}, keys, submitter, db, meter, log)
	if err != nil {
		return err
	}

	c.Start(ctx)
	defer c.Stop()

	server := httpapi.NewServer(c, httpapi.Meta{
		Network:         cfg.Network,
		FloraAccountID:  cfg.FloraAccountID,
		RegistryTopicID: cfg.RegistryTopicID,
	}, log)

	log.Info("consumer listening",
		"port", cfg.Port, "quorum", cfg.Quorum, "expectedPetals", cfg.ExpectedPetals,
		"leaderPublish", leaderPublish, "stateTopic", cfg.FloraStateTopicID)
	return server.Serve(ctx, ":"+cfg.Port)
}
