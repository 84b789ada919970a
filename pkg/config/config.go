// Package config loads oracle configuration from environment variables.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

// Config holds the shared petal/consumer configuration.
type Config struct {
	Network  string
	Port     string
	LogLevel string

	OperatorID  string
	OperatorKey string

	FloraAccountID       string
	FloraParticipants    []string
	FloraMemberAccounts  []string
	FloraThreshold       int
	ThresholdFingerprint string
	LeaderPublish        bool
	LedgerRelayURL       string

	FloraStateTopicID        string
	FloraCoordinationTopicID string
	FloraTransactionTopicID  string
	RegistryTopicID          string
	DiscoveryTopicID         string

	PetalID           string
	PetalAccountID    string
	PetalStateTopicID string
	PetalKeySecret    string
	PublishStateTopic bool

	ConsumerURL     string
	MirrorBaseURL   string
	DatabasePath    string
	AdapterManifest string

	BlockTimeMs      int64
	Quorum           int
	ExpectedPetals   int
	PollIntervalMs   int64
	AdapterTimeoutMs int64
}

// Load reads configuration from the environment, applying defaults.
func Load() *Config {
	return &Config{
		Network:  getenv("HEDERA_NETWORK", "testnet"),
		Port:     getenv("PORT", "8080"),
		LogLevel: getenv("LOG_LEVEL", "INFO"),

		OperatorID:  os.Getenv("OPERATOR_ID"),
		OperatorKey: os.Getenv("OPERATOR_KEY"),

		FloraAccountID:       os.Getenv("FLORA_ACCOUNT_ID"),
		FloraParticipants:    splitList(os.Getenv("FLORA_PARTICIPANTS")),
		FloraMemberAccounts:  splitList(os.Getenv("FLORA_MEMBER_ACCOUNTS")),
		FloraThreshold:       getint(os.Getenv("FLORA_THRESHOLD"), 2),
		ThresholdFingerprint: os.Getenv("THRESHOLD_FINGERPRINT"),
		LeaderPublish:        getbool(os.Getenv("LEADER_PUBLISH"), true),
		LedgerRelayURL:       os.Getenv("LEDGER_RELAY_URL"),

		FloraStateTopicID:        os.Getenv("FLORA_STATE_TOPIC_ID"),
		FloraCoordinationTopicID: os.Getenv("FLORA_COORDINATION_TOPIC_ID"),
		FloraTransactionTopicID:  os.Getenv("FLORA_TRANSACTION_TOPIC_ID"),
		RegistryTopicID:          os.Getenv("REGISTRY_TOPIC_ID"),
		DiscoveryTopicID:         os.Getenv("DISCOVERY_TOPIC_ID"),

		PetalID:           os.Getenv("PETAL_ID"),
		PetalAccountID:    os.Getenv("PETAL_ACCOUNT_ID"),
		PetalStateTopicID: os.Getenv("PETAL_STATE_TOPIC_ID"),
		PetalKeySecret:    os.Getenv("PETAL_KEY_SECRET"),
		PublishStateTopic: getbool(os.Getenv("PETAL_PUBLISH_STATE_TOPIC"), true),

		ConsumerURL:     getenv("CONSUMER_URL", "http://localhost:8080"),
		MirrorBaseURL:   getenv("MIRROR_BASE_URL", "https://testnet.mirrornode.hedera.com"),
		DatabasePath:    getenv("DATABASE_PATH", "flora.db"),
		AdapterManifest: getenv("ADAPTER_MANIFEST", "adapters.yaml"),

		BlockTimeMs:      getint64(os.Getenv("BLOCK_TIME_MS"), 2000),
		Quorum:           getint(os.Getenv("QUORUM"), 2),
		ExpectedPetals:   getint(os.Getenv("EXPECTED_PETALS"), 3),
		PollIntervalMs:   getint64(os.Getenv("POLL_INTERVAL_MS"), 10000),
		AdapterTimeoutMs: getint64(os.Getenv("ADAPTER_TIMEOUT_MS"), 4000),
	}
}

// ValidateConsumer checks the configuration a Consumer cannot start
// without. Missing values here abort startup.
func (c *Config) ValidateConsumer() error {
	switch {
	case c.FloraAccountID == "":
		return errors.New("config: FLORA_ACCOUNT_ID is required")
	case c.FloraStateTopicID == "":
		return errors.New("config: FLORA_STATE_TOPIC_ID is required")
	case c.FloraCoordinationTopicID == "":
		return errors.New("config: FLORA_COORDINATION_TOPIC_ID is required")
	case c.FloraTransactionTopicID == "":
		return errors.New("config: FLORA_TRANSACTION_TOPIC_ID is required")
	case c.Quorum < 1:
		return errors.New("config: QUORUM must be >= 1")
	}
	return nil
}

// ValidatePetal checks the configuration a petal worker cannot start
// without.
func (c *Config) ValidatePetal() error {
	switch {
	case c.PetalID == "":
		return errors.New("config: PETAL_ID is required")
	case c.PetalAccountID == "":
		return errors.New("config: PETAL_ACCOUNT_ID is required")
	case c.FloraAccountID == "":
		return errors.New("config: FLORA_ACCOUNT_ID is required")
	case c.BlockTimeMs <= 0:
		return errors.New("config: BLOCK_TIME_MS must be positive")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getint64(v string, fallback int64) int64 {
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getbool(v string, fallback bool) bool {
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1"
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
