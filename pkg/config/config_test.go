package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "testnet", cfg.Network)
	assert.Equal(t, int64(2000), cfg.BlockTimeMs)
	assert.Equal(t, 2, cfg.Quorum)
	assert.Equal(t, 3, cfg.ExpectedPetals)
	assert.Equal(t, int64(10000), cfg.PollIntervalMs)
	assert.Equal(t, int64(4000), cfg.AdapterTimeoutMs)
	assert.True(t, cfg.PublishStateTopic)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("BLOCK_TIME_MS", "5000")
	t.Setenv("QUORUM", "3")
	t.Setenv("PETAL_PUBLISH_STATE_TOPIC", "false")
	t.Setenv("FLORA_PARTICIPANTS", "petal-a, petal-b ,petal-c")

	cfg := Load()
	assert.Equal(t, int64(5000), cfg.BlockTimeMs)
	assert.Equal(t, 3, cfg.Quorum)
	assert.False(t, cfg.PublishStateTopic)
	assert.Equal(t, []string{"petal-a", "petal-b", "petal-c"}, cfg.FloraParticipants)
}

func TestValidateConsumer_MissingTopics(t *testing.T) {
	cfg := Load()
	require.Error(t, cfg.ValidateConsumer())

	cfg.FloraAccountID = "0.0.100"
	cfg.FloraStateTopicID = "0.0.200"
	cfg.FloraCoordinationTopicID = "0.0.201"
	cfg.FloraTransactionTopicID = "0.0.202"
	require.NoError(t, cfg.ValidateConsumer())
}

func TestValidatePetal(t *testing.T) {
	cfg := Load()
	require.Error(t, cfg.ValidatePetal())

	cfg.PetalID = "petal-a"
	cfg.PetalAccountID = "0.0.10"
	cfg.FloraAccountID = "0.0.100"
	require.NoError(t, cfg.ValidatePetal())
}
