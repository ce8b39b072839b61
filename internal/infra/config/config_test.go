package config

import (
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}, cfg.RetryBackoff)
	assert.Equal(t, gocql.Quorum, cfg.ScyllaConsistency)
	assert.Equal(t, 168*time.Hour, cfg.IdempotencyTTL)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "conversation.events.v1", cfg.TopicFor("conversation"))
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "Scylla")
	t.Setenv("SCYLLA_HOSTS", "a, b ,")
	t.Setenv("SCYLLA_CONSISTENCY", "local_quorum")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("KAFKA_TOPIC_PREFIX", "staging.")
	t.Setenv("RETRY_BACKOFF", "2s, 10s")
	t.Setenv("S3_USE_SSL", "yes")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreScylla, cfg.StoreDriver)
	assert.Equal(t, []string{"a", "b"}, cfg.ScyllaHosts)
	assert.Equal(t, gocql.LocalQuorum, cfg.ScyllaConsistency)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "staging.message.events.v1", cfg.TopicFor("message"))
	assert.Equal(t, []time.Duration{2 * time.Second, 10 * time.Second}, cfg.RetryBackoff)
	assert.True(t, cfg.S3UseSSL)
	assert.InDelta(t, 2.5, cfg.RateLimitRPS, 0.001)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret":    {"JWT_SECRET": ""},
		"mongo without uri": {"JWT_SECRET": "s", "STORE_DRIVER": "mongo", "MONGO_URI": ""},
		"unknown driver":    {"JWT_SECRET": "s", "STORE_DRIVER": "redis"},
		"bad duration":      {"JWT_SECRET": "s", "OUTBOX_POLL_INTERVAL": "soon"},
		"bad bool":          {"JWT_SECRET": "s", "S3_USE_SSL": "maybe"},
		"bad consistency":   {"JWT_SECRET": "s", "SCYLLA_CONSISTENCY": "two"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadWorkerDoesNotNeedSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	cfg, err := LoadWorker()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "talkcart-chat-notifier", cfg.KafkaGroupID)
}
