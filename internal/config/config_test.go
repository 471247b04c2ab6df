package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "food-order-events", cfg.KafkaEventTopic)
	assert.Equal(t, time.Second, cfg.CheckoutRateWindow)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.False(t, cfg.KafkaEnabled)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_DSN", "host=db user=app dbname=food sslmode=disable")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("CHECKOUT_RATE_LIMIT", "5")
	t.Setenv("RELAY_INTERVAL", "2s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5, cfg.CheckoutRateLimit)
	assert.Equal(t, 2*time.Second, cfg.RelayInterval)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"unknown driver", "DB_DRIVER", "mysql", "DB_DRIVER"},
		{"zero rate limit", "CHECKOUT_RATE_LIMIT", "0", "CHECKOUT_RATE_LIMIT must be > 0"},
		{"not an int", "REDIS_DB", "abc", "parse env"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestKafkaSettingsOnlyCheckedWhenEnabled(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " ")
	_, err := Load()
	assert.NoError(t, err)

	t.Setenv("KAFKA_ENABLED", "true")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKERS must not be empty")
}
