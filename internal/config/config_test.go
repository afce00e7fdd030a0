package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("CART_TX_TIMEOUT", "")
	t.Setenv("CART_LOCK_TIMEOUT", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Cart.TxTimeout)
	assert.Equal(t, 2*time.Second, cfg.Cart.LockTimeout)
	assert.Equal(t, 1, cfg.Cart.MaxRetries)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "cart-events", cfg.Kafka.Topic)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("CART_TX_TIMEOUT", "750ms")
	t.Setenv("CART_LOCK_TIMEOUT", "250ms")
	t.Setenv("CART_MAX_RETRIES", "2")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 750*time.Millisecond, cfg.Cart.TxTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Cart.LockTimeout)
	assert.Equal(t, 2, cfg.Cart.MaxRetries)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsNegativeRetries(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("CART_MAX_RETRIES", "-1")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsLockTimeoutAboveTxTimeout(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("CART_TX_TIMEOUT", "1s")
	t.Setenv("CART_LOCK_TIMEOUT", "1s")

	_, err := Load()
	require.Error(t, err)
}
