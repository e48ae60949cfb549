package config

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "request-engine", cfg.App.Name)
	assert.Equal(t, "0.0.0.0:8080", cfg.App.Addr())
	assert.Equal(t, 2*time.Second, cfg.Ledger.LockTimeout)
	assert.Equal(t, 256, cfg.Bus.SubscriberBuffer)
	assert.Equal(t, 4, cfg.Billing.Workers)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LEDGER_LOCK_TIMEOUT", "750ms")
	t.Setenv("BUS_SUBSCRIBER_BUFFER", "32")
	t.Setenv("BILLING_TIMEZONE", "America/Bogota")
	t.Setenv("POSTGRES_RUN_MIGRATIONS", "false")
	t.Setenv("HTTP_COMMAND_RPS", "2.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, cfg.Ledger.LockTimeout)
	assert.Equal(t, 32, cfg.Bus.SubscriberBuffer)
	assert.False(t, cfg.Postgres.RunMigrations)
	assert.Equal(t, 2.5, cfg.HTTP.CommandRPS)
	loc, err := cfg.Billing.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/Bogota", loc.String())
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("BILLING_TIMEZONE", "Mars/Olympus")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("BILLING_TIMEZONE", "UTC")
	t.Setenv("REDIS_DB", "zero")
	_, err = Load()
	assert.Error(t, err)
}

func TestInvalidDurationFallsBack(t *testing.T) {
	t.Setenv("BUS_RETENTION_WINDOW", "soon")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.Bus.RetentionWindow)
}
