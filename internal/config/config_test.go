package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DISCORD_WEBHOOK_URL", "https://discord.com/api/webhooks/123/abc")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.SuppressionWindow)
	assert.Equal(t, 60*time.Second, cfg.GracePeriod)
	assert.Equal(t, 24*time.Hour, cfg.SeenTTL)
	assert.Equal(t, 2*time.Second, cfg.StartupTimeout)
	assert.Equal(t, 10*time.Second, cfg.LivenessPoll)
	assert.Equal(t, 30*time.Second, cfg.ReconnectBackoff)
	assert.Equal(t, ".", cfg.TradeDBDir)
	assert.Equal(t, "/tmp/hyperliquid_monitor.heartbeat", cfg.HeartbeatPath)
	assert.Equal(t, "Hyperliquid Trade Monitor", cfg.WebhookUsername)
	assert.True(t, cfg.SubscribeOrderUpdates)
	assert.False(t, cfg.EnableTUI)
	assert.Equal(t, 0, cfg.PrometheusPort)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DISCORD_WEBHOOK_URL", "https://example.com/hook")
	t.Setenv("SUPPRESSION_WINDOW_SECONDS", "120")
	t.Setenv("TRADE_DB_DIR", "/var/lib/monitor")
	t.Setenv("HEARTBEAT_PATH", "/run/monitor.hb")
	t.Setenv("KEEPALIVE_MODE", "control")
	t.Setenv("ENABLE_TUI", "true")
	t.Setenv("LIVENESS_POLL_SECONDS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 120*time.Second, cfg.SuppressionWindow)
	assert.Equal(t, "/var/lib/monitor", cfg.TradeDBDir)
	assert.Equal(t, "/run/monitor.hb", cfg.HeartbeatPath)
	assert.Equal(t, "control", cfg.KeepAliveMode)
	assert.True(t, cfg.EnableTUI)
	assert.Equal(t, 10*time.Second, cfg.LivenessPoll)
}

func TestLoad_MissingWebhook(t *testing.T) {
	t.Setenv("DISCORD_WEBHOOK_URL", "")

	_, err := Load()
	assert.ErrorIs(t, err, ErrMissingWebhook)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	t.Setenv("DISCORD_WEBHOOK_URL", "https://example.com/hook")
	t.Setenv("SUPPRESSION_WINDOW_SECONDS", "0")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("SUPPRESSION_WINDOW_SECONDS", "60")
	t.Setenv("PROMETHEUS_PORT", "70000")
	_, err = Load()
	assert.Error(t, err)
}

func TestValidate_RejectsZeroGracePeriod(t *testing.T) {
	t.Setenv("DISCORD_WEBHOOK_URL", "https://example.com/hook")
	t.Setenv("GRACE_PERIOD_SECONDS", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GRACE_PERIOD_SECONDS")
}

func TestMaskedDiscordWebhook(t *testing.T) {
	cfg := &Config{DiscordWebhookURL: "https://discord.com/api/webhooks/123/secret"}
	assert.Equal(t, "http****cret", cfg.MaskedDiscordWebhook())

	cfg.DiscordWebhookURL = ""
	assert.Equal(t, "(not set)", cfg.MaskedDiscordWebhook())
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "addresses.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAddresses(t *testing.T) {
	path := writeFile(t, "0xAAA\n\n  0xbbb  \n# watched later\n0xaaa\n\t\n0xccc")

	addresses, err := LoadAddresses(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"0xAAA", "0xbbb", "0xccc"}, addresses)
}

func TestLoadAddresses_Empty(t *testing.T) {
	path := writeFile(t, "\n   \n# nothing\n")

	_, err := LoadAddresses(path)
	assert.ErrorIs(t, err, ErrNoAddresses)
}

func TestLoadAddresses_MissingFile(t *testing.T) {
	_, err := LoadAddresses(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
