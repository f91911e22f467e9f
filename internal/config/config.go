// Package config handles loading and validating configuration from environment variables.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var (
	// ErrMissingWebhook is returned when DISCORD_WEBHOOK_URL is not set.
	ErrMissingWebhook = errors.New("DISCORD_WEBHOOK_URL is required")
	// ErrNoAddresses is returned when the address file holds no address.
	ErrNoAddresses = errors.New("no addresses found in addresses file")
)

// Config holds all configuration values for the trade monitor.
type Config struct {
	// Hyperliquid WebSocket
	HyperliquidWSURL      string
	SubscribeOrderUpdates bool
	KeepAliveMode         string
	KeepAliveInterval     time.Duration

	// Filtering
	SuppressionWindow time.Duration
	GracePeriod       time.Duration
	SeenTTL           time.Duration

	// Supervision
	StartupTimeout   time.Duration
	LivenessPoll     time.Duration
	ReconnectBackoff time.Duration
	ShutdownTimeout  time.Duration

	// Alerting
	DiscordWebhookURL string
	WebhookUsername   string
	WebhookTimeout    time.Duration
	ExplorerURL       string

	// Storage
	TradeDBDir    string
	HeartbeatPath string

	// Metrics
	PrometheusPort int

	// UI
	EnableTUI     bool
	UIRefreshRate time.Duration

	// Logging
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool

	// Daemon
	PIDFile         string
	DaemonLogFile   string
	DaemonErrorFile string
}

// Load reads configuration from environment variables with fallback to .env file.
// Priority order: Environment variables > .env file > hardcoded defaults
func Load() (*Config, error) {
	// Attempt to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		// Hyperliquid
		HyperliquidWSURL:      getEnv("HYPERLIQUID_WS_URL", "wss://api.hyperliquid.xyz/ws"),
		SubscribeOrderUpdates: getEnvBool("SUBSCRIBE_ORDER_UPDATES", true),
		KeepAliveMode:         getEnv("KEEPALIVE_MODE", "json"),
		KeepAliveInterval:     getEnvSeconds("KEEPALIVE_INTERVAL_SECONDS", 50),

		// Filtering
		SuppressionWindow: getEnvSeconds("SUPPRESSION_WINDOW_SECONDS", 60),
		GracePeriod:       getEnvSeconds("GRACE_PERIOD_SECONDS", 60),
		SeenTTL:           time.Duration(getEnvInt("SEEN_TTL_HOURS", 24)) * time.Hour,

		// Supervision
		StartupTimeout:   getEnvSeconds("STARTUP_TIMEOUT_SECONDS", 2),
		LivenessPoll:     getEnvSeconds("LIVENESS_POLL_SECONDS", 10),
		ReconnectBackoff: getEnvSeconds("RECONNECT_BACKOFF_SECONDS", 30),
		ShutdownTimeout:  getEnvSeconds("SHUTDOWN_TIMEOUT_SECONDS", 10),

		// Alerting
		DiscordWebhookURL: getEnv("DISCORD_WEBHOOK_URL", ""),
		WebhookUsername:   getEnv("WEBHOOK_USERNAME", "Hyperliquid Trade Monitor"),
		WebhookTimeout:    getEnvSeconds("WEBHOOK_TIMEOUT_SECONDS", 10),
		ExplorerURL:       getEnv("EXPLORER_URL", "https://hypurrscan.io"),

		// Storage
		TradeDBDir:    getEnv("TRADE_DB_DIR", "."),
		HeartbeatPath: getEnv("HEARTBEAT_PATH", "/tmp/hyperliquid_monitor.heartbeat"),

		// Metrics
		PrometheusPort: getEnvInt("PROMETHEUS_PORT", 0),

		// UI
		EnableTUI:     getEnvBool("ENABLE_TUI", false),
		UIRefreshRate: time.Duration(getEnvInt("UI_REFRESH_MS", 500)) * time.Millisecond,

		// Logging
		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
		LogCompress:   getEnvBool("LOG_COMPRESS", true),

		// Daemon
		PIDFile:         getEnv("PID_FILE", "/tmp/hyperliquid_monitor.pid"),
		DaemonLogFile:   getEnv("DAEMON_LOG_FILE", "/tmp/hyperliquid_monitor.log"),
		DaemonErrorFile: getEnv("DAEMON_ERROR_FILE", "/tmp/hyperliquid_monitor_error.log"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set and valid.
func (c *Config) Validate() error {
	if c.DiscordWebhookURL == "" {
		return ErrMissingWebhook
	}

	if c.HyperliquidWSURL == "" {
		return fmt.Errorf("HYPERLIQUID_WS_URL is required")
	}

	if c.SuppressionWindow <= 0 {
		return fmt.Errorf("SUPPRESSION_WINDOW_SECONDS must be positive")
	}

	if c.GracePeriod <= 0 {
		return fmt.Errorf("GRACE_PERIOD_SECONDS must be positive")
	}

	if c.SeenTTL < 0 {
		return fmt.Errorf("SEEN_TTL_HOURS must not be negative")
	}

	if c.StartupTimeout <= 0 || c.LivenessPoll <= 0 || c.ReconnectBackoff <= 0 {
		return fmt.Errorf("STARTUP_TIMEOUT_SECONDS, LIVENESS_POLL_SECONDS and RECONNECT_BACKOFF_SECONDS must be positive")
	}

	if c.PrometheusPort < 0 || c.PrometheusPort > 65535 {
		return fmt.Errorf("PROMETHEUS_PORT must be between 0 and 65535")
	}

	return nil
}

// MaskedDiscordWebhook returns the webhook URL with most characters hidden for logging.
func (c *Config) MaskedDiscordWebhook() string {
	return maskSecret(c.DiscordWebhookURL)
}

// LoadAddresses reads a newline-delimited address file. Surrounding whitespace
// and blank lines are ignored, lines starting with # are comments and repeated
// addresses are kept once.
func LoadAddresses(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error reading addresses file: %w", err)
	}
	defer f.Close()

	var addresses []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key := strings.ToLower(line)
		if seen[key] {
			continue
		}
		seen[key] = true
		addresses = append(addresses, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading addresses file: %w", err)
	}

	if len(addresses) == 0 {
		return nil, ErrNoAddresses
	}
	return addresses, nil
}

// maskSecret hides all but the first and last 4 characters of a secret.
func maskSecret(s string) string {
	if len(s) <= 8 {
		if len(s) == 0 {
			return "(not set)"
		}
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as an integer or returns a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvSeconds retrieves an environment variable holding whole seconds as a duration.
func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds)) * time.Second
}

// getEnvBool retrieves an environment variable as a boolean or returns a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
