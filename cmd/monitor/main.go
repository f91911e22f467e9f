// Package main is the entry point for the Hyperliquid trade monitor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hlwatch/engine/internal/config"
	"github.com/hlwatch/engine/internal/daemon"
	"github.com/hlwatch/engine/internal/dedup"
	"github.com/hlwatch/engine/internal/heartbeat"
	"github.com/hlwatch/engine/internal/ingest"
	"github.com/hlwatch/engine/internal/metrics"
	"github.com/hlwatch/engine/internal/notify"
	"github.com/hlwatch/engine/internal/store"
	"github.com/hlwatch/engine/internal/supervisor"
	"github.com/hlwatch/engine/internal/ui"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	version = "1.0.0"

	// DedupCleanupInterval is how often expired filter state is evicted
	DedupCleanupInterval = 5 * time.Minute
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	background, args := daemon.IsBackground(args)

	fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
	var daemonize bool
	fs.BoolVar(&daemonize, "d", false, "Run as a background daemon")
	fs.BoolVar(&daemonize, "daemon", false, "Run as a background daemon")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Hyperliquid Trade Monitor\n\nUsage: %s [-d|--daemon] ADDRESSES_FILE\n\n", filepath.Base(os.Args[0]))
		fs.PrintDefaults()
	}

	if len(args) == 0 && !background {
		fs.SetOutput(os.Stdout)
		fs.Usage()
		return 0
	}
	if err := fs.Parse(flagsFirst(args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	addressesFile := fs.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		if errors.Is(err, config.ErrMissingWebhook) {
			fmt.Fprintln(os.Stderr, "Error: DISCORD_WEBHOOK_URL not found in environment variables.")
			fmt.Fprintln(os.Stderr, "Please create a .env file with DISCORD_WEBHOOK_URL=your_webhook_url")
			return 1
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if _, err := os.Stat(addressesFile); err != nil {
		fmt.Fprintf(os.Stderr, "Addresses file not found: %s\n", addressesFile)
		return 1
	}

	if daemonize {
		return startDaemon(cfg, addressesFile)
	}
	return runMonitor(cfg, addressesFile, background)
}

// flagsFirst moves flags ahead of positional arguments so "-d" may follow
// the addresses file.
func flagsFirst(args []string) []string {
	var flags, positional []string
	for _, a := range args {
		if strings.HasPrefix(a, "-") && a != "-" {
			flags = append(flags, a)
		} else {
			positional = append(positional, a)
		}
	}
	return append(flags, positional...)
}

// startDaemon launches the detached child and prints how to manage it.
func startDaemon(cfg *config.Config, addressesFile string) int {
	absFile, err := filepath.Abs(addressesFile)
	if err != nil {
		absFile = addressesFile
	}

	fmt.Printf("Logs will be written to: %s\n", cfg.DaemonLogFile)
	fmt.Printf("Errors will be written to: %s\n", cfg.DaemonErrorFile)

	pid, err := daemon.Start(daemon.Options{
		Args:      []string{absFile},
		PIDFile:   cfg.PIDFile,
		LogFile:   cfg.DaemonLogFile,
		ErrorFile: cfg.DaemonErrorFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Daemon failed to start: %v\n", err)
		return 1
	}

	exe := filepath.Base(os.Args[0])
	fmt.Printf("Daemon started with PID: %d\n", pid)
	fmt.Printf("PID file: %s\n", cfg.PIDFile)
	fmt.Println("Use the following commands to manage the daemon:")
	fmt.Printf("  Check status: ps aux | grep %s\n", exe)
	fmt.Printf("  Stop daemon: kill $(cat %s)\n", cfg.PIDFile)
	fmt.Printf("  View logs: tail -f %s\n", cfg.DaemonLogFile)
	fmt.Printf("  View errors: tail -f %s\n", cfg.DaemonErrorFile)
	return 0
}

// runMonitor wires the engine and blocks until a termination signal.
func runMonitor(cfg *config.Config, addressesFile string, background bool) int {
	logger, closeLog := setupLogger(cfg)
	defer closeLog()
	slog.SetDefault(logger)

	if background {
		if err := daemon.WritePIDFile(cfg.PIDFile); err != nil {
			slog.Error("pid_file_write_failed", "path", cfg.PIDFile, "error", err)
		}
		defer func() {
			if err := daemon.RemovePIDFile(cfg.PIDFile); err != nil {
				slog.Error("pid_file_remove_failed", "path", cfg.PIDFile, "error", err)
			}
		}()
		if err := daemon.WriteBanner(os.Stdout, addressesFile, time.Now()); err != nil {
			slog.Warn("daemon_banner_failed", "error", err)
		}
	}

	addresses, err := config.LoadAddresses(addressesFile)
	if err != nil {
		slog.Error("failed to load addresses", "file", addressesFile, "error", err)
		return 1
	}

	keepAlive, err := ingest.KeepAliveFromMode(cfg.KeepAliveMode, cfg.KeepAliveInterval)
	if err != nil {
		slog.Error("invalid keep-alive configuration", "error", err)
		return 1
	}

	slog.Info("hyperliquid monitor starting",
		"version", version,
		"pid", os.Getpid(),
	)

	slog.Info("config_loaded",
		"addresses", len(addresses),
		"addresses_file", addressesFile,
		"ws_url", cfg.HyperliquidWSURL,
		"order_updates", cfg.SubscribeOrderUpdates,
		"keepalive", cfg.KeepAliveMode,
		"discord_webhook", cfg.MaskedDiscordWebhook(),
		"suppression_window", cfg.SuppressionWindow,
		"grace_period", cfg.GracePeriod,
		"seen_ttl", cfg.SeenTTL,
		"trade_db_dir", cfg.TradeDBDir,
		"heartbeat_path", cfg.HeartbeatPath,
		"prometheus_port", cfg.PrometheusPort,
		"enable_tui", cfg.EnableTUI,
	)

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tradeDB := store.NewTradeDB(cfg.TradeDBDir)
	defer func() {
		if err := tradeDB.Close(); err != nil {
			slog.Warn("trade_db_close_failed", "error", err)
		}
	}()

	feed := ingest.NewClient(ingest.ClientConfig{
		URL:          cfg.HyperliquidWSURL,
		OrderUpdates: cfg.SubscribeOrderUpdates,
		KeepAlive:    keepAlive,
	}, tradeDB, logger)

	seenTTL := cfg.SeenTTL
	if seenTTL == 0 {
		seenTTL = -1
	}
	filter := dedup.NewFilter(dedup.Config{
		GracePeriod:       cfg.GracePeriod,
		SuppressionWindow: cfg.SuppressionWindow,
		SeenTTL:           seenTTL,
	}, tradeDB, logger)
	go filter.RunJanitor(ctx, DedupCleanupInterval)

	tracker := metrics.NewMetricsTracker()
	observers := supervisor.Observers{tracker}

	if cfg.PrometheusPort > 0 {
		prom := metrics.NewPrometheus(nil)
		observers = append(observers, prom)
		srv := startMetricsServer(cfg.PrometheusPort, prom.Handler())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("metrics_server_shutdown_failed", "error", err)
			}
		}()
	}

	root := supervisor.NewRoot(supervisor.Deps{
		Feed:      feed,
		Filter:    filter,
		Heartbeat: heartbeat.NewFileReporter(cfg.HeartbeatPath, logger),
		Sink: notify.NewDiscord(notify.DiscordConfig{
			WebhookURL:  cfg.DiscordWebhookURL,
			Username:    cfg.WebhookUsername,
			ExplorerURL: cfg.ExplorerURL,
			Timeout:     cfg.WebhookTimeout,
		}, logger),
		Observer: observers,
		Logger:   logger,
	}, supervisor.Timing{
		StartupTimeout:   cfg.StartupTimeout,
		LivenessPoll:     cfg.LivenessPoll,
		ReconnectBackoff: cfg.ReconnectBackoff,
	}, cfg.ShutdownTimeout)

	if cfg.EnableTUI {
		slog.Info("starting_tui")
		app := ui.NewApp(tracker, cfg.UIRefreshRate, stop)
		go func() {
			if err := app.Run(); err != nil {
				slog.Error("tui_error", "error", err)
				stop()
			}
		}()
		defer app.Stop()
	}

	slog.Info("engine_started", "status", "monitoring addresses", "addresses", len(addresses))

	if err := root.Run(ctx, addresses); err != nil {
		slog.Error("shutdown_incomplete", "error", err)
		return 1
	}

	slog.Info("shutdown_complete")
	return 0
}

// startMetricsServer serves /metrics on port in the background.
func startMetricsServer(port int, handler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("metrics_server_started", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics_server_failed", "error", err)
		}
	}()
	return srv
}

// setupLogger creates a structured logger with the configured level and outputs.
// Format: 2025-01-04 14:32:01 [INFO]  message key=value
// With the TUI enabled stdout belongs to the dashboard, so only the log file is written.
func setupLogger(cfg *config.Config) (*slog.Logger, func()) {
	var level slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var writers []io.Writer
	if !cfg.EnableTUI {
		writers = append(writers, os.Stdout)
	}

	closeFn := func() {}
	if cfg.LogFile != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   cfg.LogCompress,
		}
		writers = append(writers, fileWriter)
		closeFn = func() { _ = fileWriter.Close() }
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format("2006-01-02 15:04:05"))
				}
			}
			return a
		},
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), opts)
	return slog.New(handler), closeFn
}
