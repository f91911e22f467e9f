// Package dedup decides which trade events are worth a notification.
package dedup

import (
	"context"
	"log/slog"
	"time"

	"github.com/hlwatch/engine/internal/store"
)

// Default filter settings.
const (
	DefaultGracePeriod       = 60 * time.Second
	DefaultSuppressionWindow = 60 * time.Second
	DefaultSeenTTL           = 24 * time.Hour
)

// Index answers whether a transaction hash was already recorded for an address
// by a previous run.
type Index interface {
	Exists(ctx context.Context, address, txHash string) (bool, error)
}

// Config holds filter settings. Zero values fall back to the defaults, except
// SeenTTL where a negative value disables eviction.
type Config struct {
	GracePeriod       time.Duration
	SuppressionWindow time.Duration
	SeenTTL           time.Duration
}

// Filter applies the suppression rules in order, cheapest and most certain first:
// in-session duplicate, startup grace, persistent record, rate window.
type Filter struct {
	cfg     Config
	index   Index
	seen    *SeenSet
	windows *Windows
	logger  *slog.Logger

	// Now is the filter's clock.
	Now func() time.Time
}

// NewFilter creates a Filter. index may be nil, in which case the persistent
// rule never matches.
func NewFilter(cfg Config, index Index, logger *slog.Logger) *Filter {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.SuppressionWindow <= 0 {
		cfg.SuppressionWindow = DefaultSuppressionWindow
	}
	switch {
	case cfg.SeenTTL == 0:
		cfg.SeenTTL = DefaultSeenTTL
	case cfg.SeenTTL < 0:
		cfg.SeenTTL = 0
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Filter{
		cfg:     cfg,
		index:   index,
		seen:    NewSeenSet(cfg.SeenTTL),
		windows: NewWindows(cfg.SuppressionWindow),
		logger:  logger,
		Now:     time.Now,
	}
}

// Decide returns whether trade should be notified. graceStart is the start of
// the grace period of the connection that delivered the trade. Every call marks
// the trade as seen, whatever the outcome.
func (f *Filter) Decide(ctx context.Context, trade store.Trade, graceStart time.Time) store.Decision {
	now := f.Now()

	// Rule 1: already routed during this process
	if f.seen.Mark(trade.Address, trade.TxHash, now) {
		return store.SuppressDuplicate
	}

	// Rule 2: startup backlog of the current connection
	if now.Sub(graceStart) < f.cfg.GracePeriod {
		return store.SuppressGrace
	}

	// Rule 3: recorded by a previous run
	if f.index != nil {
		found, err := f.index.Exists(ctx, trade.Address, trade.TxHash)
		if err != nil {
			f.logger.Warn("trade_index_lookup_failed",
				"address", trade.Address,
				"tx_hash", trade.TxHash,
				"error", err,
			)
		} else if found {
			return store.SuppressRecorded
		}
	}

	// Rule 4 and 5: rate window per (address, coin, direction)
	if !f.windows.Claim(store.KeyOf(trade), now) {
		return store.SuppressRateLimited
	}
	return store.Notify
}

// Stats reports the current size of the filter state.
type Stats struct {
	Seen int
	Keys int
}

// Stats returns the number of remembered hashes and suppression keys.
func (f *Filter) Stats() Stats {
	return Stats{Seen: f.seen.Len(), Keys: f.windows.Len()}
}

// Cleanup evicts expired seen entries and elapsed suppression windows.
// Should be called periodically to bound memory.
func (f *Filter) Cleanup() (seen, keys int) {
	now := f.Now()
	return f.seen.Cleanup(now), f.windows.Cleanup(now)
}

// RunJanitor calls Cleanup every interval until ctx is done.
func (f *Filter) RunJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seen, keys := f.Cleanup()
			if seen > 0 || keys > 0 {
				f.logger.Debug("dedup_cleanup", "seen_evicted", seen, "keys_evicted", keys)
			}
		}
	}
}
