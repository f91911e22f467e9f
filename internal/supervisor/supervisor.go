// Package supervisor keeps one feed subscription alive per monitored address
// and routes its events through the filter to the notification sink.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hlwatch/engine/internal/ingest"
	"github.com/hlwatch/engine/internal/store"
)

// Supervisor timing defaults.
const (
	DefaultStartupTimeout   = 2 * time.Second
	DefaultLivenessPoll     = 10 * time.Second
	DefaultReconnectBackoff = 30 * time.Second
)

// ErrNotAlive is recorded when a liveness poll finds the subscription dead.
var ErrNotAlive = errors.New("subscription failed liveness check")

// Filter decides whether a trade is notified.
type Filter interface {
	Decide(ctx context.Context, trade store.Trade, graceStart time.Time) store.Decision
}

// Heartbeat is ticked once per routed event.
type Heartbeat interface {
	Tick()
}

// Sink delivers a notification.
type Sink interface {
	Deliver(ctx context.Context, trade store.Trade) error
}

// Observer receives supervisor activity for metrics and display.
type Observer interface {
	StateChanged(state store.AddressState)
	TradeRouted(trade store.Trade, decision store.Decision)
	AlertSent(alert store.Alert)
}

// Observers fans supervisor activity out to several observers.
type Observers []Observer

func (o Observers) StateChanged(state store.AddressState) {
	for _, obs := range o {
		obs.StateChanged(state)
	}
}

func (o Observers) TradeRouted(trade store.Trade, decision store.Decision) {
	for _, obs := range o {
		obs.TradeRouted(trade, decision)
	}
}

func (o Observers) AlertSent(alert store.Alert) {
	for _, obs := range o {
		obs.AlertSent(alert)
	}
}

// Deps are the collaborators shared by every supervisor.
type Deps struct {
	Feed      ingest.Feed
	Filter    Filter
	Heartbeat Heartbeat
	Sink      Sink
	Observer  Observer // optional
	Logger    *slog.Logger
}

// Timing configures the connect loop.
type Timing struct {
	StartupTimeout   time.Duration
	LivenessPoll     time.Duration
	ReconnectBackoff time.Duration
}

func (t Timing) withDefaults() Timing {
	if t.StartupTimeout <= 0 {
		t.StartupTimeout = DefaultStartupTimeout
	}
	if t.LivenessPoll <= 0 {
		t.LivenessPoll = DefaultLivenessPoll
	}
	if t.ReconnectBackoff <= 0 {
		t.ReconnectBackoff = DefaultReconnectBackoff
	}
	return t
}

// AddressSupervisor runs the connect, run, reconnect loop for one address.
type AddressSupervisor struct {
	address string
	deps    Deps
	timing  Timing
	logger  *slog.Logger

	// Now is the supervisor's clock, used for grace period starts.
	Now func() time.Time

	mu    sync.RWMutex
	state store.AddressState
}

// NewAddressSupervisor creates a supervisor for address.
func NewAddressSupervisor(address string, deps Deps, timing Timing) *AddressSupervisor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AddressSupervisor{
		address: address,
		deps:    deps,
		timing:  timing.withDefaults(),
		logger:  logger.With("address", address),
		Now:     time.Now,
		state:   store.AddressState{Address: address, State: store.StateInit},
	}
}

// Address returns the supervised address.
func (s *AddressSupervisor) Address() string { return s.address }

// State returns a snapshot of the supervisor's state.
func (s *AddressSupervisor) State() store.AddressState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Run loops until ctx is cancelled and then returns ctx.Err(). Feed failures
// never escape; they are logged and followed by a reconnect.
func (s *AddressSupervisor) Run(ctx context.Context) error {
	defer s.transition(store.StateStopped, nil)

	for {
		graceStart := s.reset()

		sub, err := s.connect(ctx, graceStart)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("subscribe_failed", "error", err, "backoff", s.timing.ReconnectBackoff)
			s.transition(store.StateTerminated, err)
		} else if err := s.run(ctx, sub); err != nil {
			return err
		}

		s.transition(store.StateReconnectWait, nil)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.timing.ReconnectBackoff):
		}
	}
}

// reset starts a new connection attempt: grace restarts, generation advances
// and a fresh connection id is assigned.
func (s *AddressSupervisor) reset() time.Time {
	now := s.Now()

	s.mu.Lock()
	s.state.State = store.StateInit
	s.state.GraceStart = now
	s.state.Generation++
	s.state.ConnID = uuid.NewString()
	s.state.UpdatedAt = now
	snap := s.state
	s.mu.Unlock()

	s.logger.Info("grace_period_started",
		"generation", snap.Generation,
		"conn_id", snap.ConnID,
	)
	s.notifyState(snap)
	return now
}

type subscribeResult struct {
	sub ingest.Subscription
	err error
}

// connect subscribes in the background and watches the startup window for an
// immediate failure. A dial still in progress when the window elapses is
// waited for.
func (s *AddressSupervisor) connect(ctx context.Context, graceStart time.Time) (ingest.Subscription, error) {
	s.transition(store.StateConnecting, nil)

	results := make(chan subscribeResult, 1)
	go func() {
		sub, err := s.deps.Feed.Subscribe(ctx, s.address, func(trade store.Trade) {
			s.route(ctx, trade, graceStart)
		})
		results <- subscribeResult{sub: sub, err: err}
	}()

	window := time.NewTimer(s.timing.StartupTimeout)
	defer window.Stop()

	var res subscribeResult
	select {
	case <-ctx.Done():
		s.abandon(results)
		return nil, ctx.Err()
	case res = <-results:
	case <-window.C:
		select {
		case <-ctx.Done():
			s.abandon(results)
			return nil, ctx.Err()
		case res = <-results:
		}
		return res.sub, res.err
	}

	if res.err != nil {
		return nil, res.err
	}

	select {
	case <-ctx.Done():
		s.release(res.sub)
		return nil, ctx.Err()
	case <-res.sub.Done():
		err := res.sub.Err()
		s.release(res.sub)
		return nil, fmt.Errorf("subscription terminated during startup: %w", err)
	case <-window.C:
	}
	return res.sub, nil
}

// abandon waits for an in-flight subscribe and releases whatever it produced.
func (s *AddressSupervisor) abandon(results <-chan subscribeResult) {
	res := <-results
	if res.sub != nil {
		s.release(res.sub)
	}
}

// run watches a live subscription until it terminates or ctx is cancelled.
// It returns ctx.Err() on cancellation and nil when a reconnect is due.
func (s *AddressSupervisor) run(ctx context.Context, sub ingest.Subscription) error {
	s.transition(store.StateRunning, nil)
	s.logger.Info("subscription_running", "conn_id", s.State().ConnID)

	ticker := time.NewTicker(s.timing.LivenessPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.release(sub)
			return ctx.Err()
		case <-sub.Done():
			// the subscription shares ctx, so it may report cancellation first
			if ctx.Err() != nil {
				s.release(sub)
				return ctx.Err()
			}
			s.terminated(sub, sub.Err())
			return nil
		case <-ticker.C:
			if !sub.Alive() {
				s.terminated(sub, ErrNotAlive)
				return nil
			}
		}
	}
}

func (s *AddressSupervisor) terminated(sub ingest.Subscription, reason error) {
	s.logger.Warn("subscription_terminated",
		"conn_id", s.State().ConnID,
		"error", reason,
		"backoff", s.timing.ReconnectBackoff,
	)
	s.transition(store.StateTerminated, reason)
	s.release(sub)
}

// release closes a subscription, logging and swallowing any error.
func (s *AddressSupervisor) release(sub ingest.Subscription) {
	if err := sub.Close(); err != nil {
		s.logger.Warn("subscription_release_failed", "error", err)
	}
}

// route passes one event through the filter, ticks the heartbeat whatever the
// decision, and delivers the notified ones.
func (s *AddressSupervisor) route(ctx context.Context, trade store.Trade, graceStart time.Time) {
	decision := s.deps.Filter.Decide(ctx, trade, graceStart)
	if s.deps.Heartbeat != nil {
		s.deps.Heartbeat.Tick()
	}
	if s.deps.Observer != nil {
		s.deps.Observer.TradeRouted(trade, decision)
	}

	s.logger.Debug("trade_routed",
		"tx_hash", trade.TxHash,
		"kind", trade.Kind,
		"coin", trade.Coin,
		"decision", decision,
	)

	if !decision.Notified() || s.deps.Sink == nil {
		return
	}

	alert := store.Alert{
		ID:      uuid.NewString(),
		Address: trade.Address,
		TxHash:  trade.TxHash,
		Kind:    trade.Kind,
		Coin:    trade.Coin,
		SentAt:  s.Now(),
		Success: true,
	}
	if err := s.deps.Sink.Deliver(ctx, trade); err != nil {
		alert.Success = false
		alert.Error = err.Error()
		s.logger.Warn("notification_failed", "tx_hash", trade.TxHash, "error", err)
	} else {
		s.logger.Info("notification_sent",
			"tx_hash", trade.TxHash,
			"kind", trade.Kind,
			"coin", trade.Coin,
			"direction", trade.Direction,
		)
	}
	if s.deps.Observer != nil {
		s.deps.Observer.AlertSent(alert)
	}
}

// transition moves to state, recording reason as the last error when set.
func (s *AddressSupervisor) transition(state store.LifecycleState, reason error) {
	s.mu.Lock()
	s.state.State = state
	if reason != nil {
		s.state.LastError = reason.Error()
	}
	s.state.UpdatedAt = s.Now()
	snap := s.state
	s.mu.Unlock()

	s.notifyState(snap)
}

func (s *AddressSupervisor) notifyState(snap store.AddressState) {
	if s.deps.Observer != nil {
		s.deps.Observer.StateChanged(snap)
	}
}
