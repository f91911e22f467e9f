// Package store provides data models and the per-address trade database.
package store

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TradeKind identifies what kind of account event a Trade represents.
type TradeKind string

// Trade kinds emitted by the feed.
const (
	KindFill           TradeKind = "FILL"
	KindOrderPlaced    TradeKind = "ORDER_PLACED"
	KindOrderCancelled TradeKind = "ORDER_CANCELLED"
	KindOrderFilled    TradeKind = "ORDER_FILLED"
	KindOrderOther     TradeKind = "ORDER_UPDATE"
)

// Trade represents a single trade or order event observed for a monitored address.
// Values are produced by the feed and never mutated afterwards.
type Trade struct {
	// Address is the monitored account the event belongs to
	Address string

	// TxHash is the on-chain transaction hash (synthetic for order events)
	TxHash string

	// Coin is the asset symbol, e.g. BTC or @107 for spot pairs
	Coin string

	// Price is the execution or limit price
	Price decimal.Decimal

	// Size is the filled or ordered size
	Size decimal.Decimal

	// Direction is the feed's direction label ("Open Long", "Close Short", "Buy", ...)
	Direction string

	// Kind is FILL or one of the order event kinds
	Kind TradeKind

	// ClosedPnL is the realized PnL of a closing fill, nil when not reported
	ClosedPnL *decimal.Decimal

	// Timestamp is when the exchange says the event happened
	Timestamp time.Time

	// Snapshot marks events replayed by the feed as part of its initial snapshot
	Snapshot bool
}

// IsFill reports whether the trade is an execution rather than an order event.
func (t Trade) IsFill() bool {
	return t.Kind == KindFill
}

// Decision is the outcome of running a trade through the duplicate filter.
type Decision string

// Filter outcomes, in the order the filter evaluates them.
const (
	Notify              Decision = "NOTIFY"
	SuppressDuplicate   Decision = "SUPPRESS_DUPLICATE"
	SuppressGrace       Decision = "SUPPRESS_GRACE"
	SuppressRecorded    Decision = "SUPPRESS_RECORDED"
	SuppressRateLimited Decision = "SUPPRESS_RATE_LIMITED"
)

// Notified reports whether the decision lets the trade through to the sink.
func (d Decision) Notified() bool {
	return d == Notify
}

// SuppressionKey identifies a class of notifications subject to rate suppression.
type SuppressionKey struct {
	Address   string
	Coin      string
	Direction string
}

// KeyOf derives the suppression key of a trade.
func KeyOf(t Trade) SuppressionKey {
	return SuppressionKey{
		Address:   strings.ToLower(t.Address),
		Coin:      t.Coin,
		Direction: t.Direction,
	}
}

// Alert records a notification attempt.
type Alert struct {
	ID      string
	Address string
	TxHash  string
	Kind    TradeKind
	Coin    string
	SentAt  time.Time
	Success bool
	Error   string
}

// LifecycleState is where an address supervisor is in its connect loop.
type LifecycleState string

// Supervisor lifecycle states.
const (
	StateInit          LifecycleState = "INIT"
	StateConnecting    LifecycleState = "CONNECTING"
	StateRunning       LifecycleState = "RUNNING"
	StateTerminated    LifecycleState = "TERMINATED"
	StateReconnectWait LifecycleState = "RECONNECT_WAIT"
	StateStopped       LifecycleState = "STOPPED"
)

// AddressState is a snapshot of one address's connection lifecycle.
type AddressState struct {
	Address    string
	State      LifecycleState
	GraceStart time.Time
	Generation int
	ConnID     string
	LastError  string
	UpdatedAt  time.Time
}

// InGrace reports whether now falls inside the grace period started at GraceStart.
func (s AddressState) InGrace(now time.Time, grace time.Duration) bool {
	return !s.GraceStart.IsZero() && now.Sub(s.GraceStart) < grace
}
