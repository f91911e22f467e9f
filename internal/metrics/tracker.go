// Package metrics provides real-time metrics tracking for the system.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/hlwatch/engine/internal/store"
)

// Ring sizes for the recent-activity views.
const (
	MaxRecentEvents = 100
	MaxRecentAlerts = 50
)

// RoutedEvent is a trade together with the filter's verdict.
type RoutedEvent struct {
	Trade    store.Trade
	Decision store.Decision
	At       time.Time
}

// AddressActivity tracks activity for a single monitored address.
type AddressActivity struct {
	State         store.AddressState
	EventCount    int64
	NotifiedCount int64
	Reconnects    int64
	LastEvent     time.Time
}

// MetricsSnapshot is a point-in-time view of metrics.
type MetricsSnapshot struct {
	EventsTotal        int64
	NotificationsSent  int64
	NotificationErrors int64
	DecisionCounts     map[store.Decision]int64
	EventRate          float64 // events per second
	Addresses          []AddressActivity
	RecentEvents       []RoutedEvent
	RecentAlerts       []store.Alert
	Uptime             time.Duration
	ConnectedCount     int
	LastEvent          time.Time
}

// MetricsTracker provides thread-safe metrics tracking. It implements the
// supervisor Observer interface.
type MetricsTracker struct {
	mu                 sync.RWMutex
	eventsTotal        int64
	notificationsSent  int64
	notificationErrors int64
	decisionCounts     map[store.Decision]int64
	addresses          map[string]*AddressActivity
	startTime          time.Time
	lastEventTime      time.Time
	eventTimestamps    []time.Time // for rate calculation
	recentEvents       []RoutedEvent
	recentAlerts       []store.Alert
}

// NewMetricsTracker creates a new MetricsTracker.
func NewMetricsTracker() *MetricsTracker {
	return &MetricsTracker{
		decisionCounts:  make(map[store.Decision]int64),
		addresses:       make(map[string]*AddressActivity),
		startTime:       time.Now(),
		eventTimestamps: make([]time.Time, 0, 1000),
		recentEvents:    make([]RoutedEvent, 0, MaxRecentEvents),
		recentAlerts:    make([]store.Alert, 0, MaxRecentAlerts),
	}
}

// StateChanged records an address's lifecycle transition.
func (m *MetricsTracker) StateChanged(state store.AddressState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	activity := m.activity(state.Address)
	if state.Generation > activity.State.Generation && activity.State.Generation > 0 {
		activity.Reconnects++
	}
	activity.State = state
}

// TradeRouted records an event and its filter decision.
func (m *MetricsTracker) TradeRouted(trade store.Trade, decision store.Decision) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.eventsTotal++
	m.decisionCounts[decision]++
	m.lastEventTime = now

	activity := m.activity(trade.Address)
	activity.EventCount++
	activity.LastEvent = now
	if decision.Notified() {
		activity.NotifiedCount++
	}

	// Add to timestamps for rate calculation
	m.eventTimestamps = append(m.eventTimestamps, now)

	// Keep only last 60 seconds of timestamps
	cutoff := now.Add(-60 * time.Second)
	validIdx := 0
	for validIdx < len(m.eventTimestamps) && !m.eventTimestamps[validIdx].After(cutoff) {
		validIdx++
	}
	if validIdx > 0 {
		m.eventTimestamps = m.eventTimestamps[validIdx:]
	}

	// Newest first
	m.recentEvents = append([]RoutedEvent{{Trade: trade, Decision: decision, At: now}}, m.recentEvents...)
	if len(m.recentEvents) > MaxRecentEvents {
		m.recentEvents = m.recentEvents[:MaxRecentEvents]
	}
}

// AlertSent records a notification attempt.
func (m *MetricsTracker) AlertSent(alert store.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if alert.Success {
		m.notificationsSent++
	} else {
		m.notificationErrors++
	}

	m.recentAlerts = append([]store.Alert{alert}, m.recentAlerts...)
	if len(m.recentAlerts) > MaxRecentAlerts {
		m.recentAlerts = m.recentAlerts[:MaxRecentAlerts]
	}
}

// Snapshot returns a point-in-time snapshot of metrics.
func (m *MetricsTracker) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Calculate event rate (events per second over last 60s)
	eventRate := 0.0
	if len(m.eventTimestamps) > 0 {
		duration := time.Since(m.eventTimestamps[0]).Seconds()
		if duration > 0 {
			eventRate = float64(len(m.eventTimestamps)) / duration
		}
	}

	decisions := make(map[store.Decision]int64, len(m.decisionCounts))
	for k, v := range m.decisionCounts {
		decisions[k] = v
	}

	connected := 0
	addresses := make([]AddressActivity, 0, len(m.addresses))
	for _, a := range m.addresses {
		addresses = append(addresses, *a)
		if a.State.State == store.StateRunning {
			connected++
		}
	}
	sort.Slice(addresses, func(i, j int) bool {
		return addresses[i].State.Address < addresses[j].State.Address
	})

	return MetricsSnapshot{
		EventsTotal:        m.eventsTotal,
		NotificationsSent:  m.notificationsSent,
		NotificationErrors: m.notificationErrors,
		DecisionCounts:     decisions,
		EventRate:          eventRate,
		Addresses:          addresses,
		RecentEvents:       append([]RoutedEvent(nil), m.recentEvents...),
		RecentAlerts:       append([]store.Alert(nil), m.recentAlerts...),
		Uptime:             time.Since(m.startTime),
		ConnectedCount:     connected,
		LastEvent:          m.lastEventTime,
	}
}

// activity returns the entry for address, creating it on first use.
// Must be called with lock held.
func (m *MetricsTracker) activity(address string) *AddressActivity {
	a, ok := m.addresses[address]
	if !ok {
		a = &AddressActivity{State: store.AddressState{Address: address}}
		m.addresses[address] = a
	}
	return a
}
