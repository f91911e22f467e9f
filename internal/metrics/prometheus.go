package metrics

import (
	"net/http"

	"github.com/hlwatch/engine/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every exported metric.
const Namespace = "hlwatch"

var lifecycleStates = []store.LifecycleState{
	store.StateInit,
	store.StateConnecting,
	store.StateRunning,
	store.StateTerminated,
	store.StateReconnectWait,
	store.StateStopped,
}

// Prometheus exports supervisor activity as Prometheus metrics. It implements
// the supervisor Observer interface.
type Prometheus struct {
	EventsRouted      *prometheus.CounterVec
	Notifications     *prometheus.CounterVec
	ConnectionStarts  *prometheus.CounterVec
	AddressState      *prometheus.GaugeVec
	LastEventUnixTime *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// NewPrometheus registers the collectors with reg. A nil reg uses a fresh
// registry, which is what Handler then serves.
func NewPrometheus(reg *prometheus.Registry) *Prometheus {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Prometheus{
		EventsRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "dedup",
			Name:      "events_total",
			Help:      "Trade events routed through the filter by address and decision",
		}, []string{"address", "decision"}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Webhook deliveries by address and outcome",
		}, []string{"address", "outcome"}),
		ConnectionStarts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "supervisor",
			Name:      "connection_attempts_total",
			Help:      "Connection attempts per address",
		}, []string{"address"}),
		AddressState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "supervisor",
			Name:      "state",
			Help:      "1 for the lifecycle state each address is currently in",
		}, []string{"address", "state"}),
		LastEventUnixTime: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "supervisor",
			Name:      "last_event_timestamp_seconds",
			Help:      "Unix time of the last event received per address",
		}, []string{"address"}),
		gatherer: reg,
	}
}

// StateChanged updates the state gauges.
func (p *Prometheus) StateChanged(state store.AddressState) {
	if state.State == store.StateInit {
		p.ConnectionStarts.WithLabelValues(state.Address).Inc()
	}
	for _, s := range lifecycleStates {
		v := 0.0
		if s == state.State {
			v = 1
		}
		p.AddressState.WithLabelValues(state.Address, string(s)).Set(v)
	}
}

// TradeRouted counts an event by decision.
func (p *Prometheus) TradeRouted(trade store.Trade, decision store.Decision) {
	p.EventsRouted.WithLabelValues(trade.Address, string(decision)).Inc()
	p.LastEventUnixTime.WithLabelValues(trade.Address).SetToCurrentTime()
}

// AlertSent counts a delivery attempt.
func (p *Prometheus) AlertSent(alert store.Alert) {
	outcome := "success"
	if !alert.Success {
		outcome = "error"
	}
	p.Notifications.WithLabelValues(alert.Address, outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}
