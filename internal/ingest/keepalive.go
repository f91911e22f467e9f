package ingest

import (
	"fmt"
	"strings"
	"time"
)

// DefaultKeepAliveInterval stays below the exchange's 60s idle cutoff.
const DefaultKeepAliveInterval = 50 * time.Second

// Pinger is the write side of a connection that keep-alive strategies use.
type Pinger interface {
	WriteJSON(v any) error
	WritePing() error
}

// KeepAlive decides how an idle connection is kept open. It is handed to the
// Client at construction and applied to every subscription.
type KeepAlive interface {
	// Interval between pings; zero disables the keep-alive loop.
	Interval() time.Duration
	// Ping sends one keep-alive frame.
	Ping(p Pinger) error
}

// JSONPing sends the exchange's application-level {"method":"ping"} message.
type JSONPing struct {
	Every time.Duration
}

func (k JSONPing) Interval() time.Duration { return k.Every }

func (k JSONPing) Ping(p Pinger) error {
	return p.WriteJSON(map[string]string{"method": "ping"})
}

// ControlPing sends websocket protocol ping frames.
type ControlPing struct {
	Every time.Duration
}

func (k ControlPing) Interval() time.Duration { return k.Every }

func (k ControlPing) Ping(p Pinger) error {
	return p.WritePing()
}

// NoKeepAlive never pings.
type NoKeepAlive struct{}

func (NoKeepAlive) Interval() time.Duration { return 0 }

func (NoKeepAlive) Ping(Pinger) error { return nil }

// KeepAliveFromMode builds a strategy from its configuration name:
// "json", "control" or "none".
func KeepAliveFromMode(mode string, every time.Duration) (KeepAlive, error) {
	if every <= 0 {
		every = DefaultKeepAliveInterval
	}
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "json":
		return JSONPing{Every: every}, nil
	case "control":
		return ControlPing{Every: every}, nil
	case "none", "off":
		return NoKeepAlive{}, nil
	default:
		return nil, fmt.Errorf("unknown keep-alive mode %q", mode)
	}
}
