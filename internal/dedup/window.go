package dedup

import (
	"strings"
	"sync"
	"time"

	"github.com/hlwatch/engine/internal/store"
)

// Windows tracks when each suppression key last produced a notification.
// Keys are partitioned by address so supervisors of different addresses only
// contend on the partition map, never on each other's entries.
type Windows struct {
	window time.Duration

	mu    sync.RWMutex
	parts map[string]*windowPartition
}

type windowPartition struct {
	mu   sync.Mutex
	last map[store.SuppressionKey]time.Time
}

// NewWindows creates a Windows tracker with the given suppression window.
func NewWindows(window time.Duration) *Windows {
	return &Windows{
		window: window,
		parts:  make(map[string]*windowPartition),
	}
}

// Claim reports whether key may notify at now. When it may, now becomes the
// key's last-notified time; otherwise the stored time is left untouched.
func (w *Windows) Claim(key store.SuppressionKey, now time.Time) bool {
	p := w.partition(key.Address)

	p.mu.Lock()
	defer p.mu.Unlock()

	if last, ok := p.last[key]; ok && now.Sub(last) < w.window {
		return false
	}
	p.last[key] = now
	return true
}

// Len returns the number of tracked keys.
func (w *Windows) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	n := 0
	for _, p := range w.parts {
		p.mu.Lock()
		n += len(p.last)
		p.mu.Unlock()
	}
	return n
}

// Cleanup removes keys whose window has already elapsed. Removing them does
// not change any future Claim result.
func (w *Windows) Cleanup(now time.Time) int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	removed := 0
	for _, p := range w.parts {
		p.mu.Lock()
		for key, last := range p.last {
			if now.Sub(last) >= w.window {
				delete(p.last, key)
				removed++
			}
		}
		p.mu.Unlock()
	}
	return removed
}

func (w *Windows) partition(address string) *windowPartition {
	address = strings.ToLower(address)

	w.mu.RLock()
	p, ok := w.parts[address]
	w.mu.RUnlock()
	if ok {
		return p
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok = w.parts[address]; !ok {
		p = &windowPartition{last: make(map[store.SuppressionKey]time.Time)}
		w.parts[address] = p
	}
	return p
}
