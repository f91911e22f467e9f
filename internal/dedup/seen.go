package dedup

import (
	"strings"
	"sync"
	"time"
)

// SeenSet remembers which (address, tx hash) pairs have already been routed
// through the filter. Entries older than ttl are dropped by Cleanup; a zero ttl
// keeps them for the life of the process.
type SeenSet struct {
	ttl time.Duration

	mu    sync.RWMutex
	parts map[string]*seenPartition
}

type seenPartition struct {
	mu     sync.Mutex
	hashes map[string]time.Time // tx hash -> first seen
}

// NewSeenSet creates an empty SeenSet.
func NewSeenSet(ttl time.Duration) *SeenSet {
	return &SeenSet{
		ttl:   ttl,
		parts: make(map[string]*seenPartition),
	}
}

// Mark records the pair as seen and reports whether it had been seen before.
func (s *SeenSet) Mark(address, txHash string, now time.Time) bool {
	p := s.partition(address)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.hashes[txHash]; ok {
		return true
	}
	p.hashes[txHash] = now
	return false
}

// Contains reports whether the pair has been seen, without marking it.
func (s *SeenSet) Contains(address, txHash string) bool {
	p := s.partition(address)

	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.hashes[txHash]
	return ok
}

// Len returns the number of remembered pairs.
func (s *SeenSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, p := range s.parts {
		p.mu.Lock()
		n += len(p.hashes)
		p.mu.Unlock()
	}
	return n
}

// Cleanup evicts entries first seen more than ttl before now.
func (s *SeenSet) Cleanup(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-s.ttl)

	s.mu.RLock()
	defer s.mu.RUnlock()

	removed := 0
	for _, p := range s.parts {
		p.mu.Lock()
		for hash, first := range p.hashes {
			if first.Before(cutoff) {
				delete(p.hashes, hash)
				removed++
			}
		}
		p.mu.Unlock()
	}
	return removed
}

func (s *SeenSet) partition(address string) *seenPartition {
	address = strings.ToLower(address)

	s.mu.RLock()
	p, ok := s.parts[address]
	s.mu.RUnlock()
	if ok {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.parts[address]; !ok {
		p = &seenPartition{hashes: make(map[string]time.Time, 256)}
		s.parts[address] = p
	}
	return p
}
