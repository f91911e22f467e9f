package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hlwatch/engine/internal/store"
	"golang.org/x/sync/errgroup"
)

// DefaultShutdownTimeout bounds how long supervisors get to release their
// connections once the root is cancelled.
const DefaultShutdownTimeout = 10 * time.Second

// ErrNoAddresses is returned by Run when there is nothing to supervise.
var ErrNoAddresses = errors.New("no addresses to supervise")

// Root fans out one AddressSupervisor per address and owns the state they share.
type Root struct {
	deps            Deps
	timing          Timing
	shutdownTimeout time.Duration
	logger          *slog.Logger

	mu          sync.RWMutex
	supervisors []*AddressSupervisor
}

// NewRoot creates a Root. The filter in deps is shared by every supervisor.
func NewRoot(deps Deps, timing Timing, shutdownTimeout time.Duration) *Root {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Root{
		deps:            deps,
		timing:          timing,
		shutdownTimeout: shutdownTimeout,
		logger:          logger,
	}
}

// States returns a snapshot of every supervisor's state.
func (r *Root) States() []store.AddressState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make([]store.AddressState, 0, len(r.supervisors))
	for _, s := range r.supervisors {
		states = append(states, s.State())
	}
	return states
}

// Run starts a supervisor per address and blocks until ctx is cancelled.
// Supervisors then get the shutdown timeout to release their connections;
// Run returns nil on a clean stop.
func (r *Root) Run(ctx context.Context, addresses []string) error {
	if len(addresses) == 0 {
		return ErrNoAddresses
	}

	supervisors := make([]*AddressSupervisor, 0, len(addresses))
	for _, address := range addresses {
		supervisors = append(supervisors, NewAddressSupervisor(address, r.deps, r.timing))
	}
	r.mu.Lock()
	r.supervisors = supervisors
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range supervisors {
		g.Go(func() error {
			err := s.Run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("supervisor %s: %w", s.Address(), err)
			}
			return nil
		})
	}

	r.logger.Info("supervisors_started", "count", len(supervisors))

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	r.logger.Info("supervisors_stopping", "timeout", r.shutdownTimeout)

	timer := time.NewTimer(r.shutdownTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		r.logger.Info("supervisors_stopped")
		return err
	case <-timer.C:
		r.logger.Warn("supervisors_shutdown_timeout", "timeout", r.shutdownTimeout)
		return fmt.Errorf("supervisors did not stop within %s", r.shutdownTimeout)
	}
}
