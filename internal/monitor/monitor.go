// Package monitor drives the periodic maintenance jobs: the liveness sweep
// and the retention purge.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"availtrack/internal/availability"
)

// Engine is the maintenance surface of the merge engine.
type Engine interface {
	CheckForSuspectAgents(ctx context.Context) (availability.SweepResult, error)
	Purge(ctx context.Context, olderThan time.Time) (int, error)
}

// Scheduler periodically invokes the sweep and purge jobs on independent cadences.
type Scheduler struct {
	engine        Engine
	sweepInterval time.Duration
	purgeInterval time.Duration
	retention     time.Duration
	now           func() time.Time
	log           *zap.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a scheduler. Intervals below one second are raised to one second.
func New(engine Engine, sweepInterval, purgeInterval, retention time.Duration, logger *zap.Logger) *Scheduler {
	if sweepInterval < time.Second {
		sweepInterval = time.Second
	}
	if purgeInterval < time.Second {
		purgeInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		engine:        engine,
		sweepInterval: sweepInterval,
		purgeInterval: purgeInterval,
		retention:     retention,
		now:           func() time.Time { return time.Now().UTC() },
		log:           logger,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start launches the scheduling loop in a goroutine. It does nothing once
// the scheduler has been started or stopped.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	go s.run()
}

// Stop requests graceful loop termination and waits until it is done. It is
// safe to call more than once and before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stopCh)
	}
	started := s.started
	s.mu.Unlock()

	if started {
		<-s.doneCh
	}
}

// RunOnce executes one sweep followed by one purge.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if err := s.sweep(ctx); err != nil {
		return err
	}
	return s.purge(ctx)
}

func (s *Scheduler) run() {
	defer close(s.doneCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := s.RunOnce(ctx); err != nil {
		s.log.Error("initial maintenance failed", zap.Error(err))
	}

	sweepTicker := time.NewTicker(s.sweepInterval)
	defer sweepTicker.Stop()
	purgeTicker := time.NewTicker(s.purgeInterval)
	defer purgeTicker.Stop()

	for {
		select {
		case <-sweepTicker.C:
			if err := s.sweep(ctx); err != nil {
				s.log.Error("liveness sweep failed", zap.Error(err))
			}
		case <-purgeTicker.C:
			if err := s.purge(ctx); err != nil {
				s.log.Error("purge failed", zap.Error(err))
			}
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) error {
	result, err := s.engine.CheckForSuspectAgents(ctx)
	if err != nil {
		return err
	}
	if len(result.Suspects) > 0 {
		s.log.Info("liveness sweep",
			zap.Strings("suspects", result.Suspects),
			zap.Int("backfilled", len(result.Backfilled)))
	}
	return nil
}

func (s *Scheduler) purge(ctx context.Context) error {
	threshold := s.now().Add(-s.retention)
	_, err := s.engine.Purge(ctx, threshold)
	return err
}
