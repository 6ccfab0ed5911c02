package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"availtrack/internal/availability"
)

type fakeEngine struct {
	mu         sync.Mutex
	sweeps     int
	thresholds []time.Time
	sweepErr   error
}

func (f *fakeEngine) CheckForSuspectAgents(context.Context) (availability.SweepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return availability.SweepResult{Suspects: []string{"agent"}}, f.sweepErr
}

func (f *fakeEngine) Purge(_ context.Context, olderThan time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thresholds = append(f.thresholds, olderThan)
	return 0, nil
}

func (f *fakeEngine) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeps, len(f.thresholds)
}

func TestRunOnceSweepsThenPurgesWithRetention(t *testing.T) {
	engine := &fakeEngine{}
	s := New(engine, time.Minute, time.Hour, 48*time.Hour, nil)
	fixed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.RunOnce(context.Background()))
	sweeps, purges := engine.counts()
	assert.Equal(t, 1, sweeps)
	assert.Equal(t, 1, purges)
	assert.Equal(t, fixed.Add(-48*time.Hour), engine.thresholds[0])
}

func TestRunOnceStopsOnSweepError(t *testing.T) {
	engine := &fakeEngine{sweepErr: errors.New("store offline")}
	s := New(engine, time.Minute, time.Hour, time.Hour, nil)

	assert.Error(t, s.RunOnce(context.Background()))
	_, purges := engine.counts()
	assert.Zero(t, purges)
}

func TestSchedulerTicksUntilStopped(t *testing.T) {
	engine := &fakeEngine{}
	s := New(engine, time.Second, time.Second, time.Hour, nil)
	s.Start()

	assert.Eventually(t, func() bool {
		sweeps, purges := engine.counts()
		return sweeps >= 2 && purges >= 2
	}, 5*time.Second, 50*time.Millisecond)

	s.Stop()
	s.Stop()
}

func TestStopWithoutStartReturns(t *testing.T) {
	engine := &fakeEngine{}
	s := New(engine, time.Second, time.Second, time.Hour, nil)

	done := make(chan struct{})
	go func() {
		s.Stop()
		s.Start()
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a scheduler that was never started")
	}
	sweeps, purges := engine.counts()
	assert.Zero(t, sweeps)
	assert.Zero(t, purges)
}
