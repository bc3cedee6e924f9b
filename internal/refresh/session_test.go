package refresh

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secdash/internal/model"
)

var epoch = time.Date(2025, 11, 7, 0, 0, 0, 0, time.UTC)

func newSessionForTest(opts ...Option) (*Session, *FakeClock) {
	clock := NewFakeClock(epoch)
	return NewSession(append([]Option{WithClock(clock)}, opts...)...), clock
}

func counter(n *atomic.Int64) func() error {
	return func() error {
		n.Add(1)
		return nil
	}
}

func TestPauseResumeScenario(t *testing.T) {
	s, clock := newSessionForTest()
	var calls atomic.Int64
	require.NoError(t, s.Start(time.Second, counter(&calls)))

	clock.Advance(3500 * time.Millisecond)
	assert.Equal(t, int64(3), calls.Load())

	require.NoError(t, s.Pause())
	clock.Advance(5000 * time.Millisecond)
	assert.Equal(t, int64(3), calls.Load())
	assert.Equal(t, Paused, s.State())

	require.NoError(t, s.Resume())
	clock.Advance(2000 * time.Millisecond)
	assert.Equal(t, int64(5), calls.Load())
	assert.Equal(t, epoch.Add(10500*time.Millisecond), s.LastRefreshedAt())
}

func TestSingleTimerInvariant(t *testing.T) {
	s, clock := newSessionForTest()
	var calls atomic.Int64
	require.NoError(t, s.Start(time.Second, counter(&calls)))
	require.NoError(t, s.Start(500*time.Millisecond, counter(&calls)))
	require.NoError(t, s.SetInterval(250*time.Millisecond))
	require.NoError(t, s.SetInterval(time.Second))
	assert.Equal(t, 1, clock.Pending())

	clock.Advance(3 * time.Second)
	assert.Equal(t, int64(3), calls.Load())
	assert.Equal(t, 1, clock.Pending())

	require.NoError(t, s.Pause())
	require.NoError(t, s.Resume())
	require.NoError(t, s.Resume())
	assert.Equal(t, 1, clock.Pending())
}

func TestNextTickArmedAfterCallback(t *testing.T) {
	s, clock := newSessionForTest()
	var pendingDuringTick []int
	require.NoError(t, s.Start(time.Second, func() error {
		pendingDuringTick = append(pendingDuringTick, clock.Pending())
		return nil
	}))
	clock.Advance(3 * time.Second)
	assert.Equal(t, []int{0, 0, 0}, pendingDuringTick)
}

func TestStopIsFinalAndIdempotent(t *testing.T) {
	s, clock := newSessionForTest()
	var calls atomic.Int64
	require.NoError(t, s.Start(time.Second, counter(&calls)))
	clock.Advance(time.Second)
	s.Stop()
	s.Stop()
	clock.Advance(10 * time.Second)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, Stopped, s.State())
	assert.Equal(t, 0, clock.Pending())
}

func TestStopFromInsideCallback(t *testing.T) {
	s, clock := newSessionForTest()
	var calls atomic.Int64
	require.NoError(t, s.Start(time.Second, func() error {
		calls.Add(1)
		s.Stop()
		return nil
	}))
	clock.Advance(5 * time.Second)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, 0, clock.Pending())
}

func TestStaleTimerIsIgnored(t *testing.T) {
	s, _ := newSessionForTest()
	var calls atomic.Int64
	require.NoError(t, s.Start(time.Second, counter(&calls)))
	s.mu.Lock()
	stale := s.gen
	s.mu.Unlock()
	require.NoError(t, s.SetInterval(2*time.Second))
	s.fire(stale)
	assert.Equal(t, int64(0), calls.Load())
}

func TestMisuseAndBadParameters(t *testing.T) {
	s, _ := newSessionForTest()
	require.ErrorIs(t, s.Resume(), model.ErrSchedulerMisuse)
	require.ErrorIs(t, s.Pause(), model.ErrSchedulerMisuse)
	require.ErrorIs(t, s.Start(0, func() error { return nil }), model.ErrInvalidParameter)
	require.ErrorIs(t, s.Start(time.Second, nil), model.ErrInvalidParameter)
	require.ErrorIs(t, s.SetInterval(-time.Second), model.ErrInvalidParameter)
	s.Stop()
	assert.Equal(t, Stopped, s.State())
}

func TestResumeAfterStopRestarts(t *testing.T) {
	s, clock := newSessionForTest()
	var calls atomic.Int64
	require.NoError(t, s.Start(time.Second, counter(&calls)))
	s.Stop()
	require.NoError(t, s.Resume())
	assert.Equal(t, Running, s.State())
	clock.Advance(2 * time.Second)
	assert.Equal(t, int64(2), calls.Load())
}

func TestErrorsAndPanicsKeepTicking(t *testing.T) {
	var reported []error
	s, clock := newSessionForTest(WithErrorHandler(func(err error) {
		reported = append(reported, err)
	}))
	var calls atomic.Int64
	boom := errors.New("boom")
	require.NoError(t, s.Start(time.Second, func() error {
		switch calls.Add(1) {
		case 1:
			return boom
		case 2:
			panic("generator exploded")
		}
		return nil
	}))
	clock.Advance(3 * time.Second)
	assert.Equal(t, int64(3), calls.Load())
	require.Len(t, reported, 2)
	assert.ErrorIs(t, reported[0], boom)
	assert.Contains(t, reported[1].Error(), "generator exploded")
	assert.Equal(t, epoch.Add(3*time.Second), s.LastRefreshedAt())
}

func TestSystemClockTicks(t *testing.T) {
	s := NewSession()
	done := make(chan struct{}, 8)
	require.NoError(t, s.Start(5*time.Millisecond, func() error {
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	}))
	defer s.Stop()
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d never arrived", i)
		}
	}
}

func TestCooldown(t *testing.T) {
	clock := NewFakeClock(epoch)
	c := NewCooldown(clock)
	assert.True(t, c.Allow("kpis", 5*time.Second))
	assert.False(t, c.Allow("kpis", 5*time.Second))
	assert.True(t, c.Allow("events", 5*time.Second))
	clock.Advance(2 * time.Second)
	assert.Equal(t, 3*time.Second, c.Remaining("kpis", 5*time.Second))
	clock.Advance(3 * time.Second)
	assert.True(t, c.Allow("kpis", 5*time.Second))
	assert.True(t, c.Allow("kpis", 0))
}
