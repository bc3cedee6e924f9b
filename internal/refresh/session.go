package refresh

import (
	"fmt"
	"sync"
	"time"

	"secdash/internal/model"
)

type State int

const (
	Stopped State = iota
	Running
	Paused
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Option func(*Session)

func WithClock(c Clock) Option {
	return func(s *Session) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithErrorHandler receives callback errors and recovered panics.
func WithErrorHandler(fn func(error)) Option {
	return func(s *Session) {
		s.onError = fn
	}
}

// Session invokes a callback periodically. Ticks never overlap: the next
// timer is armed only once the callback has returned, and each timer
// carries the generation it was armed for so a stale one is a no-op.
type Session struct {
	clock   Clock
	onError func(error)

	runMu sync.Mutex

	mu       sync.Mutex
	state    State
	interval time.Duration
	cb       func() error
	gen      uint64
	timer    Timer
	last     time.Time
}

func NewSession(opts ...Option) *Session {
	s := &Session{clock: SystemClock{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins ticking every interval. Calling it on a live session
// replaces the schedule; the old timer is cancelled first.
func (s *Session) Start(interval time.Duration, cb func() error) error {
	if interval <= 0 {
		return fmt.Errorf("refresh interval %v: %w", interval, model.ErrInvalidParameter)
	}
	if cb == nil {
		return fmt.Errorf("nil refresh callback: %w", model.ErrInvalidParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	s.interval = interval
	s.cb = cb
	s.state = Running
	s.armLocked()
	return nil
}

func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Stopped:
		return fmt.Errorf("pause of stopped session: %w", model.ErrSchedulerMisuse)
	case Paused:
		return nil
	}
	s.cancelLocked()
	s.state = Paused
	return nil
}

// Resume continues with the last configured interval. A stopped session
// that was started before is restarted; one never started is an error.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cb == nil {
		return fmt.Errorf("resume before start: %w", model.ErrSchedulerMisuse)
	}
	if s.state == Running {
		return nil
	}
	s.cancelLocked()
	s.state = Running
	s.armLocked()
	return nil
}

func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	s.state = Stopped
}

// SetInterval reschedules a running session from now; otherwise the new
// interval applies on the next Start or Resume.
func (s *Session) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("refresh interval %v: %w", d, model.ErrInvalidParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
	if s.state == Running {
		s.cancelLocked()
		s.armLocked()
	}
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *Session) LastRefreshedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Session) cancelLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) armLocked() {
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.interval, func() { s.fire(gen) })
}

func (s *Session) fire(gen uint64) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	if gen != s.gen || s.state != Running {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	cb := s.cb
	s.mu.Unlock()

	err := invoke(cb)

	s.mu.Lock()
	if err == nil {
		s.last = s.clock.Now()
	}
	if gen == s.gen && s.state == Running {
		s.armLocked()
	}
	onError := s.onError
	s.mu.Unlock()

	if err != nil && onError != nil {
		onError(err)
	}
}

func invoke(cb func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh callback panic: %v", r)
		}
	}()
	return cb()
}
