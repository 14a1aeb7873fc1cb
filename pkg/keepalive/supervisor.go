// Package keepalive periodically touches a live authenticated session so the
// server does not expire it, and stops trying after too many consecutive
// failures.
package keepalive

import (
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/pubino/bsp/pkg/config"
	"github.com/pubino/bsp/pkg/logging"
)

// ErrBusy is returned by a Toucher that declined to run because a foreground
// operation holds the page. A busy tick counts as neither success nor failure.
var ErrBusy = errors.New("keepalive: page busy")

// Toucher performs one lightweight refresh of the live session.
type Toucher interface {
	Touch() error
}

// TouchFunc adapts a function to Toucher.
type TouchFunc func() error

func (f TouchFunc) Touch() error { return f() }

// Status is a side-effect free snapshot of the supervisor.
type Status struct {
	Enabled         bool           `json:"enabled"`
	Running         bool           `json:"running"`
	IntervalMinutes int            `json:"intervalMinutes"`
	CircuitBreaker  CircuitBreaker `json:"circuitBreaker"`
}

// CircuitBreaker reports the failure counter.
type CircuitBreaker struct {
	Open                bool `json:"open"`
	ConsecutiveFailures int  `json:"consecutiveFailures"`
	MaxFailures         int  `json:"maxFailures"`
}

// Supervisor schedules refreshes on a cron scheduler. At most one recurring
// entry exists at any time.
type Supervisor struct {
	settings config.KeepaliveSettings
	toucher  Toucher
	logger   *logging.Logger

	mu         sync.Mutex
	scheduler  *cron.Cron
	entryID    cron.EntryID
	failures   int
	open       bool
	generation uint64
	closed     bool
}

// New creates a stopped supervisor.
func New(settings config.KeepaliveSettings, toucher Toucher, logger *logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Supervisor{
		settings:  settings,
		toucher:   toucher,
		logger:    logger,
		scheduler: cron.New(),
	}
	s.scheduler.Start()
	return s
}

// Start cancels any existing schedule, resets the circuit, runs one refresh
// immediately and then schedules refreshes at the configured interval. It
// is a no-op when keepalive is disabled.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("keepalive supervisor is closed")
	}
	if !s.settings.Enabled {
		s.mu.Unlock()
		s.logger.Infof("keepalive disabled, not starting")
		return nil
	}
	s.removeEntryLocked()
	s.failures = 0
	s.open = false
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	s.logger.Infof("keepalive starting: every %d minutes, circuit opens after %d failures",
		s.settings.IntervalMinutes, s.settings.MaxFailures)
	s.attempt(gen)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open || gen != s.generation || s.closed {
		return nil
	}
	s.entryID = s.scheduler.Schedule(cron.Every(s.settings.Interval()), cron.FuncJob(s.tick))
	return nil
}

// Stop cancels the schedule and leaves the failure counters untouched.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entryID != 0 {
		s.logger.Infof("keepalive stopped")
	}
	s.removeEntryLocked()
	s.generation++
}

// Close stops the supervisor and its scheduler. A closed supervisor cannot
// be restarted.
func (s *Supervisor) Close() {
	s.Stop()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	<-s.scheduler.Stop().Done()
}

// Status returns the current state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Enabled:         s.settings.Enabled,
		Running:         s.entryID != 0,
		IntervalMinutes: s.settings.IntervalMinutes,
		CircuitBreaker: CircuitBreaker{
			Open:                s.open,
			ConsecutiveFailures: s.failures,
			MaxFailures:         s.settings.MaxFailures,
		},
	}
}

func (s *Supervisor) tick() {
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()
	s.attempt(gen)
}

// attempt runs one refresh. Results from a generation that was superseded by
// Start or Stop while the touch was in flight are discarded.
func (s *Supervisor) attempt(gen uint64) {
	s.mu.Lock()
	if s.open {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	err := s.touch()
	if errors.Is(err, ErrBusy) {
		s.logger.Debugf("keepalive tick skipped: foreground operation in progress")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	if err == nil {
		if s.failures > 0 {
			s.logger.Infof("keepalive recovered after %d failures", s.failures)
		}
		s.failures = 0
		s.logger.Debugf("keepalive refresh ok")
		return
	}

	s.failures++
	s.logger.Warnf("keepalive refresh failed (%d/%d): %v", s.failures, s.settings.MaxFailures, err)
	if s.failures >= s.settings.MaxFailures {
		s.open = true
		s.removeEntryLocked()
		s.logger.Errorf("keepalive circuit open after %d consecutive failures; restart required", s.failures)
	}
}

func (s *Supervisor) touch() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("keepalive refresh panicked: %v", r)
		}
	}()
	return s.toucher.Touch()
}

func (s *Supervisor) removeEntryLocked() {
	if s.entryID != 0 {
		s.scheduler.Remove(s.entryID)
		s.entryID = 0
	}
}
