package keepalive

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pubino/bsp/pkg/config"
)

// scriptedToucher returns queued results in order, then nil.
type scriptedToucher struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (t *scriptedToucher) Touch() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if len(t.results) == 0 {
		return nil
	}
	err := t.results[0]
	t.results = t.results[1:]
	return err
}

func (t *scriptedToucher) push(errs ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results = append(t.results, errs...)
}

func (t *scriptedToucher) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func newTestSupervisor(t *testing.T, toucher Toucher) *Supervisor {
	t.Helper()
	s := New(config.KeepaliveSettings{Enabled: true, IntervalMinutes: 60, MaxFailures: 3}, toucher, nil)
	t.Cleanup(s.Close)
	return s
}

func TestStart_ResetsAndSchedules(t *testing.T) {
	toucher := &scriptedToucher{}
	s := newTestSupervisor(t, toucher)

	require.NoError(t, s.Start())

	st := s.Status()
	assert.True(t, st.Enabled)
	assert.True(t, st.Running)
	assert.Equal(t, 60, st.IntervalMinutes)
	assert.False(t, st.CircuitBreaker.Open)
	assert.Equal(t, 0, st.CircuitBreaker.ConsecutiveFailures)
	assert.Equal(t, 3, st.CircuitBreaker.MaxFailures)
	assert.Equal(t, 1, toucher.count(), "start performs one immediate refresh")
	assert.Len(t, s.scheduler.Entries(), 1)
}

func TestStart_TwiceKeepsSingleEntry(t *testing.T) {
	s := newTestSupervisor(t, &scriptedToucher{})

	require.NoError(t, s.Start())
	first := s.entryID
	require.NoError(t, s.Start())

	assert.Len(t, s.scheduler.Entries(), 1)
	assert.NotEqual(t, first, s.entryID)
}

func TestCircuitOpensAfterMaxFailures(t *testing.T) {
	toucher := &scriptedToucher{}
	s := newTestSupervisor(t, toucher)
	require.NoError(t, s.Start())

	boom := errors.New("navigation timeout")
	toucher.push(boom, boom)
	s.tick()
	s.tick()
	assert.Equal(t, 2, s.Status().CircuitBreaker.ConsecutiveFailures)
	assert.False(t, s.Status().CircuitBreaker.Open)
	assert.True(t, s.Status().Running)

	toucher.push(boom)
	s.tick()

	st := s.Status()
	assert.True(t, st.CircuitBreaker.Open)
	assert.Equal(t, 3, st.CircuitBreaker.ConsecutiveFailures)
	assert.False(t, st.Running)
	assert.Empty(t, s.scheduler.Entries())

	calls := toucher.count()
	s.tick()
	assert.Equal(t, calls, toucher.count(), "open circuit skips attempts")
}

func TestStart_ClosesCircuit(t *testing.T) {
	toucher := &scriptedToucher{}
	s := newTestSupervisor(t, toucher)
	require.NoError(t, s.Start())

	boom := errors.New("session expired")
	toucher.push(boom, boom, boom)
	s.tick()
	s.tick()
	s.tick()
	require.True(t, s.Status().CircuitBreaker.Open)

	require.NoError(t, s.Start())
	st := s.Status()
	assert.False(t, st.CircuitBreaker.Open)
	assert.Equal(t, 0, st.CircuitBreaker.ConsecutiveFailures)
	assert.True(t, st.Running)
}

func TestSuccessResetsFailures(t *testing.T) {
	toucher := &scriptedToucher{}
	s := newTestSupervisor(t, toucher)
	require.NoError(t, s.Start())

	toucher.push(errors.New("timeout"), errors.New("timeout"))
	s.tick()
	s.tick()
	require.Equal(t, 2, s.Status().CircuitBreaker.ConsecutiveFailures)

	s.tick()
	assert.Equal(t, 0, s.Status().CircuitBreaker.ConsecutiveFailures)
}

func TestBusyTickIsNeutral(t *testing.T) {
	toucher := &scriptedToucher{}
	s := newTestSupervisor(t, toucher)
	require.NoError(t, s.Start())

	toucher.push(errors.New("timeout"), ErrBusy)
	s.tick()
	s.tick()
	assert.Equal(t, 1, s.Status().CircuitBreaker.ConsecutiveFailures)
}

func TestStop_KeepsCounts(t *testing.T) {
	toucher := &scriptedToucher{}
	s := newTestSupervisor(t, toucher)
	require.NoError(t, s.Start())
	toucher.push(errors.New("timeout"))
	s.tick()

	s.Stop()

	st := s.Status()
	assert.False(t, st.Running)
	assert.Equal(t, 1, st.CircuitBreaker.ConsecutiveFailures)
	assert.Empty(t, s.scheduler.Entries())
}

func TestDisabled_StartIsNoop(t *testing.T) {
	toucher := &scriptedToucher{}
	s := New(config.KeepaliveSettings{Enabled: false, IntervalMinutes: 60, MaxFailures: 3}, toucher, nil)
	t.Cleanup(s.Close)

	require.NoError(t, s.Start())
	assert.False(t, s.Status().Running)
	assert.False(t, s.Status().Enabled)
	assert.Equal(t, 0, toucher.count())
}

func TestPanickingToucherCountsAsFailure(t *testing.T) {
	s := newTestSupervisor(t, TouchFunc(func() error { panic("page gone") }))
	require.NoError(t, s.Start())
	assert.Equal(t, 1, s.Status().CircuitBreaker.ConsecutiveFailures)
}

func TestClosedSupervisorRejectsStart(t *testing.T) {
	s := New(config.DefaultKeepalive(), &scriptedToucher{}, nil)
	s.Close()
	assert.Error(t, s.Start())
}
