package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type reconnectRecorder struct {
	calls int
	err   error
}

func (r *reconnectRecorder) reconnect(context.Context) error {
	r.calls++
	return r.err
}

// TestReconnectGate_ArmThenAttemptThenIdle validates cool-down sequence.
// Params: testing.T for assertions.
// Returns: none.
func TestReconnectGate_ArmThenAttemptThenIdle(t *testing.T) {
	clock := newFakeClock()
	gate := newReconnectGate(5*time.Second, false, clock.Now)
	recorder := &reconnectRecorder{}

	outcome, _ := gate.observeDown(context.Background(), recorder.reconnect)
	if outcome != outcomeArmed || recorder.calls != 0 {
		t.Fatalf("first observation must only arm: outcome=%s calls=%d", outcome, recorder.calls)
	}

	clock.Advance(5 * time.Second)
	outcome, _ = gate.observeDown(context.Background(), recorder.reconnect)
	if outcome != outcomeReconnected || recorder.calls != 1 {
		t.Fatalf("observation at window edge must reconnect: outcome=%s calls=%d", outcome, recorder.calls)
	}

	clock.Advance(time.Millisecond)
	outcome, _ = gate.observeDown(context.Background(), recorder.reconnect)
	if outcome != outcomeIdle || recorder.calls != 1 {
		t.Fatalf("observation past window must do nothing: outcome=%s calls=%d", outcome, recorder.calls)
	}
}

// TestReconnectGate_FailureRestartsWindow validates lastAttempt refresh on failure.
// Params: testing.T for assertions.
// Returns: none.
func TestReconnectGate_FailureRestartsWindow(t *testing.T) {
	clock := newFakeClock()
	gate := newReconnectGate(5*time.Second, false, clock.Now)
	recorder := &reconnectRecorder{err: errors.New("refused")}

	gate.observeDown(context.Background(), recorder.reconnect)
	for i := 0; i < 3; i++ {
		clock.Advance(4 * time.Second)
		outcome, err := gate.observeDown(context.Background(), recorder.reconnect)
		if outcome != outcomeFailed || err == nil {
			t.Fatalf("attempt %d: unexpected outcome=%s err=%v", i, outcome, err)
		}
	}
	if recorder.calls != 3 {
		t.Fatalf("unexpected reconnect calls: %d", recorder.calls)
	}

	clock.Advance(6 * time.Second)
	if outcome, _ := gate.observeDown(context.Background(), recorder.reconnect); outcome != outcomeIdle {
		t.Fatalf("expected idle after window, got %s", outcome)
	}
}

// TestReconnectGate_RearmAfterWindow validates optional periodic recovery.
// Params: testing.T for assertions.
// Returns: none.
func TestReconnectGate_RearmAfterWindow(t *testing.T) {
	clock := newFakeClock()
	gate := newReconnectGate(5*time.Second, true, clock.Now)
	recorder := &reconnectRecorder{}

	gate.observeDown(context.Background(), recorder.reconnect)
	clock.Advance(10 * time.Second)
	if outcome, _ := gate.observeDown(context.Background(), recorder.reconnect); outcome != outcomeArmed {
		t.Fatalf("expected re-arm past window, got %s", outcome)
	}
	clock.Advance(time.Second)
	if outcome, _ := gate.observeDown(context.Background(), recorder.reconnect); outcome != outcomeReconnected {
		t.Fatalf("expected reconnect after re-arm, got %s", outcome)
	}
}

// TestReconnectGate_DefaultWindow validates zero window fallback.
// Params: testing.T for assertions.
// Returns: none.
func TestReconnectGate_DefaultWindow(t *testing.T) {
	gate := newReconnectGate(0, false, nil)
	if gate.window != DefaultReconnectWindow || gate.now == nil {
		t.Fatalf("unexpected defaults: window=%s", gate.window)
	}
}
