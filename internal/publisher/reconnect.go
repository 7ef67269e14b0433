package publisher

import (
	"context"
	"sync"
	"time"
)

// DefaultReconnectWindow is the cool-down window after a failure is observed.
const DefaultReconnectWindow = 5 * time.Second

// reconnectOutcome is the decision taken by one down observation.
type reconnectOutcome int

const (
	outcomeIdle reconnectOutcome = iota
	outcomeArmed
	outcomeReconnected
	outcomeFailed
)

func (o reconnectOutcome) String() string {
	switch o {
	case outcomeArmed:
		return "armed"
	case outcomeReconnected:
		return "reconnected"
	case outcomeFailed:
		return "failed"
	default:
		return "idle"
	}
}

// reconnectGate serializes reconnect decisions of one connection.
type reconnectGate struct {
	window time.Duration
	rearm  bool
	now    func() time.Time

	mu          sync.Mutex
	lastAttempt time.Time
}

func newReconnectGate(window time.Duration, rearm bool, now func() time.Time) *reconnectGate {
	if window <= 0 {
		window = DefaultReconnectWindow
	}
	if now == nil {
		now = time.Now
	}
	return &reconnectGate{window: window, rearm: rearm, now: now}
}

// observeDown runs the cool-down policy for one down observation.
// First observation arms the timer. Inside the window a reconnect is attempted and
// a failure restarts the window; success leaves lastAttempt untouched. Past the
// window nothing happens unless rearm is set, which arms the timer again.
// Params: ctx reconnect context; reconnect transport reconnect call.
// Returns: outcome and reconnect error when outcome is outcomeFailed.
func (g *reconnectGate) observeDown(ctx context.Context, reconnect func(context.Context) error) (reconnectOutcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if g.lastAttempt.IsZero() {
		g.lastAttempt = now
		return outcomeArmed, nil
	}

	if now.Sub(g.lastAttempt) > g.window {
		if g.rearm {
			g.lastAttempt = now
			return outcomeArmed, nil
		}
		return outcomeIdle, nil
	}

	if err := reconnect(ctx); err != nil {
		g.lastAttempt = now
		return outcomeFailed, err
	}
	return outcomeReconnected, nil
}
