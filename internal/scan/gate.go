package scan

import (
	"errors"
	"sync"
	"time"
)

// DefaultCooldown is the quiet period after a lookup completes.
const DefaultCooldown = 2000 * time.Millisecond

// ErrDropped is returned for barcode events the gate refuses.
var ErrDropped = errors.New("scan event dropped")

// Target is the slot a scan result is written to.
type Target int

const (
	TargetCapture Target = iota
	TargetA
	TargetB
)

func (t Target) String() string {
	switch t {
	case TargetA:
		return "A"
	case TargetB:
		return "B"
	default:
		return "capture"
	}
}

// State of the gate as seen from outside.
type State int

const (
	Idle State = iota
	Locked
)

// Clock abstracts time so tests can step it.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Ticket identifies one accepted event.
type Ticket struct {
	Target     Target
	generation uint64
}

// Gate admits at most one barcode lookup at a time and keeps a cool-down
// after each one finishes. In comparison mode the A/B target has to be armed
// first; it is cleared once the event resolves unless another slot was armed
// in the meantime.
type Gate struct {
	clock    Clock
	cooldown time.Duration

	mu         sync.Mutex
	busy       bool
	idleAt     time.Time
	armed      Target
	hasArmed   bool
	generation uint64
}

// NewGate creates an idle gate. A nil clock means the wall clock.
func NewGate(clock Clock, cooldown time.Duration) *Gate {
	if clock == nil {
		clock = SystemClock
	}
	return &Gate{clock: clock, cooldown: cooldown}
}

// Begin accepts an event for target or returns ErrDropped.
func (g *Gate) Begin(target Target) (Ticket, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.busy || g.clock.Now().Before(g.idleAt) {
		return Ticket{}, ErrDropped
	}
	if target != TargetCapture && (!g.hasArmed || g.armed != target) {
		return Ticket{}, ErrDropped
	}
	g.busy = true
	return Ticket{Target: target, generation: g.generation}, nil
}

// Finish ends the lookup started by t and starts the cool-down. It reports
// false when the gate was reset in the meantime; the result should then be
// discarded.
func (g *Gate) Finish(t Ticket) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if t.generation != g.generation {
		return false
	}
	g.busy = false
	g.idleAt = g.clock.Now().Add(g.cooldown)
	if t.Target != TargetCapture && g.armed == t.Target {
		g.hasArmed = false
	}
	return true
}

// Arm selects the comparison slot the next event is for.
func (g *Gate) Arm(target Target) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if target == TargetCapture {
		g.hasArmed = false
		return
	}
	g.armed = target
	g.hasArmed = true
}

// Armed returns the armed comparison target, if any.
func (g *Gate) Armed() (Target, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.armed, g.hasArmed
}

// Reset returns the gate to idle and invalidates in-flight tickets.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.generation++
	g.busy = false
	g.idleAt = time.Time{}
	g.hasArmed = false
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy || g.clock.Now().Before(g.idleAt) {
		return Locked
	}
	return Idle
}
