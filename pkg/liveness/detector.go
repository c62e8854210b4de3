// Package liveness decides whether a recognized face belongs to a live person
// by watching for a blink. Each tracked identity gets its own Tracker, fed one
// eye-openness sample per frame in which its landmarks were available.
package liveness

import "fmt"

// State is the blink state of one tracked identity.
type State int

const (
	Idle      State = iota // eyes open, no closure in progress
	Closing                // eyes observed closed for one or more samples
	Confirmed              // a qualifying blink was seen; terminal for the day
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Closing:
		return "closing"
	case Confirmed:
		return "confirmed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds blink detection parameters.
type Config struct {
	BlinkThreshold            float64 // EAR below this counts as closed
	ConsecutiveFramesRequired int     // closed samples needed before reopening
}

// DefaultConfig returns the standard blink parameters.
func DefaultConfig() Config {
	return Config{
		BlinkThreshold:            0.23,
		ConsecutiveFramesRequired: 2,
	}
}

// Tracker is the blink state machine for a single identity.
// It is not safe for concurrent use.
type Tracker struct {
	cfg    Config
	closed int
	state  State
}

// NewTracker returns a tracker in the Idle state.
func NewTracker(cfg Config) *Tracker {
	if cfg.ConsecutiveFramesRequired < 1 {
		cfg.ConsecutiveFramesRequired = 1
	}
	return &Tracker{cfg: cfg}
}

// Update feeds one averaged EAR sample and reports whether this sample
// confirmed liveness. It returns true at most once per tracker.
func (t *Tracker) Update(ear float64) bool {
	if t.state == Confirmed {
		return false
	}

	if ear < t.cfg.BlinkThreshold {
		t.closed++
		t.state = Closing
		return false
	}

	blinked := t.closed >= t.cfg.ConsecutiveFramesRequired
	t.closed = 0
	if blinked {
		t.state = Confirmed
		return true
	}
	t.state = Idle
	return false
}

// Confirm moves the tracker straight to Confirmed without emitting an event.
// Used when the identity is already on today's ledger.
func (t *Tracker) Confirm() {
	t.state = Confirmed
	t.closed = 0
}

// State returns the current state.
func (t *Tracker) State() State {
	return t.state
}

// Confirmed reports whether liveness has been confirmed.
func (t *Tracker) Confirmed() bool {
	return t.state == Confirmed
}

// ClosedFrames returns the number of consecutive closed samples seen so far.
func (t *Tracker) ClosedFrames() int {
	return t.closed
}
