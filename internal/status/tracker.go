package status

import (
	"sync"
	"time"
)

// Transition records one phase change.
type Transition struct {
	From    Phase     `json:"from" yaml:"from"`
	To      Phase     `json:"to" yaml:"to"`
	At      time.Time `json:"at" yaml:"at"`
	Message string    `json:"message,omitempty" yaml:"message,omitempty"`
}

// Tracker holds the phase of one run and its history.
type Tracker struct {
	mu          sync.Mutex
	phase       Phase
	started     time.Time
	transitions []Transition
	failedAfter Phase
	err         error
	now         func() time.Time
}

// NewTracker returns a tracker in PhaseIdle.
func NewTracker() *Tracker {
	return newTrackerWithClock(time.Now)
}

func newTrackerWithClock(now func() time.Time) *Tracker {
	return &Tracker{phase: PhaseIdle, started: now(), now: now}
}

// Phase returns the current phase.
func (t *Tracker) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// Advance moves the run forward. An illegal transition leaves the phase
// unchanged and returns a *TransitionError.
func (t *Tracker) Advance(to Phase, message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if to == PhaseFailed || !CanTransition(t.phase, to) {
		return &TransitionError{From: t.phase, To: to}
	}
	t.record(to, message)
	return nil
}

// Fail moves the run to PhaseFailed and remembers the phase it failed
// after. Failing a terminal run is a no-op.
func (t *Tracker) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if IsTerminal(t.phase) {
		return
	}
	t.failedAfter = t.phase
	t.err = err
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	t.record(PhaseFailed, msg)
}

func (t *Tracker) record(to Phase, message string) {
	t.transitions = append(t.transitions, Transition{From: t.phase, To: to, At: t.now(), Message: message})
	t.phase = to
}

// FailedAfter returns the last phase reached before the run failed, or ""
// if it has not failed.
func (t *Tracker) FailedAfter() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failedAfter
}

// Err returns the error passed to Fail.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Transitions returns a copy of the history.
func (t *Tracker) Transitions() []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Transition(nil), t.transitions...)
}

// Durations returns how long it took to reach each phase from the previous
// one.
func (t *Tracker) Durations() map[Phase]time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[Phase]time.Duration, len(t.transitions))
	prev := t.started
	for _, tr := range t.transitions {
		out[tr.To] = tr.At.Sub(prev)
		prev = tr.At
	}
	return out
}
