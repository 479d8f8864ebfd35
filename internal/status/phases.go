// Package status tracks the phase of a provisioning run.
//
// A run moves forward through a fixed sequence and may fail from any
// non-terminal phase:
//
//	Idle → IdentifierAllocated → ShellCreated → DiskImported → DiskAttached
//	     → [PeripheralsAttached] → [Started] → Completed
//
// The phase reached before a failure decides whether the allocated VM must be
// destroyed: everything before DiskAttached is rolled back, everything after
// is kept.
package status

import "fmt"

// Phase is a step of a provisioning run.
type Phase string

const (
	PhaseIdle                Phase = "Idle"
	PhaseIdentifierAllocated Phase = "IdentifierAllocated"
	PhaseShellCreated        Phase = "ShellCreated"
	PhaseDiskImported        Phase = "DiskImported"
	PhaseDiskAttached        Phase = "DiskAttached"
	PhasePeripheralsAttached Phase = "PeripheralsAttached"
	PhaseStarted             Phase = "Started"
	PhaseCompleted           Phase = "Completed"
	PhaseFailed              Phase = "Failed"
)

// successors lists the forward transitions allowed from each phase.
var successors = map[Phase][]Phase{
	PhaseIdle:                {PhaseIdentifierAllocated},
	PhaseIdentifierAllocated: {PhaseShellCreated},
	PhaseShellCreated:        {PhaseDiskImported},
	PhaseDiskImported:        {PhaseDiskAttached},
	PhaseDiskAttached:        {PhasePeripheralsAttached, PhaseStarted, PhaseCompleted},
	PhasePeripheralsAttached: {PhaseStarted, PhaseCompleted},
	PhaseStarted:             {PhaseCompleted},
}

// CanTransition reports whether a run may move from one phase to another.
func CanTransition(from, to Phase) bool {
	if IsTerminal(from) {
		return false
	}
	if to == PhaseFailed {
		return true
	}
	for _, p := range successors[from] {
		if p == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for Completed and Failed.
func IsTerminal(p Phase) bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// RequiresRollback reports whether a run that failed after reaching p owns a
// VM that has to be destroyed.
func RequiresRollback(p Phase) bool {
	switch p {
	case PhaseIdentifierAllocated, PhaseShellCreated, PhaseDiskImported:
		return true
	default:
		return false
	}
}

// Committed reports whether the VM survives a later failure.
func Committed(p Phase) bool {
	switch p {
	case PhaseDiskAttached, PhasePeripheralsAttached, PhaseStarted, PhaseCompleted:
		return true
	default:
		return false
	}
}

// TransitionError is returned for a transition the sequence does not allow.
type TransitionError struct {
	From, To Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition to %s from phase %s", e.To, e.From)
}
