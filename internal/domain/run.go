package domain

// RunStatus is the remote status of one assistant run.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunCancelling     RunStatus = "cancelling"
	RunRequiresAction RunStatus = "requires_action"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunCancelled      RunStatus = "cancelled"
	RunExpired        RunStatus = "expired"
	RunIncomplete     RunStatus = "incomplete"
)

// RunPhase collapses remote statuses into the states the poll loop acts on.
type RunPhase int

const (
	PhaseQueued RunPhase = iota
	PhaseRunning
	PhaseCancelling
	PhaseTerminal
)

func (p RunPhase) String() string {
	switch p {
	case PhaseQueued:
		return "queued"
	case PhaseRunning:
		return "running"
	case PhaseCancelling:
		return "cancelling"
	default:
		return "terminal"
	}
}

// Phase maps a status to its poll phase. Unknown statuses are terminal so a
// new remote state can never keep the loop spinning.
func (s RunStatus) Phase() RunPhase {
	switch s {
	case RunQueued:
		return PhaseQueued
	case RunInProgress:
		return PhaseRunning
	case RunCancelling:
		return PhaseCancelling
	default:
		return PhaseTerminal
	}
}

// IsTerminal reports whether polling should stop.
func (s RunStatus) IsTerminal() bool {
	return s.Phase() == PhaseTerminal
}

// Succeeded is true only for completed runs.
func (s RunStatus) Succeeded() bool {
	return s == RunCompleted
}
