package snapshot

// State is the status of a realization, step or job.
type State string

const (
	StateUnknown State = "Unknown"
	StatePending State = "Pending"
	StateRunning State = "Running"
	StateSuccess State = "Finished"
	StateFailure State = "Failed"
)

func (s State) rank() int {
	switch s {
	case StateUnknown:
		return 0
	case StatePending:
		return 1
	case StateRunning:
		return 2
	case StateSuccess:
		return 3
	case StateFailure:
		return 4
	default:
		return -1
	}
}

// Join returns the higher of the two states. The empty state is the identity.
func (s State) Join(other State) State {
	if other.rank() > s.rank() {
		return other
	}
	return s
}

// Terminal reports whether the entity has finished, successfully or not.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailure
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool { return s.rank() >= 0 }

// EnsembleState is the status of the ensemble as a whole.
type EnsembleState string

const (
	EnsembleUnknown    EnsembleState = "Unknown"
	EnsembleStarted    EnsembleState = "Started"
	EnsembleStopped    EnsembleState = "Stopped"
	EnsembleFailed     EnsembleState = "Failed"
	EnsembleCancelled  EnsembleState = "Cancelled"
	EnsembleTerminated EnsembleState = "Terminated"
)

func (s EnsembleState) rank() int {
	switch s {
	case EnsembleUnknown:
		return 0
	case EnsembleStarted:
		return 1
	case EnsembleStopped:
		return 2
	case EnsembleFailed:
		return 3
	case EnsembleCancelled:
		return 4
	case EnsembleTerminated:
		return 5
	default:
		return -1
	}
}

// Join returns the higher of the two ensemble states. The empty state is the
// identity.
func (s EnsembleState) Join(other EnsembleState) EnsembleState {
	if other.rank() > s.rank() {
		return other
	}
	return s
}

// Terminal reports whether the evaluation is over.
func (s EnsembleState) Terminal() bool {
	return s.rank() >= EnsembleStopped.rank()
}

// derive computes a parent status from its children's statuses. An empty set
// derives Unknown, the join identity among real states.
func derive(children []State) State {
	if len(children) == 0 {
		return StateUnknown
	}
	allSuccess := true
	anyProgress := false
	anyPending := false
	for _, c := range children {
		switch c {
		case StateFailure:
			return StateFailure
		case StateSuccess:
			anyProgress = true
		case StateRunning:
			anyProgress = true
			allSuccess = false
		case StatePending:
			anyPending = true
			allSuccess = false
		default:
			allSuccess = false
		}
	}
	switch {
	case allSuccess:
		return StateSuccess
	case anyProgress:
		return StateRunning
	case anyPending:
		return StatePending
	default:
		return StateUnknown
	}
}
