package event

// Kind identifies the type of an event.
type Kind string

// Ensemble-level transitions.
const (
	EnsembleStarted   Kind = "ensemble-started"
	EnsembleStopped   Kind = "ensemble-stopped"
	EnsembleCancelled Kind = "ensemble-cancelled"
	EnsembleFailed    Kind = "ensemble-failed"
	// EnsembleTerminated is the producer's own verdict that the ensemble
	// was torn down, e.g. after its driver was killed.
	EnsembleTerminated Kind = "ensemble-terminated"
)

// Step-level transitions. A step is the unit submitted to a queue driver.
const (
	StepPending Kind = "step-pending"
	StepRunning Kind = "step-running"
	StepSuccess Kind = "step-success"
	StepFailure Kind = "step-failure"
)

// Job-level transitions, reported by the job runner inside a step.
const (
	JobStart   Kind = "job-start"
	JobRunning Kind = "job-running"
	JobSuccess Kind = "job-success"
	JobFailure Kind = "job-failure"
)

// Dispatcher to monitor.
const (
	Snapshot       Kind = "ee-snapshot"
	SnapshotUpdate Kind = "ee-snapshot-update"
	Terminated     Kind = "ee-terminated"
)

// Monitor to dispatcher.
const (
	UserCancel Kind = "ee-user-cancel"
	UserDone   Kind = "ee-user-done"
)

// Keys understood in Event.Data.
const (
	DataCurrentMemoryUsage = "current_memory_usage"
	DataMaxMemoryUsage     = "max_memory_usage"
	DataErrorMsg           = "error_msg"
	DataName               = "name"
)

var snapshotKinds = []Kind{
	EnsembleStarted, EnsembleStopped, EnsembleCancelled, EnsembleFailed, EnsembleTerminated,
	StepPending, StepRunning, StepSuccess, StepFailure,
	JobStart, JobRunning, JobSuccess, JobFailure,
}

// SnapshotKinds returns every kind that changes the snapshot, in a stable order.
func SnapshotKinds() []Kind {
	out := make([]Kind, len(snapshotKinds))
	copy(out, snapshotKinds)
	return out
}

// IsSnapshotKind reports whether k describes an entity state transition.
func (k Kind) IsSnapshotKind() bool {
	for _, s := range snapshotKinds {
		if s == k {
			return true
		}
	}
	return false
}

// IsRequest reports whether k is sent by monitors to the dispatcher.
func (k Kind) IsRequest() bool {
	return k == UserCancel || k == UserDone
}

// IsBroadcast reports whether k is sent by the dispatcher to monitors.
func (k Kind) IsBroadcast() bool {
	return k == Snapshot || k == SnapshotUpdate || k == Terminated
}
