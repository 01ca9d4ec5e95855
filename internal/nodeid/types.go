// internal/nodeid/types.go
package nodeid

// Level identifies how deep into the ensemble hierarchy an address points.
type Level int

const (
	// LevelEnsemble addresses the ensemble as a whole.
	LevelEnsemble Level = iota
	// LevelRealization addresses a single realization.
	LevelRealization
	// LevelStep addresses a step within a realization.
	LevelStep
	// LevelJob addresses a job within a step.
	LevelJob
)

// String returns the segment keyword used for the level in a path.
func (l Level) String() string {
	switch l {
	case LevelEnsemble:
		return "ensemble"
	case LevelRealization:
		return "real"
	case LevelStep:
		return "step"
	case LevelJob:
		return "job"
	default:
		return "unknown"
	}
}

// Address is the structured representation of an event source. Index fields
// below the address level hold -1.
type Address struct {
	Ensemble string
	Real     int
	Step     int
	Job      int
}

// ForEnsemble creates an ensemble-level address.
func ForEnsemble(id string) Address {
	return Address{Ensemble: id, Real: -1, Step: -1, Job: -1}
}

// ForRealization creates a realization-level address.
func ForRealization(id string, real int) Address {
	return Address{Ensemble: id, Real: real, Step: -1, Job: -1}
}

// ForStep creates a step-level address.
func ForStep(id string, real, step int) Address {
	return Address{Ensemble: id, Real: real, Step: step, Job: -1}
}

// ForJob creates a job-level address.
func ForJob(id string, real, step, job int) Address {
	return Address{Ensemble: id, Real: real, Step: step, Job: job}
}

// Level reports the deepest segment present in the address.
func (a Address) Level() Level {
	switch {
	case a.Job >= 0:
		return LevelJob
	case a.Step >= 0:
		return LevelStep
	case a.Real >= 0:
		return LevelRealization
	default:
		return LevelEnsemble
	}
}

// Truncate returns the address cut down to the given level. Deeper indices are
// reset to -1; an address that is already shallower is returned unchanged.
func (a Address) Truncate(level Level) Address {
	if level < LevelJob {
		a.Job = -1
	}
	if level < LevelStep {
		a.Step = -1
	}
	if level < LevelRealization {
		a.Real = -1
	}
	return a
}
