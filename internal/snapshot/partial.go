package snapshot

import (
	"errors"
	"fmt"
	"time"

	"github.com/specialistvlad/ensembletrack/internal/event"
	"github.com/specialistvlad/ensembletrack/internal/nodeid"
)

var (
	// ErrUnknownKind is returned for events that do not describe a state
	// transition, such as broadcast or request kinds.
	ErrUnknownKind = errors.New("event kind does not change the snapshot")
	// ErrAddressTooShallow is returned when an event's source does not reach
	// the level its kind refers to, e.g. a job event addressed to a step.
	ErrAddressTooShallow = errors.New("event source is too shallow for its kind")
)

// PartialSnapshot is a diff against a Snapshot. It uses the same record
// shapes; zero values mean "unchanged".
type PartialSnapshot struct {
	ID     string               `json:"id,omitempty"`
	Status EnsembleState        `json:"status,omitempty"`
	Reals  map[int]*Realization `json:"reals,omitempty"`
}

// Empty reports whether the partial changes nothing.
func (p *PartialSnapshot) Empty() bool {
	return p == nil || (p.Status == "" && len(p.Reals) == 0)
}

// Merge overlays other onto p and returns p. Statuses join, timestamps keep
// their extremes and other's last-write fields win. Parents are not derived.
func (p *PartialSnapshot) Merge(other *PartialSnapshot) *PartialSnapshot {
	if other == nil {
		return p
	}
	if p.ID == "" {
		p.ID = other.ID
	}
	p.Status = p.Status.Join(other.Status)
	if len(other.Reals) > 0 && p.Reals == nil {
		p.Reals = make(map[int]*Realization, len(other.Reals))
	}
	for _, ri := range sortedKeys(other.Reals) {
		r, created := ensureReal(p.Reals, ri, "")
		mergeReal(r, other.Reals[ri], created, false)
	}
	return p
}

// Clone returns a deep copy of the partial.
func (p *PartialSnapshot) Clone() *PartialSnapshot {
	if p == nil {
		return nil
	}
	out := &PartialSnapshot{ID: p.ID, Status: p.Status}
	if p.Reals != nil {
		out.Reals = make(map[int]*Realization, len(p.Reals))
		for i, r := range p.Reals {
			out.Reals[i] = r.clone()
		}
	}
	return out
}

type transition struct {
	level    nodeid.Level
	state    State
	ensemble EnsembleState
	start    bool
	end      bool
}

var transitions = map[event.Kind]transition{
	event.EnsembleStarted:   {level: nodeid.LevelEnsemble, ensemble: EnsembleStarted},
	event.EnsembleStopped:   {level: nodeid.LevelEnsemble, ensemble: EnsembleStopped},
	event.EnsembleCancelled: {level: nodeid.LevelEnsemble, ensemble: EnsembleCancelled},
	event.EnsembleFailed:    {level: nodeid.LevelEnsemble, ensemble: EnsembleFailed},

	event.EnsembleTerminated: {level: nodeid.LevelEnsemble, ensemble: EnsembleTerminated},

	event.StepPending: {level: nodeid.LevelStep, state: StatePending},
	event.StepRunning: {level: nodeid.LevelStep, state: StateRunning, start: true},
	event.StepSuccess: {level: nodeid.LevelStep, state: StateSuccess, end: true},
	event.StepFailure: {level: nodeid.LevelStep, state: StateFailure, end: true},

	event.JobStart:   {level: nodeid.LevelJob, state: StatePending, start: true},
	event.JobRunning: {level: nodeid.LevelJob, state: StateRunning, start: true},
	event.JobSuccess: {level: nodeid.LevelJob, state: StateSuccess, end: true},
	event.JobFailure: {level: nodeid.LevelJob, state: StateFailure, end: true},
}

// FromEvent translates a single state transition event into a partial.
func FromEvent(ev event.Event) (*PartialSnapshot, error) {
	tr, ok := transitions[ev.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, ev.Kind)
	}
	if ev.Source.Level() < tr.level {
		return nil, fmt.Errorf("%w: %s from %s", ErrAddressTooShallow, ev.Kind, ev.Source)
	}

	src := ev.Source.Truncate(tr.level)
	p := &PartialSnapshot{ID: src.Ensemble}
	if tr.level == nodeid.LevelEnsemble {
		p.Status = tr.ensemble
		return p, nil
	}

	var at *time.Time
	if !ev.Time.IsZero() {
		t := ev.Time
		at = &t
	}
	errMsg := ""
	if tr.state == StateFailure {
		errMsg = ev.String(event.DataErrorMsg)
	}

	real := &Realization{Index: src.Real, Steps: map[int]*Step{}}
	step := &Step{Index: src.Step}
	real.Steps[step.Index] = step
	p.Reals = map[int]*Realization{real.Index: real}

	if tr.start {
		real.StartTime = cloneTime(at)
	}

	if tr.level == nodeid.LevelStep {
		step.Status = tr.state
		step.Error = errMsg
		if tr.start {
			step.StartTime = cloneTime(at)
		}
		if tr.end {
			step.EndTime = cloneTime(at)
		}
		return p, nil
	}

	job := &Job{
		Index:  src.Job,
		Name:   ev.String(event.DataName),
		Status: tr.state,
		Error:  errMsg,
	}
	if tr.start {
		job.StartTime = cloneTime(at)
	}
	if tr.end {
		job.EndTime = cloneTime(at)
	}
	if v, ok := ev.Int64(event.DataCurrentMemoryUsage); ok {
		job.CurrentMemoryUsage = &v
	}
	if v, ok := ev.Int64(event.DataMaxMemoryUsage); ok {
		job.MaxMemoryUsage = &v
	}
	step.Jobs = map[int]*Job{job.Index: job}
	return p, nil
}
