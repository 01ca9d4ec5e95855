package snapshot

import (
	"sort"
	"time"
)

// Job is a single forward-model stage inside a step.
type Job struct {
	Index              int        `json:"index"`
	Name               string     `json:"name,omitempty"`
	Status             State      `json:"status,omitempty"`
	StartTime          *time.Time `json:"start_time,omitempty"`
	EndTime            *time.Time `json:"end_time,omitempty"`
	CurrentMemoryUsage *int64     `json:"current_memory_usage,omitempty"`
	MaxMemoryUsage     *int64     `json:"max_memory_usage,omitempty"`
	Error              string     `json:"error,omitempty"`
}

// Step is the unit of work submitted to a queue driver.
type Step struct {
	Index     int          `json:"index"`
	Status    State        `json:"status,omitempty"`
	StartTime *time.Time   `json:"start_time,omitempty"`
	EndTime   *time.Time   `json:"end_time,omitempty"`
	Error     string       `json:"error,omitempty"`
	Jobs      map[int]*Job `json:"jobs,omitempty"`
}

// Realization is one independent run of the model.
type Realization struct {
	Index     int           `json:"index"`
	Status    State         `json:"status,omitempty"`
	StartTime *time.Time    `json:"start_time,omitempty"`
	EndTime   *time.Time    `json:"end_time,omitempty"`
	Steps     map[int]*Step `json:"steps,omitempty"`
}

// Snapshot is the full state of one ensemble evaluation.
type Snapshot struct {
	ID        string               `json:"id"`
	Status    EnsembleState        `json:"status"`
	Iteration int                  `json:"iteration"`
	Reals     map[int]*Realization `json:"reals"`
}

// New returns an empty snapshot for the given ensemble.
func New(id string) *Snapshot {
	return &Snapshot{ID: id, Status: EnsembleUnknown, Reals: map[int]*Realization{}}
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{ID: s.ID, Status: s.Status, Iteration: s.Iteration, Reals: make(map[int]*Realization, len(s.Reals))}
	for i, r := range s.Reals {
		out.Reals[i] = r.clone()
	}
	return out
}

// Real returns the realization with the given index, or nil.
func (s *Snapshot) Real(index int) *Realization {
	return s.Reals[index]
}

// SortedReals returns the realizations ordered by index.
func (s *Snapshot) SortedReals() []*Realization {
	out := make([]*Realization, 0, len(s.Reals))
	for _, idx := range sortedKeys(s.Reals) {
		out = append(out, s.Reals[idx])
	}
	return out
}

// CountByStatus tallies realizations per status.
func (s *Snapshot) CountByStatus() map[State]int {
	counts := make(map[State]int)
	for _, r := range s.Reals {
		counts[r.Status]++
	}
	return counts
}

// CountTerminal returns how many realizations have finished.
func (s *Snapshot) CountTerminal() int {
	n := 0
	for _, r := range s.Reals {
		if r.Status.Terminal() {
			n++
		}
	}
	return n
}

// AnyRunning reports whether any realization is still Running.
func (s *Snapshot) AnyRunning() bool {
	for _, r := range s.Reals {
		if r.Status == StateRunning {
			return true
		}
	}
	return false
}

// SortedSteps returns the steps ordered by index.
func (r *Realization) SortedSteps() []*Step {
	out := make([]*Step, 0, len(r.Steps))
	for _, idx := range sortedKeys(r.Steps) {
		out = append(out, r.Steps[idx])
	}
	return out
}

// SortedJobs returns the jobs ordered by index.
func (s *Step) SortedJobs() []*Job {
	out := make([]*Job, 0, len(s.Jobs))
	for _, idx := range sortedKeys(s.Jobs) {
		out = append(out, s.Jobs[idx])
	}
	return out
}

func (r *Realization) clone() *Realization {
	out := *r
	out.StartTime = cloneTime(r.StartTime)
	out.EndTime = cloneTime(r.EndTime)
	out.Steps = nil
	if r.Steps != nil {
		out.Steps = make(map[int]*Step, len(r.Steps))
		for i, st := range r.Steps {
			out.Steps[i] = st.clone()
		}
	}
	return &out
}

func (s *Step) clone() *Step {
	out := *s
	out.StartTime = cloneTime(s.StartTime)
	out.EndTime = cloneTime(s.EndTime)
	out.Jobs = nil
	if s.Jobs != nil {
		out.Jobs = make(map[int]*Job, len(s.Jobs))
		for i, j := range s.Jobs {
			out.Jobs[i] = j.clone()
		}
	}
	return &out
}

func (j *Job) clone() *Job {
	out := *j
	out.StartTime = cloneTime(j.StartTime)
	out.EndTime = cloneTime(j.EndTime)
	out.CurrentMemoryUsage = cloneInt(j.CurrentMemoryUsage)
	out.MaxMemoryUsage = cloneInt(j.MaxMemoryUsage)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt(n *int64) *int64 {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
