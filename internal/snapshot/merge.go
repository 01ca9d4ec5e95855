package snapshot

import (
	"time"

	"github.com/specialistvlad/ensembletrack/internal/event"
)

// Apply folds a single event into the snapshot and reports whether anything
// changed. Events that do not describe a transition are ignored.
func (s *Snapshot) Apply(ev event.Event) bool {
	p, err := FromEvent(ev)
	if err != nil {
		return false
	}
	return !s.Update(p).Empty()
}

// Merge returns a new snapshot holding s with p folded in. s is not modified.
func (s *Snapshot) Merge(p *PartialSnapshot) *Snapshot {
	out := s.Clone()
	out.Update(p)
	return out
}

// Update folds p into s in place and returns the effective diff: only the
// fields that actually changed, including derived parent statuses and
// entities created on the fly. A partial addressed to a different ensemble
// is ignored.
func (s *Snapshot) Update(p *PartialSnapshot) *PartialSnapshot {
	diff := &PartialSnapshot{ID: s.ID}
	if p == nil {
		return diff
	}
	if s.ID == "" {
		s.ID = p.ID
		diff.ID = p.ID
	} else if p.ID != "" && p.ID != s.ID {
		return diff
	}

	if next := s.Status.Join(p.Status); next != s.Status {
		s.Status = next
		diff.Status = next
	}

	if len(p.Reals) > 0 && s.Reals == nil {
		s.Reals = make(map[int]*Realization, len(p.Reals))
	}
	for _, ri := range sortedKeys(p.Reals) {
		r, created := ensureReal(s.Reals, ri, StateUnknown)
		if rd := mergeReal(r, p.Reals[ri], created, true); rd != nil {
			if diff.Reals == nil {
				diff.Reals = make(map[int]*Realization)
			}
			diff.Reals[ri] = rd
		}
	}
	return diff
}

func ensureReal(m map[int]*Realization, idx int, def State) (*Realization, bool) {
	if r, ok := m[idx]; ok {
		return r, false
	}
	r := &Realization{Index: idx, Status: def}
	m[idx] = r
	return r, true
}

func ensureStep(m map[int]*Step, idx int, def State) (*Step, bool) {
	if st, ok := m[idx]; ok {
		return st, false
	}
	st := &Step{Index: idx, Status: def}
	m[idx] = st
	return st, true
}

func ensureJob(m map[int]*Job, idx int, def State) (*Job, bool) {
	if j, ok := m[idx]; ok {
		return j, false
	}
	j := &Job{Index: idx, Status: def}
	m[idx] = j
	return j, true
}

// mergeReal folds src into dst and returns the diff, or nil if nothing
// changed. With derive set, dst's status also joins the status derived from
// its steps, and a terminal realization gets the latest step end time.
func mergeReal(dst, src *Realization, created, derived bool) *Realization {
	d := &Realization{Index: dst.Index}
	changed := created
	if created {
		d.Status = dst.Status
	}

	if len(src.Steps) > 0 && dst.Steps == nil {
		dst.Steps = make(map[int]*Step, len(src.Steps))
	}
	def := State("")
	if derived {
		def = StateUnknown
	}
	for _, si := range sortedKeys(src.Steps) {
		st, c := ensureStep(dst.Steps, si, def)
		if sd := mergeStep(st, src.Steps[si], c, derived); sd != nil {
			if d.Steps == nil {
				d.Steps = make(map[int]*Step)
			}
			d.Steps[si] = sd
			changed = true
		}
	}

	next := dst.Status.Join(src.Status)
	if derived && len(dst.Steps) > 0 {
		states := make([]State, 0, len(dst.Steps))
		for _, st := range dst.Steps {
			states = append(states, st.Status)
		}
		next = next.Join(derive(states))
	}
	if next != dst.Status {
		dst.Status = next
		d.Status = next
		changed = true
	}

	if t, ok := earliest(dst.StartTime, src.StartTime); ok {
		dst.StartTime = t
		d.StartTime = cloneTime(t)
		changed = true
	}
	end := src.EndTime
	if derived && dst.Status.Terminal() {
		for _, st := range dst.Steps {
			if t, ok := latest(end, st.EndTime); ok {
				end = t
			}
		}
	}
	if t, ok := latest(dst.EndTime, end); ok {
		dst.EndTime = t
		d.EndTime = cloneTime(t)
		changed = true
	}

	if !changed {
		return nil
	}
	return d
}

func mergeStep(dst, src *Step, created, derived bool) *Step {
	d := &Step{Index: dst.Index}
	changed := created
	if created {
		d.Status = dst.Status
	}

	if len(src.Jobs) > 0 && dst.Jobs == nil {
		dst.Jobs = make(map[int]*Job, len(src.Jobs))
	}
	def := State("")
	if derived {
		def = StateUnknown
	}
	for _, ji := range sortedKeys(src.Jobs) {
		j, c := ensureJob(dst.Jobs, ji, def)
		if jd := mergeJob(j, src.Jobs[ji], c); jd != nil {
			if d.Jobs == nil {
				d.Jobs = make(map[int]*Job)
			}
			d.Jobs[ji] = jd
			changed = true
		}
	}

	next := dst.Status.Join(src.Status)
	if derived && len(dst.Jobs) > 0 {
		states := make([]State, 0, len(dst.Jobs))
		for _, j := range dst.Jobs {
			states = append(states, j.Status)
		}
		next = next.Join(derive(states))
	}
	if next != dst.Status {
		dst.Status = next
		d.Status = next
		changed = true
	}

	if t, ok := earliest(dst.StartTime, src.StartTime); ok {
		dst.StartTime = t
		d.StartTime = cloneTime(t)
		changed = true
	}
	if t, ok := latest(dst.EndTime, src.EndTime); ok {
		dst.EndTime = t
		d.EndTime = cloneTime(t)
		changed = true
	}
	if src.Error != "" && src.Error != dst.Error {
		dst.Error = src.Error
		d.Error = src.Error
		changed = true
	}

	if !changed {
		return nil
	}
	return d
}

func mergeJob(dst, src *Job, created bool) *Job {
	d := &Job{Index: dst.Index}
	changed := created
	if created {
		d.Status = dst.Status
	}

	if src.Name != "" && src.Name != dst.Name {
		dst.Name = src.Name
		d.Name = src.Name
		changed = true
	}
	if next := dst.Status.Join(src.Status); next != dst.Status {
		dst.Status = next
		d.Status = next
		changed = true
	}
	if t, ok := earliest(dst.StartTime, src.StartTime); ok {
		dst.StartTime = t
		d.StartTime = cloneTime(t)
		changed = true
	}
	if t, ok := latest(dst.EndTime, src.EndTime); ok {
		dst.EndTime = t
		d.EndTime = cloneTime(t)
		changed = true
	}
	if src.CurrentMemoryUsage != nil && (dst.CurrentMemoryUsage == nil || *dst.CurrentMemoryUsage != *src.CurrentMemoryUsage) {
		dst.CurrentMemoryUsage = cloneInt(src.CurrentMemoryUsage)
		d.CurrentMemoryUsage = cloneInt(src.CurrentMemoryUsage)
		changed = true
	}
	peak := maxInt(src.MaxMemoryUsage, src.CurrentMemoryUsage)
	if peak != nil && (dst.MaxMemoryUsage == nil || *peak > *dst.MaxMemoryUsage) {
		dst.MaxMemoryUsage = cloneInt(peak)
		d.MaxMemoryUsage = cloneInt(peak)
		changed = true
	}
	if src.Error != "" && src.Error != dst.Error {
		dst.Error = src.Error
		d.Error = src.Error
		changed = true
	}

	if !changed {
		return nil
	}
	return d
}

// earliest returns candidate if it is set and earlier than current.
func earliest(current, candidate *time.Time) (*time.Time, bool) {
	if candidate == nil || (current != nil && !candidate.Before(*current)) {
		return nil, false
	}
	return cloneTime(candidate), true
}

// latest returns candidate if it is set and later than current.
func latest(current, candidate *time.Time) (*time.Time, bool) {
	if candidate == nil || (current != nil && !candidate.After(*current)) {
		return nil, false
	}
	return cloneTime(candidate), true
}

func maxInt(a, b *int64) *int64 {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *a >= *b:
		return a
	default:
		return b
	}
}
