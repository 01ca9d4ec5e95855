package snapshot

// Builder assembles the initial snapshot from a step/job template that every
// realization shares.
type Builder struct {
	steps map[int]State
	jobs  map[int]map[int]jobTemplate
}

type jobTemplate struct {
	name  string
	state State
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		steps: make(map[int]State),
		jobs:  make(map[int]map[int]jobTemplate),
	}
}

// AddStep adds a step to the template.
func (b *Builder) AddStep(step int, state State) *Builder {
	b.steps[step] = state
	return b
}

// AddJob adds a job to a step of the template, adding the step if needed.
func (b *Builder) AddJob(step, job int, name string, state State) *Builder {
	if _, ok := b.steps[step]; !ok {
		b.steps[step] = StateUnknown
	}
	if b.jobs[step] == nil {
		b.jobs[step] = make(map[int]jobTemplate)
	}
	b.jobs[step][job] = jobTemplate{name: name, state: state}
	return b
}

// Build creates a snapshot with one realization per id, each in the initial
// state and carrying a copy of the step/job template.
func (b *Builder) Build(ensembleID string, realIDs []int, initial State) *Snapshot {
	snap := New(ensembleID)
	for _, ri := range realIDs {
		real := &Realization{Index: ri, Status: orUnknown(initial), Steps: make(map[int]*Step, len(b.steps))}
		for si, st := range b.steps {
			step := &Step{Index: si, Status: orUnknown(st)}
			if jobs := b.jobs[si]; len(jobs) > 0 {
				step.Jobs = make(map[int]*Job, len(jobs))
				for ji, jt := range jobs {
					step.Jobs[ji] = &Job{Index: ji, Name: jt.name, Status: orUnknown(jt.state)}
				}
			}
			real.Steps[si] = step
		}
		snap.Reals[ri] = real
	}
	return snap
}

func orUnknown(s State) State {
	if s == "" {
		return StateUnknown
	}
	return s
}
