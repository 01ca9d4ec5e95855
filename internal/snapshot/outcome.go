package snapshot

import (
	"fmt"
	"math"
)

// Threshold is the minimum number of successful realizations an evaluation
// needs. Count takes precedence when positive; otherwise Ratio of the total
// is required. The zero Threshold requires every realization to succeed.
type Threshold struct {
	Count int     `json:"count,omitempty"`
	Ratio float64 `json:"ratio,omitempty"`
}

// Required returns the number of successes needed out of total.
func (t Threshold) Required(total int) int {
	switch {
	case t.Count > 0:
		return t.Count
	case t.Ratio > 0:
		// The epsilon keeps 2/3*3 from rounding up to 3.
		return int(math.Ceil(t.Ratio*float64(total) - 1e-9))
	default:
		return total
	}
}

// Outcome is the verdict of a finished evaluation.
type Outcome struct {
	Successful int
	Total      int
	Failed     bool
	Message    string
}

// Outcome computes the verdict for the snapshot against threshold.
func (s *Snapshot) Outcome(threshold Threshold) Outcome {
	out := Outcome{Total: len(s.Reals)}
	for _, r := range s.Reals {
		if r.Status == StateSuccess {
			out.Successful++
		}
	}

	switch s.Status {
	case EnsembleFailed, EnsembleCancelled, EnsembleTerminated:
		out.Failed = true
		out.Message = fmt.Sprintf("ensemble %s ended in state %s", s.ID, s.Status)
		return out
	}

	if required := threshold.Required(out.Total); out.Successful < required {
		out.Failed = true
		out.Message = fmt.Sprintf("%d of %d realizations succeeded, %d required", out.Successful, out.Total, required)
	}
	return out
}
