package system

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/ensembletrack/internal/evaluator"
	"github.com/specialistvlad/ensembletrack/internal/event"
	"github.com/specialistvlad/ensembletrack/internal/nodeid"
	"github.com/specialistvlad/ensembletrack/internal/snapshot"
	"github.com/specialistvlad/ensembletrack/internal/tracker"
)

// Test for: one failed realization out of three meets a 2/3 threshold but
// misses 3/3, and the final snapshot keeps both outcomes.
func TestEvaluation_ThresholdDecidesVerdict(t *testing.T) {
	testCases := []struct {
		name            string
		minRealizations int
		ratio           float64
		wantFailed      bool
	}{
		{name: "count two of three", minRealizations: 2},
		{name: "ratio two thirds", ratio: 2.0 / 3.0},
		{name: "all required", minRealizations: 3, wantFailed: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// --- Arrange ---
			ctx := newContext(t)
			model := ensembleModel(3, tc.minRealizations)
			model.Ensemble.MinSuccessRatio = tc.ratio
			rec := newRecorder()
			e := evaluator.New(model, nil, evaluator.WithoutQueue(), evaluator.WithPublisher(rec))
			done := startEvaluation(t, ctx, e, rec)
			p := dialProducer(t, ctx, e)

			// --- Act ---
			send(t, ctx, p, event.EnsembleStarted, nodeid.ForEnsemble(ensembleID), nil)
			for real := 0; real < 3; real++ {
				runRealization(t, ctx, p, real, real == 1)
			}
			send(t, ctx, p, event.EnsembleStopped, nodeid.ForEnsemble(ensembleID), nil)
			res := waitResult(t, ctx, done)

			// --- Assert ---
			assert.Equal(t, 2, res.successful)
			end := e.Result()
			require.NotNil(t, end)
			assert.Equal(t, tc.wantFailed, end.Failed)
			assert.Equal(t, 3, end.Total)
			if tc.wantFailed {
				require.ErrorIs(t, res.err, evaluator.ErrEvaluationFailed)
			} else {
				require.NoError(t, res.err)
			}

			final := e.Dispatcher().Snapshot()
			assert.Equal(t, snapshot.EnsembleStopped, final.Status)
			assert.Equal(t, map[snapshot.State]int{
				snapshot.StateSuccess: 2,
				snapshot.StateFailure: 1,
			}, final.CountByStatus())
			assert.Equal(t, snapshot.StateFailure, final.Real(1).Status)

			rec.mu.Lock()
			defer rec.mu.Unlock()
			require.NotEmpty(t, rec.events)
			assert.IsType(t, &tracker.FullSnapshotEvent{}, rec.events[0])
			assert.IsType(t, &tracker.EndEvent{}, rec.events[len(rec.events)-1])
		})
	}
}
