package inmemorystore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/specialistvlad/ensembletrack/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoReals() *snapshot.Snapshot {
	return snapshot.NewBuilder().AddStep(0, snapshot.StateUnknown).Build("ee", []int{0, 1}, snapshot.StateUnknown)
}

func stepSuccess(real int) *snapshot.PartialSnapshot {
	return &snapshot.PartialSnapshot{ID: "ee", Reals: map[int]*snapshot.Realization{
		real: {Index: real, Steps: map[int]*snapshot.Step{0: {Index: 0, Status: snapshot.StateSuccess}}},
	}}
}

func TestPutAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	// Get a snapshot for an iteration that doesn't exist yet
	_, ok := s.Get(ctx, 0)
	assert.False(t, ok)

	// Put a snapshot
	snap := twoReals()
	s.Put(ctx, 0, snap)

	// Get returns an independent copy
	got, ok := s.Get(ctx, 0)
	require.True(t, ok)
	assert.Len(t, got.Reals, 2)
	got.Reals[0].Status = snapshot.StateFailure
	again, _ := s.Get(ctx, 0)
	assert.Equal(t, snapshot.StateUnknown, again.Reals[0].Status)

	// Mutating the original after Put does not leak into the store
	snap.Reals[1].Status = snapshot.StateFailure
	again, _ = s.Get(ctx, 0)
	assert.Equal(t, snapshot.StateUnknown, again.Reals[1].Status)
}

func TestUpdate(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Put(ctx, 0, twoReals())

	merged := s.Update(ctx, 0, stepSuccess(1))
	assert.Equal(t, snapshot.StateSuccess, merged.Reals[1].Status)
	assert.Equal(t, 1, merged.CountTerminal())

	// A diff for an unseen iteration starts from an empty snapshot
	fresh := s.Update(ctx, 3, stepSuccess(0))
	assert.Equal(t, "ee", fresh.ID)
	assert.Equal(t, 3, fresh.Iteration)
	assert.Len(t, fresh.Reals, 1)

	assert.Equal(t, []int{0, 3}, s.Iterations(ctx))
}

func TestConcurrentAccess(t *testing.T) {
	s := New()
	ctx := context.Background()
	const numIterations = 20
	var wg sync.WaitGroup

	for i := 0; i < numIterations; i++ {
		s.Put(ctx, i, twoReals())
	}

	// Concurrently update and read every iteration
	for i := 0; i < numIterations; i++ {
		wg.Add(2)
		go func(iter int) {
			defer wg.Done()
			s.Update(ctx, iter, stepSuccess(iter%2))
		}(i)
		go func(iter int) {
			defer wg.Done()
			_, _ = s.Get(ctx, iter)
		}(i)
	}
	wg.Wait()

	for i := 0; i < numIterations; i++ {
		snap, ok := s.Get(ctx, i)
		require.True(t, ok, fmt.Sprintf("iteration %d missing", i))
		assert.Equal(t, 1, snap.CountTerminal())
	}
}
