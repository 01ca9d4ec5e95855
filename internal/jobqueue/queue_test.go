package jobqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/ensembletrack/internal/driver"
	"github.com/specialistvlad/ensembletrack/internal/event"
)

// scriptedDriver fails Submit with the queued errors, then succeeds. Poll
// walks through the queued statuses and repeats the last one.
type scriptedDriver struct {
	mu         sync.Mutex
	submitErrs []error
	statuses   []driver.Status
	submits    int
	kills      map[driver.Handle]int
}

func (d *scriptedDriver) Submit(ctx context.Context, spec driver.JobSpec) (driver.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submits++
	if len(d.submitErrs) > 0 {
		err := d.submitErrs[0]
		d.submitErrs = d.submitErrs[1:]
		return "", err
	}
	return driver.Handle(spec.Name), nil
}

func (d *scriptedDriver) Poll(ctx context.Context, h driver.Handle) (driver.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.statuses[0]
	if len(d.statuses) > 1 {
		d.statuses = d.statuses[1:]
	}
	return s, nil
}

func (d *scriptedDriver) Kill(ctx context.Context, h driver.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.kills == nil {
		d.kills = map[driver.Handle]int{}
	}
	d.kills[h]++
	return nil
}

func (d *scriptedDriver) Describe(ctx context.Context, h driver.Handle) string {
	return "exit status 1"
}

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) dispatch(ctx context.Context, ev event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) kinds() []event.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Kind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func fastConfig() Config {
	return Config{
		MaxSubmitAttempts: 5,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		PollInterval:      time.Millisecond,
		Workers:           4,
	}
}

func TestQueue_TransientSubmitErrorsAreRetried(t *testing.T) {
	// --- Arrange ---
	transient := driver.Transient(driver.ErrResourceUnavailable)
	drv := &scriptedDriver{
		submitErrs: []error{transient, transient},
		statuses:   []driver.Status{driver.StatusRunning, driver.StatusDone},
	}
	rec := &recorder{}
	q := New("ens", drv, rec.dispatch, fastConfig())

	// --- Act ---
	err := q.Run(context.Background(), []Job{{Realization: 0, Spec: driver.JobSpec{Name: "r0", Executable: "fm"}}})

	// --- Assert ---
	require.NoError(t, err)
	records := q.Records()
	require.Len(t, records, 1)
	assert.Equal(t, 3, records[0].Attempts)
	assert.Equal(t, 2, records[0].Retries)
	assert.NoError(t, records[0].Err)
	assert.Equal(t, driver.Handle("r0"), records[0].Handle)
	assert.Equal(t, []event.Kind{event.StepPending, event.StepRunning, event.StepSuccess}, rec.kinds())
}

func TestQueue_PendingToDoneIsSuccess(t *testing.T) {
	// --- Arrange ---
	drv := &scriptedDriver{statuses: []driver.Status{driver.StatusPending, driver.StatusDone}}
	rec := &recorder{}
	q := New("ens", drv, rec.dispatch, fastConfig())

	// --- Act ---
	err := q.Run(context.Background(), []Job{{Realization: 4, Step: 1, Spec: driver.JobSpec{Name: "r4"}}})

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, []event.Kind{event.StepPending, event.StepSuccess}, rec.kinds())
	assert.Equal(t, "/ensemble/ens/real/4/step/1", rec.events[1].Source.String())
	assert.NoError(t, q.Records()[0].Err)
}

func TestQueue_PermanentSubmitErrorIsNotRetried(t *testing.T) {
	// --- Arrange ---
	drv := &scriptedDriver{submitErrs: []error{driver.Permanent(errors.New("no such executable"))}}
	rec := &recorder{}
	q := New("ens", drv, rec.dispatch, fastConfig())

	// --- Act ---
	err := q.Run(context.Background(), []Job{{Realization: 0, Spec: driver.JobSpec{Name: "r0"}}})

	// --- Assert ---
	require.NoError(t, err)
	records := q.Records()
	assert.Equal(t, 1, records[0].Attempts)
	assert.Equal(t, 0, records[0].Retries)
	assert.ErrorContains(t, records[0].Err, "no such executable")
	assert.Equal(t, []event.Kind{event.StepPending, event.StepFailure}, rec.kinds())
	assert.Contains(t, rec.events[1].String(event.DataErrorMsg), "no such executable")
}

func TestQueue_TransientErrorsExhaustAttempts(t *testing.T) {
	// --- Arrange ---
	transient := driver.Transient(driver.ErrResourceUnavailable)
	drv := &scriptedDriver{submitErrs: []error{transient, transient, transient, transient}}
	cfg := fastConfig()
	cfg.MaxSubmitAttempts = 3
	rec := &recorder{}
	q := New("ens", drv, rec.dispatch, cfg)

	// --- Act ---
	require.NoError(t, q.Run(context.Background(), []Job{{Realization: 0, Spec: driver.JobSpec{Name: "r0"}}}))

	// --- Assert ---
	records := q.Records()
	assert.Equal(t, 3, records[0].Attempts)
	assert.Equal(t, 2, records[0].Retries)
	assert.ErrorIs(t, records[0].Err, driver.ErrResourceUnavailable)
	assert.Equal(t, 3, drv.submits)
}

func TestQueue_FailedJobRecordsRuntimeError(t *testing.T) {
	// --- Arrange ---
	drv := &scriptedDriver{statuses: []driver.Status{driver.StatusRunning, driver.StatusFailed}}
	rec := &recorder{}
	q := New("ens", drv, rec.dispatch, fastConfig())

	// --- Act ---
	require.NoError(t, q.Run(context.Background(), []Job{{Realization: 2, Spec: driver.JobSpec{Name: "r2"}}}))

	// --- Assert ---
	var rerr *JobRuntimeError
	require.ErrorAs(t, q.Records()[0].Err, &rerr)
	assert.Equal(t, 2, rerr.Realization)
	assert.Equal(t, driver.StatusFailed, rerr.Status)
	assert.Equal(t, "exit status 1", rerr.Message)
	assert.Equal(t, []event.Kind{event.StepPending, event.StepRunning, event.StepFailure}, rec.kinds())
}

func TestQueue_KillIsIdempotent(t *testing.T) {
	// --- Arrange ---
	drv := &scriptedDriver{statuses: []driver.Status{driver.StatusRunning}}
	rec := &recorder{}
	q := New("ens", drv, rec.dispatch, fastConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- q.Run(ctx, []Job{{Realization: 0, Spec: driver.JobSpec{Name: "r0"}}})
	}()
	require.Eventually(t, func() bool {
		return len(rec.kinds()) >= 2
	}, time.Second, time.Millisecond)

	// --- Act ---
	require.NoError(t, q.Kill(ctx))
	require.NoError(t, q.Kill(ctx))
	cancel()

	// --- Assert ---
	assert.ErrorIs(t, <-runErr, context.Canceled)
	drv.mu.Lock()
	defer drv.mu.Unlock()
	assert.Equal(t, 1, drv.kills["r0"])
}

func TestQueue_NoSubmissionAfterKill(t *testing.T) {
	// --- Arrange ---
	drv := &scriptedDriver{statuses: []driver.Status{driver.StatusDone}}
	rec := &recorder{}
	q := New("ens", drv, rec.dispatch, fastConfig())
	require.NoError(t, q.Kill(context.Background()))

	// --- Act ---
	require.NoError(t, q.Run(context.Background(), []Job{{Realization: 0, Spec: driver.JobSpec{Name: "r0"}}}))

	// --- Assert ---
	assert.Equal(t, 0, drv.submits)
	assert.ErrorIs(t, q.Records()[0].Err, ErrKilled)
}
