package hcl

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"

	"github.com/specialistvlad/ensembletrack/internal/config"
)

// translate overlays the blocks of one file onto model.
func translate(ctx context.Context, root *fileRoot, evalCtx *hcl.EvalContext, model *config.Model) error {
	if b := root.Evaluator; b != nil {
		e := &model.Evaluator
		set(&e.Host, b.Host)
		set(&e.Port, b.Port)
		set(&e.Token, b.Token)
		set(&e.BatchSize, b.BatchSize)
		set(&e.SubscriberQueue, b.SubscriberQueue)
		if err := setDuration(&e.BatchInterval, b.BatchInterval, "evaluator.batch_interval"); err != nil {
			return err
		}
	}

	if len(root.Ensembles) == 1 {
		if err := translateEnsemble(ctx, root.Ensembles[0], evalCtx, &model.Ensemble); err != nil {
			return err
		}
	}

	if b := root.Queue; b != nil {
		if err := translateQueue(ctx, b, evalCtx, &model.Queue); err != nil {
			return err
		}
	}

	if b := root.Monitor; b != nil {
		set(&model.Monitor.MaxRetries, b.MaxRetries)
		if err := setDuration(&model.Monitor.RetryWait, b.RetryWait, "monitor.retry_wait"); err != nil {
			return err
		}
	}

	if b := root.Tracker; b != nil {
		set(&model.Tracker.PhaseName, b.PhaseName)
		set(&model.Tracker.PhaseCount, b.PhaseCount)
	}
	return nil
}

func translateEnsemble(ctx context.Context, b *ensembleBlock, evalCtx *hcl.EvalContext, e *config.Ensemble) error {
	e.ID = b.ID
	set(&e.Realizations, b.Realizations)
	set(&e.Iteration, b.Iteration)
	set(&e.MinRealizations, b.MinRealizations)
	set(&e.MinSuccessRatio, b.MinSuccessRatio)

	e.Steps = make([]config.Step, 0, len(b.Steps))
	for _, sb := range b.Steps {
		step := config.Step{Name: sb.Name}
		for _, jb := range sb.Jobs {
			job := config.Job{Name: jb.Name, Executable: jb.Executable}
			where := fmt.Sprintf("step %q job %q", sb.Name, jb.Name)
			if err := decodeExpr(ctx, jb.Args, evalCtx, &job.Args, where+" args"); err != nil {
				return err
			}
			if err := decodeExpr(ctx, jb.Env, evalCtx, &job.Env, where+" env"); err != nil {
				return err
			}
			step.Jobs = append(step.Jobs, job)
		}
		e.Steps = append(e.Steps, step)
	}
	return nil
}

func translateQueue(ctx context.Context, b *queueBlock, evalCtx *hcl.EvalContext, q *config.Queue) error {
	set(&q.Driver, b.Driver)
	set(&q.MaxRunning, b.MaxRunning)
	set(&q.MaxSubmitAttempts, b.MaxSubmitAttempts)
	set(&q.SubmitRate, b.SubmitRate)
	set(&q.RunPath, b.RunPath)
	for _, d := range []struct {
		dst  *time.Duration
		src  *string
		name string
	}{
		{&q.InitialBackoff, b.InitialBackoff, "queue.initial_backoff"},
		{&q.MaxBackoff, b.MaxBackoff, "queue.max_backoff"},
		{&q.PollInterval, b.PollInterval, "queue.poll_interval"},
	} {
		if err := setDuration(d.dst, d.src, d.name); err != nil {
			return err
		}
	}

	if b.Shell == nil {
		return nil
	}
	sh := &config.Shell{}
	set(&sh.JobIDPattern, b.Shell.JobIDPattern)
	set(&sh.StatusField, b.Shell.StatusField)
	for _, f := range []struct {
		expr hcl.Expression
		dst  any
		name string
	}{
		{b.Shell.SubmitCommand, &sh.SubmitCommand, "shell.submit_command"},
		{b.Shell.StatusCommand, &sh.StatusCommand, "shell.status_command"},
		{b.Shell.KillCommand, &sh.KillCommand, "shell.kill_command"},
		{b.Shell.StatusMap, &sh.StatusMap, "shell.status_map"},
		{b.Shell.TransientPatterns, &sh.TransientPatterns, "shell.transient_patterns"},
		{b.Shell.NotFoundPatterns, &sh.NotFoundPatterns, "shell.not_found_patterns"},
	} {
		if err := decodeExpr(ctx, f.expr, evalCtx, f.dst, f.name); err != nil {
			return err
		}
	}
	q.Shell = sh
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, raw *string, name string) error {
	if raw == nil {
		return nil
	}
	d, err := time.ParseDuration(*raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}
