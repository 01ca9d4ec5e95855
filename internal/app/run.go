package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/specialistvlad/ensembletrack/internal/ctxlog"
	"github.com/specialistvlad/ensembletrack/internal/evaluator"
	"github.com/specialistvlad/ensembletrack/internal/relay"
)

// ErrEvaluationFailed is returned when the ensemble missed its threshold.
var ErrEvaluationFailed = evaluator.ErrEvaluationFailed

// Run evaluates the configured ensemble. It returns nil only when enough
// realizations succeeded.
func (app *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, app.logger)
	app.logger.Debug("App.Run method started.")

	if app.config.Trace {
		shutdown, err := initTracing(app.outW)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				app.logger.Warn("Flushing spans failed.", "error", err)
			}
		}()
	}

	status, err := app.startStatusServer(ctx)
	if err != nil {
		return fmt.Errorf("starting status server: %w", err)
	}
	defer status.close(ctx)

	var opts []evaluator.Option
	if app.config.RelayURL != "" {
		r, err := relay.Dial(ctx, relay.Config{URL: app.config.RelayURL})
		if err != nil {
			// Progress relay is best effort.
			app.logger.Warn("Progress relay unavailable.", "url", app.config.RelayURL, "error", err)
		} else {
			defer r.Close()
			opts = append(opts, evaluator.WithPublisher(r))
		}
	}

	ens := app.model.Ensemble
	app.logger.Info("🚀 Starting evaluation...", "ensemble", ens.ID, "realizations", ens.Realizations, "driver", app.model.Queue.Driver)
	successful, err := evaluator.New(app.model, app.driver, opts...).Run(ctx)
	if err != nil {
		if errors.Is(err, evaluator.ErrEvaluationFailed) {
			app.logger.Error("❌ Evaluation failed.", "successful", successful, "error", err)
		}
		return fmt.Errorf("evaluation of %s: %w", ens.ID, err)
	}
	app.logger.Info("🏁 Evaluation finished.", "successful", successful, "realizations", ens.Realizations)
	return nil
}
