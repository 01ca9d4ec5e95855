package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/specialistvlad/ensembletrack/internal/config"
	"github.com/specialistvlad/ensembletrack/internal/ctxlog"
	"github.com/specialistvlad/ensembletrack/internal/driver"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config
	model  *config.Model
	driver driver.Driver
}

// NewApp is the constructor for the main application. Configuration that
// cannot be loaded or validated is a fatal startup error and panics.
func NewApp(outW io.Writer, cfg *Config, loader config.Loader) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	model, err := loader.Load(ctx, cfg.ConfigPath)
	if err != nil {
		panic(fmt.Errorf("failed to load configuration: %w", err))
	}
	if err := config.ApplyEnv(model); err != nil {
		panic(fmt.Errorf("failed to apply environment overrides: %w", err))
	}
	if err := model.Validate(); err != nil {
		panic(err)
	}
	logger.Debug("Configuration loaded.", "ensemble", model.Ensemble.ID, "steps", len(model.Ensemble.Steps))

	drv, err := newDriver(model.Queue)
	if err != nil {
		panic(fmt.Errorf("failed to build %s driver: %w", model.Queue.Driver, err))
	}
	logger.Debug("Queue driver ready.", "driver", model.Queue.Driver)

	return &App{
		outW:   outW,
		logger: logger,
		config: cfg,
		model:  model,
		driver: drv,
	}
}

// Model returns the loaded configuration. This is primarily for testing.
func (app *App) Model() *config.Model {
	return app.model
}
