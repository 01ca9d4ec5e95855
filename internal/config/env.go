package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "ENSEMBLETRACK_"

// overrides lists the settings that can be changed from the environment.
// A nil field was not set.
type overrides struct {
	Host            *string        `env:"HOST"`
	Port            *int           `env:"PORT"`
	Token           *string        `env:"TOKEN"`
	BatchSize       *int           `env:"BATCH_SIZE"`
	BatchInterval   *time.Duration `env:"BATCH_INTERVAL"`
	SubscriberQueue *int           `env:"SUBSCRIBER_QUEUE"`
	Realizations    *int           `env:"REALIZATIONS"`
	MinRealizations *int           `env:"MIN_REALIZATIONS"`
	QueueDriver     *string        `env:"QUEUE_DRIVER"`
	MaxRunning      *int           `env:"MAX_RUNNING"`
	SubmitRate      *float64       `env:"SUBMIT_RATE"`
	RunPath         *string        `env:"RUN_PATH"`
	MaxRetries      *int           `env:"MONITOR_MAX_RETRIES"`
	RetryWait       *time.Duration `env:"MONITOR_RETRY_WAIT"`
}

// ApplyEnv overrides model fields from ENSEMBLETRACK_* environment variables.
func ApplyEnv(m *Model) error {
	return ApplyEnvFrom(m, nil)
}

// ApplyEnvFrom is ApplyEnv reading from environ instead of the process
// environment when environ is not nil.
func ApplyEnvFrom(m *Model, environ map[string]string) error {
	var o overrides
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return fmt.Errorf("reading environment overrides: %w", err)
	}

	set(&m.Evaluator.Host, o.Host)
	set(&m.Evaluator.Port, o.Port)
	set(&m.Evaluator.Token, o.Token)
	set(&m.Evaluator.BatchSize, o.BatchSize)
	set(&m.Evaluator.BatchInterval, o.BatchInterval)
	set(&m.Evaluator.SubscriberQueue, o.SubscriberQueue)
	set(&m.Ensemble.Realizations, o.Realizations)
	set(&m.Ensemble.MinRealizations, o.MinRealizations)
	set(&m.Queue.Driver, o.QueueDriver)
	set(&m.Queue.MaxRunning, o.MaxRunning)
	set(&m.Queue.SubmitRate, o.SubmitRate)
	set(&m.Queue.RunPath, o.RunPath)
	set(&m.Monitor.MaxRetries, o.MaxRetries)
	set(&m.Monitor.RetryWait, o.RetryWait)
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
