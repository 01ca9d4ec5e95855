package config

import "time"

// Model is the unified representation of an evaluation's configuration.
type Model struct {
	Evaluator Evaluator
	Ensemble  Ensemble
	Queue     Queue
	Monitor   Monitor
	Tracker   Tracker
}

// Evaluator configures the server that producers and monitors connect to.
type Evaluator struct {
	Host            string `validate:"required"`
	Port            int    `validate:"gte=0,lte=65535"`
	Token           string
	BatchSize       int           `validate:"gte=1"`
	BatchInterval   time.Duration `validate:"gt=0"`
	SubscriberQueue int           `validate:"gte=1"`
}

// Ensemble describes the realizations to run.
type Ensemble struct {
	ID           string `validate:"required"`
	Realizations int    `validate:"gte=1"`
	Iteration    int    `validate:"gte=0"`
	// MinRealizations is the number of successful realizations required.
	// Zero falls back to MinSuccessRatio, and zero for both means all.
	MinRealizations int     `validate:"gte=0,ltefield=Realizations"`
	MinSuccessRatio float64 `validate:"gte=0,lte=1"`
	Steps           []Step  `validate:"required,min=1,dive"`
}

// Step is an ordered stage of every realization.
type Step struct {
	Name string `validate:"required"`
	Jobs []Job  `validate:"required,min=1,dive"`
}

// Job is one forward-model invocation inside a step.
type Job struct {
	Name       string `validate:"required"`
	Executable string `validate:"required"`
	Args       []string
	Env        map[string]string
}

// Queue configures how realizations are submitted.
type Queue struct {
	Driver            string        `validate:"oneof=local lsf torque shell"`
	MaxRunning        int           `validate:"gte=1"`
	MaxSubmitAttempts int           `validate:"gte=1"`
	InitialBackoff    time.Duration `validate:"gt=0"`
	MaxBackoff        time.Duration `validate:"gtefield=InitialBackoff"`
	PollInterval      time.Duration `validate:"gt=0"`
	SubmitRate        float64       `validate:"gte=0"`
	RunPath           string
	Shell             *Shell
}

// Shell overrides the command templates of a cluster scheduler driver.
// Unset fields keep the preset's value.
type Shell struct {
	SubmitCommand     []string
	StatusCommand     []string
	KillCommand       []string
	JobIDPattern      string
	StatusField       int `validate:"gte=0"`
	StatusMap         map[string]string
	TransientPatterns []string
	NotFoundPatterns  []string
}

// Monitor configures the reconnect policy of the evaluator's own monitor.
type Monitor struct {
	MaxRetries int           `validate:"gte=1"`
	RetryWait  time.Duration `validate:"gte=0"`
}

// Tracker names the phases reported by the progress tracker.
type Tracker struct {
	PhaseName  string `validate:"required"`
	PhaseCount int    `validate:"gte=1"`
}

// Default returns a model with every optional setting filled in.
func Default() *Model {
	return &Model{
		Evaluator: Evaluator{
			Host:            "127.0.0.1",
			BatchSize:       100,
			BatchInterval:   100 * time.Millisecond,
			SubscriberQueue: 64,
		},
		Ensemble: Ensemble{ID: "default", Realizations: 1},
		Queue: Queue{
			Driver:            "local",
			MaxRunning:        4,
			MaxSubmitAttempts: 5,
			InitialBackoff:    500 * time.Millisecond,
			MaxBackoff:        30 * time.Second,
			PollInterval:      2 * time.Second,
		},
		Monitor: Monitor{MaxRetries: 3, RetryWait: time.Second},
		Tracker: Tracker{PhaseName: "Running forecast", PhaseCount: 1},
	}
}

// Address returns the evaluator's listen address.
func (e Evaluator) Address() string {
	return joinHostPort(e.Host, e.Port)
}
