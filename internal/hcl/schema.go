package hcl

import "github.com/hashicorp/hcl/v2"

// fileRoot decodes every top-level block a file may contain.
type fileRoot struct {
	Evaluator *evaluatorBlock  `hcl:"evaluator,block"`
	Ensembles []*ensembleBlock `hcl:"ensemble,block"`
	Queue     *queueBlock      `hcl:"queue,block"`
	Monitor   *monitorBlock    `hcl:"monitor,block"`
	Tracker   *trackerBlock    `hcl:"tracker,block"`
	Remain    hcl.Body         `hcl:",remain"`
}

type evaluatorBlock struct {
	Host            *string `hcl:"host,optional"`
	Port            *int    `hcl:"port,optional"`
	Token           *string `hcl:"token,optional"`
	BatchSize       *int    `hcl:"batch_size,optional"`
	BatchInterval   *string `hcl:"batch_interval,optional"`
	SubscriberQueue *int    `hcl:"subscriber_queue,optional"`
}

type ensembleBlock struct {
	ID              string       `hcl:"id,label"`
	Realizations    *int         `hcl:"realizations,optional"`
	Iteration       *int         `hcl:"iteration,optional"`
	MinRealizations *int         `hcl:"min_realizations,optional"`
	MinSuccessRatio *float64     `hcl:"min_success_ratio,optional"`
	Steps           []*stepBlock `hcl:"step,block"`
}

type stepBlock struct {
	Name string      `hcl:"name,label"`
	Jobs []*jobBlock `hcl:"job,block"`
}

type jobBlock struct {
	Name       string         `hcl:"name,label"`
	Executable string         `hcl:"executable"`
	Args       hcl.Expression `hcl:"args,optional"`
	Env        hcl.Expression `hcl:"env,optional"`
}

type queueBlock struct {
	Driver            *string     `hcl:"driver,optional"`
	MaxRunning        *int        `hcl:"max_running,optional"`
	MaxSubmitAttempts *int        `hcl:"max_submit_attempts,optional"`
	InitialBackoff    *string     `hcl:"initial_backoff,optional"`
	MaxBackoff        *string     `hcl:"max_backoff,optional"`
	PollInterval      *string     `hcl:"poll_interval,optional"`
	SubmitRate        *float64    `hcl:"submit_rate,optional"`
	RunPath           *string     `hcl:"run_path,optional"`
	Shell             *shellBlock `hcl:"shell,block"`
}

type shellBlock struct {
	SubmitCommand     hcl.Expression `hcl:"submit_command,optional"`
	StatusCommand     hcl.Expression `hcl:"status_command,optional"`
	KillCommand       hcl.Expression `hcl:"kill_command,optional"`
	JobIDPattern      *string        `hcl:"job_id_pattern,optional"`
	StatusField       *int           `hcl:"status_field,optional"`
	StatusMap         hcl.Expression `hcl:"status_map,optional"`
	TransientPatterns hcl.Expression `hcl:"transient_patterns,optional"`
	NotFoundPatterns  hcl.Expression `hcl:"not_found_patterns,optional"`
}

type monitorBlock struct {
	MaxRetries *int    `hcl:"max_retries,optional"`
	RetryWait  *string `hcl:"retry_wait,optional"`
}

type trackerBlock struct {
	PhaseName  *string `hcl:"phase_name,optional"`
	PhaseCount *int    `hcl:"phase_count,optional"`
}
