package jobqueue

import "time"

// Config tunes submission and polling.
type Config struct {
	MaxSubmitAttempts int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	PollInterval      time.Duration
	// SubmitRate caps submissions per second. Zero or less means unlimited.
	SubmitRate float64
	Workers    int
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxSubmitAttempts: 5,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		PollInterval:      2 * time.Second,
		Workers:           16,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxSubmitAttempts <= 0 {
		c.MaxSubmitAttempts = d.MaxSubmitAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = max(d.MaxBackoff, c.InitialBackoff)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	return c
}
