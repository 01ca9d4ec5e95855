package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ConfigPath string // hcl file or directory

	LogFormat       string
	LogLevel        string
	HealthcheckPort int

	// RelayURL is an optional socket.io endpoint receiving progress events.
	RelayURL string
	// Trace exports spans to the log output when set.
	Trace bool
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.ConfigPath == "" {
		return nil, errors.New("ConfigPath is a required configuration field and cannot be empty")
	}
	if cfg.HealthcheckPort < 0 {
		return nil, errors.New("HealthcheckPort cannot be negative")
	}
	return &cfg, nil
}
