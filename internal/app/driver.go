package app

import (
	"fmt"

	"github.com/specialistvlad/ensembletrack/internal/config"
	"github.com/specialistvlad/ensembletrack/internal/driver"
)

// newDriver builds the queue driver named by q.Driver. Shell settings are
// overlaid on the scheduler preset.
func newDriver(q config.Queue) (driver.Driver, error) {
	var preset driver.ShellConfig
	switch q.Driver {
	case "local":
		return driver.NewLocal(q.MaxRunning), nil
	case "lsf":
		preset = driver.LSF()
	case "torque":
		preset = driver.Torque()
	case "shell":
	default:
		return nil, fmt.Errorf("unknown driver %q", q.Driver)
	}
	return driver.NewShell(overlayShell(preset, q.Shell), driver.ExecRunner{})
}

func overlayShell(base driver.ShellConfig, s *config.Shell) driver.ShellConfig {
	if s == nil {
		return base
	}
	if len(s.SubmitCommand) > 0 {
		base.SubmitCommand = s.SubmitCommand
	}
	if len(s.StatusCommand) > 0 {
		base.StatusCommand = s.StatusCommand
	}
	if len(s.KillCommand) > 0 {
		base.KillCommand = s.KillCommand
	}
	if s.JobIDPattern != "" {
		base.JobIDPattern = s.JobIDPattern
	}
	if s.StatusField > 0 {
		base.StatusField = s.StatusField
	}
	if len(s.StatusMap) > 0 {
		m := make(map[string]driver.Status, len(base.StatusMap)+len(s.StatusMap))
		for k, v := range base.StatusMap {
			m[k] = v
		}
		for k, v := range s.StatusMap {
			m[k] = driver.Status(v)
		}
		base.StatusMap = m
	}
	if len(s.TransientPatterns) > 0 {
		base.TransientPatterns = s.TransientPatterns
	}
	if len(s.NotFoundPatterns) > 0 {
		base.NotFoundPatterns = s.NotFoundPatterns
	}
	return base
}
