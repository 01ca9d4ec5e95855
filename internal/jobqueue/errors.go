package jobqueue

import (
	"errors"
	"fmt"

	"github.com/specialistvlad/ensembletrack/internal/driver"
)

// ErrKilled is recorded for jobs that were not submitted because the queue
// was killed first.
var ErrKilled = errors.New("job queue killed")

// JobRuntimeError describes a job that failed after it was submitted.
type JobRuntimeError struct {
	Realization int
	Status      driver.Status
	Message     string
}

func (e *JobRuntimeError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("realization %d finished with status %s", e.Realization, e.Status)
	}
	return fmt.Sprintf("realization %d finished with status %s: %s", e.Realization, e.Status, e.Message)
}
