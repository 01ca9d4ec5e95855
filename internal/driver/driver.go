package driver

import (
	"context"
	"errors"
	"fmt"
)

// Status is the coarse lifecycle state reported by a backend.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusDone    Status = "DONE"
	StatusFailed  Status = "FAILED"
)

// Terminal reports whether the job has finished.
func (s Status) Terminal() bool { return s == StatusDone || s == StatusFailed }

// Handle identifies a submitted job within its driver.
type Handle string

// JobSpec describes one job to run.
type JobSpec struct {
	Name       string
	Executable string
	Args       []string
	Env        map[string]string
	RunPath    string
	NumCPU     int
	MemoryMB   int
}

// Driver is implemented by every execution backend.
type Driver interface {
	Submit(ctx context.Context, spec JobSpec) (Handle, error)
	Poll(ctx context.Context, h Handle) (Status, error)
	// Kill is best effort and idempotent.
	Kill(ctx context.Context, h Handle) error
}

// Describer is implemented by drivers that can explain why a job failed.
type Describer interface {
	Describe(ctx context.Context, h Handle) string
}

// ErrUnknownHandle is returned for handles the driver did not issue.
var ErrUnknownHandle = errors.New("unknown job handle")

// ErrResourceUnavailable is the transient cause reported by a full backend.
var ErrResourceUnavailable = errors.New("resource temporarily unavailable")

// Class tells the job queue whether a submission may be retried.
type Class int

const (
	ClassTransient Class = iota
	ClassPermanent
)

func (c Class) String() string {
	if c == ClassTransient {
		return "transient"
	}
	return "permanent"
}

// SubmitError is returned by Submit.
type SubmitError struct {
	Class Class
	Err   error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("%s submit error: %v", e.Class, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable submission failure.
func Transient(err error) error { return &SubmitError{Class: ClassTransient, Err: err} }

// Permanent wraps err as a submission failure that must not be retried.
func Permanent(err error) error { return &SubmitError{Class: ClassPermanent, Err: err} }

// IsTransient reports whether err is a transient SubmitError.
func IsTransient(err error) bool {
	var se *SubmitError
	return errors.As(err, &se) && se.Class == ClassTransient
}
