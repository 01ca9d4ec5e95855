package dispatcher

import (
	"errors"
	"fmt"

	"github.com/specialistvlad/ensembletrack/internal/event"
)

// ErrClosed is returned by operations on a dispatcher that has terminated.
var ErrClosed = errors.New("dispatcher closed")

// HandlerError records the failure of the handler registered for Kind.
type HandlerError struct {
	Kind event.Kind
	Err  error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler for %q failed: %v", e.Kind, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
