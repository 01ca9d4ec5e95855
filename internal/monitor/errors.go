package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned when a request is sent without a live stream.
var ErrNotConnected = errors.New("monitor is not connected")

// ErrProtocol marks a stream that broke the broadcast protocol.
var ErrProtocol = errors.New("protocol violation")

// FatalConnectionError is returned by Track when it gives up.
type FatalConnectionError struct {
	Attempts int
	Err      error
}

func (e *FatalConnectionError) Error() string {
	return fmt.Sprintf("monitor gave up after %d failed attempts: %v", e.Attempts, e.Err)
}

func (e *FatalConnectionError) Unwrap() error { return e.Err }

// Class groups connection failures by how Track reacts to them.
type Class int

const (
	// Transient failures are retried.
	Transient Class = iota
	// Fatal failures abort tracking.
	Fatal
)

func (c Class) String() string {
	if c == Transient {
		return "transient"
	}
	return "fatal"
}

// Classify decides whether err is worth retrying.
func Classify(err error) Class {
	if err == nil {
		return Transient
	}
	if errors.Is(err, ErrProtocol) || errors.Is(err, websocket.ErrBadHandshake) {
		return Fatal
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseAbnormalClosure,
			websocket.CloseServiceRestart,
			websocket.CloseTryAgainLater:
			return Transient
		default:
			return Fatal
		}
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded):
		return Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Transient
	}
	return Fatal
}
