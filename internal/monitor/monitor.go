package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/specialistvlad/ensembletrack/internal/ctxlog"
	"github.com/specialistvlad/ensembletrack/internal/event"
	"github.com/specialistvlad/ensembletrack/internal/protocol"
)

// Stream is one connection to the dispatcher's broadcast.
type Stream interface {
	Next(ctx context.Context) (protocol.Message, error)
	Send(ctx context.Context, req protocol.Request) error
	Close() error
}

// Connector opens streams.
type Connector interface {
	Connect(ctx context.Context) (Stream, error)
}

// Policy bounds reconnection.
type Policy struct {
	MaxRetries int
	RetryWait  time.Duration
}

// DefaultPolicy allows three consecutive failures one second apart.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, RetryWait: time.Second}
}

// State is the position of Track's state machine.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateStreaming  State = "streaming"
	StateBackoff    State = "backoff"
	StateFailed     State = "failed"
	StateDone       State = "done"
)

// Monitor follows one evaluation.
type Monitor struct {
	connector Connector
	policy    Policy

	mu     sync.Mutex
	stream Stream
	state  State
}

// New creates a monitor. Zero policy fields fall back to DefaultPolicy.
func New(connector Connector, policy Policy) *Monitor {
	def := DefaultPolicy()
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = def.MaxRetries
	}
	if policy.RetryWait < 0 {
		policy.RetryWait = 0
	}
	return &Monitor{connector: connector, policy: policy, state: StateIdle}
}

// State returns the current state of the tracking loop.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SignalCancel asks the dispatcher to terminate the evaluation.
func (m *Monitor) SignalCancel(ctx context.Context) error {
	return m.send(ctx, event.UserCancel)
}

// SignalDone tells the dispatcher the monitor has seen enough.
func (m *Monitor) SignalDone(ctx context.Context) error {
	return m.send(ctx, event.UserDone)
}

func (m *Monitor) send(ctx context.Context, kind event.Kind) error {
	m.mu.Lock()
	stream := m.stream
	m.mu.Unlock()
	if stream == nil {
		return ErrNotConnected
	}
	if err := stream.Send(ctx, protocol.NewRequest(kind)); err != nil {
		return fmt.Errorf("sending %s: %w", kind, err)
	}
	return nil
}

func (m *Monitor) enter(s State, stream Stream) {
	m.mu.Lock()
	m.state = s
	m.stream = stream
	m.mu.Unlock()
}

// Track streams broadcast messages to yield until ee-terminated has been
// yielded, ctx ends, yield fails, or reconnection is exhausted. Every stream
// starts with a full snapshot.
func (m *Monitor) Track(ctx context.Context, yield func(protocol.Message) error) error {
	logger := ctxlog.FromContext(ctx).With("component", "monitor")

	var (
		state    = StateConnecting
		stream   Stream
		failures int
		lastErr  error
	)
	fail := func(err error) State {
		lastErr = err
		class := Classify(err)
		connectionFailures.WithLabelValues(class.String()).Inc()
		if class == Fatal {
			logger.Error("Monitor connection failed fatally.", "error", err)
			return StateFailed
		}
		failures++
		logger.Warn("Monitor connection failed.", "error", err, "failures", failures, "max_retries", m.policy.MaxRetries)
		return StateBackoff
	}

	for {
		switch state {
		case StateConnecting:
			m.enter(StateConnecting, nil)
			s, err := m.connector.Connect(ctx)
			if err != nil {
				if ctx.Err() != nil {
					m.enter(StateIdle, nil)
					return ctx.Err()
				}
				state = fail(err)
				continue
			}
			stream = s
			logger.Debug("Monitor connected.")
			state = StateStreaming

		case StateStreaming:
			m.enter(StateStreaming, stream)
			delivered, yieldErr, err := m.consume(ctx, stream, yield)
			_ = stream.Close()
			m.enter(StateStreaming, nil)
			if delivered {
				failures = 0
			}
			switch {
			case yieldErr != nil:
				m.enter(StateIdle, nil)
				return yieldErr
			case err == nil:
				state = StateDone
			case ctx.Err() != nil:
				m.enter(StateIdle, nil)
				return ctx.Err()
			default:
				state = fail(err)
			}

		case StateBackoff:
			if failures >= m.policy.MaxRetries {
				state = StateFailed
				continue
			}
			m.enter(StateBackoff, nil)
			reconnects.Inc()
			timer := time.NewTimer(m.policy.RetryWait)
			select {
			case <-ctx.Done():
				timer.Stop()
				m.enter(StateIdle, nil)
				return ctx.Err()
			case <-timer.C:
			}
			state = StateConnecting

		case StateFailed:
			m.enter(StateFailed, nil)
			return &FatalConnectionError{Attempts: failures, Err: lastErr}

		case StateDone:
			m.enter(StateDone, nil)
			logger.Debug("Monitor received termination.")
			return nil
		}
	}
}

// consume reads one stream. It returns a nil err only after yielding
// ee-terminated.
func (m *Monitor) consume(ctx context.Context, stream Stream, yield func(protocol.Message) error) (delivered bool, yieldErr, err error) {
	for {
		msg, err := stream.Next(ctx)
		if err != nil {
			return delivered, nil, err
		}
		if !delivered && msg.Kind != event.Snapshot {
			return false, nil, fmt.Errorf("%w: stream opened with %s instead of a snapshot", ErrProtocol, msg.Kind)
		}
		delivered = true
		if err := yield(msg); err != nil {
			return true, err, nil
		}
		if msg.Terminal() {
			return true, nil, nil
		}
	}
}
