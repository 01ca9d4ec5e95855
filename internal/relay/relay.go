// Package relay publishes tracker progress to a socket.io dashboard.
package relay

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/specialistvlad/ensembletrack/internal/ctxlog"
	"github.com/specialistvlad/ensembletrack/internal/snapshot"
	"github.com/specialistvlad/ensembletrack/internal/tracker"
)

// DefaultEvent is the socket.io event name progress is emitted under.
const DefaultEvent = "ensemble-progress"

// Config says where to publish.
type Config struct {
	URL                string
	Namespace          string
	Event              string
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
}

// Relay is a connected publisher.
type Relay struct {
	io    *socket.Socket
	event string
}

// Dial connects to the socket.io server at cfg.URL over websockets.
func Dial(ctx context.Context, cfg Config) (*Relay, error) {
	logger := ctxlog.FromContext(ctx).With("component", "relay", "url", cfg.URL)

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if cfg.Event == "" {
		cfg.Event = DefaultEvent
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}

	opts := socket.DefaultOptions()
	if parsedURL.Path != "" {
		opts.SetPath(parsedURL.Path)
	}
	if cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connected := make(chan error, 1)
	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(cfg.Namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		select {
		case connected <- nil:
		default:
		}
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := errors.New("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		select {
		case connected <- err:
		default:
		}
	})

	logger.Debug("Connecting progress relay.")
	io.Connect()

	timer := time.NewTimer(cfg.ConnectTimeout)
	defer timer.Stop()
	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("waiting for socket.io connection: %w", ctx.Err())
	case <-timer.C:
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", cfg.ConnectTimeout)
	}

	logger.Info("📣 Progress relay connected.", "sid", io.Id())
	return &Relay{io: io, event: cfg.Event}, nil
}

// Publish emits ev. It does not wait for an acknowledgement.
func (r *Relay) Publish(ctx context.Context, ev tracker.Event) error {
	if !r.io.Connected() {
		return errors.New("progress relay is not connected")
	}
	r.io.Emit(r.event, toPayload(ev))
	return nil
}

// Close disconnects from the server.
func (r *Relay) Close() error {
	r.io.Disconnect()
	return nil
}

// Payload is the JSON document emitted for each progress event.
type Payload struct {
	Type          string                    `json:"type"`
	PhaseName     string                    `json:"phase_name,omitempty"`
	CurrentPhase  int                       `json:"current_phase"`
	TotalPhases   int                       `json:"total_phases"`
	Progress      float64                   `json:"progress"`
	Indeterminate bool                      `json:"indeterminate"`
	Iteration     int                       `json:"iteration"`
	Snapshot      *snapshot.Snapshot        `json:"snapshot,omitempty"`
	Partial       *snapshot.PartialSnapshot `json:"partial,omitempty"`
	Failed        bool                      `json:"failed,omitempty"`
	FailedMsg     string                    `json:"failed_msg,omitempty"`
	Successful    int                       `json:"successful,omitempty"`
	Total         int                       `json:"total,omitempty"`
}

func toPayload(ev tracker.Event) Payload {
	fromUpdate := func(typ string, u tracker.Update) Payload {
		return Payload{
			Type:          typ,
			PhaseName:     u.PhaseName,
			CurrentPhase:  u.CurrentPhase,
			TotalPhases:   u.TotalPhases,
			Progress:      u.Progress,
			Indeterminate: u.Indeterminate,
			Iteration:     u.Iteration,
		}
	}
	switch ev := ev.(type) {
	case *tracker.FullSnapshotEvent:
		p := fromUpdate("full_snapshot", ev.Update)
		p.Snapshot = ev.Snapshot
		return p
	case *tracker.SnapshotUpdateEvent:
		p := fromUpdate("snapshot_update", ev.Update)
		p.Partial = ev.Partial
		return p
	case *tracker.EndEvent:
		return Payload{
			Type:       "end",
			Progress:   1,
			Failed:     ev.Failed,
			FailedMsg:  ev.FailedMsg,
			Successful: ev.Successful,
			Total:      ev.Total,
		}
	default:
		return Payload{Type: "unknown"}
	}
}
