// Package producer sends events to an evaluator's dispatch endpoint.
package producer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/specialistvlad/ensembletrack/internal/event"
	"github.com/specialistvlad/ensembletrack/internal/monitor"
)

// ErrEvaluatorClosed is returned once the evaluator has closed the
// connection because the evaluation is over.
var ErrEvaluatorClosed = errors.New("evaluator closed the connection")

// Client is a producer connection. It is safe for concurrent use.
type Client struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// Dial connects to url, e.g. ws://127.0.0.1:8080/dispatch.
func Dial(ctx context.Context, url, token string) (*Client, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	header := http.Header{}
	if token != "" {
		header.Set(monitor.TokenHeader, token)
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", url, err)
	}

	c := &Client{conn: conn, done: make(chan struct{})}
	go c.readLoop()
	return c, nil
}

// readLoop consumes control frames so a close from the evaluator is noticed.
func (c *Client) readLoop() {
	defer close(c.done)
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}

// Send writes one event.
func (c *Client) Send(ctx context.Context, ev event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrEvaluatorClosed
	}
	select {
	case <-c.done:
		return ErrEvaluatorClosed
	default:
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(ev); err != nil {
		return fmt.Errorf("sending %s: %w", ev.Kind, err)
	}
	return nil
}

// Close says goodbye to the evaluator and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}
