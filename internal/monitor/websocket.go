package monitor

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/specialistvlad/ensembletrack/internal/protocol"
)

// TokenHeader carries the evaluator's shared secret.
const TokenHeader = "token"

// WebSocketConnector dials the evaluator's client endpoint.
type WebSocketConnector struct {
	// URL is the full endpoint, e.g. ws://127.0.0.1:8080/client.
	URL   string
	Token string
	// Dialer defaults to a copy of websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Connect implements Connector.
func (c *WebSocketConnector) Connect(ctx context.Context) (Stream, error) {
	dialer := c.Dialer
	if dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = 10 * time.Second
		dialer = &d
	}
	header := http.Header{}
	if c.Token != "" {
		header.Set(TokenHeader, c.Token)
	}

	conn, resp, err := dialer.DialContext(ctx, c.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connecting to %s (HTTP %d): %w", c.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("connecting to %s: %w", c.URL, err)
	}
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *wsStream) Next(ctx context.Context) (protocol.Message, error) {
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	_, raw, err := s.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return protocol.Message{}, ctx.Err()
		}
		return protocol.Message{}, err
	}
	msg, err := protocol.DecodeMessage(raw)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return msg, nil
}

func (s *wsStream) Send(ctx context.Context, req protocol.Request) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
		defer func() { _ = s.conn.SetWriteDeadline(time.Time{}) }()
	}
	return s.conn.WriteJSON(req)
}

func (s *wsStream) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}
