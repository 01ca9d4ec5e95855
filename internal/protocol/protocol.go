// Package protocol defines the messages exchanged between the dispatcher and
// monitors over the client connection.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/specialistvlad/ensembletrack/internal/event"
	"github.com/specialistvlad/ensembletrack/internal/nodeid"
	"github.com/specialistvlad/ensembletrack/internal/snapshot"
)

// Message is a broadcast from the dispatcher to a monitor. Exactly one of
// Snapshot (for ee-snapshot) or Partial (for ee-snapshot-update) is set;
// ee-terminated carries neither.
type Message struct {
	Kind      event.Kind                `json:"type"`
	ID        string                    `json:"id"`
	Source    nodeid.Address            `json:"source"`
	Time      time.Time                 `json:"time"`
	Iteration int                       `json:"iteration"`
	Snapshot  *snapshot.Snapshot        `json:"snapshot,omitempty"`
	Partial   *snapshot.PartialSnapshot `json:"partial,omitempty"`
}

// NewSnapshot wraps a full snapshot.
func NewSnapshot(snap *snapshot.Snapshot) Message {
	return newMessage(event.Snapshot, snap.ID, snap.Iteration, func(m *Message) { m.Snapshot = snap })
}

// NewUpdate wraps a diff.
func NewUpdate(ensembleID string, iteration int, partial *snapshot.PartialSnapshot) Message {
	return newMessage(event.SnapshotUpdate, ensembleID, iteration, func(m *Message) { m.Partial = partial })
}

// NewTerminated marks the end of the stream.
func NewTerminated(ensembleID string, iteration int) Message {
	return newMessage(event.Terminated, ensembleID, iteration, nil)
}

func newMessage(kind event.Kind, ensembleID string, iteration int, set func(*Message)) Message {
	m := Message{
		Kind:      kind,
		ID:        uuid.NewString(),
		Source:    nodeid.ForEnsemble(ensembleID),
		Time:      time.Now().UTC(),
		Iteration: iteration,
	}
	if set != nil {
		set(&m)
	}
	return m
}

// Terminal reports whether m ends the stream.
func (m Message) Terminal() bool { return m.Kind == event.Terminated }

// DecodeMessage parses and validates a broadcast message.
func DecodeMessage(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("decoding message: %w", err)
	}
	switch m.Kind {
	case event.Snapshot:
		if m.Snapshot == nil {
			return Message{}, fmt.Errorf("message %s: %s without snapshot", m.ID, m.Kind)
		}
	case event.SnapshotUpdate:
		if m.Partial == nil {
			return Message{}, fmt.Errorf("message %s: %s without partial", m.ID, m.Kind)
		}
	case event.Terminated:
	default:
		return Message{}, fmt.Errorf("message %s: unexpected type %q", m.ID, m.Kind)
	}
	return m, nil
}

// Request is sent by a monitor to control the evaluation.
type Request struct {
	Kind event.Kind `json:"type"`
	ID   string     `json:"id"`
}

// NewRequest creates a request of the given kind with a fresh id.
func NewRequest(kind event.Kind) Request {
	return Request{Kind: kind, ID: uuid.NewString()}
}

// DecodeRequest parses and validates a monitor request.
func DecodeRequest(raw []byte) (Request, error) {
	var r Request
	if err := json.Unmarshal(raw, &r); err != nil {
		return Request{}, fmt.Errorf("decoding request: %w", err)
	}
	if !r.Kind.IsRequest() {
		return Request{}, fmt.Errorf("request %s: unexpected type %q", r.ID, r.Kind)
	}
	return r, nil
}
