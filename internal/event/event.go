package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/specialistvlad/ensembletrack/internal/nodeid"
)

// Event is a single state transition report or control message.
type Event struct {
	Kind   Kind           `json:"type"`
	Source nodeid.Address `json:"source"`
	ID     string         `json:"id"`
	Time   time.Time      `json:"time"`
	Data   map[string]any `json:"data,omitempty"`
}

// New creates an event with a fresh ID and the current UTC time.
func New(kind Kind, source nodeid.Address, data map[string]any) Event {
	return Event{
		Kind:   kind,
		Source: source,
		ID:     uuid.NewString(),
		Time:   time.Now().UTC(),
		Data:   data,
	}
}

// Decode parses a single JSON-encoded event. Kinds outside the registry are
// accepted so that custom handlers can receive them; broadcast kinds are not.
func Decode(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("decoding event: %w", err)
	}
	if ev.Kind == "" {
		return Event{}, fmt.Errorf("decoding event %s: missing type", ev.ID)
	}
	if ev.Source.Ensemble == "" {
		return Event{}, fmt.Errorf("decoding event %s: missing source", ev.ID)
	}
	if ev.Kind.IsBroadcast() {
		return Event{}, fmt.Errorf("decoding event %s: %q is not a producer event", ev.ID, ev.Kind)
	}
	return ev, nil
}

// String returns the event's data value for key, or "" if absent or not a string.
func (e Event) String(key string) string {
	if e.Data == nil {
		return ""
	}
	s, _ := e.Data[key].(string)
	return s
}

// Int64 returns the event's data value for key as an integer. JSON numbers
// decode as float64, so both representations are accepted.
func (e Event) Int64(key string) (int64, bool) {
	if e.Data == nil {
		return 0, false
	}
	switch v := e.Data[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}
