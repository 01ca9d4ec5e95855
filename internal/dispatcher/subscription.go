package dispatcher

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/specialistvlad/ensembletrack/internal/protocol"
)

// Subscription is one monitor's view of the broadcast.
type Subscription struct {
	id     string
	d      *Dispatcher
	limit  int
	notify chan struct{}

	mu       sync.Mutex
	queue    []protocol.Message
	ended    bool
	detached bool
}

// Subscribe attaches a new monitor. Its first message is a full snapshot.
// Subscribing after termination yields the final snapshot followed by
// ee-terminated.
func (d *Dispatcher) Subscribe() *Subscription {
	s := &Subscription{
		id:     uuid.NewString(),
		d:      d,
		limit:  d.cfg.SubscriberQueue,
		notify: make(chan struct{}, 1),
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	s.push(d.snapshotMessageLocked(), nil)
	if d.closed {
		s.push(protocol.NewTerminated(d.snap.ID, d.snap.Iteration), nil)
		return s
	}
	d.subs[s.id] = s
	subscribers.Inc()
	return s
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() string { return s.id }

// Next blocks until a message is available. After ee-terminated has been
// returned, or once the subscription is closed, it returns io.EOF.
func (s *Subscription) Next(ctx context.Context) (protocol.Message, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			m := s.queue[0]
			s.queue[0] = protocol.Message{}
			s.queue = s.queue[1:]
			if m.Terminal() {
				s.ended = true
			}
			s.mu.Unlock()
			return m, nil
		}
		if s.ended || s.detached {
			s.mu.Unlock()
			return protocol.Message{}, io.EOF
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-ctx.Done():
			return protocol.Message{}, ctx.Err()
		}
	}
}

// Close detaches the subscription. Undelivered messages are discarded.
func (s *Subscription) Close() {
	s.d.mu.Lock()
	if _, ok := s.d.subs[s.id]; ok {
		delete(s.d.subs, s.id)
		subscribers.Dec()
	}
	s.d.mu.Unlock()

	s.mu.Lock()
	s.detached = true
	s.queue = nil
	s.mu.Unlock()
	s.wake()
}

// push enqueues m. When the queue is full, the queued updates are replaced
// by a fresh snapshot from resync, which already contains m.
func (s *Subscription) push(m protocol.Message, resync func() protocol.Message) {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return
	}
	if !m.Terminal() && resync != nil && len(s.queue) >= s.limit {
		s.queue = append(s.queue[:0], resync())
		subscriberResyncs.Inc()
	} else {
		s.queue = append(s.queue, m)
	}
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
