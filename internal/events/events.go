// Package events is the outbound channel the core publishes state changes
// to. Delivery to connected clients happens elsewhere. Publishers never fail
// the operation that produced the event. The in-process Broker never blocks;
// RedisPublisher does a synchronous round trip bounded by its timeout.
package events

import (
	"context"
	"sync"
	"time"
)

// Event types.
const (
	ChatOpened            = "chat-opened"
	ChatClosed            = "chat-closed"
	AssignmentCreated     = "assignment-created"
	AssignmentReleased    = "assignment-released"
	ChatEscalated         = "chat-escalated"
	MessageAppended       = "message-appended"
	OperatorStatusChanged = "operator-status-changed"
)

// Event is one state change.
type Event struct {
	Type       string    `json:"type"`
	ChatID     string    `json:"chat_id,omitempty"`
	OperatorID string    `json:"operator_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Available  *bool     `json:"available,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher accepts events for delivery.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

type discard struct{}

func (discard) Publish(context.Context, Event) {}

// Discard drops every event.
var Discard Publisher = discard{}

// Or returns p, or Discard when p is nil.
func Or(p Publisher) Publisher {
	if p == nil {
		return Discard
	}
	return p
}

// Multi fans one event out to several publishers in order.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, e)
		}
	}
}

// Broker is an in-process fan-out. Each subscriber gets a buffered channel;
// a subscriber that falls behind loses events rather than stalling publishers.
type Broker struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	buffer int
	closed bool
}

// NewBroker returns a Broker whose subscriber channels hold buffer events.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe returns a channel of future events and a cancel func that
// unsubscribes and closes the channel.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish implements Publisher.
func (b *Broker) Publish(_ context.Context, e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close closes every subscriber channel. Later Publish calls are no-ops.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

// Recorder keeps every published event. Used by tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events with the given type.
func (r *Recorder) OfType(typ string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
