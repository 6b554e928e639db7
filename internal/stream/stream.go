package stream

import (
	"context"
	"sync"
	"time"

	"refundly.org/internal/allocation"
)

// Event describes one allocation lifecycle transition for the live activity
// feed on the admin dashboard.
type Event struct {
	AllocationID string            `json:"allocation_id"`
	ClientID     string            `json:"client_id"`
	From         allocation.Status `json:"from"`
	To           allocation.Status `json:"to"`
	Actor        string            `json:"actor,omitempty"`
	TotalRefund  int64             `json:"total_refund"`
	ClientPayout int64             `json:"client_payout"`
	Timestamp    time.Time         `json:"timestamp"`
}

// Stream fan-outs lifecycle events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Transition builds an event for a persisted transition.
func Transition(a allocation.RefundAllocation, from allocation.Status, actor string) Event {
	return Event{
		AllocationID: a.ID,
		ClientID:     a.ClientID,
		From:         from,
		To:           a.Status,
		Actor:        actor,
		TotalRefund:  a.TotalRefund,
		ClientPayout: a.ClientPayout,
		Timestamp:    a.UpdatedAt,
	}
}
