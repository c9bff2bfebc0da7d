// Package bus provides the async message bus between action requesters and
// the action loop, and fans engine events out to subscribers.
package bus

import (
	"context"
	"sync"
	"time"
)

// Event kinds.
const (
	EventCycleReport   = "cycle_report"
	EventConsolidation = "consolidation"
	EventActionResult  = "action_result"
)

// ActionRequest asks the action loop for one externally-driven action.
type ActionRequest struct {
	SessionID string         `json:"session_id"`
	TraceID   string         `json:"trace_id"`
	Objective string         `json:"objective"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Event is an engine notification: a cycle report, a forced consolidation,
// or an action result.
type Event struct {
	SessionID string    `json:"session_id"`
	TraceID   string    `json:"trace_id"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageBus decouples requesters from the action loop.
type MessageBus struct {
	requests chan *ActionRequest
	events   chan *Event
	subs     map[string][]func(*Event)
	mu       sync.RWMutex
}

// NewMessageBus creates a new message bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		requests: make(chan *ActionRequest, 100),
		events:   make(chan *Event, 100),
		subs:     make(map[string][]func(*Event)),
	}
}

// PublishRequest queues an action request for the loop.
func (b *MessageBus) PublishRequest(req *ActionRequest) {
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}
	b.requests <- req
}

// ConsumeRequest blocks until a request is available or ctx is cancelled.
func (b *MessageBus) ConsumeRequest(ctx context.Context) (*ActionRequest, error) {
	select {
	case req := <-b.requests:
		return req, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PublishEvent queues an event for dispatch.
func (b *MessageBus) PublishEvent(evt *Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.events <- evt
}

// Subscribe registers a callback for events of one kind.
func (b *MessageBus) Subscribe(kind string, callback func(*Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[kind] = append(b.subs[kind], callback)
}

// DispatchEvents runs the event dispatcher. Run as a goroutine.
func (b *MessageBus) DispatchEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-b.events:
			b.mu.RLock()
			callbacks := b.subs[evt.Kind]
			b.mu.RUnlock()
			for _, cb := range callbacks {
				cb(evt)
			}
		}
	}
}
