package bus

import (
	"context"
	"sync"
	"time"
)

const defaultEventBuffer = 100

type EventType string

const (
	EventJobEnqueued  EventType = "job_enqueued"
	EventJobReplied   EventType = "job_replied"
	EventJobUnmatched EventType = "job_unmatched"
	EventJobFailed    EventType = "job_failed"
)

type Event struct {
	Type    EventType `json:"type"`
	At      time.Time `json:"at"`
	JobID   string    `json:"job_id,omitempty"`
	Channel string    `json:"channel,omitempty"`
	RoomID  string    `json:"room_id,omitempty"`
	Text    string    `json:"text,omitempty"`
	Reply   string    `json:"reply,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// EventHub fans job lifecycle events out to subscribers. Slow subscribers
// lose events instead of blocking the publisher.
type EventHub struct {
	done      chan struct{}
	closeOnce sync.Once

	mu          sync.RWMutex
	subscribers map[uint64]chan Event
	nextID      uint64
}

func NewEventHub() *EventHub {
	return &EventHub{
		done:        make(chan struct{}),
		subscribers: make(map[uint64]chan Event),
	}
}

func (h *EventHub) Publish(ctx context.Context, event Event) bool {
	if h == nil {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return false
	case <-h.done:
		return false
	default:
	}

	// Sends never block, so holding the read lock keeps Close and
	// unsubscribe from closing a channel mid-send.
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
		}
	}

	return true
}

func (h *EventHub) Subscribe(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}

	ch := make(chan Event, buffer)

	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := h.nextID
	h.nextID++
	h.subscribers[id] = ch
	h.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			if eventCh, ok := h.subscribers[id]; ok {
				delete(h.subscribers, id)
				close(eventCh)
			}
			h.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-h.done:
			unsubscribe()
		}
	}()

	return ch, unsubscribe
}

func (h *EventHub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		for id, ch := range h.subscribers {
			close(ch)
			delete(h.subscribers, id)
		}
		h.mu.Unlock()
	})
}
