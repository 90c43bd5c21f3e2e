package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"unfurlbot/pkg/bus"
	"unfurlbot/pkg/logger"
)

// Enqueuer accepts inbound messages for the worker.
type Enqueuer interface {
	Enqueue(msg bus.InboundMessage) error
}

// Sender delivers one reply into the room it was addressed to.
type Sender interface {
	Notify(ctx context.Context, out bus.OutboundMessage) error
}

// Adapter bridges one external transport (for example Telegram) into the job queue.
type Adapter interface {
	Name() string
	Run(ctx context.Context, queue Enqueuer) error
}

// Router sends each reply through the sender registered for its channel.
type Router struct {
	mu       sync.RWMutex
	senders  map[string]Sender
	fallback Sender
}

// NewRouter returns a router. fallback handles channels with no registered
// sender and may be nil.
func NewRouter(fallback Sender) *Router {
	return &Router{senders: make(map[string]Sender), fallback: fallback}
}

// Register binds sender to the channel name.
func (r *Router) Register(name string, sender Sender) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("channel name is required")
	}
	if sender == nil {
		return fmt.Errorf("channel %s: sender is required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.senders[name]; exists {
		return fmt.Errorf("channel %s: sender already registered", name)
	}
	r.senders[name] = sender
	return nil
}

// Notify forwards out to the sender owning out.Channel.
func (r *Router) Notify(ctx context.Context, out bus.OutboundMessage) error {
	r.mu.RLock()
	sender, ok := r.senders[out.Channel]
	r.mu.RUnlock()

	if !ok {
		sender = r.fallback
	}
	if sender == nil {
		return fmt.Errorf("no sender for channel %q", out.Channel)
	}
	return sender.Notify(ctx, out)
}

// LogSender writes replies to the log instead of a chat room. It stands in
// for real transports during development.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	return &LogSender{log: logger.Component(log, "channel.log")}
}

func (s *LogSender) Notify(_ context.Context, out bus.OutboundMessage) error {
	s.log.Info("Say to room",
		logger.KeyChannel, out.Channel,
		logger.KeyRoomID, out.RoomID,
		logger.KeyJobID, out.JobID,
		logger.KeyText, out.Text,
	)
	return nil
}
