// Package bot turns one chat message into at most one reply.
package bot

import (
	"context"
	"strings"

	"unfurlbot/pkg/bus"
)

const (
	pingText = "ping"
	pongText = "pong"
)

// TextScanner extracts reply fragments from message text in discovery order.
type TextScanner interface {
	Scan(ctx context.Context, text string) []string
}

// PostProcessor rewrites the joined reply once before it is sent.
type PostProcessor func(text string) string

// Handler answers the liveness probe and otherwise unfurls whatever the
// message text references.
type Handler struct {
	scanner TextScanner
	post    PostProcessor
}

// NewHandler builds a handler. post may be nil.
func NewHandler(scanner TextScanner, post PostProcessor) *Handler {
	return &Handler{scanner: scanner, post: post}
}

// Handle returns the reply for msg. ok is false when nothing matched, which
// is different from a reply that happens to be empty.
func (h *Handler) Handle(ctx context.Context, msg bus.InboundMessage) (reply string, ok bool) {
	if msg.Text == pingText {
		return pongText, true
	}
	if h.scanner == nil {
		return "", false
	}

	results := h.scanner.Scan(ctx, msg.Text)
	if len(results) == 0 {
		return "", false
	}

	reply = strings.Join(results, "\n")
	if h.post != nil {
		reply = h.post(reply)
	}
	return reply, true
}
