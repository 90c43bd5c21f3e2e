package logger

import (
	"io"
	"log/slog"
	"strings"

	"unfurlbot/pkg/bus"
)

// Attribute keys shared by every component.
const (
	KeyComponent = "component"
	KeyJobID     = "job_id"
	KeyChannel   = "channel"
	KeyRoomID    = "room_id"
	KeyEntry     = "entry"
	KeyText      = "text"
	KeyError     = "error"
)

// PreviewLimit bounds chat text copied into log lines.
const PreviewLimit = 200

// Component returns log (or the process default when nil) tagged with a component name.
func Component(log *slog.Logger, name string) *slog.Logger {
	if log == nil {
		log = slog.Default()
	}
	return log.With(KeyComponent, name)
}

// ForMessage tags log with where msg came from and a preview of its text.
func ForMessage(log *slog.Logger, msg bus.InboundMessage) *slog.Logger {
	if log == nil {
		log = slog.Default()
	}
	return log.With(
		KeyChannel, msg.Channel,
		KeyRoomID, msg.RoomID,
		KeyText, Preview(msg.Text, PreviewLimit),
	)
}

// Job is ForMessage plus the worker's job id.
func Job(log *slog.Logger, jobID string, msg bus.InboundMessage) *slog.Logger {
	return ForMessage(log, msg).With(KeyJobID, jobID)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// Preview trims text and cuts it to limit runes. limit <= 0 keeps it whole.
func Preview(text string, limit int) string {
	trimmed := strings.TrimSpace(text)
	if limit <= 0 {
		return trimmed
	}

	runes := []rune(trimmed)
	if len(runes) <= limit {
		return trimmed
	}
	return string(runes[:limit]) + "..."
}
