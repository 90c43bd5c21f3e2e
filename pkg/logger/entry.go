package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogEntry is one JSON log line. Routing keys that every worker, scanner and
// channel line carries get their own fields; everything else lands in Fields.
type LogEntry struct {
	Time      string         `json:"time"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	JobID     string         `json:"job_id,omitempty"`
	Channel   string         `json:"channel,omitempty"`
	RoomID    string         `json:"room_id,omitempty"`
	Entry     string         `json:"entry,omitempty"`
	Message   string         `json:"message"`
	Error     string         `json:"error,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Caller    string         `json:"caller,omitempty"`
}

// add records a, nested under prefix when it was logged inside a group.
func (e *LogEntry) add(prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup && a.Key == "" {
		for _, inner := range a.Value.Group() {
			e.add(prefix, inner)
		}
		return
	}
	if prefix == "" && e.promote(a) {
		return
	}

	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[prefix+a.Key] = plain(a.Value)
}

// promote moves a top-level routing attribute into its own field.
func (e *LogEntry) promote(a slog.Attr) bool {
	var target *string
	switch a.Key {
	case KeyComponent:
		target = &e.Component
	case KeyJobID:
		target = &e.JobID
	case KeyChannel:
		target = &e.Channel
	case KeyRoomID:
		target = &e.RoomID
	case KeyEntry:
		target = &e.Entry
	case KeyError:
		target = &e.Error
	default:
		return false
	}

	switch a.Value.Kind() {
	case slog.KindString:
		*target = a.Value.String()
	case slog.KindAny:
		err, ok := a.Value.Any().(error)
		if !ok {
			return false
		}
		*target = err.Error()
	default:
		return false
	}
	return true
}

func plain(v slog.Value) any {
	switch v.Kind() {
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindGroup:
		group := make(map[string]any, len(v.Group()))
		for _, item := range v.Group() {
			group[item.Key] = plain(item.Value.Resolve())
		}
		return group
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return v.Any()
	default:
		return v.Any()
	}
}

type boundAttr struct {
	prefix string
	attr   slog.Attr
}

// entryHandler writes LogEntry lines. Derived handlers share the writer lock.
type entryHandler struct {
	w         io.Writer
	mu        *sync.Mutex
	level     slog.Level
	addSource bool
	prefix    string
	bound     []boundAttr
}

func newEntryHandler(w io.Writer, s settings) *entryHandler {
	return &entryHandler{w: w, mu: &sync.Mutex{}, level: s.level, addSource: s.addSource}
}

func (h *entryHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *entryHandler) Handle(_ context.Context, r slog.Record) error {
	at := r.Time
	if at.IsZero() {
		at = time.Now()
	}

	entry := LogEntry{
		Time:    at.UTC().Format(time.RFC3339Nano),
		Level:   strings.ToLower(r.Level.String()),
		Message: r.Message,
	}
	for _, b := range h.bound {
		entry.add(b.prefix, b.attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		entry.add(h.prefix, a)
		return true
	})
	if h.addSource {
		entry.Caller = caller(r.PC)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.w.Write(append(line, '\n'))
	return err
}

func (h *entryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.bound = make([]boundAttr, 0, len(h.bound)+len(attrs))
	next.bound = append(next.bound, h.bound...)
	for _, a := range attrs {
		next.bound = append(next.bound, boundAttr{prefix: h.prefix, attr: a})
	}
	return &next
}

func (h *entryHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func caller(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	if frame.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
}
