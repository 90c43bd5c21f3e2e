// Package logger builds the process slog.Logger. Text output is rendered by
// charmbracelet/log; JSON output is one LogEntry per line with the job
// routing keys lifted out of the free-form fields.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	charmLog "github.com/charmbracelet/log"

	"unfurlbot/pkg/config"
)

const (
	envFormat    = "UNFURLBOT_LOG_FORMAT"
	envLevel     = "UNFURLBOT_LOG_LEVEL"
	envAddSource = "UNFURLBOT_LOG_ADD_SOURCE"
)

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// settings is the logging config after environment overrides.
type settings struct {
	json      bool
	level     slog.Level
	addSource bool
}

func resolve(cfg config.LoggingConfig) (settings, error) {
	levelName := firstSet(os.Getenv(envLevel), cfg.Level, "info")
	level, ok := levels[levelName]
	if !ok {
		return settings{}, fmt.Errorf("unsupported log level %q", levelName)
	}

	s := settings{level: level, addSource: cfg.AddSource}
	switch format := firstSet(os.Getenv(envFormat), cfg.Format, "text"); format {
	case "json":
		s.json = true
	case "text":
	default:
		return settings{}, fmt.Errorf("unsupported log format %q", format)
	}

	if raw := strings.TrimSpace(os.Getenv(envAddSource)); raw != "" {
		switch strings.ToLower(raw) {
		case "1", "true", "yes", "on":
			s.addSource = true
		default:
			s.addSource = false
		}
	}
	return s, nil
}

func firstSet(values ...string) string {
	for _, value := range values {
		if value = strings.ToLower(strings.TrimSpace(value)); value != "" {
			return value
		}
	}
	return ""
}

// New returns the configured logger writing to stderr.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter is New writing to w instead of stderr.
func NewWithWriter(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	s, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	if s.json {
		return slog.New(newEntryHandler(w, s)), nil
	}
	return slog.New(newTextHandler(w, s)), nil
}

// newTextHandler renders records for a terminal. Job and extractor keys are
// highlighted so one job can be followed through the worker and scanner.
func newTextHandler(w io.Writer, s settings) *charmLog.Logger {
	text := charmLog.NewWithOptions(w, charmLog.Options{
		Level:           charmLog.Level(s.level),
		ReportTimestamp: true,
		ReportCaller:    s.addSource,
		TimeFormat:      time.TimeOnly,
		Formatter:       charmLog.TextFormatter,
	})

	styles := charmLog.DefaultStyles()
	routing := lipgloss.NewStyle().Foreground(lipgloss.Color("44")).Bold(true)
	for _, key := range []string{KeyJobID, KeyEntry, KeyRoomID} {
		styles.Keys[key] = routing
	}
	styles.Keys[KeyError] = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	styles.Values[KeyError] = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	text.SetStyles(styles)

	return text
}
