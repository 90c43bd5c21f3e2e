// Package lingr connects the bot to Lingr rooms: an HTTP webhook receives
// room events and the room/say API posts replies.
package lingr

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"unfurlbot/pkg/bus"
	"unfurlbot/pkg/channel"
	"unfurlbot/pkg/config"
	"unfurlbot/pkg/logger"
)

const (
	channelName = "lingr"

	ModeQueue = "queue"
	ModeSync  = "sync"

	maxWebhookBody    = 1 << 20
	aliveText         = "Still Alive"
	defaultSayTimeout = 10 * time.Second
)

// htmlEntities are the escapes Lingr applies to outgoing text that it does
// not undo on display.
var htmlEntities = strings.NewReplacer("&lt;", "<", "&gt;", ">")

// MessageHandler answers one message inline. It is used in sync mode.
type MessageHandler interface {
	Handle(ctx context.Context, msg bus.InboundMessage) (string, bool)
}

type eventPayload struct {
	Events []event `json:"events"`
}

type event struct {
	EventID int      `json:"event_id"`
	Message *message `json:"message"`
}

type message struct {
	ID        string `json:"id"`
	Room      string `json:"room"`
	SpeakerID string `json:"speaker_id"`
	Nickname  string `json:"nickname"`
	Text      string `json:"text"`
}

// Webhook receives Lingr room events over HTTP.
type Webhook struct {
	path    string
	mode    string
	queue   channel.Enqueuer
	handler MessageHandler
	log     *slog.Logger

	// answering keeps sync-mode extraction to one request at a time.
	answering sync.Mutex
}

// NewWebhook builds the webhook. handler is only required in sync mode.
func NewWebhook(cfg config.LingrConfig, queue channel.Enqueuer, handler MessageHandler, log *slog.Logger) (*Webhook, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = ModeQueue
	}

	switch mode {
	case ModeQueue:
		if queue == nil {
			return nil, errors.New("queue is required in queue mode")
		}
	case ModeSync:
		if handler == nil {
			return nil, errors.New("handler is required in sync mode")
		}
	default:
		return nil, fmt.Errorf("unsupported lingr mode %q", cfg.Mode)
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return &Webhook{
		path:    path,
		mode:    mode,
		queue:   queue,
		handler: handler,
		log:     logger.Component(log, "channel.lingr"),
	}, nil
}

// Name returns the channel identifier used in bus messages and logs.
func (w *Webhook) Name() string {
	return channelName
}

// Mode reports whether events are queued or answered inline.
func (w *Webhook) Mode() string {
	return w.mode
}

// Register mounts the webhook routes.
func (w *Webhook) Register(e *echo.Echo) {
	e.GET(w.path, w.Alive)
	e.POST(w.path, w.Receive)
}

// Alive answers Lingr's endpoint check.
func (w *Webhook) Alive(c echo.Context) error {
	return c.String(http.StatusOK, aliveText)
}

// Receive accepts a batch of room events.
func (w *Webhook) Receive(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body")
	}
	if len(body) > maxWebhookBody {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "body too large")
	}

	messages, err := decodeMessages(body)
	if err != nil {
		w.log.Warn("Rejected webhook payload", logger.KeyError, err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	if w.mode == ModeSync {
		return c.String(http.StatusOK, w.answer(c.Request().Context(), messages))
	}

	for _, msg := range messages {
		if err := w.queue.Enqueue(msg); err != nil {
			logger.ForMessage(w.log, msg).Warn("Dropped message", logger.KeyError, err)
			continue
		}
		logger.ForMessage(w.log, msg).Info("Enqueued", "sender_id", msg.SenderID)
	}
	return c.String(http.StatusOK, "")
}

// answer handles messages inline and joins their replies.
func (w *Webhook) answer(ctx context.Context, messages []bus.InboundMessage) string {
	w.answering.Lock()
	defer w.answering.Unlock()

	var replies []string
	for _, msg := range messages {
		if reply, ok := w.handler.Handle(ctx, msg); ok {
			replies = append(replies, reply)
		}
	}
	return strings.Join(replies, "\n")
}

// decodeMessages turns a webhook body into inbound messages. Events without
// a message (joins, leaves) are skipped.
func decodeMessages(body []byte) ([]bus.InboundMessage, error) {
	var payload eventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}

	messages := make([]bus.InboundMessage, 0, len(payload.Events))
	for _, ev := range payload.Events {
		if ev.Message == nil {
			continue
		}
		msg := bus.InboundMessage{
			Channel:  channelName,
			RoomID:   ev.Message.Room,
			SenderID: ev.Message.SpeakerID,
			Text:     ev.Message.Text,
		}
		if ev.Message.ID != "" || ev.Message.Nickname != "" {
			msg.Metadata = map[string]string{
				"message_id": ev.Message.ID,
				"nickname":   ev.Message.Nickname,
			}
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Sender posts replies through the room/say API.
type Sender struct {
	client   *http.Client
	sayURL   string
	botID    string
	verifier string
	timeout  time.Duration
}

// NewSender builds the room/say client. client may be nil. Every call is
// bounded by cfg.Timeout() whatever the caller's context.
func NewSender(cfg config.LingrConfig, client *http.Client) (*Sender, error) {
	botID := strings.TrimSpace(cfg.BotID)
	if botID == "" {
		return nil, errors.New("channels.lingr.bot_id is required")
	}
	if strings.TrimSpace(cfg.BotSecret) == "" {
		return nil, errors.New("channels.lingr.bot_secret is required")
	}
	apiBase := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if apiBase == "" {
		return nil, errors.New("channels.lingr.api_base_url is required")
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = defaultSayTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	return &Sender{
		client:   client,
		sayURL:   apiBase + "/room/say",
		botID:    botID,
		verifier: Verifier(botID, strings.TrimSpace(cfg.BotSecret)),
		timeout:  timeout,
	}, nil
}

// Verifier is the bot_verifier Lingr expects: hex(sha1(id + secret)).
func Verifier(botID string, secret string) string {
	sum := sha1.Sum([]byte(botID + secret))
	return hex.EncodeToString(sum[:])
}

// Notify says out.Text in out.RoomID.
func (s *Sender) Notify(ctx context.Context, out bus.OutboundMessage) error {
	query := url.Values{}
	query.Set("room", out.RoomID)
	query.Set("bot", s.botID)
	query.Set("text", htmlEntities.Replace(out.Text))
	query.Set("bot_verifier", s.verifier)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.sayURL+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build room/say request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("room/say: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("room/say returned %d", resp.StatusCode)
	}
	return nil
}
