package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"unfurlbot/pkg/bus"
	"unfurlbot/pkg/channel"
	"unfurlbot/pkg/config"
	"unfurlbot/pkg/logger"
)

const channelName = "telegram"

// Adapter bridges Telegram updates into the job queue and sends replies back
// to the chat they came from.
type Adapter struct {
	bot       *telego.Bot
	allowFrom map[string]struct{}
	log       *slog.Logger
}

// NewAdapter validates Telegram configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}

	return &Adapter{
		bot:       bot,
		allowFrom: allowFromSet(cfg.AllowFrom),
		log:       logger.Component(log, "channel.telegram"),
	}, nil
}

// Name returns the channel identifier used in bus messages and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run starts Telegram long polling and enqueues every accepted text message.
func (a *Adapter) Run(ctx context.Context, queue channel.Enqueuer) error {
	if queue == nil {
		return errors.New("queue is required")
	}

	updates, err := a.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			inbound, ok := a.inboundFromUpdate(update)
			if !ok {
				continue
			}

			if err := queue.Enqueue(inbound); err != nil {
				logger.ForMessage(a.log, inbound).Warn("Dropped message", logger.KeyError, err)
				continue
			}
			logger.ForMessage(a.log, inbound).Info("Enqueued", "sender_id", inbound.SenderID)
		}
	}
}

// Notify sends out.Text to the chat identified by out.RoomID.
func (a *Adapter) Notify(ctx context.Context, out bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(out.RoomID), 10, 64)
	if err != nil {
		return fmt.Errorf("parse chat id %q: %w", out.RoomID, err)
	}

	a.log.Info("Sending message",
		logger.KeyRoomID, out.RoomID,
		logger.KeyJobID, out.JobID,
		logger.KeyText, logger.Preview(out.Text, logger.PreviewLimit),
	)
	if _, err := a.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), out.Text)); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// inboundFromUpdate converts a text message from an allowed sender. Other
// updates are ignored.
func (a *Adapter) inboundFromUpdate(update telego.Update) (bus.InboundMessage, bool) {
	message := update.Message
	if message == nil {
		return bus.InboundMessage{}, false
	}

	if strings.TrimSpace(message.Text) == "" {
		return bus.InboundMessage{}, false
	}
	if message.From == nil {
		a.log.Debug("Ignoring message without sender")
		return bus.InboundMessage{}, false
	}

	senderID := strconv.FormatInt(message.From.ID, 10)
	if !a.senderAllowed(senderID) {
		a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
		return bus.InboundMessage{}, false
	}

	return bus.InboundMessage{
		Channel:  channelName,
		RoomID:   strconv.FormatInt(message.Chat.ID, 10),
		SenderID: senderID,
		Text:     message.Text,
		Metadata: map[string]string{
			"update_id":  strconv.Itoa(update.UpdateID),
			"message_id": strconv.Itoa(message.MessageID),
		},
	}, true
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}
