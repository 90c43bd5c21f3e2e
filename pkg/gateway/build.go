package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"unfurlbot/pkg/bot"
	"unfurlbot/pkg/channel"
	"unfurlbot/pkg/channel/lingr"
	"unfurlbot/pkg/channel/telegram"
	"unfurlbot/pkg/config"
	"unfurlbot/pkg/dispatch"
	"unfurlbot/pkg/emoji"
	"unfurlbot/pkg/extractor"
)

// Pipeline is the message handler and the resources backing it.
type Pipeline struct {
	Handler *bot.Handler
	Store   extractor.Store
	Entries []string
}

// Close releases the extraction cache.
func (p *Pipeline) Close() error {
	if p == nil || p.Store == nil {
		return nil
	}
	return p.Store.Close()
}

// BuildPipeline wires fetcher, cache, extractor table, scanner and handler
// from cfg. observer may be nil.
func BuildPipeline(ctx context.Context, cfg *config.Config, observer dispatch.Observer, log *slog.Logger) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	store, err := extractor.NewStore(ctx, cfg.Cache, log)
	if err != nil {
		return nil, fmt.Errorf("initialize cache: %w", err)
	}

	fetcher := extractor.NewFetcher(cfg.Fetch, nil)
	registry := extractor.NewRegistry(fetcher, store, log)
	scanner := dispatch.NewScanner(registry, observer, log)

	return &Pipeline{
		Handler: bot.NewHandler(scanner, emoji.Normalize),
		Store:   store,
		Entries: registry.Names(),
	}, nil
}

// transports are the enabled channels: long-running adapters, HTTP routes
// and the reply router.
type transports struct {
	adapters []channel.Adapter
	routes   []RouteRegistrar
	webhooks []string
	router   *channel.Router

	syncWebhook bool
}

func buildTransports(cfg *config.Config, queue channel.Enqueuer, handler lingr.MessageHandler, log *slog.Logger) (*transports, error) {
	t := &transports{router: channel.NewRouter(channel.NewLogSender(log))}

	if cfg.Channels.Lingr.Enabled {
		webhook, err := lingr.NewWebhook(cfg.Channels.Lingr, queue, handler, log)
		if err != nil {
			return nil, fmt.Errorf("configure lingr channel: %w", err)
		}
		t.routes = append(t.routes, webhook)
		t.webhooks = append(t.webhooks, webhook.Name())

		t.syncWebhook = webhook.Mode() == lingr.ModeSync
		if webhook.Mode() == lingr.ModeQueue {
			sender, err := lingr.NewSender(cfg.Channels.Lingr, nil)
			if err != nil {
				return nil, fmt.Errorf("configure lingr sender: %w", err)
			}
			if err := t.router.Register(webhook.Name(), sender); err != nil {
				return nil, err
			}
		}
	}

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure telegram channel: %w", err)
		}
		t.adapters = append(t.adapters, adapter)
		if err := t.router.Register(adapter.Name(), adapter); err != nil {
			return nil, err
		}
	}

	if len(t.adapters) == 0 && len(t.webhooks) == 0 {
		return nil, errors.New("no channels are enabled")
	}
	// Sync mode extracts on HTTP goroutines, beside the worker.
	if t.syncWebhook && len(t.adapters) > 0 {
		return nil, errors.New("lingr sync mode cannot run alongside other channels")
	}

	return t, nil
}

// names lists every enabled channel.
func (t *transports) names() string {
	names := append([]string(nil), t.webhooks...)
	for _, adapter := range t.adapters {
		names = append(names, adapter.Name())
	}
	return strings.Join(names, ",")
}
