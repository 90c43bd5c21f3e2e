package extractor

import (
	"container/list"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"unfurlbot/pkg/config"
	"unfurlbot/pkg/dispatch"
	"unfurlbot/pkg/logger"
)

const cacheKeyPrefix = "unfurlbot:extract:"

// Store keeps extraction results between messages.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
	Close() error
}

// NewStore builds the store selected by cfg. It returns nil when caching is
// disabled.
func NewStore(ctx context.Context, cfg config.CacheConfig, log *slog.Logger) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return NewMemoryStore(cfg.MaxEntries, cfg.TTL())
	case "redis":
		return NewRedisStore(ctx, cfg.RedisURL, cfg.TTL(), log)
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Backend)
	}
}

type memoryItem struct {
	key       string
	value     string
	expiresAt time.Time
}

// MemoryStore is a size-bounded LRU with per-entry expiry.
type MemoryStore struct {
	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
}

func NewMemoryStore(maxEntries int, ttl time.Duration) (*MemoryStore, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("max entries must be greater than 0")
	}
	return &MemoryStore{
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
	}, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		return "", false, nil
	}
	item := elem.Value.(*memoryItem)
	if !item.expiresAt.IsZero() && !s.now().Before(item.expiresAt) {
		s.ll.Remove(elem)
		delete(s.items, key)
		return "", false, nil
	}

	s.ll.MoveToFront(elem)
	return item.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expiresAt time.Time
	if s.ttl > 0 {
		expiresAt = s.now().Add(s.ttl)
	}

	if elem, ok := s.items[key]; ok {
		item := elem.Value.(*memoryItem)
		item.value = value
		item.expiresAt = expiresAt
		s.ll.MoveToFront(elem)
		return nil
	}

	s.items[key] = s.ll.PushFront(&memoryItem{key: key, value: value, expiresAt: expiresAt})
	if s.ll.Len() > s.maxEntries {
		s.evict()
	}
	return nil
}

// Len reports the number of entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ll.Len()
}

// evict removes the least recently used entry. Callers hold mu.
func (s *MemoryStore) evict() {
	oldest := s.ll.Back()
	if oldest != nil {
		item := s.ll.Remove(oldest).(*memoryItem)
		delete(s.items, item.key)
	}
}

func (s *MemoryStore) Close() error {
	return nil
}

// RedisStore keeps results in Redis with a TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// NewRedisStore connects to rawURL (redis:// or rediss://) and pings it.
func NewRedisStore(ctx context.Context, rawURL string, ttl time.Duration, log *slog.Logger) (*RedisStore, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	log = logger.Component(log, "extractor.cache")
	log.Info("Connected to Redis", "addr", opts.Addr, "db", opts.DB)

	return &RedisStore{client: client, ttl: ttl, log: log}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value string) error {
	if err := s.client.Set(ctx, key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	if s.client == nil {
		return nil
	}
	s.log.Info("Closing Redis client")
	return s.client.Close()
}

// CacheKey derives the store key for one extractor invocation.
func CacheKey(entry string, span string) string {
	sum := sha1.Sum([]byte(span))
	return cacheKeyPrefix + entry + ":" + hex.EncodeToString(sum[:])
}

type cachedExtractor struct {
	inner dispatch.Extractor
	store Store
	log   *slog.Logger
}

// Cached wraps inner so successful non-empty results are served from store.
// Store failures are logged and fall through to inner.
func Cached(inner dispatch.Extractor, store Store, log *slog.Logger) dispatch.Extractor {
	if store == nil {
		return inner
	}
	return &cachedExtractor{inner: inner, store: store, log: logger.Component(log, "extractor.cache")}
}

func (c *cachedExtractor) Extract(ctx context.Context, m dispatch.Match) (string, error) {
	name := m.Entry
	key := CacheKey(name, m.Span)

	value, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.Warn("Cache read failed", logger.KeyEntry, name, logger.KeyError, err)
	} else if ok {
		c.log.Debug("Cache hit", logger.KeyEntry, name)
		return value, nil
	}

	value, err = c.inner.Extract(ctx, m)
	if err != nil || strings.TrimSpace(value) == "" {
		return value, err
	}

	if err := c.store.Set(ctx, key, value); err != nil {
		c.log.Warn("Cache write failed", logger.KeyEntry, name, logger.KeyError, err)
	}
	return value, nil
}
