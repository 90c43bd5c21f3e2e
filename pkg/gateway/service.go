// Package gateway runs the bot as a service: transports feed the job queue,
// the worker drains it, and an HTTP server exposes webhooks, status and
// metrics.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"unfurlbot/pkg/bus"
	"unfurlbot/pkg/channel"
	"unfurlbot/pkg/config"
	"unfurlbot/pkg/logger"
	"unfurlbot/pkg/metrics"
	"unfurlbot/pkg/worker"
)

const (
	defaultHost = "0.0.0.0"
	defaultPort = 4567

	shutdownTimeout = 5 * time.Second
	eventBuffer     = 64
)

type Service struct {
	cfg      *config.Config
	log      *slog.Logger
	queue    *bus.Queue
	intake   channel.Enqueuer
	worker   *worker.Worker
	events   *bus.EventHub
	channels []channel.Adapter
	webhooks []string
	routes   []RouteRegistrar
	gatherer prometheus.Gatherer
	closers  []func() error

	mu            sync.RWMutex
	startedAt     time.Time
	listenAddr    string
	lastJobAt     time.Time
	lastJobErr    string
	jobsHandled   int
	channelStates map[string]channelState
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	QueueDepth    int                     `json:"queue_depth"`
	WorkerRunning bool                    `json:"worker_running"`
	JobsHandled   int                     `json:"jobs_handled"`
	LastJobAt     string                  `json:"last_job_at,omitempty"`
	LastJobError  string                  `json:"last_job_error,omitempty"`
	Channels      map[string]channelState `json:"channels"`
}

// NewService builds the whole bot from cfg.
func NewService(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	log = logger.Component(log, "gateway.service")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	pipeline, err := BuildPipeline(ctx, cfg, m, log)
	if err != nil {
		return nil, err
	}

	queue := bus.NewQueue(cfg.Worker.MaxPending)
	events := bus.NewEventHub()
	intake := &countingQueue{queue: queue, metrics: m, events: events}

	t, err := buildTransports(cfg, intake, pipeline.Handler, log)
	if err != nil {
		_ = pipeline.Close()
		return nil, err
	}

	w, err := worker.New(queue, pipeline.Handler, t.router, worker.Options{
		PollInterval: cfg.Worker.PollInterval(),
		Events:       events,
		Observer:     m,
		Logger:       log,
	})
	if err != nil {
		_ = pipeline.Close()
		return nil, err
	}

	log.Info("Gateway configured", "channels", t.names(), "cache", cfg.Cache.Enabled, "cache_backend", cfg.Cache.Backend)

	return newService(cfg, log, queue, intake, w, events, t.adapters, t.webhooks, t.routes, registry, pipeline.Close), nil
}

func newService(
	cfg *config.Config,
	log *slog.Logger,
	queue *bus.Queue,
	intake channel.Enqueuer,
	w *worker.Worker,
	events *bus.EventHub,
	adapters []channel.Adapter,
	webhooks []string,
	routes []RouteRegistrar,
	gatherer prometheus.Gatherer,
	closers ...func() error,
) *Service {
	if intake == nil {
		intake = queue
	}

	channelStates := make(map[string]channelState, len(adapters)+len(webhooks))
	for _, name := range webhooks {
		channelStates[name] = channelState{}
	}
	for _, adapter := range adapters {
		channelStates[adapter.Name()] = channelState{}
	}

	return &Service{
		cfg:           cfg,
		log:           log,
		queue:         queue,
		intake:        intake,
		worker:        w,
		events:        events,
		channels:      adapters,
		webhooks:      webhooks,
		routes:        routes,
		gatherer:      gatherer,
		closers:       closers,
		channelStates: channelStates,
	}
}

// Run serves until ctx is cancelled or a component fails. Messages still
// queued at shutdown are dropped.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.close()

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobEvents, unsubscribe := s.events.Subscribe(runCtx, eventBuffer)
	defer unsubscribe()
	go s.trackJobs(jobEvents)

	serverErrors := make(chan error, 1)
	ready := make(chan struct{})
	go s.runServer(runCtx, ready, serverErrors)

	select {
	case <-ready:
	case err := <-serverErrors:
		return err
	}

	var workerDone sync.WaitGroup
	workerErrors := make(chan error, 1)
	workerDone.Add(1)
	go func() {
		defer workerDone.Done()
		if err := s.worker.Run(runCtx); err != nil {
			workerErrors <- fmt.Errorf("run worker: %w", err)
		}
	}()
	// The in-flight job finishes before resources are released.
	defer workerDone.Wait()
	defer cancel()

	errCh := make(chan error, len(s.channels))
	for _, adapter := range s.channels {
		s.setChannelState(adapter.Name(), channelState{Running: true})

		go func() {
			err := adapter.Run(runCtx, s.intake)
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErrors:
		return err
	case err := <-workerErrors:
		return err
	case err := <-errCh:
		return err
	}
}

// Addr returns the address the HTTP server listens on once Run has started it.
func (s *Service) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listenAddr
}

func (s *Service) runServer(ctx context.Context, ready chan<- struct{}, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHost
	}

	port := s.cfg.Gateway.Port
	if port < 0 {
		port = defaultPort
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		errCh <- fmt.Errorf("listen for gateway: %w", err)
		return
	}

	server := &http.Server{
		Handler:           newEcho(s.log, s.gatherer, s, s.routes...),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.mu.Lock()
	s.listenAddr = listener.Addr().String()
	for _, name := range s.webhooks {
		s.channelStates[name] = channelState{Running: true}
	}
	s.mu.Unlock()
	close(ready)

	s.log.Info("Gateway server started", "address", listener.Addr().String())
	err = server.Serve(listener)

	s.mu.Lock()
	for _, name := range s.webhooks {
		s.channelStates[name] = channelState{Running: false, Error: errorString(ignoreClosed(err))}
	}
	s.mu.Unlock()

	if err := ignoreClosed(err); err != nil {
		errCh <- fmt.Errorf("serve gateway: %w", err)
	}
}

// trackJobs keeps the status snapshot current from worker events.
func (s *Service) trackJobs(events <-chan bus.Event) {
	for event := range events {
		if event.Type == bus.EventJobEnqueued {
			continue
		}
		s.mu.Lock()
		s.jobsHandled++
		s.lastJobAt = event.At
		if event.Type == bus.EventJobFailed {
			s.lastJobErr = event.Error
		} else {
			s.lastJobErr = ""
		}
		s.mu.Unlock()
	}
}

func (s *Service) close() {
	s.queue.Close()
	s.events.Close()
	for _, closer := range s.closers {
		if closer == nil {
			continue
		}
		if err := closer(); err != nil {
			s.log.Warn("Failed to release resource", "error", err)
		}
	}
	s.log.Info("Gateway stopped", "dropped", s.queue.Len())
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	lastJobAt := ""
	if !s.lastJobAt.IsZero() {
		lastJobAt = s.lastJobAt.Format(time.RFC3339)
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		QueueDepth:    s.queue.Len(),
		WorkerRunning: s.worker != nil && s.worker.Running(),
		JobsHandled:   s.jobsHandled,
		LastJobAt:     lastJobAt,
		LastJobError:  s.lastJobErr,
		Channels:      channels,
	}
}

func (s *Service) isReady() bool {
	if s.worker == nil || !s.worker.Running() {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, state := range s.channelStates {
		if state.Running {
			return true
		}
	}
	return false
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

// countingQueue reports every enqueue to metrics and the event hub.
type countingQueue struct {
	queue   *bus.Queue
	metrics *metrics.Metrics
	events  *bus.EventHub
}

func (q *countingQueue) Enqueue(msg bus.InboundMessage) error {
	if err := q.queue.Enqueue(msg); err != nil {
		q.metrics.RejectEnqueue()
		return err
	}
	q.metrics.SetQueueDepth(q.queue.Len())
	q.events.Publish(context.Background(), bus.Event{
		Type:    bus.EventJobEnqueued,
		Channel: msg.Channel,
		RoomID:  msg.RoomID,
		Text:    msg.Text,
	})
	return nil
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
