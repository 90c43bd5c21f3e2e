// Package worker drains the job queue one message at a time.
//
// There is exactly one consumer, so extractor network calls are serialised
// and replies reach each room in enqueue order. A dequeued message always
// runs to completion; cancelling the context stops the loop between jobs,
// not in the middle of one.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"unfurlbot/pkg/bus"
	"unfurlbot/pkg/logger"
)

const DefaultPollInterval = 500 * time.Millisecond

const (
	ResultReplied   = "replied"
	ResultUnmatched = "unmatched"
	ResultFailed    = "failed"
)

// Source is the consumer side of the job queue.
type Source interface {
	Dequeue() (bus.InboundMessage, bool)
	Len() int
	Wake() <-chan struct{}
}

// MessageHandler produces the reply for one message.
type MessageHandler interface {
	Handle(ctx context.Context, msg bus.InboundMessage) (string, bool)
}

// Sender delivers a reply to the room it belongs to.
type Sender interface {
	Notify(ctx context.Context, out bus.OutboundMessage) error
}

// Observer receives job-level measurements.
type Observer interface {
	ObserveJob(result string, elapsed time.Duration)
	SetQueueDepth(depth int)
}

// Options configures a Worker. Zero values fall back to defaults.
type Options struct {
	PollInterval time.Duration
	Events       *bus.EventHub
	Observer     Observer
	Logger       *slog.Logger
}

type Worker struct {
	source   Source
	handler  MessageHandler
	sender   Sender
	interval time.Duration
	events   *bus.EventHub
	observer Observer
	log      *slog.Logger

	running atomic.Bool
}

func New(source Source, handler MessageHandler, sender Sender, opts Options) (*Worker, error) {
	if source == nil {
		return nil, errors.New("queue is required")
	}
	if handler == nil {
		return nil, errors.New("message handler is required")
	}
	if sender == nil {
		return nil, errors.New("sender is required")
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	return &Worker{
		source:   source,
		handler:  handler,
		sender:   sender,
		interval: interval,
		events:   opts.Events,
		observer: opts.Observer,
		log:      logger.Component(opts.Logger, "worker"),
	}, nil
}

// Run polls the queue until ctx is cancelled. A wake signal from the queue
// short-cuts the poll interval; the ticker keeps draining if one is missed.
func (w *Worker) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return errors.New("worker is already running")
	}
	defer w.running.Store(false)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("Worker started", "poll_interval", w.interval)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker stopped", "pending", w.source.Len())
			return nil
		case <-w.source.Wake():
			w.drain(ctx)
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// Running reports whether Run is active.
func (w *Worker) Running() bool {
	return w.running.Load()
}

// drain processes queued messages one by one until the queue is empty or
// ctx is cancelled.
func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		if !w.Step(ctx) {
			return
		}
	}
}

// Step dequeues and fully processes at most one message. It reports whether
// a message was taken.
func (w *Worker) Step(ctx context.Context) bool {
	msg, ok := w.source.Dequeue()
	w.observeDepth()
	if !ok {
		return false
	}

	jobID := uuid.NewString()
	log := logger.Job(w.log, jobID, msg)
	log.Info("Dequeued")

	// A dequeued job runs to completion even if shutdown starts meanwhile.
	jobCtx := context.WithoutCancel(ctx)

	started := time.Now()
	result, reply, err := w.process(jobCtx, jobID, msg)
	elapsed := time.Since(started)

	event := bus.Event{JobID: jobID, Channel: msg.Channel, RoomID: msg.RoomID, Text: msg.Text, Reply: reply}
	switch result {
	case ResultReplied:
		event.Type = bus.EventJobReplied
		log.Info("Replied", "elapsed", elapsed)
	case ResultUnmatched:
		event.Type = bus.EventJobUnmatched
		log.Info("Didn't match", "elapsed", elapsed)
	default:
		event.Type = bus.EventJobFailed
		event.Error = err.Error()
		log.Error("Job failed", "elapsed", elapsed, logger.KeyError, err)
	}

	if w.observer != nil {
		w.observer.ObserveJob(result, elapsed)
	}
	w.events.Publish(jobCtx, event)
	return true
}

// process runs the handler and the sender for msg, containing any error or
// panic so the loop keeps going.
func (w *Worker) process(ctx context.Context, jobID string, msg bus.InboundMessage) (result string, reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = ResultFailed
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	reply, ok := w.handler.Handle(ctx, msg)
	if !ok {
		return ResultUnmatched, "", nil
	}

	out := bus.ReplyTo(msg, reply)
	out.JobID = jobID
	if err := w.sender.Notify(ctx, out); err != nil {
		return ResultFailed, reply, fmt.Errorf("notify %s room %s: %w", msg.Channel, msg.RoomID, err)
	}

	return ResultReplied, reply, nil
}

func (w *Worker) observeDepth() {
	if w.observer != nil {
		w.observer.SetQueueDepth(w.source.Len())
	}
}
