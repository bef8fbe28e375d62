// Package worker implements the asynchronous worker loop: it reserves
// action messages from the durable queue, dispatches them to handlers that
// drive version state transitions, and acknowledges on success. A handler
// failure leaves the message unacked so the lease expires and another worker
// retries it, giving at-least-once processing.
package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/depotdb/depot"
)

// DefaultPollInterval is the sleep between reserve attempts when the topic
// is drained.
const DefaultPollInterval = time.Second

// ExtendFunc renews the lease on the message being handled. Handlers that
// anticipate work longer than the lease call it periodically.
type ExtendFunc func(ctx context.Context) error

// HandlerFunc processes one reserved message.
type HandlerFunc func(ctx context.Context, body depot.MessageBody, extend ExtendFunc) error

// Worker drives one reserve/dispatch/acknowledge loop with a stable pid.
type Worker struct {
	queue    depot.Queue
	topic    string
	handlers map[depot.Action]HandlerFunc

	pid      string
	interval time.Duration
	log      *zap.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithPID fixes the worker's process identifier.
func WithPID(pid string) Option {
	return func(w *Worker) {
		w.pid = pid
	}
}

// WithPollInterval overrides the drained-topic sleep.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(w *Worker) {
		w.log = log
	}
}

// New returns a Worker consuming topic with the given handler table.
func New(q depot.Queue, topic string, handlers map[depot.Action]HandlerFunc, opts ...Option) *Worker {
	w := &Worker{
		queue:    q,
		topic:    topic,
		handlers: handlers,
		pid:      "worker-" + uuid.NewString(),
		interval: DefaultPollInterval,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// PID returns the worker's process identifier.
func (w *Worker) PID() string {
	return w.pid
}

// Run loops until ctx is canceled. The in-flight message is always carried
// to completion; cancellation is observed between messages.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started",
		zap.String("pid", w.pid),
		zap.String("topic", w.topic),
	)
	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopped", zap.String("pid", w.pid))
			return ctx.Err()
		default:
		}

		if err := w.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			if !depot.IsNoMessage(err) {
				w.log.Error("worker tick failed", zap.String("pid", w.pid), zap.Error(err))
			}
			w.sleep(ctx)
		}
	}
}

// Tick processes at most one message: reserve, dispatch, acknowledge. A
// handler error is logged and the message is left unacked for redelivery; it
// is not returned so the loop keeps draining.
func (w *Worker) Tick(ctx context.Context) error {
	msg, err := w.queue.ReserveNext(ctx, w.topic, w.pid)
	if err != nil {
		return err
	}

	log := w.log.With(
		zap.String("pid", w.pid),
		zap.String("message", msg.ID),
		zap.String("action", string(msg.Body.Action)),
		zap.String("version", msg.Body.VersionID),
	)

	handler, ok := w.handlers[msg.Body.Action]
	if !ok {
		// No handler registered: leave the message unacked so an operator
		// can see it expire rather than silently dropping it.
		log.Error("no handler for action")
		return nil
	}

	extend := func(ctx context.Context) error {
		return w.queue.ExtendLease(ctx, msg.ID, w.pid)
	}

	if err := handler(ctx, msg.Body, extend); err != nil {
		log.Error("handler failed; leaving message for redelivery", zap.Error(err))
		return nil
	}

	if err := w.queue.Acknowledge(ctx, msg.ID, w.pid); err != nil {
		log.Error("failed to acknowledge message", zap.Error(err))
		return nil
	}

	log.Debug("message handled")
	return nil
}

// sleep waits one poll interval or until cancellation.
func (w *Worker) sleep(ctx context.Context) {
	t := time.NewTimer(w.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
