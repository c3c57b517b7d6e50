// Package worker runs a queue-consuming loop around a stage handler.
// Delivery semantics are at-least-once: a nil handler error acknowledges the
// message, a permanent error dead-letters it, anything else leaves it for
// the visibility timeout to redeliver. Messages for different files are
// processed in parallel; no ordering is guaranteed or needed.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dspopov/fileflow/internal/common"
	"github.com/dspopov/fileflow/internal/logging"
	"github.com/dspopov/fileflow/internal/models"
	"github.com/dspopov/fileflow/internal/queue"
)

const pollWait = 2 * time.Second

var messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fileflow_worker_messages_total",
	Help: "Messages handled per worker by outcome (ok, retried, dead_lettered).",
}, []string{"worker", "outcome"})

// Handler processes one decoded message. delivery carries the receive count
// for handlers that budget their retries.
type Handler func(ctx context.Context, msg models.PipelineMessage, delivery *queue.Message) error

// Worker consumes one queue and dispatches to a Handler.
type Worker struct {
	name        string
	queue       queue.Queue
	deadLetter  queue.Queue
	handler     Handler
	concurrency int
	log         logging.Logger
}

// New builds a worker. deadLetter may be nil; permanently failing messages
// are then acknowledged and dropped with an error log.
func New(name string, q, deadLetter queue.Queue, handler Handler, concurrency int, log logging.Logger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		name:        name,
		queue:       q,
		deadLetter:  deadLetter,
		handler:     handler,
		concurrency: concurrency,
		log:         log.With("worker", name),
	}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info(ctx, "worker started")
	for {
		if err := w.poll(ctx); err != nil {
			if ctx.Err() != nil {
				w.log.Info(ctx, "worker stopped")
				return
			}
			w.log.Error(ctx, "receive failed", "error", err)
			select {
			case <-time.After(pollWait):
			case <-ctx.Done():
				w.log.Info(ctx, "worker stopped")
				return
			}
		}
		if ctx.Err() != nil {
			w.log.Info(ctx, "worker stopped")
			return
		}
	}
}

// poll receives one batch and processes its messages concurrently, waiting
// for all of them before the next receive.
func (w *Worker) poll(ctx context.Context) error {
	msgs, err := w.queue.Receive(ctx, w.concurrency, pollWait)
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	for _, msg := range msgs {
		wg.Add(1)
		go func(m *queue.Message) {
			defer wg.Done()
			w.process(ctx, m)
		}(msg)
	}
	wg.Wait()
	return nil
}

func (w *Worker) process(ctx context.Context, delivery *queue.Message) {
	msg, err := models.DecodePipelineMessage(delivery.Body)
	if err != nil {
		// Retrying a malformed body cannot help.
		w.log.Error(ctx, "malformed message", "error", err)
		w.toDeadLetter(ctx, delivery)
		return
	}

	log := w.log.With("fileId", msg.FileID, "operation", msg.Operation)
	err = w.handler(ctx, msg, delivery)
	switch {
	case err == nil:
		if derr := w.queue.Delete(ctx, delivery.Receipt); derr != nil {
			log.Error(ctx, "failed to ack message", "error", derr)
		}
		messagesTotal.WithLabelValues(w.name, "ok").Inc()
	case common.IsPermanent(err):
		log.Error(ctx, "permanent failure, dead-lettering", "error", err)
		w.toDeadLetter(ctx, delivery)
	default:
		// Left in place; the visibility timeout will redeliver it.
		log.Warn(ctx, "handler failed, leaving for redelivery",
			"receiveCount", delivery.ReceiveCount, "error", err)
		messagesTotal.WithLabelValues(w.name, "retried").Inc()
	}
}

func (w *Worker) toDeadLetter(ctx context.Context, delivery *queue.Message) {
	if w.deadLetter != nil {
		if err := w.deadLetter.Send(ctx, delivery.Body); err != nil {
			// Keep the message; redelivery will try the dead-letter hop again.
			w.log.Error(ctx, "failed to dead-letter message", "error", err)
			return
		}
	}
	if err := w.queue.Delete(ctx, delivery.Receipt); err != nil {
		w.log.Error(ctx, "failed to ack dead-lettered message", "error", err)
	}
	messagesTotal.WithLabelValues(w.name, "dead_lettered").Inc()
}
