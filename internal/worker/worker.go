// Package worker consumes queued push deliveries. Each task is one
// (notification, endpoint) pair; transient provider failures are
// retried with exponential backoff, dead endpoints are purged, and
// exhausting the retry budget is a normal, logged terminal state.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"deskwire/internal/queue"
)

const (
	concurrency = 10

	// Backoff for transient delivery failures: 30s, 1m, 2m, 4m, 8m,
	// capped at 10m.
	retryBaseDelay = 30 * time.Second
	retryMaxDelay  = 10 * time.Minute
)

// Worker hosts the asynq server and its handlers.
type Worker struct {
	server  *asynq.Server
	handler *PushHandler
}

// New builds the worker around the push delivery handler.
func New(redisAddr string, handler *PushHandler) *Worker {
	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queue.QueuePush: 10,
			},
			RetryDelayFunc: retryDelay,
		},
	)
	return &Worker{server: server, handler: handler}
}

// retryDelay doubles from the base per attempt and never exceeds the
// cap. asynq owns the attempt counter; this is the whole state machine.
func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	delay := retryBaseDelay
	for i := 0; i < n; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return delay
}

// Start runs the worker until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskPushDelivery, w.handler.HandlePushDelivery)

	slog.Info("Starting delivery worker", "queue", queue.QueuePush, "concurrency", concurrency)

	if err := w.server.Start(mux); err != nil {
		return err
	}

	<-ctx.Done()

	w.server.Shutdown()
	slog.Info("Delivery worker stopped")
	return nil
}
