// Package queue enqueues asynchronous work onto Redis via asynq. The
// API process enqueues; the worker in internal/worker consumes.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"deskwire/internal/notification"
)

const (
	// TaskPushDelivery is one delivery attempt chain for a single
	// (notification, endpoint) pair.
	TaskPushDelivery = "push:deliver"

	// QueuePush isolates push traffic from any future task types.
	QueuePush = "push"

	// maxRetry caps attempts per endpoint; exhausting it is a normal
	// terminal state for transient failures.
	maxRetry = 5

	// attemptTimeout bounds a single handler invocation.
	attemptTimeout = 45 * time.Second
)

// PushDeliveryPayload is the unit of work for one endpoint. The
// endpoint is re-resolved at processing time so a user who unsubscribed
// mid-flight is simply skipped.
type PushDeliveryPayload struct {
	Endpoint       string                `json:"endpoint"`
	UserID         int64                 `json:"user_id"`
	NotificationID int64                 `json:"notification_id"`
	Type           notification.Type     `json:"type"`
	Title          string                `json:"title"`
	Message        string                `json:"message"`
	Priority       notification.Priority `json:"priority"`
	TicketID       *int64                `json:"ticket_id,omitempty"`
	TicketCode     *string               `json:"ticket_code,omitempty"`
}

// Dispatcher hands delivery work to the background worker. The delivery
// coordinator depends on this interface so tests can capture enqueues.
type Dispatcher interface {
	EnqueuePushDelivery(payload PushDeliveryPayload) error
}

// Client is the asynq-backed Dispatcher.
type Client struct {
	client *asynq.Client
}

// NewClient connects the task queue client to Redis.
func NewClient(redisAddr string) *Client {
	return &Client{client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})}
}

// EnqueuePushDelivery schedules one push delivery attempt chain.
// Retries and backoff are owned by the worker configuration.
func (c *Client) EnqueuePushDelivery(payload PushDeliveryPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %w", err)
	}

	task := asynq.NewTask(TaskPushDelivery, data)
	_, err = c.client.Enqueue(task,
		asynq.Queue(QueuePush),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(attemptTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue push delivery: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}
