package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"deskwire/internal/push"
	"deskwire/internal/queue"
	"deskwire/internal/subscription"
)

type subscriptionStore interface {
	Get(ctx context.Context, endpoint string) (*subscription.PushSubscription, error)
	Remove(ctx context.Context, endpoint string) error
	Touch(ctx context.Context, endpoint string) error
}

// PushHandler processes one push delivery task per invocation.
type PushHandler struct {
	subs   subscriptionStore
	sender push.Sender
}

// NewPushHandler wires the handler's collaborators.
func NewPushHandler(subs subscriptionStore, sender push.Sender) *PushHandler {
	return &PushHandler{subs: subs, sender: sender}
}

// pushMessage is the JSON body shown by the browser's service worker.
type pushMessage struct {
	NotificationID int64   `json:"notification_id"`
	Type           string  `json:"type"`
	Title          string  `json:"title"`
	Message        string  `json:"message"`
	Priority       string  `json:"priority"`
	TicketID       *int64  `json:"ticket_id,omitempty"`
	TicketCode     *string `json:"ticket_code,omitempty"`
}

// HandlePushDelivery executes one delivery attempt. Returning an error
// hands the task back to asynq for a backoff retry; returning nil (or
// SkipRetry) is terminal.
func (h *PushHandler) HandlePushDelivery(ctx context.Context, t *asynq.Task) error {
	var p queue.PushDeliveryPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to unmarshal push payload: %v: %w", err, asynq.SkipRetry)
	}

	// Re-resolve the endpoint: the user may have unsubscribed (or the
	// endpoint may have been purged) between enqueue and processing.
	sub, err := h.subs.Get(ctx, p.Endpoint)
	if errors.Is(err, subscription.ErrNotFound) {
		slog.Info("push endpoint no longer registered, skipping",
			"endpoint", p.Endpoint, "notification_id", p.NotificationID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load subscription: %w", err)
	}

	body, err := json.Marshal(pushMessage{
		NotificationID: p.NotificationID,
		Type:           string(p.Type),
		Title:          p.Title,
		Message:        p.Message,
		Priority:       string(p.Priority),
		TicketID:       p.TicketID,
		TicketCode:     p.TicketCode,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal push message: %v: %w", err, asynq.SkipRetry)
	}

	if err := h.sender.Send(ctx, sub, body); err != nil {
		if errors.Is(err, push.ErrEndpointGone) {
			// Permanent failure. Purge the endpoint; a concurrent
			// re-subscribe of the same endpoint simply wins by
			// inserting again afterwards.
			if rmErr := h.subs.Remove(ctx, p.Endpoint); rmErr != nil {
				return fmt.Errorf("failed to remove dead endpoint: %w", rmErr)
			}
			slog.Info("removed dead push endpoint",
				"endpoint", p.Endpoint, "user_id", p.UserID)
			return nil
		}

		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		if retried >= maxRetry {
			// Retry budget exhausted; the subscription stays, since a
			// transient failure does not imply a dead endpoint.
			slog.Warn("push delivery gave up after retries",
				"endpoint", p.Endpoint, "notification_id", p.NotificationID,
				"attempts", retried+1, "error", err)
		}
		return err
	}

	if err := h.subs.Touch(ctx, p.Endpoint); err != nil {
		slog.Error("failed to update subscription last_used_at",
			"endpoint", p.Endpoint, "error", err)
	}
	return nil
}
