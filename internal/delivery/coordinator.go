// Package delivery fans one recorded notification out to the live
// channel (best-effort, synchronous) and to the push queue (durable,
// retried by the worker). Failures here are contained per channel and
// per subscription; they never propagate to the trigger that recorded
// the notification.
package delivery

import (
	"context"
	"log/slog"

	"deskwire/internal/notification"
	"deskwire/internal/queue"
	"deskwire/internal/session"
	"deskwire/internal/subscription"
)

type unreadCounter interface {
	CountUnread(ctx context.Context, userID int64) (int, error)
}

type subscriptionLister interface {
	ListForUser(ctx context.Context, userID int64) ([]subscription.PushSubscription, error)
}

// Coordinator turns one notification into zero or more delivery
// attempts.
type Coordinator struct {
	counter    unreadCounter
	subs       subscriptionLister
	sessions   *session.Registry
	dispatcher queue.Dispatcher
}

// NewCoordinator wires the delivery fan-out.
func NewCoordinator(counter unreadCounter, subs subscriptionLister, sessions *session.Registry, dispatcher queue.Dispatcher) *Coordinator {
	return &Coordinator{
		counter:    counter,
		subs:       subs,
		sessions:   sessions,
		dispatcher: dispatcher,
	}
}

// Dispatch delivers a freshly recorded notification. The ledger write
// has already completed; nothing returned here reaches the trigger.
func (c *Coordinator) Dispatch(ctx context.Context, n *notification.Notification) {
	c.sessions.Broadcast(n.UserID, session.Event{Kind: session.EventNotification, Payload: n})
	c.broadcastCount(ctx, n.UserID)

	subs, err := c.subs.ListForUser(ctx, n.UserID)
	if err != nil {
		slog.Error("failed to list subscriptions for delivery", "user_id", n.UserID, "error", err)
		return
	}

	for _, sub := range subs {
		payload := queue.PushDeliveryPayload{
			Endpoint:       sub.Endpoint,
			UserID:         n.UserID,
			NotificationID: n.ID,
			Type:           n.Type,
			Title:          n.Title,
			Message:        n.Message,
			Priority:       n.Priority,
			TicketID:       n.TicketID,
			TicketCode:     n.TicketCode,
		}
		// One bad endpoint never affects the others.
		if err := c.dispatcher.EnqueuePushDelivery(payload); err != nil {
			slog.Error("failed to enqueue push delivery",
				"user_id", n.UserID, "notification_id", n.ID, "endpoint", sub.Endpoint, "error", err)
		}
	}
}

// NotifyRead tells live sessions that notifications were marked read.
func (c *Coordinator) NotifyRead(ctx context.Context, userID int64, ids ...int64) {
	c.sessions.Broadcast(userID, session.Event{
		Kind:    session.EventRead,
		Payload: map[string]interface{}{"ids": ids},
	})
	c.broadcastCount(ctx, userID)
}

// NotifyDeleted tells live sessions that notifications were removed.
func (c *Coordinator) NotifyDeleted(ctx context.Context, userID int64, ids ...int64) {
	c.sessions.Broadcast(userID, session.Event{
		Kind:    session.EventDeleted,
		Payload: map[string]interface{}{"ids": ids},
	})
	c.broadcastCount(ctx, userID)
}

func (c *Coordinator) broadcastCount(ctx context.Context, userID int64) {
	if c.sessions.Count(userID) == 0 {
		return
	}
	count, err := c.counter.CountUnread(ctx, userID)
	if err != nil {
		slog.Error("failed to count unread for live update", "user_id", userID, "error", err)
		return
	}
	c.sessions.Broadcast(userID, session.Event{
		Kind:    session.EventCountUpdate,
		Payload: map[string]interface{}{"count": count},
	})
}
