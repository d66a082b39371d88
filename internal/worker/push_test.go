package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskwire/internal/notification"
	"deskwire/internal/push"
	"deskwire/internal/queue"
	"deskwire/internal/subscription"
	"deskwire/internal/testdb"
)

type fakeSender struct {
	err   error
	sent  [][]byte
	calls int
}

func (f *fakeSender) Send(_ context.Context, _ *subscription.PushSubscription, payload []byte) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, payload)
	return nil
}

func pushTask(t *testing.T, p queue.PushDeliveryPayload) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	return asynq.NewTask(queue.TaskPushDelivery, data)
}

func seedSubscription(t *testing.T, reg *subscription.Registry, userID int64, endpoint string) {
	t.Helper()
	_, err := reg.Subscribe(context.Background(), userID, endpoint,
		subscription.Keys{P256dh: "BPubKey", Auth: "authSecret"}, "")
	require.NoError(t, err)
}

func TestHandlePushDelivery_Success(t *testing.T) {
	reg := subscription.NewRegistry(testdb.Open(t), nil)
	ctx := context.Background()
	seedSubscription(t, reg, 1, "https://push.example/a")

	before, err := reg.Get(ctx, "https://push.example/a")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	sender := &fakeSender{}
	h := NewPushHandler(reg, sender)

	ticketID := int64(42)
	task := pushTask(t, queue.PushDeliveryPayload{
		Endpoint:       "https://push.example/a",
		UserID:         1,
		NotificationID: 9,
		Type:           notification.TypeNewReply,
		Title:          "Agent replied",
		Message:        "See thread",
		Priority:       notification.PriorityHigh,
		TicketID:       &ticketID,
	})
	require.NoError(t, h.HandlePushDelivery(ctx, task))

	require.Len(t, sender.sent, 1)
	var msg pushMessage
	require.NoError(t, json.Unmarshal(sender.sent[0], &msg))
	assert.Equal(t, int64(9), msg.NotificationID)
	assert.Equal(t, "new_reply", msg.Type)
	require.NotNil(t, msg.TicketID)
	assert.Equal(t, int64(42), *msg.TicketID)

	// A successful delivery refreshes last_used_at.
	after, err := reg.Get(ctx, "https://push.example/a")
	require.NoError(t, err)
	assert.True(t, after.LastUsedAt.After(before.LastUsedAt))
}

func TestHandlePushDelivery_EndpointGoneRemovesSubscription(t *testing.T) {
	reg := subscription.NewRegistry(testdb.Open(t), nil)
	ctx := context.Background()
	seedSubscription(t, reg, 1, "https://push.example/dead")
	seedSubscription(t, reg, 2, "https://push.example/alive")

	h := NewPushHandler(reg, &fakeSender{err: push.ErrEndpointGone})
	task := pushTask(t, queue.PushDeliveryPayload{Endpoint: "https://push.example/dead", UserID: 1})

	// Permanent failure is terminal, not retried.
	require.NoError(t, h.HandlePushDelivery(ctx, task))

	_, err := reg.Get(ctx, "https://push.example/dead")
	assert.ErrorIs(t, err, subscription.ErrNotFound)

	// The other user's endpoint survives.
	_, err = reg.Get(ctx, "https://push.example/alive")
	assert.NoError(t, err)
}

func TestHandlePushDelivery_TransientFailureRetries(t *testing.T) {
	reg := subscription.NewRegistry(testdb.Open(t), nil)
	ctx := context.Background()
	seedSubscription(t, reg, 1, "https://push.example/a")

	h := NewPushHandler(reg, &fakeSender{err: errors.New("provider returned status 503")})
	task := pushTask(t, queue.PushDeliveryPayload{Endpoint: "https://push.example/a", UserID: 1})

	// Returning the error hands the task back for a backoff retry.
	err := h.HandlePushDelivery(ctx, task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	// Transient failure never purges the subscription.
	_, err = reg.Get(ctx, "https://push.example/a")
	assert.NoError(t, err)
}

func TestHandlePushDelivery_UnknownEndpointSkipped(t *testing.T) {
	reg := subscription.NewRegistry(testdb.Open(t), nil)

	sender := &fakeSender{}
	h := NewPushHandler(reg, sender)
	task := pushTask(t, queue.PushDeliveryPayload{Endpoint: "https://push.example/unsubscribed"})

	// The user unsubscribed between enqueue and processing.
	require.NoError(t, h.HandlePushDelivery(context.Background(), task))
	assert.Zero(t, sender.calls)
}

func TestHandlePushDelivery_MalformedPayload(t *testing.T) {
	h := NewPushHandler(subscription.NewRegistry(testdb.Open(t), nil), &fakeSender{})
	task := asynq.NewTask(queue.TaskPushDelivery, []byte("{not json"))

	err := h.HandlePushDelivery(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 30 * time.Second},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 8 * time.Minute},
		{5, 10 * time.Minute},
		{10, 10 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, retryDelay(tt.attempt, nil, nil), "attempt %d", tt.attempt)
	}
}
