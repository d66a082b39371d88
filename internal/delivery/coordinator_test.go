package delivery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskwire/internal/notification"
	"deskwire/internal/queue"
	"deskwire/internal/session"
	"deskwire/internal/subscription"
)

type fakeCounter struct {
	count int
	err   error
}

func (f *fakeCounter) CountUnread(context.Context, int64) (int, error) {
	return f.count, f.err
}

type fakeLister struct {
	subs []subscription.PushSubscription
	err  error
}

func (f *fakeLister) ListForUser(context.Context, int64) ([]subscription.PushSubscription, error) {
	return f.subs, f.err
}

type fakeDispatcher struct {
	enqueued []queue.PushDeliveryPayload
	failOn   string
}

func (f *fakeDispatcher) EnqueuePushDelivery(p queue.PushDeliveryPayload) error {
	if f.failOn != "" && p.Endpoint == f.failOn {
		return errors.New("queue unavailable")
	}
	f.enqueued = append(f.enqueued, p)
	return nil
}

func testNotification() *notification.Notification {
	return &notification.Notification{
		ID:       7,
		UserID:   1,
		Type:     notification.TypeNewReply,
		Title:    "Agent replied",
		Message:  "See thread",
		Priority: notification.PriorityHigh,
	}
}

func TestCoordinator_Dispatch_NoSubscribers(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	co := NewCoordinator(&fakeCounter{count: 1}, &fakeLister{}, session.NewRegistry(), dispatcher)

	co.Dispatch(context.Background(), testNotification())

	// A user with no subscriptions produces zero queue entries.
	assert.Empty(t, dispatcher.enqueued)
}

func TestCoordinator_Dispatch_LiveAndQueued(t *testing.T) {
	sessions := session.NewRegistry()
	live := sessions.Connect(1)
	defer sessions.Disconnect(live)

	dispatcher := &fakeDispatcher{}
	lister := &fakeLister{subs: []subscription.PushSubscription{
		{Endpoint: "https://push.example/a", UserID: 1},
		{Endpoint: "https://push.example/b", UserID: 1},
	}}
	co := NewCoordinator(&fakeCounter{count: 3}, lister, sessions, dispatcher)

	n := testNotification()
	co.Dispatch(context.Background(), n)

	// The live session saw the notification followed by a count update.
	ev := <-live.Events()
	require.Equal(t, session.EventNotification, ev.Kind)
	assert.Equal(t, n, ev.Payload)

	ev = <-live.Events()
	require.Equal(t, session.EventCountUpdate, ev.Kind)
	assert.Equal(t, map[string]interface{}{"count": 3}, ev.Payload)

	// One queue entry per registered endpoint.
	require.Len(t, dispatcher.enqueued, 2)
	for i, endpoint := range []string{"https://push.example/a", "https://push.example/b"} {
		p := dispatcher.enqueued[i]
		assert.Equal(t, endpoint, p.Endpoint)
		assert.Equal(t, n.ID, p.NotificationID)
		assert.Equal(t, n.Type, p.Type)
		assert.Equal(t, n.Title, p.Title)
	}
}

func TestCoordinator_Dispatch_EnqueueFailureIsolated(t *testing.T) {
	dispatcher := &fakeDispatcher{failOn: "https://push.example/bad"}
	lister := &fakeLister{subs: []subscription.PushSubscription{
		{Endpoint: "https://push.example/bad"},
		{Endpoint: "https://push.example/good"},
	}}
	co := NewCoordinator(&fakeCounter{}, lister, session.NewRegistry(), dispatcher)

	co.Dispatch(context.Background(), testNotification())

	// The failing endpoint does not stop the remaining fan-out.
	require.Len(t, dispatcher.enqueued, 1)
	assert.Equal(t, "https://push.example/good", dispatcher.enqueued[0].Endpoint)
}

func TestCoordinator_Dispatch_ListerFailure(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	co := NewCoordinator(&fakeCounter{}, &fakeLister{err: errors.New("db down")}, session.NewRegistry(), dispatcher)

	// Must not panic or enqueue anything; the ledger write already stands.
	co.Dispatch(context.Background(), testNotification())
	assert.Empty(t, dispatcher.enqueued)
}

func TestCoordinator_NotifyReadAndDeleted(t *testing.T) {
	sessions := session.NewRegistry()
	live := sessions.Connect(1)
	defer sessions.Disconnect(live)

	co := NewCoordinator(&fakeCounter{count: 2}, &fakeLister{}, sessions, &fakeDispatcher{})
	ctx := context.Background()

	co.NotifyRead(ctx, 1, 10, 11)
	ev := <-live.Events()
	require.Equal(t, session.EventRead, ev.Kind)
	assert.Equal(t, map[string]interface{}{"ids": []int64{10, 11}}, ev.Payload)
	ev = <-live.Events()
	assert.Equal(t, session.EventCountUpdate, ev.Kind)

	co.NotifyDeleted(ctx, 1, 12)
	ev = <-live.Events()
	require.Equal(t, session.EventDeleted, ev.Kind)
	ev = <-live.Events()
	assert.Equal(t, session.EventCountUpdate, ev.Kind)
}

func TestCoordinator_CountSkippedWithoutSessions(t *testing.T) {
	counter := &fakeCounter{err: errors.New("should not be called")}
	co := NewCoordinator(counter, &fakeLister{}, session.NewRegistry(), &fakeDispatcher{})

	// Nobody is connected, so the unread count query is skipped entirely
	// and the error path is never reached.
	co.NotifyRead(context.Background(), 1, 5)
}
