package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskwire/internal/testdb"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(testdb.Open(t), nil)
}

var testKeys = Keys{P256dh: "BPubKey", Auth: "authSecret"}

func TestRegistry_Subscribe_Dedup(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	created, err := reg.Subscribe(ctx, 1, "https://push.example/abc", testKeys, "")
	require.NoError(t, err)
	assert.True(t, created)

	first, err := reg.Get(ctx, "https://push.example/abc")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	// Re-subscribing the same endpoint updates in place.
	created, err = reg.Subscribe(ctx, 1, "https://push.example/abc", Keys{P256dh: "BNewKey", Auth: "newSecret"}, "Mozilla/5.0")
	require.NoError(t, err)
	assert.False(t, created)

	subs, err := reg.ListForUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, subs, 1, "no duplicate rows for the same endpoint")

	assert.Equal(t, "BNewKey", subs[0].P256dh)
	assert.Equal(t, "newSecret", subs[0].Auth)
	require.NotNil(t, subs[0].UserAgent)
	assert.Equal(t, "Mozilla/5.0", *subs[0].UserAgent)
	assert.False(t, subs[0].LastUsedAt.Before(first.LastUsedAt), "last_used_at only moves forward")
}

func TestRegistry_Subscribe_OwnershipMoves(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Subscribe(ctx, 1, "https://push.example/shared", testKeys, "")
	require.NoError(t, err)

	// A browser reset can hand the same endpoint to a different account.
	created, err := reg.Subscribe(ctx, 2, "https://push.example/shared", testKeys, "")
	require.NoError(t, err)
	assert.False(t, created)

	sub, err := reg.Get(ctx, "https://push.example/shared")
	require.NoError(t, err)
	assert.Equal(t, int64(2), sub.UserID)

	orphaned, err := reg.ListForUser(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, orphaned)
}

func TestRegistry_Unsubscribe(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Subscribe(ctx, 1, "https://push.example/a", testKeys, "")
	require.NoError(t, err)

	// Foreign unsubscribe is a no-op.
	require.NoError(t, reg.Unsubscribe(ctx, 2, "https://push.example/a"))
	_, err = reg.Get(ctx, "https://push.example/a")
	require.NoError(t, err)

	require.NoError(t, reg.Unsubscribe(ctx, 1, "https://push.example/a"))
	_, err = reg.Get(ctx, "https://push.example/a")
	assert.ErrorIs(t, err, ErrNotFound)

	// Idempotent.
	require.NoError(t, reg.Unsubscribe(ctx, 1, "https://push.example/a"))

	// The endpoint can be registered again from scratch.
	created, err := reg.Subscribe(ctx, 1, "https://push.example/a", testKeys, "")
	require.NoError(t, err)
	assert.True(t, created)
}

func TestRegistry_Remove(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Subscribe(ctx, 1, "https://push.example/gone", testKeys, "")
	require.NoError(t, err)
	_, err = reg.Subscribe(ctx, 2, "https://push.example/alive", testKeys, "")
	require.NoError(t, err)

	require.NoError(t, reg.Remove(ctx, "https://push.example/gone"))

	_, err = reg.Get(ctx, "https://push.example/gone")
	assert.ErrorIs(t, err, ErrNotFound)

	// Other users' endpoints are untouched.
	remaining, err := reg.ListForUser(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestRegistry_Touch(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Subscribe(ctx, 1, "https://push.example/a", testKeys, "")
	require.NoError(t, err)
	before, err := reg.Get(ctx, "https://push.example/a")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, reg.Touch(ctx, "https://push.example/a"))

	after, err := reg.Get(ctx, "https://push.example/a")
	require.NoError(t, err)
	assert.True(t, after.LastUsedAt.After(before.LastUsedAt))
}

func TestRegistry_KeysRoundTrip(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	keys := Keys{P256dh: "BGV5IHRoZXJl", Auth: "c2VjcmV0"}
	_, err := reg.Subscribe(ctx, 1, "https://push.example/rt", keys, "")
	require.NoError(t, err)

	sub, err := reg.Get(ctx, "https://push.example/rt")
	require.NoError(t, err)
	assert.Equal(t, keys.P256dh, sub.P256dh)
	assert.Equal(t, keys.Auth, sub.Auth)
}
