package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskwire/internal/subscription"
	"deskwire/internal/testdb"
)

func newPushFixture(t *testing.T) (*PushHandler, *subscription.Registry) {
	t.Helper()
	reg := subscription.NewRegistry(testdb.Open(t), nil)
	return NewPushHandler(reg, "BTestVapidPublicKey"), reg
}

func TestPushHandler_Subscribe(t *testing.T) {
	h, reg := newPushFixture(t)

	body := `{"endpoint": "https://push.example/abc", "keys": {"p256dh": "BPubKey", "auth": "authSecret"}}`
	c, rec := request(http.MethodPost, "/api/notifications/push/subscribe", body, 1)
	require.NoError(t, h.Subscribe(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	// Re-subscribing the same endpoint is an update, not a new resource.
	c, rec = request(http.MethodPost, "/api/notifications/push/subscribe", body, 1)
	require.NoError(t, h.Subscribe(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	subs, err := reg.ListForUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestPushHandler_Subscribe_Invalid(t *testing.T) {
	h, _ := newPushFixture(t)

	for name, body := range map[string]string{
		"missing endpoint": `{"keys": {"p256dh": "a", "auth": "b"}}`,
		"bad endpoint url": `{"endpoint": "not a url", "keys": {"p256dh": "a", "auth": "b"}}`,
		"missing keys":     `{"endpoint": "https://push.example/abc"}`,
		"partial keys":     `{"endpoint": "https://push.example/abc", "keys": {"p256dh": "a"}}`,
	} {
		c, rec := request(http.MethodPost, "/api/notifications/push/subscribe", body, 1)
		require.NoError(t, h.Subscribe(c))
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestPushHandler_Unsubscribe(t *testing.T) {
	h, reg := newPushFixture(t)
	_, err := reg.Subscribe(context.Background(), 1, "https://push.example/abc",
		subscription.Keys{P256dh: "a", Auth: "b"}, "")
	require.NoError(t, err)

	body := `{"endpoint": "https://push.example/abc"}`
	c, rec := request(http.MethodPost, "/api/notifications/push/unsubscribe", body, 1)
	require.NoError(t, h.Unsubscribe(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Already gone, still 200.
	c, rec = request(http.MethodPost, "/api/notifications/push/unsubscribe", body, 1)
	require.NoError(t, h.Unsubscribe(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	subs, err := reg.ListForUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestPushHandler_PublicKey(t *testing.T) {
	h, _ := newPushFixture(t)

	c, rec := request(http.MethodGet, "/api/notifications/push/public-key", "", 1)
	require.NoError(t, h.PublicKey(c))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "BTestVapidPublicKey")
}
