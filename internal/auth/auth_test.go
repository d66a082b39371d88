package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskwire/internal/testdb"
)

const testSecret = "test-secret"

func TestStore_CreateAndAuthenticate(t *testing.T) {
	store := NewStore(testdb.Open(t))
	ctx := context.Background()

	user, err := store.Create(ctx, "agent@example.com", "hunter2hunter2")
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.NotEqual(t, "hunter2hunter2", user.Password, "password is stored hashed")

	got, err := store.Authenticate(ctx, "agent@example.com", "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = store.Authenticate(ctx, "agent@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = store.Authenticate(ctx, "nobody@example.com", "hunter2hunter2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func jwtTestContext(t *testing.T, authorization string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec), rec
}

func TestJWTMiddleware(t *testing.T) {
	token, err := GenerateToken(testSecret, &User{ID: 42, Email: "agent@example.com"})
	require.NoError(t, err)

	var gotUserID int64
	next := func(c echo.Context) error {
		gotUserID = UserID(c)
		return c.NoContent(http.StatusOK)
	}
	mw := JWTMiddleware(testSecret)

	c, rec := jwtTestContext(t, "Bearer "+token)
	require.NoError(t, mw(next)(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(42), gotUserID)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not a bearer token", "Basic abc"},
		{"garbage token", "Bearer not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := jwtTestContext(t, tt.header)
			require.NoError(t, mw(next)(c))
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	t.Run("wrong secret", func(t *testing.T) {
		forged, err := GenerateToken("other-secret", &User{ID: 1})
		require.NoError(t, err)
		c, rec := jwtTestContext(t, "Bearer "+forged)
		require.NoError(t, mw(next)(c))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
