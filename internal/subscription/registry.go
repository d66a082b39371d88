// Package subscription owns the lifecycle of registered push endpoints:
// create on subscribe, refresh on re-subscribe and delivery, delete on
// explicit unsubscribe or when the provider reports the endpoint gone.
package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"deskwire/internal/security"
)

// ErrNotFound is returned by Get for unknown endpoints.
var ErrNotFound = errors.New("push subscription not found")

// PushSubscription is a user's registered push endpoint. The endpoint
// string is the natural key; at most one row exists per endpoint.
type PushSubscription struct {
	Endpoint   string    `db:"endpoint" json:"endpoint"`
	UserID     int64     `db:"user_id" json:"user_id"`
	P256dh     string    `db:"p256dh" json:"-"`
	Auth       string    `db:"auth" json:"-"`
	UserAgent  *string   `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	LastUsedAt time.Time `db:"last_used_at" json:"last_used_at"`
}

// Keys carries the credential blobs supplied by the browser.
type Keys struct {
	P256dh string `json:"p256dh" validate:"required"`
	Auth   string `json:"auth" validate:"required"`
}

// Registry is the durable store of push subscriptions. Key material is
// encrypted at rest through the configured cipher.
type Registry struct {
	db     *sqlx.DB
	cipher security.Cipher
}

// NewRegistry creates a registry backed by the given database.
func NewRegistry(db *sqlx.DB, cipher security.Cipher) *Registry {
	if cipher == nil {
		cipher = security.Plaintext{}
	}
	return &Registry{db: db, cipher: cipher}
}

// Subscribe registers or refreshes an endpoint. An unknown endpoint is
// inserted; a known one is updated in place: ownership follows the
// last subscriber, keys are replaced, and last_used_at is bumped. The
// upsert guarantees no duplicate row for the same endpoint even under
// concurrent subscribes (last write wins). Returns true when a new row
// was created.
func (r *Registry) Subscribe(ctx context.Context, userID int64, endpoint string, keys Keys, userAgent string) (bool, error) {
	p256dh, err := r.cipher.Encrypt(ctx, keys.P256dh)
	if err != nil {
		return false, fmt.Errorf("failed to encrypt p256dh key: %w", err)
	}
	auth, err := r.cipher.Encrypt(ctx, keys.Auth)
	if err != nil {
		return false, fmt.Errorf("failed to encrypt auth key: %w", err)
	}

	var ua *string
	if userAgent != "" {
		ua = &userAgent
	}

	now := time.Now().UTC()
	var created bool
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO push_subscriptions (endpoint, user_id, p256dh, auth, user_agent, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (endpoint) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			p256dh = EXCLUDED.p256dh,
			auth = EXCLUDED.auth,
			user_agent = EXCLUDED.user_agent,
			last_used_at = EXCLUDED.last_used_at
		RETURNING created_at = last_used_at`,
		endpoint, userID, p256dh, auth, ua, now,
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("failed to subscribe endpoint: %w", err)
	}
	return created, nil
}

// Unsubscribe deletes the endpoint only if it belongs to userID.
// Deleting a non-existent or foreign endpoint is a silent no-op so
// client-side unsubscribe stays idempotent.
func (r *Registry) Unsubscribe(ctx context.Context, userID int64, endpoint string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM push_subscriptions WHERE endpoint = $1 AND user_id = $2`,
		endpoint, userID)
	if err != nil {
		return fmt.Errorf("failed to unsubscribe endpoint: %w", err)
	}
	return nil
}

// Remove unconditionally deletes an endpoint. This is the privileged
// path used when a delivery attempt reports the endpoint gone; it is
// only ever invoked by trusted internal callers.
func (r *Registry) Remove(ctx context.Context, endpoint string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM push_subscriptions WHERE endpoint = $1`, endpoint)
	if err != nil {
		return fmt.Errorf("failed to remove endpoint: %w", err)
	}
	return nil
}

// ListForUser returns the user's subscriptions with decrypted keys.
func (r *Registry) ListForUser(ctx context.Context, userID int64) ([]PushSubscription, error) {
	var out []PushSubscription
	err := r.db.SelectContext(ctx, &out, `
		SELECT endpoint, user_id, p256dh, auth, user_agent, created_at, last_used_at
		FROM push_subscriptions WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	for i := range out {
		if err := r.decrypt(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Get returns one subscription by endpoint with decrypted keys.
func (r *Registry) Get(ctx context.Context, endpoint string) (*PushSubscription, error) {
	var sub PushSubscription
	err := r.db.GetContext(ctx, &sub, `
		SELECT endpoint, user_id, p256dh, auth, user_agent, created_at, last_used_at
		FROM push_subscriptions WHERE endpoint = $1`, endpoint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if err := r.decrypt(ctx, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// Touch bumps last_used_at after a successful delivery attempt.
func (r *Registry) Touch(ctx context.Context, endpoint string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE push_subscriptions SET last_used_at = $1 WHERE endpoint = $2`,
		time.Now().UTC(), endpoint)
	if err != nil {
		return fmt.Errorf("failed to touch subscription: %w", err)
	}
	return nil
}

func (r *Registry) decrypt(ctx context.Context, sub *PushSubscription) error {
	p256dh, err := r.cipher.Decrypt(ctx, sub.P256dh)
	if err != nil {
		return fmt.Errorf("failed to decrypt p256dh key: %w", err)
	}
	auth, err := r.cipher.Decrypt(ctx, sub.Auth)
	if err != nil {
		return fmt.Errorf("failed to decrypt auth key: %w", err)
	}
	sub.P256dh, sub.Auth = p256dh, auth
	return nil
}
