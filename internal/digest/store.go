// Package digest aggregates each user's recent notifications into
// periodic email batches, honoring per-user delivery windows. It runs
// off its own timer and never touches live delivery.
package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"deskwire/internal/notification"
)

// Frequency is the per-user digest cadence.
type Frequency string

const (
	FrequencyNever  Frequency = "never"
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// Scope selects which notifications a digest aggregates. It is an
// explicit policy parameter, not a guess.
type Scope string

const (
	// ScopeUnread digests whatever is unread at tick time.
	ScopeUnread Scope = "unread"
	// ScopeSinceLast digests everything created since the user's
	// previous digest, read or not.
	ScopeSinceLast Scope = "since_last"
)

// Preference is a user's delivery-window configuration. It is owned by
// the settings surface; the digest job only reads it.
type Preference struct {
	UserID         int64     `db:"user_id"`
	Email          string    `db:"email"`
	EmailEnabled   bool      `db:"email_enabled"`
	HoursStart     int       `db:"hours_start"`
	HoursEnd       int       `db:"hours_end"`
	WeekendEnabled bool      `db:"weekend_enabled"`
	Frequency      Frequency `db:"frequency"`

	// LastSentAt comes from digest_log; nil means never digested.
	LastSentAt *time.Time `db:"last_sent_at"`
}

// Store runs the digest job's batched queries. Cost per tick is
// proportional to the number of eligible users, not to total
// notification volume: one query for preferences, one for the
// notifications of every eligible user together.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a digest store backed by the given database.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// CandidatePreferences returns, in a single query, every enabled
// preference joined with its last digest time. Window and frequency
// filtering happens in the scheduler where "now" lives.
func (s *Store) CandidatePreferences(ctx context.Context) ([]Preference, error) {
	var out []Preference
	err := s.db.SelectContext(ctx, &out, `
		SELECT p.user_id, p.email, p.email_enabled, p.hours_start, p.hours_end,
		       p.weekend_enabled, p.frequency, l.last_sent_at
		FROM digest_preferences p
		LEFT JOIN digest_log l ON l.user_id = p.user_id
		WHERE p.frequency != 'never' AND p.email_enabled`)
	if err != nil {
		return nil, fmt.Errorf("failed to load digest preferences: %w", err)
	}
	return out, nil
}

// NotificationsForUsers fetches all candidate notifications for the
// given users at once. For ScopeUnread only unread rows qualify; for
// ScopeSinceLast rows created after cutoff qualify (per-user trimming
// is the scheduler's job).
func (s *Store) NotificationsForUsers(ctx context.Context, userIDs []int64, scope Scope, cutoff time.Time) (map[int64][]notification.Notification, error) {
	if len(userIDs) == 0 {
		return map[int64][]notification.Notification{}, nil
	}

	base := `
		SELECT id, user_id, type, title, message, priority, ticket_id, ticket_code, metadata, read_at, created_at
		FROM notifications WHERE user_id IN (?)`

	var (
		query string
		args  []interface{}
		err   error
	)
	switch scope {
	case ScopeSinceLast:
		query, args, err = sqlx.In(base+" AND created_at >= ?", userIDs, cutoff.UTC())
	default:
		query, args, err = sqlx.In(base+" AND read_at IS NULL", userIDs)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build digest query: %w", err)
	}

	var rows []notification.Notification
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load digest notifications: %w", err)
	}

	grouped := make(map[int64][]notification.Notification, len(userIDs))
	for _, n := range rows {
		grouped[n.UserID] = append(grouped[n.UserID], n)
	}
	return grouped, nil
}

// MarkSent records the digest time for every sent user in one upsert.
func (s *Store) MarkSent(ctx context.Context, userIDs []int64, sentAt time.Time) error {
	if len(userIDs) == 0 {
		return nil
	}

	values := make([]string, 0, len(userIDs))
	args := make([]interface{}, 0, 2*len(userIDs))
	for i, id := range userIDs {
		values = append(values, fmt.Sprintf("($%d, $%d)", 2*i+1, 2*i+2))
		args = append(args, id, sentAt.UTC())
	}

	query := `
		INSERT INTO digest_log (user_id, last_sent_at)
		VALUES ` + strings.Join(values, ", ") + `
		ON CONFLICT (user_id) DO UPDATE SET last_sent_at = EXCLUDED.last_sent_at`

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record digest log: %w", err)
	}
	return nil
}
