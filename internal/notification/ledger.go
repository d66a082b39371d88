package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Ledger is the durable store of notification records and the source of
// truth for read/unread state.
type Ledger struct {
	db *sqlx.DB
}

// NewLedger creates a ledger backed by the given database.
func NewLedger(db *sqlx.DB) *Ledger {
	return &Ledger{db: db}
}

func validate(in CreateInput) error {
	if in.UserID == 0 {
		return &ValidationError{Field: "user_id", Reason: "required"}
	}
	if in.Type == "" {
		return &ValidationError{Field: "type", Reason: "required"}
	}
	if !in.Type.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown type %q", in.Type)}
	}
	if strings.TrimSpace(in.Title) == "" {
		return &ValidationError{Field: "title", Reason: "required"}
	}
	if strings.TrimSpace(in.Message) == "" {
		return &ValidationError{Field: "message", Reason: "required"}
	}
	if in.Priority != "" && !in.Priority.Valid() {
		return &ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", in.Priority)}
	}
	if in.Ticket != nil && (in.Ticket.ID == 0 || in.Ticket.Code == "") {
		return &ValidationError{Field: "ticket", Reason: "ticket_id and ticket_code must both be set"}
	}
	return nil
}

// Record validates and persists a new notification, returning it with
// the generated id and creation timestamp.
func (l *Ledger) Record(ctx context.Context, in CreateInput) (*Notification, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	n := &Notification{
		UserID:    in.UserID,
		Type:      in.Type,
		Title:     in.Title,
		Message:   in.Message,
		Priority:  in.Priority,
		Metadata:  in.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	if n.Priority == "" {
		n.Priority = PriorityMedium
	}
	if in.Ticket != nil {
		n.TicketID = &in.Ticket.ID
		n.TicketCode = &in.Ticket.Code
	}

	query := `
		INSERT INTO notifications (
			user_id, type, title, message, priority, ticket_id, ticket_code, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	err := l.db.QueryRowContext(ctx, query,
		n.UserID, n.Type, n.Title, n.Message, n.Priority,
		n.TicketID, n.TicketCode, n.Metadata, n.CreatedAt,
	).Scan(&n.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to record notification: %w", err)
	}

	return n, nil
}

// ListUnread returns every unread notification for the user. The ledger
// imposes no ordering; presentation order is the Recovery concern.
func (l *Ledger) ListUnread(ctx context.Context, userID int64) ([]Notification, error) {
	var out []Notification
	err := l.db.SelectContext(ctx, &out, `
		SELECT id, user_id, type, title, message, priority, ticket_id, ticket_code, metadata, read_at, created_at
		FROM notifications
		WHERE user_id = $1 AND read_at IS NULL`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unread notifications: %w", err)
	}
	return out, nil
}

// Recover returns the user's full unread set ordered most-recent-first,
// ties broken by ascending id so the order is total and deterministic.
// It performs no mutation and is safe to call on every reconnect.
func (l *Ledger) Recover(ctx context.Context, userID int64) ([]Notification, error) {
	var out []Notification
	err := l.db.SelectContext(ctx, &out, `
		SELECT id, user_id, type, title, message, priority, ticket_id, ticket_code, metadata, read_at, created_at
		FROM notifications
		WHERE user_id = $1 AND read_at IS NULL
		ORDER BY created_at DESC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to recover notifications: %w", err)
	}
	return out, nil
}

// CountUnread returns the number of unread notifications for the user.
// Always equals len(ListUnread) for the same instant.
func (l *Ledger) CountUnread(ctx context.Context, userID int64) (int, error) {
	var count int
	err := l.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM notifications
		WHERE user_id = $1 AND read_at IS NULL`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead sets read_at on the notification iff it belongs to userID
// and is still unread. Returns whether a change was made; marking an
// already-read notification is a no-op, not an error. A notification
// that does not exist or belongs to someone else yields ErrNotFound.
func (l *Ledger) MarkRead(ctx context.Context, id, userID int64) (bool, error) {
	res, err := l.db.ExecContext(ctx, `
		UPDATE notifications SET read_at = $1
		WHERE id = $2 AND user_id = $3 AND read_at IS NULL`,
		time.Now().UTC(), id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to mark notification read: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows > 0 {
		return true, nil
	}

	// Lost to a concurrent markRead, or never ours to begin with.
	var exists bool
	err = l.db.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1 AND user_id = $2)`,
		id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to check notification ownership: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

// MarkAllRead marks every unread notification of the user as read and
// returns how many rows changed.
func (l *Ledger) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	res, err := l.db.ExecContext(ctx, `
		UPDATE notifications SET read_at = $1
		WHERE user_id = $2 AND read_at IS NULL`,
		time.Now().UTC(), userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all notifications read: %w", err)
	}
	rows, _ := res.RowsAffected()
	return rows, nil
}

// Delete permanently removes one notification owned by userID.
func (l *Ledger) Delete(ctx context.Context, id, userID int64) error {
	res, err := l.db.ExecContext(ctx, `
		DELETE FROM notifications WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteBatch removes the given notifications where owned by userID and
// reports how many were actually deleted (partial success is fine).
func (l *Ledger) DeleteBatch(ctx context.Context, userID int64, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(`
		DELETE FROM notifications WHERE user_id = ? AND id IN (?)`, userID, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to build batch delete: %w", err)
	}

	res, err := l.db.ExecContext(ctx, l.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to batch delete notifications: %w", err)
	}
	rows, _ := res.RowsAffected()
	return rows, nil
}

// ListFilter narrows and pages the List query. Zero values mean "no
// filter". Page and Limit are 1-based and clamped by the handler.
type ListFilter struct {
	Type      Type
	Read      *bool
	StartDate *time.Time
	EndDate   *time.Time
	Search    string
	Page      int
	Limit     int
}

// List returns one page of the user's notifications, newest first, plus
// the total row count for the filter.
func (l *Ledger) List(ctx context.Context, userID int64, f ListFilter) ([]Notification, int64, error) {
	where := []string{"user_id = ?"}
	args := []interface{}{userID}

	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.Read != nil {
		if *f.Read {
			where = append(where, "read_at IS NOT NULL")
		} else {
			where = append(where, "read_at IS NULL")
		}
	}
	if f.StartDate != nil {
		where = append(where, "created_at >= ?")
		args = append(args, f.StartDate.UTC())
	}
	if f.EndDate != nil {
		where = append(where, "created_at <= ?")
		args = append(args, f.EndDate.UTC())
	}
	if f.Search != "" {
		where = append(where, "(LOWER(title) LIKE ? OR LOWER(message) LIKE ?)")
		pattern := "%" + strings.ToLower(f.Search) + "%"
		args = append(args, pattern, pattern)
	}

	clause := strings.Join(where, " AND ")

	var total int64
	countQuery := l.db.Rebind("SELECT COUNT(*) FROM notifications WHERE " + clause)
	if err := l.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	limit := f.Limit
	if limit < 1 {
		limit = 20
	}
	offset := (page - 1) * limit

	listQuery := l.db.Rebind(`
		SELECT id, user_id, type, title, message, priority, ticket_id, ticket_code, metadata, read_at, created_at
		FROM notifications WHERE ` + clause + `
		ORDER BY created_at DESC, id ASC
		LIMIT ? OFFSET ?`)
	args = append(args, limit, offset)

	var out []Notification
	if err := l.db.SelectContext(ctx, &out, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	return out, total, nil
}
