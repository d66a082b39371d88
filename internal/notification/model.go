package notification

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Type is the closed set of event kinds a notification can carry.
type Type string

const (
	TypeNewTicket          Type = "new_ticket"
	TypeStatusChange       Type = "status_change"
	TypeNewReply           Type = "new_reply"
	TypeParticipantAdded   Type = "participant_added"
	TypeParticipantRemoved Type = "participant_removed"
	TypeSystem             Type = "system"
)

// Valid reports whether t is one of the known notification types.
func (t Type) Valid() bool {
	switch t {
	case TypeNewTicket, TypeStatusChange, TypeNewReply,
		TypeParticipantAdded, TypeParticipantRemoved, TypeSystem:
		return true
	}
	return false
}

// Priority orders notifications for presentation and digests.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// TicketRef links a notification to the ticket that produced it.
// Either both fields are set or the notification carries no reference.
type TicketRef struct {
	ID   int64  `json:"ticket_id"`
	Code string `json:"ticket_code"`
}

// Notification is a persisted event record with read/unread state.
// Everything except ReadAt is immutable after creation.
type Notification struct {
	ID         int64          `db:"id" json:"id"`
	UserID     int64          `db:"user_id" json:"user_id"`
	Type       Type           `db:"type" json:"type"`
	Title      string         `db:"title" json:"title"`
	Message    string         `db:"message" json:"message"`
	Priority   Priority       `db:"priority" json:"priority"`
	TicketID   *int64         `db:"ticket_id" json:"ticket_id,omitempty"`
	TicketCode *string        `db:"ticket_code" json:"ticket_code,omitempty"`
	Metadata   types.JSONText `db:"metadata" json:"metadata,omitempty"`
	ReadAt     *time.Time     `db:"read_at" json:"read_at,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}

// Ticket returns the ticket reference, or nil when the notification is
// not tied to a ticket.
func (n *Notification) Ticket() *TicketRef {
	if n.TicketID == nil || n.TicketCode == nil {
		return nil
	}
	return &TicketRef{ID: *n.TicketID, Code: *n.TicketCode}
}

// Read reports whether the notification has been marked read.
func (n *Notification) Read() bool {
	return n.ReadAt != nil
}

// CreateInput is what external triggers supply to Record.
type CreateInput struct {
	UserID   int64          `json:"user_id"`
	Type     Type           `json:"type"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Priority Priority       `json:"priority"`
	Ticket   *TicketRef     `json:"ticket,omitempty"`
	Metadata types.JSONText `json:"metadata,omitempty"`
}
