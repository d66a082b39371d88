// Package session tracks currently-connected user sessions in memory.
// One user may hold several concurrent connections (tabs, devices); all
// of them receive live events. Nothing here is persisted: the ledger
// remains the durable source of truth, and a dropped live event is
// recovered on the next reconnect.
package session

import (
	"sync"
	"time"
)

// Event kinds pushed over the live channel.
const (
	EventNotification = "notification"
	EventCountUpdate  = "notification_count_update"
	EventRead         = "notification_read"
	EventDeleted      = "notification_deleted"
)

// Event is one message pushed to a connected session.
type Event struct {
	Kind    string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// sendBuffer bounds the per-session outbound queue. A session that
// cannot drain this many events loses the excess; live delivery is
// best-effort.
const sendBuffer = 16

// Session is one active connection.
type Session struct {
	UserID      int64
	ConnectedAt time.Time

	out chan Event
}

// Events exposes the session's outbound queue to the transport write
// pump.
func (s *Session) Events() <-chan Event {
	return s.out
}

// send enqueues without blocking; events to slow consumers are dropped.
func (s *Session) send(ev Event) bool {
	select {
	case s.out <- ev:
		return true
	default:
		return false
	}
}

// shardCount spreads users over independently locked buckets so that
// unrelated users' connect/disconnect/dispatch never contend.
const shardCount = 32

type shard struct {
	mu       sync.RWMutex
	sessions map[int64]map[*Session]struct{}
}

// Registry is the in-memory map of live sessions, sharded by user id.
type Registry struct {
	shards [shardCount]*shard
}

// NewRegistry creates an empty live session registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{sessions: make(map[int64]map[*Session]struct{})}
	}
	return r
}

func (r *Registry) shardFor(userID int64) *shard {
	idx := userID % shardCount
	if idx < 0 {
		idx += shardCount
	}
	return r.shards[idx]
}

// Connect registers a new session for the user and returns it.
func (r *Registry) Connect(userID int64) *Session {
	s := &Session{
		UserID:      userID,
		ConnectedAt: time.Now(),
		out:         make(chan Event, sendBuffer),
	}

	sh := r.shardFor(userID)
	sh.mu.Lock()
	set, ok := sh.sessions[userID]
	if !ok {
		set = make(map[*Session]struct{})
		sh.sessions[userID] = set
	}
	set[s] = struct{}{}
	sh.mu.Unlock()

	return s
}

// Disconnect removes the session and closes its event channel. Safe to
// call once per session; the transport owns calling it on teardown.
func (r *Registry) Disconnect(s *Session) {
	sh := r.shardFor(s.UserID)
	sh.mu.Lock()
	set, ok := sh.sessions[s.UserID]
	if ok {
		if _, present := set[s]; present {
			delete(set, s)
			close(s.out)
		}
		if len(set) == 0 {
			delete(sh.sessions, s.UserID)
		}
	}
	sh.mu.Unlock()
}

// Broadcast pushes an event to every live session of the user,
// best-effort, and reports how many sessions accepted it.
func (r *Registry) Broadcast(userID int64, ev Event) int {
	sh := r.shardFor(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	delivered := 0
	for s := range sh.sessions[userID] {
		if s.send(ev) {
			delivered++
		}
	}
	return delivered
}

// Count returns the number of live sessions for the user.
func (r *Registry) Count(userID int64) int {
	sh := r.shardFor(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.sessions[userID])
}
