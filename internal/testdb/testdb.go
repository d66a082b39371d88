// Package testdb opens throwaway in-memory SQLite databases mirroring
// the production schema, for repository and handler tests.
package testdb

import (
	"testing"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// schema mirrors internal/migrations/sql in SQLite dialect. Keep the
// two in sync when adding columns.
const schema = `
CREATE TABLE users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    email TEXT NOT NULL UNIQUE,
    password TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE notifications (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    type TEXT NOT NULL,
    title TEXT NOT NULL,
    message TEXT NOT NULL,
    priority TEXT NOT NULL DEFAULT 'medium',
    ticket_id INTEGER,
    ticket_code TEXT,
    metadata BLOB,
    read_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE push_subscriptions (
    endpoint TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL,
    p256dh TEXT NOT NULL,
    auth TEXT NOT NULL,
    user_agent TEXT,
    created_at TIMESTAMP NOT NULL,
    last_used_at TIMESTAMP NOT NULL
);

CREATE TABLE digest_preferences (
    user_id INTEGER PRIMARY KEY,
    email TEXT NOT NULL,
    email_enabled BOOLEAN NOT NULL DEFAULT 1,
    hours_start INTEGER NOT NULL DEFAULT 9,
    hours_end INTEGER NOT NULL DEFAULT 18,
    weekend_enabled BOOLEAN NOT NULL DEFAULT 0,
    frequency TEXT NOT NULL DEFAULT 'never'
);

CREATE TABLE digest_log (
    user_id INTEGER PRIMARY KEY,
    last_sent_at TIMESTAMP NOT NULL
);
`

// Open returns an in-memory database with the schema applied. The
// connection is closed when the test finishes.
func Open(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	// A second connection would see a different empty memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	return db
}
