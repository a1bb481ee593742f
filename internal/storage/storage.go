// Package storage persists users, events, RSVPs and their satellites
// in SQLite. Uniqueness rules live in the schema so concurrent writers
// collapse onto one row.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"event-rsvp/internal/apperr"
)

// ErrDuplicate is returned when an insert hits a uniqueness constraint.
var ErrDuplicate = errors.New("storage: duplicate key")

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id                        TEXT PRIMARY KEY,
	phone_number              TEXT NOT NULL UNIQUE,
	name                      TEXT NOT NULL DEFAULT '',
	verification_code         TEXT NOT NULL DEFAULT '',
	verification_code_sent_at DATETIME,
	is_verified               BOOLEAN NOT NULL DEFAULT 0,
	created_at                DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id                     TEXT PRIMARY KEY,
	title                  TEXT NOT NULL,
	description            TEXT NOT NULL DEFAULT '',
	location               TEXT NOT NULL DEFAULT '',
	start_at               DATETIME NOT NULL,
	end_at                 DATETIME,
	timezone               TEXT NOT NULL DEFAULT 'UTC',
	cover_photo_status     TEXT NOT NULL DEFAULT 'complete',
	cover_photo_avif_url   TEXT NOT NULL DEFAULT '',
	cover_photo_webp_url   TEXT NOT NULL DEFAULT '',
	photo_album_url        TEXT NOT NULL DEFAULT '',
	created_by             TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	short_code             TEXT NOT NULL UNIQUE,
	max_attendees          INTEGER,
	is_active              BOOLEAN NOT NULL DEFAULT 1,
	hide_attendee_count    BOOLEAN NOT NULL DEFAULT 0,
	is_listed              BOOLEAN NOT NULL DEFAULT 1,
	allow_rsvp             BOOLEAN NOT NULL DEFAULT 1,
	allow_maybe_rsvp       BOOLEAN NOT NULL DEFAULT 1,
	auto_reminders_enabled BOOLEAN NOT NULL DEFAULT 1,
	reminder_24h_sent      BOOLEAN NOT NULL DEFAULT 0,
	reminder_1h_sent       BOOLEAN NOT NULL DEFAULT 0,
	text_blast_count       INTEGER NOT NULL DEFAULT 0,
	created_at             DATETIME NOT NULL,
	updated_at             DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS event_date_active_idx ON events(start_at, is_active);
CREATE INDEX IF NOT EXISTS event_creator_idx ON events(created_by);

CREATE TABLE IF NOT EXISTS event_organizers (
	event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	user_id  TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	added_at DATETIME NOT NULL,
	PRIMARY KEY (event_id, user_id)
);

CREATE TABLE IF NOT EXISTS event_questions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id    TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	text        TEXT NOT NULL,
	is_required BOOLEAN NOT NULL DEFAULT 0,
	position    INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS event_question_order_idx ON event_questions(event_id, position);

CREATE TABLE IF NOT EXISTS rsvps (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	event_id   TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	status     TEXT NOT NULL CHECK (status IN ('attending', 'maybe', 'not_attending')),
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE (user_id, event_id)
);
CREATE INDEX IF NOT EXISTS rsvp_event_status_idx ON rsvps(event_id, status);

CREATE TABLE IF NOT EXISTS rsvp_answers (
	rsvp_id     TEXT NOT NULL REFERENCES rsvps(id) ON DELETE CASCADE,
	question_id INTEGER NOT NULL REFERENCES event_questions(id) ON DELETE CASCADE,
	answer      TEXT NOT NULL DEFAULT '',
	updated_at  DATETIME NOT NULL,
	PRIMARY KEY (rsvp_id, question_id)
);

CREATE TABLE IF NOT EXISTS event_invitations (
	event_id     TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	phone_number TEXT NOT NULL,
	invited_by   TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	invited_at   DATETIME NOT NULL,
	PRIMARY KEY (event_id, phone_number)
);

CREATE TABLE IF NOT EXISTS text_blasts (
	id              TEXT PRIMARY KEY,
	event_id        TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	sent_by         TEXT NOT NULL DEFAULT '',
	message         TEXT NOT NULL,
	sent_to         TEXT NOT NULL,
	recipient_count INTEGER NOT NULL DEFAULT 0,
	display_on_page BOOLEAN NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	token      TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	expires_at DATETIME NOT NULL,
	created_at DATETIME NOT NULL
);
`

// Storage owns the database handle. Its embedded Queries run outside
// any transaction; use InTx for multi-statement updates.
type Storage struct {
	*Queries
	db *sqlx.DB
}

// Queries holds every statement. It runs against either the database
// or an open transaction.
type Queries struct {
	db sqlx.ExtContext
}

// Open opens (creating if needed) the database at path and applies
// the schema.
func Open(path string) (*Storage, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers in-process; _txlock=immediate
	// takes the write lock up front for other processes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Storage{Queries: &Queries{db: db}, db: db}, nil
}

// DB exposes the handle for packages that keep their own tables.
func (s *Storage) DB() *sqlx.DB {
	return s.db
}

// Close closes the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// InTx runs fn inside a transaction, committing when fn returns nil.
// fn must only use the Queries it is given.
func (s *Storage) InTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&Queries{db: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (q *Queries) get(ctx context.Context, dest any, what, query string, args ...any) error {
	err := sqlx.GetContext(ctx, q.db, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.Newf(apperr.KindNotFound, "We couldn't find that %s.", what)
	}
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", what, err)
	}
	return nil
}

func (q *Queries) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var found bool
	if err := sqlx.GetContext(ctx, q.db, &found, "SELECT EXISTS ("+query+")", args...); err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return found, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func rowsChanged(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func (q *Queries) getRow(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, q.db, dest, query, args...)
}

func (q *Queries) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, q.db, dest, query, args...)
}

func (q *Queries) namedExec(ctx context.Context, query string, arg any) (sql.Result, error) {
	return sqlx.NamedExecContext(ctx, q.db, query, arg)
}

func requireRow(res sql.Result, what string) error {
	changed, err := rowsChanged(res)
	if err != nil {
		return err
	}
	if !changed {
		return apperr.Newf(apperr.KindNotFound, "We couldn't find that %s.", what)
	}
	return nil
}
