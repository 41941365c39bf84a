// Package store persists mirrored calendar events and the messages feed in
// an embedded SQLite database.
//
// The database is opened in WAL mode with a busy timeout so that concurrent
// HTTP handlers can share one *DB. All writes to calendar_events are single
// statements; inserts use ON CONFLICT(id) so two passes racing on the same new
// event converge on one row instead of failing.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"calpal/internal/models"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite connection pool.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies the schema.
// The caller must call Close when done.
func Open(ctx context.Context, path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the pool.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	_, _ = db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// InitSchema creates the tables if they do not exist. It is idempotent.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS calendar_events (
		id TEXT PRIMARY KEY,
		kind TEXT,
		etag TEXT,
		status TEXT,
		htmlLink TEXT,
		created TEXT,
		updated TEXT,
		summary TEXT,
		description TEXT,
		creator_email TEXT,
		creator_self INTEGER NOT NULL DEFAULT 0,
		organizer_email TEXT,
		organizer_self INTEGER NOT NULL DEFAULT 0,
		start_dateTime TEXT,
		start_timeZone TEXT,
		end_dateTime TEXT,
		end_timeZone TEXT,
		iCalUID TEXT,
		sequence INTEGER NOT NULL DEFAULT 0,
		useDefault INTEGER NOT NULL DEFAULT 0,
		eventType TEXT,
		attendees TEXT,  -- JSON array
		hangoutLink TEXT,
		conferenceData TEXT,  -- JSON object
		conferenceId TEXT,
		colour TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_calendar_events_start ON calendar_events(start_dateTime);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		fromUser TEXT NOT NULL,
		content TEXT NOT NULL
	);
	`
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// FindByID looks up the minimal projection of a row.
// It returns models.ErrEventNotFound if no row has that id.
func (db *DB) FindByID(ctx context.Context, id string) (*models.EventRef, error) {
	var ref models.EventRef
	var creator sql.NullString
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, creator_email FROM calendar_events WHERE id = ?`, id,
	).Scan(&ref.ID, &creator)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up event %s: %w", id, err)
	}
	ref.CreatorEmail = creator.String
	return &ref, nil
}

// Insert adds a row. If a row with the same id appeared in the meantime the
// statement updates it instead, keeping the colour it was created with.
func (db *DB) Insert(ctx context.Context, ev *models.MirroredEvent) error {
	if ev.Colour == "" {
		return fmt.Errorf("%w: event %s has no colour", models.ErrInvalidInput, ev.ID)
	}
	query := `
	INSERT INTO calendar_events (
		id, kind, etag, status, htmlLink, created, updated, summary, description,
		creator_email, creator_self, organizer_email, organizer_self,
		start_dateTime, start_timeZone, end_dateTime, end_timeZone,
		iCalUID, sequence, useDefault, eventType, attendees, hangoutLink,
		conferenceData, conferenceId, colour
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		kind = excluded.kind,
		etag = excluded.etag,
		status = excluded.status,
		htmlLink = excluded.htmlLink,
		created = excluded.created,
		updated = excluded.updated,
		summary = excluded.summary,
		description = excluded.description,
		creator_email = excluded.creator_email,
		creator_self = excluded.creator_self,
		organizer_email = excluded.organizer_email,
		organizer_self = excluded.organizer_self,
		start_dateTime = excluded.start_dateTime,
		start_timeZone = excluded.start_timeZone,
		end_dateTime = excluded.end_dateTime,
		end_timeZone = excluded.end_timeZone,
		iCalUID = excluded.iCalUID,
		sequence = excluded.sequence,
		useDefault = excluded.useDefault,
		eventType = excluded.eventType,
		attendees = excluded.attendees,
		hangoutLink = excluded.hangoutLink,
		conferenceData = excluded.conferenceData,
		conferenceId = excluded.conferenceId
	`
	args := append(mutableArgs(ev), ev.Colour)
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert event %s: %w", ev.ID, err)
	}
	return nil
}

// Update rewrites every mutable column of an existing row. The colour column
// is never touched. It returns models.ErrEventNotFound if no row matched.
func (db *DB) Update(ctx context.Context, ev *models.MirroredEvent) error {
	query := `
	UPDATE calendar_events SET
		kind = ?, etag = ?, status = ?, htmlLink = ?, created = ?, updated = ?,
		summary = ?, description = ?, creator_email = ?, creator_self = ?,
		organizer_email = ?, organizer_self = ?, start_dateTime = ?,
		start_timeZone = ?, end_dateTime = ?, end_timeZone = ?, iCalUID = ?,
		sequence = ?, useDefault = ?, eventType = ?, attendees = ?,
		hangoutLink = ?, conferenceData = ?, conferenceId = ?
	WHERE id = ?
	`
	args := mutableArgs(ev)
	args = append(args[1:], args[0])
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update event %s: %w", ev.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update event %s: %w", ev.ID, err)
	}
	if n == 0 {
		return models.ErrEventNotFound
	}
	return nil
}

// Delete removes a row. Deleting an unknown id is not an error.
func (db *DB) Delete(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM calendar_events WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete event %s: %w", id, err)
	}
	return nil
}

// Get returns a full row by id, or models.ErrEventNotFound.
func (db *DB) Get(ctx context.Context, id string) (*models.MirroredEvent, error) {
	rows, err := db.conn.QueryContext(ctx, selectEvents+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query event %s: %w", id, err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, models.ErrEventNotFound
	}
	return &events[0], nil
}

// ListAll returns every mirrored row ordered by start time.
func (db *DB) ListAll(ctx context.Context) ([]models.MirroredEvent, error) {
	rows, err := db.conn.QueryContext(ctx, selectEvents+` ORDER BY start_dateTime ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Count returns the number of mirrored rows.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM calendar_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

const selectEvents = `
	SELECT id, kind, etag, status, htmlLink, created, updated, summary, description,
	       creator_email, creator_self, organizer_email, organizer_self,
	       start_dateTime, start_timeZone, end_dateTime, end_timeZone,
	       iCalUID, sequence, useDefault, eventType, attendees, hangoutLink,
	       conferenceData, conferenceId, colour
	FROM calendar_events`

func scanEvents(rows *sql.Rows) ([]models.MirroredEvent, error) {
	events := []models.MirroredEvent{}
	for rows.Next() {
		var (
			ev   models.MirroredEvent
			text [20]sql.NullString
		)
		err := rows.Scan(
			&ev.ID, &text[0], &text[1], &text[2], &text[3], &text[4], &text[5],
			&text[6], &text[7], &text[8], &ev.CreatorSelf, &text[9], &ev.OrganizerSelf,
			&text[10], &text[11], &text[12], &text[13],
			&text[14], &ev.Sequence, &ev.UseDefault, &text[15], &text[16], &text[17],
			&text[18], &text[19], &ev.Colour,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Kind = text[0].String
		ev.Etag = text[1].String
		ev.Status = text[2].String
		ev.HTMLLink = text[3].String
		ev.Created = text[4].String
		ev.Updated = text[5].String
		ev.Summary = text[6].String
		ev.Description = text[7].String
		ev.CreatorEmail = text[8].String
		ev.OrganizerEmail = text[9].String
		ev.StartDateTime = text[10].String
		ev.StartTimeZone = text[11].String
		ev.EndDateTime = text[12].String
		ev.EndTimeZone = text[13].String
		ev.ICalUID = text[14].String
		ev.EventType = text[15].String
		ev.Attendees = rawJSON(text[16])
		ev.HangoutLink = text[17].String
		ev.ConferenceData = rawJSON(text[18])
		ev.ConferenceID = text[19].String
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// mutableArgs returns the positional arguments shared by Insert and Update,
// id first, colour excluded.
func mutableArgs(ev *models.MirroredEvent) []any {
	return []any{
		ev.ID, ev.Kind, ev.Etag, ev.Status, ev.HTMLLink, ev.Created, ev.Updated,
		ev.Summary, ev.Description, ev.CreatorEmail, ev.CreatorSelf,
		ev.OrganizerEmail, ev.OrganizerSelf, ev.StartDateTime, ev.StartTimeZone,
		ev.EndDateTime, ev.EndTimeZone, ev.ICalUID, ev.Sequence, ev.UseDefault,
		ev.EventType, nullJSON(ev.Attendees), ev.HangoutLink,
		nullJSON(ev.ConferenceData), ev.ConferenceID,
	}
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 || string(raw) == "null" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func rawJSON(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
