// Package sqlite provides a SQLite-backed sink.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/semlog/pkg/sink"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	episode_id TEXT NOT NULL,
	kind       TEXT NOT NULL,
	body       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS documents_episode_id ON documents (episode_id);
CREATE TABLE IF NOT EXISTS frames (
	episode_id   TEXT NOT NULL,
	timestamp_ns INTEGER NOT NULL,
	body         TEXT NOT NULL,
	PRIMARY KEY (episode_id, timestamp_ns)
);`

// Sink implements sink.Sink using SQLite.
type Sink struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at dbPath and migrates it.
// The dbPath can be a file path or ":memory:" for an in-memory database.
func New(dbPath string) (*Sink, error) {
	// Open the database using the github.com/mattn/go-sqlite3 driver (registered as "sqlite3")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every pooled connection to ":memory:" is its own database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Sink{db: db}, nil
}

// Name implements sink.Sink.
func (s *Sink) Name() string {
	return "sqlite"
}

// Write implements sink.Sink.
func (s *Sink) Write(ctx context.Context, doc *sink.Document) error {
	if doc == nil {
		return sink.ErrNilDocument
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, episode_id, kind, body, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			episode_id = excluded.episode_id,
			kind = excluded.kind,
			body = excluded.body,
			created_at = excluded.created_at`,
		doc.ID, doc.EpisodeID, doc.Kind, string(doc.Body), doc.CreatedAt.UTC(),
	)
	return classify("write", err)
}

// WriteBatch implements sink.Sink. Frames are written in one transaction.
func (s *Sink) WriteBatch(ctx context.Context, frames []sink.RawFrame) error {
	if len(frames) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO frames (episode_id, timestamp_ns, body)
		VALUES (?, ?, ?)
		ON CONFLICT (episode_id, timestamp_ns) DO UPDATE SET body = excluded.body`)
	if err != nil {
		return classify("prepare", err)
	}
	defer stmt.Close()

	for _, f := range frames {
		if _, err := stmt.ExecContext(ctx, f.EpisodeID, f.Timestamp.Nanoseconds(), string(f.Body)); err != nil {
			return classify("write batch", err)
		}
	}

	return classify("commit", tx.Commit())
}

// Documents returns the documents stored for an episode ordered by kind.
func (s *Sink) Documents(ctx context.Context, episodeID string) ([]*sink.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, episode_id, kind, body, created_at
		FROM documents WHERE episode_id = ? ORDER BY kind`, episodeID)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []*sink.Document
	for rows.Next() {
		var (
			doc  sink.Document
			body string
		)
		if err := rows.Scan(&doc.ID, &doc.EpisodeID, &doc.Kind, &body, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		doc.Body = []byte(body)
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// Frames returns the frames stored for an episode in timestamp order.
func (s *Sink) Frames(ctx context.Context, episodeID string) ([]sink.RawFrame, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT episode_id, timestamp_ns, body
		FROM frames WHERE episode_id = ? ORDER BY timestamp_ns`, episodeID)
	if err != nil {
		return nil, fmt.Errorf("querying frames: %w", err)
	}
	defer rows.Close()

	var frames []sink.RawFrame
	for rows.Next() {
		var (
			f    sink.RawFrame
			ns   int64
			body string
		)
		if err := rows.Scan(&f.EpisodeID, &ns, &body); err != nil {
			return nil, fmt.Errorf("scanning frame: %w", err)
		}
		f.Timestamp = time.Duration(ns)
		f.Body = []byte(body)
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

// Close implements sink.Sink.
func (s *Sink) Close() error {
	return s.db.Close()
}

// classify marks lock contention as transient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return sink.Transient("sqlite", op, err)
	}
	return fmt.Errorf("sqlite %s: %w", op, err)
}
