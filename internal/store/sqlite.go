// Package store persists the session catalog and a job-event audit trail in
// sqlite. Grid and record state stay in memory; the database only has to
// survive what cannot be recomputed from the uploaded file.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/example/storesheet/internal/model"
)

type SQLite struct {
	db *sql.DB
}

// SessionRow is the persisted view of an upload session.
type SessionRow struct {
	ID          string
	CreatedAt   time.Time
	Filename    string
	BlobKey     string
	RecordCount int
}

// JobEvent is one audited stage transition of a price-search job.
type JobEvent struct {
	JobID     string
	SessionID string
	At        time.Time
	Stage     model.JobStage
	Progress  float64
	Processed int
	Total     int
	Error     string
}

func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  created_at INTEGER NOT NULL,
  filename TEXT NOT NULL,
  blob_key TEXT NOT NULL,
  record_count INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS job_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  job_id TEXT NOT NULL,
  session_id TEXT NOT NULL,
  at INTEGER NOT NULL,
  stage TEXT NOT NULL,
  progress REAL NOT NULL DEFAULT 0,
  processed INTEGER NOT NULL DEFAULT 0,
  total INTEGER NOT NULL DEFAULT 0,
  error_message TEXT
);
CREATE INDEX IF NOT EXISTS job_events_job ON job_events (job_id, at);
`); err != nil {
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) CreateSession(ctx context.Context, row SessionRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, filename, blob_key, record_count)
         VALUES (?, ?, ?, ?, ?)`,
		row.ID,
		row.CreatedAt.UnixMilli(),
		row.Filename,
		row.BlobKey,
		row.RecordCount,
	)
	return err
}

func (s *SQLite) GetSession(ctx context.Context, id string) (SessionRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, filename, blob_key, record_count
       FROM sessions WHERE id = ?`, id,
	)
	var (
		sid, filename, blobKey string
		createdMs              int64
		recordCount            int
	)
	if err := row.Scan(&sid, &createdMs, &filename, &blobKey, &recordCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionRow{}, model.ErrNotFound
		}
		return SessionRow{}, err
	}
	return SessionRow{
		ID:          sid,
		CreatedAt:   time.UnixMilli(createdMs),
		Filename:    filename,
		BlobKey:     blobKey,
		RecordCount: recordCount,
	}, nil
}

func (s *SQLite) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func (s *SQLite) RecordJobEvent(ctx context.Context, ev JobEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_events (job_id, session_id, at, stage, progress, processed, total, error_message)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.JobID,
		ev.SessionID,
		ev.At.UnixMilli(),
		string(ev.Stage),
		ev.Progress,
		ev.Processed,
		ev.Total,
		nullableString(ev.Error),
	)
	return err
}

func (s *SQLite) ListJobEvents(ctx context.Context, jobID string) ([]JobEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, session_id, at, stage, progress, processed, total, error_message
       FROM job_events WHERE job_id = ? ORDER BY at ASC, id ASC`, jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobEvent
	for rows.Next() {
		var (
			jid, sid, stageStr string
			atMs               int64
			progress           float64
			processed, total   int
			errorMsg           sql.NullString
		)
		if err := rows.Scan(&jid, &sid, &atMs, &stageStr, &progress, &processed, &total, &errorMsg); err != nil {
			return nil, err
		}
		ev := JobEvent{
			JobID:     jid,
			SessionID: sid,
			At:        time.UnixMilli(atMs),
			Stage:     model.JobStage(stageStr),
			Progress:  progress,
			Processed: processed,
			Total:     total,
		}
		if errorMsg.Valid {
			ev.Error = errorMsg.String
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
