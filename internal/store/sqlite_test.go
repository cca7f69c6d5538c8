package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/storesheet/internal/model"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	row := SessionRow{
		ID:          "sess-1",
		CreatedAt:   time.UnixMilli(1700000000000),
		Filename:    "inventory.xlsx",
		BlobKey:     "sessions/sess-1/original.xlsx",
		RecordCount: 42,
	}
	if err := s.CreateSession(ctx, row); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Filename != row.Filename || got.RecordCount != 42 {
		t.Fatalf("got = %+v", got)
	}
	if !got.CreatedAt.Equal(row.CreatedAt) {
		t.Fatalf("created at = %v, want %v", got.CreatedAt, row.CreatedAt)
	}

	if err := s.DeleteSession(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := s.GetSession(ctx, "sess-1"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetSessionUnknown(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetSession(context.Background(), "nope"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestJobEventLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.UnixMilli(1700000000000)
	events := []JobEvent{
		{JobID: "job-1", SessionID: "sess-1", At: base, Stage: model.StageInitializing, Total: 10},
		{JobID: "job-1", SessionID: "sess-1", At: base.Add(2 * time.Second), Stage: model.StageProcessing, Progress: 50, Processed: 5, Total: 10},
		{JobID: "job-1", SessionID: "sess-1", At: base.Add(4 * time.Second), Stage: model.StageError, Error: "upstream blocked"},
		{JobID: "job-2", SessionID: "sess-2", At: base, Stage: model.StageInitializing},
	}
	for _, ev := range events {
		if err := s.RecordJobEvent(ctx, ev); err != nil {
			t.Fatalf("RecordJobEvent: %v", err)
		}
	}

	got, err := s.ListJobEvents(ctx, "job-1")
	if err != nil {
		t.Fatalf("ListJobEvents: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if got[0].Stage != model.StageInitializing || got[2].Stage != model.StageError {
		t.Fatalf("order wrong: %+v", got)
	}
	if got[1].Progress != 50 || got[1].Processed != 5 {
		t.Fatalf("processing event = %+v", got[1])
	}
	if got[2].Error != "upstream blocked" {
		t.Fatalf("error message = %q", got[2].Error)
	}
	if got[0].Error != "" {
		t.Fatalf("empty error must scan back empty, got %q", got[0].Error)
	}
}
