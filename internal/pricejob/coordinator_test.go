package pricejob

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/example/storesheet/internal/dataset"
	"github.com/example/storesheet/internal/model"
)

func testJobConfig() Config {
	return Config{
		PollInterval: 2 * time.Millisecond,
		MaxPolls:     100,
		GraceDelay:   10 * time.Millisecond,
	}
}

func newTestCoordinator(t *testing.T, records []model.ProductRecord, cfg Config) (*Coordinator, *dataset.Dataset) {
	t.Helper()
	client := NewClient("http://prices.test", 5*time.Second, nil)
	httpmock.ActivateNonDefault(client.HTTPClient)
	t.Cleanup(httpmock.DeactivateAndReset)

	ds := dataset.New(records)
	coord := NewCoordinator(client, ds, cfg, "sess-1", nil, nil, nil)
	return coord, ds
}

func registerStart(jobID string) {
	httpmock.RegisterResponder(http.MethodPost, "http://prices.test/search-prices/start/",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]string{"job_id": jobID}))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func jobRecords() []model.ProductRecord {
	return []model.ProductRecord{
		{ProductName: "alpha", Price: 100, SourceRow: 5},
		{ProductName: "beta", Price: 200, SourceRow: 6},
	}
}

func TestSubmitAndComplete(t *testing.T) {
	coord, ds := newTestCoordinator(t, jobRecords(), testJobConfig())
	registerStart("job-1")

	var polls atomic.Int64
	httpmock.RegisterResponder(http.MethodGet, "http://prices.test/search-prices/status/job-1/",
		func(*http.Request) (*http.Response, error) {
			if polls.Add(1) < 3 {
				return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
					"stage": "processing", "progress": 50.0, "processed_items": 1, "total_items": 2,
				})
			}
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"stage": "completed", "progress": 100.0, "processed_items": 2, "total_items": 2,
				"results": []model.PriceResult{
					{ProductName: "alpha", Row: 6, CurrentPrice: 100, NewPrice: 90},
					{ProductName: "beta", Row: 7, CurrentPrice: 200, NewPrice: 200},
				},
			})
		})

	snap, err := coord.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if snap.JobID != "job-1" || snap.Stage != model.StageInitializing {
		t.Fatalf("submit snapshot = %+v", snap)
	}

	waitFor(t, time.Second, func() bool {
		s, ok := coord.Snapshot()
		return ok && s.Stage == model.StageCompleted
	})

	s, _ := coord.Snapshot()
	if s.MergedCount != 1 || s.SkippedNoOp != 1 {
		t.Fatalf("terminal snapshot = %+v", s)
	}

	records := ds.Records()
	if records[0].Price != 90 || records[0].PriceChangeLabel != "-10" {
		t.Fatalf("alpha not merged: %+v", records[0])
	}
	if records[1].Modified {
		t.Fatalf("no-op result must leave beta untouched: %+v", records[1])
	}

	// After the grace delay the job slot is free again.
	waitFor(t, time.Second, func() bool { return !coord.Active() })
}

func TestSecondSubmitRejected(t *testing.T) {
	coord, _ := newTestCoordinator(t, jobRecords(), testJobConfig())
	registerStart("job-1")
	httpmock.RegisterResponder(http.MethodGet, "http://prices.test/search-prices/status/job-1/",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{"stage": "processing"}))
	httpmock.RegisterResponder(http.MethodDelete, "http://prices.test/search-prices/status/job-1/",
		httpmock.NewStringResponder(http.StatusOK, ""))

	if _, err := coord.Submit(context.Background()); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if _, err := coord.Submit(context.Background()); !errors.Is(err, model.ErrJobActive) {
		t.Fatalf("second Submit err = %v, want ErrJobActive", err)
	}
	if err := coord.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
}

func TestTransportErrorsTolerated(t *testing.T) {
	coord, ds := newTestCoordinator(t, jobRecords(), testJobConfig())
	registerStart("job-1")

	var polls atomic.Int64
	httpmock.RegisterResponder(http.MethodGet, "http://prices.test/search-prices/status/job-1/",
		func(*http.Request) (*http.Response, error) {
			if polls.Add(1) <= 2 {
				return nil, errors.New("connection reset")
			}
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"stage": "completed", "progress": 100.0,
				"results": []model.PriceResult{
					{ProductName: "alpha", Row: 6, CurrentPrice: 100, NewPrice: 80},
				},
			})
		})

	if _, err := coord.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		return ds.Records()[0].Price == 80
	})
}

func TestSubmitTransportFailureLeavesNoJob(t *testing.T) {
	coord, _ := newTestCoordinator(t, jobRecords(), testJobConfig())
	httpmock.RegisterResponder(http.MethodPost, "http://prices.test/search-prices/start/",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	_, err := coord.Submit(context.Background())
	var submitErr *model.JobSubmitError
	if !errors.As(err, &submitErr) {
		t.Fatalf("err = %v, want JobSubmitError", err)
	}
	if coord.Active() {
		t.Fatal("failed submission must not leave an active job")
	}
}

func TestSubmitEmptyDataset(t *testing.T) {
	coord, _ := newTestCoordinator(t, nil, testJobConfig())
	if _, err := coord.Submit(context.Background()); !errors.Is(err, model.ErrNoRecords) {
		t.Fatalf("err = %v, want ErrNoRecords", err)
	}
}

func TestJobErrorStage(t *testing.T) {
	coord, ds := newTestCoordinator(t, jobRecords(), testJobConfig())
	registerStart("job-1")
	httpmock.RegisterResponder(http.MethodGet, "http://prices.test/search-prices/status/job-1/",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{
			"stage": "error", "error": "upstream scrape blocked",
		}))

	if _, err := coord.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		s, ok := coord.Snapshot()
		return ok && s.Stage == model.StageError
	})
	s, _ := coord.Snapshot()
	if s.ErrorMessage != "upstream scrape blocked" {
		t.Fatalf("error message = %q, want the backend's own words", s.ErrorMessage)
	}
	for _, r := range ds.Records() {
		if r.Modified {
			t.Fatalf("failed job must not modify records: %+v", r)
		}
	}
	waitFor(t, time.Second, func() bool { return !coord.Active() })
}

func TestPollBudgetExhausted(t *testing.T) {
	cfg := testJobConfig()
	cfg.MaxPolls = 3
	coord, _ := newTestCoordinator(t, jobRecords(), cfg)
	registerStart("job-1")
	httpmock.RegisterResponder(http.MethodGet, "http://prices.test/search-prices/status/job-1/",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{"stage": "processing"}))

	if _, err := coord.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		s, ok := coord.Snapshot()
		return ok && s.Stage == model.StageError
	})
	waitFor(t, time.Second, func() bool { return !coord.Active() })
}

func TestCancelStopsPollingAndNotifiesBackend(t *testing.T) {
	coord, _ := newTestCoordinator(t, jobRecords(), testJobConfig())
	registerStart("job-1")
	httpmock.RegisterResponder(http.MethodGet, "http://prices.test/search-prices/status/job-1/",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{"stage": "processing"}))
	httpmock.RegisterResponder(http.MethodDelete, "http://prices.test/search-prices/status/job-1/",
		httpmock.NewStringResponder(http.StatusOK, ""))

	if _, err := coord.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := coord.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if coord.Active() {
		t.Fatal("cancelled job must free the slot immediately")
	}

	info := httpmock.GetCallCountInfo()
	if info["DELETE http://prices.test/search-prices/status/job-1/"] != 1 {
		t.Fatalf("remote stop not called: %+v", info)
	}

	// Cancelling again with no job is its own defined failure.
	if err := coord.Cancel(context.Background()); !errors.Is(err, model.ErrNoActiveJob) {
		t.Fatalf("second Cancel err = %v, want ErrNoActiveJob", err)
	}
}

func TestMergeSkipsRecordEditedDuringJob(t *testing.T) {
	coord, ds := newTestCoordinator(t, jobRecords(), testJobConfig())
	registerStart("job-1")

	edited := make(chan struct{})
	var polls atomic.Int64
	httpmock.RegisterResponder(http.MethodGet, "http://prices.test/search-prices/status/job-1/",
		func(*http.Request) (*http.Response, error) {
			if polls.Add(1) == 1 {
				<-edited
			}
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"stage": "completed", "progress": 100.0,
				"results": []model.PriceResult{
					{ProductName: "alpha", Row: 6, CurrentPrice: 100, NewPrice: 90},
					{ProductName: "beta", Row: 7, CurrentPrice: 200, NewPrice: 150},
				},
			})
		})

	if _, err := coord.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Edit beta while the job is polling.
	if _, err := ds.ApplyManualEdit(1, 999, 5); err != nil {
		t.Fatalf("ApplyManualEdit: %v", err)
	}
	close(edited)

	waitFor(t, time.Second, func() bool {
		s, ok := coord.Snapshot()
		return ok && s.Stage == model.StageCompleted
	})

	s, _ := coord.Snapshot()
	if s.MergedCount != 1 || s.ConflictCount != 1 {
		t.Fatalf("snapshot = %+v", s)
	}
	records := ds.Records()
	if records[0].Price != 90 {
		t.Fatalf("alpha should merge: %+v", records[0])
	}
	if records[1].Price != 999 || !records[1].Conflict {
		t.Fatalf("beta manual edit must win and be flagged: %+v", records[1])
	}
}
