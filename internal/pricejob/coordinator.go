// Package pricejob drives the asynchronous bulk price-search job: submit the
// product list, poll for progress, merge the results, and manage the job
// lifecycle and its failure modes.
package pricejob

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/example/storesheet/internal/dataset"
	"github.com/example/storesheet/internal/metrics"
	"github.com/example/storesheet/internal/model"
)

// Tracker is the slice of the dataset the coordinator needs: the product list
// to submit and the atomic merge for the results.
type Tracker interface {
	Records() []model.ProductRecord
	Generation() int64
	MergeBulkResults(results []model.PriceResult, sinceGen int64) dataset.MergeStats
}

// Auditor persists job stage transitions. Implementations must tolerate being
// called from the polling goroutine.
type Auditor interface {
	JobEvent(ctx context.Context, e AuditEvent)
}

// AuditEvent is one stage transition of one job.
type AuditEvent struct {
	JobID     string
	SessionID string
	Stage     model.JobStage
	Progress  float64
	Processed int
	Total     int
	Error     string
}

// Config bounds the polling loop.
type Config struct {
	// PollInterval is the fixed delay between status polls.
	PollInterval time.Duration
	// MaxPolls ends the loop when the backend never reaches a terminal stage.
	MaxPolls int
	// GraceDelay keeps the terminal snapshot visible before the coordinator
	// goes inactive, so a caller can show the completion state.
	GraceDelay time.Duration
}

// DefaultConfig polls every 2s for at most 10 minutes of job runtime.
func DefaultConfig() Config {
	return Config{
		PollInterval: 2 * time.Second,
		MaxPolls:     300,
		GraceDelay:   3 * time.Second,
	}
}

// Coordinator owns at most one in-flight job for its session. It is a
// session-scoped value, never shared across sessions.
type Coordinator struct {
	client    *Client
	tracker   Tracker
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	audit     Auditor
	sessionID string

	mu           sync.Mutex
	active       bool
	state        model.JobSnapshot
	submittedGen int64
	cancelPoll   context.CancelFunc
	jobSeq       int
}

// NewCoordinator wires a coordinator for one session. audit may be nil.
func NewCoordinator(client *Client, tracker Tracker, cfg Config, sessionID string, logger *slog.Logger, m *metrics.Metrics, audit Auditor) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		client:    client,
		tracker:   tracker,
		cfg:       cfg,
		logger:    logger.With(slog.String("session", sessionID)),
		metrics:   m,
		audit:     audit,
		sessionID: sessionID,
	}
}

// Submit sends the full current product list to the job-start endpoint and
// begins polling. A second submission while a job is active is rejected
// without touching the first job's state; a transport failure surfaces
// immediately and leaves no job state behind.
func (c *Coordinator) Submit(ctx context.Context) (model.JobSnapshot, error) {
	records := c.tracker.Records()
	if len(records) == 0 {
		return model.JobSnapshot{}, model.ErrNoRecords
	}
	items := make([]Item, len(records))
	for i, r := range records {
		items[i] = Item{ProductName: r.ProductName, CurrentPrice: r.Price, Row: r.SourceRow + 1}
	}

	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return model.JobSnapshot{}, model.ErrJobActive
	}
	c.active = true
	c.jobSeq++
	seq := c.jobSeq
	c.submittedGen = c.tracker.Generation()
	c.state = model.JobSnapshot{Stage: model.StageSubmitted, TotalCount: len(items)}
	c.mu.Unlock()

	jobID, err := c.client.StartJob(ctx, items)
	if err != nil {
		c.mu.Lock()
		c.active = false
		c.state = model.JobSnapshot{}
		c.mu.Unlock()
		return model.JobSnapshot{}, err
	}

	// The poller outlives the submitting request.
	pollCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if !c.active || c.jobSeq != seq {
		// Cancelled while the start request was in flight.
		c.mu.Unlock()
		cancel()
		if err := c.client.StopJob(ctx, jobID); err != nil {
			c.logger.Warn("remote job stop failed", slog.String("job_id", jobID), slog.Any("error", err))
		}
		return model.JobSnapshot{}, model.ErrNoActiveJob
	}
	c.state.JobID = jobID
	c.state.Stage = model.StageInitializing
	c.cancelPoll = cancel
	snap := c.state
	c.mu.Unlock()

	c.auditEvent(snap)
	c.logger.Info("price-search job submitted",
		slog.String("job_id", jobID),
		slog.Int("items", len(items)),
	)

	go c.pollLoop(pollCtx, jobID, seq)
	return snap, nil
}

// Snapshot returns the current job state; ok is false when no job is active.
func (c *Coordinator) Snapshot() (model.JobSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return model.JobSnapshot{}, false
	}
	return c.state, true
}

// Active reports whether a job currently holds the session's job slot.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Cancel stops client-side polling and asks the backend to stop the job.
// The remote stop is best effort; a refusal means server-side work continues
// without us, which is still an improvement over polling forever.
func (c *Coordinator) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return model.ErrNoActiveJob
	}
	jobID := c.state.JobID
	if c.cancelPoll != nil {
		c.cancelPoll()
	}
	c.active = false
	c.state = model.JobSnapshot{}
	c.mu.Unlock()

	c.metrics.IncJob("cancelled")
	c.logger.Info("price-search job cancelled", slog.String("job_id", jobID))
	if jobID == "" {
		return nil
	}
	if err := c.client.StopJob(ctx, jobID); err != nil {
		c.logger.Warn("remote job stop failed", slog.String("job_id", jobID), slog.Any("error", err))
	}
	return nil
}

func (c *Coordinator) pollLoop(ctx context.Context, jobID string, seq int) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	polls := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		polls++
		st, err := c.client.JobStatus(ctx, jobID)
		if err != nil {
			// A single failed poll must not abandon a job that may still be
			// running server-side.
			c.metrics.IncPoll("transport_error")
			c.logger.Warn("status poll failed, continuing",
				slog.String("job_id", jobID),
				slog.Int("poll", polls),
				slog.Any("error", err),
			)
			if polls >= c.cfg.MaxPolls {
				c.finishError(jobID, seq, "status polling limit reached")
				return
			}
			continue
		}
		c.metrics.IncPoll("ok")

		stage := mapStage(st.Stage)
		c.mu.Lock()
		if !c.active || c.jobSeq != seq {
			c.mu.Unlock()
			return
		}
		c.state.Stage = stage
		c.state.ProgressPercent = st.Progress
		c.state.ProcessedCount = st.ProcessedItems
		if st.TotalItems > 0 {
			c.state.TotalCount = st.TotalItems
		}
		c.state.EstimatedSeconds = st.EstimatedSeconds
		c.state.CurrentItemLabel = st.CurrentItem
		c.mu.Unlock()

		switch stage {
		case model.StageCompleted:
			c.finishCompleted(jobID, seq, st)
			return
		case model.StageError:
			msg := st.Error
			if msg == "" {
				msg = "job failed without a message"
			}
			c.finishError(jobID, seq, msg)
			return
		}

		if polls >= c.cfg.MaxPolls {
			c.finishError(jobID, seq, "status polling limit reached")
			return
		}
	}
}

func (c *Coordinator) finishCompleted(jobID string, seq int, st Status) {
	// The whole batch merges under the dataset lock: callers never observe a
	// half-updated collection.
	stats := c.tracker.MergeBulkResults(st.Results, c.submittedGen)

	c.mu.Lock()
	if !c.active || c.jobSeq != seq {
		c.mu.Unlock()
		return
	}
	c.state.Stage = model.StageCompleted
	c.state.ProgressPercent = 100
	c.state.MergedCount = stats.Merged
	c.state.SkippedNoOp = stats.NoOp
	c.state.ConflictCount = stats.Conflicts
	c.state.UnmatchedCount = stats.Unmatched
	snap := c.state
	c.mu.Unlock()

	c.metrics.IncJob("completed")
	c.auditEvent(snap)
	c.logger.Info("price-search job completed",
		slog.String("job_id", jobID),
		slog.Int("merged", stats.Merged),
		slog.Int("noop", stats.NoOp),
		slog.Int("conflicts", stats.Conflicts),
		slog.Int("unmatched", stats.Unmatched),
	)
	if stats.Unmatched > 0 {
		c.logger.Warn("bulk results without a matching record",
			slog.String("job_id", jobID),
			slog.Int("unmatched", stats.Unmatched),
		)
	}
	c.retireAfterGrace(seq)
}

func (c *Coordinator) finishError(jobID string, seq int, msg string) {
	c.mu.Lock()
	if !c.active || c.jobSeq != seq {
		c.mu.Unlock()
		return
	}
	c.state.Stage = model.StageError
	c.state.ErrorMessage = msg
	snap := c.state
	c.mu.Unlock()

	c.metrics.IncJob("error")
	c.auditEvent(snap)
	c.logger.Error("price-search job failed",
		slog.Any("error", &model.JobTerminalError{JobID: jobID, Message: msg}),
	)
	c.retireAfterGrace(seq)
}

// retireAfterGrace releases the job slot once the terminal snapshot has had
// its moment on screen.
func (c *Coordinator) retireAfterGrace(seq int) {
	time.AfterFunc(c.cfg.GraceDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.jobSeq != seq {
			return
		}
		c.active = false
		c.state = model.JobSnapshot{}
	})
}

func (c *Coordinator) auditEvent(snap model.JobSnapshot) {
	if c.audit == nil {
		return
	}
	c.audit.JobEvent(context.Background(), AuditEvent{
		JobID:     snap.JobID,
		SessionID: c.sessionID,
		Stage:     snap.Stage,
		Progress:  snap.ProgressPercent,
		Processed: snap.ProcessedCount,
		Total:     snap.TotalCount,
		Error:     snap.ErrorMessage,
	})
}

func mapStage(raw string) model.JobStage {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "initializing", "init", "submitted", "queued":
		return model.StageInitializing
	case "completed", "complete", "done":
		return model.StageCompleted
	case "error", "failed":
		return model.StageError
	default:
		return model.StageProcessing
	}
}
