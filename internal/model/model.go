package model

import (
	"errors"
	"fmt"
	"strconv"
)

// ProductRecord is one extracted inventory row. SourceRow is the 0-based grid
// row the record came from and is the sole key used when writing patches back;
// it never changes after extraction.
type ProductRecord struct {
	ProductName string  `json:"productName"`
	Price       float64 `json:"price"`
	Stock       float64 `json:"stock"`
	ImageRef    string  `json:"imageRef,omitempty"`
	SourceRow   int     `json:"sourceRow"`

	Modified bool `json:"modified"`
	// Conflict marks a record whose bulk-search result was discarded because
	// the user edited it while the job was in flight.
	Conflict bool `json:"conflict,omitempty"`

	// OriginalPrice is the price at the time of the last bulk lookup, nil until
	// a bulk result has been applied. PriceChangeLabel is the signed delta.
	OriginalPrice    *float64 `json:"originalPrice,omitempty"`
	PriceChangeLabel string   `json:"priceChangeLabel,omitempty"`

	FilterInfo          string `json:"filterInfo,omitempty"`
	SearchKeyword       string `json:"searchKeyword,omitempty"`
	ValidCandidateCount int    `json:"validCandidateCount,omitempty"`
}

// FormatPriceDelta renders a signed human-readable delta ("+1000", "-10").
func FormatPriceDelta(diff float64) string {
	s := strconv.FormatFloat(diff, 'f', -1, 64)
	if diff > 0 {
		return "+" + s
	}
	return s
}

// PriceResult is one product's outcome from a bulk price-search job. Row,
// when set, is the 1-based source row echoed back from the submission and is
// the preferred match key; ProductName is the fallback.
type PriceResult struct {
	ProductName         string  `json:"productName"`
	Row                 int     `json:"row,omitempty"`
	CurrentPrice        float64 `json:"currentPrice"`
	NewPrice            float64 `json:"newPrice"`
	PriceDiff           float64 `json:"priceDiff"`
	FilterInfo          string  `json:"filterInfo,omitempty"`
	SearchKeyword       string  `json:"searchKeyword,omitempty"`
	ValidCandidateCount int     `json:"validItemsCount,omitempty"`
}

// JobStage is the client-visible lifecycle stage of a bulk price-search job.
type JobStage string

const (
	StageSubmitted    JobStage = "submitted"
	StageInitializing JobStage = "initializing"
	StageProcessing   JobStage = "processing"
	StageCompleted    JobStage = "completed"
	StageError        JobStage = "error"
)

// Terminal reports whether the stage ends the polling loop.
func (s JobStage) Terminal() bool {
	return s == StageCompleted || s == StageError
}

// JobSnapshot is a point-in-time copy of the coordinator state, safe to hand
// to callers for progress display.
type JobSnapshot struct {
	JobID            string   `json:"jobId,omitempty"`
	Stage            JobStage `json:"stage"`
	ProgressPercent  float64  `json:"progressPercent"`
	ProcessedCount   int      `json:"processedCount"`
	TotalCount       int      `json:"totalCount"`
	EstimatedSeconds float64  `json:"estimatedSecondsRemaining"`
	CurrentItemLabel string   `json:"currentItemLabel,omitempty"`
	MergedCount      int      `json:"mergedCount,omitempty"`
	SkippedNoOp      int      `json:"skippedNoOp,omitempty"`
	ConflictCount    int      `json:"conflictCount,omitempty"`
	UnmatchedCount   int      `json:"unmatchedCount,omitempty"`
	ErrorMessage     string   `json:"errorMessage,omitempty"`
}

var (
	// ErrNotFound covers unknown sessions and unknown job ids.
	ErrNotFound = errors.New("not found")

	// ErrNoRecords is the defined "no data found" state after an extraction
	// that scanned a valid grid and hit nothing. It is not a parse failure.
	ErrNoRecords = errors.New("no product rows found in the expected region")

	// ErrNothingToPatch signals a change-set build over zero modified records.
	ErrNothingToPatch = errors.New("no modified records to patch")

	// ErrJobActive enforces the single-active-job invariant per session.
	ErrJobActive = errors.New("a price-search job is already active for this session")

	// ErrNoActiveJob is returned for status or cancel calls with no job.
	ErrNoActiveJob = errors.New("no active price-search job")
)

// ValidationError rejects an upload before any parsing is attempted.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// ParseError wraps a failure to decode uploaded file bytes.
type ParseError struct {
	Filename string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Filename, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ReconcileError is a remote reconciliation-service failure, carrying the
// underlying message so it is surfaced, never swallowed.
type ReconcileError struct {
	StatusCode int
	Message    string
}

func (e *ReconcileError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("reconciliation service: %s (status %d)", e.Message, e.StatusCode)
	}
	return "reconciliation service: " + e.Message
}

// JobSubmitError is a remote job-start failure; no job state is created.
type JobSubmitError struct {
	Err error
}

func (e *JobSubmitError) Error() string { return fmt.Sprintf("submit price-search job: %v", e.Err) }

func (e *JobSubmitError) Unwrap() error { return e.Err }

// JobTerminalError is a remote-reported job failure (ERROR stage or an
// exhausted poll budget).
type JobTerminalError struct {
	JobID   string
	Message string
}

func (e *JobTerminalError) Error() string {
	return fmt.Sprintf("price-search job %s failed: %s", e.JobID, e.Message)
}
