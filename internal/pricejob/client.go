package pricejob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/example/storesheet/internal/metrics"
	"github.com/example/storesheet/internal/model"
)

// Item is one product submitted for lookup. Row is the 1-based source row,
// included so the service can echo it back as the deterministic match key.
type Item struct {
	ProductName  string  `json:"productName"`
	CurrentPrice float64 `json:"currentPrice"`
	Row          int     `json:"row"`
}

// Status is one poll response from the job-status endpoint.
type Status struct {
	Stage            string              `json:"stage"`
	Progress         float64             `json:"progress"`
	ProcessedItems   int                 `json:"processed_items"`
	TotalItems       int                 `json:"total_items"`
	EstimatedSeconds float64             `json:"estimated_time"`
	CurrentItem      string              `json:"current_item"`
	Results          []model.PriceResult `json:"results,omitempty"`
	Error            string              `json:"error,omitempty"`
}

// Client talks to the remote bulk price-search service. A small LRU keeps the
// most recent result per product name; the synchronous degraded mode serves
// repeat lookups from it instead of re-querying the backend.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Metrics    *metrics.Metrics

	cache *lru.Cache[string, model.PriceResult]
}

const resultCacheSize = 1024

// NewClient builds a client for the given service base URL.
func NewClient(baseURL string, timeout time.Duration, m *metrics.Metrics) *Client {
	cache, _ := lru.New[string, model.PriceResult](resultCacheSize)
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
		Metrics:    m,
		cache:      cache,
	}
}

// StartJob submits the full product list and returns the new job id.
func (c *Client) StartJob(ctx context.Context, items []Item) (string, error) {
	payload, err := json.Marshal(map[string]any{"items": items})
	if err != nil {
		return "", &model.JobSubmitError{Err: err}
	}
	var out struct {
		JobID string `json:"job_id"`
	}
	if err := c.postJSON(ctx, "/search-prices/start/", payload, &out); err != nil {
		c.Metrics.IncRemote("job_start", "error")
		return "", &model.JobSubmitError{Err: err}
	}
	if out.JobID == "" {
		c.Metrics.IncRemote("job_start", "error")
		return "", &model.JobSubmitError{Err: fmt.Errorf("service returned no job id")}
	}
	c.Metrics.IncRemote("job_start", "ok")
	return out.JobID, nil
}

// JobStatus fetches the current status of a job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/search-prices/status/"+jobID+"/", nil)
	if err != nil {
		return Status{}, err
	}
	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	c.Metrics.ObserveRemote(time.Since(start))
	if err != nil {
		return Status{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Status{}, fmt.Errorf("status endpoint returned %s", resp.Status)
	}
	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return Status{}, fmt.Errorf("decode status: %w", err)
	}
	for _, res := range st.Results {
		c.cache.Add(res.ProductName, res)
	}
	return st, nil
}

// StopJob asks the service to stop a running job. Best effort: the caller
// treats a failure as "server-side work continues without us".
func (c *Client) StopJob(ctx context.Context, jobID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.BaseURL+"/search-prices/status/"+jobID+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.Metrics.IncRemote("job_stop", "error")
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.Metrics.IncRemote("job_stop", "error")
		return fmt.Errorf("stop endpoint returned %s", resp.Status)
	}
	c.Metrics.IncRemote("job_stop", "ok")
	return nil
}

// SearchSync is the degraded single-request mode for backends without job
// polling: submit everything, wait for one response under a hard deadline.
// Products with a cached result skip the remote round trip entirely.
func (c *Client) SearchSync(ctx context.Context, items []Item, timeout time.Duration) ([]model.PriceResult, error) {
	results := make([]model.PriceResult, 0, len(items))
	missing := make([]Item, 0, len(items))
	for _, it := range items {
		if res, ok := c.cache.Get(it.ProductName); ok {
			res.Row = it.Row
			results = append(results, res)
			continue
		}
		missing = append(missing, it)
	}
	if len(missing) == 0 {
		return results, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(map[string]any{"items": missing})
	if err != nil {
		return nil, err
	}
	var out struct {
		Results        []model.PriceResult `json:"results"`
		TotalProcessed int                 `json:"totalProcessed"`
	}
	if err := c.postJSON(ctx, "/search-prices/", payload, &out); err != nil {
		c.Metrics.IncRemote("search_sync", "error")
		return nil, err
	}
	c.Metrics.IncRemote("search_sync", "ok")
	for _, res := range out.Results {
		c.cache.Add(res.ProductName, res)
	}
	return append(results, out.Results...), nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	c.Metrics.ObserveRemote(time.Since(start))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("service returned %d: %s", resp.StatusCode, msg)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
