package patch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/example/storesheet/internal/metrics"
	"github.com/example/storesheet/internal/model"
)

// ReconciledFile is the patched file returned by the service.
type ReconciledFile struct {
	Data     []byte
	Filename string
}

// Reconciler calls the remote reconciliation service.
type Reconciler struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// NewReconciler builds a client with a request timeout sized for large files.
func NewReconciler(baseURL string, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
		Logger:     logger,
		Metrics:    m,
	}
}

// Reconcile ships the untouched original bytes plus the change-set and
// returns the patched file blob. Non-2xx responses surface the service's own
// error message: a JSON body contributes its "error" field, anything else is
// used as plain text.
func (r *Reconciler) Reconcile(ctx context.Context, original []byte, originalName string, changes []RowChange) (*ReconciledFile, error) {
	if len(changes) == 0 {
		return nil, model.ErrNothingToPatch
	}

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	part, err := mw.CreateFormFile("excel_file", originalName)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if _, err := part.Write(original); err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return nil, fmt.Errorf("encode change-set: %w", err)
	}
	if err := mw.WriteField("modifications", string(changesJSON)); err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if err := mw.WriteField("original_filename", originalName); err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/download-excel/", body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := r.HTTPClient.Do(req)
	r.Metrics.ObserveRemote(time.Since(start))
	if err != nil {
		r.Metrics.IncRemote("reconcile", "transport_error")
		return nil, &model.ReconcileError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.Metrics.IncRemote("reconcile", "http_error")
		return nil, &model.ReconcileError{
			StatusCode: resp.StatusCode,
			Message:    readErrorBody(resp),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		r.Metrics.IncRemote("reconcile", "read_error")
		return nil, &model.ReconcileError{Message: "read response: " + err.Error()}
	}
	if len(data) == 0 {
		r.Metrics.IncRemote("reconcile", "empty")
		return nil, &model.ReconcileError{Message: "service returned an empty file"}
	}
	r.Metrics.IncRemote("reconcile", "ok")

	name := filenameFromHeader(resp.Header.Get("Content-Disposition"))
	if name == "" {
		name = DerivedFilename(originalName)
	}
	r.Logger.Info("reconciled file received",
		slog.String("filename", name),
		slog.Int("bytes", len(data)),
		slog.Int("changes", len(changes)),
	)
	return &ReconciledFile{Data: data, Filename: name}, nil
}

// DerivedFilename produces the fallback download name: the original base name
// with a fixed suffix and an xlsx extension.
func DerivedFilename(originalName string) string {
	base := strings.TrimSuffix(originalName, filepath.Ext(originalName))
	if base == "" {
		base = "reconciled"
	}
	return base + "_modified.xlsx"
}

func filenameFromHeader(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}

func readErrorBody(resp *http.Response) string {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(raw) == 0 {
		return resp.Status
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
