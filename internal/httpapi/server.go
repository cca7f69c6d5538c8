package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/storesheet/internal/blob"
	"github.com/example/storesheet/internal/dataset"
	"github.com/example/storesheet/internal/extract"
	"github.com/example/storesheet/internal/grid"
	"github.com/example/storesheet/internal/metrics"
	"github.com/example/storesheet/internal/model"
	"github.com/example/storesheet/internal/patch"
	"github.com/example/storesheet/internal/pricejob"
	"github.com/example/storesheet/internal/session"
	"github.com/example/storesheet/internal/store"
)

type Server struct {
	Sessions   *session.Registry
	Blobs      blob.LocalFS
	Store      *store.SQLite
	Reconciler *patch.Reconciler
	PriceAPI   *pricejob.Client

	Extract     extract.Config
	JobConfig   pricejob.Config
	SyncTimeout time.Duration

	MaxUploadBytes int64

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Audit   pricejob.Auditor
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(cors)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Get("/records", s.handleListRecords)
			r.Patch("/records/{index}", s.handleEditRecord)
			r.Post("/price-search", s.handleStartPriceSearch)
			r.Get("/price-search", s.handleGetPriceSearch)
			r.Delete("/price-search", s.handleStopPriceSearch)
			r.Post("/price-search/sync", s.handleSyncPriceSearch)
			r.Post("/reconcile", s.handleReconcile)
		})
	})

	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

var allowedExtensions = map[string]bool{
	".xlsx": true,
	".xls":  true,
	".csv":  true,
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseMultipartForm(s.MaxUploadBytes); err != nil {
		s.Metrics.IncUpload("bad_request")
		writeErr(w, http.StatusBadRequest, fmt.Errorf("parse multipart: %w", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.Metrics.IncUpload("bad_request")
		writeErr(w, http.StatusBadRequest, fmt.Errorf("missing 'file' upload: %w", err))
		return
	}
	defer file.Close()

	// Extension gate runs before a single byte is parsed.
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		s.Metrics.IncUpload("rejected")
		writeDomainErr(w, &model.ValidationError{
			Reason: fmt.Sprintf("unsupported file type %q: expected .xlsx, .xls, or .csv", ext),
		})
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.Metrics.IncUpload("error")
		writeErr(w, http.StatusInternalServerError, fmt.Errorf("read upload: %w", err))
		return
	}
	if len(data) == 0 {
		s.Metrics.IncUpload("rejected")
		writeDomainErr(w, &model.ValidationError{Reason: "uploaded file is empty"})
		return
	}

	var g *grid.Grid
	if ext == ".csv" {
		g, err = grid.LoadCSV(bytes.NewReader(data))
	} else {
		g, err = grid.LoadWorkbook(data)
	}
	if err != nil {
		s.Metrics.IncUpload("parse_error")
		writeDomainErr(w, &model.ParseError{Filename: header.Filename, Err: err})
		return
	}

	records := extract.Extract(g, s.Extract)
	if len(records) == 0 {
		s.Metrics.IncUpload("no_records")
		writeDomainErr(w, model.ErrNoRecords)
		return
	}

	id := uuid.NewString()
	blobKey := blob.UploadKey(id, ext)
	if _, err := s.Blobs.Put(blobKey, bytes.NewReader(data)); err != nil {
		s.Metrics.IncUpload("error")
		writeErr(w, http.StatusInternalServerError, fmt.Errorf("store upload: %w", err))
		return
	}

	ds := dataset.New(records)
	sess := &session.Session{
		ID:        id,
		Filename:  header.Filename,
		CreatedAt: time.Now().UTC(),
		BlobKey:   blobKey,
		Grid:      g,
		Records:   ds,
	}
	sess.Coordinator = pricejob.NewCoordinator(s.PriceAPI, ds, s.JobConfig, id, s.Logger, s.Metrics, s.Audit)
	s.Sessions.Add(sess)

	if s.Store != nil {
		row := store.SessionRow{
			ID:          id,
			CreatedAt:   sess.CreatedAt,
			Filename:    sess.Filename,
			BlobKey:     blobKey,
			RecordCount: len(records),
		}
		if err := s.Store.CreateSession(ctx, row); err != nil {
			s.Logger.Warn("persist session row failed", slog.String("session", id), slog.Any("error", err))
		}
	}

	s.Metrics.IncUpload("ok")
	s.Metrics.AddExtracted(len(records))
	s.Logger.Info("session created",
		slog.String("session", id),
		slog.String("filename", sess.Filename),
		slog.Int("records", len(records)),
		slog.Int("cells", g.CellCount()),
	)

	writeJSON(w, http.StatusCreated, map[string]any{
		"sessionId":   id,
		"filename":    sess.Filename,
		"recordCount": len(records),
		"records":     records,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.Sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeDomainErr(w, model.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId":     sess.ID,
		"filename":      sess.Filename,
		"createdAt":     sess.CreatedAt,
		"recordCount":   sess.Records.Len(),
		"modifiedCount": sess.Records.ModifiedCount(),
		"jobActive":     sess.Coordinator.Active(),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	sess, ok := s.Sessions.Remove(id)
	if !ok {
		writeDomainErr(w, model.ErrNotFound)
		return
	}
	if sess.Coordinator.Active() {
		if err := sess.Coordinator.Cancel(ctx); err != nil && !errors.Is(err, model.ErrNoActiveJob) {
			s.Logger.Warn("cancel job on session delete", slog.String("session", id), slog.Any("error", err))
		}
	}
	if err := s.Blobs.Remove(filepath.Dir(sess.BlobKey)); err != nil {
		s.Logger.Warn("remove session blobs", slog.String("session", id), slog.Any("error", err))
	}
	if s.Store != nil {
		if err := s.Store.DeleteSession(ctx, id); err != nil {
			s.Logger.Warn("delete session row", slog.String("session", id), slog.Any("error", err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.Sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeDomainErr(w, model.ErrNotFound)
		return
	}

	mode := dataset.SortDefault
	if raw := strings.TrimSpace(r.URL.Query().Get("sort")); raw != "" {
		parsed := dataset.SortMode(raw)
		switch parsed {
		case dataset.SortDefault, dataset.SortPriceAsc, dataset.SortPriceDesc,
			dataset.SortDeltaAsc, dataset.SortDeltaDesc:
			mode = parsed
		default:
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid sort: %s", raw))
			return
		}
	}

	records := sess.Records.View(mode)
	writeJSON(w, http.StatusOK, map[string]any{
		"records":       records,
		"recordCount":   len(records),
		"modifiedCount": sess.Records.ModifiedCount(),
	})
}

func (s *Server) handleEditRecord(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.Sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeDomainErr(w, model.ErrNotFound)
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid record index: %s", chi.URLParam(r, "index")))
		return
	}

	var body struct {
		Price *float64 `json:"price"`
		Stock *float64 `json:"stock"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if body.Price == nil && body.Stock == nil {
		writeDomainErr(w, &model.ValidationError{Reason: "at least one of price or stock is required"})
		return
	}
	if body.Price != nil && *body.Price < 0 {
		writeDomainErr(w, &model.ValidationError{Reason: "price must not be negative"})
		return
	}
	if body.Stock != nil && *body.Stock < 0 {
		writeDomainErr(w, &model.ValidationError{Reason: "stock must not be negative"})
		return
	}

	current, err := sess.Records.Record(index)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	price, stock := current.Price, current.Stock
	if body.Price != nil {
		price = *body.Price
	}
	if body.Stock != nil {
		stock = *body.Stock
	}

	updated, err := sess.Records.ApplyManualEdit(index, price, stock)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	s.Metrics.IncManualEdit()
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleStartPriceSearch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.Sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeDomainErr(w, model.ErrNotFound)
		return
	}
	snap, err := sess.Coordinator.Submit(r.Context())
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

func (s *Server) handleGetPriceSearch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.Sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeDomainErr(w, model.ErrNotFound)
		return
	}
	snap, active := sess.Coordinator.Snapshot()
	if !active {
		writeDomainErr(w, model.ErrNoActiveJob)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStopPriceSearch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.Sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeDomainErr(w, model.ErrNotFound)
		return
	}
	if err := sess.Coordinator.Cancel(r.Context()); err != nil {
		writeDomainErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSyncPriceSearch is the degraded single-request mode for backends
// without job polling: everything rides on one call under a hard deadline,
// then merges through the same conflict-aware path as a job.
func (s *Server) handleSyncPriceSearch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.Sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeDomainErr(w, model.ErrNotFound)
		return
	}
	if sess.Coordinator.Active() {
		writeDomainErr(w, model.ErrJobActive)
		return
	}
	records := sess.Records.Records()
	if len(records) == 0 {
		writeDomainErr(w, model.ErrNoRecords)
		return
	}
	items := make([]pricejob.Item, len(records))
	for i, rec := range records {
		items[i] = pricejob.Item{ProductName: rec.ProductName, CurrentPrice: rec.Price, Row: rec.SourceRow + 1}
	}

	sinceGen := sess.Records.Generation()
	results, err := s.PriceAPI.SearchSync(r.Context(), items, s.SyncTimeout)
	if err != nil {
		writeErr(w, http.StatusBadGateway, err)
		return
	}
	stats := sess.Records.MergeBulkResults(results, sinceGen)
	writeJSON(w, http.StatusOK, map[string]any{
		"merged":    stats.Merged,
		"noOp":      stats.NoOp,
		"conflicts": stats.Conflicts,
		"unmatched": stats.Unmatched,
	})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.Sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeDomainErr(w, model.ErrNotFound)
		return
	}

	changes, err := patch.BuildChangeSet(sess.Records.Records())
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	original, err := s.Blobs.ReadAll(sess.BlobKey)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, fmt.Errorf("read original upload: %w", err))
		return
	}

	file, err := s.Reconciler.Reconcile(r.Context(), original, sess.Filename, changes)
	if err != nil {
		writeDomainErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(file.Data)))
	_, _ = w.Write(file.Data)
}

// writeDomainErr maps the error taxonomy onto HTTP statuses. Remote-service
// messages pass through verbatim so the operator sees the backend's own words.
func writeDomainErr(w http.ResponseWriter, err error) {
	var (
		validationErr *model.ValidationError
		parseErr      *model.ParseError
		reconcileErr  *model.ReconcileError
		submitErr     *model.JobSubmitError
	)
	switch {
	case errors.As(err, &validationErr):
		writeErr(w, http.StatusBadRequest, err)
	case errors.As(err, &parseErr):
		writeErr(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, model.ErrNoRecords):
		writeErr(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, model.ErrNotFound):
		writeErr(w, http.StatusNotFound, err)
	case errors.Is(err, model.ErrNoActiveJob):
		writeErr(w, http.StatusNotFound, err)
	case errors.Is(err, model.ErrJobActive):
		writeErr(w, http.StatusConflict, err)
	case errors.Is(err, model.ErrNothingToPatch):
		writeErr(w, http.StatusConflict, err)
	case errors.As(err, &reconcileErr), errors.As(err, &submitErr):
		writeErr(w, http.StatusBadGateway, err)
	default:
		writeErr(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}
