package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/storesheet/internal/blob"
	"github.com/example/storesheet/internal/config"
	"github.com/example/storesheet/internal/extract"
	"github.com/example/storesheet/internal/httpapi"
	"github.com/example/storesheet/internal/metrics"
	"github.com/example/storesheet/internal/patch"
	"github.com/example/storesheet/internal/pricejob"
	"github.com/example/storesheet/internal/session"
	"github.com/example/storesheet/internal/store"
)

func main() {
	loadDotEnv()
	cfg := config.Load()

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = cleanup() }()
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("mkdir data dir", slog.Any("error", err))
		os.Exit(1)
	}

	dbPath := filepath.Join(cfg.DataDir, "storesheet.db")
	db, err := store.Open(dbPath)
	if err != nil {
		logger.Error("open store", slog.String("path", dbPath), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	m := metrics.New()

	server := &httpapi.Server{
		Sessions:   session.NewRegistry(),
		Blobs:      blob.LocalFS{Root: cfg.DataDir},
		Store:      db,
		Reconciler: patch.NewReconciler(cfg.PriceAPIBaseURL, cfg.RemoteTimeout, logger, m),
		PriceAPI:   pricejob.NewClient(cfg.PriceAPIBaseURL, cfg.RemoteTimeout, m),
		Extract:    extract.DefaultConfig(),
		JobConfig: pricejob.Config{
			PollInterval: cfg.PollInterval,
			MaxPolls:     cfg.MaxPolls,
			GraceDelay:   cfg.GraceDelay,
		},
		SyncTimeout:    cfg.SyncTimeout,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         logger,
		Metrics:        m,
		Audit:          auditLog{store: db, logger: logger},
	}

	logger.Info("listening",
		slog.String("addr", cfg.Addr),
		slog.String("price_api", cfg.PriceAPIBaseURL),
	)
	if err := http.ListenAndServe(cfg.Addr, server.Router()); err != nil {
		logger.Error("listen", slog.Any("error", err))
		os.Exit(1)
	}
}

// auditLog persists job stage transitions; a write failure is logged and
// never propagated into the job lifecycle.
type auditLog struct {
	store  *store.SQLite
	logger *slog.Logger
}

func (a auditLog) JobEvent(ctx context.Context, e pricejob.AuditEvent) {
	ev := store.JobEvent{
		JobID:     e.JobID,
		SessionID: e.SessionID,
		At:        time.Now().UTC(),
		Stage:     e.Stage,
		Progress:  e.Progress,
		Processed: e.Processed,
		Total:     e.Total,
		Error:     e.Error,
	}
	if err := a.store.RecordJobEvent(ctx, ev); err != nil {
		a.logger.Warn("record job event", slog.String("job_id", e.JobID), slog.Any("error", err))
	}
}

func loadDotEnv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
