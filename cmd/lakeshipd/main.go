// lakeshipd exports time-windowed telemetry aggregates from the source
// time-series store into the partitioned object-storage lake. One
// invocation performs exactly one run; recurrence is the scheduler's job.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/lakeship/lakeship/internal/config"
	"github.com/lakeship/lakeship/internal/convert"
	"github.com/lakeship/lakeship/internal/extract"
	"github.com/lakeship/lakeship/internal/logging"
	"github.com/lakeship/lakeship/internal/notify"
	"github.com/lakeship/lakeship/internal/pipeline"
	"github.com/lakeship/lakeship/internal/staging"
	"github.com/lakeship/lakeship/internal/upload"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "config.yaml", "config file path")
	dateStr := flag.String("date", "", "run date YYYY-MM-DD (defaults to today UTC)")
	lookback := flag.Duration("lookback", 0, "extraction window (overrides config)")
	stagingDir := flag.String("staging-dir", "", "staging directory (overrides config)")
	logJSON := flag.Bool("log-json", false, "JSON log output")
	debug := flag.Bool("debug", false, "debug logging")
	sweepOnly := flag.Bool("sweep-only", false, "sweep orphaned staging files and exit")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logging.Init(level, *logJSON)
	log := logging.Component("lakeshipd")
	log.Info("starting", "version", Version)

	// Environment files are optional; the scheduler usually exports the
	// variables directly.
	_ = godotenv.Load()

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		// Load wraps the read error, so the file-absent case has to be
		// detected through the chain, not with os.IsNotExist.
		if errors.Is(err, fs.ErrNotExist) {
			log.Info("no config file found, using defaults and environment")
			cfg = config.Default()
			cfg.ApplyEnv()
		} else {
			log.Error("load config", "error", err)
			os.Exit(1)
		}
	}

	// CLI overrides
	if *lookback > 0 {
		cfg.Pipeline.Lookback = *lookback
	}
	if *stagingDir != "" {
		cfg.Staging.Dir = *stagingDir
	}

	// The destination bucket is required before any network I/O.
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	runDate := time.Now().UTC()
	if *dateStr != "" {
		runDate, err = time.Parse("2006-01-02", *dateStr)
		if err != nil {
			log.Error("invalid -date", "error", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Sweep leftovers from failed runs before staging anything new.
	if result, err := staging.Sweep(cfg.Staging.Dir, cfg.Staging.SweepAfter, false); err != nil {
		log.Warn("staging sweep failed", "error", err)
	} else if result.FilesDeleted > 0 {
		log.Info("staging sweep", "deleted", result.FilesDeleted, "bytes_freed", result.BytesFreed)
	}
	if *sweepOnly {
		return
	}

	// Source store
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		log.Error("open source store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		log.Error("ping source store", "error", err)
		os.Exit(1)
	}
	cancel()

	// Destination store
	store, err := upload.NewS3Store(upload.S3Options{
		Region:    cfg.Destination.Region,
		Endpoint:  cfg.Destination.Endpoint,
		Profile:   cfg.Destination.Profile,
		PathStyle: cfg.Destination.PathStyle,
	})
	if err != nil {
		log.Error("create object store", "error", err)
		os.Exit(1)
	}

	coordinator := pipeline.NewCoordinator(
		pipeline.Options{
			Lookback:   cfg.Pipeline.Lookback,
			MaxRetries: cfg.Pipeline.MaxRetries,
			Backoff:    cfg.Pipeline.Backoff,
			RunTimeout: cfg.Pipeline.RunTimeout,
		},
		extract.New(db, cfg.Source.Table, cfg.Pipeline.BucketWidth, cfg.Staging.Dir),
		convert.New(cfg.Pipeline.Compression, cfg.Pipeline.RowGroupSize),
		upload.New(store, cfg.Destination.Bucket, cfg.Destination.Prefix),
		notify.New(notify.NewLogSink()),
	)

	report, err := coordinator.Execute(ctx, runDate)
	if err != nil {
		if report != nil {
			log.Error("run failed",
				"run_date", report.RunDate.Format("2006-01-02"),
				"state", report.State.String(),
				"error", err)
		} else {
			log.Error("run rejected", "error", err)
		}
		os.Exit(1)
	}

	log.Info("run finished",
		"run_date", report.RunDate.Format("2006-01-02"),
		"state", report.State.String(),
		"duration", report.FinishedAt.Sub(report.StartedAt))
}
