// videokit runs the video generation service.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mageframe/video-kit/internal/api"
	"github.com/mageframe/video-kit/internal/backend"
	"github.com/mageframe/video-kit/internal/backend/runway"
	"github.com/mageframe/video-kit/internal/backend/sora"
	"github.com/mageframe/video-kit/internal/blob"
	"github.com/mageframe/video-kit/internal/config"
	"github.com/mageframe/video-kit/internal/engine"
	"github.com/mageframe/video-kit/internal/mirror"
	"github.com/mageframe/video-kit/internal/model"
	"github.com/mageframe/video-kit/internal/provider"
	"github.com/mageframe/video-kit/internal/store"
	"github.com/mageframe/video-kit/internal/thumbnail"
)

const engineShutdownTimeout = 30 * time.Second

func main() {
	exportPath := flag.String("export", "", "write the job ledger as a JSON document to this path and exit")
	flag.Parse()

	loadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("mkdir data dir: %v", err)
	}

	db, err := store.NewSQLiteStore(cfg.DBPath, store.WithLogger(logger))
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	importLegacyLedger(ctx, db, filepath.Join(cfg.DataDir, store.LedgerFileName), logger)

	if *exportPath != "" {
		jobs, err := store.LoadAll(ctx, db)
		if err != nil {
			log.Fatalf("load jobs: %v", err)
		}
		if err := store.WriteLedgerFile(*exportPath, jobs); err != nil {
			log.Fatalf("export ledger: %v", err)
		}
		logger.Info("ledger exported", "path", *exportPath, "jobs", len(jobs))
		return
	}

	client, err := provider.NewClient(provider.Options{
		APIKey:        cfg.Provider.APIKey,
		APIBaseURL:    cfg.Provider.APIBaseURL,
		UploadBaseURL: cfg.Provider.UploadBaseURL,
		UploadPath:    cfg.Provider.UploadPath,
	})
	if err != nil {
		log.Fatalf("provider client: %v", err)
	}

	reg := backend.NewRegistry()
	reg.Register(model.BackendRunway, runway.New(client))
	reg.Register(model.BackendSora2, sora.New(client))

	blobs, err := blob.NewLocalFS(cfg.DataDir)
	if err != nil {
		log.Fatalf("open artifact storage: %v", err)
	}

	opts := []engine.Option{engine.WithPolling(cfg.PollAttempts, cfg.PollInterval)}

	ffmpeg := thumbnail.NewFFmpeg(cfg.FFmpegBin)
	if err := ffmpeg.Check(); err != nil {
		logger.Warn("ffmpeg unavailable, thumbnails disabled", "bin", cfg.FFmpegBin, "error", err)
	} else {
		opts = append(opts, engine.WithExtractor(ffmpeg))
	}

	if cfg.Mirror.Enabled() {
		m, err := mirror.NewMinIO(cfg.Mirror)
		if err != nil {
			log.Fatalf("artifact mirror: %v", err)
		}
		opts = append(opts, engine.WithMirror(m))
		logger.Info("artifact mirror enabled", "endpoint", cfg.Mirror.Endpoint, "bucket", cfg.Mirror.Bucket)
	}

	eng := engine.NewEngine(db, reg, client, blobs, logger, opts...)

	resumed, err := eng.Recover(ctx)
	if err != nil {
		logger.Error("recover unfinished jobs", "error", err)
	} else if resumed > 0 {
		logger.Info("resumed unfinished jobs", "count", resumed)
	}

	logger.Info("videokit: starting",
		"listen_addr", cfg.ListenAddr,
		"data_dir", cfg.DataDir,
		"db_path", cfg.DBPath,
		"poll_attempts", cfg.PollAttempts,
		"poll_interval", cfg.PollInterval.String(),
	)

	srv := api.NewServer(cfg.ListenAddr, db, eng, blobs, logger, api.WithAllowedOrigins(cfg.AllowedOrigins))
	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	runErr := srv.Run(sigCtx)
	stop()

	sctx, cancel := context.WithTimeout(context.Background(), engineShutdownTimeout)
	defer cancel()
	if err := eng.Shutdown(sctx); err != nil {
		logger.Error("engine shutdown", "error", err)
	}

	if runErr != nil {
		log.Fatalf("server error: %v", runErr)
	}
}

// importLegacyLedger copies jobs from a single-document ledger into the
// store. Whatever could not be read is logged and skipped.
func importLegacyLedger(ctx context.Context, s store.Store, path string, logger *slog.Logger) {
	jobs, err := store.ReadLedgerFile(path)
	if err != nil {
		logger.Warn("legacy ledger could not be read completely", "path", path, "recovered", len(jobs), "error", err)
	}
	if len(jobs) == 0 {
		return
	}

	n, err := s.ImportJobs(ctx, jobs)
	if err != nil {
		logger.Error("import legacy ledger", "path", path, "error", err)
		return
	}
	if n > 0 {
		logger.Info("imported legacy ledger", "path", path, "imported", n, "total", len(jobs))
	}
}

// loadDotEnv loads the nearest .env file from the working directory or one
// of its parents. Variables already set in the environment win.
func loadDotEnv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for range 5 {
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
