// testserver starts a videokit API server with stub backends for front-end
// and end-to-end work without a provider API key.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mageframe/video-kit/internal/api"
	"github.com/mageframe/video-kit/internal/backend"
	"github.com/mageframe/video-kit/internal/backend/stub"
	"github.com/mageframe/video-kit/internal/blob"
	"github.com/mageframe/video-kit/internal/engine"
	"github.com/mageframe/video-kit/internal/model"
	"github.com/mageframe/video-kit/internal/store"
)

func main() {
	addr := ":8000"
	if v := os.Getenv("VIDEOKIT_LISTEN_ADDR"); v != "" {
		addr = v
	}

	dataDir, err := os.MkdirTemp("", "videokit-testserver-")
	if err != nil {
		log.Fatalf("create data dir: %v", err)
	}
	defer os.RemoveAll(dataDir)

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	blobs, err := blob.NewLocalFS(dataDir)
	if err != nil {
		log.Fatalf("open artifact storage: %v", err)
	}

	runwayStub := stub.New(model.BackendRunway, 2)
	runwayStub.Delay = 250 * time.Millisecond
	runwayStub.CostPerSecond = 0.015

	soraStub := stub.New(model.BackendSora2, 3)
	soraStub.Delay = 250 * time.Millisecond

	reg := backend.NewRegistry()
	reg.Register(model.BackendRunway, runwayStub)
	reg.Register(model.BackendSora2, soraStub)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	eng := engine.NewEngine(db, reg, &stub.Assets{}, blobs, logger,
		engine.WithPolling(10, 500*time.Millisecond),
	)
	srv := api.NewServer(addr, db, eng, blobs, logger)

	logger.Info("testserver: starting", "addr", addr, "data_dir", dataDir)
	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	runErr := srv.Run(sigCtx)
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Shutdown(ctx); err != nil {
		logger.Error("engine shutdown", "error", err)
	}

	if runErr != nil {
		log.Fatalf("server error: %v", runErr)
	}
}
