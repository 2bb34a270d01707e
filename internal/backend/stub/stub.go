// Package stub provides an in-process generation backend and asset mover
// that never leave the machine. It backs cmd/testserver and the API tests.
package stub

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mageframe/video-kit/internal/backend"
	"github.com/mageframe/video-kit/internal/model"
)

// Backend reports every task as running for PendingPolls polls and then
// settles it as success, or as fail when Fail is set.
type Backend struct {
	Name          model.Backend
	PendingPolls  int
	Fail          bool
	Delay         time.Duration
	CostPerSecond float64

	mu    sync.Mutex
	seq   int
	polls map[string]int
}

// New creates a stub backend registered under name.
func New(name model.Backend, pendingPolls int) *Backend {
	return &Backend{
		Name:          name,
		PendingPolls:  pendingPolls,
		CostPerSecond: 0.05,
		polls:         make(map[string]int),
	}
}

func (b *Backend) Submit(ctx context.Context, req backend.GenerationRequest) (string, error) {
	if err := b.wait(ctx); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	return fmt.Sprintf("stub-%s-%d", b.Name, b.seq), nil
}

func (b *Backend) Poll(ctx context.Context, taskID string) (backend.TaskStatus, error) {
	if err := b.wait(ctx); err != nil {
		return backend.TaskStatus{}, err
	}

	b.mu.Lock()
	if b.polls == nil {
		b.polls = make(map[string]int)
	}
	b.polls[taskID]++
	n := b.polls[taskID]
	b.mu.Unlock()

	switch {
	case n <= b.PendingPolls:
		return backend.TaskStatus{State: "generating"}, nil
	case b.Fail:
		return backend.TaskStatus{State: backend.StateFail, FailMessage: "stub failure"}, nil
	}

	raw, _ := json.Marshal(map[string]string{
		"videoUrl":     "stub://video/" + taskID,
		"thumbnailUrl": "stub://thumbnail/" + taskID,
	})
	return backend.TaskStatus{
		State:        backend.StateSuccess,
		GenerateTime: json.RawMessage(fmt.Sprintf("%q", time.Now().UTC().Format(time.DateTime))),
		Raw:          raw,
	}, nil
}

func (b *Backend) Result(st backend.TaskStatus) (backend.Result, error) {
	var out struct {
		VideoURL     string `json:"videoUrl"`
		ThumbnailURL string `json:"thumbnailUrl"`
	}
	if err := json.Unmarshal(st.Raw, &out); err != nil || out.VideoURL == "" {
		return backend.Result{}, fmt.Errorf("stub: no video url in status")
	}
	return backend.Result{VideoURL: out.VideoURL, ThumbnailURL: out.ThumbnailURL}, nil
}

func (b *Backend) EstimateCost(durationS int) float64 {
	return float64(durationS) * b.CostPerSecond
}

func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:          b.Name,
		ProviderModel: "stub",
		Durations:     []int{5, 10},
		AspectRatios:  []string{"16:9", "9:16"},
	}
}

func (b *Backend) wait(ctx context.Context) error {
	if b.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(b.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Assets pretends to upload files and writes a placeholder body on download.
type Assets struct {
	Body []byte
}

func (a *Assets) UploadAsset(ctx context.Context, localPath string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", fmt.Errorf("stub: upload: %w", err)
	}
	return "stub://upload/" + filepath.Base(localPath), ctx.Err()
}

func (a *Assets) DownloadAsset(ctx context.Context, rawURL, dest string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	body := a.Body
	if body == nil {
		body = []byte("stub video for " + rawURL)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(dest, body, 0o644); err != nil {
		return 0, err
	}
	return int64(len(body)), nil
}
