package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mageframe/video-kit/internal/backend"
	"github.com/mageframe/video-kit/internal/blob"
	"github.com/mageframe/video-kit/internal/model"
	"github.com/mageframe/video-kit/internal/store"
	"github.com/mageframe/video-kit/internal/thumbnail"
)

// Polling defaults: 20 attempts 30 seconds apart gives a task ten minutes.
const (
	DefaultPollAttempts = 20
	DefaultPollInterval = 30 * time.Second
)

// Artifact layout under the blob root.
const (
	VideosPrefix     = "videos"
	VideoFileName    = "video.mp4"
	MetadataFileName = "metadata.json"
)

// Failure messages recorded on jobs.
const (
	msgProviderFailed = "video generation failed on provider"
	msgNotSubmitted   = "interrupted before the task was submitted"
	msgInternal       = "internal error"
)

var (
	// ErrInvalidRequest is returned by Create for requests that cannot become a job.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrPollTimeout is recorded when a task is still running after the last poll.
	ErrPollTimeout = errors.New("generation timed out")

	// ErrShuttingDown is returned by Start once Shutdown has begun.
	ErrShuttingDown = errors.New("engine is shutting down")

	// ErrAlreadyRunning is returned by Start when the job already has a workflow.
	ErrAlreadyRunning = errors.New("workflow already running")
)

// Assets moves files between local disk and the provider.
type Assets interface {
	UploadAsset(ctx context.Context, localPath string) (string, error)
	DownloadAsset(ctx context.Context, rawURL, dest string) (int64, error)
}

// Mirror publishes finished artifacts to secondary storage.
type Mirror interface {
	Publish(ctx context.Context, jobID, localPath string) (string, error)
	Remove(ctx context.Context, jobID string) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolling overrides the poll budget. Non-positive values keep the default.
func WithPolling(attempts int, interval time.Duration) Option {
	return func(e *Engine) {
		if attempts > 0 {
			e.pollAttempts = attempts
		}
		if interval > 0 {
			e.pollInterval = interval
		}
	}
}

// WithExtractor enables preview frame extraction.
func WithExtractor(x thumbnail.Extractor) Option {
	return func(e *Engine) { e.extractor = x }
}

// WithMirror enables mirroring of finished artifacts.
func WithMirror(m Mirror) Option {
	return func(e *Engine) { e.mirror = m }
}

// CreateRequest is the caller-facing input for a new job.
type CreateRequest struct {
	Model       string            `json:"model"`
	Fighter1    string            `json:"fighter1"`
	Fighter2    string            `json:"fighter2"`
	Prompt      string            `json:"prompt"`
	ImageSource string            `json:"imageSource"`
	Options     map[string]bool   `json:"options"`
	VideoParams model.VideoParams `json:"videoParams"`
}

// RefreshResult is the outcome of a status query. The job itself is never
// modified by a refresh.
type RefreshResult struct {
	Job         *model.Job `json:"job"`
	RemoteState string     `json:"remoteState,omitempty"`
	RemoteError string     `json:"remoteError,omitempty"`
}

// Metadata is the sidecar written next to a downloaded video.
type Metadata struct {
	RemoteVideoURL     string          `json:"remoteVideoUrl"`
	RemoteThumbnailURL string          `json:"remoteThumbnailUrl,omitempty"`
	GenerateTime       json.RawMessage `json:"generateTime,omitempty"`
	MirrorVideoURL     string          `json:"mirrorVideoUrl,omitempty"`
	MirrorThumbnailURL string          `json:"mirrorThumbnailUrl,omitempty"`
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Engine orchestrates generation workflows.
type Engine struct {
	store     store.Store
	registry  *backend.Registry
	assets    Assets
	blobs     *blob.LocalFS
	extractor thumbnail.Extractor
	mirror    Mirror
	logger    *slog.Logger
	broker    *EventBroker

	pollAttempts int
	pollInterval time.Duration

	mu       sync.Mutex
	tasks    map[string]*task
	stopping bool
	wg       sync.WaitGroup
}

// NewEngine creates a new orchestration engine.
func NewEngine(s store.Store, reg *backend.Registry, assets Assets, blobs *blob.LocalFS, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:        s,
		registry:     reg,
		assets:       assets,
		blobs:        blobs,
		logger:       logger,
		broker:       NewEventBroker(),
		pollAttempts: DefaultPollAttempts,
		pollInterval: DefaultPollInterval,
		tasks:        make(map[string]*task),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Broker returns the engine's event broker for live subscriptions.
func (e *Engine) Broker() *EventBroker {
	return e.broker
}

// Registry returns the backend registry the engine resolves models against.
func (e *Engine) Registry() *backend.Registry {
	return e.registry
}

// ActiveCount returns the number of running workflows.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

// Accepting reports whether Start will still launch workflows.
func (e *Engine) Accepting() bool {
	return !e.isStopping()
}

// Create validates req and stores a pending job. Defaults are applied to
// missing video parameters and the cost is estimated once from the duration.
// No provider call is made.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*model.Job, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}

	tag, err := model.ParseBackend(req.Model)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	b, err := e.registry.Resolve(tag)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	params := req.VideoParams.WithDefaults()

	source := req.ImageSource
	if source == "" {
		source = model.ImageSourceNone
	}

	j := &model.Job{
		ID:          model.NewID(),
		Model:       tag,
		Fighter1:    req.Fighter1,
		Fighter2:    req.Fighter2,
		Prompt:      prompt,
		ImageSource: source,
		Options:     req.Options,
		VideoParams: params,
		Status:      model.StatusPending,
		Cost:        b.EstimateCost(params.Duration),
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	jobsCreatedTotal.WithLabelValues(string(tag)).Inc()
	e.publish(j)
	e.logger.Info("job created", "job_id", j.ID, "backend", tag, "duration", params.Duration, "cost", j.Cost)
	return j, nil
}

// Start launches the workflow for a pending job. imagePath, when it names an
// existing file, is uploaded and used as the source image.
func (e *Engine) Start(jobID, imagePath string) error {
	return e.spawn(jobID, func(ctx context.Context, j *model.Job, b backend.Backend) error {
		return e.generate(ctx, j, b, imagePath)
	})
}

// Recover resumes jobs left unfinished by a previous process. Jobs with a
// recorded task id resume polling; the rest cannot be resumed and are marked
// failed. It returns the number of resumed workflows.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	jobs, err := e.store.ListJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}

	resumed := 0
	for _, j := range jobs {
		if j.Status.Terminal() {
			continue
		}
		if j.TaskID == "" {
			e.fail(ctx, j.ID, msgNotSubmitted)
			continue
		}

		taskID := j.TaskID
		err := e.spawn(j.ID, func(ctx context.Context, j *model.Job, b backend.Backend) error {
			return e.poll(ctx, j, b, taskID)
		})
		if err != nil {
			return resumed, err
		}
		resumed++
		e.logger.Info("resuming job", "job_id", j.ID, "task_id", taskID, "status", j.Status)
	}
	return resumed, nil
}

// Refresh queries the provider for a non-terminal job's task state and
// returns the stored job unchanged. Provider errors are reported in the
// result rather than returned.
func (e *Engine) Refresh(ctx context.Context, id string) (*RefreshResult, error) {
	j, err := e.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	res := &RefreshResult{Job: j}
	if j.Status.Terminal() || j.TaskID == "" {
		return res, nil
	}

	b, err := e.registry.Resolve(j.Model)
	if err != nil {
		res.RemoteError = err.Error()
		return res, nil
	}
	st, err := b.Poll(ctx, j.TaskID)
	if err != nil {
		e.logger.Warn("refresh status query failed", "job_id", id, "task_id", j.TaskID, "error", err)
		res.RemoteError = err.Error()
		return res, nil
	}
	res.RemoteState = st.State
	return res, nil
}

// Delete cancels any running workflow for id, removes the job and its local
// artifacts, and reports whether the job existed.
func (e *Engine) Delete(ctx context.Context, id string) (bool, error) {
	e.mu.Lock()
	t := e.tasks[id]
	e.mu.Unlock()

	if t != nil {
		t.cancel()
		select {
		case <-t.done:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	if err := e.store.DeleteJob(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("delete job: %w", err)
	}
	e.broker.Close(id)

	if _, err := e.blobs.RemoveAll(path.Join(VideosPrefix, id)); err != nil {
		return true, fmt.Errorf("remove artifacts: %w", err)
	}
	if e.mirror != nil {
		if err := e.mirror.Remove(ctx, id); err != nil {
			e.logger.Warn("failed to remove mirrored artifacts", "job_id", id, "error", err)
		}
	}

	e.logger.Info("job deleted", "job_id", id, "was_running", t != nil)
	return true, nil
}

// Shutdown cancels every running workflow and waits for them to exit.
// Interrupted jobs keep their last persisted status so that Recover can
// resume them.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.stopping = true
	for _, t := range e.tasks {
		t.cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until all in-flight workflows complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

type workflowFunc func(ctx context.Context, j *model.Job, b backend.Backend) error

// spawn registers a task for jobID and runs fn in a supervised goroutine.
func (e *Engine) spawn(jobID string, fn workflowFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopping {
		return ErrShuttingDown
	}
	if _, ok := e.tasks[jobID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, jobID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}
	e.tasks[jobID] = t

	e.wg.Go(func() {
		defer func() {
			cancel()
			e.mu.Lock()
			delete(e.tasks, jobID)
			e.mu.Unlock()
			close(t.done)
		}()
		e.run(ctx, jobID, fn)
	})
	return nil
}

// run executes one workflow and records its outcome.
func (e *Engine) run(ctx context.Context, jobID string, fn workflowFunc) {
	activeWorkflows.Inc()
	defer activeWorkflows.Dec()
	defer e.broker.Close(jobID)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("workflow panicked", "job_id", jobID, "panic", r)
			e.fail(context.Background(), jobID, fmt.Sprintf("%s: %v", msgInternal, r))
		}
	}()

	j, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		e.logger.Error("failed to load job", "job_id", jobID, "error", err)
		return
	}
	b, err := e.registry.Resolve(j.Model)
	if err != nil {
		e.fail(ctx, jobID, fmt.Sprintf("resolve backend: %v", err))
		return
	}

	err = fn(ctx, j, b)
	workflowDuration.WithLabelValues(string(j.Model)).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		e.logger.Info("job removed during workflow", "job_id", jobID)
	case ctx.Err() != nil && e.isStopping():
		e.logger.Info("workflow suspended by shutdown", "job_id", jobID)
	case ctx.Err() != nil:
		e.logger.Info("workflow canceled", "job_id", jobID)
	default:
		e.fail(ctx, jobID, err.Error())
	}
}

// generate runs a fresh job: optional upload, submit, then poll.
func (e *Engine) generate(ctx context.Context, j *model.Job, b backend.Backend, imagePath string) error {
	var imageURL string
	if imagePath != "" && fileExists(imagePath) {
		if _, err := e.update(ctx, j.ID, model.JobPatch{Status: model.Ptr(model.StatusUploading)}); err != nil {
			return err
		}
		url, err := e.assets.UploadAsset(ctx, imagePath)
		if err != nil {
			return fmt.Errorf("upload image: %w", err)
		}
		imageURL = url
		e.logger.Info("source image uploaded", "job_id", j.ID, "url", imageURL)
	} else if imagePath != "" {
		e.logger.Warn("source image not found, generating from text", "job_id", j.ID, "path", imagePath)
	}

	if _, err := e.update(ctx, j.ID, model.JobPatch{Status: model.Ptr(model.StatusGenerating)}); err != nil {
		return err
	}

	taskID, err := b.Submit(ctx, backend.GenerationRequest{
		Prompt:      j.Prompt,
		ImageURL:    imageURL,
		Duration:    j.VideoParams.Duration,
		Quality:     j.VideoParams.Quality,
		AspectRatio: j.VideoParams.AspectRatio,
	})
	if err != nil {
		return fmt.Errorf("submit task: %w", err)
	}

	if _, err := e.update(ctx, j.ID, model.JobPatch{TaskID: &taskID}); err != nil {
		return err
	}
	e.logger.Info("task submitted", "job_id", j.ID, "task_id", taskID, "backend", j.Model)

	return e.poll(ctx, j, b, taskID)
}

// poll checks the task up to the attempt budget, sleeping between attempts.
// A poll error fails the job at once.
func (e *Engine) poll(ctx context.Context, j *model.Job, b backend.Backend, taskID string) error {
	for attempt := 1; attempt <= e.pollAttempts; attempt++ {
		st, err := b.Poll(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("polling error: %w", err)
		}

		e.logger.Debug("task polled", "job_id", j.ID, "task_id", taskID, "attempt", attempt, "state", st.State)

		switch st.State {
		case backend.StateSuccess:
			pollAttempts.Observe(float64(attempt))
			return e.collect(ctx, j, b, st)
		case backend.StateFail:
			pollAttempts.Observe(float64(attempt))
			e.logger.Warn("task failed on provider", "job_id", j.ID, "task_id", taskID, "reason", st.FailMessage)
			return errors.New(msgProviderFailed)
		}

		if attempt == e.pollAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.pollInterval):
		}
	}

	pollAttempts.Observe(float64(e.pollAttempts))
	total := time.Duration(e.pollAttempts) * e.pollInterval
	return fmt.Errorf("%w after %d attempts (%s)", ErrPollTimeout, e.pollAttempts, total)
}

// collect downloads the finished video, extracts a preview frame, writes
// the metadata sidecar and completes the job.
func (e *Engine) collect(ctx context.Context, j *model.Job, b backend.Backend, st backend.TaskStatus) error {
	if _, err := e.update(ctx, j.ID, model.JobPatch{Status: model.Ptr(model.StatusDownloading)}); err != nil {
		return err
	}

	res, err := b.Result(st)
	if err != nil {
		return fmt.Errorf("read result: %w", err)
	}

	dir := path.Join(VideosPrefix, j.ID)
	videoKey := path.Join(dir, VideoFileName)
	dest, err := e.blobs.Path(videoKey)
	if err != nil {
		return err
	}
	n, err := e.assets.DownloadAsset(ctx, res.VideoURL, dest)
	if err != nil {
		return fmt.Errorf("download video: %w", err)
	}
	downloadedBytesTotal.Add(float64(n))
	e.logger.Info("video downloaded", "job_id", j.ID, "size", humanize.Bytes(uint64(n)))

	meta := Metadata{
		RemoteVideoURL:     res.VideoURL,
		RemoteThumbnailURL: res.ThumbnailURL,
		GenerateTime:       st.GenerateTime,
	}

	var thumbPath, thumbURL string
	if e.extractor != nil {
		thumbPath, err = thumbnail.ExtractPreviewFrame(ctx, e.extractor, dest)
		if err != nil {
			e.logger.Warn("thumbnail extraction failed", "job_id", j.ID, "error", err)
		} else {
			thumbURL = "/" + path.Join(dir, thumbnail.FileName)
		}
	}

	if e.mirror != nil {
		if u, err := e.mirror.Publish(ctx, j.ID, dest); err != nil {
			e.logger.Warn("failed to mirror video", "job_id", j.ID, "error", err)
		} else {
			meta.MirrorVideoURL = u
		}
		if thumbPath != "" {
			if u, err := e.mirror.Publish(ctx, j.ID, thumbPath); err != nil {
				e.logger.Warn("failed to mirror thumbnail", "job_id", j.ID, "error", err)
			} else {
				meta.MirrorThumbnailURL = u
			}
		}
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := e.blobs.WriteFile(ctx, path.Join(dir, MetadataFileName), data); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	videoURL := "/" + videoKey
	done, err := e.update(ctx, j.ID, model.JobPatch{
		Status:       model.Ptr(model.StatusCompleted),
		VideoURL:     &videoURL,
		ThumbnailURL: &thumbURL,
	})
	if err != nil {
		return err
	}

	jobsFinishedTotal.WithLabelValues(string(done.Model), string(model.StatusCompleted)).Inc()
	e.logger.Info("job completed", "job_id", j.ID, "video_url", videoURL)
	return nil
}

// update persists patch and publishes the resulting job. Writes are detached
// from ctx cancellation so a canceled workflow still records a consistent row.
func (e *Engine) update(ctx context.Context, id string, patch model.JobPatch) (*model.Job, error) {
	j, err := e.store.UpdateJob(context.WithoutCancel(ctx), id, patch)
	if err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	e.publish(j)
	return j, nil
}

// fail marks a job as failed with msg.
func (e *Engine) fail(ctx context.Context, id, msg string) {
	j, err := e.update(ctx, id, model.JobPatch{
		Status: model.Ptr(model.StatusFailed),
		Error:  &msg,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return
		}
		e.logger.Error("failed to record job failure", "job_id", id, "error", err)
		return
	}

	jobsFinishedTotal.WithLabelValues(string(j.Model), string(model.StatusFailed)).Inc()
	e.logger.Warn("job failed", "job_id", id, "error", msg)
}

func (e *Engine) publish(j *model.Job) {
	data, err := json.Marshal(j)
	if err != nil {
		e.logger.Error("failed to encode job event", "job_id", j.ID, "error", err)
		return
	}
	e.broker.Publish(j.ID, data)
}

func (e *Engine) isStopping() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopping
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
