// Package sora implements the frame-count provider backend. Requests nest
// their parameters under "input" and results arrive as a JSON-encoded string.
package sora

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/mageframe/video-kit/internal/backend"
	"github.com/mageframe/video-kit/internal/model"
	"github.com/mageframe/video-kit/internal/provider"
)

const (
	createTaskPath = "/api/v1/jobs/createTask"
	recordInfoPath = "/api/v1/jobs/recordInfo"

	modelImageToVideo = "sora-2-image-to-video"
	modelTextToVideo  = "sora-2-text-to-video"

	// costPerSecond is the estimated charge per second of video.
	costPerSecond = 0.05

	defaultAspect = "landscape"
)

var aspectRatios = map[string]string{
	"16:9": "landscape",
	"9:16": "portrait",
	"1:1":  "square",
}

// Compile-time interface satisfaction check.
var _ backend.Backend = (*Backend)(nil)

// Backend is the sora2 generation strategy.
type Backend struct {
	transport backend.Transport
}

// New returns a sora2 backend that talks through t.
func New(t backend.Transport) *Backend {
	return &Backend{transport: t}
}

type createTaskRequest struct {
	Model string    `json:"model"`
	Input taskInput `json:"input"`
}

type taskInput struct {
	Prompt          string   `json:"prompt"`
	AspectRatio     string   `json:"aspect_ratio"`
	NFrames         string   `json:"n_frames"`
	RemoveWatermark bool     `json:"remove_watermark"`
	ImageURLs       []string `json:"image_urls,omitempty"`
}

type createTaskResponse struct {
	TaskID string `json:"taskId"`
	Data   *struct {
		TaskID string `json:"taskId"`
	} `json:"data"`
}

// MapAspectRatio converts a ratio such as "16:9" to the orientation name the
// backend expects. Unknown ratios map to landscape.
func MapAspectRatio(ratio string) string {
	if v, ok := aspectRatios[ratio]; ok {
		return v
	}
	return defaultAspect
}

// frameCount selects the clip length setting. The backend offers ten and
// fifteen second clips.
func frameCount(durationS int) string {
	if durationS > 10 {
		return "15"
	}
	return "10"
}

// Submit starts a sora2 generation task.
func (b *Backend) Submit(ctx context.Context, req backend.GenerationRequest) (string, error) {
	payload := createTaskRequest{
		Model: modelTextToVideo,
		Input: taskInput{
			Prompt:          req.Prompt,
			AspectRatio:     MapAspectRatio(req.AspectRatio),
			NFrames:         frameCount(req.Duration),
			RemoveWatermark: true,
		},
	}
	if req.ImageURL != "" {
		payload.Model = modelImageToVideo
		payload.Input.ImageURLs = []string{req.ImageURL}
	}

	var resp createTaskResponse
	err := b.transport.PostJSON(ctx, "generation request", createTaskPath, payload, &resp)
	backend.ObserveRequest(model.BackendSora2, backend.OpSubmit, err)
	if err != nil {
		return "", err
	}
	switch {
	case resp.Data != nil && resp.Data.TaskID != "":
		return resp.Data.TaskID, nil
	case resp.TaskID != "":
		return resp.TaskID, nil
	default:
		return "", fmt.Errorf("%w: sora createTask: missing taskId", provider.ErrUnexpectedResponse)
	}
}

// Poll queries the recordInfo endpoint for taskID.
func (b *Backend) Poll(ctx context.Context, taskID string) (backend.TaskStatus, error) {
	var raw json.RawMessage
	err := b.transport.GetJSON(ctx, "status query", recordInfoPath, url.Values{"taskId": {taskID}}, &raw)
	backend.ObserveRequest(model.BackendSora2, backend.OpPoll, err)
	if err != nil {
		return backend.TaskStatus{}, err
	}
	st, err := backend.DecodeStatus(raw)
	if err != nil {
		return backend.TaskStatus{}, fmt.Errorf("%w: sora status: %v", provider.ErrUnexpectedResponse, err)
	}
	return st, nil
}

// Result parses the resultJson string and returns its first result URL.
// This backend does not report a thumbnail.
func (b *Backend) Result(status backend.TaskStatus) (backend.Result, error) {
	var body struct {
		ResultJSON string `json:"resultJson"`
	}
	if err := json.Unmarshal(status.Raw, &body); err != nil {
		return backend.Result{}, fmt.Errorf("%w: sora result: %v", provider.ErrUnexpectedResponse, err)
	}
	if body.ResultJSON == "" {
		return backend.Result{}, provider.ErrNoResultURL
	}

	var result struct {
		ResultURLs []string `json:"resultUrls"`
	}
	if err := json.Unmarshal([]byte(body.ResultJSON), &result); err != nil {
		return backend.Result{}, fmt.Errorf("%w: sora resultJson: %v", provider.ErrUnexpectedResponse, err)
	}
	if len(result.ResultURLs) == 0 || result.ResultURLs[0] == "" {
		return backend.Result{}, provider.ErrNoResultURL
	}
	return backend.Result{VideoURL: result.ResultURLs[0]}, nil
}

// EstimateCost charges a flat rate per second.
func (b *Backend) EstimateCost(durationS int) float64 {
	return float64(durationS) * costPerSecond
}

// Capabilities describes the sora2 backend.
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:          model.BackendSora2,
		ProviderModel: modelImageToVideo,
		Durations:     []int{10, 15},
		AspectRatios:  []string{"16:9", "9:16", "1:1"},
	}
}
