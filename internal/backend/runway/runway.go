// Package runway implements the generic provider backend, which takes a flat
// request payload and reports its result under videoInfo.
package runway

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
	generatePath = "/api/v1/runway/generate"
	statusPath   = "/api/v1/runway/record-detail"

	// costPer10s is the estimated charge for every ten seconds of video.
	costPer10s = 0.15
)

// Compile-time interface satisfaction check.
var _ backend.Backend = (*Backend)(nil)

// Backend is the runway generation strategy.
type Backend struct {
	transport backend.Transport
}

// New returns a runway backend that talks through t.
func New(t backend.Transport) *Backend {
	return &Backend{transport: t}
}

type generateRequest struct {
	Prompt      string `json:"prompt"`
	Duration    int    `json:"duration"`
	Quality     string `json:"quality"`
	AspectRatio string `json:"aspectRatio"`
	WaterMark   string `json:"waterMark"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

type generateResponse struct {
	Data struct {
		TaskID string `json:"taskId"`
	} `json:"data"`
}

type resultBody struct {
	VideoInfo struct {
		VideoURL string `json:"videoUrl"`
		ImageURL string `json:"imageUrl"`
	} `json:"videoInfo"`
}

// Submit starts a runway generation task.
func (b *Backend) Submit(ctx context.Context, req backend.GenerationRequest) (string, error) {
	payload := generateRequest{
		Prompt:      req.Prompt,
		Duration:    req.Duration,
		Quality:     req.Quality,
		AspectRatio: req.AspectRatio,
		WaterMark:   "",
		ImageURL:    req.ImageURL,
	}

	var resp generateResponse
	err := b.transport.PostJSON(ctx, "generation request", generatePath, payload, &resp)
	backend.ObserveRequest(model.BackendRunway, backend.OpSubmit, err)
	if err != nil {
		return "", err
	}
	if resp.Data.TaskID == "" {
		return "", fmt.Errorf("%w: runway generate: missing data.taskId", provider.ErrUnexpectedResponse)
	}
	return resp.Data.TaskID, nil
}

// Poll queries the record-detail endpoint for taskID.
func (b *Backend) Poll(ctx context.Context, taskID string) (backend.TaskStatus, error) {
	var raw json.RawMessage
	err := b.transport.GetJSON(ctx, "status query", statusPath, url.Values{"taskId": {taskID}}, &raw)
	backend.ObserveRequest(model.BackendRunway, backend.OpPoll, err)
	if err != nil {
		return backend.TaskStatus{}, err
	}
	st, err := backend.DecodeStatus(raw)
	if err != nil {
		return backend.TaskStatus{}, fmt.Errorf("%w: runway status: %v", provider.ErrUnexpectedResponse, err)
	}
	return st, nil
}

// Result reads videoInfo.videoUrl and videoInfo.imageUrl.
func (b *Backend) Result(status backend.TaskStatus) (backend.Result, error) {
	var body resultBody
	if err := json.Unmarshal(status.Raw, &body); err != nil {
		return backend.Result{}, fmt.Errorf("%w: runway result: %v", provider.ErrUnexpectedResponse, err)
	}
	if body.VideoInfo.VideoURL == "" {
		return backend.Result{}, provider.ErrNoResultURL
	}
	return backend.Result{
		VideoURL:     body.VideoInfo.VideoURL,
		ThumbnailURL: body.VideoInfo.ImageURL,
	}, nil
}

// EstimateCost charges costPer10s for every ten seconds, pro rata.
func (b *Backend) EstimateCost(durationS int) float64 {
	return float64(durationS) / 10 * costPer10s
}

// Capabilities describes the runway backend.
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:          model.BackendRunway,
		ProviderModel: "runway",
		Durations:     []int{5, 10},
		AspectRatios:  []string{"16:9", "9:16", "1:1", "4:3", "3:4"},
		Thumbnails:    true,
	}
}
