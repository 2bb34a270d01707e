package backend

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/mageframe/video-kit/internal/model"
)

// Provider task states the orchestrator treats as terminal. Every other
// reported state means the task is still running.
const (
	StateSuccess = "success"
	StateFail    = "fail"
)

// Backend is the interface each provider generation strategy implements.
type Backend interface {
	// Submit starts a generation task and returns the provider's task id.
	Submit(ctx context.Context, req GenerationRequest) (string, error)

	// Poll reports the current state of a task.
	Poll(ctx context.Context, taskID string) (TaskStatus, error)

	// Result extracts the finished asset locators from a successful status.
	Result(status TaskStatus) (Result, error)

	// EstimateCost returns the estimated charge for a video of the given length.
	EstimateCost(durationS int) float64

	// Capabilities describes the backend for listing.
	Capabilities() Capabilities
}

// Transport is the authenticated JSON channel backends speak through.
// *provider.Client implements it.
type Transport interface {
	PostJSON(ctx context.Context, op, path string, body, out any) error
	GetJSON(ctx context.Context, op, path string, query url.Values, out any) error
}

// GenerationRequest carries everything a backend needs to start a task.
type GenerationRequest struct {
	Prompt      string `json:"prompt"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Duration    int    `json:"duration"`
	Quality     string `json:"quality"`
	AspectRatio string `json:"aspectRatio"`
}

// TaskStatus is one poll result. Raw holds the response's data section so
// that Result can extract backend-specific fields later.
type TaskStatus struct {
	State        string          `json:"state"`
	FailMessage  string          `json:"failMsg,omitempty"`
	GenerateTime json.RawMessage `json:"generateTime,omitempty"`
	Raw          json.RawMessage `json:"-"`
}

// Terminal reports whether the task reached success or fail.
func (s TaskStatus) Terminal() bool {
	return s.State == StateSuccess || s.State == StateFail
}

// Result locates the finished assets on the provider side.
type Result struct {
	VideoURL     string
	ThumbnailURL string
}

// Capabilities describes what a backend accepts.
type Capabilities struct {
	Name          model.Backend `json:"name"`
	ProviderModel string        `json:"providerModel"`
	Durations     []int         `json:"durations"`
	AspectRatios  []string      `json:"aspectRatios"`
	Thumbnails    bool          `json:"thumbnails"`
}

// DecodeStatus unwraps an optional "data" envelope from a poll response and
// decodes the common status fields.
func DecodeStatus(raw json.RawMessage) (TaskStatus, error) {
	var wrapper struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return TaskStatus{}, err
	}
	body := raw
	if len(wrapper.Data) > 0 && string(wrapper.Data) != "null" {
		body = wrapper.Data
	}

	var st TaskStatus
	if err := json.Unmarshal(body, &st); err != nil {
		return TaskStatus{}, err
	}
	st.Raw = body
	return st, nil
}
