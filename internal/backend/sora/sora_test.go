package sora

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mageframe/video-kit/internal/backend"
	"github.com/mageframe/video-kit/internal/provider"
)

func newTestBackend(t *testing.T, h http.HandlerFunc) *Backend {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := provider.NewClient(provider.Options{
		APIKey:     "k",
		APIBaseURL: srv.URL,
		HTTPClient: srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return New(c)
}

func TestMapAspectRatio(t *testing.T) {
	tests := map[string]string{
		"16:9": "landscape",
		"9:16": "portrait",
		"1:1":  "square",
		"4:3":  "landscape",
		"":     "landscape",
	}
	for in, want := range tests {
		if got := MapAspectRatio(in); got != want {
			t.Errorf("MapAspectRatio(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSubmitNestedPayload(t *testing.T) {
	var got createTaskRequest
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != createTaskPath {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"code":200,"data":{"taskId":"sr-1"}}`)
	})

	taskID, err := b.Submit(context.Background(), backend.GenerationRequest{
		Prompt:      "a duel",
		ImageURL:    "https://files.example/a.png",
		Duration:    5,
		AspectRatio: "9:16",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if taskID != "sr-1" {
		t.Errorf("taskID = %q", taskID)
	}
	if got.Model != modelImageToVideo {
		t.Errorf("model = %q", got.Model)
	}
	if got.Input.Prompt != "a duel" || got.Input.AspectRatio != "portrait" || got.Input.NFrames != "10" || !got.Input.RemoveWatermark {
		t.Errorf("input = %+v", got.Input)
	}
	if len(got.Input.ImageURLs) != 1 || got.Input.ImageURLs[0] != "https://files.example/a.png" {
		t.Errorf("image_urls = %v, want single element", got.Input.ImageURLs)
	}
}

func TestSubmitTextOnly(t *testing.T) {
	var got struct {
		Model string         `json:"model"`
		Input map[string]any `json:"input"`
	}
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"taskId":"sr-2"}`)
	})

	taskID, err := b.Submit(context.Background(), backend.GenerationRequest{Prompt: "p", Duration: 15})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if taskID != "sr-2" {
		t.Errorf("taskID = %q, want top-level taskId", taskID)
	}
	if got.Model != modelTextToVideo {
		t.Errorf("model = %q", got.Model)
	}
	if _, ok := got.Input["image_urls"]; ok {
		t.Error("image_urls present without image")
	}
	if got.Input["n_frames"] != "15" {
		t.Errorf("n_frames = %v, want 15", got.Input["n_frames"])
	}
}

func TestSubmitMissingTaskID(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"code":200,"data":{}}`)
	})
	_, err := b.Submit(context.Background(), backend.GenerationRequest{Prompt: "p"})
	if !errors.Is(err, provider.ErrUnexpectedResponse) {
		t.Errorf("error = %v, want ErrUnexpectedResponse", err)
	}
}

func TestSubmitHTTPFailure(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	_, err := b.Submit(context.Background(), backend.GenerationRequest{Prompt: "p"})
	if provider.StatusCode(err) != http.StatusInternalServerError {
		t.Errorf("error = %v, want 500 RequestError", err)
	}
}

func TestPollAndResult(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != recordInfoPath || r.URL.Query().Get("taskId") != "sr-1" {
			t.Errorf("request = %s", r.URL)
		}
		io.WriteString(w, `{"code":200,"data":{"taskId":"sr-1","state":"success",
			"resultJson":"{\"resultUrls\":[\"https://cdn.example/a.mp4\",\"https://cdn.example/b.mp4\"]}"}}`)
	})

	st, err := b.Poll(context.Background(), "sr-1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !st.Terminal() {
		t.Errorf("State = %q, want terminal", st.State)
	}
	res, err := b.Result(st)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if res.VideoURL != "https://cdn.example/a.mp4" {
		t.Errorf("VideoURL = %q, want first result", res.VideoURL)
	}
	if res.ThumbnailURL != "" {
		t.Errorf("ThumbnailURL = %q, want empty", res.ThumbnailURL)
	}
}

func TestResultErrors(t *testing.T) {
	b := New(nil)
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"missing resultJson", `{"state":"success"}`, provider.ErrNoResultURL},
		{"empty urls", `{"resultJson":"{\"resultUrls\":[]}"}`, provider.ErrNoResultURL},
		{"blank url", `{"resultJson":"{\"resultUrls\":[\"\"]}"}`, provider.ErrNoResultURL},
		{"malformed resultJson", `{"resultJson":"{not json"}`, provider.ErrUnexpectedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Result(backend.TaskStatus{State: backend.StateSuccess, Raw: json.RawMessage(tt.raw)})
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEstimateCost(t *testing.T) {
	b := New(nil)
	if got := b.EstimateCost(5); math.Abs(got-0.25) > 1e-9 {
		t.Errorf("EstimateCost(5) = %v, want 0.25", got)
	}
	if got := b.EstimateCost(10); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("EstimateCost(10) = %v, want 0.5", got)
	}
}
