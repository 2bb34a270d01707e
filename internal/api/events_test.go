package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mageframe/video-kit/internal/engine"
	"github.com/mageframe/video-kit/internal/model"
)

// readSSE collects data payloads and named events until the stream ends.
func readSSE(t *testing.T, resp *http.Response) (data []string, events []string) {
	t.Helper()
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if d, ok := strings.CutPrefix(line, "data: "); ok {
			data = append(data, d)
		}
		if e, ok := strings.CutPrefix(line, "event: "); ok {
			events = append(events, e)
		}
	}
	return data, events
}

func TestJobEventsNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/jobs/nonexistent/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestJobEventsTerminalJob(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	j, err := srv.engine.Create(ctx, engine.CreateRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := srv.store.UpdateJob(ctx, j.ID, model.JobPatch{Status: model.Ptr(model.StatusFailed), Error: model.Ptr("boom")}); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/jobs/" + j.ID + "/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	data, events := readSSE(t, resp)
	if len(data) != 2 {
		t.Fatalf("got %d data lines, want snapshot and done: %v", len(data), data)
	}
	var snap model.Job
	if err := json.Unmarshal([]byte(data[0]), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Status != model.StatusFailed || snap.Error != "boom" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if len(events) != 1 || events[0] != "done" {
		t.Errorf("events = %v, want [done]", events)
	}
}

func TestJobEventsStreamsWorkflow(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	j, err := srv.engine.Create(ctx, engine.CreateRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/jobs/"+j.ID+"/events", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	// The handler subscribes before writing headers, so starting now cannot
	// miss events.
	if err := srv.engine.Start(j.ID, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}

	data, events := readSSE(t, resp)
	if len(events) != 1 || events[0] != "done" {
		t.Fatalf("events = %v, want [done]", events)
	}

	var statuses []model.Status
	for _, d := range data[:len(data)-1] {
		var ev model.Job
		if err := json.Unmarshal([]byte(d), &ev); err != nil {
			t.Fatalf("decode event %q: %v", d, err)
		}
		statuses = append(statuses, ev.Status)
	}
	if statuses[0] != model.StatusPending {
		t.Errorf("first event should be the pending snapshot, got %q", statuses[0])
	}
	if last := statuses[len(statuses)-1]; last != model.StatusCompleted {
		t.Errorf("last status = %q, want completed (all: %v)", last, statuses)
	}
}

func TestJobEventsEndOnServerDrain(t *testing.T) {
	srv := newTestServer(t)
	j, err := srv.engine.Create(context.Background(), engine.CreateRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/jobs/" + j.ID + "/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	srv.stopStreams()

	data, events := readSSE(t, resp)
	if len(data) == 0 {
		t.Fatal("expected the job snapshot before the stream ended")
	}
	if len(events) != 1 || events[0] != "shutdown" {
		t.Errorf("events = %v, want [shutdown]", events)
	}
}
