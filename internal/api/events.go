package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mageframe/video-kit/internal/model"
	"github.com/mageframe/video-kit/internal/store"
)

// lookupJob writes the error response itself and returns nil when the job
// cannot be served.
func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) *model.Job {
	id := chi.URLParam(r, "id")

	job, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return nil
	}
	if err != nil {
		s.logger.Error("get job for events", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return nil
	}
	return job
}

func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	job := s.lookupJob(w, r)
	if job == nil {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	snapshot, err := json.Marshal(job)
	if err != nil {
		s.logger.Error("encode job snapshot", "job_id", job.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to encode job")
		return
	}

	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}

	// A finished job gets its final state and an immediate done event.
	if job.Status.Terminal() {
		w.WriteHeader(http.StatusOK)
		_ = writeSSEData(w, string(snapshot))
		_ = writeSSEEvent(w, "done", string(job.Status))
		flush()
		return
	}

	s.clearWriteDeadline(w)

	// Subscribing after the snapshot is safe: a workflow that ended in between
	// has closed its topic, so the channel is closed and the loop exits.
	ch, unsub := s.engine.Broker().Subscribe(job.ID)
	defer unsub()

	w.WriteHeader(http.StatusOK)
	if err := writeSSEData(w, string(snapshot)); err != nil {
		return
	}
	flush()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "stream complete")
				flush()
				return
			}
			if err := writeSSEData(w, string(ev)); err != nil {
				return
			}
			flush()
		case <-r.Context().Done():
			return
		case <-s.streams.Done():
			_ = writeSSEEvent(w, "shutdown", "server stopping")
			flush()
			return
		}
	}
}

// writeSSEData writes payload as an SSE data event. Multi-line payloads are
// split so that each segment gets its own "data:" prefix.
func writeSSEData(w http.ResponseWriter, payload string) error {
	for seg := range strings.SplitSeq(payload, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
