package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mageframe/video-kit/internal/engine"
	"github.com/mageframe/video-kit/internal/model"
	"github.com/mageframe/video-kit/internal/store"
)

const maxBodySize = 1 << 20 // 1 MB

// generateRequest is the JSON body for POST /api/generate.
type generateRequest struct {
	Model         string `json:"model"`
	Fighter1      string `json:"fighter1"`
	Fighter2      string `json:"fighter2"`
	CustomImageID string `json:"customImageId"`
	Prompt        string `json:"prompt"`
	Music         bool   `json:"music"`
	Voices        bool   `json:"voices"`
	Commentators  bool   `json:"commentators"`
	Duration      int    `json:"duration"`
	Quality       string `json:"quality"`
	AspectRatio   string `json:"aspectRatio"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	create := engine.CreateRequest{
		Model:       req.Model,
		Fighter1:    req.Fighter1,
		Fighter2:    req.Fighter2,
		Prompt:      req.Prompt,
		ImageSource: model.ImageSourceNone,
		Options: map[string]bool{
			"music":        req.Music,
			"voices":       req.Voices,
			"commentators": req.Commentators,
		},
		VideoParams: model.VideoParams{
			Duration:    req.Duration,
			Quality:     req.Quality,
			AspectRatio: req.AspectRatio,
		},
	}

	var imagePath string
	if req.CustomImageID != "" {
		key := path.Join(imagesPrefix, req.CustomImageID)
		p, err := s.blobs.Path(key)
		if err != nil || path.Base(key) != req.CustomImageID {
			s.writeError(w, http.StatusBadRequest, "invalid custom image id")
			return
		}
		if !s.blobs.Exists(key) {
			s.writeError(w, http.StatusNotFound, "custom image not found: "+req.CustomImageID)
			return
		}
		imagePath = p
		create.ImageSource = model.ImageSourceCustom
	}

	if !s.engine.Accepting() {
		s.writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	job, err := s.engine.Create(r.Context(), create)
	if errors.Is(err, engine.ErrInvalidRequest) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("create job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	if err := s.engine.Start(job.ID, imagePath); err != nil {
		// The job never ran; remove it so the failed request leaves no row.
		if _, derr := s.engine.Delete(context.WithoutCancel(r.Context()), job.ID); derr != nil {
			s.logger.Error("remove unstarted job", "job_id", job.ID, "error", derr)
		}
		if errors.Is(err, engine.ErrShuttingDown) {
			s.writeError(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		}
		s.logger.Error("start job", "job_id", job.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to start job")
		return
	}

	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListJobs(r.Context())
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	if status := r.URL.Query().Get("status"); status != "" {
		if !model.Status(status).Valid() {
			s.writeError(w, http.StatusBadRequest, "invalid status filter")
			return
		}
		filtered := jobs[:0]
		for _, j := range jobs {
			if string(j.Status) == status {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}

	if limit := parseIntQuery(r, "limit", 0); limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}

	if jobs == nil {
		jobs = []*model.Job{}
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleRefreshJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := s.engine.Refresh(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("refresh job", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to refresh job")
		return
	}

	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existed, err := s.engine.Delete(r.Context(), id)
	if err != nil {
		s.logger.Error("delete job", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete job")
		return
	}
	if !existed {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"message": "job deleted"})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
