package api

import (
	"errors"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mageframe/video-kit/internal/blob"
)

const (
	imagesPrefix       = "custom-images"
	maxImageUploadSize = 20 << 20 // 20 MB
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// imageResponse describes one stored source image.
type imageResponse struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	URL        string    `json:"url"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
}

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	if !strings.HasPrefix(header.Header.Get("Content-Type"), "image/") {
		s.writeError(w, http.StatusBadRequest, "file must be an image")
		return
	}

	id := uuid.NewString() + strings.ToLower(filepath.Ext(header.Filename))
	n, err := s.blobs.Put(r.Context(), path.Join(imagesPrefix, id), file)
	if err != nil {
		s.logger.Error("store custom image", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to save file")
		return
	}

	s.logger.Info("custom image uploaded", "image_id", id, "filename", header.Filename, "size", n)
	s.writeJSON(w, http.StatusCreated, imageResponse{
		ID:         id,
		Filename:   header.Filename,
		URL:        "/" + path.Join(imagesPrefix, id),
		Size:       n,
		UploadedAt: time.Now().UTC(),
	})
}

func (s *Server) handleListImages(w http.ResponseWriter, _ *http.Request) {
	entries, err := s.blobs.List(imagesPrefix)
	if err != nil {
		s.logger.Error("list custom images", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list images")
		return
	}

	images := make([]imageResponse, 0, len(entries))
	for _, e := range entries {
		name := path.Base(e.Key)
		if !imageExtensions[strings.ToLower(path.Ext(name))] {
			continue
		}
		images = append(images, imageResponse{
			ID:         name,
			Filename:   name,
			URL:        "/" + e.Key,
			Size:       e.Size,
			UploadedAt: e.ModTime.UTC(),
		})
	}

	s.writeJSON(w, http.StatusOK, images)
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		s.writeError(w, http.StatusBadRequest, "invalid image id")
		return
	}

	existed, err := s.blobs.RemoveAll(path.Join(imagesPrefix, id))
	if errors.Is(err, blob.ErrInvalidKey) {
		s.writeError(w, http.StatusBadRequest, "invalid image id")
		return
	}
	if err != nil {
		s.logger.Error("delete custom image", "image_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete image")
		return
	}
	if !existed {
		s.writeError(w, http.StatusNotFound, "image not found")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"message": "image deleted"})
}
