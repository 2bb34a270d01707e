package api

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mageframe/video-kit/internal/engine"
)

// staticHandler serves files under the blob prefix at the URL prefix.
// Directory listings are not served.
func (s *Server) staticHandler(urlPrefix, blobPrefix string) http.Handler {
	dir, err := s.blobs.Path(blobPrefix)
	if err != nil {
		panic(fmt.Sprintf("api: invalid static prefix %q: %v", blobPrefix, err))
	}
	files := http.StripPrefix(urlPrefix, http.FileServer(http.Dir(dir)))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		s.clearWriteDeadline(w)
		files.ServeHTTP(w, r)
	})
}

// handleDownload serves a job artifact as an attachment.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	filename := chi.URLParam(r, "filename")
	if strings.ContainsAny(jobID+filename, `/\`) || strings.HasPrefix(filename, ".") || jobID == ".." {
		s.writeError(w, http.StatusBadRequest, "invalid path")
		return
	}

	f, err := s.blobs.Open(path.Join(engine.VideosPrefix, jobID, filename))
	if errors.Is(err, fs.ErrNotExist) {
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		s.logger.Error("open download", "job_id", jobID, "filename", filename, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to open file")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}

	s.clearWriteDeadline(w)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	http.ServeContent(w, r, filename, info.ModTime(), f)
}
