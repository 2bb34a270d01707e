package provider

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ring.png")
	if err := os.WriteFile(path, []byte("png-bytes"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	return path
}

func TestUploadAssetMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != uploadEndpoint {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		if got := r.FormValue("uploadPath"); got != DefaultUploadPath {
			t.Errorf("uploadPath = %q", got)
		}
		if got := r.FormValue("fileName"); got != "ring.png" {
			t.Errorf("fileName = %q", got)
		}
		f, fh, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer f.Close()
		if ct := fh.Header.Get("Content-Type"); ct != "image/png" {
			t.Errorf("part Content-Type = %q", ct)
		}
		data, _ := io.ReadAll(f)
		if string(data) != "png-bytes" {
			t.Errorf("file = %q", data)
		}
		io.WriteString(w, `{"success":true,"code":200,"data":{"downloadUrl":"https://files.example/ring.png"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	got, err := c.UploadAsset(context.Background(), writeImage(t))
	if err != nil {
		t.Fatalf("UploadAsset: %v", err)
	}
	if got != "https://files.example/ring.png" {
		t.Errorf("url = %q", got)
	}
}

func TestUploadedURLShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"data downloadUrl", `{"data":{"downloadUrl":"a"}}`, "a"},
		{"data fileUrl", `{"data":{"fileUrl":"b"}}`, "b"},
		{"data url", `{"data":{"url":"c"}}`, "c"},
		{"data prefers downloadUrl", `{"data":{"url":"c","downloadUrl":"a"}}`, "a"},
		{"top fileUrl", `{"fileUrl":"d"}`, "d"},
		{"top downloadUrl", `{"downloadUrl":"e"}`, "e"},
		{"top url", `{"url":"f"}`, "f"},
		{"data without url falls back to top", `{"data":{"size":3},"url":"g"}`, "g"},
		{"data string falls back to top", `{"data":"ok","fileUrl":"h"}`, "h"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := uploadedURL([]byte(tt.body))
			if err != nil {
				t.Fatalf("uploadedURL: %v", err)
			}
			if got != tt.want {
				t.Errorf("url = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUploadedURLUnknownShape(t *testing.T) {
	for _, body := range []string{`{"data":{"path":"x"}}`, `{"fileUrl":""}`, `[]`, `{}`} {
		if _, err := uploadedURL([]byte(body)); !errors.Is(err, ErrUnexpectedResponse) {
			t.Errorf("uploadedURL(%s) error = %v, want ErrUnexpectedResponse", body, err)
		}
	}
}

func TestUploadAssetRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too large", http.StatusRequestEntityTooLarge)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.UploadAsset(context.Background(), writeImage(t))
	if StatusCode(err) != http.StatusRequestEntityTooLarge {
		t.Errorf("error = %v, want 413 RequestError", err)
	}
}

func TestUploadAssetMissingFile(t *testing.T) {
	c, _ := NewClient(Options{APIKey: "k"})
	if _, err := c.UploadAsset(context.Background(), filepath.Join(t.TempDir(), "nope.jpg")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestUploadAssetStreamsBody(t *testing.T) {
	const size = 3 << 20
	path := filepath.Join(t.TempDir(), "large.jpg")
	if err := os.WriteFile(path, bytes.Repeat([]byte{0xAB}, size), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength != -1 {
			t.Errorf("ContentLength = %d, want -1 for a streamed body", r.ContentLength)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer f.Close()
		n, _ := io.Copy(io.Discard, f)
		if n != size {
			t.Errorf("received %d bytes, want %d", n, size)
		}
		if got := r.FormValue("fileName"); got != "large.jpg" {
			t.Errorf("fileName = %q", got)
		}
		io.WriteString(w, `{"code":200,"data":{"fileUrl":"https://files.example/large.jpg"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	got, err := c.UploadAsset(context.Background(), path)
	if err != nil {
		t.Fatalf("UploadAsset: %v", err)
	}
	if got != "https://files.example/large.jpg" {
		t.Errorf("url = %q", got)
	}
}
