package blob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestFS(t *testing.T) *LocalFS {
	t.Helper()
	l, err := NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS: %v", err)
	}
	return l
}

func TestNewLocalFSRequiresRoot(t *testing.T) {
	if _, err := NewLocalFS("  "); err == nil {
		t.Error("expected error for blank root")
	}
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"videos/abc/video.mp4", "videos/abc/video.mp4", false},
		{"/videos/abc", "videos/abc", false},
		{"./a/../b", "b", false},
		{`videos\abc`, "videos/abc", false},
		{"", "", true},
		{"..", "", true},
		{"../etc/passwd", "", true},
		{"a/../../b", "", true},
		{".", "", true},
	}
	for _, tt := range tests {
		got, err := sanitizeKey(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("sanitizeKey(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("sanitizeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPutReadAndExists(t *testing.T) {
	l := newTestFS(t)
	ctx := context.Background()

	n, err := l.Put(ctx, "videos/j1/video.mp4", strings.NewReader("frames"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if n != 6 {
		t.Errorf("n = %d, want 6", n)
	}
	if !l.Exists("videos/j1/video.mp4") || !l.Exists("videos/j1") {
		t.Error("Exists = false after Put")
	}

	data, err := l.ReadFile("videos/j1/video.mp4")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "frames" {
		t.Errorf("data = %q", data)
	}
}

func TestPutCanceledContext(t *testing.T) {
	l := newTestFS(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := l.Put(ctx, "a.txt", strings.NewReader("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("Put error = %v, want context.Canceled", err)
	}
	if l.Exists("a.txt") {
		t.Error("file created despite canceled context")
	}
}

func TestEscapingKeyRejected(t *testing.T) {
	l := newTestFS(t)

	if err := l.WriteFile(context.Background(), "../outside.txt", []byte("x")); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("WriteFile error = %v, want ErrInvalidKey", err)
	}
	if l.Exists("../outside.txt") {
		t.Error("Exists reported escaping key")
	}
}

func TestRemoveAll(t *testing.T) {
	l := newTestFS(t)
	ctx := context.Background()
	for _, key := range []string{"videos/j1/video.mp4", "videos/j1/thumbnail.jpg", "videos/j2/video.mp4"} {
		if err := l.WriteFile(ctx, key, []byte("x")); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	existed, err := l.RemoveAll("videos/j1")
	if err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	if !existed {
		t.Error("existed = false, want true")
	}
	if l.Exists("videos/j1") {
		t.Error("directory still present")
	}
	if !l.Exists("videos/j2/video.mp4") {
		t.Error("sibling directory removed")
	}

	existed, err = l.RemoveAll("videos/j1")
	if err != nil || existed {
		t.Errorf("second RemoveAll = %v, %v; want false, nil", existed, err)
	}
}

func TestListNewestFirst(t *testing.T) {
	l := newTestFS(t)
	ctx := context.Background()

	old := time.Now().Add(-time.Hour)
	for _, name := range []string{"old.png", "new.jpg"} {
		if err := l.WriteFile(ctx, "custom-images/"+name, []byte(name)); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	p, _ := l.Path("custom-images/old.png")
	if err := os.Chtimes(p, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	if err := l.MkdirAll("custom-images/subdir"); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	entries, err := l.List("custom-images")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2 (directories excluded)", len(entries))
	}
	if entries[0].Key != "custom-images/new.jpg" || entries[1].Key != "custom-images/old.png" {
		t.Errorf("order = %s, %s", entries[0].Key, entries[1].Key)
	}
}

func TestListMissingDirectory(t *testing.T) {
	l := newTestFS(t)

	entries, err := l.List("nothing-here")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %v, want empty", entries)
	}
}

func TestPathStaysUnderRoot(t *testing.T) {
	l := newTestFS(t)

	p, err := l.Path("/videos/../videos/x")
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if want := filepath.Join(l.Root(), "videos", "x"); p != want {
		t.Errorf("Path = %q, want %q", p, want)
	}
}
