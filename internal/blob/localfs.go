// Package blob stores job artifacts and image assets on the local filesystem,
// addressed by slash-separated keys relative to a root directory.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrInvalidKey is returned for keys that are empty or escape the root.
var ErrInvalidKey = errors.New("blob: invalid key")

// Entry describes a stored file.
type Entry struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// LocalFS is a hierarchical store rooted at a directory.
type LocalFS struct {
	root string
}

// NewLocalFS creates the root directory if needed and returns a store over it.
func NewLocalFS(root string) (*LocalFS, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("blob: root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blob: ensure root: %w", err)
	}
	return &LocalFS{root: root}, nil
}

// Root returns the root directory.
func (l *LocalFS) Root() string {
	return l.root
}

// Path returns the absolute filesystem path for key.
func (l *LocalFS) Path(key string) (string, error) {
	clean, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(clean)), nil
}

// Put streams r into key, creating parent directories, and returns the number
// of bytes written.
func (l *LocalFS) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	abs, err := l.Path(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return 0, fmt.Errorf("blob: ensure directory: %w", err)
	}
	f, err := os.Create(abs)
	if err != nil {
		return 0, fmt.Errorf("blob: create: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(abs)
		return n, fmt.Errorf("blob: write %s: %w", key, err)
	}
	return n, nil
}

// WriteFile stores data at key, replacing any existing content.
func (l *LocalFS) WriteFile(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	abs, err := l.Path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("blob: ensure directory: %w", err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return fmt.Errorf("blob: write %s: %w", key, err)
	}
	return nil
}

// ReadFile returns the content stored at key.
func (l *LocalFS) ReadFile(key string) ([]byte, error) {
	abs, err := l.Path(key)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// Open opens key for reading.
func (l *LocalFS) Open(key string) (*os.File, error) {
	abs, err := l.Path(key)
	if err != nil {
		return nil, err
	}
	return os.Open(abs)
}

// Exists reports whether key names an existing file or directory.
func (l *LocalFS) Exists(key string) bool {
	abs, err := l.Path(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// MkdirAll creates the directory key and any missing parents.
func (l *LocalFS) MkdirAll(key string) error {
	abs, err := l.Path(key)
	if err != nil {
		return err
	}
	return os.MkdirAll(abs, 0o755)
}

// RemoveAll deletes key recursively and reports whether anything existed.
func (l *LocalFS) RemoveAll(key string) (bool, error) {
	abs, err := l.Path(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(abs); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err := os.RemoveAll(abs); err != nil {
		return true, fmt.Errorf("blob: remove %s: %w", key, err)
	}
	return true, nil
}

// List returns the regular files directly under the directory prefix, newest
// first. A missing directory yields an empty list.
func (l *LocalFS) List(prefix string) ([]Entry, error) {
	dir := l.root
	if strings.Trim(prefix, "/. ") != "" {
		p, err := l.Path(prefix)
		if err != nil {
			return nil, err
		}
		dir = p
	}

	des, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("blob: list %s: %w", prefix, err)
	}

	entries := make([]Entry, 0, len(des))
	for _, de := range des {
		if !de.Type().IsRegular() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		key := de.Name()
		if prefix != "" {
			key = strings.TrimSuffix(prefix, "/") + "/" + de.Name()
		}
		entries = append(entries, Entry{Key: key, Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ModTime.After(entries[j].ModTime)
	})
	return entries, nil
}

// sanitizeKey normalizes a key and prevents escaping the root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidKey
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
