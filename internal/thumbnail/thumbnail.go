// Package thumbnail derives a still preview frame from a downloaded video.
package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// FileName is the preview image written next to the video.
const FileName = "thumbnail.jpg"

const (
	defaultBin     = "ffmpeg"
	defaultTimeout = 30 * time.Second
	maxStderr      = 512
)

// ErrEmptyFrame is returned when the extractor exits cleanly but produces no image.
var ErrEmptyFrame = errors.New("thumbnail: no frame written")

// Extractor writes the first frame of videoPath to outPath as an image.
type Extractor interface {
	ExtractFrame(ctx context.Context, videoPath, outPath string) error
}

// FFmpeg extracts frames by running the ffmpeg binary.
type FFmpeg struct {
	bin     string
	timeout time.Duration
}

// NewFFmpeg returns an extractor running bin, or "ffmpeg" from PATH when bin
// is empty.
func NewFFmpeg(bin string) *FFmpeg {
	if strings.TrimSpace(bin) == "" {
		bin = defaultBin
	}
	return &FFmpeg{bin: bin, timeout: defaultTimeout}
}

// Check reports whether the binary can be found.
func (f *FFmpeg) Check() error {
	if _, err := exec.LookPath(f.bin); err != nil {
		return fmt.Errorf("thumbnail: %s not found: %w", f.bin, err)
	}
	return nil
}

// ExtractFrame decodes the first video frame and writes it as a JPEG.
func (f *FFmpeg) ExtractFrame(ctx context.Context, videoPath, outPath string) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.bin,
		"-y", "-loglevel", "error",
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > maxStderr {
			msg = msg[:maxStderr]
		}
		if msg != "" {
			return fmt.Errorf("thumbnail: ffmpeg: %w: %s", err, msg)
		}
		return fmt.Errorf("thumbnail: ffmpeg: %w", err)
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		return ErrEmptyFrame
	}
	return nil
}

// ExtractPreviewFrame writes the preview frame of videoPath to FileName in
// the same directory and returns its path. Partial output is removed on
// failure.
func ExtractPreviewFrame(ctx context.Context, x Extractor, videoPath string) (string, error) {
	out := filepath.Join(filepath.Dir(videoPath), FileName)
	if err := x.ExtractFrame(ctx, videoPath, out); err != nil {
		os.Remove(out)
		return "", err
	}
	return out, nil
}
