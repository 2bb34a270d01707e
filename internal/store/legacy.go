package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mageframe/video-kit/internal/model"
)

// LedgerFileName is the name of the single-document ledger kept by earlier
// releases in the data directory.
const LedgerFileName = "jobs.json"

// ErrCorruptLedger is returned alongside an empty result when a ledger
// document exists but cannot be decoded.
var ErrCorruptLedger = errors.New("corrupt ledger document")

// legacyTimeLayouts are tried in order. Earlier releases wrote naive UTC
// ISO-8601 timestamps without a zone designator.
var legacyTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// ledgerRecord is one job as written to a ledger document. Timestamps and
// video parameters are decoded loosely, and the task id is also accepted under
// its older kieTaskId name.
type ledgerRecord struct {
	ID           string          `json:"id"`
	Model        string          `json:"model"`
	Fighter1     string          `json:"fighter1"`
	Fighter2     string          `json:"fighter2"`
	Prompt       string          `json:"prompt"`
	ImageSource  string          `json:"imageSource"`
	Options      map[string]bool `json:"options"`
	VideoParams  map[string]any  `json:"videoParams"`
	Status       string          `json:"status"`
	TaskID       string          `json:"taskId"`
	KieTaskID    string          `json:"kieTaskId"`
	VideoURL     string          `json:"videoUrl"`
	ThumbnailURL string          `json:"thumbnailUrl"`
	Cost         float64         `json:"cost"`
	Error        string          `json:"error"`
	CreatedAt    string          `json:"createdAt"`
	UpdatedAt    string          `json:"updatedAt"`
	CompletedAt  string          `json:"completedAt"`
}

// ReadLedgerFile loads a ledger document mapping job id to job. A missing file
// yields an empty map. An unreadable or corrupt document also yields an empty
// map, together with an error wrapping ErrCorruptLedger that the caller is
// expected to log. Individual records that cannot be converted are dropped and
// reported the same way.
func ReadLedgerFile(path string) (map[string]*model.Job, error) {
	jobs := make(map[string]*model.Job)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return jobs, nil
	}
	if err != nil {
		return jobs, fmt.Errorf("%w: %v", ErrCorruptLedger, err)
	}

	var records map[string]ledgerRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return jobs, fmt.Errorf("%w: %v", ErrCorruptLedger, err)
	}

	var errs []error
	for id, rec := range records {
		j, err := rec.toJob(id)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: job %s: %v", ErrCorruptLedger, id, err))
			continue
		}
		jobs[j.ID] = j
	}
	return jobs, errors.Join(errs...)
}

// WriteLedgerFile writes jobs as a single ledger document. The file is
// replaced atomically.
func WriteLedgerFile(path string, jobs map[string]*model.Job) error {
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".ledger-*")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

func (r ledgerRecord) toJob(key string) (*model.Job, error) {
	j := &model.Job{
		ID:           r.ID,
		Model:        model.Backend(r.Model),
		Fighter1:     r.Fighter1,
		Fighter2:     r.Fighter2,
		Prompt:       r.Prompt,
		ImageSource:  r.ImageSource,
		Options:      r.Options,
		Status:       model.Status(r.Status),
		TaskID:       r.TaskID,
		VideoURL:     r.VideoURL,
		ThumbnailURL: r.ThumbnailURL,
		Cost:         r.Cost,
		Error:        r.Error,
	}
	if j.ID == "" {
		j.ID = key
	}
	if j.TaskID == "" {
		j.TaskID = r.KieTaskID
	}
	if j.Model == "" {
		j.Model = model.DefaultBackend
	}
	if j.Options == nil {
		j.Options = map[string]bool{}
	}
	j.VideoParams = parseVideoParams(r.VideoParams)

	created, err := parseLegacyTime(r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("createdAt: %w", err)
	}
	if created == nil {
		ts, ok := model.IDTime(j.ID)
		if !ok {
			return nil, errors.New("createdAt is missing")
		}
		created = &ts
	}
	j.CreatedAt = created.UTC()

	if j.UpdatedAt, err = parseLegacyTime(r.UpdatedAt); err != nil {
		return nil, fmt.Errorf("updatedAt: %w", err)
	}
	if j.CompletedAt, err = parseLegacyTime(r.CompletedAt); err != nil {
		return nil, fmt.Errorf("completedAt: %w", err)
	}
	return j, nil
}

func parseLegacyTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range legacyTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized timestamp %q", s)
}

// parseVideoParams accepts numbers or numeric strings for duration.
func parseVideoParams(m map[string]any) model.VideoParams {
	var p model.VideoParams
	switch d := m["duration"].(type) {
	case float64:
		p.Duration = int(d)
	case string:
		p.Duration, _ = strconv.Atoi(d)
	}
	p.Quality, _ = m["quality"].(string)
	p.AspectRatio, _ = m["aspectRatio"].(string)
	return p.WithDefaults()
}
