package model

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a generation job.
type Status string

// Job status constants.
const (
	StatusPending     Status = "pending"
	StatusUploading   Status = "uploading"
	StatusGenerating  Status = "generating"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Statuses lists every status a job can hold, in lifecycle order.
var Statuses = []Status{
	StatusPending,
	StatusUploading,
	StatusGenerating,
	StatusDownloading,
	StatusCompleted,
	StatusFailed,
}

// Terminal reports whether no further transitions may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// validTransitions maps each status to the set of statuses it may transition to.
// Terminal statuses have no entry.
var validTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusUploading:  true,
		StatusGenerating: true,
		StatusFailed:     true,
	},
	StatusUploading: {
		StatusGenerating: true,
		StatusFailed:     true,
	},
	StatusGenerating: {
		StatusDownloading: true,
		StatusFailed:      true,
	},
	StatusDownloading: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to Status) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Backend identifies which provider generation strategy serves a job.
type Backend string

const (
	// BackendRunway is the generic backend taking a flat request payload.
	BackendRunway Backend = "runway"
	// BackendSora2 is the frame-count backend taking a nested "input" payload.
	BackendSora2 Backend = "sora2"
)

// DefaultBackend is used when a request does not name a model.
const DefaultBackend = BackendSora2

// ParseBackend maps a request's model tag to a Backend. An empty tag selects
// DefaultBackend.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case "":
		return DefaultBackend, nil
	case BackendRunway, BackendSora2:
		return Backend(s), nil
	default:
		return "", fmt.Errorf("unknown model %q", s)
	}
}

// Image sources.
const (
	ImageSourceCustom = "custom"
	ImageSourceNone   = "none"
)

// Video parameter defaults.
const (
	DefaultDuration    = 5
	DefaultQuality     = "720p"
	DefaultAspectRatio = "16:9"
)

// VideoParams describes the requested output video.
type VideoParams struct {
	Duration    int    `json:"duration"`
	Quality     string `json:"quality"`
	AspectRatio string `json:"aspectRatio"`
}

// WithDefaults returns p with unset fields filled from the package defaults.
func (p VideoParams) WithDefaults() VideoParams {
	if p.Duration <= 0 {
		p.Duration = DefaultDuration
	}
	if p.Quality == "" {
		p.Quality = DefaultQuality
	}
	if p.AspectRatio == "" {
		p.AspectRatio = DefaultAspectRatio
	}
	return p
}

// Job is a single request to produce one video, tracked end to end.
type Job struct {
	ID           string          `json:"id"`
	Model        Backend         `json:"model"`
	Fighter1     string          `json:"fighter1,omitempty"`
	Fighter2     string          `json:"fighter2,omitempty"`
	Prompt       string          `json:"prompt"`
	ImageSource  string          `json:"imageSource"`
	Options      map[string]bool `json:"options"`
	VideoParams  VideoParams     `json:"videoParams"`
	Status       Status          `json:"status"`
	TaskID       string          `json:"taskId,omitempty"`
	VideoURL     string          `json:"videoUrl,omitempty"`
	ThumbnailURL string          `json:"thumbnailUrl,omitempty"`
	Cost         float64         `json:"cost"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    *time.Time      `json:"updatedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
}

// LastActivity returns UpdatedAt, falling back to CreatedAt for records that
// were never updated.
func (j *Job) LastActivity() time.Time {
	if j.UpdatedAt != nil {
		return *j.UpdatedAt
	}
	return j.CreatedAt
}

// JobPatch describes a partial update to a job. Nil fields are left untouched.
type JobPatch struct {
	Status       *Status
	TaskID       *string
	VideoURL     *string
	ThumbnailURL *string
	Error        *string
}

// Ptr returns a pointer to v. It keeps JobPatch literals short.
func Ptr[T any](v T) *T {
	return &v
}
