// Package store persists generation jobs. Each job is its own row, so
// concurrent workflows updating different jobs never overwrite each other.
package store

import (
	"context"
	"errors"

	"github.com/mageframe/video-kit/internal/model"
)

var (
	// ErrNotFound is returned when a job does not exist.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a job status transition is not allowed,
	// including any update to a job that already reached a terminal status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// JobStats holds aggregate job statistics.
type JobStats struct {
	Total         int                   `json:"total"`
	CountByStatus map[model.Status]int  `json:"countByStatus"`
	CountByModel  map[model.Backend]int `json:"countByModel"`
	TotalCost     float64               `json:"totalCost"`
}

// Store defines the persistence operations for jobs.
type Store interface {
	CreateJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	// ListJobs returns every job, most recent activity first.
	ListJobs(ctx context.Context) ([]*model.Job, error)
	// UpdateJob applies patch to the job atomically and returns the stored result.
	UpdateJob(ctx context.Context, id string, patch model.JobPatch) (*model.Job, error)
	DeleteJob(ctx context.Context, id string) error
	// ImportJobs inserts jobs that are not already present and reports how many
	// were inserted.
	ImportJobs(ctx context.Context, jobs map[string]*model.Job) (int, error)
	GetJobStats(ctx context.Context) (*JobStats, error)
	Close() error
}

// LoadAll returns every stored job keyed by its identifier.
func LoadAll(ctx context.Context, s Store) (map[string]*model.Job, error) {
	jobs, err := s.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*model.Job, len(jobs))
	for _, j := range jobs {
		out[j.ID] = j
	}
	return out, nil
}
