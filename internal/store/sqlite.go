package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mageframe/video-kit/internal/model"

	_ "modernc.org/sqlite"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id            TEXT PRIMARY KEY,
    model         TEXT NOT NULL,
    fighter1      TEXT NOT NULL DEFAULT '',
    fighter2      TEXT NOT NULL DEFAULT '',
    prompt        TEXT NOT NULL,
    image_source  TEXT NOT NULL,
    options       TEXT NOT NULL DEFAULT '{}',
    video_params  TEXT NOT NULL DEFAULT '{}',
    status        TEXT NOT NULL,
    task_id       TEXT NOT NULL DEFAULT '',
    video_url     TEXT NOT NULL DEFAULT '',
    thumbnail_url TEXT NOT NULL DEFAULT '',
    cost          REAL NOT NULL DEFAULT 0,
    error         TEXT NOT NULL DEFAULT '',
    created_at    TEXT NOT NULL,
    updated_at    TEXT,
    completed_at  TEXT
)`

const createJobsActivityIndex = `
CREATE INDEX IF NOT EXISTS idx_jobs_activity ON jobs (COALESCE(updated_at, created_at))`

const jobColumns = `id, model, fighter1, fighter2, prompt, image_source, options,
	video_params, status, task_id, video_url, thumbnail_url, cost, error,
	created_at, updated_at, completed_at`

// timeLayout is fixed width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite. All access goes through a single
// connection, which serializes writers.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithLogger sets the logger used to report skipped rows.
func WithLogger(l *slog.Logger) Option {
	return func(s *SQLiteStore) { s.logger = l }
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createJobsTable, createJobsActivityIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate jobs table: %w", err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		logger: slog.New(slog.DiscardHandler),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateJob inserts a new job record.
func (s *SQLiteStore) CreateJob(ctx context.Context, j *model.Job) error {
	args, err := jobArgs(j)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ListJobs returns all jobs ordered by updated_at DESC, falling back to
// created_at for jobs that were never updated. Rows whose JSON columns cannot
// be decoded are skipped and logged.
func (s *SQLiteStore) ListJobs(ctx context.Context) ([]*model.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		ORDER BY COALESCE(updated_at, created_at) DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*model.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		var decodeErr *decodeError
		if errors.As(err, &decodeErr) {
			s.logger.Warn("skipping unreadable job row", "job_id", decodeErr.id, "error", decodeErr.err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// UpdateJob applies patch inside a transaction. The transition is validated
// against model.ValidTransition, updated_at is always refreshed, completed_at
// is set only when entering completed and error only when entering failed.
func (s *SQLiteStore) UpdateJob(ctx context.Context, id string, patch model.JobPatch) (*model.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update tx: %w", err)
	}
	defer tx.Rollback()

	j, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job for update: %w", err)
	}

	if err := applyPatch(j, patch, s.now()); err != nil {
		return nil, err
	}

	args, err := jobArgs(j)
	if err != nil {
		return nil, err
	}
	// jobArgs leads with the id; the UPDATE wants it last.
	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET model = ?, fighter1 = ?, fighter2 = ?, prompt = ?,
			image_source = ?, options = ?, video_params = ?, status = ?, task_id = ?,
			video_url = ?, thumbnail_url = ?, cost = ?, error = ?, created_at = ?,
			updated_at = ?, completed_at = ?
		WHERE id = ?`,
		append(args[1:], j.ID)...,
	)
	if err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return j, nil
}

func applyPatch(j *model.Job, patch model.JobPatch, now time.Time) error {
	if j.Status.Terminal() {
		return fmt.Errorf("%w: job %s is already %s", ErrInvalidTransition, j.ID, j.Status)
	}

	if patch.Status != nil && *patch.Status != j.Status {
		if !model.ValidTransition(j.Status, *patch.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, *patch.Status)
		}
		j.Status = *patch.Status
	}
	if patch.TaskID != nil {
		j.TaskID = *patch.TaskID
	}
	if patch.VideoURL != nil {
		j.VideoURL = *patch.VideoURL
	}
	if patch.ThumbnailURL != nil {
		j.ThumbnailURL = *patch.ThumbnailURL
	}

	j.UpdatedAt = &now
	switch j.Status {
	case model.StatusCompleted:
		j.CompletedAt = &now
		j.Error = ""
	case model.StatusFailed:
		j.CompletedAt = nil
		j.Error = "job failed"
		if patch.Error != nil && *patch.Error != "" {
			j.Error = *patch.Error
		}
	default:
		j.CompletedAt = nil
		j.Error = ""
	}
	return nil
}

// DeleteJob removes a job record.
func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ImportJobs inserts every job whose id is not already stored. Jobs with an
// unknown status are skipped and logged.
func (s *SQLiteStore) ImportJobs(ctx context.Context, jobs map[string]*model.Job) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import tx: %w", err)
	}
	defer tx.Rollback()

	imported := 0
	for id, j := range jobs {
		if j.ID == "" {
			j.ID = id
		}
		if !j.Status.Valid() {
			s.logger.Warn("skipping job with unknown status", "job_id", j.ID, "status", j.Status)
			continue
		}
		args, err := jobArgs(j)
		if err != nil {
			return 0, err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			args...,
		)
		if err != nil {
			return 0, fmt.Errorf("import job %s: %w", j.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			imported++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return imported, nil
}

// GetJobStats returns aggregate counts and the summed estimated cost.
func (s *SQLiteStore) GetJobStats(ctx context.Context) (*JobStats, error) {
	stats := &JobStats{
		CountByStatus: make(map[model.Status]int),
		CountByModel:  make(map[model.Backend]int),
	}

	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(cost), 0) FROM jobs",
	).Scan(&stats.Total, &stats.TotalCost); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}

	if err := s.countBy(ctx, "status", func(k string, n int) {
		stats.CountByStatus[model.Status(k)] = n
	}); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "model", func(k string, n int) {
		stats.CountByModel[model.Backend(k)] = n
	}); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *SQLiteStore) countBy(ctx context.Context, column string, fn func(string, int)) error {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s, COUNT(*) FROM jobs GROUP BY %s", column, column),
	)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		fn(key, n)
	}
	return rows.Err()
}

// decodeError marks a row whose stored JSON could not be decoded.
type decodeError struct {
	id  string
	err error
}

func (e *decodeError) Error() string {
	return fmt.Sprintf("decode job %s: %v", e.id, e.err)
}

func (e *decodeError) Unwrap() error { return e.err }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		j                      model.Job
		options, params        string
		createdAt              string
		updatedAt, completedAt sql.NullString
	)
	if err := row.Scan(
		&j.ID, &j.Model, &j.Fighter1, &j.Fighter2, &j.Prompt, &j.ImageSource, &options,
		&params, &j.Status, &j.TaskID, &j.VideoURL, &j.ThumbnailURL, &j.Cost, &j.Error,
		&createdAt, &updatedAt, &completedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(options), &j.Options); err != nil {
		return nil, &decodeError{id: j.ID, err: fmt.Errorf("options: %w", err)}
	}
	if err := json.Unmarshal([]byte(params), &j.VideoParams); err != nil {
		return nil, &decodeError{id: j.ID, err: fmt.Errorf("video_params: %w", err)}
	}

	var err error
	if j.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, &decodeError{id: j.ID, err: fmt.Errorf("created_at: %w", err)}
	}
	if j.UpdatedAt, err = parseNullTime(updatedAt); err != nil {
		return nil, &decodeError{id: j.ID, err: fmt.Errorf("updated_at: %w", err)}
	}
	if j.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, &decodeError{id: j.ID, err: fmt.Errorf("completed_at: %w", err)}
	}
	return &j, nil
}

// jobArgs returns the column values of j in jobColumns order.
func jobArgs(j *model.Job) ([]any, error) {
	options := j.Options
	if options == nil {
		options = map[string]bool{}
	}
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}
	paramsJSON, err := json.Marshal(j.VideoParams)
	if err != nil {
		return nil, fmt.Errorf("encode video params: %w", err)
	}
	return []any{
		j.ID, string(j.Model), j.Fighter1, j.Fighter2, j.Prompt, j.ImageSource, string(optionsJSON),
		string(paramsJSON), string(j.Status), j.TaskID, j.VideoURL, j.ThumbnailURL, j.Cost, j.Error,
		formatTime(j.CreatedAt), formatNullTime(j.UpdatedAt), formatNullTime(j.CompletedAt),
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
