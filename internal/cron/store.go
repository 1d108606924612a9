package cron

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// JobStore handles persistence of cron jobs.
type JobStore struct {
	db *sql.DB
}

// NewJobStore creates a new job store.
func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

// Create inserts a new job into the database.
func (s *JobStore) Create(job *JobCreate) (*Job, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	inputPath, err := validateAndNormalizeInput(job.InputPath)
	if err != nil {
		return nil, err
	}
	outputPath, err := filepath.Abs(job.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("invalid output path: %w", err)
	}

	now := time.Now()
	result := &Job{
		Name:        job.Name,
		Schedule:    job.Schedule,
		InputPath:   inputPath,
		OutputPath:  outputPath,
		GrammarPath: job.GrammarPath,
		Enabled:     job.Enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	query := `
		INSERT INTO cron_jobs (name, schedule, input_path, output_path, grammar_path, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(query, result.Name, result.Schedule, result.InputPath, result.OutputPath,
		nullString(result.GrammarPath), result.Enabled, result.CreatedAt, result.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	return result, nil
}

// Get retrieves a job by name.
func (s *JobStore) Get(name string) (*Job, error) {
	query := `
		SELECT name, schedule, input_path, output_path, grammar_path, enabled, last_run, next_run, created_at, updated_at
		FROM cron_jobs
		WHERE name = ?
	`
	row := s.db.QueryRow(query, name)

	var job Job
	var grammarPath sql.NullString
	err := row.Scan(&job.Name, &job.Schedule, &job.InputPath, &job.OutputPath, &grammarPath,
		&job.Enabled, &job.LastRun, &job.NextRun, &job.CreatedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	if grammarPath.Valid {
		job.GrammarPath = grammarPath.String
	}

	return &job, nil
}

// Update modifies an existing job.
func (s *JobStore) Update(name string, patch *JobPatch) (*Job, error) {
	existing, err := s.Get(name)
	if err != nil {
		return nil, err
	}

	if patch.Schedule != nil {
		existing.Schedule = *patch.Schedule
	}
	if patch.InputPath != nil {
		normalized, err := validateAndNormalizeInput(*patch.InputPath)
		if err != nil {
			return nil, err
		}
		existing.InputPath = normalized
	}
	if patch.OutputPath != nil {
		abs, err := filepath.Abs(*patch.OutputPath)
		if err != nil {
			return nil, fmt.Errorf("invalid output path: %w", err)
		}
		existing.OutputPath = abs
	}
	if patch.GrammarPath != nil {
		existing.GrammarPath = *patch.GrammarPath
	}
	if patch.Enabled != nil {
		existing.Enabled = *patch.Enabled
	}
	existing.UpdatedAt = time.Now()

	query := `
		UPDATE cron_jobs
		SET schedule = ?, input_path = ?, output_path = ?, grammar_path = ?, enabled = ?, updated_at = ?
		WHERE name = ?
	`
	_, err = s.db.Exec(query, existing.Schedule, existing.InputPath, existing.OutputPath,
		nullString(existing.GrammarPath), existing.Enabled, existing.UpdatedAt, name)
	if err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}

	return existing, nil
}

// Delete removes a job by name.
func (s *JobStore) Delete(name string) error {
	query := `DELETE FROM cron_jobs WHERE name = ?`
	result, err := s.db.Exec(query, name)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrJobNotFound
	}

	return nil
}

// List retrieves all jobs.
func (s *JobStore) List() ([]*Job, error) {
	return s.query(`
		SELECT name, schedule, input_path, output_path, grammar_path, enabled, last_run, next_run, created_at, updated_at
		FROM cron_jobs
		ORDER BY name
	`)
}

// ListEnabled retrieves all enabled jobs.
func (s *JobStore) ListEnabled() ([]*Job, error) {
	return s.query(`
		SELECT name, schedule, input_path, output_path, grammar_path, enabled, last_run, next_run, created_at, updated_at
		FROM cron_jobs
		WHERE enabled = 1
		ORDER BY next_run
	`)
}

func (s *JobStore) query(query string, args ...any) ([]*Job, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var job Job
		var grammarPath sql.NullString
		err := rows.Scan(&job.Name, &job.Schedule, &job.InputPath, &job.OutputPath, &grammarPath,
			&job.Enabled, &job.LastRun, &job.NextRun, &job.CreatedAt, &job.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		if grammarPath.Valid {
			job.GrammarPath = grammarPath.String
		}
		jobs = append(jobs, &job)
	}

	return jobs, rows.Err()
}

// UpdateLastRun updates the last_run and next_run timestamps.
func (s *JobStore) UpdateLastRun(name string, lastRun, nextRun time.Time) error {
	query := `
		UPDATE cron_jobs
		SET last_run = ?, next_run = ?, updated_at = ?
		WHERE name = ?
	`
	_, err := s.db.Exec(query, lastRun, nextRun, time.Now(), name)
	if err != nil {
		return fmt.Errorf("update last run: %w", err)
	}
	return nil
}

// validateAndNormalizeInput resolves path to an absolute path and checks
// that it names an existing file (not a directory — spec.md
// §6's ErrDirectory condition applies here too).
func validateAndNormalizeInput(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid input path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("input path does not exist: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("input path is a directory: %s", absPath)
	}

	return absPath, nil
}

// nullString converts empty string to NULL for SQL.
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
