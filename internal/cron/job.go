package cron

import (
	"time"
)

// Job represents a scheduled preprocessing task: render InputPath into
// OutputPath on Schedule, using GrammarPath's grammar (empty means the
// built-in default).
type Job struct {
	// Name is the unique identifier for the job.
	Name string `json:"name" db:"name"`
	// Schedule is the cron expression (e.g., "0 * * * *" for hourly).
	Schedule string `json:"schedule" db:"schedule"`
	// InputPath is the template file to preprocess.
	InputPath string `json:"input_path" db:"input_path"`
	// OutputPath is where the rendered output is written.
	OutputPath string `json:"output_path" db:"output_path"`
	// GrammarPath is an optional custom grammar definition; empty uses
	// the built-in default grammar.
	GrammarPath string `json:"grammar_path,omitempty" db:"grammar_path"`
	// Enabled indicates if the job is active.
	Enabled bool `json:"enabled" db:"enabled"`
	// LastRun is the timestamp of the last execution.
	LastRun *time.Time `json:"last_run,omitempty" db:"last_run"`
	// NextRun is the scheduled time for the next execution.
	NextRun *time.Time `json:"next_run,omitempty" db:"next_run"`
	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	// UpdatedAt is when the job was last modified.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// JobCreate is the input for creating a new job.
type JobCreate struct {
	Name        string `json:"name"`
	Schedule    string `json:"schedule"`
	InputPath   string `json:"input_path"`
	OutputPath  string `json:"output_path"`
	GrammarPath string `json:"grammar_path,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Validate checks if the create input is valid.
func (c *JobCreate) Validate() error {
	if c.Name == "" {
		return &InvalidScheduleError{Message: "name is required"}
	}
	if c.Schedule == "" {
		return &InvalidScheduleError{Message: "schedule is required"}
	}
	if c.InputPath == "" {
		return &InvalidScheduleError{Message: "input_path is required"}
	}
	if c.OutputPath == "" {
		return &InvalidScheduleError{Message: "output_path is required"}
	}
	return nil
}

// JobPatch is the input for updating a job.
type JobPatch struct {
	Schedule    *string `json:"schedule,omitempty"`
	InputPath   *string `json:"input_path,omitempty"`
	OutputPath  *string `json:"output_path,omitempty"`
	GrammarPath *string `json:"grammar_path,omitempty"`
	Enabled     *bool   `json:"enabled,omitempty"`
}

// HistoryStatus represents the execution status of a job run.
type HistoryStatus string

const (
	// StatusRunning indicates the job is currently executing.
	StatusRunning HistoryStatus = "running"
	// StatusSuccess indicates the job completed successfully.
	StatusSuccess HistoryStatus = "success"
	// StatusFailed indicates the job failed.
	StatusFailed HistoryStatus = "failed"
)

// HistoryEntry represents a single execution of a job.
type HistoryEntry struct {
	// ID is the unique identifier for this execution.
	ID int64 `json:"id" db:"id"`
	// JobName is the name of the job that was executed.
	JobName string `json:"job_name" db:"job_name"`
	// StartedAt is when execution started.
	StartedAt time.Time `json:"started_at" db:"started_at"`
	// FinishedAt is when execution completed (nil if still running).
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	// Status is the current execution status.
	Status HistoryStatus `json:"status" db:"status"`
	// Result contains a short summary of the render (e.g. the output path written).
	Result string `json:"result,omitempty" db:"result"`
	// Error contains the error message (if failed).
	Error string `json:"error,omitempty" db:"error"`
	// RetryCount is the number of retry attempts made.
	RetryCount int `json:"retry_count" db:"retry_count"`
}
