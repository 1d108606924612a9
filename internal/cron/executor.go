package cron

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"pyp/internal/grammar"
	"pyp/internal/jsvm"
	"pyp/internal/scanner"
)

// Executor handles running cron jobs: each run reads job.InputPath,
// preprocesses it through the job's grammar (built-in default unless
// GrammarPath names a custom YAML definition) against runtime's
// evaluator bindings, and writes the result to job.OutputPath.
type Executor struct {
	historyStore *HistoryStore
	runtime      *jsvm.Runtime
	retryPolicy  RetryPolicy
	timeout      time.Duration
	logger       zerolog.Logger
	db           *sql.DB
}

// ExecutorConfig holds configuration for the executor.
type ExecutorConfig struct {
	Timeout     time.Duration
	RetryPolicy RetryPolicy
}

// DefaultExecutorConfig returns default executor configuration.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Timeout:     30 * time.Minute,
		RetryPolicy: DefaultRetryPolicy(),
	}
}

// NewExecutor creates a new job executor. runtime supplies the
// pyp.include/pyp.write evaluator bindings a rendered job's code and
// expression regions run against. db is the storage handle used to
// record grammar-build fingerprints across a scheduled job's repeated
// runs (spec.md §9.9); it may be nil, in which case jobGrammar falls
// back to an uncached build.
func NewExecutor(historyStore *HistoryStore, runtime *jsvm.Runtime, cfg ExecutorConfig, logger zerolog.Logger, db *sql.DB) *Executor {
	return &Executor{
		historyStore: historyStore,
		runtime:      runtime,
		retryPolicy:  cfg.RetryPolicy,
		timeout:      cfg.Timeout,
		logger:       logger,
		db:           db,
	}
}

// ExecuteResult holds the result of job execution.
type ExecuteResult struct {
	Success   bool
	Result    string
	Error     error
	Retries   int
	Duration  time.Duration
	HistoryID int64
}

// Execute renders a job and records the result in history.
func (e *Executor) Execute(ctx context.Context, job *Job) *ExecuteResult {
	startTime := time.Now()

	entry, err := e.historyStore.StartExecution(job.Name)
	if err != nil {
		e.logger.Error().Err(err).Str("job", job.Name).Msg("failed to create history entry")
		return &ExecuteResult{Success: false, Error: err}
	}

	result, execErr, retries := e.executeWithRetry(ctx, job)

	if err := e.historyStore.FinishExecution(entry, result, execErr); err != nil {
		e.logger.Error().Err(err).Str("job", job.Name).Msg("failed to update history entry")
	}

	return &ExecuteResult{
		Success:   execErr == nil,
		Result:    result,
		Error:     execErr,
		Retries:   retries,
		Duration:  time.Since(startTime),
		HistoryID: entry.ID,
	}
}

// deriveCronSessionID generates the session ID that GetExecutingJobs
// reports for a running cron job.
func deriveCronSessionID(jobName string) string {
	return "cron-" + jobName
}

// executeWithRetry handles retry logic around executeOnce.
func (e *Executor) executeWithRetry(ctx context.Context, job *Job) (string, error, int) {
	var lastErr error
	var result string

	for attempt := 0; attempt <= e.retryPolicy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := e.retryPolicy.NextDelay(attempt - 1)
			select {
			case <-ctx.Done():
				return "", ctx.Err(), attempt
			case <-time.After(delay):
			}
		}

		result, lastErr = e.executeOnce(ctx, job)
		if lastErr == nil {
			return result, nil, attempt
		}

		if !e.retryPolicy.ShouldRetry(attempt, lastErr) {
			return "", lastErr, attempt
		}

		e.logger.Warn().
			Err(lastErr).
			Str("job", job.Name).
			Int("attempt", attempt+1).
			Msg("job execution failed, retrying")
	}

	return "", lastErr, e.retryPolicy.MaxAttempts
}

// executeOnce renders InputPath into OutputPath once, without retry.
func (e *Executor) executeOnce(ctx context.Context, job *Job) (string, error) {
	_, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	in, err := os.Open(job.InputPath)
	if err != nil {
		return "", NonRetryable(fmt.Errorf("open input: %w", err))
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(job.OutputPath), 0o755); err != nil {
		return "", NonRetryable(fmt.Errorf("create output dir: %w", err))
	}
	out, err := os.Create(job.OutputPath)
	if err != nil {
		return "", NonRetryable(fmt.Errorf("create output: %w", err))
	}
	defer out.Close()

	g, err := e.jobGrammar(job)
	if err != nil {
		return "", NonRetryable(fmt.Errorf("load grammar: %w", err))
	}

	ec := &jsvm.ExecContext{
		Grammar:      g,
		Settings:     scanner.DefaultSettings(),
		SourceDir:    filepath.Dir(job.InputPath),
		AllowedPaths: []string{filepath.Dir(job.InputPath)},
	}

	var errBuf errWriter
	s := scanner.New(in, g, ec.Settings, out, &errBuf, ec)
	if err := s.Run(); err != nil {
		return "", fmt.Errorf("render %s: %w", job.Name, err)
	}
	if errBuf.Len() > 0 {
		return "", fmt.Errorf("render %s: %s", job.Name, errBuf.String())
	}

	return fmt.Sprintf("wrote %s", job.OutputPath), nil
}

// jobGrammar resolves the grammar a job renders with: the built-in
// default wired to this Executor's evaluator runtime, or a custom
// YAML-defined grammar (job.GrammarPath) wired the same way.
func (e *Executor) jobGrammar(job *Job) (*grammar.Grammar, error) {
	hooks := grammar.Hooks{Block: e.runtime.TransformBlock, Expr: e.runtime.TransformExpr}

	if job.GrammarPath == "" {
		root := grammar.Default(hooks, false)
		return grammar.BuildCached(e.db, root, false)
	}

	spec, err := grammar.LoadFile(job.GrammarPath)
	if err != nil {
		return nil, err
	}
	regionHooks := grammar.RegionHooks{}
	for _, r := range spec.Regions {
		regionHooks[r.Name] = e.runtime.TransformBlock
	}
	root, err := spec.Build(regionHooks, nil)
	if err != nil {
		return nil, err
	}
	return grammar.BuildCached(e.db, root, spec.Continuations)
}

// errWriter accumulates scanner error output for executeOnce.
type errWriter struct {
	buf []byte
}

func (w *errWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}
func (w *errWriter) Len() int       { return len(w.buf) }
func (w *errWriter) String() string { return string(w.buf) }

var _ io.Writer = (*errWriter)(nil)
