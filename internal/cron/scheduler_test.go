package cron

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"pyp/internal/jsvm"
)

// setupSchedulerTest creates test dependencies for scheduler tests.
func setupSchedulerTest(t *testing.T) (*sql.DB, *JobStore, *HistoryStore, *Executor) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS cron_jobs (
			name TEXT PRIMARY KEY,
			schedule TEXT NOT NULL,
			input_path TEXT NOT NULL,
			output_path TEXT NOT NULL,
			grammar_path TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			last_run DATETIME,
			next_run DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cron_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_name TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			status TEXT NOT NULL,
			result TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			retry_count INTEGER NOT NULL DEFAULT 0
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("failed to create table: %v", err)
		}
	}

	logger := zerolog.Nop()
	store := NewJobStore(db)
	history := NewHistoryStore(db)

	rt := jsvm.NewRuntime(jsvm.DefaultRuntimeConfig(), logger)
	t.Cleanup(func() { rt.Close() })
	executor := NewExecutor(history, rt, DefaultExecutorConfig(), logger, nil)

	return db, store, history, executor
}

// testInputFile writes a throwaway template file under t.TempDir.
func testInputFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write input fixture: %v", err)
	}
	return path
}

func jobCreate(t *testing.T, name, schedule string) JobCreate {
	t.Helper()
	return JobCreate{
		Name:       name,
		Schedule:   schedule,
		InputPath:  testInputFile(t, name+".in"),
		OutputPath: filepath.Join(t.TempDir(), name+".out"),
		Enabled:    true,
	}
}

func TestSchedulerStartStop(t *testing.T) {
	_, store, history, executor := setupSchedulerTest(t)

	scheduler := NewScheduler(store, history, executor, nil, nil)

	ctx := context.Background()
	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := scheduler.Start(ctx); err == nil {
		t.Error("expected error starting already running scheduler")
	}

	scheduler.Stop()
	scheduler.Stop()
}

func TestSchedulerAddJob(t *testing.T) {
	_, store, history, executor := setupSchedulerTest(t)

	scheduler := NewScheduler(store, history, executor, nil, nil)
	ctx := context.Background()

	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer scheduler.Stop()

	job, err := scheduler.AddJob(ctx, jobCreate(t, "test-job", "*/5 * * * *"))
	if err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}

	if job.Name != "test-job" {
		t.Errorf("got name %q, want %q", job.Name, "test-job")
	}

	if scheduler.Entries() != 1 {
		t.Errorf("got %d entries, want 1", scheduler.Entries())
	}
}

func TestSchedulerAddJobInvalidCron(t *testing.T) {
	_, store, history, executor := setupSchedulerTest(t)

	scheduler := NewScheduler(store, history, executor, nil, nil)
	ctx := context.Background()

	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer scheduler.Stop()

	create := jobCreate(t, "bad-cron", "invalid cron")
	_, err := scheduler.AddJob(ctx, create)
	if err == nil {
		t.Error("expected error for invalid cron expression")
	}
}

func TestSchedulerUpdateJob(t *testing.T) {
	_, store, history, executor := setupSchedulerTest(t)

	scheduler := NewScheduler(store, history, executor, nil, nil)
	ctx := context.Background()

	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer scheduler.Stop()

	job, err := scheduler.AddJob(ctx, jobCreate(t, "test-job", "*/5 * * * *"))
	if err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}

	newSchedule := "*/10 * * * *"
	updated, err := scheduler.UpdateJob(ctx, job.Name, JobPatch{Schedule: &newSchedule})
	if err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}

	if updated.Schedule != newSchedule {
		t.Errorf("got schedule %q, want %q", updated.Schedule, newSchedule)
	}
}

func TestSchedulerRemoveJob(t *testing.T) {
	_, store, history, executor := setupSchedulerTest(t)

	scheduler := NewScheduler(store, history, executor, nil, nil)
	ctx := context.Background()

	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer scheduler.Stop()

	job, err := scheduler.AddJob(ctx, jobCreate(t, "test-job", "*/5 * * * *"))
	if err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}

	if err := scheduler.RemoveJob(ctx, job.Name); err != nil {
		t.Fatalf("RemoveJob failed: %v", err)
	}

	if scheduler.Entries() != 0 {
		t.Errorf("got %d entries, want 0", scheduler.Entries())
	}

	_, err = scheduler.GetJob(ctx, job.Name)
	if err == nil {
		t.Error("expected error getting removed job")
	}
}

func TestSchedulerEnableDisable(t *testing.T) {
	_, store, history, executor := setupSchedulerTest(t)

	scheduler := NewScheduler(store, history, executor, nil, nil)
	ctx := context.Background()

	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer scheduler.Stop()

	job, err := scheduler.AddJob(ctx, jobCreate(t, "test-job", "*/5 * * * *"))
	if err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}

	if !job.Enabled {
		t.Error("expected job to be enabled initially")
	}

	disabled, err := scheduler.DisableJob(ctx, job.Name)
	if err != nil {
		t.Fatalf("DisableJob failed: %v", err)
	}
	if disabled.Enabled {
		t.Error("expected job to be disabled")
	}
	if scheduler.Entries() != 0 {
		t.Errorf("disabled job should not be scheduled, got %d entries", scheduler.Entries())
	}

	enabled, err := scheduler.EnableJob(ctx, job.Name)
	if err != nil {
		t.Fatalf("EnableJob failed: %v", err)
	}
	if !enabled.Enabled {
		t.Error("expected job to be enabled")
	}
	if scheduler.Entries() != 1 {
		t.Errorf("enabled job should be scheduled, got %d entries", scheduler.Entries())
	}
}

func TestSchedulerListJobs(t *testing.T) {
	_, store, history, executor := setupSchedulerTest(t)

	scheduler := NewScheduler(store, history, executor, nil, nil)
	ctx := context.Background()

	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer scheduler.Stop()

	for i := 0; i < 3; i++ {
		_, err := scheduler.AddJob(ctx, jobCreate(t, fmt.Sprintf("test-job-%d", i), "*/5 * * * *"))
		if err != nil {
			t.Fatalf("AddJob failed: %v", err)
		}
	}

	jobs, err := scheduler.ListJobs(ctx)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}

	if len(jobs) != 3 {
		t.Errorf("got %d jobs, want 3", len(jobs))
	}
}

func TestSchedulerRunNow(t *testing.T) {
	_, store, history, executor := setupSchedulerTest(t)

	scheduler := NewScheduler(store, history, executor, nil, nil)
	ctx := context.Background()

	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer scheduler.Stop()

	job, err := scheduler.AddJob(ctx, jobCreate(t, "test-job", "*/5 * * * *"))
	if err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}

	result, err := scheduler.RunNow(ctx, job.Name)
	if err != nil {
		t.Fatalf("RunNow failed: %v", err)
	}

	if !result.Success {
		t.Errorf("expected success, got error: %v", result.Error)
	}
	written, err := os.ReadFile(job.OutputPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(written) != "hello" {
		t.Errorf("output = %q, want %q", written, "hello")
	}
}

func TestSchedulerGetNextRun(t *testing.T) {
	_, store, history, executor := setupSchedulerTest(t)

	scheduler := NewScheduler(store, history, executor, nil, nil)
	ctx := context.Background()

	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer scheduler.Stop()

	job, err := scheduler.AddJob(ctx, jobCreate(t, "test-job", "*/5 * * * *"))
	if err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}

	nextRun, ok := scheduler.GetNextRun(job.Name)
	if !ok {
		t.Fatal("expected next run time")
	}

	if nextRun.IsZero() {
		t.Error("expected non-zero next run time")
	}

	if nextRun.Before(time.Now()) {
		t.Error("expected next run to be in the future")
	}
}

func TestSchedulerLoadsEnabledJobsOnStart(t *testing.T) {
	db, store, history, executor := setupSchedulerTest(t)
	ctx := context.Background()

	c1 := jobCreate(t, "enabled-job", "*/5 * * * *")
	job1, err := store.Create(&c1)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	c2 := jobCreate(t, "disabled-job", "*/5 * * * *")
	c2.Enabled = false
	_, err = store.Create(&c2)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_ = db
	scheduler := NewScheduler(store, history, executor, nil, nil)

	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer scheduler.Stop()

	if scheduler.Entries() != 1 {
		t.Errorf("got %d entries, want 1 (only enabled)", scheduler.Entries())
	}

	_, ok := scheduler.GetNextRun(job1.Name)
	if !ok {
		t.Error("enabled job should have next run time")
	}
}

func TestSchedulerScheduledExecution(t *testing.T) {
	_, store, history, executor := setupSchedulerTest(t)

	scheduler := NewScheduler(store, history, executor, nil, nil)
	ctx := context.Background()

	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer scheduler.Stop()

	_, err := scheduler.AddJob(ctx, jobCreate(t, "every-minute", "* * * * *"))
	if err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}

	if scheduler.Entries() != 1 {
		t.Errorf("got %d entries, want 1", scheduler.Entries())
	}
}

func TestSchedulerGracefulShutdown(t *testing.T) {
	_, store, history, executor := setupSchedulerTest(t)

	scheduler := NewScheduler(store, history, executor, nil, nil)
	ctx := context.Background()

	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	job, err := scheduler.AddJob(ctx, jobCreate(t, "slow-job", "*/5 * * * *"))
	if err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}

	go func() {
		_, _ = scheduler.RunNow(ctx, job.Name)
	}()

	time.Sleep(10 * time.Millisecond)

	stopCtx := scheduler.Stop()

	select {
	case <-stopCtx.Done():
	case <-time.After(1 * time.Second):
		t.Error("stop took too long")
	}
}
