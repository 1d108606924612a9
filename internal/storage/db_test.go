package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestOpen(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	// verify the path
	if db.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", db.Path(), dbPath)
	}

	// verify it's queryable
	var result int
	if err := db.QueryRow("SELECT 1").Scan(&result); err != nil {
		t.Errorf("query failed: %v", err)
	}
	if result != 1 {
		t.Errorf("result = %d, want 1", result)
	}
}

func TestOpen_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if db.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", db.Path(), dbPath)
	}
}

func TestOpen_WALMode(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}
}

func TestOpen_ForeignKeys(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	var fkEnabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		t.Fatalf("query foreign_keys: %v", err)
	}
	if fkEnabled != 1 {
		t.Errorf("foreign_keys = %d, want 1", fkEnabled)
	}
}

func TestWithTx_Commit(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	now := "2024-01-01 00:00:00"
	err = db.WithTx(func(tx *Tx) error {
		_, err := tx.Exec(
			"INSERT INTO cron_jobs (name, schedule, input_path, output_path, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
			"tx-job", "0 * * * *", "/tmp/in", "/tmp/out", now, now,
		)
		return err
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}

	var schedule string
	if err := db.QueryRow("SELECT schedule FROM cron_jobs WHERE name = ?", "tx-job").Scan(&schedule); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if schedule != "0 * * * *" {
		t.Errorf("schedule = %q, want %q", schedule, "0 * * * *")
	}
}

func TestWithTx_Rollback(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	now := "2024-01-01 00:00:00"
	testErr := errors.New("test error")
	err = db.WithTx(func(tx *Tx) error {
		_, err := tx.Exec(
			"INSERT INTO cron_jobs (name, schedule, input_path, output_path, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
			"rollback-job", "0 * * * *", "/tmp/in", "/tmp/out", now, now,
		)
		if err != nil {
			return err
		}
		return testErr
	})
	if err != testErr {
		t.Errorf("WithTx error = %v, want %v", err, testErr)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM cron_jobs WHERE name = ?", "rollback-job").Scan(&count); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0 (should be rolled back)", count)
	}
}

func TestBegin(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	now := "2024-01-01 00:00:00"
	_, err = tx.Exec(
		"INSERT INTO cron_jobs (name, schedule, input_path, output_path, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		"manual-job", "0 * * * *", "/tmp/in", "/tmp/out", now, now,
	)
	if err != nil {
		tx.Rollback()
		t.Fatalf("insert failed: %v", err)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	var schedule string
	if err := db.QueryRow("SELECT schedule FROM cron_jobs WHERE name = ?", "manual-job").Scan(&schedule); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if schedule != "0 * * * *" {
		t.Errorf("schedule = %q, want %q", schedule, "0 * * * *")
	}
}

func TestClose(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// querying after close should fail
	var result int
	if err := db.QueryRow("SELECT 1").Scan(&result); err == nil {
		t.Error("query should fail after close")
	}
}
