package db

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInit(t *testing.T) {
	// Use temp directory for test isolation
	tmpDir := t.TempDir()

	database, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer database.Close()

	// Verify database file was created
	dbPath := filepath.Join(tmpDir, "memobox.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("database file not created at %s", dbPath)
	}

	// Verify WAL mode is active
	var journalMode string
	if err := database.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		t.Fatalf("failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}

	// Verify schema was created
	var tableName string
	err = database.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='records'").Scan(&tableName)
	if err != nil {
		t.Fatalf("records table not found: %v", err)
	}

	version, err := GetUserVersion(database)
	if err != nil {
		t.Fatalf("GetUserVersion() error = %v", err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, CurrentSchemaVersion)
	}
}

func TestInit_CreatesDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	baseDir := filepath.Join(tmpDir, "nested", "path", ".memobox")

	database, err := Init(baseDir)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer database.Close()

	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		t.Errorf("base directory not created at %s", baseDir)
	}
}

func TestInit_Idempotent(t *testing.T) {
	tmpDir := t.TempDir()

	db1, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("first Init() error = %v", err)
	}
	if err := PutRecord(db1, "k", "v"); err != nil {
		t.Fatalf("PutRecord() error = %v", err)
	}
	db1.Close()

	db2, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("second Init() error = %v", err)
	}
	defer db2.Close()

	value, ok, err := GetRecord(db2, "k")
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if !ok || value != "v" {
		t.Errorf("record lost across reopen: value=%q ok=%v", value, ok)
	}
}

func TestPutRecord_Replaces(t *testing.T) {
	database, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer database.Close()

	if err := PutRecord(database, "k", "first"); err != nil {
		t.Fatalf("PutRecord() error = %v", err)
	}
	if err := PutRecord(database, "k", "second"); err != nil {
		t.Fatalf("PutRecord() replace error = %v", err)
	}

	value, ok, err := GetRecord(database, "k")
	if err != nil || !ok {
		t.Fatalf("GetRecord() = %q, %v, %v", value, ok, err)
	}
	if value != "second" {
		t.Errorf("value = %q, want %q", value, "second")
	}
}

func TestGetRecord_Absent(t *testing.T) {
	database, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer database.Close()

	_, ok, err := GetRecord(database, "missing")
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if ok {
		t.Error("expected ok=false for absent key")
	}
}
