package sqlite

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
)

func TestVerifyIntegrity_DetectsCorruption(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "corruptible.sqlite")

	db, err := Open(dbPath, DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}

	// Create some schema so there are pages to corrupt.
	if _, err := db.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, data TEXT);"); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	for i := 0; i < 200; i++ {
		_, _ = db.Exec("INSERT INTO t (data) VALUES (hex(randomblob(64)));")
	}
	// Checkpoint WAL so pages land in the main file before we stomp on them.
	_, _ = db.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	db.Close()

	issues, err := VerifyIntegrity(dbPath, "quick")
	if err != nil {
		t.Fatalf("Initial verification failed with system error: %v", err)
	}
	if issues != nil {
		t.Fatalf("Initial verification reported issues: %v", issues)
	}

	// Overwrite bytes in the second page to simulate on-disk corruption.
	f, err := os.OpenFile(dbPath, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("Failed to open file for corruption: %v", err)
	}
	corruptData := make([]byte, 100)
	_, _ = rand.Read(corruptData)
	_, err = f.WriteAt(corruptData, 4096)
	f.Close()
	if err != nil {
		t.Fatalf("Failed to write corrupt data: %v", err)
	}

	issues, err = VerifyIntegrity(dbPath, "full")
	if err != nil {
		t.Fatalf("Verification after corruption failed with system error: %v", err)
	}
	if issues == nil {
		t.Error("Verification passed but the file was deliberately corrupted")
	} else {
		t.Logf("Detected expected corruption issues: %v", issues)
	}
}

func TestVerifyIntegrity_HealthyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "healthy.sqlite")
	db, err := Open(dbPath, DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := db.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY);"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	db.Close()

	issues, err := VerifyIntegrity(dbPath, "quick")
	if err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}
	if issues != nil {
		t.Fatalf("expected healthy database, got issues: %v", issues)
	}
}
