package durable

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func TestSinkWritesAreNonBlockingAndDrainable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	if err := Migrate(dbPath); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	sink := New(0, nil)
	defer sink.Close()

	query, params := PrepareHistoryInsert("voice-1", "assistant", "hello", "piper", "default", time.Now())
	sink.Enqueue(dbPath, query, params...)
	sink.WaitForDrain()

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM conversation_history WHERE session_id = ?`, "voice-1").Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
}

func TestSinkDropsOnWriteErrorWithoutPanicking(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	if err := Migrate(dbPath); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	sink := New(0, nil)
	defer sink.Close()

	// malformed SQL: should be logged and dropped, not crash the writer.
	sink.Enqueue(dbPath, `INSERT INTO nonexistent_table (x) VALUES (?)`, "x")
	sink.WaitForDrain()

	// subsequent valid writes still succeed, proving the writer survived.
	query, params := PrepareMetricsInsert("voice-1", "openclaw", "piper", 10, 20, 30, false, true, time.Now())
	sink.Enqueue(dbPath, query, params...)
	sink.WaitForDrain()

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM request_metrics`).Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected writer to survive a bad write and still apply the next one, got %d rows", count)
	}
}
