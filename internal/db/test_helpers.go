package db

import (
	"os"
	"testing"
	"time"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	fname := t.Name() + ".db"
	_ = os.Remove(fname)

	db, err := NewDB(fname)
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	if err := db.MigrateUp(); err != nil {
		t.Fatalf("failed to migrate test DB: %v", err)
	}
	return db
}

func cleanupTestDB(t *testing.T, db *DB) {
	t.Helper()
	fname := t.Name() + ".db"
	db.Close()
	_ = os.Remove(fname)
	_ = os.Remove(fname + "-shm")
	_ = os.Remove(fname + "-wal")
}

// setupTestStore builds a store over a fresh DB with UTC day boundaries and a
// disabled retention sweep so tests control pruning explicitly.
func setupTestStore(t *testing.T) (*DB, *StepStore) {
	t.Helper()
	db := setupTestDB(t)
	noRetention := -1
	store := NewStepStore(db, StoreConfig{
		Location:      time.UTC,
		RetentionDays: &noRetention,
	})
	return db, store
}

func sourcePtr(s Source) *Source {
	return &s
}

func timePtr(t time.Time) *time.Time {
	return &t
}
