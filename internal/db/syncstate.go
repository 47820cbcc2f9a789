package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DefaultCounterID identifies the device's primary OS step counter in
// step_sync_state. Multi-counter devices are not a thing today, but the key
// keeps the door open.
const DefaultCounterID = "os-step-counter"

// SyncState is the persisted reconcile baseline: the last OS counter value we
// observed and when we observed it. It is overwritten after every reconcile
// attempt, success or rejection, so each cycle compares against the most
// recent observation.
type SyncState struct {
	CounterID string
	LastCount int64
	LastSeen  time.Time
}

// SyncState returns the persisted baseline for counterID, or nil if no
// observation has ever been recorded.
func (db *DB) SyncState(ctx context.Context, counterID string) (*SyncState, error) {
	var (
		lastCount  int64
		lastSeenMs int64
	)
	err := db.QueryRowContext(ctx, `
		SELECT last_count, last_seen_ms FROM step_sync_state WHERE counter_id = ?`,
		counterID,
	).Scan(&lastCount, &lastSeenMs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sync state: %w", err)
	}

	return &SyncState{
		CounterID: counterID,
		LastCount: lastCount,
		LastSeen:  time.UnixMilli(lastSeenMs).UTC(),
	}, nil
}

// SetSyncState upserts the baseline for state.CounterID.
func (db *DB) SetSyncState(ctx context.Context, state SyncState) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO step_sync_state (counter_id, last_count, last_seen_ms, updated_at)
		VALUES (?, ?, ?, UNIXEPOCH('subsec'))
		ON CONFLICT(counter_id) DO UPDATE SET
			last_count = excluded.last_count,
			last_seen_ms = excluded.last_seen_ms,
			updated_at = UNIXEPOCH('subsec')`,
		state.CounterID, state.LastCount, state.LastSeen.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to write sync state: %w", err)
	}
	return nil
}

// ClearSyncState removes the baseline for counterID. Test teardown only.
func (db *DB) ClearSyncState(ctx context.Context, counterID string) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM step_sync_state WHERE counter_id = ?`, counterID)
	if err != nil {
		return fmt.Errorf("failed to clear sync state: %w", err)
	}
	return nil
}
