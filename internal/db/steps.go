package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/stride-data/steps.report/internal/monitoring"
)

// Source tags which subsystem produced a step record.
type Source string

const (
	SourceForeground Source = "foreground"
	SourceBackground Source = "background"
	SourceTerminated Source = "terminated"
	SourceExternal   Source = "external"
)

// ValidSources contains all valid source values.
var ValidSources = []Source{SourceForeground, SourceBackground, SourceTerminated, SourceExternal}

// IsValid checks if the source is one of the known provenance tags.
func (s Source) IsValid() bool {
	for _, v := range ValidSources {
		if s == v {
			return true
		}
	}
	return false
}

// ErrInvalidRecord marks caller mistakes: negative counts, inverted time
// ranges, unknown sources, out-of-range confidence. These are surfaced
// synchronously and never silently corrected.
var ErrInvalidRecord = errors.New("invalid step record")

// StepRecord is an immutable fact: this many steps were taken over this time
// range, observed by this source. Persisted records never span local
// midnight; Insert splits them.
type StepRecord struct {
	ID         int64      `json:"record_id,omitempty"`
	StepCount  int64      `json:"step_count"`
	FromTime   time.Time  `json:"from_time"`
	ToTime     time.Time  `json:"to_time"`
	Source     Source     `json:"source"`
	Confidence *float64   `json:"confidence,omitempty"`
	CreatedAt  time.Time  `json:"created_at,omitempty"`
}

// Duration returns the record's time span.
func (r StepRecord) Duration() time.Duration {
	return r.ToTime.Sub(r.FromTime)
}

// StepsPerSecond returns the record's average cadence, 0 for instant records.
func (r StepRecord) StepsPerSecond() float64 {
	d := r.Duration()
	if d <= 0 {
		return 0
	}
	return float64(r.StepCount) / d.Seconds()
}

func (r StepRecord) validate() error {
	if r.StepCount < 0 {
		return fmt.Errorf("%w: negative step count %d", ErrInvalidRecord, r.StepCount)
	}
	if r.ToTime.Before(r.FromTime) {
		return fmt.Errorf("%w: to_time %v before from_time %v", ErrInvalidRecord, r.ToTime, r.FromTime)
	}
	if !r.Source.IsValid() {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidRecord, r.Source)
	}
	if r.Confidence != nil && (*r.Confidence < 0 || *r.Confidence > 1) {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidRecord, *r.Confidence)
	}
	return nil
}

// StoreConfig tunes the aggregation store.
type StoreConfig struct {
	// Location defines where "midnight" is for day-boundary splitting and the
	// today/yesterday helpers. Defaults to time.Local.
	Location *time.Location

	// DuplicateWindow is the trailing window within which a record with the
	// same source, same step count, and the same stop minute is treated as a
	// replay and skipped. Wider windows reject more service-restart replays
	// but can swallow a legitimate identical batch that lands in the same
	// minute by coincidence; the minute rounding mirrors the duplicate keys
	// produced by buffered flush replays. Defaults to 90s.
	DuplicateWindow time.Duration

	// RetentionDays bounds how long records are kept by the retention sweep.
	// Nil means the default of 30 days; zero or negative disables the sweep
	// (keep forever).
	RetentionDays *int
}

// Normalize applies defaults for unset values.
func (c StoreConfig) Normalize() StoreConfig {
	cfg := c
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.DuplicateWindow == 0 {
		cfg.DuplicateWindow = 90 * time.Second
	}
	if cfg.RetentionDays == nil {
		days := 30
		cfg.RetentionDays = &days
	}
	return cfg
}

// StepStore handles all database operations for step_records. It is the
// single point of truth every reader queries; no other component mutates
// persisted step state.
type StepStore struct {
	db  *DB
	cfg StoreConfig

	// writeMu serializes the duplicate-check-then-insert sequence. The check
	// and the insert are separate statements, so two near-simultaneous
	// writers would otherwise both pass the check.
	writeMu sync.Mutex

	watchMu  sync.Mutex
	watchers map[string]*watcher
}

// NewStepStore creates a StepStore over an open database.
func NewStepStore(db *DB, cfg StoreConfig) *StepStore {
	return &StepStore{
		db:       db,
		cfg:      cfg.Normalize(),
		watchers: make(map[string]*watcher),
	}
}

// Location returns the store's day-boundary location.
func (s *StepStore) Location() *time.Location {
	return s.cfg.Location
}

// Insert validates rec, splits it at local midnight boundaries, and commits
// the surviving sub-records in one transaction. Sub-records recognized as
// duplicates or same-source overlaps are silently skipped; the returned count
// is the number of rows actually written. Validation failures wrap
// ErrInvalidRecord; storage failures propagate without retry.
func (s *StepStore) Insert(ctx context.Context, rec StepRecord) (int, error) {
	if err := rec.validate(); err != nil {
		return 0, err
	}

	parts := splitAtDayBoundaries(rec, s.cfg.Location)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			monitoring.Logf("warning: failed to rollback step insert: %v", err)
		}
	}()

	inserted := 0
	for _, p := range parts {
		skip, reason, err := s.shouldSkip(ctx, tx, p)
		if err != nil {
			return 0, err
		}
		if skip {
			monitoring.Logf("step store: skipping %d steps [%v, %v) source=%s: %s",
				p.StepCount, p.FromTime, p.ToTime, p.Source, reason)
			continue
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO step_records (step_count, from_unix_ms, to_unix_ms, source, confidence)
			VALUES (?, ?, ?, ?, ?)`,
			p.StepCount, p.FromTime.UnixMilli(), p.ToTime.UnixMilli(), string(p.Source), confidenceArg(p.Confidence),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert step record: %w", err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	if inserted > 0 {
		s.notifyWatchers(ctx)
	}
	return inserted, nil
}

// ImportExternal records externally-sourced step data (e.g. imported from a
// third-party fitness platform). It follows the exact same validation,
// splitting, and duplicate rules as internally-detected steps.
func (s *StepStore) ImportExternal(ctx context.Context, steps int64, from, to time.Time) (int, error) {
	return s.Insert(ctx, StepRecord{
		StepCount: steps,
		FromTime:  from,
		ToTime:    to,
		Source:    SourceExternal,
	})
}

// shouldSkip reports whether a sub-record is a replay duplicate or a
// same-source overlap. Both are expected consequences of lifecycle races and
// are no-ops, not errors.
func (s *StepStore) shouldSkip(ctx context.Context, tx *sql.Tx, p StepRecord) (bool, string, error) {
	toMs := p.ToTime.UnixMilli()
	fromMs := p.FromTime.UnixMilli()

	var dupes int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM step_records
		WHERE source = ? AND step_count = ?
		  AND to_unix_ms / 60000 = ? / 60000
		  AND ABS(to_unix_ms - ?) <= ?`,
		string(p.Source), p.StepCount, toMs, toMs, s.cfg.DuplicateWindow.Milliseconds(),
	).Scan(&dupes)
	if err != nil {
		return false, "", fmt.Errorf("duplicate check failed: %w", err)
	}
	if dupes > 0 {
		return true, "duplicate", nil
	}

	var overlaps int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM step_records
		WHERE source = ? AND from_unix_ms < ? AND to_unix_ms > ?`,
		string(p.Source), toMs, fromMs,
	).Scan(&overlaps)
	if err != nil {
		return false, "", fmt.Errorf("overlap check failed: %w", err)
	}
	if overlaps > 0 {
		return true, "overlaps existing record", nil
	}

	return false, "", nil
}

func confidenceArg(c *float64) interface{} {
	if c == nil {
		return nil
	}
	return *c
}

// splitAtDayBoundaries cuts a record at each local midnight it crosses and
// distributes the steps proportionally to sub-interval duration. Integer
// division leaves a remainder; it is assigned to the longest sub-interval so
// the split conserves the original total exactly.
func splitAtDayBoundaries(rec StepRecord, loc *time.Location) []StepRecord {
	if rec.Duration() <= 0 {
		return []StepRecord{rec}
	}

	type span struct{ from, to time.Time }
	var spans []span
	cur := rec.FromTime
	for {
		boundary := nextMidnight(cur, loc)
		if !boundary.Before(rec.ToTime) {
			spans = append(spans, span{cur, rec.ToTime})
			break
		}
		spans = append(spans, span{cur, boundary})
		cur = boundary
	}

	if len(spans) == 1 {
		return []StepRecord{rec}
	}

	totalMs := rec.Duration().Milliseconds()
	parts := make([]StepRecord, 0, len(spans))
	var assigned int64
	longest := 0
	for i, sp := range spans {
		durMs := sp.to.Sub(sp.from).Milliseconds()
		steps := rec.StepCount * durMs / totalMs
		assigned += steps
		if durMs > spans[longest].to.Sub(spans[longest].from).Milliseconds() {
			longest = i
		}
		parts = append(parts, StepRecord{
			StepCount:  steps,
			FromTime:   sp.from,
			ToTime:     sp.to,
			Source:     rec.Source,
			Confidence: rec.Confidence,
		})
	}
	parts[longest].StepCount += rec.StepCount - assigned

	return parts
}

// nextMidnight returns the first local midnight strictly after t.
func nextMidnight(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
}

// Query filters step record reads. Nil fields are unrestricted. The time
// range is half-open [From, To): a record ending exactly at From is excluded,
// one ending exactly at To is included.
type Query struct {
	From   *time.Time
	To     *time.Time
	Source *Source
}

func buildRangeClause(q Query) (string, []interface{}) {
	clause := ""
	args := []interface{}{}

	if q.From != nil {
		fromMs := q.From.UnixMilli()
		// Instant records (from == to) sit exactly on their timestamp and are
		// included when that instant is inside the half-open query range.
		clause += " AND (to_unix_ms > ? OR (from_unix_ms = to_unix_ms AND from_unix_ms >= ?))"
		args = append(args, fromMs, fromMs)
	}
	if q.To != nil {
		clause += " AND from_unix_ms < ?"
		args = append(args, q.To.UnixMilli())
	}
	if q.Source != nil {
		clause += " AND source = ?"
		args = append(args, string(*q.Source))
	}

	return clause, args
}

// ReadTotal sums step counts over records intersecting the query range.
func (s *StepStore) ReadTotal(ctx context.Context, q Query) (int64, error) {
	clause, args := buildRangeClause(q)

	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(step_count) FROM step_records WHERE 1=1`+clause, args...,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to read step total: %w", err)
	}
	if !total.Valid {
		return 0, nil
	}
	return total.Int64, nil
}

// ReadRecords returns matching records ordered by start time.
func (s *StepStore) ReadRecords(ctx context.Context, q Query) ([]StepRecord, error) {
	clause, args := buildRangeClause(q)

	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, step_count, from_unix_ms, to_unix_ms, source, confidence, created_at
		FROM step_records
		WHERE 1=1`+clause+`
		ORDER BY from_unix_ms, record_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query step records: %w", err)
	}
	defer rows.Close()

	records := []StepRecord{}
	for rows.Next() {
		var (
			rec        StepRecord
			fromMs     int64
			toMs       int64
			source     string
			confidence sql.NullFloat64
			createdAt  float64
		)
		if err := rows.Scan(&rec.ID, &rec.StepCount, &fromMs, &toMs, &source, &confidence, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan step record: %w", err)
		}
		rec.FromTime = time.UnixMilli(fromMs).UTC()
		rec.ToTime = time.UnixMilli(toMs).UTC()
		rec.Source = Source(source)
		if confidence.Valid {
			c := confidence.Float64
			rec.Confidence = &c
		}
		rec.CreatedAt = time.UnixMilli(int64(createdAt * 1000)).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step records: %w", err)
	}

	return records, nil
}

// dayRange returns the half-open [midnight, midnight+24h) range containing t.
func (s *StepStore) dayRange(t time.Time) (time.Time, time.Time) {
	local := t.In(s.cfg.Location)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.cfg.Location)
	return start, start.AddDate(0, 0, 1)
}

// TodayTotal sums steps over the current local day.
func (s *StepStore) TodayTotal(ctx context.Context, now time.Time) (int64, error) {
	from, to := s.dayRange(now)
	return s.ReadTotal(ctx, Query{From: &from, To: &to})
}

// YesterdayTotal sums steps over the previous local day.
func (s *StepStore) YesterdayTotal(ctx context.Context, now time.Time) (int64, error) {
	from, to := s.dayRange(now.In(s.cfg.Location).AddDate(0, 0, -1))
	return s.ReadTotal(ctx, Query{From: &from, To: &to})
}

// DeleteBefore removes records that end at or before cutoff. Returns the
// number of rows removed.
func (s *StepStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.writeMu.Lock()
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM step_records WHERE to_unix_ms <= ?`, cutoff.UnixMilli())
	s.writeMu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("failed to delete step records: %w", err)
	}
	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		s.notifyWatchers(ctx)
	}
	return deleted, nil
}

// DeleteAll removes every step record. Administrative use only.
func (s *StepStore) DeleteAll(ctx context.Context) (int64, error) {
	s.writeMu.Lock()
	result, err := s.db.ExecContext(ctx, `DELETE FROM step_records`)
	s.writeMu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("failed to delete step records: %w", err)
	}
	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		s.notifyWatchers(ctx)
	}
	return deleted, nil
}

// RunRetentionSweep prunes records older than the configured horizon. It is
// invoked once per logging-session start; a zero horizon keeps everything.
func (s *StepStore) RunRetentionSweep(ctx context.Context, now time.Time) (int64, error) {
	days := *s.cfg.RetentionDays
	if days <= 0 {
		return 0, nil
	}
	cutoff := now.AddDate(0, 0, -days)
	deleted, err := s.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		monitoring.Logf("step store: retention sweep removed %d records older than %v", deleted, cutoff)
	}
	return deleted, nil
}

// SourceStats aggregates one provenance source within a Stats result.
type SourceStats struct {
	Records int   `json:"records"`
	Steps   int64 `json:"steps"`
}

// StepStats summarizes a record range.
type StepStats struct {
	TotalSteps         int64                  `json:"total_steps"`
	RecordCount        int                    `json:"record_count"`
	MeanStepsPerRecord float64                `json:"mean_steps_per_record"`
	BySource           map[Source]SourceStats `json:"by_source"`
}

// Stats computes per-source totals plus count and average for the range.
func (s *StepStore) Stats(ctx context.Context, q Query) (*StepStats, error) {
	records, err := s.ReadRecords(ctx, q)
	if err != nil {
		return nil, err
	}

	stats := &StepStats{BySource: make(map[Source]SourceStats)}
	counts := make([]float64, 0, len(records))
	for _, rec := range records {
		stats.TotalSteps += rec.StepCount
		stats.RecordCount++
		counts = append(counts, float64(rec.StepCount))

		bySource := stats.BySource[rec.Source]
		bySource.Records++
		bySource.Steps += rec.StepCount
		stats.BySource[rec.Source] = bySource
	}
	if len(counts) > 0 {
		stats.MeanStepsPerRecord = stat.Mean(counts, nil)
	}

	return stats, nil
}
