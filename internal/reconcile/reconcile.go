// Package reconcile recovers steps counted by the OS while the process did
// not exist. It compares a persisted counter baseline against the live OS
// step counter at startup and emits at most one recovered-steps result.
package reconcile

import (
	"context"
	"time"

	"github.com/stride-data/steps.report/internal/db"
	"github.com/stride-data/steps.report/internal/monitoring"
	"github.com/stride-data/steps.report/internal/sensor"
	"github.com/stride-data/steps.report/internal/timeutil"
)

// Plausibility bounds for a recovered delta. Anything outside these is
// treated as a sensor anomaly, not as steps.
const (
	MaxReasonableSteps = 50000
	MaxStepRate        = 3.0 // steps per second, sustained
)

const (
	defaultFreshWait    = 1500 * time.Millisecond
	defaultPollInterval = 100 * time.Millisecond
)

// BaselineStore persists the last observed OS counter value. *db.DB
// implements it.
type BaselineStore interface {
	SyncState(ctx context.Context, counterID string) (*db.SyncState, error)
	SetSyncState(ctx context.Context, state db.SyncState) error
}

// Recovered is a validated step delta accrued while the process was gone.
type Recovered struct {
	Steps int64
	From  time.Time
	To    time.Time
}

// Options tunes a Reconciler. Zero values mean defaults.
type Options struct {
	// CounterID keys the persisted baseline.
	CounterID string
	// FreshWait bounds how long Reconcile polls an unavailable counter
	// before giving up.
	FreshWait time.Duration
	// PollInterval is the polling period during FreshWait.
	PollInterval time.Duration
}

// Reconciler runs the startup reconciliation protocol. Implausible data is
// never an error: the baseline is refreshed and nothing is reported, so the
// next cycle starts clean.
type Reconciler struct {
	counter   sensor.StepCounter
	store     BaselineStore
	clock     timeutil.Clock
	counterID string
	freshWait time.Duration
	poll      time.Duration
}

// NewReconciler creates a reconciler. A nil clock means real time.
func NewReconciler(counter sensor.StepCounter, store BaselineStore, clock timeutil.Clock, opts Options) *Reconciler {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	r := &Reconciler{
		counter:   counter,
		store:     store,
		clock:     clock,
		counterID: opts.CounterID,
		freshWait: opts.FreshWait,
		poll:      opts.PollInterval,
	}
	if r.counterID == "" {
		r.counterID = db.DefaultCounterID
	}
	if r.freshWait == 0 {
		r.freshWait = defaultFreshWait
	}
	if r.poll <= 0 {
		r.poll = defaultPollInterval
	}
	return r
}

// Reconcile compares the live OS counter against the persisted baseline and
// returns a validated delta, or nil when there is nothing to report. Only
// storage failures surface as errors. Call it once per process start.
func (r *Reconciler) Reconcile(ctx context.Context) (*Recovered, error) {
	count, ok := r.waitForCount(ctx)
	if !ok {
		monitoring.Logf("reconcile: OS step counter unavailable, skipping")
		return nil, nil
	}
	now := r.clock.Now()

	state, err := r.store.SyncState(ctx, r.counterID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		// First observation ever: nothing to reconcile against yet.
		return nil, r.refresh(ctx, count, now)
	}

	delta := count - state.LastCount
	elapsed := now.Sub(state.LastSeen)

	switch {
	case delta <= 0:
		// Counter flat, or reset by a reboot. Expected, not an anomaly.
		return nil, r.refresh(ctx, count, now)
	case elapsed < 0:
		monitoring.Logf("reconcile: clock moved backward (last seen %v, now %v), rejecting delta", state.LastSeen, now)
		return nil, r.refresh(ctx, count, now)
	case delta > MaxReasonableSteps:
		monitoring.Logf("reconcile: implausible delta %d over %v, rejecting", delta, elapsed)
		return nil, r.refresh(ctx, count, now)
	case elapsed == 0 || float64(delta)/elapsed.Seconds() > MaxStepRate:
		monitoring.Logf("reconcile: implausible rate (%d steps over %v), rejecting", delta, elapsed)
		return nil, r.refresh(ctx, count, now)
	}

	if err := r.refresh(ctx, count, now); err != nil {
		return nil, err
	}
	return &Recovered{Steps: delta, From: state.LastSeen, To: now}, nil
}

// refresh overwrites the baseline with the latest observation. It runs after
// every attempt, accepted or rejected, so a bad cycle never taints the next.
func (r *Reconciler) refresh(ctx context.Context, count int64, now time.Time) error {
	return r.store.SetSyncState(ctx, db.SyncState{
		CounterID: r.counterID,
		LastCount: count,
		LastSeen:  now,
	})
}

// waitForCount polls the counter until it delivers a value or the bounded
// wait expires.
func (r *Reconciler) waitForCount(ctx context.Context) (int64, bool) {
	deadline := r.clock.Now().Add(r.freshWait)
	for {
		if count, ok := r.counter.Steps(ctx); ok {
			return count, true
		}
		if !r.clock.Now().Before(deadline) {
			return 0, false
		}
		select {
		case <-ctx.Done():
			return 0, false
		case <-r.clock.After(r.poll):
		}
	}
}
