package pedometer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stride-data/steps.report/internal/db"
	"github.com/stride-data/steps.report/internal/timeutil"
)

type fakeSink struct {
	mu       sync.Mutex
	records  []db.StepRecord
	failures int
}

func (f *fakeSink) Insert(ctx context.Context, rec db.StepRecord) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return 0, errors.New("sink unavailable")
	}
	f.records = append(f.records, rec)
	return 1, nil
}

func (f *fakeSink) stored() []db.StepRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]db.StepRecord(nil), f.records...)
}

func strPtr(s string) *string   { return &s }
func intPtr(v int) *int         { return &v }
func f64Ptr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool      { return &v }

func testConfig() Config {
	return Config{
		Shake: ShakeConfig{
			ValidationWindow:  strPtr("1s"),
			MaxStepsPerSecond: f64Ptr(4.0),
			MinPendingSteps:   intPtr(3),
		},
		Warmup: WarmupConfig{
			WarmupDuration:     strPtr("2s"),
			MinStepsToValidate: intPtr(3),
			MaxStepsPerSecond:  f64Ptr(4.0),
			RecordInterval:     strPtr("5s"),
		},
	}
}

// walk drives the session with hardware pulses at the given offsets.
func walk(s *Session, base time.Time, offsets ...time.Duration) {
	for _, off := range offsets {
		s.HandlePulse(base.Add(off))
	}
}

func TestSession_PulsesToPersistedRecord(t *testing.T) {
	sink := &fakeSink{}
	clock := timeutil.NewMockClock(time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC))
	s, err := NewSession(testConfig(), sink, clock)
	require.NoError(t, err)

	base := clock.Now()
	// Steady cadence: shake windows confirm, then the warmup window expires
	// and commits the buffered burst.
	walk(s, base,
		0, 400*time.Millisecond, 800*time.Millisecond, 1200*time.Millisecond,
		1600*time.Millisecond, 2000*time.Millisecond, 2400*time.Millisecond,
		2800*time.Millisecond, 3400*time.Millisecond,
	)

	assert.Equal(t, int64(7), s.Steps())

	require.NoError(t, s.Flush(context.Background()))
	records := sink.stored()
	require.Len(t, records, 1)
	assert.Equal(t, int64(7), records[0].StepCount)
	assert.Equal(t, db.SourceForeground, records[0].Source)
	assert.True(t, records[0].ToTime.After(records[0].FromTime))
}

func TestSession_LifecycleStateTagsRecords(t *testing.T) {
	sink := &fakeSink{}
	clock := timeutil.NewMockClock(time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC))
	s, err := NewSession(testConfig(), sink, clock)
	require.NoError(t, err)

	s.SetLifecycleState(db.SourceBackground)
	base := clock.Now()
	walk(s, base,
		0, 400*time.Millisecond, 800*time.Millisecond, 1200*time.Millisecond,
		1600*time.Millisecond, 2000*time.Millisecond, 2400*time.Millisecond,
		2800*time.Millisecond, 3400*time.Millisecond,
	)

	require.NoError(t, s.Flush(context.Background()))
	records := sink.stored()
	require.Len(t, records, 1)
	assert.Equal(t, db.SourceBackground, records[0].Source)
}

func TestSession_FlushFailureRetainsBuffer(t *testing.T) {
	sink := &fakeSink{failures: 1}
	clock := timeutil.NewMockClock(time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC))
	s, err := NewSession(testConfig(), sink, clock)
	require.NoError(t, err)

	base := clock.Now()
	walk(s, base,
		0, 400*time.Millisecond, 800*time.Millisecond, 1200*time.Millisecond,
		1600*time.Millisecond, 2000*time.Millisecond, 2400*time.Millisecond,
		2800*time.Millisecond, 3400*time.Millisecond,
	)

	assert.Error(t, s.Flush(context.Background()))
	assert.Empty(t, sink.stored())

	// The record survives for the retry.
	require.NoError(t, s.Flush(context.Background()))
	require.Len(t, sink.stored(), 1)
}

func TestSession_StopIsIdempotent(t *testing.T) {
	sink := &fakeSink{}
	clock := timeutil.NewMockClock(time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC))
	s, err := NewSession(testConfig(), sink, clock)
	require.NoError(t, err)

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))

	// Input after stop is ignored.
	s.HandlePulse(clock.Now())
	assert.Zero(t, s.Steps())
}

func TestSession_StopFlushesValidatedRemainder(t *testing.T) {
	sink := &fakeSink{}
	start := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	s, err := NewSession(testConfig(), sink, clock)
	require.NoError(t, err)

	walk(s, start,
		0, 400*time.Millisecond, 800*time.Millisecond, 1200*time.Millisecond,
		1600*time.Millisecond, 2000*time.Millisecond, 2400*time.Millisecond,
		2800*time.Millisecond, 3400*time.Millisecond,
	)
	// Keep walking past validation, then stop mid-interval.
	walk(s, start, 4000*time.Millisecond, 4300*time.Millisecond, 4600*time.Millisecond, 5200*time.Millisecond)
	clock.Set(start.Add(6 * time.Second))

	require.NoError(t, s.Stop(context.Background()))

	var total int64
	for _, rec := range sink.stored() {
		total += rec.StepCount
	}
	assert.Equal(t, s.Steps(), total)
}

func TestSession_SubscribeReceivesTotals(t *testing.T) {
	sink := &fakeSink{}
	clock := timeutil.NewMockClock(time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC))
	s, err := NewSession(testConfig(), sink, clock)
	require.NoError(t, err)

	id, ch := s.Subscribe()
	assert.Equal(t, int64(0), <-ch)

	base := clock.Now()
	walk(s, base, 0, 400*time.Millisecond, 800*time.Millisecond, 1200*time.Millisecond)

	select {
	case total := <-ch:
		assert.Equal(t, int64(4), total)
	case <-time.After(time.Second):
		t.Fatal("no step update delivered")
	}

	s.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
}

func TestSession_ResetClearsDetectionState(t *testing.T) {
	sink := &fakeSink{}
	clock := timeutil.NewMockClock(time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC))
	s, err := NewSession(testConfig(), sink, clock)
	require.NoError(t, err)

	base := clock.Now()
	walk(s, base, 0, 400*time.Millisecond, 800*time.Millisecond, 1200*time.Millisecond)
	require.Equal(t, int64(4), s.Steps())

	s.Reset()
	assert.Zero(t, s.Steps())
}

func TestConfig_UseHardwareSensor(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		hardware bool
		model    string
		want     bool
	}{
		{"NoHardware", Config{}, false, "pixel 9", false},
		{"HardwareAvailable", Config{}, true, "pixel 9", true},
		{"ForcedSoftware", Config{ForceSoftwareDetection: boolPtr(true)}, true, "pixel 9", false},
		{"DenylistedModel", Config{HardwareDenylist: []string{"nokia"}}, true, "Nokia 7 plus", false},
		{"DenylistMiss", Config{HardwareDenylist: []string{"nokia"}}, true, "pixel 9", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.UseHardwareSensor(tt.hardware, tt.model))
		})
	}
}
