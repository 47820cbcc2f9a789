package pedometer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWarmupValidator_QualifyingBurstCommitsOnce(t *testing.T) {
	v := NewWarmupValidator(5*time.Second, 5, 3.0, 10*time.Second)
	base := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

	// First confirmed step enters Warming; nothing commits during warmup.
	assert.Nil(t, v.Observe(1, base))
	assert.Nil(t, v.Observe(3, base.Add(2*time.Second)))
	assert.Nil(t, v.Observe(6, base.Add(4*time.Second)))
	assert.False(t, v.Validated())

	// Window expires: 8 steps over 5s passes count and rate checks.
	commit := v.Observe(8, base.Add(5*time.Second))
	require.NotNil(t, commit)
	assert.Equal(t, int64(8), commit.Steps)
	assert.Equal(t, base, commit.From)
	assert.Equal(t, base.Add(5*time.Second), commit.To)
	assert.True(t, v.Validated())

	// The buffered burst commits exactly once.
	assert.Nil(t, v.Observe(8, base.Add(6*time.Second)))
}

func TestWarmupValidator_TooFewStepsResetsWindow(t *testing.T) {
	v := NewWarmupValidator(5*time.Second, 5, 3.0, 10*time.Second)
	base := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

	assert.Nil(t, v.Observe(1, base))
	// Only 2 steps by expiry: false start, retry without committing.
	assert.Nil(t, v.Observe(2, base.Add(5*time.Second)))
	assert.False(t, v.Validated())

	// The retry window runs on its own count baseline; a qualifying burst
	// there commits only its own steps.
	commit := v.Observe(9, base.Add(10*time.Second))
	require.NotNil(t, commit)
	assert.Equal(t, int64(7), commit.Steps)
	assert.Equal(t, base.Add(5*time.Second), commit.From)
}

func TestWarmupValidator_TooFastResetsWindow(t *testing.T) {
	v := NewWarmupValidator(5*time.Second, 5, 3.0, 10*time.Second)
	base := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

	assert.Nil(t, v.Observe(1, base))
	// 30 steps in 5s is 6/s, over the 3.0 limit.
	assert.Nil(t, v.Observe(30, base.Add(5*time.Second)))
	assert.False(t, v.Validated())
}

func TestWarmupValidator_IntervalCommitsAfterValidation(t *testing.T) {
	v := NewWarmupValidator(5*time.Second, 5, 3.0, 10*time.Second)
	base := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

	v.Observe(1, base)
	commit := v.Observe(8, base.Add(5*time.Second))
	require.NotNil(t, commit)

	// Next interval: 12 more steps over 10s.
	assert.Nil(t, v.Observe(14, base.Add(10*time.Second)))
	commit = v.Observe(20, base.Add(15*time.Second))
	require.NotNil(t, commit)
	assert.Equal(t, int64(12), commit.Steps)
	assert.Equal(t, base.Add(5*time.Second), commit.From)
	assert.Equal(t, base.Add(15*time.Second), commit.To)
}

func TestWarmupValidator_NoisyIntervalSkippedButAdvances(t *testing.T) {
	v := NewWarmupValidator(5*time.Second, 5, 3.0, 10*time.Second)
	base := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

	v.Observe(1, base)
	require.NotNil(t, v.Observe(8, base.Add(5*time.Second)))

	// 50 steps in the next 10s interval is 5/s: skipped, not committed.
	assert.Nil(t, v.Observe(58, base.Add(15*time.Second)))

	// But the pointer advanced, so the following clean interval commits
	// only its own steps.
	commit := v.Observe(70, base.Add(25*time.Second))
	require.NotNil(t, commit)
	assert.Equal(t, int64(12), commit.Steps)
}

func TestWarmupValidator_ZeroDurationSkipsGate(t *testing.T) {
	v := NewWarmupValidator(0, 5, 3.0, 10*time.Second)
	base := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

	assert.True(t, v.Validated())

	// No warmup buffering: the first interval commits directly.
	assert.Nil(t, v.Observe(3, base))
	commit := v.Observe(10, base.Add(10*time.Second))
	require.NotNil(t, commit)
	assert.Equal(t, int64(10), commit.Steps)
}

func TestWarmupValidator_FlushCommitsRemainder(t *testing.T) {
	v := NewWarmupValidator(5*time.Second, 5, 3.0, 10*time.Second)
	base := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

	v.Observe(1, base)
	require.NotNil(t, v.Observe(8, base.Add(5*time.Second)))

	// Mid-interval stop: the remainder since validation flushes out.
	commit := v.Flush(12, base.Add(8*time.Second))
	require.NotNil(t, commit)
	assert.Equal(t, int64(4), commit.Steps)
	assert.Equal(t, base.Add(5*time.Second), commit.From)

	// Nothing left after a flush.
	assert.Nil(t, v.Flush(12, base.Add(9*time.Second)))
}

func TestWarmupValidator_FlushDiscardsUnvalidated(t *testing.T) {
	v := NewWarmupValidator(5*time.Second, 5, 3.0, 10*time.Second)
	base := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

	// Still warming at stop: the buffered burst is discarded.
	v.Observe(3, base)
	assert.Nil(t, v.Flush(3, base.Add(2*time.Second)))
}
