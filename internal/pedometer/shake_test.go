package pedometer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShakeRejector_ConfirmsPlausibleWalking(t *testing.T) {
	r := NewShakeRejector(1500*time.Millisecond, 4.0, 3)
	base := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

	// Six pulses across the 1.5s window is 4.0 steps/s, right at the limit.
	for i := 0; i < 6; i++ {
		at := base.Add(time.Duration(i) * 250 * time.Millisecond)
		r.Pulse(at)
		assert.Zero(t, r.Evaluate(at), "nothing confirms before the window closes")
	}

	confirmed := r.Evaluate(base.Add(1500 * time.Millisecond))
	assert.Equal(t, int64(6), confirmed)
	assert.Zero(t, r.Pending())
}

func TestShakeRejector_RejectsSustainedShake(t *testing.T) {
	r := NewShakeRejector(1500*time.Millisecond, 4.0, 3)
	base := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

	// 15 pulses per 1.5s window, sustained for four windows. Every window
	// evaluates as a shake; nothing ever confirms.
	var confirmed int64
	for i := 0; i < 60; i++ {
		at := base.Add(time.Duration(i) * 100 * time.Millisecond)
		r.Pulse(at)
		confirmed += r.Evaluate(at)
	}
	confirmed += r.Evaluate(base.Add(6 * time.Second))
	assert.Zero(t, confirmed)
}

func TestShakeRejector_InconclusiveWindowExtends(t *testing.T) {
	r := NewShakeRejector(1500*time.Millisecond, 4.0, 3)
	base := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

	// Two pulses is below the minimum; the window extends rather than
	// confirming or rejecting.
	r.Pulse(base)
	r.Pulse(base.Add(500 * time.Millisecond))
	assert.Zero(t, r.Evaluate(base.Add(2*time.Second)))
	assert.Equal(t, int64(2), r.Pending())

	// A third pulse inside the extended window tips it over: three steps
	// over 3s is a plausible rate.
	r.Pulse(base.Add(2500 * time.Millisecond))
	confirmed := r.Evaluate(base.Add(3 * time.Second))
	assert.Equal(t, int64(3), confirmed)
}

func TestShakeRejector_WalkingResumesAfterShake(t *testing.T) {
	r := NewShakeRejector(1500*time.Millisecond, 4.0, 3)
	base := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

	// A 20-pulse burst inside one window rejects.
	for i := 0; i < 20; i++ {
		r.Pulse(base.Add(time.Duration(i) * 50 * time.Millisecond))
	}
	assert.Zero(t, r.Evaluate(base.Add(1500*time.Millisecond)))

	// Walking afterwards confirms again. The confirmation covers everything
	// since the last confirmed pointer, so the pending burst drains with it.
	for i := 0; i < 5; i++ {
		r.Pulse(base.Add(2*time.Second + time.Duration(i)*300*time.Millisecond))
	}
	confirmed := r.Evaluate(base.Add(3500 * time.Millisecond))
	assert.Equal(t, int64(25), confirmed)
	assert.Zero(t, r.Pending())
}

func TestShakeRejector_Reset(t *testing.T) {
	r := NewShakeRejector(1500*time.Millisecond, 4.0, 3)
	base := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

	r.Pulse(base)
	r.Pulse(base.Add(100 * time.Millisecond))
	r.Reset()

	assert.Zero(t, r.Pending())
	assert.Zero(t, r.Evaluate(base.Add(2*time.Second)))
}
