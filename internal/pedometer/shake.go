package pedometer

import "time"

// ShakeRejector sits between raw pulses and the confirmed step count. It
// validates the instantaneous rate over a sliding window so a rejected shake
// episode does not poison later legitimate walking.
type ShakeRejector struct {
	window   time.Duration
	maxRate  float64
	minSteps int

	pendingCount       int64
	windowOpen         bool
	windowStart        time.Time
	windowStartPending int64
	lastConfirmed      int64
}

// NewShakeRejector creates a rejector with the given resolved settings.
func NewShakeRejector(window time.Duration, maxRate float64, minSteps int) *ShakeRejector {
	return &ShakeRejector{
		window:   window,
		maxRate:  maxRate,
		minSteps: minSteps,
	}
}

// Pulse records a raw pulse at the given instant, opening a validation
// window if none is open.
func (r *ShakeRejector) Pulse(at time.Time) {
	r.pendingCount++
	if !r.windowOpen {
		r.windowOpen = true
		r.windowStart = at
		r.windowStartPending = r.pendingCount - 1
	}
}

// Evaluate checks the open window against now and returns the number of
// newly confirmed steps, zero if the window is still open or was rejected.
// Call it on every sample, not just on pulses, so a window closes even when
// pulses stop arriving.
func (r *ShakeRejector) Evaluate(now time.Time) int64 {
	if !r.windowOpen {
		return 0
	}
	elapsed := now.Sub(r.windowStart)
	if elapsed < r.window {
		return 0
	}

	windowSteps := r.pendingCount - r.windowStartPending
	rate := float64(windowSteps) / elapsed.Seconds()

	if rate > r.maxRate {
		// Shake. Slide the window forward without confirming; pendingCount
		// keeps accumulating so walking that continues past the episode is
		// not lost.
		r.windowStart = now
		r.windowStartPending = r.pendingCount
		return 0
	}
	if windowSteps < int64(r.minSteps) {
		// Inconclusive. Leave the window anchored and wait for more data.
		return 0
	}

	confirmed := r.pendingCount - r.lastConfirmed
	r.lastConfirmed = r.pendingCount
	r.windowStart = now
	r.windowStartPending = r.pendingCount
	return confirmed
}

// Pending returns raw pulses not yet confirmed or rejected.
func (r *ShakeRejector) Pending() int64 {
	return r.pendingCount - r.lastConfirmed
}

// Reset clears all window state.
func (r *ShakeRejector) Reset() {
	r.pendingCount = 0
	r.windowOpen = false
	r.windowStart = time.Time{}
	r.windowStartPending = 0
	r.lastConfirmed = 0
}
