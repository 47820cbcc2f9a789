package pedometer

import (
	"math"
	"time"

	"github.com/stride-data/steps.report/internal/sensor"
)

// PulseFilter smooths a tri-axis acceleration stream and emits raw step
// pulses on magnitude peaks. It reacts to magnitude deltas rather than
// absolute values, so slow drift in the baseline does not trigger it.
type PulseFilter struct {
	threshold float64
	alpha     float64
	debounce  time.Duration

	fx, fy, fz    float64
	prevMagnitude float64
	primed        bool
	risingPending bool
	lastPulse     time.Time
}

// NewPulseFilter creates a filter with the given resolved settings.
func NewPulseFilter(threshold, alpha float64, debounce time.Duration) *PulseFilter {
	return &PulseFilter{
		threshold: threshold,
		alpha:     alpha,
		debounce:  debounce,
	}
}

// Feed consumes one sample and reports whether a raw pulse fired. Samples
// carrying NaN or infinite values are dropped without touching filter state.
func (f *PulseFilter) Feed(s sensor.Sample) bool {
	if !isFinite(s.X) || !isFinite(s.Y) || !isFinite(s.Z) {
		return false
	}

	if !f.primed {
		f.fx, f.fy, f.fz = s.X, s.Y, s.Z
		f.prevMagnitude = math.Sqrt(f.fx*f.fx + f.fy*f.fy + f.fz*f.fz)
		f.primed = true
		return false
	}

	f.fx = f.alpha*f.fx + (1-f.alpha)*s.X
	f.fy = f.alpha*f.fy + (1-f.alpha)*s.Y
	f.fz = f.alpha*f.fz + (1-f.alpha)*s.Z

	magnitude := math.Sqrt(f.fx*f.fx + f.fy*f.fy + f.fz*f.fz)
	diff := magnitude - f.prevMagnitude
	f.prevMagnitude = magnitude

	if diff > f.threshold {
		f.risingPending = true
		return false
	}

	// A pulse is the falling edge after a pending rising edge, subject to
	// the debounce interval.
	if diff < 0 && f.risingPending {
		f.risingPending = false
		if !f.lastPulse.IsZero() && s.At.Sub(f.lastPulse) < f.debounce {
			return false
		}
		f.lastPulse = s.At
		return true
	}
	return false
}

// Reset clears all filter state.
func (f *PulseFilter) Reset() {
	f.fx, f.fy, f.fz = 0, 0, 0
	f.prevMagnitude = 0
	f.primed = false
	f.risingPending = false
	f.lastPulse = time.Time{}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
