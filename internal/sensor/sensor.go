// Package sensor defines the ports through which the step engine consumes
// platform motion data: a stream of tri-axis acceleration samples, an optional
// hardware step-pulse stream, and the OS cumulative step counter. The core
// pipeline compiles and tests entirely against the fakes in this package; real
// deployments plug in an adapter such as SerialSource.
package sensor

import (
	"context"
	"time"
)

// Sample is one tri-axis acceleration reading. Units are whatever the platform
// delivers (typically m/s² or g); the detection pipeline only reacts to
// magnitude deltas, so absolute scale does not matter as long as it is stable.
type Sample struct {
	X, Y, Z float64
	At      time.Time
}

// MotionSource delivers acceleration samples while running. Delivery is
// best-effort: the platform may drop samples and consumers must tolerate gaps.
type MotionSource interface {
	// Samples returns the channel on which readings are delivered.
	Samples() <-chan Sample

	// Run pumps the source until the context is cancelled. It returns nil on
	// clean shutdown.
	Run(ctx context.Context) error
}

// PulseSource delivers pre-debounced step pulses from a hardware step
// detector. Each value on the channel is the pulse timestamp.
type PulseSource interface {
	Pulses() <-chan time.Time
	Run(ctx context.Context) error
}

// StepCounter exposes the OS cumulative step counter: a value that increases
// monotonically until device reboot. The second return reports availability;
// an unavailable counter is not an error.
type StepCounter interface {
	Steps(ctx context.Context) (count int64, ok bool)
}

// Capabilities describes what the current device offers the detector.
type Capabilities struct {
	// HasHardwareStepSensor reports whether a hardware step-pulse sensor is
	// nominally present.
	HasHardwareStepSensor bool

	// DeviceModel is the platform device identifier, matched against the
	// hardware denylist for manufacturers with unreliable pulse sensors.
	DeviceModel string
}
