// Package pedometer turns raw motion samples into validated, persisted step
// records. The pipeline is filter → shake rejection → warmup validation, with
// confirmed deltas buffered in the session and flushed to a record sink.
package pedometer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Detection and validation defaults. Tuned for a ~50Hz accelerometer stream.
const (
	DefaultThreshold            = 1.0
	DefaultFilterAlpha          = 0.8
	DefaultMinTimeBetweenPulses = 240 * time.Millisecond

	DefaultValidationWindow  = 1500 * time.Millisecond
	DefaultMaxShakeStepsPerS = 4.0
	DefaultMinPendingSteps   = 3

	DefaultWarmupDuration     = 10 * time.Second
	DefaultMinStepsToValidate = 10
	DefaultWarmupMaxStepsPerS = 3.0
	DefaultRecordInterval     = 10 * time.Second

	DefaultFlushInterval = 5 * time.Second
)

// DetectorConfig tunes the peak detector.
type DetectorConfig struct {
	// Threshold is the magnitude delta that marks a rising edge.
	Threshold *float64 `json:"threshold,omitempty"`
	// FilterAlpha is the exponential smoothing factor in (0,1). Higher is
	// smoother and slower to react.
	FilterAlpha *float64 `json:"filter_alpha,omitempty"`
	// MinTimeBetweenPulses is a hard debounce between emitted pulses.
	MinTimeBetweenPulses *string `json:"min_time_between_pulses,omitempty"`
}

// ShakeConfig tunes the sliding-window rate validator.
type ShakeConfig struct {
	ValidationWindow  *string  `json:"validation_window,omitempty"`
	MaxStepsPerSecond *float64 `json:"max_steps_per_second,omitempty"`
	MinPendingSteps   *int     `json:"min_pending_steps,omitempty"`
}

// WarmupConfig tunes the session-level persistence gate. A zero
// WarmupDuration disables the gate entirely and commits from the first
// interval.
type WarmupConfig struct {
	WarmupDuration     *string  `json:"warmup_duration,omitempty"`
	MinStepsToValidate *int     `json:"min_steps_to_validate,omitempty"`
	MaxStepsPerSecond  *float64 `json:"max_steps_per_second,omitempty"`
	RecordInterval     *string  `json:"record_interval,omitempty"`
}

// Config is the full pipeline configuration. Fields omitted from a JSON
// config file retain their defaults, so partial configs are safe.
type Config struct {
	Detector DetectorConfig `json:"detector"`
	Shake    ShakeConfig    `json:"shake"`
	Warmup   WarmupConfig   `json:"warmup"`

	// FlushInterval is how often buffered committed records are written to
	// the sink.
	FlushInterval *string `json:"flush_interval,omitempty"`

	// ForceSoftwareDetection ignores any hardware step sensor and always
	// runs the accelerometer pipeline.
	ForceSoftwareDetection *bool `json:"force_software_detection,omitempty"`

	// HardwareDenylist lists device model substrings whose hardware step
	// sensors are known unreliable. Matching devices fall back to software
	// detection.
	HardwareDenylist []string `json:"hardware_denylist,omitempty"`
}

// settings is the resolved, non-pointer form used by the pipeline.
type settings struct {
	threshold            float64
	filterAlpha          float64
	minTimeBetweenPulses time.Duration

	validationWindow time.Duration
	maxShakeRate     float64
	minPendingSteps  int

	warmupDuration     time.Duration
	minStepsToValidate int
	warmupMaxRate      float64
	recordInterval     time.Duration

	flushInterval time.Duration

	forceSoftware bool
	denylist      []string
}

func parseDuration(field string, s *string, def time.Duration) (time.Duration, error) {
	if s == nil {
		return def, nil
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, *s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", field, *s)
	}
	return d, nil
}

// resolve validates the config and fills defaults.
func (c Config) resolve() (settings, error) {
	s := settings{
		threshold:          DefaultThreshold,
		filterAlpha:        DefaultFilterAlpha,
		maxShakeRate:       DefaultMaxShakeStepsPerS,
		minPendingSteps:    DefaultMinPendingSteps,
		minStepsToValidate: DefaultMinStepsToValidate,
		warmupMaxRate:      DefaultWarmupMaxStepsPerS,
		denylist:           c.HardwareDenylist,
	}

	if c.Detector.Threshold != nil {
		if *c.Detector.Threshold <= 0 {
			return s, fmt.Errorf("detector threshold must be positive, got %v", *c.Detector.Threshold)
		}
		s.threshold = *c.Detector.Threshold
	}
	if c.Detector.FilterAlpha != nil {
		if *c.Detector.FilterAlpha <= 0 || *c.Detector.FilterAlpha >= 1 {
			return s, fmt.Errorf("filter alpha must be in (0,1), got %v", *c.Detector.FilterAlpha)
		}
		s.filterAlpha = *c.Detector.FilterAlpha
	}
	if c.Shake.MaxStepsPerSecond != nil {
		if *c.Shake.MaxStepsPerSecond <= 0 {
			return s, fmt.Errorf("shake max rate must be positive, got %v", *c.Shake.MaxStepsPerSecond)
		}
		s.maxShakeRate = *c.Shake.MaxStepsPerSecond
	}
	if c.Shake.MinPendingSteps != nil {
		s.minPendingSteps = *c.Shake.MinPendingSteps
	}
	if c.Warmup.MinStepsToValidate != nil {
		s.minStepsToValidate = *c.Warmup.MinStepsToValidate
	}
	if c.Warmup.MaxStepsPerSecond != nil {
		if *c.Warmup.MaxStepsPerSecond <= 0 {
			return s, fmt.Errorf("warmup max rate must be positive, got %v", *c.Warmup.MaxStepsPerSecond)
		}
		s.warmupMaxRate = *c.Warmup.MaxStepsPerSecond
	}
	if c.ForceSoftwareDetection != nil {
		s.forceSoftware = *c.ForceSoftwareDetection
	}

	var err error
	if s.minTimeBetweenPulses, err = parseDuration("min_time_between_pulses", c.Detector.MinTimeBetweenPulses, DefaultMinTimeBetweenPulses); err != nil {
		return s, err
	}
	if s.validationWindow, err = parseDuration("validation_window", c.Shake.ValidationWindow, DefaultValidationWindow); err != nil {
		return s, err
	}
	if s.validationWindow <= 0 {
		return s, fmt.Errorf("validation window must be positive, got %v", s.validationWindow)
	}
	if s.warmupDuration, err = parseDuration("warmup_duration", c.Warmup.WarmupDuration, DefaultWarmupDuration); err != nil {
		return s, err
	}
	if s.recordInterval, err = parseDuration("record_interval", c.Warmup.RecordInterval, DefaultRecordInterval); err != nil {
		return s, err
	}
	if s.recordInterval <= 0 {
		return s, fmt.Errorf("record interval must be positive, got %v", s.recordInterval)
	}
	if s.flushInterval, err = parseDuration("flush_interval", c.FlushInterval, DefaultFlushInterval); err != nil {
		return s, err
	}
	return s, nil
}

// UseHardwareSensor reports whether the pipeline should drive from a
// hardware step sensor on this device, or fall back to the accelerometer.
func (c Config) UseHardwareSensor(hasHardware bool, deviceModel string) bool {
	if !hasHardware {
		return false
	}
	if c.ForceSoftwareDetection != nil && *c.ForceSoftwareDetection {
		return false
	}
	model := strings.ToLower(deviceModel)
	for _, deny := range c.HardwareDenylist {
		if deny != "" && strings.Contains(model, strings.ToLower(deny)) {
			return false
		}
	}
	return true
}

// LoadConfig reads a Config from a JSON file. Omitted fields keep their
// defaults.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if _, err := cfg.resolve(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
