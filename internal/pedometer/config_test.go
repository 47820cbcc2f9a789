package pedometer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigResolve_Defaults(t *testing.T) {
	s, err := Config{}.resolve()
	require.NoError(t, err)
	assert.Equal(t, DefaultThreshold, s.threshold)
	assert.Equal(t, DefaultFilterAlpha, s.filterAlpha)
	assert.Equal(t, DefaultMinTimeBetweenPulses, s.minTimeBetweenPulses)
	assert.Equal(t, DefaultValidationWindow, s.validationWindow)
	assert.Equal(t, DefaultWarmupDuration, s.warmupDuration)
	assert.Equal(t, DefaultFlushInterval, s.flushInterval)
}

func TestConfigResolve_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"ZeroThreshold", Config{Detector: DetectorConfig{Threshold: f64Ptr(0)}}},
		{"AlphaOutOfRange", Config{Detector: DetectorConfig{FilterAlpha: f64Ptr(1.5)}}},
		{"NegativeShakeRate", Config{Shake: ShakeConfig{MaxStepsPerSecond: f64Ptr(-1)}}},
		{"BadDuration", Config{Shake: ShakeConfig{ValidationWindow: strPtr("soon")}}},
		{"NegativeDuration", Config{Warmup: WarmupConfig{RecordInterval: strPtr("-3s")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.resolve()
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pedometer.json")
	content := `{
		"detector": {"threshold": 1.2, "filter_alpha": 0.7},
		"shake": {"validation_window": "2s"},
		"warmup": {"warmup_duration": "0s"},
		"hardware_denylist": ["nokia"]
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	s, err := cfg.resolve()
	require.NoError(t, err)
	assert.Equal(t, 1.2, s.threshold)
	assert.Equal(t, 0.7, s.filterAlpha)
	assert.Equal(t, 2*time.Second, s.validationWindow)
	assert.Zero(t, s.warmupDuration)
	assert.Equal(t, []string{"nokia"}, s.denylist)
}

func TestLoadConfig_RejectsNonJSON(t *testing.T) {
	_, err := LoadConfig("pedometer.yaml")
	assert.Error(t, err)
}
