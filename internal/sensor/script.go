package sensor

import (
	"context"
	"sync"
	"time"
)

// ScriptSource replays a fixed sequence of samples. It backs dev mode in
// cmd/stepd and the pipeline tests, standing in for a real accelerometer.
type ScriptSource struct {
	script   []Sample
	interval time.Duration
	loop     bool
	samples  chan Sample
}

// NewScriptSource creates a source that emits the given samples in order,
// one per interval. When loop is set, the script restarts after the last
// sample (timestamps are not rewritten; loop mode is for soak testing only).
func NewScriptSource(script []Sample, interval time.Duration, loop bool) *ScriptSource {
	return &ScriptSource{
		script:   script,
		interval: interval,
		loop:     loop,
		samples:  make(chan Sample, 16),
	}
}

// Samples returns the channel on which scripted readings are delivered.
func (s *ScriptSource) Samples() <-chan Sample {
	return s.samples
}

// Run replays the script until it is exhausted or the context is cancelled.
func (s *ScriptSource) Run(ctx context.Context) error {
	defer close(s.samples)

	for {
		for _, sample := range s.script {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.interval):
			}
			select {
			case s.samples <- sample:
			case <-ctx.Done():
				return nil
			}
		}
		if !s.loop {
			return nil
		}
	}
}

// FakeCounter is a settable StepCounter for tests and dev mode.
type FakeCounter struct {
	mu        sync.Mutex
	count     int64
	available bool
}

// NewFakeCounter creates an available counter starting at count.
func NewFakeCounter(count int64) *FakeCounter {
	return &FakeCounter{count: count, available: true}
}

// Steps implements StepCounter.
func (c *FakeCounter) Steps(ctx context.Context) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count, c.available
}

// Set replaces the counter value.
func (c *FakeCounter) Set(count int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count = count
}

// Add advances the counter by delta.
func (c *FakeCounter) Add(delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count += delta
}

// SetAvailable toggles counter availability, simulating missing hardware or a
// revoked permission.
func (c *FakeCounter) SetAvailable(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.available = ok
}
