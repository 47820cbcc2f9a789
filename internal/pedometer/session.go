package pedometer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stride-data/steps.report/internal/db"
	"github.com/stride-data/steps.report/internal/monitoring"
	"github.com/stride-data/steps.report/internal/sensor"
	"github.com/stride-data/steps.report/internal/timeutil"
)

// RecordSink accepts validated step records. *db.StepStore implements it.
type RecordSink interface {
	Insert(ctx context.Context, rec db.StepRecord) (int, error)
}

// Session is one start/stop cycle of the detection pipeline. It owns the
// filter, shake, and warmup state, buffers committed records until they are
// flushed to the sink, and fans confirmed totals out to subscribers.
//
// HandleSample and HandlePulse are called synchronously from whatever
// goroutine delivers sensor data; they never block on I/O.
type Session struct {
	ID string

	cfg   settings
	sink  RecordSink
	clock timeutil.Clock

	mu        sync.Mutex
	filter    *PulseFilter
	shake     *ShakeRejector
	warmup    *WarmupValidator
	total     int64
	lifecycle db.Source
	pending   []db.StepRecord
	stopped   bool

	obsMu     sync.Mutex
	observers map[string]chan int64
}

// NewSession creates a session. A nil clock means real time.
func NewSession(cfg Config, sink RecordSink, clock timeutil.Clock) (*Session, error) {
	s, err := cfg.resolve()
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Session{
		ID:        uuid.New().String(),
		cfg:       s,
		sink:      sink,
		clock:     clock,
		filter:    NewPulseFilter(s.threshold, s.filterAlpha, s.minTimeBetweenPulses),
		shake:     NewShakeRejector(s.validationWindow, s.maxShakeRate, s.minPendingSteps),
		warmup:    NewWarmupValidator(s.warmupDuration, s.minStepsToValidate, s.warmupMaxRate, s.recordInterval),
		lifecycle: db.SourceForeground,
		observers: make(map[string]chan int64),
	}, nil
}

// SetLifecycleState tags subsequently committed records with the given
// source. Only foreground and background are meaningful here.
func (s *Session) SetLifecycleState(src db.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lifecycle = src
}

// Steps returns the confirmed step count for this session.
func (s *Session) Steps() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// HandleSample feeds one accelerometer sample through the full pipeline.
func (s *Session) HandleSample(sample sensor.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.filter.Feed(sample) {
		s.shake.Pulse(sample.At)
	}
	s.advanceLocked(sample.At)
}

// HandlePulse feeds one hardware step pulse. Hardware sensors debounce on
// their own, so the filter is bypassed; shake and warmup validation still
// apply.
func (s *Session) HandlePulse(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.shake.Pulse(at)
	s.advanceLocked(at)
}

func (s *Session) advanceLocked(now time.Time) {
	if confirmed := s.shake.Evaluate(now); confirmed > 0 {
		s.total += confirmed
		s.notifyObservers(s.total)
	}
	if commit := s.warmup.Observe(s.total, now); commit != nil {
		s.bufferLocked(*commit)
	}
}

func (s *Session) bufferLocked(c Commit) {
	s.pending = append(s.pending, db.StepRecord{
		StepCount: c.Steps,
		FromTime:  c.From,
		ToTime:    c.To,
		Source:    s.lifecycle,
	})
}

// Flush writes buffered records to the sink. On failure the unwritten
// remainder stays buffered for the next attempt.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	records := s.pending
	s.pending = nil
	s.mu.Unlock()

	for i, rec := range records {
		if _, err := s.sink.Insert(ctx, rec); err != nil {
			s.mu.Lock()
			s.pending = append(records[i:], s.pending...)
			s.mu.Unlock()
			return fmt.Errorf("failed to flush step records: %w", err)
		}
	}
	return nil
}

// Stop commits any validated remainder, flushes the buffer synchronously,
// and tears the session down. Calling Stop again is a no-op.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	if commit := s.warmup.Flush(s.total, s.clock.Now()); commit != nil {
		s.bufferLocked(*commit)
	}
	s.mu.Unlock()

	if err := s.Flush(ctx); err != nil {
		return err
	}

	s.obsMu.Lock()
	for id, ch := range s.observers {
		close(ch)
		delete(s.observers, id)
	}
	s.obsMu.Unlock()
	return nil
}

// Reset clears all detection state and the confirmed count. Buffered
// records that were already committed by the validator are kept for flush.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter.Reset()
	s.shake.Reset()
	s.total = 0
	s.warmup.Reset(0)
}

// Subscribe registers a live step-count observer. The channel carries the
// confirmed total after each change and is closed on Stop. The current
// total is emitted immediately.
func (s *Session) Subscribe() (string, <-chan int64) {
	ch := make(chan int64, 1)
	ch <- s.Steps()

	id := uuid.New().String()
	s.obsMu.Lock()
	s.observers[id] = ch
	s.obsMu.Unlock()
	return id, ch
}

// Unsubscribe removes an observer. Unknown ids are ignored.
func (s *Session) Unsubscribe(id string) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	if ch, ok := s.observers[id]; ok {
		close(ch)
		delete(s.observers, id)
	}
}

// notifyObservers delivers the latest total without blocking: a slow
// consumer sees the most recent value, not a backlog.
func (s *Session) notifyObservers(total int64) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	for id, ch := range s.observers {
		select {
		case ch <- total:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- total:
			default:
				monitoring.Logf("session %s: dropped step update for observer %s", s.ID, id)
			}
		}
	}
}
