package pedometer

import (
	"context"
	"sync"
	"time"

	"github.com/stride-data/steps.report/internal/monitoring"
	"github.com/stride-data/steps.report/internal/timeutil"
)

// finalFlushTimeout bounds the shutdown flush so Stop cannot hang on a
// wedged database.
const finalFlushTimeout = 10 * time.Second

// Flusher periodically writes a session's buffered records to its sink, so
// a process kill between lifecycle events loses at most one interval of
// committed steps.
type Flusher struct {
	session *Session
	clock   timeutil.Clock

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewFlusher creates a flusher for the session. A nil clock means real time.
func NewFlusher(session *Session, clock timeutil.Clock) *Flusher {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Flusher{
		session: session,
		clock:   clock,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Run blocks, flushing on the session's configured interval, until the
// context is cancelled or Stop is called. A final flush runs on the way out.
func (f *Flusher) Run(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = true
	f.stopCh = make(chan struct{})
	f.doneCh = make(chan struct{})
	f.mu.Unlock()

	defer func() {
		close(f.doneCh)
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
	}()

	interval := f.session.cfg.flushInterval
	if interval <= 0 {
		monitoring.Logf("flusher: interval is zero or negative, not starting")
		return nil
	}

	ticker := f.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.flushFinal()
			return nil
		case <-f.stopCh:
			f.flushFinal()
			return nil
		case <-ticker.C():
			if err := f.session.Flush(ctx); err != nil {
				monitoring.Logf("flusher: %v", err)
			}
		}
	}
}

// Stop requests shutdown and waits for the final flush. Safe to call more
// than once.
func (f *Flusher) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	f.mu.Unlock()

	<-f.doneCh
}

// IsRunning reports whether the flush loop is active.
func (f *Flusher) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *Flusher) flushFinal() {
	ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()
	if err := f.session.Flush(ctx); err != nil {
		monitoring.Logf("flusher: final flush: %v", err)
	}
}
