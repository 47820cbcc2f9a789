// Package keepalive bridges the persistent foreground process that keeps
// step detection running on platforms where background execution is
// unreliable. The core only depends on the Service port; platform adapters
// live outside this module.
package keepalive

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stride-data/steps.report/internal/monitoring"
	"github.com/stride-data/steps.report/internal/timeutil"
)

// NotificationConfig describes the persistent notification shown while the
// keep-alive process runs.
type NotificationConfig struct {
	Title string
	Text  string
	// ShowStepCount renders the live count in the notification body.
	ShowStepCount bool
}

// Service is the keep-alive port. While started it guarantees the detector
// keeps receiving samples and exposes a pollable step count.
type Service interface {
	Start(cfg NotificationConfig) error
	Stop() error
	Count(ctx context.Context) (int64, bool)
}

// NoopService is the Service for platforms that do not need a keep-alive
// process. Its count is always unavailable.
type NoopService struct{}

func (NoopService) Start(NotificationConfig) error { return nil }
func (NoopService) Stop() error                    { return nil }
func (NoopService) Count(context.Context) (int64, bool) {
	return 0, false
}

// Update is one observed counter value.
type Update struct {
	Count int64
	At    time.Time
}

// Bridge polls a Service and fans counter updates out to subscribers. It
// caches the last observed value so readers have a fallback when the
// service is momentarily unreachable.
type Bridge struct {
	svc      Service
	clock    timeutil.Clock
	interval time.Duration

	mu        sync.Mutex
	last      int64
	lastOK    bool
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	observers map[string]chan Update
}

// NewBridge creates a bridge polling svc at the given interval. A nil clock
// means real time.
func NewBridge(svc Service, clock timeutil.Clock, interval time.Duration) *Bridge {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Bridge{
		svc:       svc,
		clock:     clock,
		interval:  interval,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		observers: make(map[string]chan Update),
	}
}

// Run starts the service and polls its count until the context is cancelled
// or Stop is called. The service is stopped on the way out.
func (b *Bridge) Run(ctx context.Context, cfg NotificationConfig) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	b.mu.Unlock()

	defer func() {
		close(b.doneCh)
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	if err := b.svc.Start(cfg); err != nil {
		return err
	}
	defer func() {
		if err := b.svc.Stop(); err != nil {
			monitoring.Logf("keepalive: stop: %v", err)
		}
	}()

	ticker := b.clock.NewTicker(b.interval)
	defer ticker.Stop()

	b.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.stopCh:
			return nil
		case <-ticker.C():
			b.poll(ctx)
		}
	}
}

// Stop requests shutdown and waits for the poll loop to exit. Safe to call
// more than once.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	select {
	case <-b.stopCh:
	default:
		close(b.stopCh)
	}
	b.mu.Unlock()

	<-b.doneCh
}

// IsRunning reports whether the poll loop is active.
func (b *Bridge) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *Bridge) poll(ctx context.Context) {
	count, ok := b.svc.Count(ctx)
	if !ok {
		return
	}
	at := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()
	changed := !b.lastOK || count != b.last
	b.last = count
	b.lastOK = true
	if !changed {
		return
	}
	u := Update{Count: count, At: at}
	for _, ch := range b.observers {
		select {
		case ch <- u:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- u:
			default:
			}
		}
	}
}

// Steps returns the freshest known count, polling the service directly and
// falling back to the cached value. It satisfies the step-counter contract
// used by startup reconciliation.
func (b *Bridge) Steps(ctx context.Context) (int64, bool) {
	if count, ok := b.svc.Count(ctx); ok {
		b.mu.Lock()
		b.last = count
		b.lastOK = true
		b.mu.Unlock()
		return count, true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.lastOK
}

// LastCount returns the cached counter value, if any was ever observed.
func (b *Bridge) LastCount() (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.lastOK
}

// Subscribe registers a counter-update observer. A slow consumer sees the
// most recent update, not a backlog.
func (b *Bridge) Subscribe() (string, <-chan Update) {
	ch := make(chan Update, 1)
	id := uuid.New().String()
	b.mu.Lock()
	b.observers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes an observer. Unknown ids are ignored.
func (b *Bridge) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.observers[id]; ok {
		close(ch)
		delete(b.observers, id)
	}
}

// WaitForFresh blocks until the next counter update or the timeout, falling
// back to the cached value on expiry rather than blocking indefinitely.
func (b *Bridge) WaitForFresh(ctx context.Context, timeout time.Duration) (int64, bool) {
	id, ch := b.Subscribe()
	defer b.Unsubscribe(id)

	select {
	case u := <-ch:
		return u.Count, true
	case <-ctx.Done():
		return b.LastCount()
	case <-b.clock.After(timeout):
		return b.LastCount()
	}
}
