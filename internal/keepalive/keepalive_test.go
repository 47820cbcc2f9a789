package keepalive

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeService struct {
	mu        sync.Mutex
	started   bool
	stopped   bool
	cfg       NotificationConfig
	count     int64
	available bool
}

func (f *fakeService) Start(cfg NotificationConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	f.cfg = cfg
	return nil
}

func (f *fakeService) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeService) Count(ctx context.Context) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, f.available
}

func (f *fakeService) set(count int64, available bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count = count
	f.available = available
}

func TestNoopService(t *testing.T) {
	var svc NoopService
	if err := svc.Start(NotificationConfig{Title: "steps"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, ok := svc.Count(context.Background()); ok {
		t.Error("NoopService reported an available count")
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestBridge_PollsAndNotifies(t *testing.T) {
	svc := &fakeService{count: 100, available: true}
	b := NewBridge(svc, nil, 10*time.Millisecond)

	id, ch := b.Subscribe()
	defer b.Unsubscribe(id)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, NotificationConfig{Title: "walking"}) }()

	// First observed value arrives.
	select {
	case u := <-ch:
		if u.Count != 100 {
			t.Errorf("update = %d, want 100", u.Count)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update for the initial count")
	}

	svc.set(150, true)
	select {
	case u := <-ch:
		if u.Count != 150 {
			t.Errorf("update = %d, want 150", u.Count)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update after counter change")
	}

	b.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if !svc.started || !svc.stopped {
		t.Errorf("service lifecycle: started=%v stopped=%v, want both true", svc.started, svc.stopped)
	}
	if svc.cfg.Title != "walking" {
		t.Errorf("notification title = %q, want %q", svc.cfg.Title, "walking")
	}
}

func TestBridge_StepsFallsBackToCache(t *testing.T) {
	svc := &fakeService{count: 42, available: true}
	b := NewBridge(svc, nil, time.Second)

	count, ok := b.Steps(context.Background())
	if !ok || count != 42 {
		t.Fatalf("Steps = (%d, %v), want (42, true)", count, ok)
	}

	// Service goes away; the cached value still answers.
	svc.set(0, false)
	count, ok = b.Steps(context.Background())
	if !ok || count != 42 {
		t.Errorf("cached Steps = (%d, %v), want (42, true)", count, ok)
	}
}

func TestBridge_StepsUnavailableWithoutCache(t *testing.T) {
	svc := &fakeService{available: false}
	b := NewBridge(svc, nil, time.Second)

	if _, ok := b.Steps(context.Background()); ok {
		t.Error("Steps reported available with no observation ever made")
	}
}

func TestBridge_WaitForFreshTimesOut(t *testing.T) {
	svc := &fakeService{available: false}
	b := NewBridge(svc, nil, time.Second)

	start := time.Now()
	_, ok := b.WaitForFresh(context.Background(), 50*time.Millisecond)
	if ok {
		t.Error("WaitForFresh reported a value with no updates")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("WaitForFresh blocked for %v, want bounded wait", elapsed)
	}
}

func TestBridge_StopIsIdempotent(t *testing.T) {
	svc := &fakeService{available: true}
	b := NewBridge(svc, nil, 10*time.Millisecond)

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, NotificationConfig{}) }()

	// Give the loop a moment to start.
	deadline := time.Now().Add(2 * time.Second)
	for !b.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	b.Stop()
	b.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
}
