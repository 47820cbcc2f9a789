package db

import (
	"context"

	"github.com/google/uuid"

	"github.com/stride-data/steps.report/internal/monitoring"
)

type watchKind int

const (
	watchTotal watchKind = iota
	watchRecords
)

type watcher struct {
	id        string
	kind      watchKind
	query     Query
	totalCh   chan int64
	recordsCh chan []StepRecord
}

// TotalWatch is a live subscription to a step total. The channel holds the
// latest value; a slow consumer sees the most recent total, not a backlog.
type TotalWatch struct {
	ID string
	C  <-chan int64
}

// RecordsWatch is a live subscription to a record listing.
type RecordsWatch struct {
	ID string
	C  <-chan []StepRecord
}

// WatchTotal subscribes to the total for q. The current value is emitted
// before WatchTotal returns, so consumers rendering "current total" never see
// a transient empty state. Every successful insert or delete re-emits.
func (s *StepStore) WatchTotal(ctx context.Context, q Query) (*TotalWatch, error) {
	total, err := s.ReadTotal(ctx, q)
	if err != nil {
		return nil, err
	}

	w := &watcher{
		id:      uuid.New().String(),
		kind:    watchTotal,
		query:   q,
		totalCh: make(chan int64, 1),
	}
	w.totalCh <- total

	s.watchMu.Lock()
	s.watchers[w.id] = w
	s.watchMu.Unlock()

	return &TotalWatch{ID: w.id, C: w.totalCh}, nil
}

// WatchRecords subscribes to the record listing for q, with the same
// immediate-initial-emit contract as WatchTotal.
func (s *StepStore) WatchRecords(ctx context.Context, q Query) (*RecordsWatch, error) {
	records, err := s.ReadRecords(ctx, q)
	if err != nil {
		return nil, err
	}

	w := &watcher{
		id:        uuid.New().String(),
		kind:      watchRecords,
		query:     q,
		recordsCh: make(chan []StepRecord, 1),
	}
	w.recordsCh <- records

	s.watchMu.Lock()
	s.watchers[w.id] = w
	s.watchMu.Unlock()

	return &RecordsWatch{ID: w.id, C: w.recordsCh}, nil
}

// Unwatch removes a subscription. Unknown ids are a no-op.
func (s *StepStore) Unwatch(id string) {
	s.watchMu.Lock()
	delete(s.watchers, id)
	s.watchMu.Unlock()
}

// notifyWatchers re-evaluates every subscription after a mutation. Each
// channel is drained before the fresh value is pushed so delivery never
// blocks the writer.
func (s *StepStore) notifyWatchers(ctx context.Context) {
	s.watchMu.Lock()
	watchers := make([]*watcher, 0, len(s.watchers))
	for _, w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.watchMu.Unlock()

	for _, w := range watchers {
		switch w.kind {
		case watchTotal:
			total, err := s.ReadTotal(ctx, w.query)
			if err != nil {
				monitoring.Logf("step store: watch %s re-read failed: %v", w.id, err)
				continue
			}
			select {
			case <-w.totalCh:
			default:
			}
			w.totalCh <- total
		case watchRecords:
			records, err := s.ReadRecords(ctx, w.query)
			if err != nil {
				monitoring.Logf("step store: watch %s re-read failed: %v", w.id, err)
				continue
			}
			select {
			case <-w.recordsCh:
			default:
			}
			w.recordsCh <- records
		}
	}
}
