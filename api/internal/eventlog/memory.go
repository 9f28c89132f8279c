package eventlog

import (
	"context"
	"sync"
	"time"

	"sentinelai-backend/shared/events"
)

// MemoryLog keeps events in process. Events are held in id order; locks are
// only held for slice operations.
type MemoryLog struct {
	mu     sync.RWMutex
	nextID int64
	events []events.Event
	now    func() time.Time
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{now: time.Now}
}

// WithClock overrides the insert-time clock.
func (l *MemoryLog) WithClock(now func() time.Time) *MemoryLog {
	l.now = now
	return l
}

func (l *MemoryLog) Append(ctx context.Context, e events.Event) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	prepared, err := Prepare(e, l.now())
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	l.nextID++
	prepared.ID = l.nextID
	l.events = append(l.events, prepared)
	l.mu.Unlock()

	return prepared.ID, nil
}

func (l *MemoryLog) Query(ctx context.Context, f Filter) ([]events.Event, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	out := make([]events.Event, 0)
	for _, e := range l.events {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	l.mu.RUnlock()

	events.SortChronological(out)
	out = f.ApplyLimit(out)
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out, nil
}

func (l *MemoryLog) Watermark(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextID, nil
}

func (l *MemoryLog) PurgeOlderThan(ctx context.Context, cutoff time.Time, upTo int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.events[:0]
	removed := 0
	for _, e := range l.events {
		if e.ID <= upTo && e.OccurredAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(l.events); i++ {
		l.events[i] = events.Event{}
	}
	l.events = kept
	return removed, nil
}

// Len reports the number of retained events.
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

func (l *MemoryLog) Close() error { return nil }
