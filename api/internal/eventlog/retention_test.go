package eventlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"sentinelai-backend/shared/events"
	"sentinelai-backend/shared/logx"
)

func TestRetentionScenario(t *testing.T) {
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLog()
	mustAppend(t, l, events.Event{EventType: events.TypeRadioPacket, OccurredAt: now.Add(-8 * 24 * time.Hour)})
	kept := mustAppend(t, l, events.Event{EventType: events.TypeRadioPacket, OccurredAt: now.Add(-6 * 24 * time.Hour)})

	s := NewSweeper(l, RetentionPolicy{Days: 7}, time.Hour, logx.Discard())
	res, err := s.PurgeExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if res.Removed["events"] != 1 {
		t.Fatalf("expected 1 removed, got %#v", res.Removed)
	}
	if !res.Cutoff.Equal(now.Add(-7 * 24 * time.Hour)) {
		t.Fatalf("unexpected cutoff %v", res.Cutoff)
	}
	got, _ := l.Query(context.Background(), Filter{})
	if len(got) != 1 || got[0].ID != kept {
		t.Fatalf("expected only the 6 day old event to remain, got %#v", got)
	}

	res, err = s.PurgeExpired(context.Background(), now)
	if err != nil || res.Removed["events"] != 0 {
		t.Fatalf("expected idempotent second run, got %#v err=%v", res.Removed, err)
	}
}

type countingPurger struct {
	cutoffs []time.Time
	err     error
}

func (p *countingPurger) Watermark(ctx context.Context) (int64, error) {
	return 10, nil
}

func (p *countingPurger) PurgeOlderThan(ctx context.Context, cutoff time.Time, upTo int64) (int, error) {
	p.cutoffs = append(p.cutoffs, cutoff)
	return 2, p.err
}

// lateAppendLog appends a backdated event right after the sweep reads the
// watermark, before any delete runs.
type lateAppendLog struct {
	*MemoryLog
	t    *testing.T
	late events.Event
	id   int64
}

func (l *lateAppendLog) Watermark(ctx context.Context) (int64, error) {
	wm, err := l.MemoryLog.Watermark(ctx)
	l.id = mustAppend(l.t, l.MemoryLog, l.late)
	return wm, err
}

func TestPurgeKeepsEventsAppendedDuringSweep(t *testing.T) {
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	l := &lateAppendLog{
		MemoryLog: NewMemoryLog(),
		t:         t,
		late:      events.Event{EventType: events.TypeAlert, OccurredAt: now.Add(-48 * time.Hour)},
	}
	mustAppend(t, l.MemoryLog, events.Event{EventType: events.TypeAlert, OccurredAt: now.Add(-72 * time.Hour)})

	s := NewSweeper(l, RetentionPolicy{Days: 1}, time.Hour, logx.Discard())
	res, err := s.PurgeExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if res.Removed["events"] != 1 {
		t.Fatalf("expected only the pre-existing event removed, got %#v", res.Removed)
	}
	got, _ := l.Query(context.Background(), Filter{})
	if len(got) != 1 || got[0].ID != l.id {
		t.Fatalf("expected the late backdated event to survive, got %#v", got)
	}
}

func TestSweeperPurgesExtraTargets(t *testing.T) {
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	snapshots := &countingPurger{}
	s := NewSweeper(NewMemoryLog(), RetentionPolicy{Days: 1}, time.Hour, logx.Discard()).Also("snapshots", snapshots)
	res, err := s.PurgeExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if res.Removed["snapshots"] != 2 || len(snapshots.cutoffs) != 1 || !snapshots.cutoffs[0].Equal(now.Add(-24*time.Hour)) {
		t.Fatalf("unexpected snapshot purge: %#v %#v", res.Removed, snapshots.cutoffs)
	}
}

func TestSweeperSurfacesTargetErrors(t *testing.T) {
	failing := &countingPurger{err: errors.New("db down")}
	s := NewSweeper(failing, RetentionPolicy{Days: 7}, time.Hour, logx.Discard())
	if _, err := s.PurgeExpired(context.Background(), time.Now()); err == nil {
		t.Fatalf("expected error")
	}
}

type fakeLocker struct {
	acquire bool
	calls   int
}

func (l *fakeLocker) TryRun(ctx context.Context, fn func(context.Context) error) (bool, error) {
	l.calls++
	if !l.acquire {
		return false, nil
	}
	return true, fn(ctx)
}

func TestSweepHonoursLocker(t *testing.T) {
	target := &countingPurger{}
	locker := &fakeLocker{acquire: false}
	s := NewSweeper(target, RetentionPolicy{Days: 7}, time.Hour, logx.Discard()).WithLocker(locker)
	s.Sweep(context.Background())
	if locker.calls != 1 || len(target.cutoffs) != 0 {
		t.Fatalf("expected sweep to be skipped without the lock")
	}
	locker.acquire = true
	s.Sweep(context.Background())
	if len(target.cutoffs) != 1 {
		t.Fatalf("expected sweep to run with the lock")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	target := &countingPurger{}
	s := NewSweeper(target, RetentionPolicy{Days: 7}, time.Hour, logx.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop")
	}
}
