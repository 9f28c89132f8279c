package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sentinelai-backend/shared/logx"
	"sentinelai-backend/shared/metricsx"
)

const DefaultRetentionDays = 7

type RetentionPolicy struct {
	Days int
}

// Cutoff is the oldest OccurredAt that survives a sweep at now.
func (p RetentionPolicy) Cutoff(now time.Time) time.Time {
	days := p.Days
	if days < 1 {
		days = DefaultRetentionDays
	}
	return now.UTC().Add(-time.Duration(days) * 24 * time.Hour)
}

// Purger is anything the sweep trims by age. Rows appended after Watermark
// was read carry larger ids and are out of reach of the matching purge.
type Purger interface {
	Watermark(ctx context.Context) (int64, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time, upTo int64) (int, error)
}

// Locker runs fn on at most one replica at a time.
type Locker interface {
	TryRun(ctx context.Context, fn func(context.Context) error) (bool, error)
}

type PurgeResult struct {
	Cutoff  time.Time      `json:"cutoff"`
	Removed map[string]int `json:"removed"`
}

type target struct {
	name   string
	purger Purger
}

// Sweeper applies the retention policy to the event log and any extra
// targets registered with Also.
type Sweeper struct {
	policy   RetentionPolicy
	interval time.Duration
	targets  []target
	locker   Locker
	now      func() time.Time
	logger   logx.Logger
}

func NewSweeper(log Purger, policy RetentionPolicy, interval time.Duration, logger logx.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		policy:   policy,
		interval: interval,
		targets:  []target{{name: "events", purger: log}},
		now:      time.Now,
		logger:   logger.With(slog.String("component", "retention")),
	}
}

// Also registers another store trimmed with the same cutoff.
func (s *Sweeper) Also(name string, p Purger) *Sweeper {
	s.targets = append(s.targets, target{name: name, purger: p})
	return s
}

func (s *Sweeper) WithLocker(l Locker) *Sweeper {
	s.locker = l
	return s
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// PurgeExpired removes everything older than the policy cutoff at now that
// was already stored when the cutoff was taken. Running it again with the
// same now removes nothing further.
func (s *Sweeper) PurgeExpired(ctx context.Context, now time.Time) (PurgeResult, error) {
	marks := make([]int64, len(s.targets))
	for i, t := range s.targets {
		wm, err := t.purger.Watermark(ctx)
		if err != nil {
			return PurgeResult{}, fmt.Errorf("purge %s: %w", t.name, err)
		}
		marks[i] = wm
	}
	res := PurgeResult{Cutoff: s.policy.Cutoff(now), Removed: make(map[string]int, len(s.targets))}
	for i, t := range s.targets {
		n, err := t.purger.PurgeOlderThan(ctx, res.Cutoff, marks[i])
		if err != nil {
			return res, fmt.Errorf("purge %s: %w", t.name, err)
		}
		res.Removed[t.name] = n
		if t.name == "events" {
			metricsx.AddEventsPurged(n)
		}
	}
	return res, nil
}

// Sweep runs one guarded pass. Failures are logged and the next tick retries.
func (s *Sweeper) Sweep(ctx context.Context) {
	run := func(ctx context.Context) error {
		res, err := s.PurgeExpired(ctx, s.now())
		if err != nil {
			return err
		}
		attrs := []slog.Attr{slog.Time("cutoff", res.Cutoff)}
		for name, n := range res.Removed {
			attrs = append(attrs, slog.Int("removed_"+name, n))
		}
		s.logger.Info(ctx, "retention_sweep", "retention sweep completed", attrs...)
		return nil
	}

	var err error
	if s.locker == nil {
		err = run(ctx)
	} else {
		var ran bool
		ran, err = s.locker.TryRun(ctx, run)
		if err == nil && !ran {
			s.logger.Debug(ctx, "retention_sweep_skipped", "another replica holds the retention lock")
		}
	}
	if err != nil && ctx.Err() == nil {
		s.logger.Error(ctx, "retention_sweep_failed", "retention sweep failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
}

// Run sweeps immediately and then on every interval until ctx ends.
func (s *Sweeper) Run(ctx context.Context) error {
	s.Sweep(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}
