// Package pipeline runs the periodic background jobs of a trade process.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// FillArchiver copies the trade journal of one trader to cold storage.
type FillArchiver interface {
	ArchiveFills(ctx context.Context, trader string, before time.Time) (int64, error)
}

// Archiver exports the fills of every trader older than the retention
// window on a cron schedule.
type Archiver struct {
	archiver      FillArchiver
	traders       []string
	retentionDays int
	now           func() time.Time
	logger        *slog.Logger
}

// NewArchiver creates a new Archiver.
func NewArchiver(archiver FillArchiver, traders []string, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		archiver:      archiver,
		traders:       traders,
		retentionDays: retentionDays,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single archive pass over all traders.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	var total int64
	for _, name := range a.traders {
		n, err := a.archiver.ArchiveFills(ctx, name, cutoff)
		if err != nil {
			return fmt.Errorf("pipeline: archive fills of %s before %v: %w", name, cutoff, err)
		}
		a.logger.Info("archived fills", slog.String("trader", name), slog.Int64("count", n))
		total += n
	}

	a.logger.Info("archive run complete", slog.Int64("fills_archived", total))
	return nil
}

// RunCron runs the archiver on a 5-field cron schedule
// ("minute hour day-of-month month day-of-week") until ctx is cancelled.
// A failed run is logged and the schedule continues.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("pipeline: cron %q: %w", cronExpr, err)
	}
	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := sched.next(a.now().UTC())
		if err != nil {
			return fmt.Errorf("pipeline: cron %q: %w", cronExpr, err)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// cronField is a bitset of the values a field accepts.
type cronField uint64

func (f cronField) has(v int) bool { return f&(1<<uint(v)) != 0 }

// parseCronField accepts "*", "*/step", "a", "a-b", "a-b/step" and
// comma-separated lists of those, bounded by [lo, hi].
func parseCronField(field string, lo, hi int) (cronField, error) {
	var f cronField
	for _, part := range strings.Split(field, ",") {
		rng, step := part, 1
		if i := strings.IndexByte(part, '/'); i >= 0 {
			s, err := strconv.Atoi(part[i+1:])
			if err != nil || s <= 0 {
				return 0, fmt.Errorf("invalid step in %q", part)
			}
			rng, step = part[:i], s
		}

		from, to := lo, hi
		if rng != "*" {
			a, b, isRange := strings.Cut(rng, "-")
			var err error
			if from, err = strconv.Atoi(a); err != nil {
				return 0, fmt.Errorf("invalid value %q", a)
			}
			to = from
			if isRange {
				if to, err = strconv.Atoi(b); err != nil {
					return 0, fmt.Errorf("invalid value %q", b)
				}
			}
		}
		if from < lo || to > hi || from > to {
			return 0, fmt.Errorf("%q out of range [%d, %d]", part, lo, hi)
		}
		for v := from; v <= to; v += step {
			f |= 1 << uint(v)
		}
	}
	return f, nil
}

type schedule struct {
	minute, hour, dom, month, dow cronField
}

func parseCron(expr string) (schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return schedule{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	var parsed [5]cronField
	for i, field := range fields {
		f, err := parseCronField(field, bounds[i][0], bounds[i][1])
		if err != nil {
			return schedule{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		parsed[i] = f
	}
	return schedule{parsed[0], parsed[1], parsed[2], parsed[3], parsed[4]}, nil
}

func (s schedule) matches(t time.Time) bool {
	return s.minute.has(t.Minute()) && s.hour.has(t.Hour()) &&
		s.dom.has(t.Day()) && s.month.has(int(t.Month())) && s.dow.has(int(t.Weekday()))
}

// next returns the first minute strictly after t that matches, searching at
// most one year ahead.
func (s schedule) next(t time.Time) (time.Time, error) {
	candidate := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.Add(366 * 24 * time.Hour)
	for ; candidate.Before(limit); candidate = candidate.Add(time.Minute) {
		if s.matches(candidate) {
			return candidate, nil
		}
	}
	return time.Time{}, fmt.Errorf("no matching time within one year")
}
