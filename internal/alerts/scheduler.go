package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/albapepper/salah/internal/prayer"
)

// CarryOverGrace is how long a due alert the dispatcher has not sent yet
// survives a rebuild. Older leftovers (a host that slept through them) are
// dropped rather than fired late.
const CarryOverGrace = time.Minute

// Scheduler rebuilds the registered alert set whenever the schedule or the
// settings change. It is the surface the delivery host drives.
type Scheduler struct {
	registry Registry
	logger   *slog.Logger
}

// NewScheduler wraps a registry.
func NewScheduler(registry Registry, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{registry: registry, logger: logger}
}

// Rebuild discards everything registered for the schedules' dates and
// installs a freshly built set. Alerts that are already due but still
// registered (not yet dispatched) are kept when within CarryOverGrace of now,
// so a rebuild at the very instant an alert fires cannot swallow it.
// Concurrent rebuilds are last-write-wins.
func (s *Scheduler) Rebuild(ctx context.Context, now time.Time, settings prayer.Settings, schedules ...prayer.DaySchedule) ([]Request, error) {
	var (
		dates []time.Time
		reqs  []Request
	)
	for _, ds := range schedules {
		if ds.IsZero() {
			continue
		}
		dates = append(dates, ds.Date)
		reqs = append(reqs, BuildFromSettings(now, ds, settings)...)
	}
	if len(dates) == 0 {
		return nil, nil
	}

	carried, err := s.dueUnsent(ctx, now, dates, reqs)
	if err != nil {
		return nil, fmt.Errorf("rebuild alerts: %w", err)
	}
	reqs = append(reqs, carried...)
	sortByFireAt(reqs)

	if err := s.registry.Replace(ctx, dates, reqs); err != nil {
		return nil, fmt.Errorf("rebuild alerts: %w", err)
	}
	s.logger.Info("Alerts rebuilt", "dates", len(dates), "count", len(reqs), "carried", len(carried))
	return reqs, nil
}

// dueUnsent returns registered alerts on dates that fired at or before now,
// no earlier than CarryOverGrace ago, and are not part of fresh.
func (s *Scheduler) dueUnsent(ctx context.Context, now time.Time, dates []time.Time, fresh []Request) ([]Request, error) {
	pending, err := s.registry.Pending(ctx)
	if err != nil {
		return nil, err
	}
	onDates := make(map[string]bool, len(dates))
	for _, d := range dates {
		onDates[dateKey(d)] = true
	}
	built := make(map[string]bool, len(fresh))
	for _, r := range fresh {
		built[r.ID] = true
	}

	var out []Request
	for _, r := range pending {
		if !onDates[r.DateKey()] || built[r.ID] {
			continue
		}
		if r.FireAt.After(now) || now.Sub(r.FireAt) > CarryOverGrace {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// PendingAlerts returns the registered set.
func (s *Scheduler) PendingAlerts(ctx context.Context) ([]Request, error) {
	return s.registry.Pending(ctx)
}

// CancelAll drops every registered alert.
func (s *Scheduler) CancelAll(ctx context.Context) error {
	if err := s.registry.CancelAll(ctx); err != nil {
		return err
	}
	s.logger.Info("Alerts cancelled")
	return nil
}

// Registry exposes the underlying registry to the dispatch worker.
func (s *Scheduler) Registry() Registry { return s.registry }
