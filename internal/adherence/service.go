package adherence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/albapepper/salah/internal/completion"
	"github.com/albapepper/salah/internal/prayer"
)

// Service answers statistics queries against a completion store. It caches
// nothing between calls: the store is the single source of truth.
type Service struct {
	store  completion.Store
	now    func() time.Time
	logger *slog.Logger
}

// NewService wraps store. now defaults to time.Now.
func NewService(store completion.Store, now func() time.Time, logger *slog.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, now: now, logger: logger}
}

// Store exposes the underlying completion store.
func (s *Service) Store() completion.Store { return s.store }

// Now is the service clock.
func (s *Service) Now() time.Time { return s.now() }

// Stats computes statistics for [start, end]. On a store failure the result
// is zeroed with Available=false and the error wraps
// completion.ErrStoreUnavailable.
func (s *Service) Stats(ctx context.Context, start, end time.Time) (Stats, error) {
	from := prayer.AddDays(end, -StreakLookback)
	if start.Before(from) {
		from = start
	}
	recs, err := s.query(ctx, from, end)
	if err != nil {
		return unavailable(start, end), err
	}
	return ComputeStats(recs, start, end), nil
}

// Streaks returns the current and best streak as of asOf.
func (s *Service) Streaks(ctx context.Context, asOf time.Time) (current, best int, err error) {
	recs, err := s.query(ctx, prayer.AddDays(asOf, -StreakLookback), asOf)
	if err != nil {
		return 0, 0, err
	}
	current, best = ComputeStreaks(recs, asOf)
	return current, best, nil
}

// Week is the Monday-start weekly view for one date.
type Week struct {
	Start     string      `json:"start"`
	Days      []DayStatus `json:"days"`
	Completed int         `json:"completed"`
	Possible  int         `json:"possible"`
}

// Week returns the grid for date's week. Completed/Possible cover Monday
// through today when date falls in the current week, else the whole week.
func (s *Service) Week(ctx context.Context, date time.Time) (Week, error) {
	start := WeekStart(date)
	end := prayer.AddDays(start, 6)
	recs, err := s.query(ctx, start, end)
	if err != nil {
		return Week{Start: prayer.DateKey(start)}, err
	}

	w := Week{Start: prayer.DateKey(start), Days: WeeklyGrid(recs, date)}
	through := end
	if now := s.now(); prayer.DateKey(WeekStart(now)) == w.Start {
		through = now
	}
	w.Completed, w.Possible = ThisWeek(recs, through)
	return w, nil
}

// Summary is the quick view: today, this week and the current streak.
type Summary struct {
	Available      bool      `json:"available"`
	Date           string    `json:"date"`
	Today          DayStatus `json:"today"`
	TodayCompleted int       `json:"today_completed"`
	TodayTotal     int       `json:"today_total"`
	WeekCompleted  int       `json:"week_completed"`
	WeekPossible   int       `json:"week_possible"`
	WeekPct        float64   `json:"week_pct"`
	CurrentStreak  int       `json:"current_streak"`
	BestStreak     int       `json:"best_streak"`
}

// Summary computes the quick view as of the service clock.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	now := s.now()
	out := Summary{Date: prayer.DateKey(now)}
	recs, err := s.query(ctx, prayer.AddDays(now, -StreakLookback), now)
	if err != nil {
		return out, err
	}

	out.Available = true
	out.Today = DayCompleted(recs, now)
	out.TodayCompleted, out.TodayTotal = Today(recs, now)
	out.WeekCompleted, out.WeekPossible = ThisWeek(recs, now)
	out.WeekPct = ComputePercentage(recs, WeekStart(now), now)
	out.CurrentStreak, out.BestStreak = ComputeStreaks(recs, now)
	return out, nil
}

func (s *Service) query(ctx context.Context, from, to time.Time) ([]completion.Record, error) {
	recs, err := s.store.Query(ctx, from, to)
	if err == nil {
		return recs, nil
	}
	if !errors.Is(err, completion.ErrStoreUnavailable) {
		err = fmt.Errorf("%w: %v", completion.ErrStoreUnavailable, err)
	}
	s.logger.Warn("Completion store query failed",
		"from", prayer.DateKey(from), "to", prayer.DateKey(to), "error", err)
	return nil, err
}

func unavailable(start, end time.Time) Stats {
	return Stats{From: prayer.DateKey(start), To: prayer.DateKey(end)}
}
