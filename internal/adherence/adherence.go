// Package adherence derives completion statistics from the completion log:
// completed-day counts, streaks, rolling percentages and weekly grids.
//
// Every function here is pure over the records it is handed and compares
// dates at day granularity. A day is fully completed when all five
// obligatory prayers carry a completed record.
package adherence

import (
	"sort"
	"time"

	"github.com/albapepper/salah/internal/completion"
	"github.com/albapepper/salah/internal/prayer"
)

// PrayersPerDay is the number of obligatory prayers.
const PrayersPerDay = len(prayer.ObligatoryKinds)

// StreakLookback bounds how far back the service loads records for streaks.
const StreakLookback = 365

// KindStats is the per-prayer tally over a range.
type KindStats struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Stats is derived on demand and never stored.
type Stats struct {
	Available        bool                      `json:"available"`
	From             string                    `json:"from"`
	To               string                    `json:"to"`
	TotalDays        int                       `json:"total_days"`
	CompletedDays    int                       `json:"completed_days"`
	TotalPrayers     int                       `json:"total_prayers"`
	CompletedPrayers int                       `json:"completed_prayers"`
	CurrentStreak    int                       `json:"current_streak"`
	BestStreak       int                       `json:"best_streak"`
	WeeklyPct        float64                   `json:"weekly_pct"`
	MonthlyPct       float64                   `json:"monthly_pct"`
	PerKind          map[prayer.Kind]KindStats `json:"per_kind"`
}

// --------------------------------------------------------------------------
// Day index
// --------------------------------------------------------------------------

// dayIndex maps YYYY-MM-DD to the set of completed obligatory kinds.
type dayIndex map[string]map[prayer.Kind]bool

func index(records []completion.Record) dayIndex {
	idx := make(dayIndex)
	for _, r := range records {
		if !r.Completed || !r.Kind.Obligatory() {
			continue
		}
		day := r.DateKey()
		if idx[day] == nil {
			idx[day] = make(map[prayer.Kind]bool, PrayersPerDay)
		}
		idx[day][r.Kind] = true
	}
	return idx
}

func (idx dayIndex) count(day string) int { return len(idx[day]) }

func (idx dayIndex) full(day string) bool { return idx.count(day) == PrayersPerDay }

// --------------------------------------------------------------------------
// Core computations
// --------------------------------------------------------------------------

// ComputeStats aggregates [start, end]. Streaks are taken as of end and the
// weekly/monthly percentages cover the trailing 7/30 days ending at end, so
// records should reach back far enough for those windows.
func ComputeStats(records []completion.Record, start, end time.Time) Stats {
	idx := index(records)
	st := Stats{
		Available: true,
		From:      prayer.DateKey(start),
		To:        prayer.DateKey(end),
		PerKind:   make(map[prayer.Kind]KindStats, PrayersPerDay),
	}

	days := prayer.DaysBetween(start, end) + 1
	if days < 0 {
		days = 0
	}
	st.TotalDays = days
	st.TotalPrayers = days * PrayersPerDay
	for _, k := range prayer.ObligatoryKinds {
		st.PerKind[k] = KindStats{Total: days}
	}

	for i := 0; i < days; i++ {
		day := prayer.DateKey(prayer.AddDays(start, i))
		for k := range idx[day] {
			ks := st.PerKind[k]
			ks.Completed++
			st.PerKind[k] = ks
			st.CompletedPrayers++
		}
		if idx.full(day) {
			st.CompletedDays++
		}
	}

	st.CurrentStreak, st.BestStreak = streaks(idx, end)
	st.WeeklyPct = percentage(idx, prayer.AddDays(end, -6), end)
	st.MonthlyPct = percentage(idx, prayer.AddDays(end, -29), end)
	return st
}

// ComputeStreaks returns the current and best run of fully completed days
// up to asOf. An incomplete asOf does not break the current streak; the walk
// then starts from the day before.
func ComputeStreaks(records []completion.Record, asOf time.Time) (current, best int) {
	return streaks(index(records), asOf)
}

func streaks(idx dayIndex, asOf time.Time) (current, best int) {
	asOfKey := prayer.DateKey(asOf)

	cursor := prayer.StartOfDay(asOf)
	if !idx.full(asOfKey) {
		cursor = prayer.AddDays(cursor, -1)
	}
	for idx.full(prayer.DateKey(cursor)) {
		current++
		cursor = prayer.AddDays(cursor, -1)
	}

	var full []time.Time
	for day := range idx {
		if day > asOfKey || !idx.full(day) {
			continue
		}
		t, err := time.Parse(time.DateOnly, day)
		if err != nil {
			continue
		}
		full = append(full, t)
	}
	sort.Slice(full, func(i, j int) bool { return full[i].Before(full[j]) })

	run := 0
	for i, t := range full {
		if i > 0 && prayer.DaysBetween(full[i-1], t) == 1 {
			run++
		} else {
			run = 1
		}
		best = max(best, run)
	}
	return current, best
}

// ComputePercentage is completed prayers over possible prayers in
// [start, end], as a percentage. Zero when the window is empty.
func ComputePercentage(records []completion.Record, start, end time.Time) float64 {
	return percentage(index(records), start, end)
}

func percentage(idx dayIndex, start, end time.Time) float64 {
	days := prayer.DaysBetween(start, end) + 1
	possible := days * PrayersPerDay
	if possible <= 0 {
		return 0
	}
	completed := 0
	for i := 0; i < days; i++ {
		completed += idx.count(prayer.DateKey(prayer.AddDays(start, i)))
	}
	return float64(completed) / float64(possible) * 100
}

// --------------------------------------------------------------------------
// Weekly views
// --------------------------------------------------------------------------

// WeekStart returns the Monday on or before t, at midnight.
func WeekStart(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return prayer.AddDays(t, -offset)
}

// DayStatus is one row of the weekly grid.
type DayStatus struct {
	Date      string               `json:"date"`
	Completed map[prayer.Kind]bool `json:"completed"`
}

// Count is the number of completed prayers that day.
func (d DayStatus) Count() int {
	n := 0
	for _, ok := range d.Completed {
		if ok {
			n++
		}
	}
	return n
}

// DayCompleted reports, per obligatory kind, whether date is completed.
func DayCompleted(records []completion.Record, date time.Time) DayStatus {
	return dayStatus(index(records), date)
}

func dayStatus(idx dayIndex, date time.Time) DayStatus {
	day := prayer.DateKey(date)
	ds := DayStatus{Date: day, Completed: make(map[prayer.Kind]bool, PrayersPerDay)}
	for _, k := range prayer.ObligatoryKinds {
		ds.Completed[k] = idx[day][k]
	}
	return ds
}

// WeeklyGrid returns Monday through Sunday of date's week, every kind
// present and defaulting to false.
func WeeklyGrid(records []completion.Record, date time.Time) []DayStatus {
	idx := index(records)
	start := WeekStart(date)
	grid := make([]DayStatus, 7)
	for i := range grid {
		grid[i] = dayStatus(idx, prayer.AddDays(start, i))
	}
	return grid
}

// Today returns completed and possible prayers for now's day.
func Today(records []completion.Record, now time.Time) (completed, total int) {
	return index(records).count(prayer.DateKey(now)), PrayersPerDay
}

// ThisWeek returns completed and possible prayers from Monday through now's
// day inclusive.
func ThisWeek(records []completion.Record, now time.Time) (completed, possible int) {
	idx := index(records)
	start := WeekStart(now)
	days := prayer.DaysBetween(start, now) + 1
	for i := 0; i < days; i++ {
		completed += idx.count(prayer.DateKey(prayer.AddDays(start, i)))
	}
	return completed, days * PrayersPerDay
}
