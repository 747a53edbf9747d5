// Package provider holds prayer.Provider decorators and helpers shared by
// the concrete providers: a TTL cache wrapper, a fixed-offset provider for
// offline use, and a concurrent multi-day fetch.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/albapepper/salah/internal/cache"
	"github.com/albapepper/salah/internal/prayer"
)

// --------------------------------------------------------------------------
// Cached
// --------------------------------------------------------------------------

// Cached memoizes a provider per (location, date, adjustments, method).
// Failures are never cached.
type Cached struct {
	next   prayer.Provider
	cache  *cache.Cache
	method int
	logger *slog.Logger
}

var _ prayer.Provider = (*Cached)(nil)

// NewCached wraps next. method only feeds the cache key.
func NewCached(next prayer.Provider, c *cache.Cache, method int, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{next: next, cache: c, method: method, logger: logger}
}

const keyPrefix = "schedule:"

func (c *Cached) key(loc prayer.Location, date time.Time, adj prayer.Adjustments) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%.4f,%.4f:%s:%s:m%d", keyPrefix, loc.Latitude, loc.Longitude, loc.Timezone,
		prayer.DateKey(date.In(loc.TimeLocation())), c.method)
	for _, n := range prayer.Names {
		fmt.Fprintf(&b, ":%d", adj[n])
	}
	return b.String()
}

func (c *Cached) DailyInstants(ctx context.Context, loc prayer.Location, date time.Time, adj prayer.Adjustments) (prayer.DaySchedule, error) {
	key := c.key(loc, date, adj)
	if raw, _, ok := c.cache.Get(key); ok {
		var ds prayer.DaySchedule
		if err := json.Unmarshal(raw, &ds); err == nil {
			return relocate(ds, loc.TimeLocation()), nil
		}
		c.logger.Warn("Dropping undecodable cached schedule", "key", key)
	}

	ds, err := c.next.DailyInstants(ctx, loc, date, adj)
	if err != nil {
		return ds, err
	}
	if raw, err := json.Marshal(ds); err == nil {
		c.cache.Set(key, raw, cache.TTLSchedule)
	}
	return ds, nil
}

// Invalidate drops every cached schedule.
func (c *Cached) Invalidate() int {
	return c.cache.Delete(func(k string) bool { return strings.HasPrefix(k, keyPrefix) })
}

// relocate restores the named zone lost in JSON round trips.
func relocate(ds prayer.DaySchedule, tz *time.Location) prayer.DaySchedule {
	ds.Date = ds.Date.In(tz)
	for i := range ds.Instants {
		ds.Instants[i].Time = ds.Instants[i].Time.In(tz)
	}
	return ds
}

// --------------------------------------------------------------------------
// Static
// --------------------------------------------------------------------------

// Static returns the same wall-clock offsets from midnight every day, then
// applies adjustments. Used offline and in tests.
type Static struct {
	Offsets [6]time.Duration
}

var _ prayer.Provider = Static{}

// DefaultStatic approximates Batam's schedule.
func DefaultStatic() Static {
	return Static{Offsets: [6]time.Duration{
		4*time.Hour + 38*time.Minute,
		5*time.Hour + 51*time.Minute,
		11*time.Hour + 55*time.Minute,
		15*time.Hour + 3*time.Minute,
		17*time.Hour + 56*time.Minute,
		19*time.Hour + 5*time.Minute,
	}}
}

func (s Static) DailyInstants(_ context.Context, loc prayer.Location, date time.Time, adj prayer.Adjustments) (prayer.DaySchedule, error) {
	if err := loc.Validate(); err != nil {
		return prayer.DaySchedule{}, fmt.Errorf("%w: %v", prayer.ErrScheduleUnavailable, err)
	}
	day := prayer.StartOfDay(date.In(loc.TimeLocation()))
	instants := make([]prayer.Instant, len(prayer.Names))
	for i, n := range prayer.Names {
		at := day.Add(s.Offsets[i] + time.Duration(adj[n])*time.Minute)
		instants[i] = prayer.Instant{Name: n, Time: at}
	}
	ds, err := prayer.NewDaySchedule(day, loc, instants)
	if err != nil {
		return ds, fmt.Errorf("%w: %v", prayer.ErrScheduleUnavailable, err)
	}
	return ds, nil
}

// --------------------------------------------------------------------------
// FetchRange
// --------------------------------------------------------------------------

// RangeResult summarizes a multi-day fetch.
type RangeResult struct {
	Schedules []prayer.DaySchedule
	Errors    []string
	Duration  time.Duration
}

// Summary is a one-line description for logs.
func (r RangeResult) Summary() string {
	return fmt.Sprintf("%d days fetched, %d failed in %s", len(r.Schedules), len(r.Errors), r.Duration.Round(time.Millisecond))
}

// FetchRange fetches days consecutive days starting at from with a pool of
// workers. Successful schedules come back in date order; failed days are
// listed in Errors.
func FetchRange(ctx context.Context, p prayer.Provider, loc prayer.Location, from time.Time, days int, adj prayer.Adjustments, workers int, logger *slog.Logger) RangeResult {
	start := time.Now()
	var result RangeResult
	if days <= 0 {
		return result
	}
	if logger == nil {
		logger = slog.Default()
	}

	if workers < 1 {
		workers = 1
	}
	if workers > days {
		workers = days
	}

	first := prayer.StartOfDay(from.In(loc.TimeLocation()))
	ch := make(chan time.Time, days)
	for i := 0; i < days; i++ {
		ch <- prayer.AddDays(first, i)
	}
	close(ch)

	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for day := range ch {
				ds, err := p.DailyInstants(ctx, loc, day, adj)

				mu.Lock()
				if err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", prayer.DateKey(day), err))
				} else {
					result.Schedules = append(result.Schedules, ds)
				}
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	sort.Slice(result.Schedules, func(i, j int) bool {
		return result.Schedules[i].Date.Before(result.Schedules[j].Date)
	})
	sort.Strings(result.Errors)
	result.Duration = time.Since(start)

	logger.Debug("Range fetch complete", "summary", result.Summary())
	return result
}
