package provider

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/salah/internal/cache"
	"github.com/albapepper/salah/internal/prayer"
)

var batam = prayer.Location{Latitude: 1.0456, Longitude: 104.0305, City: "Batam", Timezone: "Asia/Jakarta"}

type countingProvider struct {
	calls atomic.Int32
	next  prayer.Provider
	fail  func(time.Time) bool
}

func (c *countingProvider) DailyInstants(ctx context.Context, loc prayer.Location, date time.Time, adj prayer.Adjustments) (prayer.DaySchedule, error) {
	c.calls.Add(1)
	if c.fail != nil && c.fail(date) {
		return prayer.DaySchedule{}, errors.Join(prayer.ErrScheduleUnavailable, errors.New("boom"))
	}
	return c.next.DailyInstants(ctx, loc, date, adj)
}

func TestStatic(t *testing.T) {
	tz := batam.TimeLocation()
	ds, err := DefaultStatic().DailyInstants(context.Background(), batam, time.Date(2026, 10, 15, 13, 0, 0, 0, tz), prayer.KemenagAdjustments())
	require.NoError(t, err)
	assert.Equal(t, "2026-10-15", prayer.DateKey(ds.Date))
	assert.Equal(t, "04:40", ds.Time(prayer.Fajr).Format("15:04"))
	assert.Equal(t, "05:48", ds.Time(prayer.Sunrise).Format("15:04"))

	_, err = DefaultStatic().DailyInstants(context.Background(), prayer.Location{Latitude: -100}, time.Now(), nil)
	assert.ErrorIs(t, err, prayer.ErrScheduleUnavailable)

	// Offsets that collapse two instants are rejected.
	bad := DefaultStatic()
	bad.Offsets[1] = bad.Offsets[0]
	_, err = bad.DailyInstants(context.Background(), batam, time.Now(), nil)
	assert.ErrorIs(t, err, prayer.ErrScheduleUnavailable)
}

func TestCached(t *testing.T) {
	ctx := context.Background()
	inner := &countingProvider{next: DefaultStatic()}
	c := NewCached(inner, cache.New(true), 11, nil)
	day := time.Date(2026, 10, 15, 8, 0, 0, 0, batam.TimeLocation())
	adj := prayer.KemenagAdjustments()

	first, err := c.DailyInstants(ctx, batam, day, adj)
	require.NoError(t, err)
	second, err := c.DailyInstants(ctx, batam, day.Add(6*time.Hour), adj)
	require.NoError(t, err)
	assert.Equal(t, int32(1), inner.calls.Load())
	for _, n := range prayer.Names {
		assert.True(t, first.Time(n).Equal(second.Time(n)))
	}
	assert.Equal(t, "Asia/Jakarta", second.Date.Location().String())

	// Different adjustments are a different key.
	_, err = c.DailyInstants(ctx, batam, day, prayer.Adjustments{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())

	assert.Equal(t, 2, c.Invalidate())
	_, err = c.DailyInstants(ctx, batam, day, adj)
	require.NoError(t, err)
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestCachedDoesNotCacheFailures(t *testing.T) {
	inner := &countingProvider{next: DefaultStatic(), fail: func(time.Time) bool { return true }}
	c := NewCached(inner, cache.New(true), 11, nil)
	for i := 0; i < 2; i++ {
		_, err := c.DailyInstants(context.Background(), batam, time.Now(), nil)
		assert.ErrorIs(t, err, prayer.ErrScheduleUnavailable)
	}
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestFetchRange(t *testing.T) {
	from := time.Date(2026, 10, 15, 0, 0, 0, 0, batam.TimeLocation())
	badDay := prayer.DateKey(prayer.AddDays(from, 3))
	inner := &countingProvider{
		next: DefaultStatic(),
		fail: func(d time.Time) bool { return prayer.DateKey(d) == badDay },
	}

	res := FetchRange(context.Background(), inner, batam, from, 7, nil, 3, nil)
	require.Len(t, res.Schedules, 6)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], badDay)
	for i := 1; i < len(res.Schedules); i++ {
		assert.True(t, res.Schedules[i-1].Date.Before(res.Schedules[i].Date))
	}
	assert.Equal(t, "2026-10-15", prayer.DateKey(res.Schedules[0].Date))
	assert.Contains(t, res.Summary(), "6 days fetched, 1 failed")

	assert.Empty(t, FetchRange(context.Background(), inner, batam, from, 0, nil, 3, nil).Schedules)
}
