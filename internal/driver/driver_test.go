package driver

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/salah/internal/alerts"
	"github.com/albapepper/salah/internal/countdown"
	"github.com/albapepper/salah/internal/prayer"
	"github.com/albapepper/salah/internal/provider"
)

var wib = time.FixedZone("WIB", 7*3600)

var batam = prayer.Location{Latitude: 1.0456, Longitude: 104.0305, City: "Batam"}

type fakeProvider struct {
	mu    sync.Mutex
	fail  bool
	calls []prayer.Location
	inner provider.Static
}

func (f *fakeProvider) DailyInstants(ctx context.Context, loc prayer.Location, date time.Time, adj prayer.Adjustments) (prayer.DaySchedule, error) {
	f.mu.Lock()
	f.calls = append(f.calls, loc)
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return prayer.DaySchedule{}, errors.Join(prayer.ErrScheduleUnavailable, errors.New("offline"))
	}
	return f.inner.DailyInstants(ctx, loc, date, adj)
}

func (f *fakeProvider) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func newDriver(t *testing.T, p *fakeProvider, clk *clock, sched *alerts.Scheduler) *Driver {
	t.Helper()
	d, err := New(Options{
		Provider:  p,
		Scheduler: sched,
		Location:  batam,
		Settings:  prayer.DefaultSettings(),
		Now:       clk.Now,
		Debounce:  20 * time.Millisecond,
		Retry:     time.Minute,
	})
	require.NoError(t, err)
	return d
}

func at(h, m, s int) time.Time { return time.Date(2026, 10, 15, h, m, s, 0, wib) }

// batam carries no timezone, so schedules resolve in time.Local.
func TestMain(m *testing.M) {
	time.Local = wib
	os.Exit(m.Run())
}

func TestRecalculatePublishesSnapshot(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{inner: provider.DefaultStatic()}
	clk := &clock{t: at(10, 0, 0)}
	sched := alerts.NewScheduler(alerts.NewMemoryRegistry(), nil)
	d := newDriver(t, p, clk, sched)

	assert.False(t, d.Snapshot().Available)
	assert.Equal(t, countdown.Placeholder, d.Snapshot().Text)

	require.NoError(t, d.Recalculate(ctx, "test"))
	snap := d.Snapshot()
	require.True(t, snap.Available)
	assert.Equal(t, prayer.Dhuhr, snap.State.Next.Name)
	assert.Equal(t, "1:55:00", snap.Text)
	assert.Equal(t, "Dzuhur 1:55:00", snap.Label)
	assert.Nil(t, snap.State.Window) // Sunrise → Dhuhr
	assert.Nil(t, snap.Current)
	assert.Equal(t, "2026-10-16", prayer.DateKey(snap.Tomorrow.Date))
	assert.Equal(t, 2, p.callCount())

	pending, err := sched.PendingAlerts(ctx)
	require.NoError(t, err)
	// Today: Dhuhr..Isha (4 × exact+reminder); tomorrow: all 5 × 2.
	assert.Len(t, pending, 18)
}

func TestTickAdvancesAndRecalculatesOnInstant(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{inner: provider.DefaultStatic()}
	clk := &clock{t: at(15, 0, 0)}
	d := newDriver(t, p, clk, nil)
	require.NoError(t, d.Recalculate(ctx, "test"))

	snap := d.Tick(ctx, at(15, 2, 0))
	assert.Equal(t, prayer.Asr, snap.State.Next.Name)
	assert.Equal(t, time.Minute, snap.State.Remaining)
	assert.True(t, snap.State.Approaching)
	assert.Equal(t, 2, p.callCount())

	// Asr (15:03) reached: the next is Maghrib and a recalculation runs.
	clk.Set(at(15, 3, 1))
	snap = d.Tick(ctx, at(15, 3, 1))
	assert.Equal(t, prayer.Maghrib, snap.State.Next.Name)
	require.NotNil(t, snap.Current)
	assert.Equal(t, prayer.Asr, *snap.Current)
	require.NotNil(t, snap.State.Window)
	assert.Equal(t, 4, p.callCount())
}

func TestTickAfterIshaUsesTomorrow(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{inner: provider.DefaultStatic()}
	clk := &clock{t: at(20, 0, 0)}
	d := newDriver(t, p, clk, nil)
	require.NoError(t, d.Recalculate(ctx, "test"))

	snap := d.Snapshot()
	assert.Equal(t, prayer.Fajr, snap.State.Next.Name)
	assert.Equal(t, "2026-10-16", prayer.DateKey(snap.State.Next.Time))
	assert.Nil(t, snap.State.Window)

	// Midnight rollover refetches for the new date.
	next := time.Date(2026, 10, 16, 0, 0, 5, 0, wib)
	clk.Set(next)
	snap = d.Tick(ctx, next)
	assert.Equal(t, "2026-10-16", prayer.DateKey(snap.Today.Date))
	assert.Equal(t, 4, p.callCount())
}

func TestUnavailableScheduleDegrades(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{inner: provider.DefaultStatic(), fail: true}
	clk := &clock{t: at(10, 0, 0)}
	reg := alerts.NewMemoryRegistry()
	d := newDriver(t, p, clk, alerts.NewScheduler(reg, nil))

	err := d.Recalculate(ctx, "test")
	assert.ErrorIs(t, err, prayer.ErrScheduleUnavailable)
	snap := d.Snapshot()
	assert.False(t, snap.Available)
	assert.Equal(t, countdown.Placeholder, snap.Text)
	assert.NotEmpty(t, snap.Error)

	pending, err := reg.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Not retried before the retry interval.
	d.Tick(ctx, at(10, 0, 30))
	assert.Equal(t, 1, p.callCount())

	p.setFail(false)
	snap = d.Tick(ctx, at(10, 1, 0))
	assert.True(t, snap.Available)
	assert.Equal(t, prayer.Dhuhr, snap.State.Next.Name)
}

func TestSettingsChangedRebuildsAlerts(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{inner: provider.DefaultStatic()}
	clk := &clock{t: at(10, 0, 0)}
	reg := alerts.NewMemoryRegistry()
	d := newDriver(t, p, clk, alerts.NewScheduler(reg, nil))
	require.NoError(t, d.Recalculate(ctx, "test"))

	s := prayer.DefaultSettings()
	s.ReminderEnabled = false
	for _, k := range prayer.ObligatoryKinds {
		s.Modes[k] = prayer.ModeOff
	}
	s.Modes[prayer.Isha] = prayer.ModeSilent
	s.CountdownFormat = "humanis"
	require.NoError(t, d.SettingsChanged(ctx, s))

	pending, err := reg.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2) // today's and tomorrow's Isha
	for _, r := range pending {
		assert.False(t, r.Payload.WantsSound)
		assert.Equal(t, alerts.Exact, r.Kind)
	}
	assert.Equal(t, "2 jam lagi", d.Snapshot().Text)

	s.CountdownFormat = "sundial"
	assert.Error(t, d.SettingsChanged(ctx, s))
	s.CountdownFormat = "digital"
	s.ReminderLead = -time.Minute
	assert.Error(t, d.SettingsChanged(ctx, s))
}

func TestLocationChangedIsDebounced(t *testing.T) {
	p := &fakeProvider{inner: provider.DefaultStatic()}
	clk := &clock{t: at(10, 0, 0)}
	d := newDriver(t, p, clk, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)
	require.Eventually(t, func() bool { return d.Snapshot().Available }, time.Second, 5*time.Millisecond)
	base := p.callCount()

	for i := 0; i < 5; i++ {
		loc := batam
		loc.Latitude += float64(i) * 0.01
		require.NoError(t, d.LocationChanged(loc))
	}
	assert.Error(t, d.LocationChanged(prayer.Location{Latitude: 200}))

	require.Eventually(t, func() bool { return p.callCount() >= base+2 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	p.mu.Lock()
	calls := append([]prayer.Location(nil), p.calls[base:]...)
	p.mu.Unlock()
	// One recalculation (today + tomorrow) using the last fix only.
	require.Len(t, calls, 2)
	assert.InDelta(t, batam.Latitude+0.04, calls[0].Latitude, 1e-9)
	assert.InDelta(t, batam.Latitude+0.04, d.Location().Latitude, 1e-9)
}

type sendCounter struct {
	mu   sync.Mutex
	sent []alerts.Request
}

func (s *sendCounter) Send(_ context.Context, r alerts.Request) error {
	s.mu.Lock()
	s.sent = append(s.sent, r)
	s.mu.Unlock()
	return nil
}

func TestInstantRecalculationKeepsDueExactAlert(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{inner: provider.DefaultStatic()}
	clk := &clock{t: at(15, 0, 0)}
	sched := alerts.NewScheduler(alerts.NewMemoryRegistry(), nil)
	d := newDriver(t, p, clk, sched)
	require.NoError(t, d.Recalculate(ctx, "test"))

	sender := &sendCounter{}
	dispatchAt := func(now time.Time) {
		disp := &alerts.Dispatcher{Registry: sched.Registry(), Sender: sender, Now: func() time.Time { return now }}
		_, _, err := disp.DispatchDue(ctx)
		require.NoError(t, err)
	}

	dispatchAt(at(15, 2, 59))
	// The driver sees Asr reached and rebuilds before the dispatcher's next pass.
	reached := at(15, 3, 0).Add(200 * time.Millisecond)
	clk.Set(reached)
	d.Tick(ctx, reached)
	dispatchAt(reached.Add(500 * time.Millisecond))

	asrExact := alerts.ID(d.Snapshot().Today.Date, prayer.Asr, alerts.Exact)
	var got []string
	for _, r := range sender.sent {
		got = append(got, r.ID)
	}
	assert.Contains(t, got, asrExact)
}

func TestFailedLocationChangeCancelsOldAlerts(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{inner: provider.DefaultStatic()}
	clk := &clock{t: at(10, 0, 0)}
	reg := alerts.NewMemoryRegistry()
	d := newDriver(t, p, clk, alerts.NewScheduler(reg, nil))
	require.NoError(t, d.Recalculate(ctx, "test"))

	// A failure at the same location keeps the alerts.
	p.setFail(true)
	assert.Error(t, d.Recalculate(ctx, "test"))
	pending, err := reg.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 18)

	moved := batam
	moved.Latitude = -6.2
	moved.City = "Jakarta"
	assert.ErrorIs(t, d.SetLocation(ctx, moved), prayer.ErrScheduleUnavailable)
	pending, err = reg.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	p.setFail(false)
	require.NoError(t, d.Recalculate(ctx, "test"))
	pending, err = reg.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 18)
}

func TestLocalNowFollowsLocationTimezone(t *testing.T) {
	p := &fakeProvider{inner: provider.DefaultStatic()}
	// 03:00 WIB on the 15th, as seen by a UTC host.
	clk := &clock{t: time.Date(2026, 10, 14, 20, 0, 0, 0, time.UTC)}
	d := newDriver(t, p, clk, nil)
	require.NoError(t, d.SetLocation(context.Background(), prayer.Location{
		Latitude: 1.0456, Longitude: 104.0305, City: "Batam", Timezone: "Asia/Jakarta",
	}))
	assert.Equal(t, "2026-10-15", prayer.DateKey(d.LocalNow()))
	assert.True(t, clk.Now().Equal(d.LocalNow()))
}

func TestSnapshotJSONOmitsSettings(t *testing.T) {
	p := &fakeProvider{inner: provider.DefaultStatic()}
	d := newDriver(t, p, &clock{t: at(10, 0, 0)}, nil)
	require.NoError(t, d.Recalculate(context.Background(), "test"))

	b, err := json.Marshal(d.Snapshot())
	require.NoError(t, err)
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.NotContains(t, raw, "settings")
	assert.Contains(t, raw, "text")
}
