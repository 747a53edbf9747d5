// Package driver runs the countdown: a 1 Hz loop that advances the engine
// against the current schedule and recalculates (re-fetch today and
// tomorrow, rebuild alerts) when an instant is reached, the date rolls over,
// the location changes (debounced) or the settings change.
//
// The schedule pair and the countdown state derived from it are published
// together as one immutable Snapshot, so readers never see a state computed
// from a different schedule.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/albapepper/salah/internal/alerts"
	"github.com/albapepper/salah/internal/countdown"
	"github.com/albapepper/salah/internal/prayer"
)

const (
	TickInterval            = time.Second
	DefaultDebounce         = 100 * time.Millisecond
	DefaultUnavailableRetry = time.Minute
)

// Snapshot is the published view. Never mutated after Store.
type Snapshot struct {
	Available        bool               `json:"available"`
	Error            string             `json:"error,omitempty"`
	At               time.Time          `json:"at"`
	CalculatedAt     time.Time          `json:"calculated_at"`
	Location         prayer.Location    `json:"location"`
	Settings         prayer.Settings    `json:"-"`
	Today            prayer.DaySchedule `json:"today"`
	Tomorrow         prayer.DaySchedule `json:"tomorrow"`
	State            countdown.State    `json:"state"`
	RemainingSeconds int64              `json:"remaining_seconds"`
	Text             string             `json:"text"`
	Label            string             `json:"label"`
	WindowText       string             `json:"window_text,omitempty"`
	Current          *prayer.Name       `json:"current,omitempty"`
}

// Options configures a Driver.
type Options struct {
	Provider    prayer.Provider
	Scheduler   *alerts.Scheduler // optional
	Location    prayer.Location
	Adjustments prayer.Adjustments
	Settings    prayer.Settings
	Now         func() time.Time
	Debounce    time.Duration
	Retry       time.Duration
	Logger      *slog.Logger
	// OnTick receives every published snapshot. Optional.
	OnTick func(*Snapshot)
}

// Driver owns the schedule/state pair.
type Driver struct {
	provider  prayer.Provider
	scheduler *alerts.Scheduler
	adj       prayer.Adjustments
	now       func() time.Time
	debounce  time.Duration
	retry     time.Duration
	logger    *slog.Logger
	onTick    func(*Snapshot)

	// mu serializes recalculation, ticks and configuration changes.
	// Readers use snap only.
	mu       sync.Mutex
	loc      prayer.Location
	settings prayer.Settings
	engine   *countdown.Engine

	// alertsFor is the location the registered alerts were built for.
	alertsFor   prayer.Location
	alertsBuilt bool

	snap atomic.Pointer[Snapshot]

	pendingLoc atomic.Pointer[prayer.Location]
	locSignal  chan struct{}
	recalcReq  chan struct{}
}

// New builds a driver. Nothing is fetched until Run or Recalculate.
func New(opts Options) (*Driver, error) {
	if opts.Provider == nil {
		return nil, errors.New("driver: provider is required")
	}
	if err := opts.Location.Validate(); err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Retry <= 0 {
		opts.Retry = DefaultUnavailableRetry
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Settings.Modes == nil {
		opts.Settings = prayer.DefaultSettings()
	}
	if _, err := countdown.ParsePolicy(opts.Settings.CountdownFormat); err != nil {
		return nil, err
	}
	return &Driver{
		provider:  opts.Provider,
		scheduler: opts.Scheduler,
		adj:       opts.Adjustments,
		now:       opts.Now,
		debounce:  opts.Debounce,
		retry:     opts.Retry,
		logger:    opts.Logger,
		onTick:    opts.OnTick,
		loc:       opts.Location,
		settings:  opts.Settings,
		engine:    countdown.NewEngine(opts.Settings.ApproachingThreshold),
		locSignal: make(chan struct{}, 1),
		recalcReq: make(chan struct{}, 1),
	}, nil
}

// Snapshot returns the latest published view. Before the first calculation
// it returns an unavailable placeholder.
func (d *Driver) Snapshot() *Snapshot {
	if s := d.snap.Load(); s != nil {
		return s
	}
	return &Snapshot{Text: countdown.Placeholder, Label: countdown.Placeholder}
}

// Settings returns the active settings.
func (d *Driver) Settings() prayer.Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings
}

// Location returns the active location.
func (d *Driver) Location() prayer.Location {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loc
}

// LocalNow is the driver clock in the active location's timezone. It is the
// clock for anything that reasons in calendar days (adherence, digests).
func (d *Driver) LocalNow() time.Time {
	return d.now().In(d.Location().TimeLocation())
}

// Provider exposes the schedule provider for ad hoc lookups.
func (d *Driver) Provider() prayer.Provider { return d.provider }

// Adjustments are the per-instant offsets passed to the provider.
func (d *Driver) Adjustments() prayer.Adjustments { return d.adj }

// --------------------------------------------------------------------------
// Loop
// --------------------------------------------------------------------------

// Run calculates once, then ticks at 1 Hz until ctx is cancelled.
// Intended to be called with `go`.
func (d *Driver) Run(ctx context.Context) {
	if err := d.Recalculate(ctx, "startup"); err != nil {
		d.logger.Warn("Initial calculation failed", "error", err)
	}

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	debounce := time.NewTimer(d.debounce)
	debounce.Stop()

	d.logger.Info("Countdown driver started", "location", d.Location().City)
	for {
		select {
		case <-ticker.C:
			d.Tick(ctx, d.now())
		case <-d.locSignal:
			debounce.Reset(d.debounce)
		case <-debounce.C:
			if loc := d.pendingLoc.Swap(nil); loc != nil {
				if err := d.SetLocation(ctx, *loc); err != nil {
					d.logger.Warn("Location change failed", "error", err)
				}
			}
		case <-d.recalcReq:
			if err := d.Recalculate(ctx, "requested"); err != nil {
				d.logger.Warn("Recalculation failed", "error", err)
			}
		case <-ctx.Done():
			d.logger.Info("Countdown driver stopped")
			return
		}
	}
}

// LocationChanged records a location fix. Bursts within the debounce
// window collapse into one recalculation using the latest fix. Requires Run.
func (d *Driver) LocationChanged(loc prayer.Location) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	d.pendingLoc.Store(&loc)
	select {
	case d.locSignal <- struct{}{}:
	default:
	}
	return nil
}

// RequestRecalculate asks the loop for a recalculation without waiting.
func (d *Driver) RequestRecalculate() {
	select {
	case d.recalcReq <- struct{}{}:
	default:
	}
}

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

// Tick advances the countdown to now and publishes the result. An instant
// being reached, a date rollover or clock skew triggers a recalculation; an
// unavailable schedule is retried every Retry interval.
func (d *Driver) Tick(ctx context.Context, now time.Time) *Snapshot {
	d.mu.Lock()
	snap := d.tickLocked(ctx, now)
	d.mu.Unlock()

	if d.onTick != nil {
		d.onTick(snap)
	}
	return snap
}

func (d *Driver) tickLocked(ctx context.Context, now time.Time) *Snapshot {
	prev := d.snap.Load()
	if prev == nil || !prev.Available {
		if prev == nil || now.Sub(prev.CalculatedAt) >= d.retry {
			return d.recalcLocked(ctx, now, "retry")
		}
		return prev
	}

	if prayer.DateKey(now.In(d.loc.TimeLocation())) != prayer.DateKey(prev.Today.Date) {
		return d.recalcLocked(ctx, now, "date rollover")
	}

	st, err := d.engine.Advance(now, prev.Today, firstOf(prev.Tomorrow))
	switch {
	case errors.Is(err, countdown.ErrClockSkew):
		d.logger.Debug("Clock skew detected", "next", st.Next.Name, "now", now)
		return d.recalcLocked(ctx, now, "clock skew")
	case err != nil:
		return d.recalcLocked(ctx, now, "schedule unavailable")
	case !st.Next.Time.Equal(prev.State.Next.Time):
		return d.recalcLocked(ctx, now, "instant reached")
	}

	next := d.compose(now, prev.CalculatedAt, prev.Today, prev.Tomorrow, st)
	d.snap.Store(next)
	return next
}

// Recalculate re-fetches today's and tomorrow's schedules, rebuilds alerts
// and publishes a fresh snapshot. On failure the snapshot is marked
// unavailable and the error wraps prayer.ErrScheduleUnavailable; alerts are
// left as they were unless the location changed since they were built.
func (d *Driver) Recalculate(ctx context.Context, reason string) error {
	d.mu.Lock()
	snap := d.recalcLocked(ctx, d.now(), reason)
	d.mu.Unlock()

	if d.onTick != nil {
		d.onTick(snap)
	}
	if !snap.Available {
		return fmt.Errorf("recalculate: %w: %s", prayer.ErrScheduleUnavailable, snap.Error)
	}
	return nil
}

func (d *Driver) recalcLocked(ctx context.Context, now time.Time, reason string) *Snapshot {
	day := prayer.StartOfDay(now.In(d.loc.TimeLocation()))

	today, err := d.provider.DailyInstants(ctx, d.loc, day, d.adj)
	if err != nil {
		return d.fail(ctx, now, err)
	}
	tomorrow, err := d.provider.DailyInstants(ctx, d.loc, prayer.AddDays(day, 1), d.adj)
	if err != nil {
		// Usable until Isha; Advance reports unavailable after that.
		d.logger.Warn("Tomorrow's schedule unavailable", "error", err)
		tomorrow = prayer.DaySchedule{}
	}

	st, err := d.engine.Advance(now, today, firstOf(tomorrow))
	if err != nil {
		return d.fail(ctx, now, err)
	}

	snap := d.compose(now, now, today, tomorrow, st)
	d.snap.Store(snap)

	d.logger.Info("Schedule recalculated",
		"reason", reason, "date", prayer.DateKey(day), "city", d.loc.City,
		"next", st.Next.Name, "remaining", st.Remaining.Round(time.Second))

	if d.scheduler != nil {
		if _, err := d.scheduler.Rebuild(ctx, now, d.settings, today, tomorrow); err != nil {
			d.logger.Warn("Alert rebuild failed", "error", err)
		} else {
			d.alertsFor, d.alertsBuilt = d.loc, true
		}
	}
	return snap
}

// fail publishes the unavailable placeholder. Alerts built for the current
// location stay registered; alerts built for a previous location are
// cancelled.
func (d *Driver) fail(ctx context.Context, now time.Time, err error) *Snapshot {
	d.logger.Warn("Schedule unavailable", "error", err)
	if d.scheduler != nil && d.alertsBuilt && d.alertsFor != d.loc {
		if cerr := d.scheduler.CancelAll(ctx); cerr != nil {
			d.logger.Warn("Cancelling alerts for previous location failed", "error", cerr)
		} else {
			d.alertsBuilt = false
		}
	}
	snap := &Snapshot{
		Error:        err.Error(),
		At:           now,
		CalculatedAt: now,
		Location:     d.loc,
		Settings:     d.settings,
		Text:         countdown.Placeholder,
		Label:        countdown.Placeholder,
	}
	d.snap.Store(snap)
	return snap
}

func (d *Driver) compose(now, calculatedAt time.Time, today, tomorrow prayer.DaySchedule, st countdown.State) *Snapshot {
	policy, _ := countdown.ParsePolicy(d.settings.CountdownFormat)
	snap := &Snapshot{
		Available:        true,
		At:               now,
		CalculatedAt:     calculatedAt,
		Location:         d.loc,
		Settings:         d.settings,
		Today:            today,
		Tomorrow:         tomorrow,
		State:            st,
		RemainingSeconds: int64(st.Remaining / time.Second),
		Text:             countdown.Format(st.Remaining, policy),
		Label:            countdown.Label(st, policy, d.settings.NameFormat, true, true),
	}
	if st.Window != nil {
		snap.WindowText = countdown.FormatWindowRemaining(st.Window.Remaining())
	}
	if cur, ok := countdown.CurrentPrayer(st); ok {
		snap.Current = &cur
	}
	return snap
}

// SetLocation applies a location immediately and recalculates.
func (d *Driver) SetLocation(ctx context.Context, loc prayer.Location) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	d.loc = loc
	d.mu.Unlock()
	return d.Recalculate(ctx, "location changed")
}

// SettingsChanged validates and applies new settings, then recalculates so
// the alert set and display follow immediately.
func (d *Driver) SettingsChanged(ctx context.Context, s prayer.Settings) error {
	if _, err := countdown.ParsePolicy(s.CountdownFormat); err != nil {
		return err
	}
	if s.ReminderLead < 0 {
		return fmt.Errorf("reminder lead must not be negative, got %s", s.ReminderLead)
	}
	if s.Modes == nil {
		s.Modes = prayer.DefaultSettings().Modes
	}
	d.mu.Lock()
	d.settings = s
	d.engine = countdown.NewEngine(s.ApproachingThreshold)
	d.mu.Unlock()
	return d.Recalculate(ctx, "settings changed")
}

func firstOf(ds prayer.DaySchedule) *prayer.Instant {
	if ds.IsZero() {
		return nil
	}
	in := ds.First()
	return &in
}
