// Package maintenance runs periodic background tasks as Go tickers. Each task
// is also exported so it can be run once on demand.
package maintenance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/albapepper/salah/internal/adherence"
	"github.com/albapepper/salah/internal/alerts"
	"github.com/albapepper/salah/internal/driver"
	"github.com/albapepper/salah/internal/provider"
)

// Config controls maintenance task intervals. Zero duration disables a task.
type Config struct {
	PrefetchInterval time.Duration // Warm the schedule cache for upcoming days
	PrefetchDays     int
	DigestInterval   time.Duration // Publish the adherence summary
	CatchUpInterval  time.Duration // Re-register alerts missing from the registry
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		PrefetchInterval: 6 * time.Hour,
		PrefetchDays:     7,
		DigestInterval:   1 * time.Hour,
		CatchUpInterval:  5 * time.Minute,
	}
}

// Publisher pushes a payload to a topic. *alerts.MQTTSender satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Deps are the collaborators the tasks act on. Scheduler, Stats and
// Publisher may be nil; the tasks needing them are then skipped.
type Deps struct {
	Driver    *driver.Driver
	Scheduler *alerts.Scheduler
	Stats     *adherence.Service
	Publisher Publisher
	Topic     string
	Now       func() time.Time
	Logger    *slog.Logger
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Start launches all configured maintenance tickers. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, deps Deps, cfg Config) {
	logger := deps.logger()
	logger.Info("Maintenance tickers started",
		"prefetch", cfg.PrefetchInterval,
		"digest", cfg.DigestInterval,
		"catchup", cfg.CatchUpInterval)

	tickers := make([]*time.Ticker, 0, 3)
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	if cfg.PrefetchInterval > 0 && cfg.PrefetchDays > 0 {
		t := time.NewTicker(cfg.PrefetchInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, "prefetch", func() { Prefetch(ctx, deps, cfg.PrefetchDays) })
	}

	if cfg.DigestInterval > 0 && deps.Stats != nil {
		t := time.NewTicker(cfg.DigestInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, "digest", func() {
			if err := Digest(ctx, deps); err != nil {
				logger.Warn("Digest: failed", "error", err)
			}
		})
	}

	if cfg.CatchUpInterval > 0 && deps.Scheduler != nil {
		t := time.NewTicker(cfg.CatchUpInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, "catchup", func() {
			if _, err := CatchUp(ctx, deps); err != nil {
				logger.Warn("Catch-up: failed", "error", err)
			}
		})
	}

	<-ctx.Done()
	logger.Info("Maintenance tickers stopped")
}

func runLoop(ctx context.Context, ch <-chan time.Time, name string, fn func()) {
	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// --------------------------------------------------------------------------
// Task implementations
// --------------------------------------------------------------------------

// Prefetch fetches the next days days for the active location through the
// driver's provider, so a cached provider serves them without a network
// round trip later.
func Prefetch(ctx context.Context, deps Deps, days int) provider.RangeResult {
	loc := deps.Driver.Location()
	res := provider.FetchRange(ctx, deps.Driver.Provider(), loc, deps.now().In(loc.TimeLocation()),
		days, deps.Driver.Adjustments(), 2, deps.logger())
	if len(res.Errors) > 0 {
		deps.logger().Warn("Prefetch: some days failed", "summary", res.Summary())
	} else {
		deps.logger().Debug("Prefetch: schedule cache warm", "summary", res.Summary())
	}
	return res
}

// Digest computes the adherence summary and publishes it, or logs it when
// no publisher is configured.
func Digest(ctx context.Context, deps Deps) error {
	sum, err := deps.Stats.Summary(ctx)
	if err != nil {
		return err
	}
	if deps.Publisher == nil {
		deps.logger().Info("Adherence digest",
			"date", sum.Date, "today", sum.TodayCompleted,
			"week", fmt.Sprintf("%d/%d", sum.WeekCompleted, sum.WeekPossible),
			"streak", sum.CurrentStreak, "best", sum.BestStreak)
		return nil
	}
	b, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("encode digest: %w", err)
	}
	return deps.Publisher.Publish(ctx, deps.Topic, b)
}

// CatchUp compares the registry against the alerts the current snapshot
// calls for and rebuilds when any future alert is missing. Reports whether
// a rebuild happened.
func CatchUp(ctx context.Context, deps Deps) (bool, error) {
	snap := deps.Driver.Snapshot()
	if !snap.Available {
		return false, nil
	}
	now := deps.now()

	want := alerts.BuildFromSettings(now, snap.Today, snap.Settings)
	if !snap.Tomorrow.IsZero() {
		want = append(want, alerts.BuildFromSettings(now, snap.Tomorrow, snap.Settings)...)
	}
	if len(want) == 0 {
		return false, nil
	}

	pending, err := deps.Scheduler.PendingAlerts(ctx)
	if err != nil {
		return false, err
	}
	have := make(map[string]bool, len(pending))
	for _, r := range pending {
		have[r.ID] = true
	}
	missing := 0
	for _, r := range want {
		if !have[r.ID] {
			missing++
		}
	}
	if missing == 0 {
		return false, nil
	}

	if _, err := deps.Scheduler.Rebuild(ctx, now, snap.Settings, snap.Today, snap.Tomorrow); err != nil {
		return false, err
	}
	deps.logger().Info("Catch-up: restored missing alerts", "missing", missing)
	return true, nil
}
