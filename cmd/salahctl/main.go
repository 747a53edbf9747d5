// Command salahctl is the Salah operator CLI.
//
// Usage:
//
//	salahctl schedule --date 2026-10-15 --days 7
//	salahctl countdown --format humanis
//	salahctl alerts
//	salahctl log toggle 2026-10-15 asr
//	salahctl log set 2026-10-15 isha false
//	salahctl stats --from 2026-10-01 --to 2026-10-15
//	salahctl migrate
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/albapepper/salah/internal/adherence"
	"github.com/albapepper/salah/internal/alerts"
	"github.com/albapepper/salah/internal/completion"
	"github.com/albapepper/salah/internal/config"
	"github.com/albapepper/salah/internal/countdown"
	"github.com/albapepper/salah/internal/db"
	"github.com/albapepper/salah/internal/driver"
	"github.com/albapepper/salah/internal/prayer"
	"github.com/albapepper/salah/internal/provider"
	"github.com/albapepper/salah/internal/provider/aladhan"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var offline bool
	root := &cobra.Command{
		Use:          "salahctl",
		Short:        "Salah prayer times, alerts and completion log",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVar(&offline, "offline", false, "Use the built-in fixed schedule instead of the Al Adhan API")

	newProvider := func(cfg *config.Config) prayer.Provider {
		if offline {
			return provider.DefaultStatic()
		}
		return aladhan.NewClient(cfg.AladhanBaseURL, cfg.AladhanMethod, cfg.AladhanRequestsPerMinute, logger)
	}

	root.AddCommand(scheduleCmd(newProvider))
	root.AddCommand(countdownCmd(newProvider))
	root.AddCommand(alertsCmd(newProvider))
	root.AddCommand(logCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(migrateCmd())
	return root
}

type providerFunc func(*config.Config) prayer.Provider

// --------------------------------------------------------------------------
// schedule command
// --------------------------------------------------------------------------

func scheduleCmd(newProvider providerFunc) *cobra.Command {
	var (
		date    string
		days    int
		workers int
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Print prayer times for one or more days",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, cfg *config.Config) error {
				from, err := parseDay(date, cfg.Location)
				if err != nil {
					return err
				}
				res := provider.FetchRange(ctx, newProvider(cfg), cfg.Location, from, days,
					cfg.Adjustments, workers, logger)
				for _, e := range res.Errors {
					logger.Error("schedule error", "error", e)
				}
				writeSchedule(cmd.OutOrStdout(), cfg.Location, res.Schedules)
				if len(res.Schedules) == 0 {
					return fmt.Errorf("no schedule available: %s", res.Summary())
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "First day (YYYY-MM-DD, defaults to today)")
	cmd.Flags().IntVar(&days, "days", 1, "Number of days")
	cmd.Flags().IntVar(&workers, "workers", 4, "Concurrent fetches")
	return cmd
}

func writeSchedule(out io.Writer, loc prayer.Location, schedules []prayer.DaySchedule) {
	tz := loc.TimeLocation()
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprint(tw, "DATE")
	for _, n := range prayer.Names {
		fmt.Fprintf(tw, "\t%s", n.Label())
	}
	fmt.Fprintln(tw)
	for _, ds := range schedules {
		fmt.Fprint(tw, prayer.DateKey(ds.Date))
		for _, in := range ds.Instants {
			fmt.Fprintf(tw, "\t%s", in.Time.In(tz).Format("15:04"))
		}
		fmt.Fprintln(tw)
	}
	tw.Flush()
}

// --------------------------------------------------------------------------
// countdown command
// --------------------------------------------------------------------------

func countdownCmd(newProvider providerFunc) *cobra.Command {
	var format, at string
	cmd := &cobra.Command{
		Use:   "countdown",
		Short: "Print the countdown to the next prayer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, cfg *config.Config) error {
				now := time.Now()
				if at != "" {
					t, err := time.ParseInLocation("2006-01-02T15:04:05", at, cfg.Location.TimeLocation())
					if err != nil {
						return fmt.Errorf("--at: %w", err)
					}
					now = t
				}
				settings := cfg.Settings
				if format != "" {
					p, err := countdown.ParsePolicy(format)
					if err != nil {
						return err
					}
					settings.CountdownFormat = string(p)
				}

				d, err := driver.New(driver.Options{
					Provider:    newProvider(cfg),
					Location:    cfg.Location,
					Adjustments: cfg.Adjustments,
					Settings:    settings,
					Now:         func() time.Time { return now },
					Logger:      logger,
				})
				if err != nil {
					return err
				}
				recalcErr := d.Recalculate(ctx, "cli")
				writeCountdown(cmd.OutOrStdout(), d.Snapshot())
				return recalcErr
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Countdown format (digital, hour_minute, compact, compact_short, humanis)")
	cmd.Flags().StringVar(&at, "at", "", "Evaluate at this local time (YYYY-MM-DDTHH:MM:SS) instead of now")
	return cmd
}

func writeCountdown(out io.Writer, s *driver.Snapshot) {
	fmt.Fprintln(out, s.Label)
	if !s.Available {
		return
	}
	tz := s.Location.TimeLocation()
	fmt.Fprintf(out, "next: %s at %s\n", s.State.Next.Name.Label(), s.State.Next.Time.In(tz).Format("2006-01-02 15:04"))
	if s.State.Approaching {
		fmt.Fprintln(out, "approaching")
	}
	if s.Current != nil && s.WindowText != "" {
		fmt.Fprintf(out, "%s: %s\n", s.Current.Label(), s.WindowText)
	}
}

// --------------------------------------------------------------------------
// alerts command
// --------------------------------------------------------------------------

func alertsCmd(newProvider providerFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Print the alerts that would be registered for today and tomorrow",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, cfg *config.Config) error {
				now := time.Now()
				p := newProvider(cfg)
				today := prayer.StartOfDay(now.In(cfg.Location.TimeLocation()))

				var schedules []prayer.DaySchedule
				for i := 0; i < 2; i++ {
					ds, err := p.DailyInstants(ctx, cfg.Location, prayer.AddDays(today, i), cfg.Adjustments)
					if err != nil {
						return err
					}
					schedules = append(schedules, ds)
				}

				sched := alerts.NewScheduler(alerts.NewMemoryRegistry(), logger)
				reqs, err := sched.Rebuild(ctx, now, cfg.Settings, schedules...)
				if err != nil {
					return err
				}
				writeAlerts(cmd.OutOrStdout(), cfg.Location, reqs)
				return nil
			})
		},
	}
	return cmd
}

func writeAlerts(out io.Writer, loc prayer.Location, reqs []alerts.Request) {
	tz := loc.TimeLocation()
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FIRE AT\tKIND\tSOUND\tTITLE")
	for _, r := range reqs {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", r.FireAt.In(tz).Format("2006-01-02 15:04"), r.Kind, r.Payload.WantsSound, r.Payload.Title)
	}
	tw.Flush()
}

// --------------------------------------------------------------------------
// log command
// --------------------------------------------------------------------------

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Record prayer completions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "toggle <date> <kind>",
		Short: "Flip a prayer's completed flag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDB(func(ctx context.Context, cfg *config.Config, store completion.Store) error {
				date, kind, err := parseDayKind(args[0], args[1], cfg.Location)
				if err != nil {
					return err
				}
				rec, err := store.Toggle(ctx, date, kind)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), rec)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <date> <kind> <true|false>",
		Short: "Set a prayer's completed flag",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			completed, err := strconv.ParseBool(args[2])
			if err != nil {
				return fmt.Errorf("completed flag: %w", err)
			}
			return runDB(func(ctx context.Context, cfg *config.Config, store completion.Store) error {
				date, kind, err := parseDayKind(args[0], args[1], cfg.Location)
				if err != nil {
					return err
				}
				rec, err := store.Upsert(ctx, date, kind, completed)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), rec)
			})
		},
	})
	return cmd
}

// --------------------------------------------------------------------------
// stats command
// --------------------------------------------------------------------------

func statsCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print adherence statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDB(func(ctx context.Context, cfg *config.Config, store completion.Store) error {
				end, err := parseDay(to, cfg.Location)
				if err != nil {
					return err
				}
				start := prayer.AddDays(end, -29)
				if from != "" {
					if start, err = parseDay(from, cfg.Location); err != nil {
						return err
					}
				}
				tz := cfg.Location.TimeLocation()
				svc := adherence.NewService(store, func() time.Time { return time.Now().In(tz) }, logger)
				stats, err := svc.Stats(ctx, start, end)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "First day (YYYY-MM-DD, defaults to 29 days before --to)")
	cmd.Flags().StringVar(&to, "to", "", "Last day (YYYY-MM-DD, defaults to today)")
	return cmd
}

// --------------------------------------------------------------------------
// migrate command
// --------------------------------------------------------------------------

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the completion table and its change trigger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, cfg *config.Config) error {
				if !cfg.HasDatabase() {
					return fmt.Errorf("DATABASE_URL is required")
				}
				start := time.Now()
				if err := db.Migrate(ctx, cfg); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema applied in %s\n", time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

// run handles config loading and context cancellation.
func run(fn func(ctx context.Context, cfg *config.Config) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return fn(ctx, cfg)
}

// runDB additionally opens the Postgres completion store.
func runDB(fn func(ctx context.Context, cfg *config.Config, store completion.Store) error) error {
	return run(func(ctx context.Context, cfg *config.Config) error {
		if !cfg.HasDatabase() {
			return fmt.Errorf("DATABASE_URL is required")
		}
		pool, err := db.New(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()
		return fn(ctx, cfg, completion.NewPGStore(pool.Pool, nil))
	})
}

func parseDay(raw string, loc prayer.Location) (time.Time, error) {
	tz := loc.TimeLocation()
	if raw == "" {
		return prayer.StartOfDay(time.Now().In(tz)), nil
	}
	t, err := time.ParseInLocation(time.DateOnly, raw, tz)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", raw)
	}
	return t, nil
}

func parseDayKind(rawDate, rawKind string, loc prayer.Location) (time.Time, prayer.Kind, error) {
	date, err := parseDay(rawDate, loc)
	if err != nil {
		return time.Time{}, 0, err
	}
	kind, err := prayer.ParseKind(rawKind)
	if err != nil {
		return time.Time{}, 0, err
	}
	return date, kind, nil
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
