// Package alerts builds the point-in-time alerts for a day's prayers and
// keeps the registered set consistent across recalculation.
//
// Pipeline: build requests → replace the registered set for the affected
// dates → a dispatch worker fires due requests through a Sender.
//
// Every request id is derived from date, prayer and kind, so rebuilding with
// identical inputs yields identical ids and a full replacement never leaks a
// duplicate or leaves a stale alert behind.
package alerts

import (
	"fmt"
	"sort"
	"time"

	"github.com/albapepper/salah/internal/prayer"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Kind distinguishes the exact-time alert from the pre-alert.
type Kind string

const (
	Exact    Kind = "exact"
	Reminder Kind = "reminder"
)

// Payload travels with the alert to the delivery host.
type Payload struct {
	Prayer     prayer.Name `json:"prayer"`
	WantsSound bool        `json:"wants_sound"`
	Title      string      `json:"title"`
	Body       string      `json:"body"`
}

// Request is one alert to register with the delivery host.
type Request struct {
	ID      string    `json:"id"`
	Date    time.Time `json:"date"`
	FireAt  time.Time `json:"fire_at"`
	Kind    Kind      `json:"kind"`
	Payload Payload   `json:"payload"`
}

// DateKey is the YYYY-MM-DD date the request belongs to.
func (r Request) DateKey() string { return prayer.DateKey(r.Date) }

// ID derives the stable identity for an alert.
func ID(date time.Time, n prayer.Name, k Kind) string {
	return fmt.Sprintf("salah-%s-%s-%s", prayer.DateKey(date), n.Key(), k)
}

// --------------------------------------------------------------------------
// Build
// --------------------------------------------------------------------------

// Build returns the alerts for the five obligatory instants of today.
//
// A prayer in ModeOff gets nothing. Otherwise an Exact alert fires at the
// instant, with sound only in ModeAzan. When reminders are enabled a
// Reminder fires lead earlier and never carries sound. Anything not strictly
// after now is dropped. The result is ordered by fire time.
func Build(now time.Time, today prayer.DaySchedule, reminderEnabled bool, lead time.Duration, modes map[prayer.Kind]prayer.Mode) []Request {
	if today.IsZero() {
		return nil
	}
	view := prayer.Settings{Modes: modes}

	var out []Request
	for _, in := range today.Obligatory() {
		mode := view.ModeFor(in.Name)
		if mode == prayer.ModeOff {
			continue
		}
		if in.Time.After(now) {
			out = append(out, Request{
				ID:     ID(today.Date, in.Name, Exact),
				Date:   today.Date,
				FireAt: in.Time,
				Kind:   Exact,
				Payload: Payload{
					Prayer:     in.Name,
					WantsSound: mode == prayer.ModeAzan,
					Title:      fmt.Sprintf("Waktu %s Telah Tiba", in.Name.Label()),
					Body:       fmt.Sprintf("Saatnya menunaikan solat %s", in.Name.Label()),
				},
			})
		}
		if !reminderEnabled || lead <= 0 {
			continue
		}
		at := in.Time.Add(-lead)
		if !at.After(now) {
			continue
		}
		out = append(out, Request{
			ID:     ID(today.Date, in.Name, Reminder),
			Date:   today.Date,
			FireAt: at,
			Kind:   Reminder,
			Payload: Payload{
				Prayer: in.Name,
				Title:  fmt.Sprintf("%s dalam %d menit", in.Name.Label(), int(lead/time.Minute)),
				Body:   fmt.Sprintf("Persiapkan diri untuk solat %s", in.Name.Label()),
			},
		})
	}

	sortByFireAt(out)
	return out
}

// BuildFromSettings is Build driven by a settings view.
func BuildFromSettings(now time.Time, today prayer.DaySchedule, s prayer.Settings) []Request {
	return Build(now, today, s.ReminderEnabled, s.ReminderLead, s.Modes)
}

func sortByFireAt(reqs []Request) {
	sort.SliceStable(reqs, func(i, j int) bool {
		if reqs[i].FireAt.Equal(reqs[j].FireAt) {
			return reqs[i].ID < reqs[j].ID
		}
		return reqs[i].FireAt.Before(reqs[j].FireAt)
	})
}
