// Package prayer holds the domain types shared by the countdown, alert and
// adherence packages: prayer names, a day's ordered schedule, per-prayer
// notification modes and the user settings that drive recalculation.
//
// Astronomical calculation is not done here. A Provider turns a location and
// a date into a DaySchedule; everything downstream works from that value.
package prayer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrScheduleUnavailable is returned (wrapped) when a provider fails or
	// returns no data. Callers degrade to a placeholder and retry on the
	// next recalculation trigger.
	ErrScheduleUnavailable = errors.New("schedule unavailable")

	// ErrInvalidSchedule means the instants are out of order or not
	// strictly increasing.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrInvalidLocation is returned for out-of-range coordinates.
	ErrInvalidLocation = errors.New("invalid location")
)

// --------------------------------------------------------------------------
// Names
// --------------------------------------------------------------------------

// Name identifies one of the six daily instants.
type Name int

const (
	Fajr Name = iota
	Sunrise
	Dhuhr
	Asr
	Maghrib
	Isha
)

// Names lists all instants in canonical daily order.
var Names = [6]Name{Fajr, Sunrise, Dhuhr, Asr, Maghrib, Isha}

var nameKeys = [6]string{"fajr", "sunrise", "dhuhr", "asr", "maghrib", "isha"}

// Localized labels, three-letter and one-letter abbreviations.
var (
	nameLabels = [6]string{"Subuh", "Syuruq", "Dzuhur", "Ashar", "Maghrib", "Isya"}
	nameShort3 = [6]string{"Sub", "Syu", "Dzu", "Asr", "Mag", "Isy"}
	nameShort1 = [6]string{"S", "Y", "D", "A", "M", "I"}
)

func (n Name) valid() bool { return n >= Fajr && n <= Isha }

// Key returns the lowercase identifier used in ids, config and storage.
func (n Name) Key() string {
	if !n.valid() {
		return "unknown"
	}
	return nameKeys[n]
}

func (n Name) String() string { return n.Key() }

// Label returns the display label.
func (n Name) Label() string {
	if !n.valid() {
		return ""
	}
	return nameLabels[n]
}

// Obligatory reports whether n is one of the five daily prayers. Sunrise is
// informational only.
func (n Name) Obligatory() bool { return n.valid() && n != Sunrise }

// Formatted renders the name in the requested display format.
func (n Name) Formatted(f NameFormat) string {
	if !n.valid() {
		return ""
	}
	switch f {
	case NameShort3:
		return nameShort3[n]
	case NameShort1:
		return nameShort1[n]
	default:
		return nameLabels[n]
	}
}

// ParseName accepts a key ("fajr") or a label ("Subuh"), case-insensitive.
func ParseName(s string) (Name, error) {
	s = strings.TrimSpace(s)
	for i := range Names {
		if strings.EqualFold(s, nameKeys[i]) || strings.EqualFold(s, nameLabels[i]) {
			return Name(i), nil
		}
	}
	return 0, fmt.Errorf("unknown prayer name %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (n Name) MarshalText() ([]byte, error) { return []byte(n.Key()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Name) UnmarshalText(b []byte) error {
	v, err := ParseName(string(b))
	if err != nil {
		return err
	}
	*n = v
	return nil
}

// NameFormat selects how prayer names are rendered in labels.
type NameFormat string

const (
	NameFull   NameFormat = "full"
	NameShort3 NameFormat = "short3"
	NameShort1 NameFormat = "short1"
)

// --------------------------------------------------------------------------
// Obligatory kinds
// --------------------------------------------------------------------------

// Kind is one of the five obligatory prayers tracked for adherence and
// alerting. It shares values with Name; Sunrise is never a valid Kind.
type Kind = Name

// ObligatoryKinds lists the five tracked prayers in canonical order.
var ObligatoryKinds = [5]Kind{Fajr, Dhuhr, Asr, Maghrib, Isha}

// ParseKind parses an obligatory prayer kind.
func ParseKind(s string) (Kind, error) {
	n, err := ParseName(s)
	if err != nil {
		return 0, err
	}
	if !n.Obligatory() {
		return 0, fmt.Errorf("%s is not an obligatory prayer", n.Key())
	}
	return n, nil
}

// --------------------------------------------------------------------------
// Instants and schedules
// --------------------------------------------------------------------------

// Instant is a single named prayer time.
type Instant struct {
	Name Name      `json:"name"`
	Time time.Time `json:"time"`
}

// DaySchedule is the ordered set of six instants for one calendar date at
// one location. It is never mutated; recalculation replaces it.
type DaySchedule struct {
	Date     time.Time  `json:"date"`
	Location Location   `json:"location"`
	Instants [6]Instant `json:"instants"`
}

// NewDaySchedule validates instants and returns a schedule. instants must be
// given in canonical order with strictly increasing times.
func NewDaySchedule(date time.Time, loc Location, instants []Instant) (DaySchedule, error) {
	var ds DaySchedule
	if len(instants) != len(Names) {
		return ds, fmt.Errorf("%w: want %d instants, got %d", ErrInvalidSchedule, len(Names), len(instants))
	}
	for i, in := range instants {
		if in.Name != Names[i] {
			return ds, fmt.Errorf("%w: position %d is %s, want %s", ErrInvalidSchedule, i, in.Name, Names[i])
		}
		if i > 0 && !in.Time.After(instants[i-1].Time) {
			return ds, fmt.Errorf("%w: %s (%s) not after %s (%s)", ErrInvalidSchedule,
				in.Name, in.Time.Format(time.TimeOnly), instants[i-1].Name, instants[i-1].Time.Format(time.TimeOnly))
		}
		ds.Instants[i] = in
	}
	ds.Date = StartOfDay(date)
	ds.Location = loc
	return ds, nil
}

// Time returns the instant time for name.
func (d DaySchedule) Time(n Name) time.Time {
	if !n.valid() {
		return time.Time{}
	}
	return d.Instants[n].Time
}

// Instant returns the instant for name.
func (d DaySchedule) Instant(n Name) Instant {
	if !n.valid() {
		return Instant{}
	}
	return d.Instants[n]
}

// First returns Fajr.
func (d DaySchedule) First() Instant { return d.Instants[0] }

// Last returns Isha.
func (d DaySchedule) Last() Instant { return d.Instants[len(d.Instants)-1] }

// Obligatory returns the five obligatory instants in order.
func (d DaySchedule) Obligatory() []Instant {
	out := make([]Instant, 0, len(ObligatoryKinds))
	for _, in := range d.Instants {
		if in.Name.Obligatory() {
			out = append(out, in)
		}
	}
	return out
}

// IsZero reports whether the schedule was never populated.
func (d DaySchedule) IsZero() bool { return d.Instants[0].Time.IsZero() }

// --------------------------------------------------------------------------
// Location and provider contract
// --------------------------------------------------------------------------

// Location is a point on earth plus the timezone its schedule is expressed in.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	City      string  `json:"city,omitempty"`
	Timezone  string  `json:"timezone,omitempty"`
}

// Validate checks coordinate ranges.
func (l Location) Validate() error {
	if l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("%w: latitude %.4f out of range", ErrInvalidLocation, l.Latitude)
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("%w: longitude %.4f out of range", ErrInvalidLocation, l.Longitude)
	}
	return nil
}

// TimeLocation resolves Timezone, falling back to time.Local.
func (l Location) TimeLocation() *time.Location {
	if l.Timezone == "" {
		return time.Local
	}
	tz, err := time.LoadLocation(l.Timezone)
	if err != nil {
		return time.Local
	}
	return tz
}

// Adjustments are per-instant minute offsets applied after calculation.
type Adjustments map[Name]int

// KemenagAdjustments are the Indonesian Ministry of Religious Affairs
// ihtiyath offsets.
func KemenagAdjustments() Adjustments {
	return Adjustments{Fajr: 2, Sunrise: -3, Dhuhr: 2, Asr: 2, Maghrib: 3, Isha: 2}
}

// Provider computes a day's instants. Implementations wrap failures with
// ErrScheduleUnavailable.
type Provider interface {
	DailyInstants(ctx context.Context, loc Location, date time.Time, adj Adjustments) (DaySchedule, error)
}

// --------------------------------------------------------------------------
// Day helpers
// --------------------------------------------------------------------------

// StartOfDay truncates t to midnight in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// AddDays moves t by n calendar days, keeping midnight across DST changes.
func AddDays(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+n, 0, 0, 0, 0, t.Location())
}

// DaysBetween returns the number of calendar days from a to b (b-a).
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// DateKey formats a date as YYYY-MM-DD.
func DateKey(t time.Time) string { return t.Format(time.DateOnly) }
