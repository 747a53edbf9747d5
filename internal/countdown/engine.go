// Package countdown derives "what is next and how long until it" from a
// day's schedule and formats the remaining duration for display.
//
// Advance is pure: it reads now and the schedules it is handed and never
// fetches anything itself. When the next instant is tomorrow's Fajr the
// caller supplies it.
package countdown

import (
	"errors"
	"fmt"
	"time"

	"github.com/albapepper/salah/internal/prayer"
)

// DefaultApproachingThreshold is used when an Engine has no threshold set.
const DefaultApproachingThreshold = 15 * time.Minute

// ErrClockSkew signals that the next instant is not in the future. The
// caller recalculates with a fresh now and, if needed, a fresh schedule.
var ErrClockSkew = errors.New("clock skew detected: recalculate")

// State is recomputed every tick and never persisted.
type State struct {
	Next        prayer.Instant `json:"next"`
	Remaining   time.Duration  `json:"remaining"`
	Approaching bool           `json:"approaching"`
	Window      *Window        `json:"window,omitempty"`
}

// Window is the span between the current prayer and the next instant.
type Window struct {
	Start   prayer.Instant `json:"start"`
	End     prayer.Instant `json:"end"`
	Elapsed float64        `json:"elapsed"` // fraction in [0,1]
}

// Length is the full window duration.
func (w Window) Length() time.Duration { return w.End.Time.Sub(w.Start.Time) }

// Remaining is the time left in the window.
func (w Window) Remaining() time.Duration {
	return time.Duration((1 - w.Elapsed) * float64(w.Length()))
}

// Engine holds the configurable approaching threshold.
type Engine struct {
	Threshold time.Duration
}

// NewEngine returns an Engine; a non-positive threshold selects the default.
func NewEngine(threshold time.Duration) *Engine {
	if threshold <= 0 {
		threshold = DefaultApproachingThreshold
	}
	return &Engine{Threshold: threshold}
}

// Advance derives the countdown state for now.
//
// tomorrowFirst is only consulted once now is past today's last instant; if
// it is nil at that point the result wraps prayer.ErrScheduleUnavailable.
func (e *Engine) Advance(now time.Time, today prayer.DaySchedule, tomorrowFirst *prayer.Instant) (State, error) {
	if today.IsZero() {
		return State{}, fmt.Errorf("advance: %w", prayer.ErrScheduleUnavailable)
	}

	idx := -1
	for i, in := range today.Instants {
		if in.Time.After(now) {
			idx = i
			break
		}
	}

	var next prayer.Instant
	if idx >= 0 {
		next = today.Instants[idx]
	} else {
		if tomorrowFirst == nil {
			return State{}, fmt.Errorf("advance: tomorrow's first instant: %w", prayer.ErrScheduleUnavailable)
		}
		next = *tomorrowFirst
	}

	remaining := next.Time.Sub(now)
	if remaining <= 0 {
		return State{Next: next}, ErrClockSkew
	}

	threshold := e.Threshold
	if threshold <= 0 {
		threshold = DefaultApproachingThreshold
	}

	st := State{
		Next:        next,
		Remaining:   remaining,
		Approaching: remaining <= threshold,
	}
	// A next instant of Fajr (today's or tomorrow's) never gets a window.
	if idx > 0 {
		st.Window = window(now, today.Instants[idx-1], next)
	}
	return st, nil
}

// window returns nil when either end is Sunrise, which is not a prayer
// boundary.
func window(now time.Time, prev, next prayer.Instant) *Window {
	if prev.Name == prayer.Sunrise || next.Name == prayer.Sunrise {
		return nil
	}
	length := next.Time.Sub(prev.Time)
	if length <= 0 {
		return nil
	}
	f := float64(now.Sub(prev.Time)) / float64(length)
	if f < 0 {
		f = 0
	} else if f > 1 {
		f = 1
	}
	return &Window{Start: prev, End: next, Elapsed: f}
}

// CurrentPrayer returns the prayer whose window contains now, or false when
// no window is shown (before Fajr, after Isha, and around Sunrise).
func CurrentPrayer(st State) (prayer.Name, bool) {
	if st.Window == nil {
		return 0, false
	}
	return st.Window.Start.Name, true
}
