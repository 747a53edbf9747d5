package prayer

import (
	"fmt"
	"strings"
	"time"
)

// Mode controls alerting for one prayer.
type Mode string

const (
	ModeOff    Mode = "off"    // no alert
	ModeSilent Mode = "silent" // alert without sound
	ModeAzan   Mode = "azan"   // alert with the adhan
)

// Next cycles off → silent → azan → off.
func (m Mode) Next() Mode {
	switch m {
	case ModeOff:
		return ModeSilent
	case ModeSilent:
		return ModeAzan
	default:
		return ModeOff
	}
}

// ParseMode accepts off, silent, azan (and withSound as an alias of azan).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off":
		return ModeOff, nil
	case "silent":
		return ModeSilent, nil
	case "azan", "withsound", "with_sound":
		return ModeAzan, nil
	}
	return "", fmt.Errorf("unknown notification mode %q", s)
}

// ReminderLeadChoices are the lead times offered to users.
var ReminderLeadChoices = []time.Duration{
	5 * time.Minute, 10 * time.Minute, 15 * time.Minute, 30 * time.Minute,
}

// Settings is the read-only view of user preferences the core consumes.
// A change to any field is a change event that triggers recalculation.
type Settings struct {
	ReminderEnabled      bool          `json:"reminder_enabled"`
	ReminderLead         time.Duration `json:"reminder_lead"`
	Modes                map[Kind]Mode `json:"modes"`
	CountdownFormat      string        `json:"countdown_format"`
	NameFormat           NameFormat    `json:"name_format"`
	ApproachingThreshold time.Duration `json:"approaching_threshold"`
}

// DefaultSettings mirrors the application's first-run preferences.
func DefaultSettings() Settings {
	modes := make(map[Kind]Mode, len(ObligatoryKinds))
	for _, k := range ObligatoryKinds {
		modes[k] = ModeAzan
	}
	return Settings{
		ReminderEnabled:      true,
		ReminderLead:         10 * time.Minute,
		Modes:                modes,
		CountdownFormat:      "digital",
		NameFormat:           NameFull,
		ApproachingThreshold: 15 * time.Minute,
	}
}

// ModeFor returns the configured mode; prayers without an entry alert with
// the adhan.
func (s Settings) ModeFor(k Kind) Mode {
	if m, ok := s.Modes[k]; ok {
		return m
	}
	return ModeAzan
}

// WithMode returns a copy of s with k set to m. The receiver's map is not
// touched.
func (s Settings) WithMode(k Kind, m Mode) Settings {
	modes := make(map[Kind]Mode, len(s.Modes)+1)
	for kk, mm := range s.Modes {
		modes[kk] = mm
	}
	modes[k] = m
	s.Modes = modes
	return s
}

// ParseModes parses "fajr=azan,dhuhr=silent" into a mode map.
func ParseModes(s string) (map[Kind]Mode, error) {
	out := make(map[Kind]Mode)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("mode entry %q: want kind=mode", part)
		}
		kind, err := ParseKind(k)
		if err != nil {
			return nil, err
		}
		mode, err := ParseMode(v)
		if err != nil {
			return nil, err
		}
		out[kind] = mode
	}
	return out, nil
}
