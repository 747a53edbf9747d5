package countdown

import (
	"fmt"
	"strings"
	"time"

	"github.com/albapepper/salah/internal/prayer"
)

// Policy selects a countdown display format.
type Policy string

const (
	Digital      Policy = "digital"       // 1:23:45
	HourMinute   Policy = "hour_minute"   // 1:23
	Compact      Policy = "compact"       // 2j 10m
	CompactShort Policy = "compact_short" // 2j
	Humanis      Policy = "humanis"       // 1 jam lagi
)

// Policies lists every supported policy.
var Policies = []Policy{Digital, HourMinute, Compact, CompactShort, Humanis}

// Placeholder is shown when no schedule is available.
const Placeholder = "--:--:--"

// ParsePolicy accepts the policy identifiers plus camelCase aliases.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "digital", "":
		return Digital, nil
	case "hour_minute", "hourminute":
		return HourMinute, nil
	case "compact":
		return Compact, nil
	case "compact_short", "compactshort":
		return CompactShort, nil
	case "humanis":
		return Humanis, nil
	}
	return "", fmt.Errorf("unknown countdown format %q", s)
}

// split decomposes d by integer division. Negative durations are treated as 0.
func split(d time.Duration) (h, m, s int) {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return total / 3600, (total % 3600) / 60, total % 60
}

// Format renders d under policy p. Unknown policies fall back to Digital.
func Format(d time.Duration, p Policy) string {
	h, m, s := split(d)
	switch p {
	case HourMinute:
		if h > 0 {
			return fmt.Sprintf("%d:%02d", h, m)
		}
		return fmt.Sprintf("0:%02d", m)
	case Compact:
		switch {
		case h > 0:
			return fmt.Sprintf("%dj %dm", h, m)
		case m > 0:
			return fmt.Sprintf("%dm", m)
		default:
			return fmt.Sprintf("%dd", s)
		}
	case CompactShort:
		if h > 0 {
			return fmt.Sprintf("%dj", h)
		}
		return fmt.Sprintf("%dm", m)
	case Humanis:
		return humanis(h, m, s)
	default:
		if h > 0 {
			return fmt.Sprintf("%d:%02d:%02d", h, m, s)
		}
		return fmt.Sprintf("%d:%02d", m, s)
	}
}

// humanis rounds to the next hour from the half hour on: 1h30m reads
// "2 jam lagi".
func humanis(h, m, s int) string {
	switch {
	case h > 0 && m >= 30:
		return fmt.Sprintf("%d jam lagi", h+1)
	case h > 0 && m > 0:
		return fmt.Sprintf("%d jam %d mnt", h, m)
	case h > 0:
		return fmt.Sprintf("%d jam lagi", h)
	case m == 1:
		return "1 menit lagi"
	case m >= 2 && m <= 4:
		return fmt.Sprintf("%d menit lagi", m)
	case m >= 5:
		return fmt.Sprintf("%d mnt lagi", m)
	default:
		return fmt.Sprintf("%d detik", s)
	}
}

// FormatWindowRemaining renders the time left in the current prayer window,
// or "" when nothing is left.
func FormatWindowRemaining(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	h, m, _ := split(d)
	if h > 0 {
		return fmt.Sprintf("%dj %dm tersisa", h, m)
	}
	return fmt.Sprintf("%d menit tersisa", m)
}

// Label composes the short status line: prayer name then countdown, each
// part optional.
func Label(st State, p Policy, nf prayer.NameFormat, showName, showCountdown bool) string {
	parts := make([]string, 0, 2)
	if showName {
		parts = append(parts, st.Next.Name.Formatted(nf))
	}
	if showCountdown {
		parts = append(parts, Format(st.Remaining, p))
	}
	return strings.Join(parts, " ")
}
