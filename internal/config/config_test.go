package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/salah/internal/prayer"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "Batam", cfg.Location.City)
	assert.InDelta(t, 1.0456, cfg.Location.Latitude, 1e-9)
	assert.Equal(t, 11, cfg.AladhanMethod)
	assert.Equal(t, prayer.KemenagAdjustments(), cfg.Adjustments)
	assert.Equal(t, 10*time.Minute, cfg.Settings.ReminderLead)
	assert.Equal(t, 15*time.Minute, cfg.Settings.ApproachingThreshold)
	assert.Equal(t, "digital", cfg.Settings.CountdownFormat)
	assert.Equal(t, 8000, cfg.APIPort)
	assert.Equal(t, time.Second, cfg.DispatchInterval)
	assert.False(t, cfg.HasDatabase())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LATITUDE", "-6.2")
	t.Setenv("LONGITUDE", "106.8")
	t.Setenv("CITY_NAME", "Jakarta")
	t.Setenv("ADJUST_MAGHRIB", "0")
	t.Setenv("REMINDER_ENABLED", "false")
	t.Setenv("REMINDER_LEAD_MINUTES", "30")
	t.Setenv("APPROACHING_MINUTES", "5")
	t.Setenv("COUNTDOWN_FORMAT", "humanis")
	t.Setenv("PRAYER_MODES", "fajr=silent, isha=off")
	t.Setenv("ALADHAN_BASE_URL", "http://localhost:9999/v1/")
	t.Setenv("CORS_ALLOW_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "Jakarta", cfg.Location.City)
	assert.Equal(t, 0, cfg.Adjustments[prayer.Maghrib])
	assert.Equal(t, 2, cfg.Adjustments[prayer.Fajr])
	assert.False(t, cfg.Settings.ReminderEnabled)
	assert.Equal(t, 30*time.Minute, cfg.Settings.ReminderLead)
	assert.Equal(t, 5*time.Minute, cfg.Settings.ApproachingThreshold)
	assert.Equal(t, "humanis", cfg.Settings.CountdownFormat)
	assert.Equal(t, prayer.ModeSilent, cfg.Settings.ModeFor(prayer.Fajr))
	assert.Equal(t, prayer.ModeOff, cfg.Settings.ModeFor(prayer.Isha))
	assert.Equal(t, prayer.ModeAzan, cfg.Settings.ModeFor(prayer.Dhuhr))
	assert.Equal(t, "http://localhost:9999/v1", cfg.AladhanBaseURL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowOrigins)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string][2]string{
		"latitude": {"LATITUDE", "123"},
		"timezone": {"TIMEZONE", "Mars/Olympus"},
		"format":   {"COUNTDOWN_FORMAT", "sundial"},
		"mode":     {"PRAYER_MODES", "sunrise=azan"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
