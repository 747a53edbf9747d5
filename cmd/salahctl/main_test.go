package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	for _, key := range []string{"LATITUDE", "LONGITUDE", "TIMEZONE", "COUNTDOWN_FORMAT", "PRAYER_MODES"} {
		t.Setenv(key, "")
	}
	for _, n := range []string{"FAJR", "SUNRISE", "DHUHR", "ASR", "MAGHRIB", "ISHA"} {
		t.Setenv("ADJUST_"+n, "")
	}
	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestScheduleOffline(t *testing.T) {
	out, err := execute(t, "schedule", "--offline", "--date", "2026-10-15", "--days", "2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "Subuh")
	assert.Contains(t, lines[0], "Isya")
	assert.True(t, strings.HasPrefix(lines[1], "2026-10-15"))
	// Kemenag adjustments are applied to the fixed offsets.
	assert.Contains(t, lines[1], "04:40")
	assert.Contains(t, lines[1], "05:48")
	assert.True(t, strings.HasPrefix(lines[2], "2026-10-16"))
}

func TestCountdownOffline(t *testing.T) {
	out, err := execute(t, "countdown", "--offline", "--at", "2026-10-15T10:00:00")
	require.NoError(t, err)
	assert.Contains(t, out, "Dzuhur 1:57:00")
	assert.Contains(t, out, "next: Dzuhur at 2026-10-15 11:57")

	out, err = execute(t, "countdown", "--offline", "--at", "2026-10-15T15:00:00", "--format", "humanis")
	require.NoError(t, err)
	assert.Contains(t, out, "Ashar 5 mnt lagi")
	assert.Contains(t, out, "approaching")
	assert.Contains(t, out, "Dzuhur: ")

	_, err = execute(t, "countdown", "--offline", "--format", "sundial")
	assert.Error(t, err)
}

func TestLogRequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := execute(t, "log", "toggle", "2026-10-15", "asr")
	assert.ErrorContains(t, err, "DATABASE_URL")

	_, err = execute(t, "log", "set", "2026-10-15", "asr", "maybe")
	assert.Error(t, err)
}
