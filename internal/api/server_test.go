package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/salah/internal/adherence"
	"github.com/albapepper/salah/internal/alerts"
	"github.com/albapepper/salah/internal/api/handler"
	"github.com/albapepper/salah/internal/api/respond"
	"github.com/albapepper/salah/internal/cache"
	"github.com/albapepper/salah/internal/completion"
	"github.com/albapepper/salah/internal/config"
	"github.com/albapepper/salah/internal/driver"
	"github.com/albapepper/salah/internal/prayer"
	"github.com/albapepper/salah/internal/provider"
)

var batam = prayer.Location{Latitude: 1.0456, Longitude: 104.0305, City: "Batam", Timezone: "Asia/Jakarta"}

type fixture struct {
	router http.Handler
	driver *driver.Driver
	store  completion.Store
}

func newFixture(t *testing.T, store completion.Store, recalc bool) *fixture {
	t.Helper()
	now := time.Date(2026, 10, 15, 10, 0, 0, 0, batam.TimeLocation())
	clock := func() time.Time { return now }

	sched := alerts.NewScheduler(alerts.NewMemoryRegistry(), nil)
	d, err := driver.New(driver.Options{
		Provider:  provider.DefaultStatic(),
		Scheduler: sched,
		Location:  batam,
		Settings:  prayer.DefaultSettings(),
		Now:       clock,
	})
	require.NoError(t, err)
	if recalc {
		require.NoError(t, d.Recalculate(context.Background(), "test"))
	}
	if store == nil {
		store = completion.NewMemoryStore(clock)
	}

	cfg := &config.Config{CORSAllowOrigins: []string{"*"}}
	router := NewRouter(handler.Deps{
		Driver:    d,
		Scheduler: sched,
		Stats:     adherence.NewService(store, clock, nil),
		Cache:     cache.New(true),
		Now:       clock,
	}, cfg)
	return &fixture{router: router, driver: d, store: store}
}

func (f *fixture) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	return decode[respond.ErrorResponse](t, rec).Error.Code
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil, true)

	rec := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, true, body["schedule_available"])
	assert.NotEmpty(t, rec.Header().Get("X-Process-Time"))

	rec = f.do(t, http.MethodGet, "/health/db", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "disabled", decode[map[string]interface{}](t, rec)["database"])

	rec = f.do(t, http.MethodGet, "/health/cache", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCountdown(t *testing.T) {
	f := newFixture(t, nil, false)

	rec := f.do(t, http.MethodGet, "/api/v1/countdown", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "SCHEDULE_UNAVAILABLE", errorCode(t, rec))

	rec = f.do(t, http.MethodPost, "/api/v1/recalculate", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/countdown", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[handler.CountdownResponse](t, rec)
	assert.True(t, got.Available)
	require.NotNil(t, got.Next)
	assert.Equal(t, "dhuhr", got.Next.Name)
	assert.Equal(t, "Dzuhur", got.Next.Label)
	assert.Equal(t, int64(115*60), got.RemainingSeconds)
	assert.Equal(t, "1:55:00", got.Text)
	assert.False(t, got.Approaching)
	assert.Nil(t, got.Window)
	assert.Empty(t, got.Current)
}

func TestSchedule(t *testing.T) {
	f := newFixture(t, nil, true)

	rec := f.do(t, http.MethodGet, "/api/v1/schedule?date=2026-10-15&days=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	got := decode[handler.ScheduleResponse](t, rec)
	require.Len(t, got.Days, 2)
	assert.Equal(t, "2026-10-15", got.Days[0].Date)
	assert.Equal(t, "2026-10-16", got.Days[1].Date)
	require.Len(t, got.Days[0].Instants, 6)
	assert.Equal(t, "sunrise", got.Days[0].Instants[1].Name)

	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	rec = f.do(t, http.MethodGet, "/api/v1/schedule?date=2026-10-15&days=2", "", "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/schedule?date=2026-10-15&days=2", "")
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))

	rec = f.do(t, http.MethodGet, "/api/v1/schedule", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2026-10-15", decode[handler.ScheduleResponse](t, rec).Days[0].Date)

	for _, q := range []string{"days=0", "days=31", "days=x", "date=15-10-2026"} {
		rec = f.do(t, http.MethodGet, "/api/v1/schedule?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestSettings(t *testing.T) {
	f := newFixture(t, nil, true)

	rec := f.do(t, http.MethodGet, "/api/v1/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[handler.SettingsView](t, rec)
	assert.Equal(t, 10, got.ReminderLeadMinutes)
	assert.Equal(t, "azan", got.Modes["fajr"])

	rec = f.do(t, http.MethodGet, "/api/v1/alerts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 18, decode[map[string]interface{}](t, rec)["count"])

	rec = f.do(t, http.MethodPut, "/api/v1/settings",
		`{"countdown_format":"humanis","reminder_enabled":false,"modes":{"asr":"off"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got = decode[handler.SettingsView](t, rec)
	assert.Equal(t, "humanis", got.CountdownFormat)
	assert.Equal(t, "off", got.Modes["asr"])
	assert.Equal(t, "azan", got.Modes["isha"])
	assert.Equal(t, "2 jam lagi", f.driver.Snapshot().Text)

	// Dhuhr, Maghrib, Isha today plus four tomorrow, exact only.
	rec = f.do(t, http.MethodGet, "/api/v1/alerts", "")
	assert.EqualValues(t, 7, decode[map[string]interface{}](t, rec)["count"])

	for _, body := range []string{
		`{"countdown_format":"sundial"}`,
		`{"name_format":"long"}`,
		`{"modes":{"sunrise":"azan"}}`,
		`{"modes":{"fajr":"loud"}}`,
		`{"reminder_lead_minutes":-5}`,
		`not json`,
	} {
		rec = f.do(t, http.MethodPut, "/api/v1/settings", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	rec = f.do(t, http.MethodDelete, "/api/v1/alerts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/alerts", "")
	assert.EqualValues(t, 0, decode[map[string]interface{}](t, rec)["count"])
}

func TestLocation(t *testing.T) {
	f := newFixture(t, nil, true)

	rec := f.do(t, http.MethodPut, "/api/v1/location", `{"latitude":-6.2,"longitude":106.8,"city":"Jakarta"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/location", `{"latitude":95,"longitude":106.8}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_LOCATION", errorCode(t, rec))

	rec = f.do(t, http.MethodPut, "/api/v1/location", `{"latitude":1,"longitude":1,"timezone":"Mars/Olympus"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompletions(t *testing.T) {
	f := newFixture(t, nil, true)

	rec := f.do(t, http.MethodPost, "/api/v1/completions/2026-10-15/asr/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[handler.RecordView](t, rec)
	assert.True(t, got.Completed)
	assert.NotEmpty(t, got.ID)
	assert.NotNil(t, got.CompletedAt)

	// Clearing a prayer that was never logged stores nothing.
	rec = f.do(t, http.MethodPut, "/api/v1/completions/2026-10-15/isha", `{"completed":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got = decode[handler.RecordView](t, rec)
	assert.False(t, got.Completed)
	assert.Empty(t, got.ID)

	rec = f.do(t, http.MethodPut, "/api/v1/completions/2026-10-15/fajr", `{"completed":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/completions?from=2026-10-14&to=2026-10-15", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Records []handler.RecordView `json:"records"`
	}](t, rec)
	require.Len(t, list.Records, 2)
	assert.Equal(t, "fajr", list.Records[0].Kind)
	assert.Equal(t, "asr", list.Records[1].Kind)

	rec = f.do(t, http.MethodGet, "/api/v1/completions/week", "")
	require.Equal(t, http.StatusOK, rec.Code)
	week := decode[adherence.Week](t, rec)
	assert.Equal(t, "2026-10-12", week.Start)
	assert.Len(t, week.Days, 7)
	assert.Equal(t, 2, week.Completed)
	assert.Equal(t, 20, week.Possible)

	rec = f.do(t, http.MethodGet, "/api/v1/stats?from=2026-10-15&to=2026-10-15", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[adherence.Stats](t, rec)
	assert.True(t, stats.Available)
	assert.Equal(t, 2, stats.CompletedPrayers)
	assert.Equal(t, 5, stats.TotalPrayers)

	rec = f.do(t, http.MethodGet, "/api/v1/stats/streaks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode[map[string]interface{}](t, rec)["current"])

	rec = f.do(t, http.MethodGet, "/api/v1/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[adherence.Summary](t, rec).TodayCompleted)

	bad := []struct{ method, path, body string }{
		{http.MethodPost, "/api/v1/completions/2026-10-15/sunrise/toggle", ""},
		{http.MethodPost, "/api/v1/completions/yesterday/asr/toggle", ""},
		{http.MethodPut, "/api/v1/completions/2026-10-15/asr", `{}`},
		{http.MethodGet, "/api/v1/completions?from=2026-10-16&to=2026-10-15", ""},
		{http.MethodGet, "/api/v1/stats?from=2020-01-01&to=2026-10-15", ""},
	}
	for _, b := range bad {
		rec = f.do(t, b.method, b.path, b.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, b.path)
	}
}

type failingStore struct{ completion.Store }

var errDown = errors.New("connection refused")

func (failingStore) Query(context.Context, time.Time, time.Time) ([]completion.Record, error) {
	return nil, errDown
}

func (failingStore) Toggle(context.Context, time.Time, prayer.Kind) (completion.Record, error) {
	return completion.Record{}, errors.Join(completion.ErrStoreUnavailable, errDown)
}

func TestStoreUnavailable(t *testing.T) {
	f := newFixture(t, failingStore{}, true)

	for _, path := range []string{"/api/v1/stats", "/api/v1/summary", "/api/v1/completions/week", "/api/v1/stats/streaks"} {
		rec := f.do(t, http.MethodGet, path, "")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
		assert.Equal(t, "STORE_UNAVAILABLE", errorCode(t, rec))
	}

	rec := f.do(t, http.MethodPost, "/api/v1/completions/2026-10-15/asr/toggle", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// The countdown is unaffected.
	rec = f.do(t, http.MethodGet, "/api/v1/countdown", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	h := RateLimitMiddleware(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// Other clients have their own bucket.
	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "10.0.0.2:1234"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
