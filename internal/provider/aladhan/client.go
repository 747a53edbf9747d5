// Package aladhan is a prayer.Provider backed by the Al Adhan timings API.
//
// One GET per day: /timings/{DD-MM-YYYY}?latitude=&longitude=&method=.
// Times come back as "HH:MM" with an optional " (TZ)" suffix and are read in
// the location's timezone. Per-instant adjustments are applied locally.
// Rate limiting is handled via a token bucket limiter.
package aladhan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/albapepper/salah/internal/prayer"
)

// MethodSingapore is the Al Adhan method id used by Kemenag-aligned
// schedules (Fajr 20°, Isha 18°).
const MethodSingapore = 11

// Client is the HTTP schedule provider.
type Client struct {
	httpClient *http.Client
	baseURL    string
	method     int
	limiter    *rate.Limiter
	logger     *slog.Logger
}

var _ prayer.Provider = (*Client)(nil)

// NewClient creates an Al Adhan client with rate limiting.
func NewClient(baseURL string, method, requestsPerMinute int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	rps := float64(requestsPerMinute) / 60.0
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		method:     method,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		logger:     logger,
	}
}

// Method is the calculation method id sent with every request.
func (c *Client) Method() int { return c.method }

// response is the subset of the timings payload we read.
type response struct {
	Code   int    `json:"code"`
	Status string `json:"status"`
	Data   struct {
		Timings map[string]string `json:"timings"`
		Meta    struct {
			Timezone string `json:"timezone"`
		} `json:"meta"`
	} `json:"data"`
}

// timingKeys maps our names to the API's timing keys.
var timingKeys = [6]string{"Fajr", "Sunrise", "Dhuhr", "Asr", "Maghrib", "Isha"}

// DailyInstants fetches and builds the schedule for date at loc. Every
// failure wraps prayer.ErrScheduleUnavailable.
func (c *Client) DailyInstants(ctx context.Context, loc prayer.Location, date time.Time, adj prayer.Adjustments) (prayer.DaySchedule, error) {
	if err := loc.Validate(); err != nil {
		return prayer.DaySchedule{}, fmt.Errorf("%w: %v", prayer.ErrScheduleUnavailable, err)
	}
	tz := loc.TimeLocation()
	day := date.In(tz)

	resp, err := c.get(ctx, "/timings/"+day.Format("02-01-2006"), url.Values{
		"latitude":  {strconv.FormatFloat(loc.Latitude, 'f', 6, 64)},
		"longitude": {strconv.FormatFloat(loc.Longitude, 'f', 6, 64)},
		"method":    {strconv.Itoa(c.method)},
	})
	if err != nil {
		return prayer.DaySchedule{}, fmt.Errorf("%w: %v", prayer.ErrScheduleUnavailable, err)
	}

	ds, err := build(resp, loc, day, tz, adj)
	if err != nil {
		return prayer.DaySchedule{}, fmt.Errorf("%w: %v", prayer.ErrScheduleUnavailable, err)
	}
	c.logger.Debug("Schedule fetched", "date", prayer.DateKey(day), "city", loc.City, "api_tz", resp.Data.Meta.Timezone)
	return ds, nil
}

func build(resp *response, loc prayer.Location, day time.Time, tz *time.Location, adj prayer.Adjustments) (prayer.DaySchedule, error) {
	instants := make([]prayer.Instant, 0, len(prayer.Names))
	for i, n := range prayer.Names {
		raw, ok := resp.Data.Timings[timingKeys[i]]
		if !ok {
			return prayer.DaySchedule{}, fmt.Errorf("missing %s timing", timingKeys[i])
		}
		at, err := ParseClock(raw, day, tz)
		if err != nil {
			return prayer.DaySchedule{}, fmt.Errorf("%s: %w", timingKeys[i], err)
		}
		instants = append(instants, prayer.Instant{Name: n, Time: at.Add(time.Duration(adj[n]) * time.Minute)})
	}
	return prayer.NewDaySchedule(day, loc, instants)
}

// ParseClock reads "HH:MM" (optionally followed by " (TZ)") as a wall clock
// time on day in tz.
func ParseClock(raw string, day time.Time, tz *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return time.Time{}, fmt.Errorf("malformed time %q", raw)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return time.Time{}, fmt.Errorf("malformed hour in %q", raw)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return time.Time{}, fmt.Errorf("malformed minute in %q", raw)
	}
	y, mo, d := day.Date()
	return time.Date(y, mo, d, h, m, 0, 0, tz), nil
}

// get performs a rate-limited GET request.
func (c *Client) get(ctx context.Context, path string, params url.Values) (*response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aladhan %s returned %d: %s", path, resp.StatusCode, truncate(body, 200))
	}

	var result response
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if result.Code != http.StatusOK {
		return nil, fmt.Errorf("aladhan %s: code %d %s", path, result.Code, result.Status)
	}
	return &result, nil
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
