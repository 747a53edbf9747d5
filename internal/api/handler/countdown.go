package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/albapepper/salah/internal/api/respond"
	"github.com/albapepper/salah/internal/cache"
	"github.com/albapepper/salah/internal/countdown"
	"github.com/albapepper/salah/internal/driver"
	"github.com/albapepper/salah/internal/prayer"
	"github.com/albapepper/salah/internal/provider"
)

const (
	maxScheduleDays = 30
	scheduleWorkers = 4
)

// --------------------------------------------------------------------------
// Countdown
// --------------------------------------------------------------------------

type instantView struct {
	Name  string    `json:"name"`
	Label string    `json:"label"`
	Time  time.Time `json:"time"`
}

func newInstantView(in prayer.Instant) instantView {
	return instantView{Name: in.Name.Key(), Label: in.Name.Label(), Time: in.Time}
}

type windowView struct {
	Start         instantView `json:"start"`
	End           instantView `json:"end"`
	Elapsed       float64     `json:"elapsed"`
	RemainingText string      `json:"remaining_text,omitempty"`
}

// CountdownResponse is the live countdown view.
type CountdownResponse struct {
	Available        bool            `json:"available"`
	At               time.Time       `json:"at"`
	CalculatedAt     time.Time       `json:"calculated_at"`
	Location         prayer.Location `json:"location"`
	Next             *instantView    `json:"next,omitempty"`
	RemainingSeconds int64           `json:"remaining_seconds"`
	Text             string          `json:"text"`
	Label            string          `json:"label"`
	Approaching      bool            `json:"approaching"`
	Window           *windowView     `json:"window,omitempty"`
	Current          string          `json:"current,omitempty"`
}

func newCountdownResponse(s *driver.Snapshot) CountdownResponse {
	out := CountdownResponse{
		Available:    s.Available,
		At:           s.At,
		CalculatedAt: s.CalculatedAt,
		Location:     s.Location,
		Text:         s.Text,
		Label:        s.Label,
	}
	if !s.Available {
		return out
	}
	next := newInstantView(s.State.Next)
	out.Next = &next
	out.RemainingSeconds = s.RemainingSeconds
	out.Approaching = s.State.Approaching
	if win := s.State.Window; win != nil {
		out.Window = &windowView{
			Start:         newInstantView(win.Start),
			End:           newInstantView(win.End),
			Elapsed:       win.Elapsed,
			RemainingText: s.WindowText,
		}
	}
	if s.Current != nil {
		out.Current = s.Current.Key()
	}
	return out
}

// GetCountdown returns the current countdown snapshot.
// @Summary Current countdown
// @Description Next instant, remaining time (formatted with the active policy), approaching flag and current prayer window.
// @Tags countdown
// @Produce json
// @Success 200 {object} CountdownResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /countdown [get]
func (h *Handler) GetCountdown(w http.ResponseWriter, r *http.Request) {
	snap := h.driver.Snapshot()
	if !snap.Available {
		respond.WriteErrorDetail(w, http.StatusServiceUnavailable, respond.CodeScheduleUnavailable,
			"Prayer schedule unavailable", snap.Error)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, newCountdownResponse(snap))
}

// PostRecalculate forces a schedule refetch, as after waking from sleep.
// @Summary Force recalculation
// @Description Refetches today's and tomorrow's schedules, rebuilds alerts and returns the fresh countdown.
// @Tags countdown
// @Produce json
// @Success 200 {object} CountdownResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /recalculate [post]
func (h *Handler) PostRecalculate(w http.ResponseWriter, r *http.Request) {
	if err := h.driver.Recalculate(r.Context(), "api request"); err != nil {
		respond.WriteErrorDetail(w, http.StatusServiceUnavailable, respond.CodeScheduleUnavailable,
			"Prayer schedule unavailable", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, newCountdownResponse(h.driver.Snapshot()))
}

// --------------------------------------------------------------------------
// Schedule
// --------------------------------------------------------------------------

type dayView struct {
	Date     string        `json:"date"`
	Instants []instantView `json:"instants"`
}

// ScheduleResponse lists computed days for the active location.
type ScheduleResponse struct {
	Location prayer.Location `json:"location"`
	Days     []dayView       `json:"days"`
	Errors   []string        `json:"errors,omitempty"`
}

// GetSchedule returns one or more days of instants.
// @Summary Prayer schedule
// @Description Returns the six daily instants for days consecutive days starting at date. Responses are cached with ETag support.
// @Tags schedule
// @Produce json
// @Param date query string false "First day (YYYY-MM-DD, defaults to today)"
// @Param days query int false "Number of days (1-30, default 1)"
// @Success 200 {object} ScheduleResponse
// @Success 304 "Not Modified"
// @Failure 400 {object} respond.ErrorResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /schedule [get]
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	from, err := h.parseDay(r.URL.Query().Get("date"), h.today())
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, respond.CodeInvalidDate, err.Error())
		return
	}
	days := 1
	if raw := r.URL.Query().Get("days"); raw != "" {
		days, err = strconv.Atoi(raw)
		if err != nil || days < 1 || days > maxScheduleDays {
			respond.WriteError(w, http.StatusBadRequest, respond.CodeInvalidDays,
				fmt.Sprintf("days must be an integer between 1 and %d", maxScheduleDays))
			return
		}
	}

	loc := h.driver.Location()
	ttl := cache.TTLScheduleResponse
	cacheKey := fmt.Sprintf("schedule_response:%.4f,%.4f:%s:%s:%d",
		loc.Latitude, loc.Longitude, loc.Timezone, prayer.DateKey(from), days)

	if data, etag, ok := h.cache.Get(cacheKey); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, ttl, true)
		return
	}

	res := provider.FetchRange(r.Context(), h.driver.Provider(), loc, from, days,
		h.driver.Adjustments(), scheduleWorkers, h.logger)
	if len(res.Schedules) == 0 {
		respond.WriteErrorDetail(w, http.StatusServiceUnavailable, respond.CodeScheduleUnavailable,
			"Prayer schedule unavailable", strings.Join(res.Errors, "; "))
		return
	}

	resp := ScheduleResponse{Location: loc, Errors: res.Errors}
	for _, ds := range res.Schedules {
		day := dayView{Date: prayer.DateKey(ds.Date)}
		for _, in := range ds.Instants {
			day.Instants = append(day.Instants, newInstantView(in))
		}
		resp.Days = append(resp.Days, day)
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, respond.CodeInternal, "Failed to encode schedule")
		return
	}
	// Partial results are served but never cached.
	if len(res.Errors) > 0 {
		respond.WriteJSON(w, raw, cache.ComputeETag(raw), 0, false)
		return
	}
	etag := h.cache.Set(cacheKey, raw, ttl)
	respond.WriteJSON(w, raw, etag, ttl, false)
}

// --------------------------------------------------------------------------
// Location and settings
// --------------------------------------------------------------------------

// PutLocation records a location fix. Bursts are debounced by the driver.
// @Summary Change location
// @Description Accepts a location fix; recalculation happens asynchronously after the debounce window. An empty timezone keeps the current one.
// @Tags settings
// @Accept json
// @Produce json
// @Param location body prayer.Location true "New location"
// @Success 202 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorResponse
// @Router /location [put]
func (h *Handler) PutLocation(w http.ResponseWriter, r *http.Request) {
	var loc prayer.Location
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		respond.WriteError(w, http.StatusBadRequest, respond.CodeInvalidBody, "Body must be a JSON location")
		return
	}
	if loc.Timezone == "" {
		loc.Timezone = h.driver.Location().Timezone
	} else if _, err := time.LoadLocation(loc.Timezone); err != nil {
		respond.WriteError(w, http.StatusBadRequest, respond.CodeInvalidTimezone, "Unknown timezone "+loc.Timezone)
		return
	}
	if err := h.driver.LocationChanged(loc); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, respond.CodeInvalidLocation, "Invalid location", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusAccepted, map[string]interface{}{
		"status":   "accepted",
		"location": loc,
	})
}

// SettingsView is the wire form of prayer.Settings, with durations in
// minutes.
type SettingsView struct {
	ReminderEnabled     bool              `json:"reminder_enabled"`
	ReminderLeadMinutes int               `json:"reminder_lead_minutes"`
	Modes               map[string]string `json:"modes"`
	CountdownFormat     string            `json:"countdown_format"`
	NameFormat          string            `json:"name_format"`
	ApproachingMinutes  int               `json:"approaching_minutes"`
}

func newSettingsView(s prayer.Settings) SettingsView {
	v := SettingsView{
		ReminderEnabled:     s.ReminderEnabled,
		ReminderLeadMinutes: int(s.ReminderLead / time.Minute),
		Modes:               make(map[string]string, len(prayer.ObligatoryKinds)),
		CountdownFormat:     s.CountdownFormat,
		NameFormat:          string(s.NameFormat),
		ApproachingMinutes:  int(s.ApproachingThreshold / time.Minute),
	}
	for _, k := range prayer.ObligatoryKinds {
		v.Modes[k.Key()] = string(s.ModeFor(k))
	}
	return v
}

func (v SettingsView) settings() (prayer.Settings, error) {
	s := prayer.Settings{
		ReminderEnabled:      v.ReminderEnabled,
		ReminderLead:         time.Duration(v.ReminderLeadMinutes) * time.Minute,
		Modes:                make(map[prayer.Kind]prayer.Mode, len(v.Modes)),
		CountdownFormat:      v.CountdownFormat,
		NameFormat:           prayer.NameFormat(v.NameFormat),
		ApproachingThreshold: time.Duration(v.ApproachingMinutes) * time.Minute,
	}
	for key, raw := range v.Modes {
		k, err := prayer.ParseKind(key)
		if err != nil {
			return s, err
		}
		m, err := prayer.ParseMode(raw)
		if err != nil {
			return s, err
		}
		s.Modes[k] = m
	}
	switch s.NameFormat {
	case prayer.NameFull, prayer.NameShort3, prayer.NameShort1:
	default:
		return s, fmt.Errorf("unknown name format %q", v.NameFormat)
	}
	if _, err := countdown.ParsePolicy(s.CountdownFormat); err != nil {
		return s, err
	}
	if v.ReminderLeadMinutes < 0 || v.ApproachingMinutes < 0 {
		return s, errors.New("minute values must not be negative")
	}
	return s, nil
}

// GetSettings returns the active preferences.
// @Summary Get settings
// @Tags settings
// @Produce json
// @Success 200 {object} SettingsView
// @Router /settings [get]
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, newSettingsView(h.driver.Settings()))
}

// PutSettings applies a settings change. Omitted fields keep their values.
// The countdown and the registered alerts follow immediately.
// @Summary Update settings
// @Description Partial update; triggers recalculation and an alert rebuild.
// @Tags settings
// @Accept json
// @Produce json
// @Param settings body SettingsView true "Settings (partial)"
// @Success 200 {object} SettingsView
// @Failure 400 {object} respond.ErrorResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /settings [put]
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	view := newSettingsView(h.driver.Settings())
	if err := json.NewDecoder(r.Body).Decode(&view); err != nil {
		respond.WriteError(w, http.StatusBadRequest, respond.CodeInvalidBody, "Body must be a JSON settings object")
		return
	}
	s, err := view.settings()
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, respond.CodeInvalidSettings, "Invalid settings", err.Error())
		return
	}

	err = h.driver.SettingsChanged(r.Context(), s)
	switch {
	case errors.Is(err, prayer.ErrScheduleUnavailable):
		respond.WriteErrorDetail(w, http.StatusServiceUnavailable, respond.CodeScheduleUnavailable,
			"Settings saved but the schedule is unavailable", err.Error())
		return
	case err != nil:
		respond.WriteErrorDetail(w, http.StatusBadRequest, respond.CodeInvalidSettings, "Invalid settings", err.Error())
		return
	}
	h.logger.Info("Settings updated", "format", s.CountdownFormat, "reminder", s.ReminderEnabled)
	respond.WriteJSONObject(w, http.StatusOK, newSettingsView(h.driver.Settings()))
}

// --------------------------------------------------------------------------
// Alerts
// --------------------------------------------------------------------------

// GetAlerts lists the registered alerts.
// @Summary Pending alerts
// @Description Alerts currently registered for today and tomorrow, ordered by fire time.
// @Tags alerts
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} respond.ErrorResponse
// @Router /alerts [get]
func (h *Handler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{"count": 0, "alerts": []interface{}{}})
		return
	}
	reqs, err := h.scheduler.PendingAlerts(r.Context())
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusServiceUnavailable, respond.CodeRegistryUnavailable,
			"Alert registry unavailable", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{"count": len(reqs), "alerts": reqs})
}

// DeleteAlerts cancels every registered alert. They come back on the next
// recalculation.
// @Summary Cancel alerts
// @Tags alerts
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} respond.ErrorResponse
// @Router /alerts [delete]
func (h *Handler) DeleteAlerts(w http.ResponseWriter, r *http.Request) {
	if h.scheduler != nil {
		if err := h.scheduler.CancelAll(r.Context()); err != nil {
			respond.WriteErrorDetail(w, http.StatusServiceUnavailable, respond.CodeRegistryUnavailable,
				"Alert registry unavailable", err.Error())
			return
		}
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{"status": "cancelled"})
}
