package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/albapepper/salah/internal/api/respond"
	"github.com/albapepper/salah/internal/completion"
	"github.com/albapepper/salah/internal/prayer"
)

const (
	defaultListDays  = 7
	defaultStatsDays = 30
)

// RecordView is the wire form of a completion record.
type RecordView struct {
	ID          string     `json:"id,omitempty"`
	Date        string     `json:"date"`
	Kind        string     `json:"kind"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func newRecordView(rec completion.Record, date time.Time, kind prayer.Kind) RecordView {
	v := RecordView{
		Date:        prayer.DateKey(date),
		Kind:        kind.Key(),
		Completed:   rec.Completed,
		CompletedAt: rec.CompletedAt,
	}
	if rec.ID != uuid.Nil {
		v.ID = rec.ID.String()
	}
	return v
}

// dayKind parses the {date}/{kind} path parameters.
func (h *Handler) dayKind(w http.ResponseWriter, r *http.Request) (time.Time, prayer.Kind, bool) {
	date, err := h.parseDay(chi.URLParam(r, "date"), time.Time{})
	if err != nil || date.IsZero() {
		respond.WriteError(w, http.StatusBadRequest, respond.CodeInvalidDate, "date must be YYYY-MM-DD")
		return time.Time{}, 0, false
	}
	kind, err := prayer.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, respond.CodeInvalidKind,
			"kind must be one of fajr, dhuhr, asr, maghrib, isha", err.Error())
		return time.Time{}, 0, false
	}
	return date, kind, true
}

// ListCompletions returns the records in a date range.
// @Summary List completions
// @Tags completions
// @Produce json
// @Param from query string false "First day (YYYY-MM-DD, defaults to 6 days before to)"
// @Param to query string false "Last day (YYYY-MM-DD, defaults to today)"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /completions [get]
func (h *Handler) ListCompletions(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.parseRange(r, defaultListDays)
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, respond.CodeInvalidRange, err.Error())
		return
	}
	recs, err := h.stats.Store().Query(r.Context(), from, to)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	views := make([]RecordView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, newRecordView(rec, rec.Date, rec.Kind))
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"from":    prayer.DateKey(from),
		"to":      prayer.DateKey(to),
		"records": views,
	})
}

// ToggleCompletion flips a prayer's completed flag, creating the record as
// completed when none exists.
// @Summary Toggle completion
// @Tags completions
// @Produce json
// @Param date path string true "Day (YYYY-MM-DD)"
// @Param kind path string true "Prayer" Enums(fajr, dhuhr, asr, maghrib, isha)
// @Success 200 {object} RecordView
// @Failure 400 {object} respond.ErrorResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /completions/{date}/{kind}/toggle [post]
func (h *Handler) ToggleCompletion(w http.ResponseWriter, r *http.Request) {
	date, kind, ok := h.dayKind(w, r)
	if !ok {
		return
	}
	rec, err := h.stats.Store().Toggle(r.Context(), date, kind)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, newRecordView(rec, date, kind))
}

type completionBody struct {
	Completed *bool `json:"completed"`
}

// PutCompletion sets a prayer's completed flag explicitly. Clearing a
// prayer that was never logged stores nothing.
// @Summary Set completion
// @Tags completions
// @Accept json
// @Produce json
// @Param date path string true "Day (YYYY-MM-DD)"
// @Param kind path string true "Prayer" Enums(fajr, dhuhr, asr, maghrib, isha)
// @Param body body completionBody true "Completed flag"
// @Success 200 {object} RecordView
// @Failure 400 {object} respond.ErrorResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /completions/{date}/{kind} [put]
func (h *Handler) PutCompletion(w http.ResponseWriter, r *http.Request) {
	date, kind, ok := h.dayKind(w, r)
	if !ok {
		return
	}
	var body completionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Completed == nil {
		respond.WriteError(w, http.StatusBadRequest, respond.CodeInvalidBody, `Body must be {"completed": true|false}`)
		return
	}
	rec, err := h.stats.Store().Upsert(r.Context(), date, kind, *body.Completed)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, newRecordView(rec, date, kind))
}

// GetWeek returns the Monday-start grid for a week.
// @Summary Weekly grid
// @Description Seven days by five prayers, plus completed and possible counts so far.
// @Tags completions
// @Produce json
// @Param date query string false "Any day in the week (YYYY-MM-DD, defaults to today)"
// @Success 200 {object} adherence.Week
// @Failure 400 {object} respond.ErrorResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /completions/week [get]
func (h *Handler) GetWeek(w http.ResponseWriter, r *http.Request) {
	date, err := h.parseDay(r.URL.Query().Get("date"), h.today())
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, respond.CodeInvalidDate, err.Error())
		return
	}
	week, err := h.stats.Week(r.Context(), date)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, week)
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

// GetStats returns adherence statistics for a range.
// @Summary Adherence statistics
// @Description Totals, streaks, weekly and monthly percentages and per-prayer counts for [from, to].
// @Tags stats
// @Produce json
// @Param from query string false "First day (YYYY-MM-DD, defaults to 29 days before to)"
// @Param to query string false "Last day (YYYY-MM-DD, defaults to today)"
// @Success 200 {object} adherence.Stats
// @Failure 400 {object} respond.ErrorResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /stats [get]
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.parseRange(r, defaultStatsDays)
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, respond.CodeInvalidRange, err.Error())
		return
	}
	stats, err := h.stats.Stats(r.Context(), from, to)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, stats)
}

// GetStreaks returns the current and best streak.
// @Summary Streaks
// @Tags stats
// @Produce json
// @Param asOf query string false "Day (YYYY-MM-DD, defaults to today)"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /stats/streaks [get]
func (h *Handler) GetStreaks(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.parseDay(r.URL.Query().Get("asOf"), h.today())
	if err != nil {
		respond.WriteError(w, http.StatusBadRequest, respond.CodeInvalidDate, err.Error())
		return
	}
	current, best, err := h.stats.Streaks(r.Context(), asOf)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"as_of":   prayer.DateKey(asOf),
		"current": current,
		"best":    best,
	})
}

// GetSummary returns today's, this week's and the streak quick stats.
// @Summary Quick stats
// @Tags stats
// @Produce json
// @Success 200 {object} adherence.Summary
// @Failure 503 {object} respond.ErrorResponse
// @Router /summary [get]
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.stats.Summary(r.Context())
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, sum)
}
