// Package handler provides HTTP handlers for all API endpoints.
// The countdown and schedule views read the driver's published snapshot;
// completion and statistics endpoints go through the adherence service.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/albapepper/salah/internal/adherence"
	"github.com/albapepper/salah/internal/alerts"
	"github.com/albapepper/salah/internal/api/respond"
	"github.com/albapepper/salah/internal/cache"
	"github.com/albapepper/salah/internal/completion"
	"github.com/albapepper/salah/internal/driver"
	"github.com/albapepper/salah/internal/prayer"
)

// Pinger reports database reachability. *db.Pool satisfies it.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the handler's collaborators. Scheduler and DB may be nil.
type Deps struct {
	Driver    *driver.Driver
	Scheduler *alerts.Scheduler
	Stats     *adherence.Service
	Cache     *cache.Cache
	DB        Pinger
	Now       func() time.Time
	Logger    *slog.Logger
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	driver    *driver.Driver
	scheduler *alerts.Scheduler
	stats     *adherence.Service
	cache     *cache.Cache
	db        Pinger
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a Handler with shared dependencies.
func New(d Deps) *Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Cache == nil {
		d.Cache = cache.New(false)
	}
	return &Handler{
		driver:    d.Driver,
		scheduler: d.Scheduler,
		stats:     d.Stats,
		cache:     d.Cache,
		db:        d.DB,
		now:       d.Now,
		logger:    d.Logger,
	}
}

// Root serves API info at /.
// @Summary API root info
// @Description Returns API name, version and status.
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"name":    "Salah API",
		"version": "1.0.0",
		"status":  "running",
		"docs":    "/docs",
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Description Returns basic health status, timestamp and whether a schedule is loaded.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":             "healthy",
		"schedule_available": h.driver.Snapshot().Available,
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies database connectivity.
// @Summary Database health check
// @Description Verifies Postgres connectivity. Reports "disabled" when completions are kept in memory.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/db [get]
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
			"status":    "healthy",
			"database":  "disabled",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	if err := h.db.HealthCheck(r.Context()); err != nil {
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"database":  "disconnected",
			"error":     "Database connection check failed",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckCache returns cache statistics.
// @Summary Cache health check
// @Description Returns in-memory cache statistics (active keys, expired keys).
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health/cache [get]
func (h *Handler) HealthCheckCache(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"cache":     h.cache.Stats(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

const maxRangeDays = 366

// today is the current calendar day in the active location's timezone.
func (h *Handler) today() time.Time {
	return prayer.StartOfDay(h.now().In(h.driver.Location().TimeLocation()))
}

// parseDay parses a YYYY-MM-DD value in the active timezone. Empty input
// yields def.
func (h *Handler) parseDay(raw string, def time.Time) (time.Time, error) {
	if raw == "" {
		return def, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, raw, h.driver.Location().TimeLocation())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", raw)
	}
	return t, nil
}

// parseRange reads from/to query parameters, defaulting to the days-long
// window ending today.
func (h *Handler) parseRange(r *http.Request, days int) (from, to time.Time, err error) {
	to, err = h.parseDay(r.URL.Query().Get("to"), h.today())
	if err != nil {
		return
	}
	from, err = h.parseDay(r.URL.Query().Get("from"), prayer.AddDays(to, -(days-1)))
	if err != nil {
		return
	}
	switch n := prayer.DaysBetween(from, to); {
	case n < 0:
		err = errors.New("from must not be after to")
	case n >= maxRangeDays:
		err = fmt.Errorf("range must be shorter than %d days", maxRangeDays)
	}
	return
}

// writeStoreError maps completion store failures onto the error shape.
func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, completion.ErrStoreUnavailable):
		respond.WriteErrorDetail(w, http.StatusServiceUnavailable, respond.CodeStoreUnavailable,
			"Completion store unavailable", err.Error())
	case errors.Is(err, completion.ErrNotFound):
		respond.WriteError(w, http.StatusNotFound, respond.CodeNotFound, "No completion record for that day and prayer")
	default:
		h.logger.Error("Completion request failed", "error", err)
		respond.WriteError(w, http.StatusInternalServerError, respond.CodeInternal, "Internal error")
	}
}
