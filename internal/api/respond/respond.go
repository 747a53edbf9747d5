// Package respond holds the JSON writers shared by every handler.
package respond

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Error codes carried in ErrorBody.Code.
const (
	CodeInvalidBody         = "INVALID_BODY"
	CodeInvalidDate         = "INVALID_DATE"
	CodeInvalidDays         = "INVALID_DAYS"
	CodeInvalidKind         = "INVALID_KIND"
	CodeInvalidLocation     = "INVALID_LOCATION"
	CodeInvalidRange        = "INVALID_RANGE"
	CodeInvalidSettings     = "INVALID_SETTINGS"
	CodeInvalidTimezone     = "INVALID_TIMEZONE"
	CodeNotFound            = "NOT_FOUND"
	CodeInternal            = "INTERNAL"
	CodeRateLimited         = "RATE_LIMITED"
	CodeScheduleUnavailable = "SCHEDULE_UNAVAILABLE"
	CodeStoreUnavailable    = "STORE_UNAVAILABLE"
	CodeRegistryUnavailable = "REGISTRY_UNAVAILABLE"
)

// UnavailableRetryAfter is advertised on 503 responses.
const UnavailableRetryAfter = 60 * time.Second

// ErrorBody is the inner error object.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// ErrorResponse is the envelope of every API error: {"error":{...}}.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// WriteJSON writes pre-encoded JSON from the schedule cache, tagged with its
// ETag and cache status.
func WriteJSON(w http.ResponseWriter, data []byte, etag string, ttl time.Duration, cacheHit bool) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("ETag", etag)
	h.Set("Vary", "Accept-Encoding")
	if cacheHit {
		h.Set("X-Cache", "HIT")
	} else {
		h.Set("X-Cache", "MISS")
	}
	h.Set("Cache-Control", cacheControl(ttl))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// WriteNotModified answers a conditional GET whose ETag still matches.
func WriteNotModified(w http.ResponseWriter, etag string) {
	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusNotModified)
}

// WriteError sends an error without detail.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteErrorDetail(w, status, code, message, "")
}

// WriteErrorDetail sends an error. 503s also carry Retry-After, matching the
// driver's retry cadence for an unavailable schedule.
func WriteErrorDetail(w http.ResponseWriter, status int, code, message, detail string) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	if status == http.StatusServiceUnavailable && h.Get("Retry-After") == "" {
		h.Set("Retry-After", strconv.Itoa(int(UnavailableRetryAfter.Seconds())))
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: ErrorBody{Code: code, Message: message, Detail: detail}})
}

// WriteJSONObject encodes v uncached. Live views (countdown, completions,
// stats) go through here.
func WriteJSONObject(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// cacheControl lets clients serve a stale schedule for half the TTL while
// revalidating.
func cacheControl(ttl time.Duration) string {
	maxAge := int(ttl.Seconds())
	return fmt.Sprintf("public, max-age=%d, stale-while-revalidate=%d", maxAge, maxAge/2)
}
