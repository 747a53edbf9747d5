package api

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/albapepper/salah/internal/api/respond"
)

// --------------------------------------------------------------------------
// Request timing middleware
// --------------------------------------------------------------------------

// TimingMiddleware adds an X-Process-Time header. The header is set before
// the body is written, so it measures time to first write.
func TimingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(&timingWriter{ResponseWriter: w, start: time.Now()}, r)
	})
}

type timingWriter struct {
	http.ResponseWriter
	start       time.Time
	wroteHeader bool
}

func (t *timingWriter) WriteHeader(status int) {
	if !t.wroteHeader {
		t.wroteHeader = true
		elapsed := time.Since(t.start)
		t.Header().Set("X-Process-Time", fmt.Sprintf("%.2fms", float64(elapsed.Microseconds())/1000.0))
	}
	t.ResponseWriter.WriteHeader(status)
}

func (t *timingWriter) Write(b []byte) (int, error) {
	if !t.wroteHeader {
		t.WriteHeader(http.StatusOK)
	}
	return t.ResponseWriter.Write(b)
}

// --------------------------------------------------------------------------
// Access log middleware
// --------------------------------------------------------------------------

// LogMiddleware logs one line per request at debug level.
func LogMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}

// --------------------------------------------------------------------------
// Rate limiting middleware (IP-based token bucket)
// --------------------------------------------------------------------------

type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newIPLimiter(requestsPerWindow int, window time.Duration) *ipLimiter {
	rps := float64(requestsPerWindow) / window.Seconds()
	return &ipLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    max(requestsPerWindow/2, 1),
	}
}

func (l *ipLimiter) getLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, exists := l.limiters[ip]; exists {
		return limiter
	}
	limiter := rate.NewLimiter(l.rate, l.burst)
	l.limiters[ip] = limiter
	return limiter
}

// RateLimitMiddleware returns middleware that rate-limits by client IP.
func RateLimitMiddleware(requestsPerWindow int, window time.Duration) func(http.Handler) http.Handler {
	limiter := newIPLimiter(requestsPerWindow, window)
	retryAfter := strconv.Itoa(int(window.Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, _ := net.SplitHostPort(r.RemoteAddr)
			if ip == "" {
				ip = r.RemoteAddr
			}

			if !limiter.getLimiter(ip).Allow() {
				w.Header().Set("Retry-After", retryAfter)
				respond.WriteError(w, http.StatusTooManyRequests, respond.CodeRateLimited, "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
