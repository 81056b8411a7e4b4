package api

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/kevinms/leakybucket-go"
	"github.com/rcrowley/go-metrics"
)

// requestLogger logs one line per request and feeds the request metrics.
func requestLogger(registry metrics.Registry) func(http.Handler) http.Handler {
	latency := metrics.GetOrRegisterTimer("http.latency", registry)
	requests := metrics.GetOrRegisterCounter("http.requests", registry)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			requests.Inc(1)
			latency.UpdateSince(start)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			metrics.GetOrRegisterCounter("http.status."+strconv.Itoa(status), registry).Inc(1)

			slog.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// rateLimit keeps one leaky bucket per client IP. A request that finds its
// bucket full is answered with 429.
func rateLimit(rate float64, capacity int64, registry metrics.Registry) func(http.Handler) http.Handler {
	limiter := leakybucket.NewCollector(rate, capacity, true)
	limited := metrics.GetOrRegisterCounter("http.rate_limited", registry)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)

			if limiter.Add(key, 1) == 0 {
				limited.Inc(1)
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, CodeRateLimited, "too many requests")

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientKey expects RealIP to have run already.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
