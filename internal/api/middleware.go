package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/rewired-gh/quakewatch/internal/api/respond"
	"github.com/rewired-gh/quakewatch/internal/logger"
)

// RequestLogger logs one line per request through the http component logger.
func RequestLogger(next http.Handler) http.Handler {
	log := logger.Component("http")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newIPLimiter(requestsPerWindow int, window time.Duration) *ipLimiter {
	if requestsPerWindow < 1 {
		requestsPerWindow = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &ipLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(requestsPerWindow) / window.Seconds()),
		burst:    requestsPerWindow,
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
