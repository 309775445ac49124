package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcomeledger/internal/domain"
)

const rateLimitPrefix = "ratelimit:api:"

// RateLimit allows each client limit requests per window. A valid
// X-Caller-Address selects the bucket; anything else is bucketed by client
// IP. Limiter failures let the request through.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(max(int((window+time.Second-1)/time.Second), 1))
	quota := strconv.Itoa(limit)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateLimitPrefix + clientKey(r)
			allowed, err := limiter.Allow(r.Context(), key, limit, window)
			if err != nil {
				slog.WarnContext(r.Context(), "ratelimit: limiter unavailable",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", quota)
			if !allowed {
				w.Header().Set("Retry-After", retryAfter)
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if caller := strings.TrimSpace(r.Header.Get("X-Caller-Address")); common.IsHexAddress(caller) {
		return "caller:" + strings.ToLower(common.HexToAddress(caller).Hex())
	}
	return "ip:" + clientIP(r)
}

// clientIP prefers the first hop of X-Forwarded-For, then X-Real-IP, then
// the connection's remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
