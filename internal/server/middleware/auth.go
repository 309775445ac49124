// Package middleware holds the HTTP middleware chain: CORS, request logging,
// API key auth, signed webhooks and rate limiting.
package middleware

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/outcomeledger/internal/crypto"
)

const maxSignedBody = 1 << 20

// Auth requires apiKey as a Bearer token or in X-API-Key. An empty apiKey
// disables the check; paths listed in public are always let through.
func Auth(apiKey string, public ...string) func(http.Handler) http.Handler {
	want := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || slices.Contains(public, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			switch got := presentedKey(r); {
			case got == "":
				writeError(w, http.StatusUnauthorized, "missing authentication token")
			case subtle.ConstantTimeCompare([]byte(got), want) != 1:
				writeError(w, http.StatusUnauthorized, "invalid authentication token")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func presentedKey(r *http.Request) string {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if found && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// Signed requires a valid crypto.RequestMAC over the request. The body is
// buffered for verification and handed on unchanged. A MAC without a secret
// rejects everything.
func Signed(mac crypto.RequestMAC, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if mac.Secret == "" {
				writeError(w, http.StatusUnauthorized, "request signing not configured")
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
			if err != nil {
				writeError(w, http.StatusBadRequest, "unreadable body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			ts, sig := r.Header.Get(crypto.HeaderTimestamp), r.Header.Get(crypto.HeaderSignature)
			if err := mac.Verify(r.Method, r.URL.Path, body, ts, sig, now()); err != nil {
				writeError(w, http.StatusUnauthorized, "invalid request signature")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
