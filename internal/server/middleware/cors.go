package middleware

import (
	"net/http"
	"strings"
)

const (
	corsMethods = "GET, POST, OPTIONS"
	corsHeaders = "Content-Type, Authorization, X-API-Key, X-Caller-Address, X-Ledger-Timestamp, X-Ledger-Signature, " + HeaderRequestID
	corsExpose  = HeaderRequestID + ", Retry-After"
)

// originSet matches Origin headers case-insensitively. Empty or "*" allows
// every origin.
type originSet struct {
	any     bool
	allowed map[string]struct{}
}

func newOriginSet(origins []string) originSet {
	s := originSet{allowed: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = strings.ToLower(strings.TrimSpace(o))
		if o == "*" {
			s.any = true
		}
		if o != "" {
			s.allowed[o] = struct{}{}
		}
	}
	if len(s.allowed) == 0 {
		s.any = true
	}
	return s
}

func (s originSet) match(origin string) bool {
	if s.any {
		return true
	}
	_, ok := s.allowed[strings.ToLower(origin)]
	return ok
}

// CORS answers preflight requests and tags responses for allowed browser
// origins.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	origins := newOriginSet(allowedOrigins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			ok := origin != "" && origins.match(origin)
			if ok {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Expose-Headers", corsExpose)
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if ok {
					h := w.Header()
					h.Set("Access-Control-Allow-Methods", corsMethods)
					h.Set("Access-Control-Allow-Headers", corsHeaders)
					h.Set("Access-Control-Max-Age", "86400")
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
