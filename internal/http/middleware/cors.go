package middleware

import (
	"net/http"
	"slices"
	"strings"
)

var (
	corsMethods        = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	corsRequestHeaders = []string{"Content-Type", "X-Request-ID"}
)

const corsPreflightMaxAge = "600"

// corsPolicy is an origin allowlist compiled once at router construction.
type corsPolicy struct {
	anyOrigin bool
	origins   []string
}

func newCORSPolicy(allowedOrigins []string) corsPolicy {
	var p corsPolicy
	for _, raw := range allowedOrigins {
		switch origin := strings.TrimSpace(raw); origin {
		case "":
		case "*":
			p.anyOrigin = true
		default:
			p.origins = append(p.origins, strings.TrimSuffix(origin, "/"))
		}
	}
	return p
}

func (p corsPolicy) permits(origin string) bool {
	if origin == "" {
		return false
	}
	return p.anyOrigin || slices.Contains(p.origins, origin)
}

func (p corsPolicy) decorate(h http.Header, origin string) {
	h.Set("Access-Control-Allow-Origin", origin)
	h.Add("Vary", "Origin")
	h.Set("Access-Control-Allow-Methods", strings.Join(corsMethods, ", "))
	h.Set("Access-Control-Allow-Headers", strings.Join(corsRequestHeaders, ", "))
	h.Set("Access-Control-Expose-Headers", "X-Request-ID")
	h.Set("Access-Control-Max-Age", corsPreflightMaxAge)
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}

// CORS applies an origin allowlist to the chat API. "*" echoes any Origin back.
// Preflights from origins outside the list are refused with 403.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	policy := newCORSPolicy(allowedOrigins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			allowed := policy.permits(origin)
			if allowed {
				policy.decorate(w.Header(), origin)
			}
			if origin != "" && isPreflight(r) {
				if allowed {
					w.WriteHeader(http.StatusNoContent)
				} else {
					w.WriteHeader(http.StatusForbidden)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
