package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// exposedHeaders lists the capture metadata headers readable by browsers.
const exposedHeaders = "Content-Disposition, X-Capture-Level, X-Capture-Tiles, X-Capture-Missing, " +
	"X-Capture-Datasets, X-Capture-Duration-Ms, X-World-File, Retry-After"

// corsMiddleware answers preflight requests and marks responses to allowed
// origins. Preflights never reach the router.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.isOriginAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, PUT, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Accept, Content-Type, Authorization")
			h.Set("Access-Control-Expose-Headers", exposedHeaders)
			h.Set("Access-Control-Max-Age", "86400")
			h.Set("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isOriginAllowed(origin string) bool {
	return slices.ContainsFunc(s.config.CORS.AllowedOrigins, func(pattern string) bool {
		return matchOrigin(origin, pattern)
	})
}

// matchOrigin reports whether origin equals pattern or, for patterns of the
// form "*.example.com", whether the origin host is a proper subdomain.
func matchOrigin(origin, pattern string) bool {
	if origin == "" || pattern == "" {
		return false
	}
	if origin == pattern {
		return true
	}
	suffix, ok := strings.CutPrefix(pattern, "*")
	if !ok || !strings.HasPrefix(suffix, ".") {
		return false
	}
	host := extractHost(origin)
	return len(host) > len(suffix) && strings.HasSuffix(host, suffix)
}

// extractHost returns the host of an origin without scheme, port or path.
func extractHost(origin string) string {
	if !strings.Contains(origin, "://") {
		origin = "//" + origin
	}
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
