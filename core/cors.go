package core

import (
	"fmt"
	"net/http"
	"strings"
)

// CORSMiddleware guards the orchestrator's HTTP surface — /api/orchestrate,
// /api/plan, /api/orchestrate/graph, /api/config, /api/chat/simple — against
// browser requests from origins the operator hasn't allow-listed. It handles
// CORS preflight (OPTIONS) and decorates every response with the matching
// Access-Control-* headers.
//
// The matcher supports:
//   - Wildcard origins ("*" for all origins)
//   - Wildcard subdomains ("*.example.com")
//   - Wildcard ports ("http://localhost:*") — handy for local dashboards that
//     bind a random dev-server port
//   - Credentialed requests (cookies, auth headers)
//
// Example usage:
//
//	cfg := core.RestrictiveCORSConfig()
//	cfg.Enabled = true
//	cfg.AllowedOrigins = []string{"https://dashboard.example.com"}
//	handler := CORSMiddleware(cfg)(mux)
func CORSMiddleware(config *CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !config.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			applyCORSHeaders(w, r, config)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// applyCORSHeaders sets the Access-Control-* response headers for a request
// whose Origin is allowed by config. A no-op if the origin isn't allowed.
func applyCORSHeaders(w http.ResponseWriter, r *http.Request, config *CORSConfig) {
	origin := r.Header.Get("Origin")
	if !isOriginAllowed(origin, config.AllowedOrigins) {
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", origin)

	if config.AllowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
	if len(config.AllowedMethods) > 0 {
		w.Header().Set("Access-Control-Allow-Methods", strings.Join(config.AllowedMethods, ", "))
	}
	if len(config.AllowedHeaders) > 0 {
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(config.AllowedHeaders, ", "))
	}
	if len(config.ExposedHeaders) > 0 {
		w.Header().Set("Access-Control-Expose-Headers", strings.Join(config.ExposedHeaders, ", "))
	}
	if config.MaxAge > 0 {
		w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", config.MaxAge))
	}
}

// isOriginAllowed reports whether origin matches one of allowedOrigins,
// honoring exact matches plus the "*", "*.example.com", and
// "http://localhost:*" wildcard forms. An empty origin (same-origin request,
// or a non-browser client like curl) is never "allowed" — CORS headers are
// meaningless outside a browser's cross-origin check.
func isOriginAllowed(origin string, allowedOrigins []string) bool {
	if origin == "" {
		return false
	}

	for _, allowed := range allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}

		if strings.Contains(allowed, "*.") {
			wildcardIdx := strings.Index(allowed, "*.")
			beforeWildcard := allowed[:wildcardIdx]
			afterWildcard := allowed[wildcardIdx+2:]

			if !strings.HasPrefix(origin, beforeWildcard) {
				continue
			}
			if !strings.HasSuffix(origin, afterWildcard) {
				continue
			}

			remainingOrigin := strings.TrimSuffix(origin[len(beforeWildcard):], afterWildcard)
			if len(remainingOrigin) > 0 {
				return true
			}
		}

		if strings.Contains(allowed, ":*") {
			baseAllowed := strings.Split(allowed, ":*")[0]
			if strings.HasPrefix(origin, baseAllowed+":") {
				return true
			}
		}
	}

	return false
}

// ApplyCORS sets CORS response headers without the preflight short-circuit
// CORSMiddleware performs — for handlers that need to decide for themselves
// whether to answer an OPTIONS request, such as a future WebSocket upgrade
// path alongside the SSE orchestrate stream.
func ApplyCORS(w http.ResponseWriter, r *http.Request, config *CORSConfig) {
	if !config.Enabled {
		return
	}
	applyCORSHeaders(w, r, config)
}

// RestrictiveCORSConfig is the production default: CORS is disabled until an
// operator lists real dashboard origins via CORS_ORIGINS or WithCORS.
func RestrictiveCORSConfig() *CORSConfig {
	return &CORSConfig{
		Enabled:          false,
		AllowedOrigins:   []string{},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: false,
		MaxAge:           86400,
	}
}

// PermissiveCORSConfig is what DetectEnvironment selects for a local,
// non-Kubernetes run: every origin and header allowed, so a dashboard served
// from any localhost port can call /api/orchestrate and stream its SSE
// response without CORS friction during development.
//
// WARNING: never use this outside local development — it disables the
// browser's cross-origin protections entirely.
func PermissiveCORSConfig() *CORSConfig {
	return &CORSConfig{
		Enabled:          true,
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           86400,
	}
}
