package middleware

import "net/http"

// CORSConfig holds configuration for the CORS middleware.
type CORSConfig struct {
	AllowedOrigins []string
	Environment    string
}

// Wildcard reports whether the configuration allows any origin, either
// because the environment is development or because AllowedOrigins
// contains a "*" entry.
func (c CORSConfig) Wildcard() bool {
	if c.Environment == "development" {
		return true
	}
	for _, o := range c.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

// OriginAllowed reports whether the given Origin header value is permitted.
func (c CORSConfig) OriginAllowed(origin string) bool {
	if c.Wildcard() {
		return true
	}
	for _, o := range c.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// CORS returns a middleware that sets Cross-Origin Resource Sharing headers.
// Development mode (or a "*" entry in AllowedOrigins) allows any origin;
// otherwise the request Origin must match the configured list exactly.
// Preflight OPTIONS requests are answered directly with 204.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	wildcard := cfg.Wildcard()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			switch origin := r.Header.Get("Origin"); {
			case wildcard:
				h.Set("Access-Control-Allow-Origin", "*")
			case origin != "" && cfg.OriginAllowed(origin):
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Correlation-ID")
			h.Set("Access-Control-Max-Age", "300")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
