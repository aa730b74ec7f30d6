package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func corsTestHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORS_DevelopmentWildcard(t *testing.T) {
	handler := CORS(CORSConfig{Environment: "development"})(corsTestHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_ProductionListedOrigin(t *testing.T) {
	handler := CORS(CORSConfig{
		Environment:    "production",
		AllowedOrigins: []string{"https://chat.example.com"},
	})(corsTestHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Origin", "https://chat.example.com")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	assert.Equal(t, "https://chat.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rr.Header().Get("Vary"))
}

func TestCORS_ProductionUnlistedOrigin(t *testing.T) {
	handler := CORS(CORSConfig{
		Environment:    "production",
		AllowedOrigins: []string{"https://chat.example.com"},
	})(corsTestHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_PreflightShortCircuits(t *testing.T) {
	called := false
	handler := CORS(CORSConfig{Environment: "development"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/test", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.False(t, called, "preflight should not reach the handler")
}

func TestCORSConfig_OriginAllowed(t *testing.T) {
	cfg := CORSConfig{
		Environment:    "production",
		AllowedOrigins: []string{"https://chat.example.com"},
	}

	assert.True(t, cfg.OriginAllowed("https://chat.example.com"))
	assert.False(t, cfg.OriginAllowed("https://evil.example.com"))
	assert.True(t, CORSConfig{AllowedOrigins: []string{"*"}}.OriginAllowed("https://anywhere.example.com"))
}
