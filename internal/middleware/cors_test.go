package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/auditcore/audit-service/internal/config"
)

func corsRequest(cfg config.CORSConfig, method, origin string) *httptest.ResponseRecorder {
	r := gin.New()
	r.Use(CORSMiddleware(cfg))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	req := httptest.NewRequest(method, "/", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCORSMiddleware_ExactOrigin(t *testing.T) {
	w := corsRequest(config.CORSConfig{AllowedOrigins: []string{"https://console.example.com"}}, http.MethodGet, "https://console.example.com")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://console.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Allow-Credentials = %q, want true", got)
	}
}

func TestCORSMiddleware_WildcardNoCredentials(t *testing.T) {
	w := corsRequest(config.CORSConfig{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET"}}, http.MethodGet, "https://any.example.com")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("Allow-Credentials = %q, want empty for wildcard", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET" {
		t.Errorf("Allow-Methods = %q, want GET", got)
	}
}

func TestCORSMiddleware_DisallowedOrigin(t *testing.T) {
	w := corsRequest(config.CORSConfig{AllowedOrigins: []string{"https://console.example.com"}}, http.MethodGet, "https://evil.example.com")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want empty", got)
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	w := corsRequest(config.CORSConfig{AllowedOrigins: []string{"*"}}, http.MethodOptions, "https://any.example.com")
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
}
