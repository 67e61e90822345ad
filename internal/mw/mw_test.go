package mw

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.GET("/api/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.POST("/api/echo", func(c *gin.Context) {
		b, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.String(http.StatusOK, string(b))
	})
	return r
}

func TestRateLimit(t *testing.T) {
	rl := NewRateLimiter(rate.Every(time.Hour), 2, time.Minute)
	r := newEngine(RateLimit(rl))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("other IP got %d, want 200", w.Code)
	}
}

func TestRL_Sweep(t *testing.T) {
	rl := NewRateLimiter(rate.Inf, 1, time.Minute)
	rl.Allow("a")
	rl.sweep(time.Now().Add(2 * time.Minute))
	if len(rl.m) != 0 {
		t.Errorf("sweep left %d keys", len(rl.m))
	}
	rl.Start().Start()
	rl.Stop()
	rl.Stop()
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name      string
		env       string
		allowed   []string
		origin    string
		wantAllow string
	}{
		{"dev allows any", "dev", nil, "http://localhost:3000", "http://localhost:3000"},
		{"prod rejects foreign", "prod", nil, "https://evil.example", ""},
		{"prod same origin", "prod", nil, "https://example.com", "https://example.com"},
		{"prod whitelist", "prod", []string{"https://app.example"}, "https://app.example", "https://app.example"},
		{"prod substring is not same origin", "prod", nil, "https://example.com.evil.net", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newEngine(CORS(tt.env, tt.allowed))
			req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
			req.Host = "example.com"
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	r := newEngine(CORS("dev", nil))
	req := httptest.NewRequest(http.MethodOptions, "/api/ping", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("preflight should allow credentials")
	}
}

func TestSecurityHeaders(t *testing.T) {
	r := newEngine(SecurityHeaders(true))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ping", nil))

	for k, want := range map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'",
	} {
		if got := w.Header().Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
	if w.Header().Get("Strict-Transport-Security") == "" {
		t.Error("HSTS missing when secure")
	}
}

func TestMaxBodySize(t *testing.T) {
	r := newEngine(MaxBodySize(8))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/echo", strings.NewReader("small")))
	if w.Code != http.StatusOK || w.Body.String() != "small" {
		t.Errorf("small body: %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/echo", strings.NewReader("definitely too large")))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("large body status = %d, want 413", w.Code)
	}
}
