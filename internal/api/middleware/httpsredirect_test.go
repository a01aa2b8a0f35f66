package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPSRedirectHandler(t *testing.T) {
	tests := []struct {
		name   string
		port   int
		host   string
		target string
		want   string
	}{
		{"default port", 443, "bell.example:8081", "/doorbell/status?x=1", "https://bell.example/doorbell/status?x=1"},
		{"custom port", 8443, "bell.example:8081", "/phonebell/inside", "https://bell.example:8443/phonebell/inside"},
		{"host without port", 8443, "bell.example", "/", "https://bell.example:8443/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			req.Host = tt.host
			rec := httptest.NewRecorder()

			HTTPSRedirectHandler(tt.port).ServeHTTP(rec, req)

			if rec.Code != http.StatusMovedPermanently {
				t.Fatalf("status = %d, want 301", rec.Code)
			}
			if got := rec.Header().Get("Location"); got != tt.want {
				t.Errorf("Location = %q, want %q", got, tt.want)
			}
		})
	}
}
