package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSecurityHeaders(t *testing.T) {
	tests := []struct {
		name     string
		tls      bool
		wantHSTS string
	}{
		{"plain http", false, ""},
		{"tls", true, "max-age=63072000; includeSubDomains"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := SecurityHeaders(tt.tls)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusCreated)
			}))

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			if !called || rr.Code != http.StatusCreated {
				t.Fatalf("next handler not reached (code %d)", rr.Code)
			}
			want := map[string]string{
				"X-Frame-Options":           "DENY",
				"X-Content-Type-Options":    "nosniff",
				"Referrer-Policy":           "no-referrer",
				"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'",
				"Strict-Transport-Security": tt.wantHSTS,
			}
			for header, v := range want {
				if got := rr.Header().Get(header); got != v {
					t.Errorf("%s = %q, want %q", header, got, v)
				}
			}
		})
	}
}
