package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func testLimiter(t *testing.T, r rate.Limit, burst int) *IPLimiter {
	t.Helper()
	l := NewIPLimiter(LimitConfig{
		Scope:      "test",
		Rate:       r,
		Burst:      burst,
		IdleTTL:    time.Minute,
		SweepEvery: time.Hour,
	}, slog.Default())
	t.Cleanup(l.Stop)
	return l
}

func TestIPLimiter_BurstPerIP(t *testing.T) {
	l := testLimiter(t, rate.Limit(2), 2)

	for i := 0; i < 2; i++ {
		if _, ok := l.Allow("192.168.1.1"); !ok {
			t.Fatalf("request %d should fit in the burst", i+1)
		}
	}
	wait, ok := l.Allow("192.168.1.1")
	if ok {
		t.Fatal("third request should be limited")
	}
	if wait <= 0 || wait > 500*time.Millisecond {
		t.Fatalf("wait = %v, want within one token interval", wait)
	}
	if _, ok := l.Allow("192.168.1.2"); !ok {
		t.Fatal("another IP has its own bucket")
	}
	if l.Len() != 2 {
		t.Fatalf("Len = %d, want 2", l.Len())
	}
	if l.Rejected() != 1 {
		t.Fatalf("Rejected = %d, want 1", l.Rejected())
	}
}

func TestIPLimiter_RefusalDoesNotConsume(t *testing.T) {
	l := testLimiter(t, rate.Every(time.Hour), 1)

	l.Allow("10.0.0.1")
	first, _ := l.Allow("10.0.0.1")
	second, _ := l.Allow("10.0.0.1")

	// A cancelled reservation leaves the wait unchanged instead of pushing
	// it out by another interval.
	if second > first {
		t.Fatalf("wait grew from %v to %v after a refused request", first, second)
	}
}

func TestIPLimiter_SweepDropsIdle(t *testing.T) {
	l := testLimiter(t, rate.Limit(10), 10)

	l.Allow("10.0.0.1")
	if n := l.sweep(time.Now()); n != 0 {
		t.Fatalf("fresh bucket swept: %d", n)
	}
	if n := l.sweep(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Fatalf("sweep dropped %d, want 1", n)
	}
	if l.Len() != 0 {
		t.Fatalf("Len = %d after sweep, want 0", l.Len())
	}
}

func TestIPLimiter_StopTwice(t *testing.T) {
	l := testLimiter(t, rate.Limit(1), 1)
	l.Stop()
	l.Stop()
}

func TestThrottle_Returns429(t *testing.T) {
	l := testLimiter(t, rate.Every(2*time.Second), 1)
	h := Throttle(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/doorbell/ring", nil)
	req.RemoteAddr = "10.0.0.5:12345"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}

	// Same IP, different port: still the same client.
	req.RemoteAddr = "10.0.0.5:23456"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("Retry-After = %q, want 2", got)
	}
}

func TestLimitPresets(t *testing.T) {
	ring := RingLimits()
	if ring.Scope != "ring" || ring.Burst != 3 || ring.Rate != rate.Every(2*time.Second) {
		t.Fatalf("unexpected ring limits: %+v", ring)
	}
	up := UpgradeLimits()
	if up.Scope != "upgrade" || up.Burst != 10 || up.Rate != rate.Limit(5) {
		t.Fatalf("unexpected upgrade limits: %+v", up)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"192.168.1.1:8080", "192.168.1.1"},
		{"[::1]:8080", "::1"},
		{"10.0.0.1", "10.0.0.1"},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tt.remoteAddr
		if got := clientIP(r); got != tt.want {
			t.Errorf("clientIP(%q) = %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}
