package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// LimitConfig describes one per-IP token bucket policy.
type LimitConfig struct {
	// Scope names the limiter in logs and metrics.
	Scope string
	Rate  rate.Limit
	Burst int
	// IdleTTL is how long an IP's bucket is kept after its last request.
	IdleTTL time.Duration
	// SweepEvery is the period of the idle-bucket sweep.
	SweepEvery time.Duration
}

// UpgradeLimits throttles WebSocket upgrades to 5 per second with a burst of
// 10. Every phone in a house reconnects at once after a restart, usually
// from behind a single NAT address.
func UpgradeLimits() LimitConfig {
	return LimitConfig{
		Scope:      "upgrade",
		Rate:       rate.Limit(5),
		Burst:      10,
		IdleTTL:    10 * time.Minute,
		SweepEvery: 5 * time.Minute,
	}
}

// RingLimits allows one doorbell ring every two seconds with a burst of 3.
func RingLimits() LimitConfig {
	return LimitConfig{
		Scope:      "ring",
		Rate:       rate.Every(2 * time.Second),
		Burst:      3,
		IdleTTL:    10 * time.Minute,
		SweepEvery: 5 * time.Minute,
	}
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// IPLimiter holds one token bucket per client IP.
type IPLimiter struct {
	cfg    LimitConfig
	logger *slog.Logger

	mu      sync.Mutex
	buckets map[string]*bucket

	rejected atomic.Uint64
	stop     chan struct{}
	stopOnce sync.Once
}

// NewIPLimiter starts a limiter and its idle sweep. Call Stop to end the
// sweep.
func NewIPLimiter(cfg LimitConfig, logger *slog.Logger) *IPLimiter {
	l := &IPLimiter{
		cfg:     cfg,
		logger:  logger.With("subsystem", "ratelimit", "scope", cfg.Scope),
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Scope returns the configured scope name.
func (l *IPLimiter) Scope() string { return l.cfg.Scope }

// Allow takes a token for ip. When none is available it reports how long
// until one will be, without consuming it.
func (l *IPLimiter) Allow(ip string) (time.Duration, bool) {
	now := time.Now()

	l.mu.Lock()
	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.cfg.Rate, l.cfg.Burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	res := b.lim.ReserveN(now, 1)
	if !res.OK() {
		l.rejected.Add(1)
		return 0, false
	}
	wait := res.DelayFrom(now)
	if wait == 0 {
		return 0, true
	}
	res.CancelAt(now)
	l.rejected.Add(1)
	return wait, false
}

// Rejected returns how many requests this limiter has refused.
func (l *IPLimiter) Rejected() uint64 { return l.rejected.Load() }

// Len returns the number of tracked IPs.
func (l *IPLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Stop ends the idle sweep. Safe to call more than once.
func (l *IPLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *IPLimiter) sweepLoop() {
	ticker := time.NewTicker(l.cfg.SweepEvery)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			if n := l.sweep(now); n > 0 {
				l.logger.Debug("idle rate limit buckets dropped", "count", n, "remaining", l.Len())
			}
		case <-l.stop:
			return
		}
	}
}

// sweep drops buckets idle for longer than IdleTTL as of now.
func (l *IPLimiter) sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.cfg.IdleTTL)
	n := 0
	for ip, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, ip)
			n++
		}
	}
	return n
}

// Throttle rejects requests over l's limit with 429 and a Retry-After of
// whole seconds, rounded up.
func Throttle(l *IPLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			wait, ok := l.Allow(ip)
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			l.logger.Warn("rate limit exceeded", "ip", ip, "method", r.Method, "path", r.URL.Path)
			secs := int((wait + time.Second - 1) / time.Second)
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		})
	}
}

// clientIP strips the port from RemoteAddr. chi's RealIP middleware runs
// first, so proxied requests carry the forwarded address here.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
