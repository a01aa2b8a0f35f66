package auth

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Policy controls when a source IP is locked out of the shared-secret
// endpoints.
type Policy struct {
	// MaxFailures within Window triggers a block.
	MaxFailures int
	Window      time.Duration
	// BlockFor is the first block length. Each further offence doubles it, up
	// to MaxBlockFor.
	BlockFor    time.Duration
	MaxBlockFor time.Duration
}

// DefaultPolicy blocks an IP for 5 minutes after 10 bad secrets in 10
// minutes, doubling per offence up to a day.
func DefaultPolicy() Policy {
	return Policy{
		MaxFailures: 10,
		Window:      10 * time.Minute,
		BlockFor:    5 * time.Minute,
		MaxBlockFor: 24 * time.Hour,
	}
}

// offender is the per-IP state. strikes survives successful logins so a
// repeat offender is blocked for longer each time.
type offender struct {
	failures     []time.Time
	blockedUntil time.Time
	strikes      int
}

func (o *offender) blocked(now time.Time) bool {
	return now.Before(o.blockedUntil)
}

// Guard rate-limits shared-secret guessing on the phone and chat bot
// endpoints by source IP. Sources may be "ip:port" or a bare IP; anything
// else is ignored.
type Guard struct {
	policy Policy
	now    func() time.Time
	logger *slog.Logger

	mu        sync.Mutex
	offenders map[string]*offender
}

// NewGuard creates a guard using DefaultPolicy.
func NewGuard(logger *slog.Logger) *Guard {
	return NewGuardWithPolicy(DefaultPolicy(), logger)
}

// NewGuardWithPolicy creates a guard with a custom lockout policy.
func NewGuardWithPolicy(p Policy, logger *slog.Logger) *Guard {
	return &Guard{
		policy:    p,
		now:       time.Now,
		logger:    logger.With("subsystem", "auth-guard"),
		offenders: make(map[string]*offender),
	}
}

// Blocked reports whether source is locked out and, if so, for how much
// longer.
func (g *Guard) Blocked(source string) (time.Duration, bool) {
	ip := sourceIP(source)
	if ip == "" {
		return 0, false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.offenders[ip]
	if !ok {
		return 0, false
	}
	now := g.now()
	if !o.blocked(now) {
		return 0, false
	}
	return o.blockedUntil.Sub(now), true
}

// IsBlocked is Blocked without the remaining time.
func (g *Guard) IsBlocked(source string) bool {
	_, blocked := g.Blocked(source)
	return blocked
}

// RecordFailure notes a rejected secret from source on endpoint and starts a
// block once the policy threshold is reached. Failures from a source that is
// already blocked are not counted.
func (g *Guard) RecordFailure(source, endpoint string) {
	ip := sourceIP(source)
	if ip == "" {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	o, ok := g.offenders[ip]
	if !ok {
		o = &offender{}
		g.offenders[ip] = o
	}
	if o.blocked(now) {
		return
	}

	o.failures = append(withinWindow(o.failures, now.Add(-g.policy.Window)), now)
	g.logger.Debug("shared secret rejected", "ip", ip, "endpoint", endpoint, "failures", len(o.failures))
	if len(o.failures) < g.policy.MaxFailures {
		return
	}

	d := g.blockLength(o.strikes)
	o.strikes++
	o.blockedUntil = now.Add(d)
	o.failures = nil
	g.logger.Warn("ip blocked after repeated bad secrets",
		"ip", ip,
		"endpoint", endpoint,
		"block_duration", d.String(),
		"strikes", o.strikes,
	)
}

// blockLength is BlockFor doubled once per earlier strike, capped at
// MaxBlockFor.
func (g *Guard) blockLength(strikes int) time.Duration {
	d := g.policy.BlockFor
	for i := 0; i < strikes && d < g.policy.MaxBlockFor; i++ {
		d *= 2
	}
	return min(d, g.policy.MaxBlockFor)
}

// RecordSuccess forgets source's pending failures after a good secret.
func (g *Guard) RecordSuccess(source string) {
	ip := sourceIP(source)
	if ip == "" {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if o, ok := g.offenders[ip]; ok {
		o.failures = nil
	}
}

// Cleanup drops offenders that are neither blocked nor have failures inside
// the window, and returns how many were dropped.
func (g *Guard) Cleanup() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cutoff := now.Add(-g.policy.Window)
	dropped := 0
	for ip, o := range g.offenders {
		o.failures = withinWindow(o.failures, cutoff)
		if o.blocked(now) || len(o.failures) > 0 {
			continue
		}
		delete(g.offenders, ip)
		dropped++
	}
	return dropped
}

// BlockedCount returns the number of IPs currently blocked.
func (g *Guard) BlockedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	n := 0
	for _, o := range g.offenders {
		if o.blocked(now) {
			n++
		}
	}
	return n
}

// StartCleanup runs Cleanup every interval until ctx is cancelled.
func (g *Guard) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := g.Cleanup(); n > 0 {
					g.logger.Debug("expired auth records dropped", "count", n)
				}
			}
		}
	}()
}

// sourceIP returns the IP part of "host:port", the input itself when it is
// already an IP, or "" otherwise.
func sourceIP(source string) string {
	if host, _, err := net.SplitHostPort(source); err == nil {
		source = host
	}
	if net.ParseIP(source) == nil {
		return ""
	}
	return source
}

// withinWindow drops timestamps at or before cutoff, reusing ts's storage.
func withinWindow(ts []time.Time, cutoff time.Time) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
