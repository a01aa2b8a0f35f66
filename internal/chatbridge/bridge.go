// Package chatbridge relays chat messages from authenticated bot clients to
// every connected dashboard.
package chatbridge

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/phonebell/phonebell/internal/registry"
)

// Bridge tracks verified bots and dashboard subscribers.
type Bridge struct {
	token      string
	logger     *slog.Logger
	bots       *registry.Registry[struct{}]
	dashboards *registry.Registry[registry.Sender]
	forwarded  atomic.Uint64
}

// NewBridge creates a bridge. An empty token rejects every bot.
func NewBridge(token string, logger *slog.Logger) *Bridge {
	return &Bridge{
		token:      token,
		logger:     logger.With("subsystem", "chatbridge"),
		bots:       registry.New[struct{}](),
		dashboards: registry.New[registry.Sender](),
	}
}

// Verify checks token and, when it matches, marks bot id as verified.
func (b *Bridge) Verify(id, token string) bool {
	if b.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(b.token)) != 1 {
		b.logger.Warn("bot client failed authentication", "bot_id", id)
		return false
	}
	if err := b.bots.Register(id, struct{}{}); err != nil {
		// Already verified.
		return true
	}
	b.logger.Info("bot client authorized", "bot_id", id)
	return true
}

// Verified reports whether bot id has authenticated.
func (b *Bridge) Verified(id string) bool {
	_, ok := b.bots.Lookup(id)
	return ok
}

// RemoveBot forgets bot id.
func (b *Bridge) RemoveBot(id string) {
	if _, ok := b.bots.Unregister(id); ok {
		b.logger.Info("bot client disconnected", "bot_id", id)
	}
}

// Forward validates a bot frame and broadcasts it to every dashboard. It
// returns the number of dashboards it was queued for.
func (b *Bridge) Forward(data []byte) (int, error) {
	msg, err := ParseMessage(data)
	if err != nil {
		return 0, err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("encoding chat message: %w", err)
	}

	n := registry.Broadcast(b.dashboards, payload, "")
	b.forwarded.Add(1)
	b.logger.Debug("message received for forwarding",
		"message_id", msg.ID,
		"channel", msg.Channel.Name,
		"dashboards", n,
	)
	return n, nil
}

// AddDashboard subscribes a dashboard to forwarded messages.
func (b *Bridge) AddDashboard(id string, s registry.Sender) error {
	if err := b.dashboards.Register(id, s); err != nil {
		return fmt.Errorf("adding dashboard %s: %w", id, err)
	}
	b.logger.Info("dashboard client connected", "dashboard_id", id)
	return nil
}

// RemoveDashboard unsubscribes a dashboard.
func (b *Bridge) RemoveDashboard(id string) {
	if _, ok := b.dashboards.Unregister(id); ok {
		b.logger.Info("dashboard client disconnected", "dashboard_id", id)
	}
}

// DashboardCount returns the number of subscribed dashboards.
func (b *Bridge) DashboardCount() int { return b.dashboards.Len() }

// BotCount returns the number of verified bots.
func (b *Bridge) BotCount() int { return b.bots.Len() }

// ForwardedTotal returns how many messages have been forwarded since start.
func (b *Bridge) ForwardedTotal() uint64 { return b.forwarded.Load() }
