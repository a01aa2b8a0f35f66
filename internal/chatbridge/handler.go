package chatbridge

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/phonebell/phonebell/internal/auth"
	"github.com/phonebell/phonebell/internal/transport"
)

// BotHandler serves the bot endpoint. Until a bot sends the right token,
// every frame other than {"token": ...} is ignored.
type BotHandler struct {
	bridge *Bridge
	guard  *auth.Guard
	opts   transport.Options
	logger *slog.Logger
}

// NewBotHandler creates the bot WebSocket endpoint.
func NewBotHandler(bridge *Bridge, guard *auth.Guard, opts transport.Options, logger *slog.Logger) *BotHandler {
	return &BotHandler{
		bridge: bridge,
		guard:  guard,
		opts:   opts,
		logger: logger.With("subsystem", "chat-bot-endpoint"),
	}
}

// ServeHTTP implements http.Handler.
func (h *BotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if remaining, blocked := h.guard.Blocked(r.RemoteAddr); blocked {
		w.Header().Set("Retry-After", strconv.Itoa(int(remaining.Seconds())+1))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := transport.Upgrade(w, r, h.opts)
	if err != nil {
		h.logger.Debug("bot upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	defer conn.Close()

	id := conn.ID()
	h.logger.Info("bot client connected", "bot_id", id)
	defer h.bridge.RemoveBot(id)

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if h.bridge.Verified(id) {
			if _, err := h.bridge.Forward(data); err != nil {
				h.logger.Debug("chat message dropped", "bot_id", id, "error", err)
			}
			continue
		}

		token, ok := parseAuth(data)
		if !ok {
			continue
		}
		if !h.bridge.Verify(id, token) {
			h.guard.RecordFailure(r.RemoteAddr, "chat-bot")
			conn.CloseWithMessage(authRejected) //nolint:errcheck
			return
		}
		h.guard.RecordSuccess(r.RemoteAddr)
		conn.Send(authComplete)
	}
}

// DashboardHandler serves the read-only dashboard endpoint. Inbound frames
// are read and discarded.
type DashboardHandler struct {
	bridge *Bridge
	opts   transport.Options
	logger *slog.Logger
}

// NewDashboardHandler creates the dashboard WebSocket endpoint.
func NewDashboardHandler(bridge *Bridge, opts transport.Options, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{
		bridge: bridge,
		opts:   opts,
		logger: logger.With("subsystem", "chat-dashboard-endpoint"),
	}
}

// ServeHTTP implements http.Handler.
func (h *DashboardHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.Upgrade(w, r, h.opts)
	if err != nil {
		h.logger.Debug("dashboard upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	defer conn.Close()

	id := conn.ID()
	if err := h.bridge.AddDashboard(id, conn); err != nil {
		h.logger.Error("dashboard add failed", "error", err)
		return
	}
	defer h.bridge.RemoveDashboard(id)

	for {
		if _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
