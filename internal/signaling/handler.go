package signaling

import (
	"log/slog"
	"net/http"

	"github.com/phonebell/phonebell/internal/transport"
)

// Handler serves the unauthenticated signaling WebSocket endpoint.
type Handler struct {
	relay  *Relay
	opts   transport.Options
	logger *slog.Logger
}

// NewHandler creates the signaling endpoint.
func NewHandler(relay *Relay, opts transport.Options, logger *slog.Logger) *Handler {
	return &Handler{
		relay:  relay,
		opts:   opts,
		logger: logger.With("subsystem", "signaling-endpoint"),
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.Upgrade(w, r, h.opts)
	if err != nil {
		h.logger.Debug("signaling upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	defer conn.Close()

	id := conn.ID()
	if err := h.relay.Join(id, conn); err != nil {
		h.logger.Error("signaling join failed", "error", err)
		return
	}
	defer h.relay.Leave(id)

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			h.logger.Debug("signaling read ended", "peer_id", id, "error", err)
			return
		}
		h.relay.Relay(id, data)
	}
}
