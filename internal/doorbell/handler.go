package doorbell

import (
	"log/slog"
	"net/http"

	"github.com/phonebell/phonebell/internal/transport"
)

// Handler serves the doorbell WebSocket. Any client may set the state.
type Handler struct {
	bell   *Broadcaster
	opts   transport.Options
	logger *slog.Logger
}

// NewHandler creates the doorbell WebSocket endpoint.
func NewHandler(bell *Broadcaster, opts transport.Options, logger *slog.Logger) *Handler {
	return &Handler{
		bell:   bell,
		opts:   opts,
		logger: logger.With("subsystem", "doorbell-endpoint"),
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.Upgrade(w, r, h.opts)
	if err != nil {
		h.logger.Debug("doorbell upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	defer conn.Close()

	id := conn.ID()
	if err := h.bell.Add(id, conn); err != nil {
		h.logger.Error("doorbell add failed", "error", err)
		return
	}
	defer h.bell.Remove(id)

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := parseMessage(data)
		if err != nil {
			h.logger.Debug("doorbell message dropped", "client_id", id, "error", err)
			continue
		}
		h.bell.Set(*msg.Ringing)
	}
}
