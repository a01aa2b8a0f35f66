package phone

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/phonebell/phonebell/internal/auth"
	"github.com/phonebell/phonebell/internal/transport"
)

// Handler upgrades requests on a phone endpoint and pumps frames into the
// hub. The phone's role is fixed by which Handler served the request.
type Handler struct {
	hub       *Hub
	phoneType Type
	guard     *auth.Guard
	opts      transport.Options
	logger    *slog.Logger
}

// NewHandler creates a phone endpoint for phones of the given type.
func NewHandler(hub *Hub, phoneType Type, guard *auth.Guard, opts transport.Options, logger *slog.Logger) *Handler {
	return &Handler{
		hub:       hub,
		phoneType: phoneType,
		guard:     guard,
		opts:      opts,
		logger:    logger.With("subsystem", "phone-endpoint", "phone_type", string(phoneType)),
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if remaining, blocked := h.guard.Blocked(r.RemoteAddr); blocked {
		w.Header().Set("Retry-After", strconv.Itoa(int(remaining.Seconds())+1))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := transport.Upgrade(w, r, h.opts)
	if err != nil {
		h.logger.Debug("phone upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	defer conn.Close()

	id := conn.ID()
	if err := h.hub.Connect(id, h.phoneType, conn); err != nil {
		h.logger.Error("phone connect failed", "error", err)
		return
	}
	defer h.hub.Disconnect(id)

	authenticated := false
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			h.logger.Debug("phone read ended", "phone_id", id, "error", err)
			return
		}

		err = h.hub.Receive(id, data)
		if authenticated {
			continue
		}
		if errors.Is(err, ErrAuthRejected) {
			h.guard.RecordFailure(r.RemoteAddr, "phone")
			return
		}
		authenticated = true
		h.guard.RecordSuccess(r.RemoteAddr)
	}
}
