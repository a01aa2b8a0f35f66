package api

import (
	"errors"
	"net/http"

	"github.com/phonebell/phonebell/internal/doorbell"
)

type doorbellStatusResponse struct {
	Ringing bool `json:"ringing"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

// handleDoorbellStatus reports whether the doorbell is ringing.
func (s *Server) handleDoorbellStatus(w http.ResponseWriter, r *http.Request) {
	writeBare(w, http.StatusOK, doorbellStatusResponse{Ringing: s.bell.Ringing()})
}

// handleDoorbellRing starts the doorbell. Ringing an already ringing bell
// is a 400 with a plain-text body, which is what existing doorbell buttons
// check for.
func (s *Server) handleDoorbellRing(w http.ResponseWriter, r *http.Request) {
	if err := s.bell.Ring(); err != nil {
		if errors.Is(err, doorbell.ErrAlreadyRinging) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte("Already ringing")) //nolint:errcheck
			return
		}
		s.logger.Error("ringing doorbell", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeBare(w, http.StatusOK, okResponse{OK: true})
}
