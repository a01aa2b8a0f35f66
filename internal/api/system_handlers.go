package api

import "net/http"

const readme = "Welcome to the phonebell API! Phones connect at /phonebell/{inside,outside}, " +
	"peers negotiate at /phonebell/signaling, the doorbell lives at /doorbell."

type rootResponse struct {
	OK     bool   `json:"ok"`
	Readme string `json:"readme"`
}

// handleRoot returns the welcome banner.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeBare(w, http.StatusOK, rootResponse{OK: true, Readme: readme})
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
