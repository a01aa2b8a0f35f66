package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// envelope is the response wrapper for the server's own endpoints:
// { "data": ..., "error": ... }
type envelope struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

// writeJSON writes data wrapped in an envelope.
func writeJSON(w http.ResponseWriter, status int, data any) {
	writeBare(w, status, envelope{Data: data})
}

// writeError writes an envelope carrying only an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeBare(w, status, envelope{Error: msg})
}

// writeBare writes v as JSON without the envelope. Endpoints whose shape is
// fixed by existing clients (the root banner, doorbell) use it.
func writeBare(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}
