package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRecoverer_PanicReturnsJSON500(t *testing.T) {
	var buf bytes.Buffer
	h := Recoverer(slog.New(slog.NewJSONHandler(&buf, nil)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("door jammed")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/doorbell/ring", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q", ct)
	}
	var body errorEnvelope
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "internal server error" {
		t.Errorf("error = %q", body.Error)
	}
	if !strings.Contains(buf.String(), "door jammed") || !strings.Contains(buf.String(), "stack") {
		t.Errorf("panic not logged with stack: %s", buf.String())
	}
}

func TestRecoverer_NoPanicPassesThrough(t *testing.T) {
	h := Recoverer(slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
}

func TestRecoverer_AbortHandlerRepanics(t *testing.T) {
	h := Recoverer(slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Fatalf("recovered %v, want http.ErrAbortHandler", rec)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestRecoverer_AfterHijackWritesNothing(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			t.Fatalf("hijack: %v", err)
		}
		defer conn.Close()
		panic("after upgrade")
	})
	h := StructuredLogger(logger)(Recoverer(logger)(inner))

	rec := &hijackRecorder{ResponseRecorder: httptest.NewRecorder(), server: server}
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/phonebell/outside", nil))

	if rec.Body.Len() != 0 {
		t.Fatalf("wrote %q to a hijacked connection", rec.Body.String())
	}
}
