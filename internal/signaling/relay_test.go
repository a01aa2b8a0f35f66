package signaling

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/phonebell/phonebell/internal/registry"
	"github.com/phonebell/phonebell/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakePeer struct {
	mu    sync.Mutex
	sent  [][]byte
	pings [][]byte
}

func (f *fakePeer) Send(payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload)
	return true
}

func (f *fakePeer) Ping(payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings = append(f.pings, payload)
	return true
}

func (f *fakePeer) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakePeer) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pings)
}

func TestRelay_JoinSendsHandshakePing(t *testing.T) {
	r := NewRelay(time.Hour, testLogger())
	p := &fakePeer{}
	if err := r.Join("a", p); err != nil {
		t.Fatalf("Join: %v", err)
	}
	defer r.Leave("a")

	if len(p.pings) != 1 || !bytes.Equal(p.pings[0], []byte{1, 2, 3}) {
		t.Fatalf("pings = %v, want one handshake ping [1 2 3]", p.pings)
	}
}

func TestRelay_DuplicateJoin(t *testing.T) {
	r := NewRelay(time.Hour, testLogger())
	if err := r.Join("a", &fakePeer{}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	defer r.Leave("a")

	err := r.Join("a", &fakePeer{})
	if !errors.Is(err, registry.ErrDuplicate) {
		t.Fatalf("second Join = %v, want ErrDuplicate", err)
	}
}

func TestRelay_FanoutExcludesSender(t *testing.T) {
	r := NewRelay(time.Hour, testLogger())
	peers := map[string]*fakePeer{"a": {}, "b": {}, "c": {}}
	for _, id := range []string{"a", "b", "c"} {
		if err := r.Join(id, peers[id]); err != nil {
			t.Fatalf("Join %s: %v", id, err)
		}
		defer r.Leave(id)
	}

	payload := []byte(`{"sdp":"offer","opaque":true}`)
	if n := r.Relay("b", payload); n != 2 {
		t.Fatalf("Relay delivered to %d, want 2", n)
	}

	if got := peers["b"].received(); len(got) != 0 {
		t.Fatalf("sender received its own payload: %q", got)
	}
	for _, id := range []string{"a", "c"} {
		got := peers[id].received()
		if len(got) != 1 || !bytes.Equal(got[0], payload) {
			t.Fatalf("peer %s received %q, want the payload verbatim", id, got)
		}
	}
	if r.RelayedTotal() != 2 {
		t.Fatalf("RelayedTotal = %d, want 2", r.RelayedTotal())
	}
}

func TestRelay_PerSenderOrder(t *testing.T) {
	r := NewRelay(time.Hour, testLogger())
	a, b := &fakePeer{}, &fakePeer{}
	r.Join("a", a)
	r.Join("b", b)
	defer r.Leave("a")
	defer r.Leave("b")

	for _, msg := range []string{"1", "2", "3"} {
		r.Relay("a", []byte(msg))
	}
	got := b.received()
	if len(got) != 3 || string(got[0]) != "1" || string(got[1]) != "2" || string(got[2]) != "3" {
		t.Fatalf("order = %q, want 1 2 3", got)
	}
}

func TestRelay_LeaveStopsKeepalive(t *testing.T) {
	r := NewRelay(10*time.Millisecond, testLogger())
	p := &fakePeer{}
	r.Join("a", p)

	deadline := time.Now().Add(2 * time.Second)
	for p.pingCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("keepalive never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	r.Leave("a")
	if r.PeerCount() != 0 {
		t.Fatalf("PeerCount = %d after Leave", r.PeerCount())
	}
	after := p.pingCount()
	time.Sleep(50 * time.Millisecond)
	if p.pingCount() != after {
		t.Fatal("keepalive kept pinging after Leave")
	}

	// A relay with no other members reaches nobody.
	if n := r.Relay("a", []byte("x")); n != 0 {
		t.Fatalf("Relay after Leave delivered to %d", n)
	}
	r.Leave("a")
}

func TestHandler_RelaysBetweenClients(t *testing.T) {
	r := NewRelay(time.Hour, testLogger())
	srv := httptest.NewServer(NewHandler(r, transport.Options{Logger: testLogger()}, testLogger()))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	dial := func() net.Conn {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		raw, br, _, err := ws.Dial(ctx, url)
		if err != nil {
			t.Fatalf("ws.Dial: %v", err)
		}
		t.Cleanup(func() { raw.Close() })
		raw.SetDeadline(time.Now().Add(2 * time.Second))
		var conn net.Conn = raw
		if br != nil {
			conn = bufferedConn{Conn: raw, r: io.MultiReader(br, raw)}
		}

		f, err := ws.ReadFrame(conn)
		if err != nil {
			t.Fatalf("reading handshake: %v", err)
		}
		if f.Header.OpCode != ws.OpPing || !bytes.Equal(f.Payload, []byte{1, 2, 3}) {
			t.Fatalf("handshake = %v %v, want ping [1 2 3]", f.Header.OpCode, f.Payload)
		}
		return conn
	}

	a := dial()
	b := dial()
	waitPeers(t, r, 2)

	if err := wsutil.WriteClientText(a, []byte("candidate")); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := wsutil.ReadServerText(b)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "candidate" {
		t.Fatalf("b got %q, want candidate", got)
	}

	b.Close()
	waitPeers(t, r, 1)
}

func waitPeers(t *testing.T, r *Relay, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for r.PeerCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("PeerCount = %d, want %d", r.PeerCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// bufferedConn reads first from whatever ws.Dial buffered past the handshake
// response; the server may have sent frames in the same packet.
type bufferedConn struct {
	net.Conn
	r io.Reader
}

func (c bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }
