// Package signaling relays opaque peer-negotiation payloads between every
// connected signaling client. It carries no state machine and shares nothing
// with the phone hub beyond the registry primitive.
package signaling

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/phonebell/phonebell/internal/liveness"
	"github.com/phonebell/phonebell/internal/registry"
)

// handshakePing is the payload of the ping sent as soon as a client joins.
// Clients wait for it before they start negotiating.
var handshakePing = []byte{1, 2, 3}

// Peer is the outbound side of a signaling connection.
type Peer interface {
	Send(payload []byte) bool
	Ping(payload []byte) bool
}

type member struct {
	peer      Peer
	keepalive *liveness.Keepalive
}

func (m *member) Send(payload []byte) bool { return m.peer.Send(payload) }

// Relay fans each inbound payload out to every other member.
type Relay struct {
	interval time.Duration
	logger   *slog.Logger
	members  *registry.Registry[*member]
	relayed  atomic.Uint64
}

// NewRelay creates an empty relay whose members are pinged every interval.
func NewRelay(interval time.Duration, logger *slog.Logger) *Relay {
	return &Relay{
		interval: interval,
		logger:   logger.With("subsystem", "signaling"),
		members:  registry.New[*member](),
	}
}

// Join adds a connection to the peer set, sends the handshake ping and
// starts its keepalive.
func (r *Relay) Join(id string, peer Peer) error {
	m := &member{peer: peer}
	if err := r.members.Register(id, m); err != nil {
		return fmt.Errorf("joining signaling peer %s: %w", id, err)
	}

	peer.Ping(handshakePing)
	m.keepalive = liveness.Start(r.interval, func() {
		peer.Ping(nil)
	})

	r.logger.Info("signaling client connected", "peer_id", id, "peers", r.members.Len())
	return nil
}

// Relay forwards payload verbatim to every member except from and returns
// the number of members it was queued for.
func (r *Relay) Relay(from string, payload []byte) int {
	n := registry.Broadcast(r.members, payload, from)
	r.relayed.Add(uint64(n))

	preview := payload
	if len(preview) > 100 {
		preview = preview[:100]
	}
	r.logger.Debug("signaling rx", "peer_id", from, "payload", string(preview), "relayed_to", n)
	return n
}

// Leave stops the member's keepalive and removes it.
func (r *Relay) Leave(id string) {
	m, ok := r.members.Lookup(id)
	if !ok {
		return
	}
	m.keepalive.Stop()
	r.members.Unregister(id)
	r.logger.Info("signaling client disconnected", "peer_id", id)
}

// PeerCount returns the number of connected signaling clients.
func (r *Relay) PeerCount() int {
	return r.members.Len()
}

// RelayedTotal returns how many payloads have been queued for delivery
// since start.
func (r *Relay) RelayedTotal() uint64 {
	return r.relayed.Load()
}
