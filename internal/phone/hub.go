package phone

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/phonebell/phonebell/internal/dial"
	"github.com/phonebell/phonebell/internal/liveness"
	"github.com/phonebell/phonebell/internal/registry"
)

// ErrAuthRejected is returned by Receive when the first frame on a phone
// connection does not match the shared secret. The connection has already
// been closed when this is returned.
var ErrAuthRejected = errors.New("phone authentication rejected")

// Peer is the non-owning back-reference used to push frames to a phone.
// Send and Ping must not block.
type Peer interface {
	Send(payload []byte) bool
	Ping(payload []byte) bool
	Close() error
}

// DoorOpener is notified when an Inside phone in a call dials the operator
// digit. Implementations must return promptly; they run inside the call
// coordinator's critical section.
type DoorOpener interface {
	OpenDoor(phoneID string)
}

// DoorOpenerFunc adapts a function to DoorOpener.
type DoorOpenerFunc func(phoneID string)

// OpenDoor calls f(phoneID).
func (f DoorOpenerFunc) OpenDoor(phoneID string) { f(phoneID) }

// Phone is the per-connection record for a connected handset.
type Phone struct {
	ID            string
	Type          Type
	Authenticated bool
	Status        Status
	OnHook        bool
	Dialed        string
	InCall        bool

	peer      Peer
	keepalive *liveness.Keepalive
	logger    *slog.Logger

	// Last Ring signal pushed to the handset, so convergence only sends
	// Ring when the desired state differs.
	ringKnown bool
	ringing   bool
}

// State is a point-in-time copy of a phone record.
type State struct {
	ID            string
	Type          Type
	Authenticated bool
	Status        Status
	OnHook        bool
	Dialed        string
	InCall        bool
}

// HubConfig configures a Hub.
type HubConfig struct {
	// Secret is the shared key a phone must send as its first frame.
	Secret string
	// PingInterval is the keepalive period for authenticated phones.
	PingInterval time.Duration
	// Matcher resolves dialed digits. Defaults to dial.Default().
	Matcher *dial.Matcher
	// Door receives door-open requests. Optional.
	Door DoorOpener
}

// Hub is the global call coordinator. It owns the phone registry and the
// shared ringer flag. Every inbound event runs as one critical section under
// mu, including the convergence pass it triggers.
type Hub struct {
	secret   string
	interval time.Duration
	matcher  *dial.Matcher
	door     DoorOpener
	logger   *slog.Logger

	mu     sync.Mutex
	phones *registry.Registry[*Phone]
	ringer bool
}

// NewHub creates an empty hub.
func NewHub(cfg HubConfig, logger *slog.Logger) *Hub {
	if cfg.Matcher == nil {
		cfg.Matcher = dial.Default()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = liveness.DefaultInterval
	}
	return &Hub{
		secret:   cfg.Secret,
		interval: cfg.PingInterval,
		matcher:  cfg.Matcher,
		door:     cfg.Door,
		logger:   logger.With("subsystem", "phone-hub"),
		phones:   registry.New[*Phone](),
	}
}

// Connect registers a new, unauthenticated phone with default state.
func (h *Hub) Connect(id string, typ Type, peer Peer) error {
	p := &Phone{
		ID:     id,
		Type:   typ,
		Status: StatusIdle,
		OnHook: true,
		peer:   peer,
		logger: h.logger.With("phone_id", id, "phone_type", string(typ)),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.phones.Register(id, p); err != nil {
		return fmt.Errorf("registering phone %s: %w", id, err)
	}
	p.logger.Info("phone waiting for auth")
	return nil
}

// Receive handles one inbound frame from phone id. The first frame is the
// authentication attempt; later frames are Dial/Hook events. Unparseable or
// unknown frames are dropped.
func (h *Hub) Receive(id string, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.phones.Lookup(id)
	if !ok {
		return nil
	}

	if !p.Authenticated {
		return h.authenticate(p, data)
	}

	msg, err := parseInbound(data)
	if err != nil {
		p.logger.Debug("phone message dropped", "error", err)
		return nil
	}
	p.logger.Debug("phone rx", "message", msg.String())

	switch msg.Type {
	case TypeDial:
		h.handleDial(p, *msg.Number)
	case TypeHook:
		h.handleHook(p, *msg.State)
	}
	return nil
}

func (h *Hub) authenticate(p *Phone, data []byte) error {
	key := strings.TrimSpace(string(data))
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(key), []byte(h.secret)) != 1 {
		p.logger.Warn("phone auth rejected")
		p.peer.Close() //nolint:errcheck
		return ErrAuthRejected
	}

	p.Authenticated = true
	peer := p.peer
	p.keepalive = liveness.Start(h.interval, func() {
		peer.Ping(nil)
	})
	p.logger.Info("phone authenticated")

	// Bring the newcomer in line with whatever is already going on.
	h.converge()
	return nil
}

// Disconnect tears down phone id: its keepalive is stopped before the record
// is removed, and if it was part of a call the remaining phones converge.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.phones.Lookup(id)
	if !ok {
		return
	}

	p.keepalive.Stop()
	h.phones.Unregister(id)

	if p.InCall {
		if h.activeCallers() == 0 {
			h.ringer = false
		}
		h.converge()
	}

	p.logger.Info("phone disconnected, cleaned up state", "was_in_call", p.InCall)
}

// send pushes msg to p. Failures are dropped; the connection's own close
// event handles a dead peer.
func (h *Hub) send(p *Phone, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("encoding phone message", "error", err)
		return
	}
	if msg.Type == TypeRing && msg.State != nil {
		p.ringKnown = true
		p.ringing = *msg.State
	}
	p.logger.Debug("phone tx", "message", msg.String())
	if !p.peer.Send(payload) {
		p.logger.Debug("phone tx dropped", "message", msg.String())
	}
}

// activeCallers counts phones with InCall set. Caller must hold mu.
func (h *Hub) activeCallers() int {
	return h.phones.Count(func(p *Phone) bool { return p.InCall })
}

// othersInCall reports whether any phone other than p is in a call.
func (h *Hub) othersInCall(p *Phone) bool {
	return h.phones.Count(func(o *Phone) bool { return o != p && o.InCall }) > 0
}

// ActiveCallers returns the number of phones currently in a call.
func (h *Hub) ActiveCallers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.activeCallers()
}

// Ringing reports the global ringer flag.
func (h *Hub) Ringing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ringer
}

// Connected returns the number of authenticated phones.
func (h *Hub) Connected() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.phones.Count(func(p *Phone) bool { return p.Authenticated })
}

// Snapshot returns a copy of phone id's record.
func (h *Hub) Snapshot(id string) (State, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.phones.Lookup(id)
	if !ok {
		return State{}, false
	}
	return State{
		ID:            p.ID,
		Type:          p.Type,
		Authenticated: p.Authenticated,
		Status:        p.Status,
		OnHook:        p.OnHook,
		Dialed:        p.Dialed,
		InCall:        p.InCall,
	}, true
}
