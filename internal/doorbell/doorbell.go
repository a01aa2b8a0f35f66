// Package doorbell keeps a single shared ringing flag and pushes every
// change to all connected doorbell clients.
package doorbell

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phonebell/phonebell/internal/registry"
)

// ErrAlreadyRinging is returned by Ring when the bell is already ringing.
var ErrAlreadyRinging = errors.New("doorbell: already ringing")

// Message is the doorbell wire format, used both ways.
type Message struct {
	Type    string `json:"type"`
	Ringing *bool  `json:"ringing"`
}

// Message types.
const (
	TypeSet    = "set"
	TypeStatus = "status"
)

func statusMessage(ringing bool) Message {
	return Message{Type: TypeStatus, Ringing: &ringing}
}

// parseMessage decodes an inbound frame. Both recognised types carry the
// desired state; anything else is rejected.
func parseMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decoding doorbell message: %w", err)
	}
	if m.Type != TypeSet && m.Type != TypeStatus {
		return Message{}, fmt.Errorf("unknown doorbell message type %q", m.Type)
	}
	if m.Ringing == nil {
		return Message{}, errors.New("doorbell message missing ringing")
	}
	return m, nil
}

// Broadcaster owns the ringing flag and the set of connected clients.
type Broadcaster struct {
	logger  *slog.Logger
	clients *registry.Registry[registry.Sender]

	// mu orders state changes with their broadcasts so clients never see
	// an older state after a newer one.
	mu      sync.Mutex
	ringing bool
}

// NewBroadcaster creates a broadcaster with the bell silent.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		logger:  logger.With("subsystem", "doorbell"),
		clients: registry.New[registry.Sender](),
	}
}

// Add registers a client and sends it the current state.
func (b *Broadcaster) Add(id string, client registry.Sender) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.clients.Register(id, client); err != nil {
		return fmt.Errorf("adding doorbell client %s: %w", id, err)
	}
	client.Send(encode(statusMessage(b.ringing)))
	b.logger.Debug("doorbell client connected", "client_id", id, "clients", b.clients.Len())
	return nil
}

// Remove drops a client.
func (b *Broadcaster) Remove(id string) {
	if _, ok := b.clients.Unregister(id); ok {
		b.logger.Debug("doorbell client disconnected", "client_id", id)
	}
}

// Ringing reports the current state.
func (b *Broadcaster) Ringing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ringing
}

// Set stores the state and broadcasts it to every client, even when it did
// not change.
func (b *Broadcaster) Set(ringing bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setLocked(ringing)
}

// Ring starts the bell. It fails with ErrAlreadyRinging if it is already
// ringing.
func (b *Broadcaster) Ring() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ringing {
		return ErrAlreadyRinging
	}
	b.setLocked(true)
	return nil
}

func (b *Broadcaster) setLocked(ringing bool) {
	b.ringing = ringing
	n := registry.Broadcast(b.clients, encode(statusMessage(ringing)), "")
	b.logger.Info("doorbell state changed", "ringing", ringing, "notified", n)
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	return b.clients.Len()
}

func encode(m Message) []byte {
	data, _ := json.Marshal(m)
	return data
}
