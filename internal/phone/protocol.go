package phone

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type is the fixed role of a phone, chosen by the endpoint it connects to.
type Type string

const (
	Inside  Type = "Inside"
	Outside Type = "Outside"
)

// Status is a phone's call state.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusAwaitingUser   Status = "awaiting_user"
	StatusCallingOthers  Status = "calling_others"
	StatusInCall         Status = "in_call"
	StatusAwaitingOthers Status = "awaiting_others"
)

// inCallStatus reports whether s is one of the states in which the phone
// counts as an active caller.
func inCallStatus(s Status) bool {
	switch s {
	case StatusCallingOthers, StatusInCall, StatusAwaitingOthers:
		return true
	}
	return false
}

// Sound is a tone the handset plays locally.
type Sound string

const (
	SoundNone     Sound = "None"
	SoundDialtone Sound = "Dialtone"
	SoundRingback Sound = "Ringback"
	SoundHangup   Sound = "Hangup"
)

// Message types on the phone wire.
const (
	TypeDial      = "Dial"
	TypeHook      = "Hook"
	TypeRing      = "Ring"
	TypeMute      = "Mute"
	TypePlaySound = "PlaySound"
)

// Message is a structured frame on the phone protocol. Inbound frames carry
// Dial{number} or Hook{state}; outbound frames carry Ring{state},
// Mute{state} or PlaySound{sound}.
type Message struct {
	Type   string  `json:"type"`
	State  *bool   `json:"state,omitempty"`
	Number *string `json:"number,omitempty"`
	Sound  Sound   `json:"sound,omitempty"`
}

func (m Message) String() string {
	switch {
	case m.State != nil:
		return fmt.Sprintf("%s(%t)", m.Type, *m.State)
	case m.Number != nil:
		return fmt.Sprintf("%s(%q)", m.Type, *m.Number)
	case m.Sound != "":
		return fmt.Sprintf("%s(%s)", m.Type, m.Sound)
	}
	return m.Type
}

// Ring builds a Ring signal.
func Ring(on bool) Message { return Message{Type: TypeRing, State: &on} }

// Mute builds a Mute signal.
func Mute(on bool) Message { return Message{Type: TypeMute, State: &on} }

// PlaySound builds a PlaySound signal.
func PlaySound(s Sound) Message { return Message{Type: TypePlaySound, Sound: s} }

// Dial builds an inbound Dial event.
func Dial(number string) Message { return Message{Type: TypeDial, Number: &number} }

// Hook builds an inbound Hook event. onHook=true means the handset is resting.
func Hook(onHook bool) Message { return Message{Type: TypeHook, State: &onHook} }

var errUnrecognized = errors.New("unrecognized phone message")

// parseInbound decodes a post-authentication frame. Frames that are not JSON,
// carry an unknown type, or lack a correctly typed field are rejected.
func parseInbound(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decoding phone message: %w", err)
	}
	switch msg.Type {
	case TypeDial:
		if msg.Number == nil {
			return Message{}, fmt.Errorf("dial without number: %w", errUnrecognized)
		}
	case TypeHook:
		if msg.State == nil {
			return Message{}, fmt.Errorf("hook without state: %w", errUnrecognized)
		}
	default:
		return Message{}, fmt.Errorf("type %q: %w", msg.Type, errUnrecognized)
	}
	return msg, nil
}
