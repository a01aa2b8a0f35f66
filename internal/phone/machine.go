package phone

import "github.com/phonebell/phonebell/internal/dial"

// handleDial appends digits in idle and resolves the call once the matcher
// reaches an exact number or gives up. Caller must hold mu.
func (h *Hub) handleDial(p *Phone, number string) {
	p.logger.Debug("dial",
		"status", p.Status,
		"on_hook", p.OnHook,
		"dialed_so_far", p.Dialed,
		"number", number,
	)

	switch p.Status {
	case StatusIdle:
		p.Dialed += number

		outcome, resolved := h.matcher.Match(p.Dialed)
		switch outcome {
		case dial.Partial:
			return
		case dial.Fallback:
			p.logger.Info("no known number matches, routing to operator", "dialed", p.Dialed)
		}
		p.Dialed = resolved

		if p.OnHook {
			// Ring the handset so the user picks up to place the call.
			p.Status = StatusAwaitingUser
			h.send(p, Ring(true))
			p.logger.Info("number resolved, awaiting pickup", "number", resolved)
			return
		}

		h.send(p, PlaySound(SoundRingback))
		h.send(p, Mute(false))
		h.startCalling(p)
		p.logger.Info("number resolved, calling others", "number", resolved)

	case StatusInCall:
		if p.Type == Inside && number == dial.OperatorNumber && h.door != nil {
			p.logger.Info("door open requested")
			h.door.OpenDoor(p.ID)
		}
	}
}

// handleHook applies a hook-switch change. Caller must hold mu.
func (h *Hub) handleHook(p *Phone, onHook bool) {
	p.OnHook = onHook
	p.logger.Debug("hook", "status", p.Status, "on_hook", onHook)

	if onHook {
		h.hangUp(p)
		return
	}
	h.pickUp(p)
}

func (h *Hub) pickUp(p *Phone) {
	if h.othersInCall(p) {
		p.logger.Info("joining call in progress")
		h.send(p, Mute(false))
		h.send(p, Ring(false))
		h.send(p, PlaySound(SoundNone))

		p.InCall = true
		p.Status = StatusInCall
		h.ringer = false
		h.converge()
		return
	}

	switch p.Status {
	case StatusIdle:
		h.send(p, Ring(false))
		h.send(p, Mute(true))
		h.send(p, PlaySound(SoundDialtone))

	case StatusAwaitingUser:
		h.send(p, Ring(false))
		h.send(p, PlaySound(SoundRingback))
		h.send(p, Mute(false))
		h.startCalling(p)

	case StatusCallingOthers:
		h.send(p, Ring(false))
		h.send(p, Mute(false))
		h.send(p, PlaySound(SoundRingback))

	case StatusInCall:
		h.send(p, Ring(false))
		h.send(p, Mute(false))
		h.send(p, PlaySound(SoundNone))

	case StatusAwaitingOthers:
		h.send(p, Ring(false))
		h.send(p, Mute(false))
		h.send(p, PlaySound(SoundHangup))
	}
}

func (h *Hub) hangUp(p *Phone) {
	h.send(p, PlaySound(SoundNone))
	h.send(p, Mute(true))
	h.send(p, Ring(false))

	leavingCall := inCallStatus(p.Status)
	p.Dialed = ""
	p.Status = StatusIdle

	if leavingCall {
		p.InCall = false
		h.ringer = false
		p.logger.Info("left call", "active_callers", h.activeCallers())
		h.converge()
	}
}

// startCalling moves p into calling_others and starts the house ringing if
// nobody else is already calling.
func (h *Hub) startCalling(p *Phone) {
	p.Status = StatusCallingOthers
	p.InCall = true
	if h.activeCallers() <= 1 {
		h.ringer = true
	}
	h.converge()
}
