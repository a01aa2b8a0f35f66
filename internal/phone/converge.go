package phone

// converge re-derives every authenticated phone's passive signals from
// (status, hook, active callers, ringer). It never re-runs Dial or Hook
// logic, and a second pass over unchanged inputs sends nothing. Caller must
// hold mu.
func (h *Hub) converge() {
	active := h.activeCallers()
	h.phones.Each(func(_ string, p *Phone) {
		if !p.Authenticated {
			return
		}
		h.reconcile(p, active)
	})
}

func (h *Hub) reconcile(p *Phone, active int) {
	switch p.Status {
	case StatusIdle:
		if p.OnHook && (!p.ringKnown || p.ringing != h.ringer) {
			h.send(p, Ring(h.ringer))
		}

	case StatusCallingOthers, StatusAwaitingOthers:
		if !p.OnHook && active > 1 {
			p.logger.Info("call connected", "from", p.Status, "active_callers", active)
			p.Status = StatusInCall
			h.send(p, PlaySound(SoundNone))
			h.send(p, Mute(false))
			h.send(p, Ring(false))
		}

	case StatusInCall:
		if !p.OnHook && active == 1 && !h.ringer {
			p.logger.Info("last party left, awaiting others")
			p.Status = StatusAwaitingOthers
			h.send(p, PlaySound(SoundHangup))
		}
	}
}
