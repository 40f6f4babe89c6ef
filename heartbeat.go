package netfield

import "time"

// heartbeat is the per-connection liveness monitor. Each arm is single-shot
// and replaces the previous one; there is no periodic check.
type heartbeat struct {
	clock   Clock
	timeout time.Duration
	slot    timerSlot
	fire    func(seq uint64)
}

func newHeartbeat(clock Clock, timeout time.Duration, fire func(seq uint64)) *heartbeat {
	return &heartbeat{clock: clock, timeout: timeout, fire: fire}
}

// arm (re)starts the timeout window.
func (h *heartbeat) arm() {
	h.slot.arm(h.clock, h.timeout, h.fire)
}

func (h *heartbeat) stop() {
	h.slot.stop()
}

func (h *heartbeat) armed() bool { return h.slot.active() }

// expired reports whether the fired seq is the live timer.
func (h *heartbeat) expired(seq uint64) bool {
	return h.slot.current(seq)
}
