package netfield

import "time"

// Clock schedules single-shot callbacks. The session owns every timer it
// creates through its Clock and cancels them deterministically.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable scheduled callback. Stop on a fired or already
// stopped timer is a no-op.
type Timer interface {
	Stop() bool
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// timerSlot holds at most one pending timer. Every arm or stop bumps seq so a
// callback that was already queued when its timer got replaced is recognised
// as stale by the event loop.
type timerSlot struct {
	timer Timer
	seq   uint64
}

func (t *timerSlot) arm(c Clock, d time.Duration, fire func(seq uint64)) {
	t.stop()
	seq := t.seq
	t.timer = c.AfterFunc(d, func() { fire(seq) })
}

func (t *timerSlot) stop() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.seq++
}

func (t *timerSlot) active() bool { return t.timer != nil }

// current reports whether seq belongs to the armed timer and disarms it.
func (t *timerSlot) current(seq uint64) bool {
	if t.timer == nil || seq != t.seq {
		return false
	}
	t.timer = nil
	t.seq++
	return true
}
