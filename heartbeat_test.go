package netfield

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeat(t *testing.T) {
	clock := newFakeClock()
	var fired []uint64
	hb := newHeartbeat(clock, 10*time.Second, func(seq uint64) { fired = append(fired, seq) })

	hb.arm()
	assert.True(t, hb.armed())
	clock.Advance(9 * time.Second)
	hb.arm()
	clock.Advance(9 * time.Second)
	assert.Empty(t, fired, "re-arm restarts the window")

	clock.Advance(time.Second)
	require.Len(t, fired, 1)
	assert.True(t, hb.expired(fired[0]))
	assert.False(t, hb.armed())
	assert.False(t, hb.expired(fired[0]), "expiry is reported once")
}

func TestHeartbeatStaleFire(t *testing.T) {
	clock := newFakeClock()
	var fired []uint64
	hb := newHeartbeat(clock, time.Second, func(seq uint64) { fired = append(fired, seq) })

	hb.arm()
	clock.Advance(time.Second)
	require.Len(t, fired, 1)

	// A keep-alive processed before the queued timeout supersedes it.
	hb.arm()
	assert.False(t, hb.expired(fired[0]))
	assert.True(t, hb.armed())

	hb.stop()
	hb.stop()
	assert.False(t, hb.armed())
	assert.Equal(t, 0, clock.pending())
}

func TestTimerSlot(t *testing.T) {
	clock := newFakeClock()
	var slot timerSlot
	var fired []uint64
	fire := func(seq uint64) { fired = append(fired, seq) }

	slot.arm(clock, time.Second, fire)
	slot.arm(clock, 2*time.Second, fire)
	assert.Equal(t, 1, clock.pending(), "arm replaces the pending timer")

	clock.Advance(2 * time.Second)
	require.Len(t, fired, 1)
	assert.True(t, slot.current(fired[0]))
	assert.False(t, slot.active())

	slot.stop()
	assert.False(t, slot.current(fired[0]))
}

func TestSystemClock(t *testing.T) {
	done := make(chan struct{})
	timer := systemClock{}.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.False(t, timer.Stop())
}
