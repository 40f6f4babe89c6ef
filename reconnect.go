package netfield

import "time"

// ============================================================================
// Reconnector
// ============================================================================

// reconnector computes linear backoff: the Nth consecutive wait is
// min(N*step, max). It is reset only once a subscription is established.
type reconnector struct {
	step        time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
}

func newReconnector(config *Config) *reconnector {
	return &reconnector{
		step:        config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

// nextDelay advances the episode and returns its wait.
func (r *reconnector) nextDelay() time.Duration {
	r.attempt++
	return r.delay()
}

// delay is the wait for the current attempt, the step itself when idle.
func (r *reconnector) delay() time.Duration {
	n := r.attempt
	if n < 1 {
		n = 1
	}
	d := time.Duration(n) * r.step
	if d > r.maxDelay || d <= 0 {
		d = r.maxDelay
	}
	return d
}

func (r *reconnector) reset() {
	r.attempt = 0
}

// ============================================================================
// Countdown
// ============================================================================

// countdown runs the wait in one-second ticks. It reports progress for every
// second still outstanding and signals expiry on the tick that reaches zero.
type countdown struct {
	clock     Clock
	tick      time.Duration
	slot      timerSlot
	remaining int
	fire      func(seq uint64)
}

func newCountdown(clock Clock, fire func(seq uint64)) *countdown {
	return &countdown{clock: clock, tick: time.Second, fire: fire}
}

// start begins a countdown of wait rounded up to whole ticks and returns
// the number of ticks.
func (c *countdown) start(wait time.Duration) int {
	c.remaining = int((wait + c.tick - 1) / c.tick)
	if c.remaining < 1 {
		c.remaining = 1
	}
	c.slot.arm(c.clock, c.tick, c.fire)
	return c.remaining
}

// advance consumes one tick and returns the seconds left and whether the
// countdown expired. ok is false for a stale tick. When not expired the next
// tick is armed.
func (c *countdown) advance(seq uint64) (remaining int, expired, ok bool) {
	if !c.slot.current(seq) {
		return 0, false, false
	}
	c.remaining--
	if c.remaining <= 0 {
		return 0, true, true
	}
	c.slot.arm(c.clock, c.tick, c.fire)
	return c.remaining, false, true
}

func (c *countdown) stop() {
	c.slot.stop()
	c.remaining = 0
}

func (c *countdown) running() bool { return c.slot.active() }
