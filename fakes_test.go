package netfield

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

const waitTimeout = 2 * time.Second

// ============================================================================
// Fake clock
// ============================================================================

type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{}
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward and fires due timers in order. Callbacks run
// without the clock lock held.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at > target {
				continue
			}
			if next == nil || t.at < next.at {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.fn()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// ============================================================================
// Fake transport
// ============================================================================

type fakeDialer struct {
	mu       sync.Mutex
	failures []error
	dials    int
	conns    chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 16)}
}

// failNext makes the next n dials fail with err.
func (d *fakeDialer) failNext(n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < n; i++ {
		d.failures = append(d.failures, err)
	}
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	var err error
	if len(d.failures) > 0 {
		err, d.failures = d.failures[0], d.failures[1:]
	}
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("no connection dialed")
		return nil
	}
}

type fakeConn struct {
	inbound chan []byte
	writes  chan []byte
	gone    chan struct{}

	mu          sync.Mutex
	goneErr     error
	ops         []string
	closeCode   int
	closeReason string
	closedNow   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte),
		writes:  make(chan []byte, 64),
		gone:    make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.gone:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.goneErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.gone:
		return errors.New("write on closed connection")
	default:
	}
	var f struct {
		Type string `json:"type"`
	}
	json.Unmarshal(data, &f)
	c.ops = append(c.ops, "write:"+f.Type)
	c.writes <- data
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	c.ops = append(c.ops, "close")
	c.closeCode, c.closeReason = code, reason
	c.mu.Unlock()
	c.shut(websocket.CloseError{Code: websocket.StatusCode(code), Reason: reason})
	return nil
}

func (c *fakeConn) CloseNow() error {
	c.mu.Lock()
	c.ops = append(c.ops, "closeNow")
	c.closedNow = true
	c.mu.Unlock()
	c.shut(errors.New("use of closed network connection"))
	return nil
}

func (c *fakeConn) shut(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.gone:
	default:
		c.goneErr = err
		close(c.gone)
	}
}

// drop simulates the server closing the connection.
func (c *fakeConn) drop(code int, reason string) {
	c.shut(websocket.CloseError{Code: websocket.StatusCode(code), Reason: reason})
}

func (c *fakeConn) deliver(t *testing.T, frame string) {
	t.Helper()
	select {
	case c.inbound <- []byte(frame):
	case <-time.After(waitTimeout):
		t.Fatalf("frame %s not read", frame)
	}
}

// nextWrite returns the next written frame decoded into a map.
func (c *fakeConn) nextWrite(t *testing.T) map[string]any {
	t.Helper()
	select {
	case data := <-c.writes:
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	case <-time.After(waitTimeout):
		t.Fatal("no frame written")
		return nil
	}
}

func (c *fakeConn) operations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ops...)
}

func (c *fakeConn) closedWith() (int, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, op := range c.ops {
		if op == "close" {
			return c.closeCode, c.closeReason, true
		}
	}
	return 0, "", false
}

// ============================================================================
// Observer recorder
// ============================================================================

type recorder struct {
	mu          sync.Mutex
	states      []State
	data        []Publication
	reconnects  []int
	revokes     []string
	errs        []error
	disconnects []int
}

func record(s *Session) *recorder {
	r := &recorder{}
	s.OnStateChanged(func(next, prev State) {
		r.mu.Lock()
		r.states = append(r.states, next)
		r.mu.Unlock()
	})
	s.OnData(func(p Publication) {
		r.mu.Lock()
		r.data = append(r.data, p)
		r.mu.Unlock()
	})
	s.OnReconnect(func(n int) {
		r.mu.Lock()
		r.reconnects = append(r.reconnects, n)
		r.mu.Unlock()
	})
	s.OnRevoke(func(reason string) {
		r.mu.Lock()
		r.revokes = append(r.revokes, reason)
		r.mu.Unlock()
	})
	s.OnError(func(err error) {
		r.mu.Lock()
		r.errs = append(r.errs, err)
		r.mu.Unlock()
	})
	s.OnDisconnected(func(code int, reason string) {
		r.mu.Lock()
		r.disconnects = append(r.disconnects, code)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) snapshot() recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorder{
		states:      append([]State(nil), r.states...),
		data:        append([]Publication(nil), r.data...),
		reconnects:  append([]int(nil), r.reconnects...),
		revokes:     append([]string(nil), r.revokes...),
		errs:        append([]error(nil), r.errs...),
		disconnects: append([]int(nil), r.disconnects...),
	}
}

func (r *recorder) lastState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return ""
	}
	return r.states[len(r.states)-1]
}

func (r *recorder) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return r.lastState() == want },
		waitTimeout, time.Millisecond, "state %q not reached, have %v", want, r.snapshot().states)
}

func (r *recorder) waitCount(t *testing.T, what string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap := r.snapshot()
		switch what {
		case "data":
			return len(snap.data) >= n
		case "reconnects":
			return len(snap.reconnects) >= n
		case "revokes":
			return len(snap.revokes) >= n
		case "errs":
			return len(snap.errs) >= n
		case "disconnects":
			return len(snap.disconnects) >= n
		}
		return false
	}, waitTimeout, time.Millisecond, "waiting for %d %s", n, what)
}

// ============================================================================
// Harness
// ============================================================================

type harness struct {
	s      *Session
	clock  *fakeClock
	dialer *fakeDialer
	rec    *recorder
	cancel context.CancelFunc
	hellos []map[string]any
}

func testConfig() Config {
	return Config{
		Endpoint:         "wss://api.netfield.test/v1",
		Authorization:    "secret-token",
		DeviceID:         "dev-1",
		Topic:            "sensors/#",
		HeartbeatTimeout: 10 * time.Second,
	}
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{clock: newFakeClock(), dialer: newFakeDialer()}
	s, err := NewSession(cfg, WithClock(h.clock), WithDialer(h.dialer))
	require.NoError(t, err)
	h.s = s
	h.rec = record(s)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(func() {
		cancel()
		select {
		case <-s.Done():
		case <-time.After(waitTimeout):
			t.Error("session did not stop")
		}
	})
	require.NoError(t, s.Start(ctx))
	return h
}

// subscribe drives the next dialed connection through hello and sub.
func (h *harness) subscribe(t *testing.T) *fakeConn {
	t.Helper()
	conn := h.dialer.next(t)
	hello := conn.nextWrite(t)
	require.Equal(t, "hello", hello["type"])
	h.hellos = append(h.hellos, hello)
	conn.deliver(t, `{"type":"hello","id":"srv"}`)
	sub := conn.nextWrite(t)
	require.Equal(t, "sub", sub["type"])
	conn.deliver(t, `{"type":"sub","path":"`+h.s.Target().Path()+`"}`)
	h.rec.waitState(t, StateSubscribed)
	return conn
}

func (h *harness) waitStateIs(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.s.State() == want },
		waitTimeout, time.Millisecond, "state %q not reached, have %q", want, h.s.State())
}

func (h *harness) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-h.s.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("session not closed, state %q", h.s.State())
	}
}
