// Package netfield is a resilient client for the netFIELD proxy WebSocket
// publish/subscribe protocol.
//
// A Session authenticates once per connection, subscribes one (device, topic)
// pair, forwards publications to its observers, watches the server heartbeat
// and re-establishes the subscription after any disconnect.
//
// Example:
//
//	s, _ := netfield.NewSession(netfield.Config{
//		Endpoint:      "wss://api.netfield.io/v1",
//		Authorization: apiKey,
//		DeviceID:      "dev-1",
//		Topic:         "sensors/#",
//	})
//	s.OnData(func(p netfield.Publication) { fmt.Println(string(p.Message)) })
//	_ = s.Start(ctx)
//	defer s.Close()
package netfield

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultCloseReason is sent with Close.
const DefaultCloseReason = "client-initiated close"

const inboxSize = 64

// Session owns the connection lifecycle for one subscription. All state
// transitions, frame handling and timer callbacks run on a single event loop.
type Session struct {
	cfg        Config
	target     Target
	clientID   string
	log        zerolog.Logger
	dialer     Dialer
	clock      Clock
	httpClient *http.Client
	dispatcher *eventDispatcher

	inbox   chan loopEvent
	done    chan struct{}
	postMu  sync.RWMutex
	stopped bool

	mu          sync.Mutex
	state       State
	stats       Stats
	started     bool
	closed      bool
	closeOnce   sync.Once
	closeReq    chan struct{}
	closeCode   int
	closeReason string

	// Owned by the event loop.
	ctx          context.Context
	cancel       context.CancelFunc
	link         *link
	gen          uint64
	recon        *reconnector
	heartbeat    *heartbeat
	countdown    *countdown
	graceTimer   timerSlot
	closeTimer   timerSlot
	shuttingDown bool
	finished     bool
}

// link is one transport connection attempt.
type link struct {
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
	conn   Conn
	open   bool
	out    chan []byte
}

// ============================================================================
// Loop events
// ============================================================================

type loopEvent interface{}

type dialResult struct {
	gen  uint64
	conn Conn
	err  error
}

type frameEvent struct {
	gen  uint64
	data []byte
}

type connLost struct {
	gen uint64
	err error
}

type timerKind int

const (
	timerHeartbeat timerKind = iota
	timerReconnectTick
	timerCloseGrace
	timerUnsubscribe
	timerShutdownGrace
	timerCloseWait
)

type timerEvent struct {
	kind timerKind
	seq  uint64
}

// ============================================================================
// Construction
// ============================================================================

// NewSession validates cfg and prepares a session in the initializing state.
// Register observers, then call Start.
func NewSession(cfg Config, opts ...Option) (*Session, error) {
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		cfg:        cfg,
		target:     cfg.Target(),
		log:        zerolog.Nop(),
		clock:      systemClock{},
		dispatcher: newEventDispatcher(),
		inbox:      make(chan loopEvent, inboxSize),
		done:       make(chan struct{}),
		closeReq:   make(chan struct{}),
		closeCode:  StatusNormalClosure,
		state:      StateInitializing,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.clientID == "" {
		s.clientID = uuid.NewString()
	}
	if s.dialer == nil {
		s.dialer = &WebSocketDialer{
			HTTPClient: s.httpClient,
			HTTPHeader: cfg.HTTPHeader,
			ReadLimit:  cfg.ReadLimit,
		}
	}
	s.log = s.log.With().
		Str("client_id", s.clientID).
		Str("device_id", cfg.DeviceID).
		Str("topic", cfg.Topic).
		Logger()

	s.recon = newReconnector(&s.cfg)
	s.heartbeat = newHeartbeat(s.clock, cfg.HeartbeatTimeout, s.timerFunc(timerHeartbeat))
	s.countdown = newCountdown(s.clock, s.timerFunc(timerReconnectTick))
	return s, nil
}

// Open creates a session and starts connecting immediately.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Session, error) {
	s, err := NewSession(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Start launches the event loop and the first connection attempt.
// Cancelling ctx tears the session down without the unsubscribe handshake;
// use Close for an orderly shutdown.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	go s.run()
	return nil
}

// Close shuts the session down with a normal closure code.
func (s *Session) Close() error {
	return s.CloseWithReason(StatusNormalClosure, DefaultCloseReason)
}

// CloseWithReason detaches all observers, unsubscribes if subscribed and
// closes the transport with code and reason. It returns immediately; Done
// reports completion. Later calls are no-ops.
func (s *Session) CloseWithReason(code int, reason string) error {
	s.dispatcher.detach()
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeCode, s.closeReason = code, reason
		started := s.started
		s.closed = true
		if !started {
			s.state = StateClosed
		}
		s.mu.Unlock()

		close(s.closeReq)
		if !started {
			close(s.done)
		}
	})
	return nil
}

// Done is closed once the session reaches the closed state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session is closed or ctx ends.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns activity counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// ClientID returns the id presented at every handshake of this session.
func (s *Session) ClientID() string {
	return s.clientID
}

// Target returns the subscription target.
func (s *Session) Target() Target {
	return s.target
}

// ============================================================================
// Event loop
// ============================================================================

func (s *Session) run() {
	defer s.stop()

	closeReq := s.closeReq
	ctxDone := s.ctx.Done()

	s.connect()
	for !s.finished {
		select {
		case ev := <-s.inbox:
			// A close request that raced with this event wins.
			if closeReq != nil {
				select {
				case <-closeReq:
					closeReq = nil
					s.beginShutdown()
					if s.finished {
						continue
					}
				default:
				}
			}
			s.handle(ev)
		case <-closeReq:
			closeReq = nil
			s.beginShutdown()
		case <-ctxDone:
			ctxDone = nil
			s.terminate()
		}
	}
}

func (s *Session) handle(ev loopEvent) {
	switch e := ev.(type) {
	case dialResult:
		s.handleDial(e)
	case frameEvent:
		s.handleFrame(e)
	case connLost:
		s.handleConnLost(e)
	case timerEvent:
		s.handleTimer(e)
	}
}

// stop releases the loop. Connections that were dialed but never handled
// are closed.
func (s *Session) stop() {
	s.cancel()
	close(s.done)

	s.postMu.Lock()
	s.stopped = true
	s.postMu.Unlock()
	for {
		select {
		case ev := <-s.inbox:
			if r, ok := ev.(dialResult); ok && r.conn != nil {
				r.conn.CloseNow()
			}
		default:
			return
		}
	}
}

// post queues ev for the loop. It reports false once the session is done.
func (s *Session) post(ev loopEvent) bool {
	s.postMu.RLock()
	defer s.postMu.RUnlock()
	if s.stopped {
		return false
	}
	select {
	case s.inbox <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) timerFunc(kind timerKind) func(seq uint64) {
	return func(seq uint64) {
		s.post(timerEvent{kind: kind, seq: seq})
	}
}

// transition runs the entry actions of next, then publishes next and notifies
// observers. Entry actions arm timers before sending frames.
func (s *Session) transition(next State, entry ...func()) {
	for _, fn := range entry {
		fn()
	}
	s.setState(next)
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()

	s.log.Debug().Str("state", string(next)).Str("prev", string(prev)).Msg("state changed")
	s.dispatcher.emitStateChanged(next, prev)
}

// ============================================================================
// Connection
// ============================================================================

// connect discards the current link and dials a new one.
func (s *Session) connect() {
	s.teardownLink()
	s.gen++
	ctx, cancel := context.WithCancel(s.ctx)
	l := &link{gen: s.gen, ctx: ctx, cancel: cancel}
	s.link = l
	s.setState(StateConnecting)

	go func() {
		// The connection may stay bound to the dial context, so the timeout
		// cancels the whole link instead of a derived context.
		expired := time.AfterFunc(s.cfg.DialTimeout, cancel)
		conn, err := s.dialer.Dial(l.ctx, s.cfg.Endpoint)
		if !expired.Stop() && err == nil {
			conn.CloseNow()
			conn, err = nil, fmt.Errorf("dial timeout after %v", s.cfg.DialTimeout)
		}
		if !s.post(dialResult{gen: l.gen, conn: conn, err: err}) && conn != nil {
			conn.CloseNow()
		}
	}()
}

func (s *Session) handleDial(r dialResult) {
	l := s.link
	if l == nil || l.gen != r.gen {
		if r.conn != nil {
			r.conn.CloseNow()
		}
		return
	}
	if r.err != nil {
		s.log.Warn().Err(r.err).Msg("dial failed")
		s.dispatcher.emitError(&TransportError{Op: "dial", Err: r.err})
		s.disconnect(StatusAbnormalClosure, r.err.Error())
		return
	}

	l.conn = r.conn
	l.open = true
	l.out = make(chan []byte, inboxSize)
	go s.writeLoop(l.ctx, r.conn, l.out)
	go s.readLoop(l.ctx, l.gen, r.conn)

	s.log.Info().Str("endpoint", s.cfg.Endpoint).Msg("connected")
	s.transition(StateAuthenticating, func() {
		// Guards the handshake; re-armed on subscription and every keep-alive.
		s.heartbeat.arm()
		s.send(EncodeHello(s.clientID, s.cfg.Authorization))
	})
}

func (s *Session) readLoop(ctx context.Context, gen uint64, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			s.post(connLost{gen: gen, err: err})
			return
		}
		if !s.post(frameEvent{gen: gen, data: data}) {
			return
		}
	}
}

func (s *Session) writeLoop(ctx context.Context, conn Conn, out <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-out:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
			err := conn.Write(wctx, data)
			cancel()
			if err != nil {
				s.log.Debug().Err(err).Msg("write dropped")
			}
		}
	}
}

// send queues a frame on the open link. Frames are dropped silently when the
// transport is not open; a dead connection is caught by heartbeat or close.
func (s *Session) send(frame []byte, err error) {
	if err != nil {
		s.log.Error().Err(err).Msg("encode frame")
		return
	}
	l := s.link
	if l == nil || !l.open {
		s.log.Debug().Err(ErrNotConnected).RawJSON("frame", frame).Msg("frame dropped")
		return
	}
	select {
	case l.out <- frame:
		s.log.Debug().RawJSON("frame", frame).Msg("frame sent")
	default:
		s.log.Debug().RawJSON("frame", frame).Msg("outbound queue full, frame dropped")
	}
}

// teardownLink releases the current link without any close handshake.
func (s *Session) teardownLink() {
	l := s.link
	if l == nil {
		return
	}
	s.link = nil
	l.open = false
	if l.out != nil {
		close(l.out)
	}
	if l.conn != nil {
		l.conn.CloseNow()
	}
	l.cancel()
}

// ============================================================================
// Frames
// ============================================================================

func (s *Session) handleFrame(f frameEvent) {
	if s.link == nil || s.link.gen != f.gen || !s.link.open {
		return
	}

	ev, err := Decode(f.data)
	if err != nil {
		if !s.shuttingDown {
			s.log.Warn().Err(err).Msg("decode frame")
			s.dispatcher.emitError(err)
		}
		return
	}
	s.log.Debug().Str("kind", ev.Kind.String()).Str("state", string(s.State())).Msg("frame received")

	act := route(s.State(), ev.Kind)
	if s.shuttingDown {
		if act == actionUnsubscribed {
			s.unsubscribed()
		}
		return
	}

	switch act {
	case actionProtocolError:
		s.log.Warn().Err(ev.Err).Msg("protocol error")
		s.dispatcher.emitError(ev.Err)
		s.setState(StateError)
	case actionKeepAlive:
		s.heartbeat.arm()
		s.send(EncodeKeepAlive(s.clientID))
	case actionRevoke:
		reason := revokeReason(ev)
		s.log.Info().Str("reason", reason).Msg("subscription revoked")
		s.dispatcher.emitRevoke(reason)
	case actionAuthenticated:
		s.setState(StateAuthenticated)
		s.transition(StateSubscribing, func() {
			s.send(EncodeSubscribe(s.clientID, s.target))
		})
	case actionSubscribed:
		s.mu.Lock()
		s.stats.Subscriptions++
		s.stats.Reconnects = s.stats.Subscriptions - 1
		s.mu.Unlock()
		s.log.Info().Str("path", s.target.Path()).Msg("subscribed")
		s.transition(StateSubscribed, s.recon.reset, s.heartbeat.arm)
	case actionDeliver:
		s.mu.Lock()
		s.stats.Messages++
		s.mu.Unlock()
		s.dispatcher.emitData(Publication{Path: ev.Path, Message: ev.Message})
	default:
		s.mu.Lock()
		s.stats.IgnoredFrames++
		s.mu.Unlock()
		s.log.Debug().Str("type", ev.Type).Str("state", string(s.State())).Msg("frame ignored")
	}
}

// ============================================================================
// Disconnect and reconnect
// ============================================================================

func (s *Session) handleConnLost(e connLost) {
	if s.link == nil || s.link.gen != e.gen {
		return
	}
	code, reason := CloseInfo(e.err)

	if s.shuttingDown {
		s.log.Debug().Int("code", code).Str("reason", reason).Msg("transport closed")
		s.closeTimer.stop()
		if s.State() != StateClientInitiatedClose {
			s.setState(StateClientInitiatedClose)
		}
		s.finalize()
		return
	}

	if code == -1 {
		code = StatusAbnormalClosure
		reason = e.err.Error()
		if !errors.Is(e.err, context.Canceled) {
			s.log.Warn().Err(e.err).Msg("transport error")
			s.dispatcher.emitError(&TransportError{Op: "read", Err: e.err})
		}
	}
	s.disconnect(code, reason)
}

// disconnect drops the connection, clears every pending timer and waits the
// close grace before recovering.
func (s *Session) disconnect(code int, reason string) {
	s.teardownLink()
	s.heartbeat.stop()
	s.countdown.stop()
	s.graceTimer.stop()

	s.graceTimer.arm(s.clock, s.cfg.CloseGrace, s.timerFunc(timerCloseGrace))
	s.log.Info().Int("code", code).Str("reason", reason).Msg("disconnected")
	s.dispatcher.emitDisconnected(code, reason)
}

func (s *Session) recover() {
	if s.cfg.DisableAutoReconnect {
		s.finalize()
		return
	}
	if !s.recon.shouldReconnect() {
		s.log.Error().Int("attempts", s.recon.attempt).Msg("giving up reconnecting")
		s.dispatcher.emitError(ErrReconnectExhausted)
		s.finalize()
		return
	}

	wait := s.recon.nextDelay()
	var ticks int
	s.log.Info().Dur("wait", wait).Int("attempt", s.recon.attempt).Msg("reconnect scheduled")
	s.transition(StateWaitingForReconnect, func() { ticks = s.countdown.start(wait) })
	s.dispatcher.emitReconnect(ticks)
}

func (s *Session) handleTimer(e timerEvent) {
	switch e.kind {
	case timerHeartbeat:
		if !s.heartbeat.expired(e.seq) || s.link == nil || !s.link.open || s.shuttingDown {
			return
		}
		s.log.Warn().Dur("timeout", s.cfg.HeartbeatTimeout).Msg("heartbeat timeout")
		s.dispatcher.emitError(ErrHeartbeatTimeout)
		s.disconnect(StatusAbnormalClosure, "heartbeat timeout")

	case timerReconnectTick:
		remaining, expired, ok := s.countdown.advance(e.seq)
		if !ok {
			return
		}
		if expired {
			s.connect()
			return
		}
		s.dispatcher.emitReconnect(remaining)

	case timerCloseGrace:
		if s.graceTimer.current(e.seq) {
			s.recover()
		}

	case timerUnsubscribe:
		if s.closeTimer.current(e.seq) {
			s.log.Warn().Err(ErrUnsubscribeTimeout).Msg("closing without acknowledgment")
			s.closeTransport()
		}

	case timerShutdownGrace:
		if s.closeTimer.current(e.seq) {
			s.closeTransport()
		}

	case timerCloseWait:
		if s.closeTimer.current(e.seq) {
			s.log.Warn().Msg("transport did not confirm close")
			s.finalize()
		}
	}
}

// ============================================================================
// Shutdown
// ============================================================================

func (s *Session) stopTimers() {
	s.heartbeat.stop()
	s.countdown.stop()
	s.graceTimer.stop()
	s.closeTimer.stop()
}

// beginShutdown runs the caller-initiated close sequence.
func (s *Session) beginShutdown() {
	s.shuttingDown = true
	s.dispatcher.detach()
	s.stopTimers()

	l := s.link
	if l == nil || !l.open {
		s.setState(StateClientInitiatedClose)
		s.finalize()
		return
	}
	if s.State() == StateSubscribed {
		s.transition(StateUnsubscribing, func() {
			s.closeTimer.arm(s.clock, s.cfg.UnsubscribeTimeout, s.timerFunc(timerUnsubscribe))
			s.send(EncodeUnsubscribe(s.clientID, s.target))
		})
		return
	}
	s.closeTransport()
}

func (s *Session) unsubscribed() {
	s.transition(StateUnsubscribed, func() {
		s.closeTimer.arm(s.clock, s.cfg.ShutdownGrace, s.timerFunc(timerShutdownGrace))
	})
}

// closeTransport requests an orderly transport close; the resulting
// connection loss finalizes the session.
func (s *Session) closeTransport() {
	l := s.link
	if l == nil || l.conn == nil {
		s.setState(StateClientInitiatedClose)
		s.finalize()
		return
	}

	s.mu.Lock()
	code, reason := s.closeCode, s.closeReason
	s.mu.Unlock()

	conn := l.conn
	s.transition(StateClientInitiatedClose, func() {
		s.closeTimer.arm(s.clock, s.cfg.UnsubscribeTimeout, s.timerFunc(timerCloseWait))
		go func() {
			if err := conn.Close(code, reason); err != nil {
				s.log.Debug().Err(err).Msg("close transport")
			}
		}()
	})
}

// terminate ends the session without any handshake.
func (s *Session) terminate() {
	s.shuttingDown = true
	s.dispatcher.detach()
	s.finalize()
}

func (s *Session) finalize() {
	s.stopTimers()
	s.teardownLink()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.setState(StateClosed)
	s.finished = true
}
