package netfield

import "sync"

// ============================================================================
// Event Dispatcher
// ============================================================================

// Handlers run on the session's event loop, in emission order. They must not
// block; hand work off to another goroutine when it can take time.
type eventDispatcher struct {
	mu             sync.RWMutex
	detached       bool
	onStateChanged []func(next, prev State)
	onData         []func(Publication)
	onReconnect    []func(remaining int)
	onRevoke       []func(reason string)
	onError        []func(error)
	onDisconnected []func(code int, reason string)
}

func newEventDispatcher() *eventDispatcher {
	return &eventDispatcher{}
}

// detach drops every registration; later emits and registrations are no-ops.
func (d *eventDispatcher) detach() {
	d.mu.Lock()
	d.detached = true
	d.onStateChanged = nil
	d.onData = nil
	d.onReconnect = nil
	d.onRevoke = nil
	d.onError = nil
	d.onDisconnected = nil
	d.mu.Unlock()
}

func (d *eventDispatcher) emitStateChanged(next, prev State) {
	d.mu.RLock()
	handlers := append([]func(State, State){}, d.onStateChanged...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(next, prev)
	}
}

func (d *eventDispatcher) emitData(p Publication) {
	d.mu.RLock()
	handlers := append([]func(Publication){}, d.onData...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(p)
	}
}

func (d *eventDispatcher) emitReconnect(remaining int) {
	d.mu.RLock()
	handlers := append([]func(int){}, d.onReconnect...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(remaining)
	}
}

func (d *eventDispatcher) emitRevoke(reason string) {
	d.mu.RLock()
	handlers := append([]func(string){}, d.onRevoke...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(reason)
	}
}

func (d *eventDispatcher) emitError(err error) {
	d.mu.RLock()
	handlers := append([]func(error){}, d.onError...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(err)
	}
}

func (d *eventDispatcher) emitDisconnected(code int, reason string) {
	d.mu.RLock()
	handlers := append([]func(int, string){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(code, reason)
	}
}

// ============================================================================
// Registration
// ============================================================================

// OnStateChanged registers a handler for every state transition.
func (s *Session) OnStateChanged(h func(next, prev State)) {
	s.dispatcher.mu.Lock()
	if !s.dispatcher.detached {
		s.dispatcher.onStateChanged = append(s.dispatcher.onStateChanged, h)
	}
	s.dispatcher.mu.Unlock()
}

// OnData registers a handler for delivered publications.
func (s *Session) OnData(h func(Publication)) {
	s.dispatcher.mu.Lock()
	if !s.dispatcher.detached {
		s.dispatcher.onData = append(s.dispatcher.onData, h)
	}
	s.dispatcher.mu.Unlock()
}

// OnReconnect registers a handler for reconnect countdown progress.
func (s *Session) OnReconnect(h func(remainingSeconds int)) {
	s.dispatcher.mu.Lock()
	if !s.dispatcher.detached {
		s.dispatcher.onReconnect = append(s.dispatcher.onReconnect, h)
	}
	s.dispatcher.mu.Unlock()
}

// OnRevoke registers a handler for server-side subscription revocation.
func (s *Session) OnRevoke(h func(reason string)) {
	s.dispatcher.mu.Lock()
	if !s.dispatcher.detached {
		s.dispatcher.onRevoke = append(s.dispatcher.onRevoke, h)
	}
	s.dispatcher.mu.Unlock()
}

// OnError registers a handler for transport, protocol and decode errors.
func (s *Session) OnError(h func(error)) {
	s.dispatcher.mu.Lock()
	if !s.dispatcher.detached {
		s.dispatcher.onError = append(s.dispatcher.onError, h)
	}
	s.dispatcher.mu.Unlock()
}

// OnDisconnected registers a handler called when a connection is lost.
func (s *Session) OnDisconnected(h func(code int, reason string)) {
	s.dispatcher.mu.Lock()
	if !s.dispatcher.detached {
		s.dispatcher.onDisconnected = append(s.dispatcher.onDisconnected, h)
	}
	s.dispatcher.mu.Unlock()
}
