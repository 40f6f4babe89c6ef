package netfield

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is returned by Config.Validate and NewSession.
	ErrInvalidConfig = errors.New("netfield: invalid config")

	// ErrClosed is returned when operating on a session that has been closed.
	ErrClosed = errors.New("netfield: session closed")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("netfield: session already started")

	// ErrNotConnected is returned when a frame cannot be written because the transport is not open.
	ErrNotConnected = errors.New("netfield: transport not open")

	// ErrMalformedFrame is reported when an inbound frame cannot be decoded.
	ErrMalformedFrame = errors.New("netfield: malformed frame")

	// ErrHeartbeatTimeout is reported when no keep-alive arrived within the heartbeat timeout.
	ErrHeartbeatTimeout = errors.New("netfield: heartbeat timeout")

	// ErrUnsubscribeTimeout is reported when close gave up waiting for the unsubscribe acknowledgment.
	ErrUnsubscribeTimeout = errors.New("netfield: unsubscribe acknowledgment timeout")

	// ErrReconnectExhausted is reported when MaxReconnectAttempts is reached.
	ErrReconnectExhausted = errors.New("netfield: reconnect attempts exhausted")
)

// ProtocolError is a server-reported failure carried in a frame's payload.error.
type ProtocolError struct {
	FrameType  string
	StatusCode int
	Err        string
	Message    string
	Raw        []byte
}

func (e *ProtocolError) Error() string {
	msg := e.Err
	if e.Message != "" && e.Message != e.Err {
		msg += ": " + e.Message
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("netfield: protocol error on %q frame (%d): %s", e.FrameType, e.StatusCode, msg)
	}
	return fmt.Sprintf("netfield: protocol error on %q frame: %s", e.FrameType, msg)
}

// TransportError wraps a socket-level failure of one connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("netfield: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
