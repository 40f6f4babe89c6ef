package netfield

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ============================================================================
// Wire constants
// ============================================================================

// ProtocolVersion is the only handshake version this client speaks.
const ProtocolVersion = "2"

// Frame type tags.
const (
	FrameHello  = "hello"
	FrameSub    = "sub"
	FrameUnsub  = "unsub"
	FramePing   = "ping"
	FramePub    = "pub"
	FrameRevoke = "revoke"
)

// Target is the (device, topic) pair a session subscribes to.
type Target struct {
	DeviceID string
	Service  string
	Topic    string
}

// Path returns the subscription path: /devices/{deviceId}/{service}/{base64(topic)}.
func (t Target) Path() string {
	return fmt.Sprintf("/devices/%s/%s/%s", t.DeviceID, t.Service, base64.StdEncoding.EncodeToString([]byte(t.Topic)))
}

// ============================================================================
// Outbound frames
// ============================================================================

type helloFrame struct {
	Type    string    `json:"type"`
	ID      string    `json:"id"`
	Version string    `json:"version"`
	Auth    helloAuth `json:"auth"`
}

type helloAuth struct {
	Headers helloHeaders `json:"headers"`
}

type helloHeaders struct {
	Authorization string `json:"authorization"`
}

type pathFrame struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Path string `json:"path"`
}

type pingFrame struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// EncodeHello builds the authentication handshake frame.
func EncodeHello(clientID, authorization string) ([]byte, error) {
	return json.Marshal(helloFrame{
		Type:    FrameHello,
		ID:      clientID,
		Version: ProtocolVersion,
		Auth:    helloAuth{Headers: helloHeaders{Authorization: authorization}},
	})
}

// EncodeSubscribe builds the subscribe request for target.
func EncodeSubscribe(clientID string, target Target) ([]byte, error) {
	return json.Marshal(pathFrame{Type: FrameSub, ID: clientID, Path: target.Path()})
}

// EncodeUnsubscribe builds the unsubscribe request for target.
func EncodeUnsubscribe(clientID string, target Target) ([]byte, error) {
	return json.Marshal(pathFrame{Type: FrameUnsub, ID: clientID, Path: target.Path()})
}

// EncodeKeepAlive builds the response to a server ping.
func EncodeKeepAlive(clientID string) ([]byte, error) {
	return json.Marshal(pingFrame{Type: FramePing, ID: clientID})
}

// ============================================================================
// Inbound frames
// ============================================================================

// EventKind classifies a decoded inbound frame.
type EventKind int

const (
	EventUnrecognized EventKind = iota
	EventHelloAck
	EventSubscribeAck
	EventUnsubscribeAck
	EventPublished
	EventKeepAlive
	EventRevoked
	EventProtocolError
)

var eventKindNames = map[EventKind]string{
	EventUnrecognized:   "unrecognized",
	EventHelloAck:       "hello-ack",
	EventSubscribeAck:   "subscribe-ack",
	EventUnsubscribeAck: "unsubscribe-ack",
	EventPublished:      "published-message",
	EventKeepAlive:      "keep-alive-request",
	EventRevoked:        "revoked",
	EventProtocolError:  "protocol-error",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is a typed view of one inbound frame.
type Event struct {
	Kind    EventKind
	Type    string
	Path    string
	Message json.RawMessage
	Err     *ProtocolError
	Raw     []byte
}

type inboundFrame struct {
	Type       string          `json:"type"`
	Path       string          `json:"path,omitempty"`
	Message    json.RawMessage `json:"message,omitempty"`
	StatusCode int             `json:"statusCode,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Decode parses a raw text frame. A payload.error on any frame type takes
// precedence over the frame's own type.
func Decode(data []byte) (Event, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	ev := Event{Type: f.Type, Path: f.Path, Raw: data}
	if perr := payloadError(f, data); perr != nil {
		ev.Kind = EventProtocolError
		ev.Err = perr
		return ev, nil
	}

	switch f.Type {
	case FrameHello:
		ev.Kind = EventHelloAck
	case FrameSub:
		ev.Kind = EventSubscribeAck
	case FrameUnsub:
		ev.Kind = EventUnsubscribeAck
	case FramePing:
		ev.Kind = EventKeepAlive
	case FramePub:
		ev.Kind = EventPublished
		ev.Message = f.Message
	case FrameRevoke:
		ev.Kind = EventRevoked
		ev.Message = f.Message
	default:
		ev.Kind = EventUnrecognized
	}
	return ev, nil
}

func payloadError(f inboundFrame, raw []byte) *ProtocolError {
	if len(f.Payload) == 0 {
		return nil
	}
	var p map[string]any
	if json.Unmarshal(f.Payload, &p) != nil || !truthy(p["error"]) {
		return nil
	}
	perr := &ProtocolError{
		FrameType:  f.Type,
		StatusCode: f.StatusCode,
		Err:        fmt.Sprint(p["error"]),
		Raw:        raw,
	}
	if msg, ok := p["message"].(string); ok {
		perr.Message = msg
	}
	return perr
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	default:
		return true
	}
}

// revokeReason picks the human readable part of a revoke frame.
func revokeReason(ev Event) string {
	if len(ev.Message) > 0 {
		var s string
		if json.Unmarshal(ev.Message, &s) == nil {
			return s
		}
		return string(ev.Message)
	}
	return ev.Path
}
