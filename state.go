package netfield

import "encoding/json"

// State is the lifecycle state of a Session.
type State string

const (
	StateInitializing         State = "initializing"
	StateConnecting           State = "connecting"
	StateWaitingForReconnect  State = "waiting-for-reconnect"
	StateAuthenticating       State = "authenticating"
	StateAuthenticated        State = "authenticated"
	StateSubscribing          State = "subscribing"
	StateSubscribed           State = "subscribed"
	StateUnsubscribing        State = "unsubscribing"
	StateUnsubscribed         State = "unsubscribed"
	StateClientInitiatedClose State = "client-initiated close"
	StateClosed               State = "closed"
	StateError                State = "error"
)

// Publication is one message delivered on the subscribed path.
type Publication struct {
	Path    string
	Message json.RawMessage
}

// Stats counts session activity across reconnects.
type Stats struct {
	Subscriptions int
	Reconnects    int
	Messages      int
	IgnoredFrames int
}

// action is what the session does with a decoded frame in a given state.
type action int

const (
	actionIgnore action = iota
	actionProtocolError
	actionKeepAlive
	actionAuthenticated
	actionSubscribed
	actionDeliver
	actionUnsubscribed
	actionRevoke
)

// route maps (state, event) to an action without touching session state.
// Keep-alives are answered in every state, acknowledgments only advance the
// step currently awaited.
func route(state State, kind EventKind) action {
	switch kind {
	case EventProtocolError:
		return actionProtocolError
	case EventKeepAlive:
		return actionKeepAlive
	case EventRevoked:
		return actionRevoke
	}
	switch {
	case state == StateAuthenticating && kind == EventHelloAck:
		return actionAuthenticated
	case state == StateSubscribing && kind == EventSubscribeAck:
		return actionSubscribed
	case state == StateSubscribed && kind == EventPublished:
		return actionDeliver
	case state == StateUnsubscribing && kind == EventUnsubscribeAck:
		return actionUnsubscribed
	}
	return actionIgnore
}
