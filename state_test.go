package netfield

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoute(t *testing.T) {
	tests := []struct {
		state State
		kind  EventKind
		want  action
	}{
		{StateAuthenticating, EventHelloAck, actionAuthenticated},
		{StateSubscribing, EventSubscribeAck, actionSubscribed},
		{StateSubscribed, EventPublished, actionDeliver},
		{StateUnsubscribing, EventUnsubscribeAck, actionUnsubscribed},

		// Acknowledgments only advance the awaited step.
		{StateSubscribed, EventHelloAck, actionIgnore},
		{StateSubscribed, EventSubscribeAck, actionIgnore},
		{StateAuthenticating, EventSubscribeAck, actionIgnore},
		{StateSubscribing, EventHelloAck, actionIgnore},
		{StateSubscribed, EventUnsubscribeAck, actionIgnore},

		// Publications outside the subscribed state are dropped.
		{StateAuthenticating, EventPublished, actionIgnore},
		{StateSubscribing, EventPublished, actionIgnore},
		{StateUnsubscribing, EventPublished, actionIgnore},

		{StateSubscribed, EventUnrecognized, actionIgnore},
	}
	for _, tt := range tests {
		t.Run(string(tt.state)+"/"+tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, route(tt.state, tt.kind))
		})
	}
}

func TestRouteAnyState(t *testing.T) {
	states := []State{
		StateConnecting, StateAuthenticating, StateAuthenticated, StateSubscribing,
		StateSubscribed, StateUnsubscribing, StateUnsubscribed, StateError,
	}
	for _, s := range states {
		assert.Equal(t, actionProtocolError, route(s, EventProtocolError), s)
		assert.Equal(t, actionKeepAlive, route(s, EventKeepAlive), s)
		assert.Equal(t, actionRevoke, route(s, EventRevoked), s)
	}
}
