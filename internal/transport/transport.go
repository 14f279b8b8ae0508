// Package transport abstracts the pub/sub channel layer the chat
// subsystem rides on. Components consume Conn and Channel and never
// see the socket.
package transport

// Events delivered on conversation and user channels.
const (
	EventNewMessage   = "new-message"
	EventTyping       = "typing"
	EventMessagesRead = "messages-read"

	// Subscription lifecycle events, delivered like any other bound
	// event so late binds still observe them.
	EventSubSucceeded = "subscription:succeeded"
	EventSubError     = "subscription:error"
)

// State is the global connection state of a Conn.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateReconnecting State = "reconnecting"
)

// Handler receives the raw data of one channel event.
type Handler func(data []byte)

// Channel is a named pub/sub topic. Bind/Unbind manage event handlers;
// Trigger publishes a client event on the channel.
type Channel interface {
	Name() string
	Bind(event string, h Handler)
	Unbind(event string)
	Trigger(event string, payload any) error
	Subscribed() bool
	Unsubscribe()
}

// Conn is a connection to the pub/sub transport. Subscribe returns the
// existing channel when one is already live for that name, so callers
// can never double-subscribe through the same Conn.
type Conn interface {
	Subscribe(name string) Channel
	State() State
	// States returns a stream of connection-state transitions and an
	// unsubscribe function. buf controls the channel buffer.
	States(buf int) (<-chan State, func())
}
