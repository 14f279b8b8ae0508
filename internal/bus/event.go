package bus

import "time"

// Event kinds published by the chat subsystem. Subscribers filter by
// namespace prefix, so "message." matches every message event.
const (
	KindMessageUpserted = "message.upserted"
	KindMessageCleared  = "message.cleared"
	KindTypingChanged   = "typing.changed"
	KindUnreadUpdated   = "unread.updated"
	KindBadgeUpdated    = "unread.badge"
	KindChannelState    = "channel.state_changed"
	KindConnState       = "conn.state_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind    string
	At      time.Time
	Payload any
}
