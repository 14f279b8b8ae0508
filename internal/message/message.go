// Package message defines the canonical chat message shape and the
// normalization of the heterogeneous payloads that produce it.
package message

import "time"

// Message is the canonical message shape used everywhere past the
// normalization boundary. CreatedAt is the zero time when the server
// sent no timestamp; zero times sort before everything else.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	Read           bool      `json:"read"`
}

// Before reports whether m sorts before other in the reconciled
// sequence. Missing timestamps sort first.
func (m Message) Before(other Message) bool {
	return m.CreatedAt.Before(other.CreatedAt)
}
