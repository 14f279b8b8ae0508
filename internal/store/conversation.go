package store

import (
	"time"

	"github.com/ffusco/chatline/internal/message"
)

// Conversation is a mirrored conversation row.
type Conversation struct {
	ID                 string
	LastMessageAt      int64
	LastMessagePreview string
}

// TouchConversation records a conversation's latest message so the
// mirror can order the conversation list offline. Older messages never
// move the last-message marker backwards.
func (db *DB) TouchConversation(m message.Message) error {
	now := time.Now().UnixMilli()
	var at int64
	if !m.CreatedAt.IsZero() {
		at = m.CreatedAt.UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO conversations (id, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			last_message_preview = CASE WHEN excluded.last_message_at >= conversations.last_message_at
				THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
			updated_at = excluded.updated_at`,
		m.ConversationID, at, truncate(m.Content, 100), now)
	return err
}

// DeleteConversation removes a conversation and its mirrored messages.
func (db *DB) DeleteConversation(conversationID string) error {
	if _, err := db.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return err
	}
	_, err := db.Exec(`DELETE FROM conversations WHERE id = ?`, conversationID)
	return err
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
