package store

import (
	"time"

	"github.com/ffusco/chatline/internal/message"
)

// UpsertMessage inserts or updates a mirrored message (idempotent on
// conversation_id + msg_id). The read flag only ever transitions from
// unread to read; a later unread copy of an already-read message can
// never flip it back.
func (db *DB) UpsertMessage(m message.Message) error {
	now := time.Now().UnixMilli()
	var createdAt int64
	if !m.CreatedAt.IsZero() {
		createdAt = m.CreatedAt.UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, sender_id, content, created_at, read, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			sender_id = excluded.sender_id,
			content = excluded.content,
			read = MAX(messages.read, excluded.read)`,
		m.ConversationID, m.ID, m.SenderID, m.Content, createdAt, boolToInt(m.Read), now)
	return err
}

// ListMessages returns a conversation's mirrored messages sorted
// ascending by created_at, messages without a timestamp first.
func (db *DB) ListMessages(conversationID string) ([]message.Message, error) {
	rows, err := db.Query(`
		SELECT conversation_id, msg_id, sender_id, content, created_at, read
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, inserted_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []message.Message
	for rows.Next() {
		var m message.Message
		var createdAt int64
		var read int
		if err := rows.Scan(&m.ConversationID, &m.ID, &m.SenderID, &m.Content, &createdAt, &read); err != nil {
			return nil, err
		}
		if createdAt > 0 {
			m.CreatedAt = time.UnixMilli(createdAt).UTC()
		}
		m.Read = read != 0
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkRead flips one mirrored message to read.
func (db *DB) MarkRead(conversationID, msgID string) error {
	_, err := db.Exec(`UPDATE messages SET read = 1 WHERE conversation_id = ? AND msg_id = ?`,
		conversationID, msgID)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
