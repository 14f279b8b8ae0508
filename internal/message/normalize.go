package message

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// The REST history, the channel stream and the legacy UI layer all
// deliver messages with different field names. Each known source shape
// gets its own type with a Normalize method producing the canonical
// Message; call sites never branch on ad-hoc field presence.

// FlexID accepts a JSON string or number and holds it as a string.
type FlexID string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

// SenderRef accepts a sender id either as a plain string/number or as
// an embedded object carrying "_id" or "id".
type SenderRef string

// UnmarshalJSON implements json.Unmarshaler.
func (s *SenderRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var obj struct {
			MongoID FlexID `json:"_id"`
			ID      FlexID `json:"id"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		if obj.MongoID != "" {
			*s = SenderRef(obj.MongoID)
		} else {
			*s = SenderRef(obj.ID)
		}
		return nil
	}
	var id FlexID
	if err := id.UnmarshalJSON(b); err != nil {
		return err
	}
	*s = SenderRef(id)
	return nil
}

// RestMessagePayload is a message as returned by the REST history
// endpoints. Field names vary across backend versions.
type RestMessagePayload struct {
	MongoID        FlexID    `json:"_id"`
	ID             FlexID    `json:"id"`
	MessageID      FlexID    `json:"messageId"`
	ConversationID FlexID    `json:"conversationId"`
	RoomID         FlexID    `json:"roomId"`
	Message        string    `json:"message"`
	Body           string    `json:"body"`
	Content        string    `json:"content"`
	Timestamp      string    `json:"timestamp"`
	CreatedAt      string    `json:"createdAt"`
	Sender         SenderRef `json:"senderId"`
	Status         string    `json:"status"`
	Read           *bool     `json:"read"`
	IsRead         *bool     `json:"isRead"`
}

// Normalize maps the REST payload onto the canonical Message.
// conversationID wins over whatever the payload carries so a mislabeled
// payload can never leak into another conversation's view.
func (p RestMessagePayload) Normalize(conversationID string) Message {
	conv := conversationID
	if conv == "" {
		conv = firstID(p.ConversationID, p.RoomID)
	}
	return Message{
		ID:             orPlaceholder(firstID(p.MongoID, p.ID, p.MessageID)),
		ConversationID: conv,
		SenderID:       string(p.Sender),
		Content:        firstString(p.Content, p.Message, p.Body),
		CreatedAt:      parseTimestamp(firstString(p.CreatedAt, p.Timestamp)),
		Read:           p.Status == "read" || boolOr(p.Read, false) || boolOr(p.IsRead, false),
	}
}

// StreamMessageEvent is a message as delivered on the pub/sub channel.
type StreamMessageEvent struct {
	ID             FlexID    `json:"id"`
	MongoID        FlexID    `json:"_id"`
	ConversationID FlexID    `json:"conversationId"`
	RoomID         FlexID    `json:"roomId"`
	Content        string    `json:"content"`
	Message        string    `json:"message"`
	Timestamp      string    `json:"timestamp"`
	CreatedAt      string    `json:"createdAt"`
	Sender         SenderRef `json:"senderId"`
	Read           *bool     `json:"read"`
}

// Normalize maps the stream event onto the canonical Message.
func (e StreamMessageEvent) Normalize(conversationID string) Message {
	conv := conversationID
	if conv == "" {
		conv = firstID(e.ConversationID, e.RoomID)
	}
	return Message{
		ID:             orPlaceholder(firstID(e.ID, e.MongoID)),
		ConversationID: conv,
		SenderID:       string(e.Sender),
		Content:        firstString(e.Content, e.Message),
		CreatedAt:      parseTimestamp(firstString(e.CreatedAt, e.Timestamp)),
		Read:           boolOr(e.Read, false),
	}
}

// LegacyUIShape is the older presentation-layer shape, where the sender
// arrives as an embedded user object and the body may be "text".
type LegacyUIShape struct {
	ID        FlexID `json:"id"`
	MongoID   FlexID `json:"_id"`
	RoomID    FlexID `json:"roomId"`
	Text      string `json:"text"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
	User      struct {
		ID FlexID `json:"id"`
	} `json:"user"`
	SenderID SenderRef `json:"senderId"`
}

// Normalize maps the legacy shape onto the canonical Message.
func (l LegacyUIShape) Normalize(conversationID string) Message {
	conv := conversationID
	if conv == "" {
		conv = string(l.RoomID)
	}
	sender := string(l.SenderID)
	if sender == "" {
		sender = string(l.User.ID)
	}
	return Message{
		ID:             orPlaceholder(firstID(l.ID, l.MongoID)),
		ConversationID: conv,
		SenderID:       sender,
		Content:        firstString(l.Content, l.Text),
		CreatedAt:      parseTimestamp(l.CreatedAt),
	}
}

// DecodeStreamEvent parses raw channel event data into a canonical
// Message. Malformed payloads yield a placeholder message rather than
// an error; the stream must never throw.
func DecodeStreamEvent(data []byte, conversationID string) Message {
	var evt StreamMessageEvent
	_ = json.Unmarshal(data, &evt)
	return evt.Normalize(conversationID)
}

func firstID(ids ...FlexID) string {
	for _, id := range ids {
		if id != "" {
			return string(id)
		}
	}
	return ""
}

func firstString(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func orPlaceholder(id string) string {
	if id != "" {
		return id
	}
	return "local-" + uuid.NewString()
}

// parseTimestamp accepts RFC 3339 strings or unix millisecond numbers
// encoded as strings. Anything unparseable yields the zero time, which
// sorts before every real timestamp.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}
