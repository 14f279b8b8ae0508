package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ffusco/chatline/internal/message"
)

// Member is one participant of a conversation.
type Member struct {
	UserID    message.FlexID `json:"userId"`
	FirstName string         `json:"firstName,omitempty"`
	LastName  string         `json:"lastName,omitempty"`
	Name      string         `json:"name,omitempty"`
	Avatar    string         `json:"avatar,omitempty"`
	LastSeen  string         `json:"lastSeen,omitempty"`
}

// Conversation is a chat room as listed by the backend.
type Conversation struct {
	ID          message.FlexID              `json:"_id"`
	CreatedAt   string                      `json:"createdAt"`
	Members     []Member                    `json:"members"`
	LastMessage *message.RestMessagePayload `json:"lastMessage,omitempty"`
}

// ListConversations fetches the conversations listing for the
// authenticated user.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var convs []Conversation
	if err := c.do(ctx, "GET", "/conversations", nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// CreateConversation creates a conversation with the given members. A
// 409 response embedding the already-existing conversation is treated
// as success; this mirrors a server contract where re-creating a 1:1
// room returns the existing one.
func (c *Client) CreateConversation(ctx context.Context, members []string) (Conversation, error) {
	var conv Conversation
	err := c.do(ctx, "POST", "/conversations", map[string][]string{"members": members}, &conv)
	if err == nil {
		return conv, nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
		if existing, ok := conversationFromConflict(apiErr.Body); ok {
			return existing, nil
		}
	}
	return Conversation{}, fmt.Errorf("create conversation: %w", err)
}

// conversationFromConflict digs the existing conversation out of a 409
// body. The server nests it under "conversation" or "data".
func conversationFromConflict(body []byte) (Conversation, bool) {
	var wrapped struct {
		Conversation *Conversation `json:"conversation"`
		Data         *Conversation `json:"data"`
	}
	if json.Unmarshal(body, &wrapped) == nil {
		if wrapped.Conversation != nil && wrapped.Conversation.ID != "" {
			return *wrapped.Conversation, true
		}
		if wrapped.Data != nil && wrapped.Data.ID != "" {
			return *wrapped.Data, true
		}
	}
	var plain Conversation
	if json.Unmarshal(body, &plain) == nil && plain.ID != "" {
		return plain, true
	}
	return Conversation{}, false
}

// DeleteConversation removes a conversation.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	path := fmt.Sprintf("/conversations/%s", url.PathEscape(conversationID))
	return c.do(ctx, "DELETE", path, nil, nil)
}
