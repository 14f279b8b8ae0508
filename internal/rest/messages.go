package rest

import (
	"context"
	"fmt"
	"net/url"

	"github.com/ffusco/chatline/internal/message"
)

// ListMessages fetches the full message history of a conversation,
// normalized to the canonical shape.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]message.Message, error) {
	var payloads []message.RestMessagePayload
	path := fmt.Sprintf("/conversations/%s/messages", url.PathEscape(conversationID))
	if err := c.do(ctx, "GET", path, nil, &payloads); err != nil {
		return nil, err
	}
	msgs := make([]message.Message, 0, len(payloads))
	for _, p := range payloads {
		msgs = append(msgs, p.Normalize(conversationID))
	}
	return msgs, nil
}

// SendMessage posts a new message and returns the server's canonical
// copy. Unlike the read paths, send errors propagate so the caller can
// surface send failure to the user.
func (c *Client) SendMessage(ctx context.Context, conversationID, content, recipientUserID string) (message.Message, error) {
	body := map[string]string{
		"conversationId": conversationID,
		"message":        content,
	}
	if recipientUserID != "" {
		body["recipientUserId"] = recipientUserID
	}
	var payload message.RestMessagePayload
	if err := c.do(ctx, "POST", "/messages", body, &payload); err != nil {
		return message.Message{}, fmt.Errorf("send message: %w", err)
	}
	return payload.Normalize(conversationID), nil
}

// ConversationUnread is one conversation's slice of the unread counts.
type ConversationUnread struct {
	ConversationID    message.FlexID              `json:"conversationId"`
	UnreadCount       int                         `json:"unreadCount"`
	LastUnreadMessage *message.RestMessagePayload `json:"lastUnreadMessage,omitempty"`
}

// UnreadCounts is the unread summary for the authenticated user.
type UnreadCounts struct {
	Total          int                  `json:"total"`
	ByConversation []ConversationUnread `json:"byConversation"`
}

// UnreadByConversation indexes the per-conversation counts by id.
func (u UnreadCounts) UnreadByConversation() map[string]int {
	out := make(map[string]int, len(u.ByConversation))
	for _, b := range u.ByConversation {
		out[string(b.ConversationID)] = b.UnreadCount
	}
	return out
}

// FetchUnreadCounts retrieves total and per-conversation unread counts.
func (c *Client) FetchUnreadCounts(ctx context.Context) (UnreadCounts, error) {
	var resp struct {
		Data UnreadCounts `json:"data"`
	}
	if err := c.do(ctx, "GET", "/messages/unread", nil, &resp); err != nil {
		return UnreadCounts{}, err
	}
	return resp.Data, nil
}

// UnreadForConversation retrieves one conversation's unread count.
func (c *Client) UnreadForConversation(ctx context.Context, conversationID string) (int, error) {
	var resp struct {
		Data struct {
			UnreadCount int `json:"unreadCount"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/messages/unread/%s", url.PathEscape(conversationID))
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Data.UnreadCount, nil
}

// MarkMessageRead marks a single message as read server-side. The
// operation is idempotent; marking twice is safe.
func (c *Client) MarkMessageRead(ctx context.Context, messageID string) error {
	path := fmt.Sprintf("/messages/%s/read", url.PathEscape(messageID))
	return c.do(ctx, "PATCH", path, nil, nil)
}
