// Package chat is the entry point for a single open conversation. It
// ties the channel subscription, the reconciled timeline, and the
// typing coordinator together behind one facade, and guarantees the
// ordering the protocol expects, like the typing-stop signal going out
// before the message it precedes.
package chat

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/ffusco/chatline/internal/bus"
	"github.com/ffusco/chatline/internal/channel"
	"github.com/ffusco/chatline/internal/message"
	"github.com/ffusco/chatline/internal/reconcile"
	"github.com/ffusco/chatline/internal/transport"
	"github.com/ffusco/chatline/internal/typing"
)

// API is the slice of the REST client an open conversation needs.
type API interface {
	reconcile.API
	SendMessage(ctx context.Context, conversationID, content, recipientUserID string) (message.Message, error)
}

// Chat is one live conversation.
type Chat struct {
	conversationID string
	userID         string
	api            API
	session        *reconcile.Session
	manager        *channel.Manager
	typing         *typing.Coordinator
	logger         *zap.Logger
}

// New wires a chat for the given conversation. mirror may be nil.
func New(conn transport.Conn, api API, mirror reconcile.Mirror, b *bus.Bus, logger *zap.Logger, conversationID, userID string) *Chat {
	c := &Chat{
		conversationID: conversationID,
		userID:         userID,
		api:            api,
		logger:         logger,
	}

	c.session = reconcile.NewSession(api, mirror, b, logger, conversationID, userID)

	c.manager = channel.NewManager(conn, b, logger, conversationID, channel.Events{
		OnMessage:      c.onMessage,
		OnTyping:       c.onTyping,
		OnMessagesRead: c.onMessagesRead,
	})

	c.typing = typing.NewCoordinator(userID, func(sig typing.Signal) error {
		return c.manager.Trigger(transport.EventTyping, sig)
	}, b, logger)

	return c
}

func (c *Chat) onMessage(data []byte) {
	c.session.HandleEvent(context.Background(), data)
}

func (c *Chat) onTyping(data []byte) {
	var sig typing.Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		c.logger.Warn("malformed typing payload", zap.Error(err))
		return
	}
	c.typing.HandleRemote(sig)
}

func (c *Chat) onMessagesRead(data []byte) {
	c.session.HandleMessagesRead(data)
}

// Open subscribes the conversation channel and loads history. The chat
// starts focused; callers switching away use SetFocused.
func (c *Chat) Open(ctx context.Context) error {
	if err := c.manager.Start(ctx); err != nil {
		return err
	}
	c.session.SetFocused(true)
	c.session.Load(ctx)
	return nil
}

// SendMessage delivers content to the conversation. The typing session
// ends and its stop signal goes out before the send request, so peers
// never see a typing indicator outlive the message. On success the sent
// message lands in the timeline immediately rather than waiting for the
// channel echo.
func (c *Chat) SendMessage(ctx context.Context, content, recipientUserID string) (message.Message, error) {
	c.typing.MessageSent()

	sent, err := c.api.SendMessage(ctx, c.conversationID, content, recipientUserID)
	if err != nil {
		return message.Message{}, err
	}
	c.session.Append(ctx, sent)
	return sent, nil
}

// InputChanged feeds composer text changes into the typing coordinator.
func (c *Chat) InputChanged(text string) {
	c.typing.InputChanged(text)
}

// SendTyping emits a raw typing signal on the conversation channel,
// bypassing the coordinator's input-driven state machine.
func (c *Chat) SendTyping(isTyping bool) error {
	return c.manager.Trigger(transport.EventTyping, typing.Signal{
		UserID:   c.userID,
		IsTyping: isTyping,
	})
}

// Clear empties the timeline without unsubscribing the channel. Live
// events repopulate it.
func (c *Chat) Clear() {
	c.session.Clear()
}

// TypingUsers returns the remote participants currently typing.
func (c *Chat) TypingUsers() []string {
	return c.typing.TypingUsers()
}

// SetFocused marks the conversation on or off screen. Focus controls
// whether inbound messages auto-mark as read.
func (c *Chat) SetFocused(focused bool) {
	c.session.SetFocused(focused)
}

// Loading reports whether the initial history fetch is in flight.
func (c *Chat) Loading() bool {
	return c.session.Loading()
}

// Messages returns the reconciled timeline.
func (c *Chat) Messages() []message.Message {
	return c.session.Messages()
}

// Items returns the timeline with date separators for rendering.
func (c *Chat) Items() []message.Item {
	return c.session.Items()
}

// State returns the channel subscription state.
func (c *Chat) State() channel.State {
	return c.manager.State()
}

// Close tears the conversation down: typing timers cancelled, channel
// unsubscribed, timeline cleared. In-flight history loads are dropped.
func (c *Chat) Close() {
	c.session.SetFocused(false)
	c.typing.Close()
	c.manager.Stop()
	c.session.Clear()
}
