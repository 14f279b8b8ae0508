// Package channel owns the per-conversation pub/sub subscription: one
// live subscription per conversation, handlers for message and typing
// events, and transparent resubscription when the transport regains
// connectivity.
package channel

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ffusco/chatline/internal/bus"
	"github.com/ffusco/chatline/internal/transport"
)

// ConversationChannel derives the channel name for a conversation.
func ConversationChannel(conversationID string) string {
	return "conversation:" + conversationID
}

// UserChannel derives the per-user global channel name.
func UserChannel(userID string) string {
	return "user:" + userID
}

// Events are the handlers a Manager drives. Nil handlers are skipped.
type Events struct {
	OnMessage      func(data []byte)
	OnTyping       func(data []byte)
	OnMessagesRead func(data []byte)
}

// Manager owns the subscription for one conversation. It is the only
// component that binds handlers to the underlying channel.
type Manager struct {
	conn           transport.Conn
	logger         *zap.Logger
	conversationID string
	machine        *Machine
	events         Events

	mu     sync.Mutex
	ch     transport.Channel
	cancel context.CancelFunc
}

// NewManager creates a manager for the given conversation. The
// conversation id must be non-empty to activate.
func NewManager(conn transport.Conn, b *bus.Bus, logger *zap.Logger, conversationID string, events Events) *Manager {
	return &Manager{
		conn:           conn,
		logger:         logger,
		conversationID: conversationID,
		machine:        NewMachine(ConversationChannel(conversationID), b),
		events:         events,
	}
}

// State returns the current subscription lifecycle state.
func (m *Manager) State() State {
	return m.machine.Current()
}

// Start subscribes the conversation channel and begins watching the
// transport connection state, resubscribing on every transition into
// connected. Subscription errors are non-fatal: the caller keeps its
// REST-derived view and realtime degrades.
func (m *Manager) Start(ctx context.Context) error {
	if m.conversationID == "" {
		return fmt.Errorf("conversation id required")
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.subscribe()

	states, unsub := m.conn.States(16)
	go func() {
		defer unsub()
		for {
			select {
			case s := <-states:
				if s == transport.StateConnected {
					m.subscribe()
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// subscribe is idempotent: a live subscribed channel is reused, never
// duplicated, since a duplicate would double-deliver every event.
func (m *Manager) subscribe() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ch != nil && m.ch.Subscribed() && m.machine.Current() == Subscribed {
		return
	}
	if err := m.machine.Transition(Subscribing); err != nil {
		m.logger.Warn("subscribe skipped", zap.Error(err))
		return
	}

	name := ConversationChannel(m.conversationID)
	ch := m.conn.Subscribe(name)
	m.ch = ch

	ch.Bind(transport.EventSubSucceeded, func([]byte) {
		if err := m.machine.Transition(Subscribed); err == nil {
			m.logger.Info("channel subscribed", zap.String("channel", name))
		}
	})
	ch.Bind(transport.EventSubError, func(data []byte) {
		_ = m.machine.Transition(Failed)
		m.logger.Warn("channel subscription failed",
			zap.String("channel", name),
			zap.ByteString("detail", data))
	})
	if m.events.OnMessage != nil {
		ch.Bind(transport.EventNewMessage, m.events.OnMessage)
	}
	if m.events.OnTyping != nil {
		ch.Bind(transport.EventTyping, m.events.OnTyping)
	}
	if m.events.OnMessagesRead != nil {
		ch.Bind(transport.EventMessagesRead, m.events.OnMessagesRead)
	}
}

// Trigger publishes a client event on the conversation channel.
func (m *Manager) Trigger(event string, payload any) error {
	m.mu.Lock()
	ch := m.ch
	m.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("channel not subscribed")
	}
	return ch.Trigger(event, payload)
}

// Stop unbinds all handlers and unsubscribes the channel. Safe to call
// more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.ch != nil {
		for _, evt := range []string{
			transport.EventSubSucceeded,
			transport.EventSubError,
			transport.EventNewMessage,
			transport.EventTyping,
			transport.EventMessagesRead,
		} {
			m.ch.Unbind(evt)
		}
		m.ch.Unsubscribe()
		m.ch = nil
	}
	_ = m.machine.Transition(Unsubscribed)
}
