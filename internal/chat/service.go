package chat

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ffusco/chatline/internal/bus"
	"github.com/ffusco/chatline/internal/reconcile"
	"github.com/ffusco/chatline/internal/transport"
)

// Service hands out at most one live Chat per conversation. Opening an
// already open conversation returns the existing instance instead of
// stacking a second subscription on the same channel.
type Service struct {
	conn   transport.Conn
	api    API
	mirror reconcile.Mirror
	bus    *bus.Bus
	logger *zap.Logger
	userID string

	mu    sync.Mutex
	chats map[string]*Chat
}

// NewService builds the chat registry. mirror may be nil.
func NewService(conn transport.Conn, api API, mirror reconcile.Mirror, b *bus.Bus, logger *zap.Logger, userID string) *Service {
	return &Service{
		conn:   conn,
		api:    api,
		mirror: mirror,
		bus:    b,
		logger: logger,
		userID: userID,
		chats:  make(map[string]*Chat),
	}
}

// Open returns the live chat for the conversation, creating and opening
// one if needed.
func (s *Service) Open(ctx context.Context, conversationID string) (*Chat, error) {
	s.mu.Lock()
	if c, ok := s.chats[conversationID]; ok {
		s.mu.Unlock()
		return c, nil
	}
	c := New(s.conn, s.api, s.mirror, s.bus, s.logger, conversationID, s.userID)
	s.chats[conversationID] = c
	s.mu.Unlock()

	if err := c.Open(ctx); err != nil {
		s.mu.Lock()
		delete(s.chats, conversationID)
		s.mu.Unlock()
		return nil, err
	}
	return c, nil
}

// Close tears down the chat for the conversation if one is live.
func (s *Service) Close(conversationID string) {
	s.mu.Lock()
	c, ok := s.chats[conversationID]
	delete(s.chats, conversationID)
	s.mu.Unlock()
	if ok {
		c.Close()
	}
}

// CloseAll tears down every live chat.
func (s *Service) CloseAll() {
	s.mu.Lock()
	chats := s.chats
	s.chats = make(map[string]*Chat)
	s.mu.Unlock()
	for _, c := range chats {
		c.Close()
	}
}
