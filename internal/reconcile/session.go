// Package reconcile merges the message history fetched over REST with
// the live events arriving on the conversation channel into one
// deduplicated, chronologically ordered timeline.
package reconcile

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ffusco/chatline/internal/bus"
	"github.com/ffusco/chatline/internal/message"
)

// API is the slice of the REST client the session needs.
type API interface {
	ListMessages(ctx context.Context, conversationID string) ([]message.Message, error)
	MarkMessageRead(ctx context.Context, messageID string) error
}

// Mirror is the optional local history store. When present, every
// reconciled message is written through so history survives offline.
type Mirror interface {
	UpsertMessage(m message.Message) error
	ListMessages(conversationID string) ([]message.Message, error)
	MarkRead(conversationID, msgID string) error
	TouchConversation(m message.Message) error
}

// Session reconciles one conversation's timeline. All mutation goes
// through the session lock; reads return copies.
type Session struct {
	conversationID string
	userID         string
	api            API
	mirror         Mirror
	bus            *bus.Bus
	logger         *zap.Logger

	mu      sync.Mutex
	msgs    []message.Message
	index   map[string]int
	loading bool
	epoch   int
	focused bool
	marked  map[string]struct{}
}

// NewSession builds a session for the given conversation. mirror may be
// nil.
func NewSession(api API, mirror Mirror, b *bus.Bus, logger *zap.Logger, conversationID, userID string) *Session {
	return &Session{
		conversationID: conversationID,
		userID:         userID,
		api:            api,
		mirror:         mirror,
		bus:            b,
		logger:         logger,
		index:          make(map[string]int),
		marked:         make(map[string]struct{}),
	}
}

// Loading reports whether an initial history fetch is in flight.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Load fetches the conversation history and merges it under any events
// that arrived while the fetch was in flight. If the REST call fails
// the local mirror serves as fallback; if that fails too the timeline
// starts empty and fills from live events. A Clear or a newer Load
// issued mid-flight causes the stale result to be dropped.
func (s *Session) Load(ctx context.Context) {
	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	s.loading = true
	s.mu.Unlock()

	history, err := s.api.ListMessages(ctx, s.conversationID)
	if err != nil {
		s.logger.Warn("history fetch failed",
			zap.String("conversation_id", s.conversationID),
			zap.Error(err))
		history = s.mirrorHistory()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		// A newer load or a clear superseded this fetch.
		return
	}
	s.loading = false
	for _, m := range history {
		s.insertLocked(m)
	}
	s.sortLocked()
	s.bus.Emit(bus.KindMessageUpserted, s.snapshotLocked())
}

func (s *Session) mirrorHistory() []message.Message {
	if s.mirror == nil {
		return nil
	}
	history, err := s.mirror.ListMessages(s.conversationID)
	if err != nil {
		s.logger.Warn("mirror fallback failed",
			zap.String("conversation_id", s.conversationID),
			zap.Error(err))
		return nil
	}
	return history
}

// HandleEvent processes a new-message payload from the conversation
// channel.
func (s *Session) HandleEvent(ctx context.Context, data []byte) {
	m := message.DecodeStreamEvent(data, s.conversationID)
	s.upsert(ctx, m)
}

// Append inserts a message the local user just sent, so it shows up
// before the channel echoes it back. The echo deduplicates against it
// by ID.
func (s *Session) Append(ctx context.Context, m message.Message) {
	s.upsert(ctx, m)
}

func (s *Session) upsert(ctx context.Context, m message.Message) {
	s.mu.Lock()
	inserted := s.insertLocked(m)
	if inserted {
		s.sortLocked()
	}
	focused := s.focused
	_, alreadyMarked := s.marked[m.ID]
	if focused && !alreadyMarked {
		s.marked[m.ID] = struct{}{}
	}
	s.mu.Unlock()

	if !inserted {
		return
	}

	s.writeThrough(m)

	// A foreign message arriving while the conversation is on screen
	// is read the moment it lands.
	if focused && !alreadyMarked && m.SenderID != "" && m.SenderID != s.userID && !m.Read && m.ID != "" {
		go func(id string) {
			if err := s.api.MarkMessageRead(ctx, id); err != nil {
				s.logger.Warn("auto mark-read failed",
					zap.String("message_id", id),
					zap.Error(err))
			}
		}(m.ID)
	}

	s.bus.Emit(bus.KindMessageUpserted, m)
}

func (s *Session) writeThrough(m message.Message) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.UpsertMessage(m); err != nil {
		s.logger.Warn("mirror upsert failed", zap.String("message_id", m.ID), zap.Error(err))
		return
	}
	if err := s.mirror.TouchConversation(m); err != nil {
		s.logger.Warn("mirror touch failed", zap.String("conversation_id", m.ConversationID), zap.Error(err))
	}
}

type readReceipt struct {
	ConversationID message.FlexID   `json:"conversationId"`
	MessageIDs     []message.FlexID `json:"messageIds"`
}

// HandleMessagesRead processes a messages-read payload: each listed
// message flips to read. The flag never goes back to unread.
func (s *Session) HandleMessagesRead(data []byte) {
	var receipt readReceipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		s.logger.Warn("malformed messages-read payload", zap.Error(err))
		return
	}

	s.mu.Lock()
	var flipped []string
	for _, fid := range receipt.MessageIDs {
		id := string(fid)
		i, ok := s.index[id]
		if !ok || s.msgs[i].Read {
			continue
		}
		s.msgs[i].Read = true
		flipped = append(flipped, id)
	}
	s.mu.Unlock()

	if len(flipped) == 0 {
		return
	}
	if s.mirror != nil {
		for _, id := range flipped {
			if err := s.mirror.MarkRead(s.conversationID, id); err != nil {
				s.logger.Warn("mirror mark-read failed", zap.String("message_id", id), zap.Error(err))
			}
		}
	}
	s.bus.Emit(bus.KindMessageUpserted, s.Messages())
}

// SetFocused records whether the conversation is currently on screen.
// Only a focused session auto-marks inbound messages as read.
func (s *Session) SetFocused(focused bool) {
	s.mu.Lock()
	s.focused = focused
	s.mu.Unlock()
}

// Messages returns a copy of the reconciled timeline in display order.
func (s *Session) Messages() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Items returns the timeline with date separators interleaved, ready
// for rendering.
func (s *Session) Items() []message.Item {
	return message.WithDateSeparators(s.Messages())
}

// Clear empties the timeline and invalidates any in-flight load.
func (s *Session) Clear() {
	s.mu.Lock()
	s.epoch++
	s.loading = false
	s.msgs = nil
	s.index = make(map[string]int)
	s.marked = make(map[string]struct{})
	s.mu.Unlock()
	s.bus.Emit(bus.KindMessageCleared, s.conversationID)
}

// insertLocked adds m if no message with the same ID exists. An
// existing entry only ever gains the read flag from a duplicate.
// Caller holds s.mu. Reports whether m was newly inserted.
func (s *Session) insertLocked(m message.Message) bool {
	if m.ID == "" {
		s.msgs = append(s.msgs, m)
		return true
	}
	if i, ok := s.index[m.ID]; ok {
		if m.Read && !s.msgs[i].Read {
			s.msgs[i].Read = true
		}
		return false
	}
	s.index[m.ID] = len(s.msgs)
	s.msgs = append(s.msgs, m)
	return true
}

// sortLocked restores chronological order and rebuilds the ID index.
// Messages without a timestamp sort first, matching a history where
// the oldest entries predate timestamping. Caller holds s.mu.
func (s *Session) sortLocked() {
	sort.SliceStable(s.msgs, func(i, j int) bool {
		return s.msgs[i].Before(s.msgs[j])
	})
	for i, m := range s.msgs {
		if m.ID != "" {
			s.index[m.ID] = i
		}
	}
}

func (s *Session) snapshotLocked() []message.Message {
	out := make([]message.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}
