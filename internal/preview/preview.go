// Package preview assembles the conversation list: one entry per
// conversation with its participants, last message, and unread count
// joined from the counts endpoint.
package preview

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ffusco/chatline/internal/message"
	"github.com/ffusco/chatline/internal/rest"
	"github.com/ffusco/chatline/internal/unread"
)

// Preview is one row of the conversation list.
type Preview struct {
	ConversationID string
	Participants   []rest.Member
	LastMessage    *message.Message
	UnreadCount    int
}

// Lister is the slice of the REST client the builder needs.
type Lister interface {
	ListConversations(ctx context.Context) ([]rest.Conversation, error)
}

// Builder joins conversations with unread counts.
type Builder struct {
	api     Lister
	counter *unread.Counter
	logger  *zap.Logger
}

func NewBuilder(api Lister, counter *unread.Counter, logger *zap.Logger) *Builder {
	return &Builder{api: api, counter: counter, logger: logger}
}

// Build fetches the conversation list and decorates each entry with its
// unread count. A failed counts fetch degrades to zero badges rather
// than failing the whole list. Entries with the most recent activity
// come first.
func (b *Builder) Build(ctx context.Context) ([]Preview, error) {
	convos, err := b.api.ListConversations(ctx)
	if err != nil {
		return nil, err
	}

	byConversation := map[string]int{}
	if counts, err := b.counter.FetchUnreadCount(ctx); err != nil {
		b.logger.Warn("unread counts unavailable for preview list", zap.Error(err))
	} else {
		byConversation = counts.UnreadByConversation()
	}

	previews := make([]Preview, 0, len(convos))
	for _, c := range convos {
		id := string(c.ID)
		p := Preview{
			ConversationID: id,
			Participants:   c.Members,
			UnreadCount:    byConversation[id],
		}
		if c.LastMessage != nil {
			m := c.LastMessage.Normalize(id)
			p.LastMessage = &m
		}
		previews = append(previews, p)
	}

	sort.SliceStable(previews, func(i, j int) bool {
		return previewTime(previews[i]).After(previewTime(previews[j]))
	})
	return previews, nil
}

func previewTime(p Preview) time.Time {
	if p.LastMessage != nil {
		return p.LastMessage.CreatedAt
	}
	return time.Time{}
}
