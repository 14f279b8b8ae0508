// Package unread maintains the per-conversation and global unread
// message counts. Counts come from the REST API and are cached briefly
// so bursts of channel events do not translate into bursts of requests;
// concurrent fetches collapse into a single upstream call.
package unread

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ffusco/chatline/internal/bus"
	"github.com/ffusco/chatline/internal/message"
	"github.com/ffusco/chatline/internal/rest"
)

// API is the slice of the REST client the counter needs.
type API interface {
	FetchUnreadCounts(ctx context.Context) (rest.UnreadCounts, error)
	ListMessages(ctx context.Context, conversationID string) ([]message.Message, error)
	MarkMessageRead(ctx context.Context, messageID string) error
}

const (
	defaultTTL      = 5 * time.Second
	defaultDebounce = 300 * time.Millisecond
)

// Counter caches unread counts with a short TTL and coalesces refresh
// requests. It is safe for concurrent use.
type Counter struct {
	api    API
	bus    *bus.Bus
	logger *zap.Logger
	userID string

	ttl      time.Duration
	debounce time.Duration
	now      func() time.Time

	group singleflight.Group

	mu        sync.Mutex
	cached    *rest.UnreadCounts
	fetchedAt time.Time
	pending   *time.Timer
	closed    bool
}

// NewCounter builds a counter for the given local user.
func NewCounter(api API, b *bus.Bus, userID string, logger *zap.Logger) *Counter {
	return &Counter{
		api:      api,
		bus:      b,
		logger:   logger,
		userID:   userID,
		ttl:      defaultTTL,
		debounce: defaultDebounce,
		now:      time.Now,
	}
}

// FetchUnreadCount returns the current unread counts, serving from
// cache when the last fetch is younger than the TTL. Concurrent callers
// on a cold cache share one upstream request.
func (c *Counter) FetchUnreadCount(ctx context.Context) (rest.UnreadCounts, error) {
	c.mu.Lock()
	if c.cached != nil && c.now().Sub(c.fetchedAt) <= c.ttl {
		counts := *c.cached
		c.mu.Unlock()
		return counts, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do("unread", func() (any, error) {
		counts, err := c.api.FetchUnreadCounts(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cached = &counts
		c.fetchedAt = c.now()
		c.mu.Unlock()
		return counts, nil
	})
	if err != nil {
		return rest.UnreadCounts{}, err
	}
	return v.(rest.UnreadCounts), nil
}

// Invalidate drops the cached counts so the next fetch hits the API.
func (c *Counter) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}

// MarkMessageAsRead marks a single message read upstream and
// invalidates the cache.
func (c *Counter) MarkMessageAsRead(ctx context.Context, messageID string) error {
	if err := c.api.MarkMessageRead(ctx, messageID); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

// MarkMessagesAsRead marks every unread message from other participants
// in the conversation. Marks run in parallel; individual failures are
// logged and do not abort the rest. The cache is invalidated once at
// the end regardless of how many marks were issued.
func (c *Counter) MarkMessagesAsRead(ctx context.Context, conversationID string) error {
	msgs, err := c.api.ListMessages(ctx, conversationID)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, m := range msgs {
		if m.Read || m.SenderID == c.userID || m.ID == "" {
			continue
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := c.api.MarkMessageRead(ctx, id); err != nil {
				c.logger.Warn("failed to mark message read",
					zap.String("message_id", id),
					zap.Error(err))
			}
		}(m.ID)
	}
	wg.Wait()

	c.Invalidate()
	return nil
}

// RequestRefresh schedules a refresh after the debounce window. Calls
// inside the window collapse into one refresh.
func (c *Counter) RequestRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.pending != nil {
		c.pending.Stop()
	}
	c.pending = time.AfterFunc(c.debounce, func() {
		if err := c.RefreshNow(context.Background()); err != nil {
			c.logger.Warn("debounced unread refresh failed", zap.Error(err))
		}
	})
}

// RefreshNow bypasses cache and debounce: it refetches the counts and
// publishes them on the bus.
func (c *Counter) RefreshNow(ctx context.Context) error {
	c.Invalidate()
	counts, err := c.FetchUnreadCount(ctx)
	if err != nil {
		return err
	}
	c.bus.Emit(bus.KindUnreadUpdated, counts)
	return nil
}

// Close cancels any pending debounced refresh.
func (c *Counter) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}
