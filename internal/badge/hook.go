// Package badge keeps the application-wide unread badge current. It
// listens on the signed-in user's personal channel for activity in any
// conversation, refreshes the unread counts through the counter, and
// republishes the global total for whatever surface renders the badge.
package badge

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ffusco/chatline/internal/bus"
	"github.com/ffusco/chatline/internal/channel"
	"github.com/ffusco/chatline/internal/rest"
	"github.com/ffusco/chatline/internal/transport"
	"github.com/ffusco/chatline/internal/unread"
)

// Hook wires the personal channel to the unread counter and exposes the
// running global total.
type Hook struct {
	conn    transport.Conn
	counter *unread.Counter
	bus     *bus.Bus
	logger  *zap.Logger

	mu      sync.Mutex
	userID  string
	ch      transport.Channel
	total   int
	cancel  context.CancelFunc
	unsub   func()
	started bool
}

// NewHook builds the badge hook. Call Start before SetUser.
func NewHook(conn transport.Conn, counter *unread.Counter, b *bus.Bus, logger *zap.Logger) *Hook {
	return &Hook{
		conn:    conn,
		counter: counter,
		bus:     b,
		logger:  logger,
	}
}

// Start begins watching unread updates and connection recoveries. It is
// idempotent.
func (h *Hook) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return
	}
	h.started = true

	ctx, h.cancel = context.WithCancel(ctx)

	events, unsubBus := h.bus.Subscribe(bus.KindUnreadUpdated, 16)
	states, unsubStates := h.conn.States(16)
	h.unsub = func() {
		unsubBus()
		unsubStates()
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				counts, ok := evt.Payload.(rest.UnreadCounts)
				if !ok {
					continue
				}
				h.mu.Lock()
				h.total = counts.Total
				h.mu.Unlock()
				h.bus.Emit(bus.KindBadgeUpdated, counts.Total)
			case state, ok := <-states:
				if !ok {
					return
				}
				h.bus.Emit(bus.KindConnState, state)
				// Events may have been missed while offline.
				if state == transport.StateConnected {
					h.refresh(ctx)
				}
			}
		}
	}()
}

// SetUser switches the hook to a new signed-in user. The previous
// personal channel is torn down first. An empty id signs out and zeroes
// the badge.
func (h *Hook) SetUser(ctx context.Context, userID string) {
	h.mu.Lock()
	if h.ch != nil {
		h.ch.Unbind(transport.EventNewMessage)
		h.ch.Unbind(transport.EventMessagesRead)
		h.ch.Unsubscribe()
		h.ch = nil
	}
	h.userID = userID

	if userID == "" {
		h.total = 0
		h.mu.Unlock()
		h.bus.Emit(bus.KindBadgeUpdated, 0)
		return
	}

	ch := h.conn.Subscribe(channel.UserChannel(userID))
	onActivity := func(data []byte) {
		h.counter.Invalidate()
		h.counter.RequestRefresh()
	}
	ch.Bind(transport.EventNewMessage, onActivity)
	ch.Bind(transport.EventMessagesRead, onActivity)
	h.ch = ch
	h.mu.Unlock()

	h.refresh(ctx)
}

// TriggerUnreadMessagesUpdate forces an immediate refresh, bypassing
// the debounce window.
func (h *Hook) TriggerUnreadMessagesUpdate(ctx context.Context) {
	h.refresh(ctx)
}

func (h *Hook) refresh(ctx context.Context) {
	if err := h.counter.RefreshNow(ctx); err != nil {
		h.logger.Warn("badge refresh failed", zap.Error(err))
	}
}

// Total returns the last published global unread count.
func (h *Hook) Total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// Stop tears down the personal channel and the watchers.
func (h *Hook) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ch != nil {
		h.ch.Unbind(transport.EventNewMessage)
		h.ch.Unbind(transport.EventMessagesRead)
		h.ch.Unsubscribe()
		h.ch = nil
	}
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	if h.unsub != nil {
		h.unsub()
		h.unsub = nil
	}
	h.started = false
}
