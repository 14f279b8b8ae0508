// Package typing coordinates typing indicators for a single
// conversation: it throttles the outgoing signals the local user
// produces while composing, and it tracks which remote participants are
// currently typing based on the signals they broadcast.
package typing

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ffusco/chatline/internal/bus"
)

// Signal is the wire payload exchanged on the conversation channel's
// typing event.
type Signal struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// Emitter sends a typing signal over the conversation channel.
type Emitter func(Signal) error

// State of the local composer.
type State string

const (
	Idle   State = "IDLE"
	Typing State = "TYPING"
)

const (
	defaultKeepAlive  = 3 * time.Second
	defaultInactivity = 3 * time.Second
	defaultExpiry     = 5 * time.Second
)

// Coordinator owns all typing state for one conversation. All timers
// live in a single registry keyed by tag so teardown can cancel every
// pending callback in one sweep.
type Coordinator struct {
	userID string
	emit   Emitter
	bus    *bus.Bus
	logger *zap.Logger

	keepAlive  time.Duration
	inactivity time.Duration
	expiry     time.Duration

	mu     sync.Mutex
	state  State
	remote map[string]struct{}
	timers map[string]*time.Timer
	closed bool
}

// NewCoordinator builds a coordinator for the given local user. emit is
// called with every outgoing signal; b receives typing.changed events
// whenever the remote set changes.
func NewCoordinator(userID string, emit Emitter, b *bus.Bus, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		userID:     userID,
		emit:       emit,
		bus:        b,
		logger:     logger,
		keepAlive:  defaultKeepAlive,
		inactivity: defaultInactivity,
		expiry:     defaultExpiry,
		state:      Idle,
		remote:     make(map[string]struct{}),
		timers:     make(map[string]*time.Timer),
	}
}

// State returns the local composer state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// InputChanged must be called on every change of the composer text.
// Non-empty text starts or extends the typing session; empty text ends
// it immediately.
func (c *Coordinator) InputChanged(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if text == "" {
		c.stopLocked()
		return
	}

	if c.state == Idle {
		c.state = Typing
		c.send(Signal{UserID: c.userID, IsTyping: true})
		c.resetTimer("keepalive", c.keepAlive, c.onKeepAlive)
	}
	c.resetTimer("inactivity", c.inactivity, c.onInactivity)
}

// MessageSent ends the typing session. Callers invoke it before the
// send request goes out so peers see the stop signal ahead of the
// message itself.
func (c *Coordinator) MessageSent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.stopLocked()
}

func (c *Coordinator) onKeepAlive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state != Typing {
		return
	}
	c.send(Signal{UserID: c.userID, IsTyping: true})
	c.resetTimer("keepalive", c.keepAlive, c.onKeepAlive)
}

func (c *Coordinator) onInactivity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.stopLocked()
}

// stopLocked ends the local typing session and emits the stop signal.
// Caller holds c.mu.
func (c *Coordinator) stopLocked() {
	if c.state != Typing {
		return
	}
	c.state = Idle
	c.cancelTimer("keepalive")
	c.cancelTimer("inactivity")
	c.send(Signal{UserID: c.userID, IsTyping: false})
}

func (c *Coordinator) send(sig Signal) {
	if c.emit == nil {
		return
	}
	if err := c.emit(sig); err != nil {
		c.logger.Warn("failed to emit typing signal",
			zap.Bool("is_typing", sig.IsTyping),
			zap.Error(err))
	}
}

// HandleRemote processes a typing signal from another participant.
// Signals from the local user are ignored. Each start signal arms a
// fresh expiry timer so a peer that crashes mid-session disappears from
// the indicator on its own.
func (c *Coordinator) HandleRemote(sig Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || sig.UserID == "" || sig.UserID == c.userID {
		return
	}

	tag := "expire:" + sig.UserID
	if sig.IsTyping {
		_, present := c.remote[sig.UserID]
		c.remote[sig.UserID] = struct{}{}
		uid := sig.UserID
		c.resetTimer(tag, c.expiry, func() { c.expireRemote(uid) })
		if !present {
			c.publishLocked()
		}
		return
	}

	c.cancelTimer(tag)
	if _, present := c.remote[sig.UserID]; present {
		delete(c.remote, sig.UserID)
		c.publishLocked()
	}
}

func (c *Coordinator) expireRemote(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	delete(c.timers, "expire:"+userID)
	if _, present := c.remote[userID]; present {
		delete(c.remote, userID)
		c.publishLocked()
	}
}

// TypingUsers returns the IDs of remote participants currently typing,
// sorted for stable rendering.
func (c *Coordinator) TypingUsers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	users := make([]string, 0, len(c.remote))
	for uid := range c.remote {
		users = append(users, uid)
	}
	sort.Strings(users)
	return users
}

// publishLocked notifies bus subscribers of the new remote set. Caller
// holds c.mu.
func (c *Coordinator) publishLocked() {
	if c.bus == nil {
		return
	}
	users := make([]string, 0, len(c.remote))
	for uid := range c.remote {
		users = append(users, uid)
	}
	sort.Strings(users)
	c.bus.Emit(bus.KindTypingChanged, users)
}

// Close cancels every pending timer. It does not emit a stop signal;
// callers ending a session deliberately use MessageSent or
// InputChanged("").
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for tag, t := range c.timers {
		t.Stop()
		delete(c.timers, tag)
	}
	c.state = Idle
	c.remote = make(map[string]struct{})
}

// resetTimer replaces the timer registered under tag. Caller holds
// c.mu.
func (c *Coordinator) resetTimer(tag string, d time.Duration, fn func()) {
	if t, ok := c.timers[tag]; ok {
		t.Stop()
	}
	c.timers[tag] = time.AfterFunc(d, fn)
}

// cancelTimer stops and removes the timer registered under tag. Caller
// holds c.mu.
func (c *Coordinator) cancelTimer(tag string) {
	if t, ok := c.timers[tag]; ok {
		t.Stop()
		delete(c.timers, tag)
	}
}
