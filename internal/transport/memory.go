package transport

import (
	"encoding/json"
	"strings"
	"sync"
)

// Memory is an in-process Conn used by tests and by embedders that
// bridge their own transport. Events are injected with Deliver and
// queued per channel until a handler is bound, so the usual
// subscribe-then-bind race cannot drop lifecycle events.
type Memory struct {
	mu       sync.Mutex
	state    State
	channels map[string]*memChannel
	watchers map[int]chan State
	nextID   int
	failing  map[string]bool
	sent     []Sent
}

// Sent records one client-triggered event for test assertions.
type Sent struct {
	Channel string
	Event   string
	Data    []byte
}

// NewMemory creates a connected in-memory transport.
func NewMemory() *Memory {
	return &Memory{
		state:    StateConnected,
		channels: make(map[string]*memChannel),
		watchers: make(map[int]chan State),
		failing:  make(map[string]bool),
	}
}

// Subscribe implements Conn.
func (m *Memory) Subscribe(name string) Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[name]; ok && ch.subscribed {
		return ch
	}
	ch := &memChannel{conn: m, name: name, handlers: make(map[string]Handler)}
	m.channels[name] = ch
	if m.failing[name] {
		ch.enqueue(EventSubError, []byte(`{"error":"subscription rejected"}`))
	} else {
		ch.subscribed = true
		ch.enqueue(EventSubSucceeded, nil)
	}
	return ch
}

// State implements Conn.
func (m *Memory) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// States implements Conn.
func (m *Memory) States(buf int) (<-chan State, func()) {
	ch := make(chan State, buf)
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = ch
	m.mu.Unlock()
	return ch, func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}
}

// SetState transitions the connection state and notifies watchers.
func (m *Memory) SetState(s State) {
	m.mu.Lock()
	m.state = s
	watchers := make([]chan State, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.Unlock()
	for _, w := range watchers {
		select {
		case w <- s:
		default:
		}
	}
}

// Deliver injects a server-side event on a channel. payload is
// marshaled to JSON. Unknown channels are ignored.
func (m *Memory) Deliver(channel, event string, payload any) {
	data, _ := json.Marshal(payload)
	m.mu.Lock()
	ch, ok := m.channels[channel]
	m.mu.Unlock()
	if ok {
		ch.dispatch(event, data)
	}
}

// FailSubscriptions makes future Subscribe calls for name report a
// subscription error instead of succeeding.
func (m *Memory) FailSubscriptions(name string) {
	m.mu.Lock()
	m.failing[name] = true
	m.mu.Unlock()
}

// SentEvents returns a snapshot of all client-triggered events.
func (m *Memory) SentEvents() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sent, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentCount returns how many client events with the given prefix of
// channel name were triggered.
func (m *Memory) SentCount(channelPrefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sent {
		if strings.HasPrefix(s.Channel, channelPrefix) {
			n++
		}
	}
	return n
}

type memChannel struct {
	conn       *Memory
	name       string
	mu         sync.Mutex
	handlers   map[string]Handler
	pending    []pendingEvent
	subscribed bool
}

type pendingEvent struct {
	event string
	data  []byte
}

func (c *memChannel) Name() string { return c.name }

func (c *memChannel) Bind(event string, h Handler) {
	c.mu.Lock()
	c.handlers[event] = h
	var flush [][]byte
	var keep []pendingEvent
	for _, p := range c.pending {
		if p.event == event {
			flush = append(flush, p.data)
		} else {
			keep = append(keep, p)
		}
	}
	c.pending = keep
	c.mu.Unlock()
	for _, data := range flush {
		h(data)
	}
}

func (c *memChannel) Unbind(event string) {
	c.mu.Lock()
	delete(c.handlers, event)
	c.mu.Unlock()
}

func (c *memChannel) Trigger(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.conn.mu.Lock()
	c.conn.sent = append(c.conn.sent, Sent{Channel: c.name, Event: event, Data: data})
	c.conn.mu.Unlock()
	return nil
}

func (c *memChannel) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed
}

func (c *memChannel) Unsubscribe() {
	c.mu.Lock()
	c.subscribed = false
	c.handlers = make(map[string]Handler)
	c.pending = nil
	c.mu.Unlock()
	c.conn.mu.Lock()
	delete(c.conn.channels, c.name)
	c.conn.mu.Unlock()
}

func (c *memChannel) enqueue(event string, data []byte) {
	c.mu.Lock()
	c.pending = append(c.pending, pendingEvent{event: event, data: data})
	c.mu.Unlock()
}

func (c *memChannel) dispatch(event string, data []byte) {
	c.mu.Lock()
	h, ok := c.handlers[event]
	if !ok {
		c.pending = append(c.pending, pendingEvent{event: event, data: data})
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	h(data)
}
