package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// envelope is the wire format for server-to-client events.
type envelope struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// command is the wire format for client-to-server frames.
type command struct {
	Type    string `json:"type"` // subscribe, unsubscribe, event
	Channel string `json:"channel"`
	Event   string `json:"event,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// WSConfig configures the websocket transport.
type WSConfig struct {
	URL                  string
	Token                string
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
}

func (c *WSConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
}

// WSConn is a websocket-backed Conn with automatic reconnection and
// heartbeat. Subscriptions are tracked locally; after a reconnect the
// channel manager drives resubscription through the normal Subscribe
// path, which re-sends the wire subscribe for channels it still owns.
type WSConn struct {
	cfg    WSConfig
	logger *zap.Logger

	mu               sync.Mutex
	conn             *websocket.Conn
	state            State
	intentionalClose bool
	channels         map[string]*wsChannel
	watchers         map[int]chan State
	nextWatcher      int
	cancel           context.CancelFunc

	recon *reconnector
}

// NewWSConn creates a websocket transport. Call Connect to establish
// the connection.
func NewWSConn(cfg WSConfig, logger *zap.Logger) *WSConn {
	cfg.defaults()
	return &WSConn{
		cfg:      cfg,
		logger:   logger,
		state:    StateDisconnected,
		channels: make(map[string]*wsChannel),
		watchers: make(map[int]chan State),
		recon:    newReconnector(cfg),
	}
}

// Connect dials the websocket endpoint. Idempotent while connected or
// connecting.
func (w *WSConn) Connect(ctx context.Context) error {
	w.mu.Lock()
	if w.state == StateConnected || w.state == StateConnecting {
		w.mu.Unlock()
		return nil
	}
	w.state = StateConnecting
	w.intentionalClose = false
	w.mu.Unlock()
	w.notify(StateConnecting)

	url := w.cfg.URL
	if w.cfg.Token != "" {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + "token=" + w.cfg.Token
	}

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		w.mu.Lock()
		w.state = StateDisconnected
		w.mu.Unlock()
		w.notify(StateDisconnected)
		return fmt.Errorf("websocket dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.conn = conn
	w.state = StateConnected
	w.cancel = cancel
	subs := make([]string, 0, len(w.channels))
	for name := range w.channels {
		subs = append(subs, name)
	}
	w.mu.Unlock()
	w.recon.markConnected()

	// Re-send wire subscriptions for channels that survived a drop.
	for _, name := range subs {
		if err := w.send(connCtx, command{Type: "subscribe", Channel: name}); err != nil {
			w.logger.Warn("resubscribe failed", zap.String("channel", name), zap.Error(err))
		}
	}

	go w.readLoop(connCtx)
	go w.heartbeatLoop(connCtx)

	w.notify(StateConnected)
	return nil
}

// Close tears the connection down and stops reconnecting.
func (w *WSConn) Close() error {
	w.mu.Lock()
	w.intentionalClose = true
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	conn := w.conn
	w.conn = nil
	w.state = StateDisconnected
	w.mu.Unlock()
	w.notify(StateDisconnected)

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client close")
	}
	return nil
}

// Subscribe implements Conn.
func (w *WSConn) Subscribe(name string) Channel {
	w.mu.Lock()
	if ch, ok := w.channels[name]; ok && ch.Subscribed() {
		w.mu.Unlock()
		return ch
	}
	ch := &wsChannel{conn: w, name: name, handlers: make(map[string]Handler)}
	w.channels[name] = ch
	connected := w.state == StateConnected
	w.mu.Unlock()

	if connected {
		if err := w.send(context.Background(), command{Type: "subscribe", Channel: name}); err != nil {
			w.logger.Warn("subscribe send failed", zap.String("channel", name), zap.Error(err))
			ch.dispatch(EventSubError, []byte(`{"error":"send failed"}`))
		}
	}
	return ch
}

// State implements Conn.
func (w *WSConn) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// States implements Conn.
func (w *WSConn) States(buf int) (<-chan State, func()) {
	ch := make(chan State, buf)
	w.mu.Lock()
	id := w.nextWatcher
	w.nextWatcher++
	w.watchers[id] = ch
	w.mu.Unlock()
	return ch, func() {
		w.mu.Lock()
		delete(w.watchers, id)
		w.mu.Unlock()
	}
}

func (w *WSConn) notify(s State) {
	w.mu.Lock()
	watchers := make([]chan State, 0, len(w.watchers))
	for _, ch := range w.watchers {
		watchers = append(watchers, ch)
	}
	w.mu.Unlock()
	for _, ch := range watchers {
		select {
		case ch <- s:
		default:
		}
	}
}

func (w *WSConn) send(ctx context.Context, cmd command) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (w *WSConn) readLoop(ctx context.Context) {
	for {
		w.mu.Lock()
		conn := w.conn
		w.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			w.mu.Lock()
			intentional := w.intentionalClose
			w.state = StateDisconnected
			w.conn = nil
			w.mu.Unlock()
			if intentional {
				return
			}
			w.logger.Warn("websocket read failed", zap.Error(err))
			w.notify(StateDisconnected)
			if w.recon.shouldReconnect() {
				w.scheduleReconnect()
			}
			return
		}

		var env envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		w.mu.Lock()
		ch, ok := w.channels[env.Channel]
		w.mu.Unlock()
		if ok {
			ch.dispatch(env.Event, env.Data)
		}
	}
}

func (w *WSConn) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			conn := w.conn
			w.mu.Unlock()
			if conn == nil {
				return
			}
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				w.logger.Warn("heartbeat failed", zap.Error(err))
				_ = conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (w *WSConn) scheduleReconnect() {
	delay := w.recon.nextDelay()
	w.mu.Lock()
	w.state = StateReconnecting
	w.mu.Unlock()
	w.notify(StateReconnecting)
	w.logger.Info("reconnecting", zap.Duration("delay", delay), zap.Int("attempt", w.recon.attempt))

	time.Sleep(delay)

	if err := w.Connect(context.Background()); err != nil {
		if w.recon.shouldReconnect() {
			w.scheduleReconnect()
			return
		}
		w.logger.Error("reconnect attempts exhausted", zap.Error(err))
		w.mu.Lock()
		w.state = StateDisconnected
		w.mu.Unlock()
		w.notify(StateDisconnected)
	}
}

// reconnector tracks exponential backoff with jitter. The attempt
// counter resets after a connection has held for over a minute.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(cfg WSConfig) *reconnector {
	return &reconnector{
		baseDelay:   cfg.ReconnectBaseDelay,
		maxDelay:    cfg.ReconnectMaxDelay,
		maxAttempts: cfg.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

type wsChannel struct {
	conn       *WSConn
	name       string
	mu         sync.Mutex
	handlers   map[string]Handler
	pending    []pendingEvent
	subscribed bool
}

func (c *wsChannel) Name() string { return c.name }

func (c *wsChannel) Bind(event string, h Handler) {
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

func (c *wsChannel) Unbind(event string) {
	c.mu.Lock()
	delete(c.handlers, event)
	c.mu.Unlock()
}

func (c *wsChannel) Trigger(event string, payload any) error {
	return c.conn.send(context.Background(), command{
		Type:    "event",
		Channel: c.name,
		Event:   event,
		Data:    payload,
	})
}

func (c *wsChannel) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed
}

func (c *wsChannel) Unsubscribe() {
	c.mu.Lock()
	c.subscribed = false
	c.handlers = make(map[string]Handler)
	c.pending = nil
	c.mu.Unlock()

	_ = c.conn.send(context.Background(), command{Type: "unsubscribe", Channel: c.name})
	c.conn.mu.Lock()
	delete(c.conn.channels, c.name)
	c.conn.mu.Unlock()
}

func (c *wsChannel) dispatch(event string, data []byte) {
	if event == EventSubSucceeded {
		c.mu.Lock()
		c.subscribed = true
		c.mu.Unlock()
	}
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
