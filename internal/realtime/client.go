package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/schoolhub/schoolhub/internal/core"
	"github.com/schoolhub/schoolhub/internal/logging"
	"github.com/schoolhub/schoolhub/internal/notifications"
)

// ConnectionState is the transport state
type ConnectionState = notifications.ConnectionState

// SendPolicy decides what happens to messages sent before authentication.
type SendPolicy string

const (
	// SendDrop rejects the message with core.ErrNotAuthenticated.
	SendDrop SendPolicy = "drop"
	// SendQueue buffers the message until the next successful handshake.
	SendQueue SendPolicy = "queue"
)

// Config for creating a client
type Config struct {
	URL   string
	Token func() string

	OnMessage   func(Message)
	OnStatus    func(ConnectionState)
	OnReconnect func(attempt int, delay time.Duration)

	// DeviceID names this installation in the auth message. A newer
	// connection with the same user and device replaces this one.
	DeviceID string

	// ShouldReconnect decides whether an unexpected close is retried. Auth
	// rejections are never retried, whatever it returns. The default also
	// refuses replaced sessions.
	ShouldReconnect func(CloseEvent) bool
	// IsAppAuthenticated reports whether the application still holds a
	// session. Reconnects are only scheduled while it returns true.
	IsAppAuthenticated func() bool

	Backoff           BackoffConfig
	SendPolicy        SendPolicy
	QueueLimit        int
	HeartbeatInterval time.Duration
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration

	Dialer *websocket.Dialer
	Header http.Header
	Logger *logging.Logger
}

// DefaultShouldReconnect retries everything except auth rejection and
// session replacement.
func DefaultShouldReconnect(ev CloseEvent) bool {
	return ev.Code != CloseAuthRejected && ev.Code != CloseReplaced
}

// Client maintains one logical connection to the push endpoint.
type Client struct {
	cfg    Config
	logger *logging.Logger
	events *eventLoop

	mu            sync.Mutex
	state         ConnectionState
	conn          *connection
	epoch         uint64
	dialCancel    context.CancelFunc
	reconnect     *time.Timer
	handshake     *time.Timer
	backoff       *reconnectBackoff
	subscriptions *subscriptionSet
	queue         []Message
	closed        bool
}

// NewClient creates a client. It does not connect.
func NewClient(cfg Config) *Client {
	if cfg.Token == nil {
		cfg.Token = func() string { return "" }
	}
	if cfg.ShouldReconnect == nil {
		cfg.ShouldReconnect = DefaultShouldReconnect
	}
	if cfg.IsAppAuthenticated == nil {
		cfg.IsAppAuthenticated = func() bool { return true }
	}
	if cfg.SendPolicy == "" {
		cfg.SendPolicy = SendDrop
	}
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = 64
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}

	c := &Client{
		cfg:           cfg,
		logger:        logging.OrDefault(cfg.Logger).WithField("component", "realtime"),
		events:        newEventLoop(),
		state:         notifications.StateDisconnected,
		backoff:       newReconnectBackoff(cfg.Backoff),
		subscriptions: newSubscriptionSet(),
	}
	go c.events.run()
	return c
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsAuthenticated reports whether the handshake has completed.
func (c *Client) IsAuthenticated() bool {
	return c.State().IsAuthenticated()
}

// IsConnected reports whether a socket is open, authenticated or not.
func (c *Client) IsConnected() bool {
	return c.State().IsConnected()
}

// Subscriptions returns the registered subscriptions in insertion order.
func (c *Client) Subscriptions() []Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriptions.list()
}

// Connect opens the socket unless one is already opening or open.
// Failures surface through OnStatus.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	switch c.state {
	case notifications.StateConnecting, notifications.StateConnected,
		notifications.StateAuthenticating, notifications.StateAuthenticated:
		return
	}

	c.stopReconnectTimer()
	c.startDial()
}

// Disconnect closes the socket deliberately. Pending reconnects are
// cancelled and queued messages discarded.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
}

func (c *Client) disconnectLocked() {
	// Anything still in flight for the old epoch becomes a no-op.
	c.epoch++
	c.stopReconnectTimer()
	c.stopHandshakeTimer()
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	if c.conn != nil {
		c.conn.shutdown(websocket.CloseNormalClosure, "client disconnect")
		c.conn = nil
	}
	c.queue = nil
	c.backoff.Reset()
	c.setState(notifications.StateDisconnected)
}

// Close disconnects and stops event delivery. It must not be called from
// inside a callback.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.disconnectLocked()
	c.closed = true
	c.mu.Unlock()

	c.events.stop()
}

// Subscribe registers interest in typ/resource. It is sent now when
// authenticated and replayed after every handshake.
func (c *Client) Subscribe(typ SubscriptionType, resource string, filters map[string]any) bool {
	if !typ.Valid() || resource == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	sub := c.subscriptions.put(Subscription{
		ID:       SubscriptionID(typ, resource),
		Type:     typ,
		Resource: resource,
		Filters:  filters,
	})

	if c.state.IsAuthenticated() && c.conn != nil {
		if err := c.conn.writeJSON(sub.frame(ActionSubscribe)); err != nil {
			c.logger.Warn("Subscribe %s not sent: %v", sub.ID, err)
		}
	}
	return true
}

// Unsubscribe forgets a subscription and tells the server when authenticated.
func (c *Client) Unsubscribe(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subscriptions.remove(id)
	if !ok {
		return false
	}

	if c.state.IsAuthenticated() && c.conn != nil {
		if err := c.conn.writeJSON(sub.frame(ActionUnsubscribe)); err != nil {
			c.logger.Warn("Unsubscribe %s not sent: %v", id, err)
		}
	}
	return true
}

// ClearSubscriptions drops every subscription locally.
func (c *Client) ClearSubscriptions() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions.clear()
}

// Send delivers msg when authenticated. Otherwise the send policy applies.
func (c *Client) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return core.ErrClientClosed
	}

	if c.state.IsAuthenticated() && c.conn != nil {
		return c.conn.writeJSON(msg)
	}

	if c.cfg.SendPolicy == SendQueue {
		if len(c.queue) >= c.cfg.QueueLimit {
			return core.ErrQueueFull
		}
		c.queue = append(c.queue, msg)
		return nil
	}

	c.logger.Debug("Dropping %s message while %s", msg.Type, c.state)
	return core.ErrNotAuthenticated
}

// setState records and announces a transition. Caller holds c.mu.
func (c *Client) setState(s ConnectionState) {
	if c.state == s {
		return
	}
	c.logger.Debug("State %s -> %s", c.state, s)
	c.state = s
	if fn := c.cfg.OnStatus; fn != nil {
		c.events.push(func() { fn(s) })
	}
}

// startDial begins a connection attempt. Caller holds c.mu.
func (c *Client) startDial() {
	token := c.cfg.Token()
	if token == "" {
		c.logger.Warn("No token available, not connecting")
		c.setState(notifications.StateError)
		return
	}

	c.epoch++
	epoch := c.epoch
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
	c.dialCancel = cancel
	c.setState(notifications.StateConnecting)

	go c.dial(ctx, cancel, epoch, token)
}

func (c *Client) dial(ctx context.Context, cancel context.CancelFunc, epoch uint64, token string) {
	defer cancel()

	ws, resp, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch || c.closed {
		if ws != nil {
			ws.Close()
		}
		return
	}
	c.dialCancel = nil

	if err != nil {
		ev := CloseEvent{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			ev.Code = CloseAuthRejected
		}
		c.logger.Debug("Dial failed: %v", err)
		c.afterClose(ev)
		return
	}

	conn := newConnection(ws, c.cfg.WriteTimeout)
	c.conn = conn
	c.setState(notifications.StateConnected)

	go conn.writePump()
	go c.readLoop(conn)
	if c.cfg.HeartbeatInterval > 0 {
		go c.heartbeat(conn, c.cfg.HeartbeatInterval)
	}

	auth, err := NewMessage(TypeAuth, AuthPayload{Token: token, DeviceID: c.cfg.DeviceID})
	if err == nil {
		err = conn.writeJSON(auth)
	}
	if err != nil {
		c.failLocked(conn, CloseEvent{Code: websocket.CloseAbnormalClosure, Reason: err.Error()})
		return
	}
	c.setState(notifications.StateAuthenticating)

	c.handshake = time.AfterFunc(c.cfg.HandshakeTimeout, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conn == conn && c.state == notifications.StateAuthenticating {
			c.logger.Warn("Authentication timed out")
			c.failLocked(conn, CloseEvent{Code: websocket.ClosePolicyViolation, Reason: "authentication timed out"})
		}
	})
}

func (c *Client) readLoop(conn *connection) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			ev := CloseEvent{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				ev = CloseEvent{Code: ce.Code, Reason: ce.Text, WasClean: true}
			}
			c.mu.Lock()
			c.failLocked(conn, ev)
			c.mu.Unlock()
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			c.logger.Debug("Ignoring malformed frame: %s", truncate(data, 120))
			continue
		}
		c.handleMessage(conn, msg)
	}
}

func (c *Client) handleMessage(conn *connection, msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn {
		return
	}

	switch msg.Type {
	case TypeAuthResult:
		var res AuthResult
		if err := msg.Decode(&res); err != nil {
			c.logger.Warn("Bad auth_result: %v", err)
			break
		}
		if res.Success {
			c.onAuthenticated(conn)
		} else {
			c.logger.Warn("Authentication rejected: %s", res.Error)
			c.failLocked(conn, CloseEvent{Code: CloseAuthRejected, Reason: res.Error})
		}

	case TypeSubscriptionResult:
		var res SubscriptionResult
		if err := msg.Decode(&res); err != nil {
			break
		}
		if sub, ok := c.subscriptions.get(res.SubscriptionID); ok {
			sub.Confirmed = res.Success
			sub.Error = res.Error
		}

	case TypeError:
		var p ErrorPayload
		if msg.Decode(&p) == nil {
			c.logger.Warn("Server error: %s", p.Message)
		}
	}

	if fn := c.cfg.OnMessage; fn != nil {
		c.events.push(func() { fn(msg) })
	}
}

// onAuthenticated completes the handshake. Caller holds c.mu.
func (c *Client) onAuthenticated(conn *connection) {
	c.stopHandshakeTimer()
	c.backoff.Reset()
	c.setState(notifications.StateAuthenticated)

	c.subscriptions.resetConfirmations()
	for _, sub := range c.subscriptions.list() {
		if err := conn.writeJSON(sub.frame(ActionSubscribe)); err != nil {
			c.logger.Warn("Replay of %s failed: %v", sub.ID, err)
		}
	}

	queued := c.queue
	c.queue = nil
	for _, msg := range queued {
		if err := conn.writeJSON(msg); err != nil {
			c.logger.Warn("Queued %s message lost: %v", msg.Type, err)
		}
	}
}

// failLocked tears down conn and applies the reconnect policy. Calls for a
// connection that is no longer current are ignored. Caller holds c.mu.
func (c *Client) failLocked(conn *connection, ev CloseEvent) {
	if c.conn != conn {
		return
	}
	c.conn = nil
	c.stopHandshakeTimer()
	conn.shutdown(websocket.CloseNormalClosure, "")
	c.afterClose(ev)
}

// afterClose decides between reconnecting, error and disconnected. Caller
// holds c.mu.
func (c *Client) afterClose(ev CloseEvent) {
	c.logger.Debug("Connection closed: code=%d reason=%q", ev.Code, ev.Reason)

	if ev.IsAuthRejection() {
		c.setState(notifications.StateError)
		return
	}
	if !c.cfg.ShouldReconnect(ev) {
		c.setState(notifications.StateDisconnected)
		return
	}
	if !c.cfg.IsAppAuthenticated() {
		c.setState(notifications.StateDisconnected)
		return
	}

	delay, ok := c.backoff.Next()
	if !ok {
		c.logger.Warn("Giving up after %d reconnect attempts", c.backoff.Attempts())
		c.setState(notifications.StateError)
		return
	}

	attempt := c.backoff.Attempts()
	epoch := c.epoch
	c.setState(notifications.StateReconnecting)
	if fn := c.cfg.OnReconnect; fn != nil {
		c.events.push(func() { fn(attempt, delay) })
	}

	c.reconnect = time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if epoch != c.epoch || c.closed || c.state != notifications.StateReconnecting {
			return
		}
		c.reconnect = nil
		if !c.cfg.IsAppAuthenticated() {
			c.setState(notifications.StateDisconnected)
			return
		}
		c.startDial()
	})
}

func (c *Client) heartbeat(conn *connection, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.conn == conn && c.state.IsAuthenticated() {
				if ping, err := NewMessage(TypePing, nil); err == nil {
					conn.writeJSON(ping)
				}
			}
			c.mu.Unlock()
		}
	}
}

func (c *Client) stopReconnectTimer() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

func (c *Client) stopHandshakeTimer() {
	if c.handshake != nil {
		c.handshake.Stop()
		c.handshake = nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return fmt.Sprintf("%s...", b[:n])
}
