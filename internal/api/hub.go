package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/schoolhub/schoolhub/internal/core"
	"github.com/schoolhub/schoolhub/internal/logging"
	"github.com/schoolhub/schoolhub/internal/notifications"
	"github.com/schoolhub/schoolhub/internal/realtime"
)

const clientSendBuffer = 64

// hubClient is one authenticated websocket.
type hubClient struct {
	id       string
	deviceID string
	conn     *websocket.Conn
	claims   *Claims
	send     chan []byte
	done     chan struct{}
	once     sync.Once

	// Close frame written by the pump once done is closed.
	closeCode int
	closeText string

	mu   sync.Mutex
	subs map[string]realtime.SubscriptionFrame
}

func (c *hubClient) subscribed(t realtime.SubscriptionType, resource string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[realtime.SubscriptionID(t, resource)]
	return ok
}

func (c *hubClient) stop() {
	c.stopWith(websocket.CloseGoingAway, "server shutting down")
}

// stopWith ends the connection with the given close frame. Only the first
// call counts.
func (c *hubClient) stopWith(code int, text string) {
	c.once.Do(func() {
		c.closeCode = code
		c.closeText = text
		close(c.done)
	})
}

// sameDevice reports whether other is an older connection this one replaces.
func (c *hubClient) sameDevice(other *hubClient) bool {
	return c != other && c.deviceID != "" &&
		c.deviceID == other.deviceID && c.claims.UserID() == other.claims.UserID()
}

// HubConfig for creating a hub
type HubConfig struct {
	Auth         *Authenticator
	Service      *notifications.Service
	AuthTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *logging.Logger
}

// Hub speaks the push protocol: auth handshake, subscriptions, pushes and
// read-state echoes.
type Hub struct {
	auth         *Authenticator
	service      *notifications.Service
	upgrader     websocket.Upgrader
	authTimeout  time.Duration
	writeTimeout time.Duration
	logger       *logging.Logger

	clients map[*hubClient]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu sync.RWMutex
}

// NewHub creates a hub
func NewHub(cfg HubConfig) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	return &Hub{
		auth:         cfg.Auth,
		service:      cfg.Service,
		authTimeout:  cfg.AuthTimeout,
		writeTimeout: cfg.WriteTimeout,
		logger:       logging.OrDefault(cfg.Logger).WithField("component", "hub"),
		clients:      make(map[*hubClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // development backend
			},
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID identifies the hub as a notifications.Subscriber.
func (h *Hub) ID() string { return "websocket-hub" }

// ClientCount is the number of authenticated connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and waits for their goroutines.
func (h *Hub) Close() {
	h.cancel()

	h.mu.Lock()
	for c := range h.clients {
		c.stop()
	}
	h.mu.Unlock()

	h.wg.Wait()
}

// ServeHTTP upgrades the request and runs the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.handleConnection(conn)
	}()
}

// handleConnection manages a single websocket connection
func (h *Hub) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	claims, deviceID, err := h.handshake(conn)
	if err != nil {
		h.logger.Debug("Handshake failed: %v", err)
		return
	}

	c := &hubClient{
		id:       uuid.NewString(),
		deviceID: deviceID,
		conn:     conn,
		claims:   claims,
		send:     make(chan []byte, clientSendBuffer),
		done:     make(chan struct{}),
		subs:     make(map[string]realtime.SubscriptionFrame),
	}

	h.mu.Lock()
	select {
	case <-h.ctx.Done():
		h.mu.Unlock()
		return
	default:
	}
	var replaced []*hubClient
	for old := range h.clients {
		if c.sameDevice(old) {
			replaced = append(replaced, old)
			delete(h.clients, old)
		}
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("Client %s connected as %s", c.id, claims.UserID())

	for _, old := range replaced {
		h.logger.Debug("Client %s replaced by %s", old.id, c.id)
		old.stopWith(realtime.CloseReplaced, "replaced by a newer connection")
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.writePump(c)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		h.handleFrame(c, data)
	}

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.stop()
	h.logger.Debug("Client %s disconnected", c.id)
}

// handshake expects an auth message first and returns the verified claims
// and the optional device id. Rejection answers with a failed auth_result
// and closes with CloseAuthRejected.
func (h *Hub) handshake(conn *websocket.Conn) (*Claims, string, error) {
	conn.SetReadDeadline(time.Now().Add(h.authTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, "", err
	}
	conn.SetReadDeadline(time.Time{})

	var msg realtime.Message
	var p realtime.AuthPayload
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != realtime.TypeAuth || msg.Decode(&p) != nil {
		h.reject(conn, "expected auth message")
		return nil, "", core.ErrNotAuthenticated
	}

	claims, err := h.auth.Verify(p.Token)
	if err != nil {
		h.reject(conn, "invalid token")
		return nil, "", err
	}

	reply, _ := realtime.NewMessage(realtime.TypeAuthResult, realtime.AuthResult{Success: true, UserID: claims.UserID()})
	conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	if err := conn.WriteJSON(reply); err != nil {
		return nil, "", err
	}
	return claims, p.DeviceID, nil
}

func (h *Hub) reject(conn *websocket.Conn, reason string) {
	reply, _ := realtime.NewMessage(realtime.TypeAuthResult, realtime.AuthResult{Success: false, Error: reason})
	conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	conn.WriteJSON(reply)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(realtime.CloseAuthRejected, reason),
		time.Now().Add(time.Second))
}

// writePump is the connection's only writer. Closing the socket on exit
// also unblocks the read loop.
func (h *Hub) writePump(c *hubClient) {
	defer c.conn.Close()
	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.stop()
				return
			}
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(c.closeCode, c.closeText),
				time.Now().Add(time.Second))
			return
		}
	}
}

// enqueue hands a frame to the client's writer, dropping it for slow
// consumers.
func (h *Hub) enqueue(c *hubClient, v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Marshal frame: %v", err)
		return false
	}
	select {
	case <-c.done:
		return false
	case c.send <- data:
		return true
	default:
		h.logger.Warn("Dropping frame for slow client %s", c.id)
		return false
	}
}

func (h *Hub) reply(c *hubClient, typ realtime.MessageType, payload interface{}) {
	msg, err := realtime.NewMessage(typ, payload)
	if err != nil {
		h.logger.Error("Build %s: %v", typ, err)
		return
	}
	h.enqueue(c, msg)
}

func (h *Hub) replyError(c *hubClient, code, message string) {
	h.reply(c, realtime.TypeError, realtime.ErrorPayload{Message: message, Code: code})
}

func (h *Hub) handleFrame(c *hubClient, data []byte) {
	var probe struct {
		Type   realtime.MessageType        `json:"type"`
		Action realtime.SubscriptionAction `json:"action"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		h.replyError(c, "bad_frame", "malformed frame")
		return
	}

	if probe.Action != "" {
		var frame realtime.SubscriptionFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.replyError(c, "bad_frame", "malformed subscription frame")
			return
		}
		h.handleSubscription(c, frame)
		return
	}

	var msg realtime.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		h.replyError(c, "bad_frame", "malformed message")
		return
	}

	switch msg.Type {
	case realtime.TypePing:
		h.reply(c, realtime.TypePong, nil)

	case realtime.TypeMarkRead:
		var p realtime.MarkReadPayload
		if err := msg.Decode(&p); err != nil || p.NotificationID == "" {
			h.replyError(c, "bad_request", "notification_id required")
			return
		}
		if err := h.service.MarkRead(h.ctx, c.claims.UserID(), p.NotificationID); err != nil {
			h.replyError(c, errorCode(err), err.Error())
			return
		}
		h.reply(c, realtime.TypeAck, realtime.AckPayload{MessageID: msg.MessageID, Status: "ok"})
		h.EchoRead(c.claims.UserID(), c, p.NotificationID)

	case realtime.TypeMarkAllRead:
		if _, err := h.service.MarkAllRead(h.ctx, c.claims.UserID()); err != nil {
			h.replyError(c, errorCode(err), err.Error())
			return
		}
		h.reply(c, realtime.TypeAck, realtime.AckPayload{MessageID: msg.MessageID, Status: "ok"})
		h.EchoReadAll(c.claims.UserID(), c)

	case realtime.TypeAuth:
		h.replyError(c, "already_authenticated", "connection is already authenticated")

	default:
		h.replyError(c, "unknown_type", "unknown message type "+string(msg.Type))
	}
}

func (h *Hub) handleSubscription(c *hubClient, frame realtime.SubscriptionFrame) {
	id := realtime.SubscriptionID(frame.SubscriptionType, frame.Resource)
	result := realtime.SubscriptionResult{SubscriptionID: id}

	switch {
	case !frame.SubscriptionType.Valid() || frame.Resource == "":
		result.Error = "invalid subscription"
	case frame.SubscriptionType == realtime.SubscribeUser && frame.Resource != c.claims.UserID():
		result.Error = "cannot subscribe to another user"
	case frame.Action == realtime.ActionSubscribe:
		c.mu.Lock()
		c.subs[id] = frame
		c.mu.Unlock()
		result.Success = true
	case frame.Action == realtime.ActionUnsubscribe:
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		result.Success = true
	default:
		result.Error = "unknown action " + string(frame.Action)
	}

	h.reply(c, realtime.TypeSubscriptionResult, result)
}

// snapshot returns the clients matching keep.
func (h *Hub) snapshot(keep func(*hubClient) bool) []*hubClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*hubClient
	for c := range h.clients {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) push(targets []*hubClient, typ realtime.MessageType, payload interface{}) int {
	if len(targets) == 0 {
		return 0
	}
	msg, err := realtime.NewMessage(typ, payload)
	if err != nil {
		h.logger.Error("Build %s: %v", typ, err)
		return 0
	}
	sent := 0
	for _, c := range targets {
		if h.enqueue(c, msg) {
			sent++
		}
	}
	return sent
}

// Send delivers a created notification to its recipient and to connections
// subscribed to its branch or role.
func (h *Hub) Send(d notifications.Delivery) error {
	n := d.Notification
	targets := h.snapshot(func(c *hubClient) bool {
		if n.UserID != "" && c.claims.UserID() == n.UserID {
			return true
		}
		if d.BranchID != "" && c.subscribed(realtime.SubscribeBranch, d.BranchID) {
			return true
		}
		return d.Role != "" && c.subscribed(realtime.SubscribeRole, d.Role)
	})
	h.push(targets, realtime.TypeNotification, n)
	return nil
}

// BroadcastAlert sends a system alert to every connection.
func (h *Hub) BroadcastAlert(alert notifications.SystemAlert) int {
	targets := h.snapshot(func(*hubClient) bool { return true })
	return h.push(targets, realtime.TypeSystemAlert, alert)
}

// PublishDataChange announces a data mutation to connections subscribed to
// the change's branch, or to everyone when it has none.
func (h *Hub) PublishDataChange(kind realtime.MessageType, change realtime.DataChangePayload) (int, error) {
	if !kind.IsDataChange() {
		return 0, errors.New("not a data change type: " + string(kind))
	}
	targets := h.snapshot(func(c *hubClient) bool {
		return change.BranchID == "" ||
			c.subscribed(realtime.SubscribeBranch, change.BranchID) ||
			c.subscribed(realtime.SubscribeResource, change.Table)
	})
	return h.push(targets, kind, change), nil
}

// EchoRead tells the user's other connections that id was read.
func (h *Hub) EchoRead(userID string, except *hubClient, id string) int {
	targets := h.snapshot(func(c *hubClient) bool { return c != except && c.claims.UserID() == userID })
	return h.push(targets, realtime.TypeNotificationRead, realtime.MarkReadPayload{NotificationID: id})
}

// EchoReadAll tells the user's other connections that everything was read.
func (h *Hub) EchoReadAll(userID string, except *hubClient) int {
	targets := h.snapshot(func(c *hubClient) bool { return c != except && c.claims.UserID() == userID })
	return h.push(targets, realtime.TypeNotificationsReadAll, nil)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, core.ErrRecordNotFound):
		return "not_found"
	case errors.Is(err, core.ErrInvalidInput), errors.Is(err, core.ErrMissingRequired):
		return "bad_request"
	default:
		return "internal"
	}
}
