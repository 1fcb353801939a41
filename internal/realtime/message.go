// Package realtime is the push-channel client: one websocket connection with
// an auth handshake, subscription bookkeeping and reconnection with backoff.
package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType tags every frame on the push channel
type MessageType string

const (
	// Server pushes
	TypeNotification         MessageType = "notification"
	TypeSystemAlert          MessageType = "system_alert"
	TypeDataInsert           MessageType = "data_insert"
	TypeDataUpdate           MessageType = "data_update"
	TypeDataDelete           MessageType = "data_delete"
	TypeNotificationRead     MessageType = "notification_read"
	TypeNotificationsReadAll MessageType = "notifications_read_all"

	// Control plane
	TypeAck                MessageType = "ack"
	TypeAuthResult         MessageType = "auth_result"
	TypeSubscriptionResult MessageType = "subscription_result"
	TypePong               MessageType = "pong"
	TypeError              MessageType = "error"

	// Client to server
	TypeAuth        MessageType = "auth"
	TypePing        MessageType = "ping"
	TypeMarkRead    MessageType = "mark_read"
	TypeMarkAllRead MessageType = "mark_all_read"
)

// IsControl reports whether the type belongs to the control plane.
func (t MessageType) IsControl() bool {
	switch t {
	case TypeAck, TypeAuthResult, TypeSubscriptionResult, TypePong, TypeError:
		return true
	}
	return false
}

// IsDataChange reports whether the type announces a change to server data.
func (t MessageType) IsDataChange() bool {
	return t == TypeDataInsert || t == TypeDataUpdate || t == TypeDataDelete
}

// Close codes with protocol meaning.
const (
	// CloseReplaced is sent when a newer connection for the same user and
	// device takes over.
	CloseReplaced = 4000
	// CloseAuthRejected is sent when the server refuses the credentials.
	CloseAuthRejected = 4001
)

// Message is the envelope for every frame except subscription frames.
type Message struct {
	Type      MessageType     `json:"type"`
	MessageID string          `json:"message_id,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds a message with a fresh ID and timestamp.
func NewMessage(typ MessageType, payload interface{}) (Message, error) {
	now := time.Now().UTC()
	msg := Message{
		Type:      typ,
		MessageID: uuid.NewString(),
		Timestamp: &now,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		msg.Payload = raw
	}
	return msg, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	return json.Unmarshal(m.Payload, v)
}

// AuthPayload is sent right after the socket opens.
type AuthPayload struct {
	Token    string `json:"token"`
	DeviceID string `json:"device_id,omitempty"`
}

// AuthResult answers AuthPayload.
type AuthResult struct {
	Success bool   `json:"success"`
	UserID  string `json:"user_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SubscriptionAction is the verb of a subscription frame
type SubscriptionAction string

const (
	ActionSubscribe   SubscriptionAction = "subscribe"
	ActionUnsubscribe SubscriptionAction = "unsubscribe"
)

// SubscriptionFrame is sent bare, without the Message envelope.
type SubscriptionFrame struct {
	Action           SubscriptionAction `json:"action"`
	SubscriptionType SubscriptionType   `json:"subscription_type"`
	Resource         string             `json:"resource"`
	Filters          map[string]any     `json:"filters,omitempty"`
}

// SubscriptionResult answers a subscribe frame.
type SubscriptionResult struct {
	SubscriptionID string `json:"subscription_id"`
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
}

// MarkReadPayload carries the ID for mark_read and notification_read.
type MarkReadPayload struct {
	NotificationID string `json:"notification_id"`
}

// AckPayload acknowledges a client message.
type AckPayload struct {
	MessageID string `json:"message_id,omitempty"`
	Status    string `json:"status,omitempty"`
}

// ErrorPayload describes a server-side failure.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// DataChangePayload accompanies data_insert, data_update and data_delete.
type DataChangePayload struct {
	Table    string         `json:"table"`
	RecordID string         `json:"record_id,omitempty"`
	BranchID string         `json:"branch_id,omitempty"`
	Record   map[string]any `json:"record,omitempty"`
}

// CloseEvent describes why a connection ended.
type CloseEvent struct {
	Code     int
	Reason   string
	WasClean bool
}

// IsAuthRejection reports whether the server closed because of credentials.
func (e CloseEvent) IsAuthRejection() bool {
	return e.Code == CloseAuthRejected
}
