// Package notifications defines the SchoolHub notification model shared by the
// realtime client, the store and the development backend.
package notifications

import (
	"encoding/json"
	"strings"
	"time"
)

// Priority of a notification
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority maps free-form input onto a known priority. Unknown values
// become medium.
func ParsePriority(s string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityLow:
		return PriorityLow
	case PriorityHigh:
		return PriorityHigh
	case PriorityUrgent:
		return PriorityUrgent
	default:
		return PriorityMedium
	}
}

// Notification is the single client-side notification shape. Records from the
// push channel and from the REST API are both normalized into it.
type Notification struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Priority   Priority       `json:"priority"`
	Category   string         `json:"category,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Read       bool           `json:"read"`
	Clicked    bool           `json:"clicked"`
	ActionURL  string         `json:"action_url,omitempty"`
	ActionText string         `json:"action_text,omitempty"`
	SenderName string         `json:"sender_name,omitempty"`
	SenderRole string         `json:"sender_role,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`

	// UserID is the recipient; only the backend fills it in.
	UserID string `json:"user_id,omitempty"`
}

// IsHighPriority reports whether the notification counts as high priority.
func (n Notification) IsHighPriority() bool {
	return n.Priority == PriorityHigh || n.Priority == PriorityUrgent
}

// IsExpired reports whether the expiry time has been reached.
func (n Notification) IsExpired(now time.Time) bool {
	return n.ExpiresAt != nil && !n.ExpiresAt.After(now)
}

// IsToday reports whether the notification was created on now's calendar day,
// in now's location.
func (n Notification) IsToday(now time.Time) bool {
	ty, tm, td := n.Timestamp.In(now.Location()).Date()
	ny, nm, nd := now.Date()
	return ty == ny && tm == nm && td == nd
}

// HasAction reports whether the notification links somewhere.
func (n Notification) HasAction() bool {
	return n.ActionURL != ""
}

// Clone returns a copy that shares no mutable state with n.
func (n Notification) Clone() Notification {
	c := n
	if n.Data != nil {
		c.Data = make(map[string]any, len(n.Data))
		for k, v := range n.Data {
			c.Data[k] = v
		}
	}
	if n.ExpiresAt != nil {
		t := *n.ExpiresAt
		c.ExpiresAt = &t
	}
	return c
}

// AlertType is the severity of a system alert
type AlertType string

const (
	AlertInfo    AlertType = "info"
	AlertWarning AlertType = "warning"
	AlertError   AlertType = "error"
	AlertSuccess AlertType = "success"
)

// ParseAlertType maps input onto a known alert type, defaulting to info.
func ParseAlertType(s string) AlertType {
	switch AlertType(strings.ToLower(strings.TrimSpace(s))) {
	case AlertWarning:
		return AlertWarning
	case AlertError:
		return AlertError
	case AlertSuccess:
		return AlertSuccess
	default:
		return AlertInfo
	}
}

// SystemAlert is a session-only, server-wide message.
type SystemAlert struct {
	ID           string
	Type         AlertType
	Title        string
	Message      string
	Timestamp    time.Time
	Dismissed    bool
	AutoDismiss  bool
	DismissAfter time.Duration

	// DismissedAt is set locally when the alert is dismissed.
	DismissedAt *time.Time
}

type alertJSON struct {
	ID            string     `json:"id"`
	Type          AlertType  `json:"type"`
	Title         string     `json:"title"`
	Message       string     `json:"message"`
	Timestamp     time.Time  `json:"timestamp"`
	Dismissed     bool       `json:"dismissed,omitempty"`
	AutoDismiss   bool       `json:"auto_dismiss,omitempty"`
	AutoDismissMS int64      `json:"auto_dismiss_ms,omitempty"`
	DismissedAt   *time.Time `json:"dismissed_at,omitempty"`
}

// MarshalJSON encodes the dismiss delay as milliseconds.
func (a SystemAlert) MarshalJSON() ([]byte, error) {
	return json.Marshal(alertJSON{
		ID:            a.ID,
		Type:          a.Type,
		Title:         a.Title,
		Message:       a.Message,
		Timestamp:     a.Timestamp,
		Dismissed:     a.Dismissed,
		AutoDismiss:   a.AutoDismiss,
		AutoDismissMS: a.DismissAfter.Milliseconds(),
		DismissedAt:   a.DismissedAt,
	})
}

// UnmarshalJSON decodes the wire shape, normalizing the alert type.
func (a *SystemAlert) UnmarshalJSON(data []byte) error {
	var raw alertJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = SystemAlert{
		ID:           raw.ID,
		Type:         ParseAlertType(string(raw.Type)),
		Title:        raw.Title,
		Message:      raw.Message,
		Timestamp:    raw.Timestamp,
		Dismissed:    raw.Dismissed,
		AutoDismiss:  raw.AutoDismiss,
		DismissAfter: time.Duration(raw.AutoDismissMS) * time.Millisecond,
		DismissedAt:  raw.DismissedAt,
	}
	return nil
}

// Expired reports whether a dismissed alert may be dropped. Alerts without
// auto-dismiss go as soon as they are dismissed.
func (a SystemAlert) Expired(now time.Time) bool {
	if !a.Dismissed {
		return false
	}
	if !a.AutoDismiss || a.DismissedAt == nil {
		return true
	}
	return !a.DismissedAt.Add(a.DismissAfter).After(now)
}

// ConnectionState of the realtime transport
type ConnectionState string

const (
	StateDisconnected   ConnectionState = "disconnected"
	StateConnecting     ConnectionState = "connecting"
	StateConnected      ConnectionState = "connected"
	StateAuthenticating ConnectionState = "authenticating"
	StateAuthenticated  ConnectionState = "authenticated"
	StateReconnecting   ConnectionState = "reconnecting"
	StateError          ConnectionState = "error"
)

// IsConnected reports whether a socket is open.
func (s ConnectionState) IsConnected() bool {
	return s == StateConnected || s == StateAuthenticating || s == StateAuthenticated
}

// IsAuthenticated reports whether the handshake has completed.
func (s ConnectionState) IsAuthenticated() bool {
	return s == StateAuthenticated
}

// Stats are derived from a notification collection.
type Stats struct {
	Total        int `json:"total"`
	Unread       int `json:"unread"`
	Today        int `json:"today"`
	HighPriority int `json:"high_priority"`
}

// ComputeStats derives stats from scratch.
func ComputeStats(list []Notification, now time.Time) Stats {
	s := Stats{Total: len(list)}
	for _, n := range list {
		if !n.Read {
			s.Unread++
		}
		if n.IsToday(now) {
			s.Today++
		}
		if n.IsHighPriority() {
			s.HighPriority++
		}
	}
	return s
}
