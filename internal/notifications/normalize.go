package notifications

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/schoolhub/schoolhub/internal/core"
)

// Sender as returned by the REST API
type Sender struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// Record is the REST representation of a notification.
type Record struct {
	ID               string         `json:"id"`
	NotificationType string         `json:"notification_type"`
	Title            string         `json:"title"`
	Message          string         `json:"message"`
	Priority         string         `json:"priority"`
	Category         string         `json:"category,omitempty"`
	CreatedAt        *time.Time     `json:"created_at,omitempty"`
	IsRead           bool           `json:"is_read"`
	IsClicked        bool           `json:"is_clicked"`
	ActionURL        string         `json:"action_url,omitempty"`
	ActionText       string         `json:"action_text,omitempty"`
	Sender           *Sender        `json:"sender,omitempty"`
	Data             map[string]any `json:"data,omitempty"`
	ExpiresAt        *time.Time     `json:"expires_at,omitempty"`
}

// ToRecord renders n in the REST shape.
func ToRecord(n Notification) Record {
	created := n.Timestamp
	r := Record{
		ID:               n.ID,
		NotificationType: n.Type,
		Title:            n.Title,
		Message:          n.Message,
		Priority:         string(n.Priority),
		Category:         n.Category,
		CreatedAt:        &created,
		IsRead:           n.Read,
		IsClicked:        n.Clicked,
		ActionURL:        n.ActionURL,
		ActionText:       n.ActionText,
		Data:             n.Data,
		ExpiresAt:        n.ExpiresAt,
	}
	if n.SenderName != "" || n.SenderRole != "" {
		r.Sender = &Sender{Name: n.SenderName, Role: n.SenderRole}
	}
	return r
}

// Normalizer maps inbound records onto Notification. Now supplies the
// timestamp for records that carry none.
type Normalizer struct {
	Now func() time.Time
}

func (z Normalizer) now() time.Time {
	if z.Now != nil {
		return z.Now()
	}
	return time.Now()
}

// FromPayload decodes a realtime notification payload.
func (z Normalizer) FromPayload(raw json.RawMessage) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return Notification{}, fmt.Errorf("%w: notification payload: %v", core.ErrInvalidInput, err)
	}
	if strings.TrimSpace(n.ID) == "" {
		return Notification{}, fmt.Errorf("%w: notification without id", core.ErrInvalidInput)
	}
	n.Priority = ParsePriority(string(n.Priority))
	if n.Timestamp.IsZero() {
		n.Timestamp = z.now()
	}
	n.UserID = ""
	return n, nil
}

// FromRecord converts a REST record.
func (z Normalizer) FromRecord(r Record) (Notification, error) {
	if strings.TrimSpace(r.ID) == "" {
		return Notification{}, fmt.Errorf("%w: record without id", core.ErrInvalidInput)
	}
	n := Notification{
		ID:         r.ID,
		Type:       r.NotificationType,
		Title:      r.Title,
		Message:    r.Message,
		Priority:   ParsePriority(r.Priority),
		Category:   r.Category,
		Read:       r.IsRead,
		Clicked:    r.IsClicked,
		ActionURL:  r.ActionURL,
		ActionText: r.ActionText,
		Data:       r.Data,
		ExpiresAt:  r.ExpiresAt,
	}
	if r.CreatedAt != nil && !r.CreatedAt.IsZero() {
		n.Timestamp = *r.CreatedAt
	} else {
		n.Timestamp = z.now()
	}
	if r.Sender != nil {
		n.SenderName = r.Sender.Name
		n.SenderRole = r.Sender.Role
	}
	return n, nil
}

// FromRecords converts a page of REST records, skipping malformed entries.
func (z Normalizer) FromRecords(records []Record) []Notification {
	out := make([]Notification, 0, len(records))
	for _, r := range records {
		n, err := z.FromRecord(r)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

// AlertFromPayload decodes a realtime system alert payload.
func (z Normalizer) AlertFromPayload(raw json.RawMessage) (SystemAlert, error) {
	var a SystemAlert
	if err := json.Unmarshal(raw, &a); err != nil {
		return SystemAlert{}, fmt.Errorf("%w: alert payload: %v", core.ErrInvalidInput, err)
	}
	if strings.TrimSpace(a.ID) == "" {
		return SystemAlert{}, fmt.Errorf("%w: alert without id", core.ErrInvalidInput)
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = z.now()
	}
	return a, nil
}

// FromPayload normalizes with the wall clock.
func FromPayload(raw json.RawMessage) (Notification, error) {
	return Normalizer{}.FromPayload(raw)
}

// FromRecord normalizes with the wall clock.
func FromRecord(r Record) (Notification, error) {
	return Normalizer{}.FromRecord(r)
}
