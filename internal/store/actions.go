package store

import (
	"time"

	"github.com/schoolhub/schoolhub/internal/notifications"
)

// Action is anything the reducer can be asked to apply. Types the reducer
// does not recognise leave the state unchanged.
type Action interface {
	ActionType() string
}

// AddNotification prepends a notification. A notification whose ID is already
// present replaces the old entry.
type AddNotification struct {
	Notification notifications.Notification
}

// AddSystemAlert prepends an alert, replacing any alert with the same ID.
type AddSystemAlert struct {
	Alert notifications.SystemAlert
}

// MarkRead marks one notification read.
type MarkRead struct {
	ID string
}

// MarkAllRead marks every notification read.
type MarkAllRead struct{}

// MarkClicked records that a notification's action was followed.
type MarkClicked struct {
	ID string
}

// RemoveNotification deletes a notification.
type RemoveNotification struct {
	ID string
}

// DismissAlert flags an alert dismissed without removing it.
type DismissAlert struct {
	ID string
}

// SetConnectionStatus mirrors the transport state into the store.
type SetConnectionStatus struct {
	Status notifications.ConnectionState
}

// ClearExpired drops expired notifications and spent alerts. A zero Now uses
// the reducer's clock.
type ClearExpired struct {
	Now time.Time
}

// LoadNotifications replaces the whole collection.
type LoadNotifications struct {
	Notifications []notifications.Notification
}

func (AddNotification) ActionType() string     { return "add_notification" }
func (AddSystemAlert) ActionType() string      { return "add_system_alert" }
func (MarkRead) ActionType() string            { return "mark_read" }
func (MarkAllRead) ActionType() string         { return "mark_all_read" }
func (MarkClicked) ActionType() string         { return "mark_clicked" }
func (RemoveNotification) ActionType() string  { return "remove_notification" }
func (DismissAlert) ActionType() string        { return "dismiss_alert" }
func (SetConnectionStatus) ActionType() string { return "set_connection_status" }
func (ClearExpired) ActionType() string        { return "clear_expired" }
func (LoadNotifications) ActionType() string   { return "load_notifications" }
