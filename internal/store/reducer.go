// Package store holds notification state: a pure reducer and the Store
// container that dispatches actions, runs effects and notifies listeners.
package store

import (
	"sort"
	"time"

	"github.com/schoolhub/schoolhub/internal/notifications"
)

// State is an immutable snapshot of the notification center.
type State struct {
	Notifications   []notifications.Notification
	Alerts          []notifications.SystemAlert
	Stats           notifications.Stats
	Connection      notifications.ConnectionState
	IsConnected     bool
	IsAuthenticated bool

	// Version increases with every dispatch. The reducer leaves it alone.
	Version uint64
}

// InitialState is the state of a fresh store.
func InitialState() State {
	return State{Connection: notifications.StateDisconnected}
}

// UnreadCount is a convenience for Stats.Unread.
func (s State) UnreadCount() int {
	return s.Stats.Unread
}

// Notification looks up a notification by ID.
func (s State) Notification(id string) (notifications.Notification, bool) {
	for _, n := range s.Notifications {
		if n.ID == id {
			return n, true
		}
	}
	return notifications.Notification{}, false
}

// Alert looks up an alert by ID.
func (s State) Alert(id string) (notifications.SystemAlert, bool) {
	for _, a := range s.Alerts {
		if a.ID == id {
			return a, true
		}
	}
	return notifications.SystemAlert{}, false
}

// ActiveAlerts returns the alerts that have not been dismissed.
func (s State) ActiveAlerts() []notifications.SystemAlert {
	var out []notifications.SystemAlert
	for _, a := range s.Alerts {
		if !a.Dismissed {
			out = append(out, a)
		}
	}
	return out
}

// ComputeStats derives the counters from the collection.
func ComputeStats(list []notifications.Notification, now time.Time) notifications.Stats {
	return notifications.ComputeStats(list, now)
}

// Reducer applies actions to state. It never mutates its input; Now is the
// only source of time it consults.
type Reducer struct {
	Now func() time.Time
}

func (r Reducer) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Reduce applies a with the wall clock.
func Reduce(s State, a Action) State {
	return Reducer{}.Reduce(s, a)
}

// Reduce returns the state after a.
func (r Reducer) Reduce(s State, a Action) State {
	switch a := a.(type) {
	case AddNotification:
		list := make([]notifications.Notification, 0, len(s.Notifications)+1)
		list = append(list, a.Notification.Clone())
		for _, n := range s.Notifications {
			if n.ID != a.Notification.ID {
				list = append(list, n)
			}
		}
		return r.withNotifications(s, list)

	case AddSystemAlert:
		alerts := make([]notifications.SystemAlert, 0, len(s.Alerts)+1)
		alerts = append(alerts, a.Alert)
		for _, existing := range s.Alerts {
			if existing.ID != a.Alert.ID {
				alerts = append(alerts, existing)
			}
		}
		s.Alerts = alerts
		return s

	case MarkRead:
		idx := indexOf(s.Notifications, a.ID)
		if idx < 0 || s.Notifications[idx].Read {
			return s
		}
		list := cloneList(s.Notifications)
		list[idx].Read = true
		return r.withNotifications(s, list)

	case MarkAllRead:
		if !anyUnread(s.Notifications) {
			return s
		}
		list := cloneList(s.Notifications)
		for i := range list {
			list[i].Read = true
		}
		return r.withNotifications(s, list)

	case MarkClicked:
		idx := indexOf(s.Notifications, a.ID)
		if idx < 0 || s.Notifications[idx].Clicked {
			return s
		}
		list := cloneList(s.Notifications)
		list[idx].Clicked = true
		s.Notifications = list
		return s

	case RemoveNotification:
		if indexOf(s.Notifications, a.ID) < 0 {
			return s
		}
		list := make([]notifications.Notification, 0, len(s.Notifications)-1)
		for _, n := range s.Notifications {
			if n.ID != a.ID {
				list = append(list, n)
			}
		}
		return r.withNotifications(s, list)

	case DismissAlert:
		idx := -1
		for i, alert := range s.Alerts {
			if alert.ID == a.ID {
				idx = i
				break
			}
		}
		if idx < 0 || s.Alerts[idx].Dismissed {
			return s
		}
		alerts := make([]notifications.SystemAlert, len(s.Alerts))
		copy(alerts, s.Alerts)
		at := r.now()
		alerts[idx].Dismissed = true
		alerts[idx].DismissedAt = &at
		s.Alerts = alerts
		return s

	case SetConnectionStatus:
		s.Connection = a.Status
		s.IsConnected = a.Status.IsConnected()
		s.IsAuthenticated = a.Status.IsAuthenticated()
		return s

	case ClearExpired:
		now := a.Now
		if now.IsZero() {
			now = r.now()
		}
		list := make([]notifications.Notification, 0, len(s.Notifications))
		for _, n := range s.Notifications {
			if !n.IsExpired(now) {
				list = append(list, n)
			}
		}
		alerts := make([]notifications.SystemAlert, 0, len(s.Alerts))
		for _, alert := range s.Alerts {
			if !alert.Expired(now) {
				alerts = append(alerts, alert)
			}
		}
		s.Alerts = alerts
		return r.withNotifications(s, list)

	case LoadNotifications:
		list := make([]notifications.Notification, 0, len(a.Notifications))
		seen := make(map[string]bool, len(a.Notifications))
		for _, n := range a.Notifications {
			if seen[n.ID] {
				continue
			}
			seen[n.ID] = true
			list = append(list, n.Clone())
		}
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Timestamp.After(list[j].Timestamp)
		})
		return r.withNotifications(s, list)

	default:
		return s
	}
}

func (r Reducer) withNotifications(s State, list []notifications.Notification) State {
	s.Notifications = list
	s.Stats = ComputeStats(list, r.now())
	return s
}

func indexOf(list []notifications.Notification, id string) int {
	for i, n := range list {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func cloneList(list []notifications.Notification) []notifications.Notification {
	out := make([]notifications.Notification, len(list))
	copy(out, list)
	return out
}

func anyUnread(list []notifications.Notification) bool {
	for _, n := range list {
		if !n.Read {
			return true
		}
	}
	return false
}
