package ui

import (
	"fmt"
	"time"

	"github.com/schoolhub/schoolhub/internal/notifications"
)

// StatusIndicator is the connection hint shown to the user. It is empty
// while the push channel is authenticated.
func StatusIndicator(s notifications.ConnectionState) string {
	switch s {
	case notifications.StateAuthenticated:
		return ""
	case notifications.StateConnecting, notifications.StateConnected, notifications.StateAuthenticating:
		return "connecting…"
	case notifications.StateReconnecting:
		return "reconnecting…"
	default:
		return "offline"
	}
}

// RelativeTime formats t relative to now: "just now", "5m", "3h", "2d".
func RelativeTime(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
