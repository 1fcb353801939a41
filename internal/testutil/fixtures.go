package testutil

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/schoolhub/schoolhub/internal/notifications"
)

// RandomID generates a random ID for testing.
func RandomID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// NotificationRequest returns a create request addressed to userID.
func NotificationRequest(userID string) notifications.CreateRequest {
	return notifications.CreateRequest{
		UserID:     userID,
		Type:       "announcement",
		Title:      "Parent evening",
		Message:    "Thursday at 18:00 in the main hall.",
		Priority:   string(notifications.PriorityMedium),
		Category:   "events",
		ActionURL:  "https://schoolhub.example/events/42",
		SenderName: "Front Office",
		SenderRole: "staff",
	}
}

// NotificationFixture returns a client-side notification created at ts.
func NotificationFixture(priority notifications.Priority, ts time.Time) notifications.Notification {
	return notifications.Notification{
		ID:        "notif-" + RandomID(),
		Type:      "general",
		Title:     "Test notification",
		Message:   "This is the test notification body.",
		Priority:  priority,
		Timestamp: ts,
	}
}

// RecordFixture returns a REST record as the API would serve it.
func RecordFixture(id string, read bool) notifications.Record {
	created := time.Now().UTC().Add(-time.Minute)
	return notifications.Record{
		ID:               id,
		NotificationType: "general",
		Title:            "Record " + id,
		Message:          "body",
		Priority:         string(notifications.PriorityMedium),
		CreatedAt:        &created,
		IsRead:           read,
	}
}
