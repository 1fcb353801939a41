package notifications

import (
	"testing"
	"time"
)

func TestNotification_IsToday(t *testing.T) {
	loc := time.FixedZone("EAT", 3*60*60)
	now := time.Date(2026, 3, 10, 1, 0, 0, 0, loc) // 2026-03-09 22:00 UTC

	tests := []struct {
		name string
		ts   time.Time
		want bool
	}{
		{"same local day", time.Date(2026, 3, 10, 0, 30, 0, 0, loc), true},
		{"utc yesterday but local today", time.Date(2026, 3, 9, 21, 30, 0, 0, time.UTC), true},
		{"local yesterday", time.Date(2026, 3, 9, 23, 59, 0, 0, loc), false},
		{"zero time", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := Notification{Timestamp: tt.ts}
			if got := n.IsToday(now); got != tt.want {
				t.Errorf("IsToday() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNotification_IsExpired(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	if (Notification{}).IsExpired(now) {
		t.Error("no expiry should never expire")
	}
	if !(Notification{ExpiresAt: &past}).IsExpired(now) {
		t.Error("past expiry should be expired")
	}
	if !(Notification{ExpiresAt: &now}).IsExpired(now) {
		t.Error("expiry equal to now should be expired")
	}
	if (Notification{ExpiresAt: &future}).IsExpired(now) {
		t.Error("future expiry should not be expired")
	}
}

func TestNotification_Clone(t *testing.T) {
	exp := time.Now()
	n := Notification{ID: "n1", Data: map[string]any{"k": "v"}, ExpiresAt: &exp}
	c := n.Clone()

	c.Data["k"] = "changed"
	*c.ExpiresAt = exp.Add(time.Hour)

	if n.Data["k"] != "v" {
		t.Error("clone shares Data with original")
	}
	if !n.ExpiresAt.Equal(exp) {
		t.Error("clone shares ExpiresAt with original")
	}
}

func TestSystemAlert_Expired(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	at := now.Add(-3 * time.Second)

	tests := []struct {
		name  string
		alert SystemAlert
		want  bool
	}{
		{"active", SystemAlert{}, false},
		{"dismissed manual", SystemAlert{Dismissed: true}, true},
		{"auto window elapsed", SystemAlert{Dismissed: true, AutoDismiss: true, DismissAfter: 2 * time.Second, DismissedAt: &at}, true},
		{"auto window open", SystemAlert{Dismissed: true, AutoDismiss: true, DismissAfter: 5 * time.Second, DismissedAt: &at}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.alert.Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConnectionState(t *testing.T) {
	tests := []struct {
		state         ConnectionState
		connected     bool
		authenticated bool
	}{
		{StateDisconnected, false, false},
		{StateConnecting, false, false},
		{StateConnected, true, false},
		{StateAuthenticating, true, false},
		{StateAuthenticated, true, true},
		{StateReconnecting, false, false},
		{StateError, false, false},
	}

	for _, tt := range tests {
		if got := tt.state.IsConnected(); got != tt.connected {
			t.Errorf("%s.IsConnected() = %v", tt.state, got)
		}
		if got := tt.state.IsAuthenticated(); got != tt.authenticated {
			t.Errorf("%s.IsAuthenticated() = %v", tt.state, got)
		}
	}
}

func TestComputeStats(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	list := []Notification{
		{ID: "1", Priority: PriorityUrgent, Timestamp: now},
		{ID: "2", Priority: PriorityHigh, Timestamp: now.Add(-48 * time.Hour), Read: true},
		{ID: "3", Priority: PriorityLow, Timestamp: now.Add(-time.Hour)},
		{ID: "4", Priority: PriorityMedium, Timestamp: now.Add(-30 * time.Hour), Read: true},
	}

	got := ComputeStats(list, now)
	want := Stats{Total: 4, Unread: 2, Today: 2, HighPriority: 2}
	if got != want {
		t.Errorf("ComputeStats() = %+v, want %+v", got, want)
	}

	if (ComputeStats(nil, now) != Stats{}) {
		t.Error("empty collection should have zero stats")
	}
}
