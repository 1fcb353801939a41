package ui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/schoolhub/internal/effects"
	"github.com/schoolhub/schoolhub/internal/notifications"
	"github.com/schoolhub/schoolhub/internal/store"
)

type fakeController struct {
	calls   []string
	err     error
	sound   []bool
	removed []string
}

func (f *fakeController) MarkAsRead(_ context.Context, id string) error {
	f.calls = append(f.calls, "read:"+id)
	return f.err
}

func (f *fakeController) MarkAllAsRead(context.Context) error {
	f.calls = append(f.calls, "read-all")
	return f.err
}

func (f *fakeController) Open(_ context.Context, id string) error {
	f.calls = append(f.calls, "open:"+id)
	return f.err
}

func (f *fakeController) Remove(id string) {
	f.removed = append(f.removed, id)
}

func (f *fakeController) SetSoundEnabled(_ context.Context, enabled bool) error {
	f.sound = append(f.sound, enabled)
	return f.err
}

func createTestState() store.State {
	now := time.Now()
	list := []notifications.Notification{
		{ID: "n1", Title: "Trip form due", Priority: notifications.PriorityUrgent, Timestamp: now},
		{ID: "n2", Title: "Lunch menu", Priority: notifications.PriorityLow, Timestamp: now.Add(-2 * time.Hour), Read: true},
		{ID: "n3", Title: "Grades posted", Priority: notifications.PriorityMedium, Timestamp: now.Add(-3 * 24 * time.Hour)},
	}
	st := store.InitialState()
	st.Notifications = list
	st.Stats = notifications.ComputeStats(list, now)
	st.Connection = notifications.StateAuthenticated
	return st
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m Model, keys ...string) (Model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = m.Update(keyMsg(k))
		m = next.(Model)
	}
	return m, cmd
}

// =============================================================================
// Status Tests
// =============================================================================

func TestStatusIndicator(t *testing.T) {
	tests := []struct {
		state notifications.ConnectionState
		want  string
	}{
		{notifications.StateAuthenticated, ""},
		{notifications.StateConnecting, "connecting…"},
		{notifications.StateConnected, "connecting…"},
		{notifications.StateAuthenticating, "connecting…"},
		{notifications.StateReconnecting, "reconnecting…"},
		{notifications.StateDisconnected, "offline"},
		{notifications.StateError, "offline"},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusIndicator(tt.state))
		})
	}
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{10 * time.Second, "just now"},
		{5 * time.Minute, "5m"},
		{3 * time.Hour, "3h"},
		{50 * time.Hour, "2d"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, RelativeTime(now.Add(-tt.ago), now))
	}
}

// =============================================================================
// Printer Tests
// =============================================================================

func TestPrinter_Show(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.Show(effects.Toast{Title: "Bus delayed", Message: "20 minutes", Severity: effects.SeverityError, Action: &effects.ToastAction{Label: "View"}})

	out := buf.String()
	assert.Contains(t, out, "Bus delayed")
	assert.Contains(t, out, "20 minutes")
	assert.Contains(t, out, "error")
	assert.Contains(t, out, "(View)")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestPrinter_Notification(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintNotification(notifications.Notification{ID: "n1", Title: "Grades posted", Priority: notifications.PriorityHigh, Timestamp: time.Now()})
	p.PrintStats(notifications.Stats{Total: 4, Unread: 2})
	p.PrintStatus(notifications.StateAuthenticated)
	p.PrintStatus(notifications.StateReconnecting)

	out := buf.String()
	assert.Contains(t, out, "Grades posted")
	assert.Contains(t, out, "n1")
	assert.Contains(t, out, "4 total · 2 unread")
	assert.Contains(t, out, "online")
	assert.Contains(t, out, "reconnecting…")
}

// =============================================================================
// Model Tests
// =============================================================================

func TestModel_CursorClamps(t *testing.T) {
	m := NewModel(&fakeController{}, createTestState(), true)

	m, _ = press(t, m, "k")
	assert.Equal(t, 0, m.Cursor())

	m, _ = press(t, m, "j", "down", "j", "j")
	assert.Equal(t, 2, m.Cursor())

	shorter := createTestState()
	shorter.Notifications = shorter.Notifications[:1]
	next, _ := m.Update(StateMsg{State: shorter})
	assert.Equal(t, 0, next.(Model).Cursor())
}

func TestModel_IgnoresStaleSnapshots(t *testing.T) {
	current := createTestState()
	current.Version = 7
	m := NewModel(&fakeController{}, current, true)

	stale := createTestState()
	stale.Version = 6
	stale.Notifications = nil
	next, _ := m.Update(StateMsg{State: stale})
	assert.Contains(t, next.(Model).View(), "Trip form due", "older snapshot must not replace a newer one")

	newer := createTestState()
	newer.Version = 8
	newer.Notifications = newer.Notifications[:1]
	next, _ = next.(Model).Update(StateMsg{State: newer})
	assert.NotContains(t, next.(Model).View(), "Lunch menu")
}

func TestModel_Actions(t *testing.T) {
	tests := []struct {
		name string
		keys []string
		want []string
	}{
		{"read selected", []string{"j", "r"}, []string{"read:n2"}},
		{"read all", []string{"R"}, []string{"read-all"}},
		{"open selected", []string{"j", "j", "enter"}, []string{"open:n3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeController{}
			m := NewModel(ctrl, createTestState(), true)

			_, cmd := press(t, m, tt.keys...)
			require.NotNil(t, cmd)
			msg := cmd()

			done, ok := msg.(ActionDoneMsg)
			require.True(t, ok)
			assert.NoError(t, done.Err)
			assert.Equal(t, tt.want, ctrl.calls)
		})
	}
}

func TestModel_ActionFailureFlashes(t *testing.T) {
	ctrl := &fakeController{err: errors.New("server unavailable")}
	m := NewModel(ctrl, createTestState(), true)

	m, cmd := press(t, m, "r")
	next, _ := m.Update(cmd())
	m = next.(Model)

	assert.Contains(t, m.Flash(), "mark read failed")
	assert.Contains(t, m.View(), "server unavailable")
}

func TestModel_Remove(t *testing.T) {
	ctrl := &fakeController{}
	m := NewModel(ctrl, createTestState(), true)

	_, cmd := press(t, m, "x")

	assert.Nil(t, cmd)
	assert.Equal(t, []string{"n1"}, ctrl.removed)
}

func TestModel_EmptyListIgnoresSelectionKeys(t *testing.T) {
	ctrl := &fakeController{}
	m := NewModel(ctrl, store.InitialState(), true)

	_, cmd := press(t, m, "r", "enter", "x")

	assert.Nil(t, cmd)
	assert.Empty(t, ctrl.calls)
	assert.Empty(t, ctrl.removed)
	assert.Contains(t, m.View(), "No notifications")
}

func TestModel_ToggleSound(t *testing.T) {
	ctrl := &fakeController{}
	m := NewModel(ctrl, createTestState(), true)

	m, cmd := press(t, m, "s")
	next, _ := m.Update(cmd())
	m = next.(Model)

	assert.False(t, m.SoundOn())
	assert.Equal(t, []bool{false}, ctrl.sound)
	assert.Contains(t, m.View(), "sound off")
}

func TestModel_Quit(t *testing.T) {
	m := NewModel(&fakeController{}, createTestState(), true)

	_, cmd := press(t, m, "q")
	require.NotNil(t, cmd)

	_, ok := cmd().(tea.QuitMsg)
	assert.True(t, ok)
}

func TestModel_View(t *testing.T) {
	st := createTestState()
	st.Alerts = []notifications.SystemAlert{{ID: "a1", Type: notifications.AlertWarning, Title: "Snow day", Message: "School closed"}}
	m := NewModel(&fakeController{}, st, true)

	view := m.View()
	assert.Contains(t, view, "Trip form due")
	assert.Contains(t, view, "Lunch menu")
	assert.Contains(t, view, "Snow day")
	assert.Contains(t, view, "2 unread")
	assert.NotContains(t, view, "offline")

	st.Connection = notifications.StateReconnecting
	next, _ := m.Update(StateMsg{State: st})
	assert.Contains(t, next.(Model).View(), "reconnecting…")
}

func TestModel_ToastFlashes(t *testing.T) {
	m := NewModel(&fakeController{}, createTestState(), true)

	next, _ := m.Update(ToastMsg{Toast: effects.Toast{Title: "Update failed", Message: "Failed to update notifications"}})

	assert.Equal(t, "Update failed: Failed to update notifications", next.(Model).Flash())
}

func TestToasts_DroppedUntilAttached(t *testing.T) {
	var toasts Toasts

	assert.NotPanics(t, func() { toasts.Show(effects.Toast{Title: "early"}) })
}
