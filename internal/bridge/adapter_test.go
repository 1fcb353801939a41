package bridge

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/schoolhub/internal/notifications"
	"github.com/schoolhub/schoolhub/internal/realtime"
	"github.com/schoolhub/schoolhub/internal/store"
)

type recordingDispatcher struct {
	mu      sync.Mutex
	actions []store.Action
}

func (d *recordingDispatcher) Dispatch(a store.Action) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actions = append(d.actions, a)
}

func (d *recordingDispatcher) all() []store.Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]store.Action(nil), d.actions...)
}

var fixedNow = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func createTestAdapter(t *testing.T) (*Adapter, *recordingDispatcher, *[]DataChange) {
	t.Helper()
	d := &recordingDispatcher{}
	var changes []DataChange
	a := &Adapter{
		Dispatcher: d,
		OnData:     func(c DataChange) { changes = append(changes, c) },
		Normalizer: notifications.Normalizer{Now: func() time.Time { return fixedNow }},
	}
	return a, d, &changes
}

func message(t *testing.T, typ realtime.MessageType, payload interface{}) realtime.Message {
	t.Helper()
	msg, err := realtime.NewMessage(typ, payload)
	require.NoError(t, err)
	return msg
}

func TestAdapter_Notification(t *testing.T) {
	a, d, _ := createTestAdapter(t)

	a.HandleMessage(message(t, realtime.TypeNotification, map[string]any{
		"id":       "n1",
		"title":    "Fee reminder",
		"priority": "urgent",
	}))

	actions := d.all()
	require.Len(t, actions, 1)
	add, ok := actions[0].(store.AddNotification)
	require.True(t, ok, "got %T", actions[0])
	assert.Equal(t, "n1", add.Notification.ID)
	assert.Equal(t, notifications.PriorityUrgent, add.Notification.Priority)
	assert.Equal(t, fixedNow, add.Notification.Timestamp)
}

func TestAdapter_InvalidNotificationDropped(t *testing.T) {
	a, d, _ := createTestAdapter(t)

	a.HandleMessage(message(t, realtime.TypeNotification, map[string]any{"title": "no id"}))
	a.HandleMessage(realtime.Message{Type: realtime.TypeNotification, Payload: json.RawMessage(`"garbage"`)})

	assert.Empty(t, d.all())
}

func TestAdapter_SystemAlert(t *testing.T) {
	a, d, _ := createTestAdapter(t)

	a.HandleMessage(message(t, realtime.TypeSystemAlert, map[string]any{
		"id":              "a1",
		"type":            "warning",
		"title":           "Maintenance",
		"auto_dismiss":    true,
		"auto_dismiss_ms": 5000,
	}))

	actions := d.all()
	require.Len(t, actions, 1)
	add, ok := actions[0].(store.AddSystemAlert)
	require.True(t, ok)
	assert.Equal(t, "a1", add.Alert.ID)
	assert.True(t, add.Alert.AutoDismiss)
	assert.Equal(t, 5*time.Second, add.Alert.DismissAfter)
}

func TestAdapter_ReadEchoes(t *testing.T) {
	a, d, _ := createTestAdapter(t)

	a.HandleMessage(message(t, realtime.TypeNotificationRead, realtime.MarkReadPayload{NotificationID: "n9"}))
	a.HandleMessage(message(t, realtime.TypeNotificationsReadAll, nil))
	a.HandleMessage(message(t, realtime.TypeNotificationRead, realtime.MarkReadPayload{}))

	assert.Equal(t, []store.Action{store.MarkRead{ID: "n9"}, store.MarkAllRead{}}, d.all())
}

func TestAdapter_DataChanges(t *testing.T) {
	a, d, changes := createTestAdapter(t)

	a.HandleMessage(message(t, realtime.TypeDataUpdate, realtime.DataChangePayload{Table: "students", RecordID: "s1"}))
	a.HandleMessage(message(t, realtime.TypeDataDelete, realtime.DataChangePayload{Table: "invoices"}))

	assert.Empty(t, d.all())
	require.Len(t, *changes, 2)
	assert.Equal(t, realtime.TypeDataUpdate, (*changes)[0].Kind)
	assert.Equal(t, "students", (*changes)[0].Table)
	assert.Equal(t, "s1", (*changes)[0].RecordID)
	assert.Equal(t, "invoices", (*changes)[1].Table)
}

func TestAdapter_IgnoresControlFrames(t *testing.T) {
	a, d, changes := createTestAdapter(t)

	for _, typ := range []realtime.MessageType{realtime.TypeAck, realtime.TypePong, realtime.TypeAuthResult, realtime.TypeSubscriptionResult, realtime.TypeError, "mystery"} {
		a.HandleMessage(message(t, typ, map[string]any{"success": true}))
	}

	assert.Empty(t, d.all())
	assert.Empty(t, *changes)
}

func TestAdapter_HandleStatus(t *testing.T) {
	a, d, _ := createTestAdapter(t)

	a.HandleStatus(notifications.StateReconnecting)

	assert.Equal(t, []store.Action{store.SetConnectionStatus{Status: notifications.StateReconnecting}}, d.all())
}

func TestAdapter_DrivesStore(t *testing.T) {
	s := store.New(store.Options{Reducer: store.Reducer{Now: func() time.Time { return fixedNow }}})
	t.Cleanup(s.Dispose)
	a := &Adapter{Dispatcher: s, Normalizer: notifications.Normalizer{Now: func() time.Time { return fixedNow }}}

	a.HandleStatus(notifications.StateAuthenticated)
	a.HandleMessage(message(t, realtime.TypeNotification, map[string]any{"id": "n1", "title": "A"}))
	a.HandleMessage(message(t, realtime.TypeNotification, map[string]any{"id": "n2", "title": "B"}))
	a.HandleMessage(message(t, realtime.TypeNotificationRead, realtime.MarkReadPayload{NotificationID: "n1"}))

	st := s.State()
	assert.True(t, st.IsAuthenticated)
	assert.Equal(t, 2, st.Stats.Total)
	assert.Equal(t, 1, st.Stats.Unread)
}
