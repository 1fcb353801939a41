package notifications

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolhub/schoolhub/internal/core"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func fixedNormalizer() Normalizer {
	return Normalizer{Now: func() time.Time { return fixedNow }}
}

func TestParsePriority(t *testing.T) {
	cases := map[string]Priority{
		"low":      PriorityLow,
		"MEDIUM":   PriorityMedium,
		" high ":   PriorityHigh,
		"urgent":   PriorityUrgent,
		"":         PriorityMedium,
		"critical": PriorityMedium,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParsePriority(in), "input %q", in)
	}
}

func TestFromPayload(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "n1",
		"type": "attendance",
		"title": "Absent today",
		"message": "Ada was marked absent",
		"priority": "urgent",
		"category": "attendance",
		"timestamp": "2026-03-10T08:30:00Z",
		"action_url": "/attendance/ada",
		"action_text": "Review",
		"sender_name": "Mr. Obi",
		"sender_role": "teacher",
		"data": {"student_id": "s-1"},
		"expires_at": "2026-03-11T08:30:00Z"
	}`)

	n, err := fixedNormalizer().FromPayload(raw)
	require.NoError(t, err)

	assert.Equal(t, "n1", n.ID)
	assert.Equal(t, PriorityUrgent, n.Priority)
	assert.Equal(t, time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC), n.Timestamp.UTC())
	assert.Equal(t, "Review", n.ActionText)
	assert.Equal(t, "teacher", n.SenderRole)
	assert.Equal(t, "s-1", n.Data["student_id"])
	require.NotNil(t, n.ExpiresAt)
	assert.False(t, n.Read)
}

func TestFromPayload_Defaults(t *testing.T) {
	n, err := fixedNormalizer().FromPayload(json.RawMessage(`{"id":"n2","title":"t","priority":"bogus"}`))
	require.NoError(t, err)

	assert.Equal(t, PriorityMedium, n.Priority)
	assert.True(t, n.Timestamp.Equal(fixedNow), "missing timestamp should become now")
}

func TestFromPayload_Rejects(t *testing.T) {
	_, err := fixedNormalizer().FromPayload(json.RawMessage(`{"title":"no id"}`))
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = fixedNormalizer().FromPayload(json.RawMessage(`[1,2]`))
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestFromRecord(t *testing.T) {
	var r Record
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "n1",
		"notification_type": "payment",
		"title": "Fee due",
		"message": "Pay by Friday",
		"priority": "high",
		"category": "finance",
		"created_at": "2026-03-09T10:00:00Z",
		"is_read": true,
		"is_clicked": false,
		"action_url": "/pay",
		"sender": {"name": "Bursar", "role": "accountant"}
	}`), &r))

	n, err := fixedNormalizer().FromRecord(r)
	require.NoError(t, err)

	assert.Equal(t, "payment", n.Type)
	assert.Equal(t, PriorityHigh, n.Priority)
	assert.True(t, n.Read)
	assert.Equal(t, "Bursar", n.SenderName)
	assert.Equal(t, "accountant", n.SenderRole)
	assert.Equal(t, time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC), n.Timestamp.UTC())
}

func TestFromRecord_MatchesPayloadShape(t *testing.T) {
	z := fixedNormalizer()
	source := Notification{
		ID:         "n9",
		Type:       "exam",
		Title:      "Results",
		Message:    "Out now",
		Priority:   PriorityLow,
		Category:   "exams",
		Timestamp:  fixedNow.Add(-time.Hour),
		Read:       true,
		ActionURL:  "/exams",
		ActionText: "Open",
		SenderName: "Registrar",
		SenderRole: "admin",
		Data:       map[string]any{"term": "2"},
	}

	payload, err := json.Marshal(source)
	require.NoError(t, err)
	fromPush, err := z.FromPayload(payload)
	require.NoError(t, err)

	recordJSON, err := json.Marshal(ToRecord(source))
	require.NoError(t, err)
	var rec Record
	require.NoError(t, json.Unmarshal(recordJSON, &rec))
	fromREST, err := z.FromRecord(rec)
	require.NoError(t, err)

	assert.Equal(t, fromPush.ID, fromREST.ID)
	assert.True(t, fromPush.Timestamp.Equal(fromREST.Timestamp))
	fromPush.Timestamp, fromREST.Timestamp = time.Time{}, time.Time{}
	assert.Equal(t, fromPush, fromREST)
}

func TestFromRecords_SkipsInvalid(t *testing.T) {
	list := fixedNormalizer().FromRecords([]Record{{ID: "a"}, {ID: ""}, {ID: "b"}})
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
}

func TestAlertFromPayload(t *testing.T) {
	a, err := fixedNormalizer().AlertFromPayload(json.RawMessage(
		`{"id":"a1","type":"WARNING","title":"Maintenance","message":"Down at 10","auto_dismiss":true,"auto_dismiss_ms":5000}`))
	require.NoError(t, err)

	assert.Equal(t, AlertWarning, a.Type)
	assert.True(t, a.AutoDismiss)
	assert.Equal(t, 5*time.Second, a.DismissAfter)
	assert.True(t, a.Timestamp.Equal(fixedNow))

	_, err = fixedNormalizer().AlertFromPayload(json.RawMessage(`{"title":"x"}`))
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestSystemAlert_JSONRoundTrip(t *testing.T) {
	in := SystemAlert{ID: "a1", Type: AlertError, Title: "t", Timestamp: fixedNow, AutoDismiss: true, DismissAfter: 1500 * time.Millisecond}
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"auto_dismiss_ms":1500`)

	var out SystemAlert
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in.DismissAfter, out.DismissAfter)
	assert.Equal(t, AlertError, out.Type)
}
