package store

import (
	"fmt"
	"math/rand"
	"testing"
	"testing/quick"
	"time"

	"github.com/schoolhub/schoolhub/internal/notifications"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func fixedReducer() Reducer {
	return Reducer{Now: func() time.Time { return testNow }}
}

func notif(id string, opts ...func(*notifications.Notification)) notifications.Notification {
	n := notifications.Notification{
		ID:        id,
		Type:      "general",
		Title:     "title " + id,
		Priority:  notifications.PriorityMedium,
		Timestamp: testNow,
	}
	for _, o := range opts {
		o(&n)
	}
	return n
}

func withPriority(p notifications.Priority) func(*notifications.Notification) {
	return func(n *notifications.Notification) { n.Priority = p }
}

func withTimestamp(ts time.Time) func(*notifications.Notification) {
	return func(n *notifications.Notification) { n.Timestamp = ts }
}

func withRead() func(*notifications.Notification) {
	return func(n *notifications.Notification) { n.Read = true }
}

func withExpiry(ts time.Time) func(*notifications.Notification) {
	return func(n *notifications.Notification) { n.ExpiresAt = &ts }
}

func apply(r Reducer, s State, actions ...Action) State {
	for _, a := range actions {
		s = r.Reduce(s, a)
	}
	return s
}

func ids(list []notifications.Notification) []string {
	out := make([]string, len(list))
	for i, n := range list {
		out[i] = n.ID
	}
	return out
}

// =============================================================================
// Transition Tests
// =============================================================================

func TestReduce_AddNotification_Prepends(t *testing.T) {
	r := fixedReducer()
	s := apply(r, InitialState(),
		AddNotification{notif("a")},
		AddNotification{notif("b", withPriority(notifications.PriorityUrgent))},
	)

	if got := fmt.Sprint(ids(s.Notifications)); got != "[b a]" {
		t.Errorf("order = %s, want [b a]", got)
	}
	want := notifications.Stats{Total: 2, Unread: 2, Today: 2, HighPriority: 1}
	if s.Stats != want {
		t.Errorf("Stats = %+v, want %+v", s.Stats, want)
	}
}

func TestReduce_AddNotification_ReplacesSameID(t *testing.T) {
	r := fixedReducer()
	s := apply(r, InitialState(),
		AddNotification{notif("a")},
		AddNotification{notif("b")},
		AddNotification{notif("a", withRead())},
	)

	if got := fmt.Sprint(ids(s.Notifications)); got != "[a b]" {
		t.Errorf("order = %s, want [a b]", got)
	}
	if s.Stats.Total != 2 || s.Stats.Unread != 1 {
		t.Errorf("Stats = %+v", s.Stats)
	}
}

func TestReduce_AddSystemAlert_Dedup(t *testing.T) {
	r := fixedReducer()
	s := apply(r, InitialState(),
		AddSystemAlert{notifications.SystemAlert{ID: "x", Title: "first"}},
		AddSystemAlert{notifications.SystemAlert{ID: "y", Title: "other"}},
	)
	before := len(s.Alerts)

	s = r.Reduce(s, AddSystemAlert{notifications.SystemAlert{ID: "x", Title: "updated"}})

	if len(s.Alerts) != before {
		t.Errorf("len(Alerts) = %d, want %d", len(s.Alerts), before)
	}
	if s.Alerts[0].ID != "x" || s.Alerts[0].Title != "updated" {
		t.Errorf("Alerts[0] = %+v, want updated x at front", s.Alerts[0])
	}
}

func TestReduce_MarkRead(t *testing.T) {
	r := fixedReducer()
	s := apply(r, InitialState(), AddNotification{notif("a")}, AddNotification{notif("b")})

	once := r.Reduce(s, MarkRead{ID: "a"})
	twice := r.Reduce(once, MarkRead{ID: "a"})

	a, _ := once.Notification("a")
	b, _ := once.Notification("b")
	if !a.Read || b.Read {
		t.Errorf("only a should be read: a=%v b=%v", a.Read, b.Read)
	}
	if once.UnreadCount() != 1 {
		t.Errorf("UnreadCount = %d, want 1", once.UnreadCount())
	}
	if fmt.Sprint(once.Notifications) != fmt.Sprint(twice.Notifications) || once.Stats != twice.Stats {
		t.Error("MarkRead is not idempotent")
	}

	missing := r.Reduce(s, MarkRead{ID: "nope"})
	if missing.Stats != s.Stats {
		t.Error("MarkRead on a missing id should be a no-op")
	}
}

func TestReduce_MarkAllRead(t *testing.T) {
	r := fixedReducer()
	s := apply(r, InitialState(),
		AddNotification{notif("a")},
		AddNotification{notif("b", withRead())},
		AddNotification{notif("c")},
	)

	s = r.Reduce(s, MarkAllRead{})
	if s.UnreadCount() != 0 {
		t.Errorf("UnreadCount = %d, want 0", s.UnreadCount())
	}
	for _, n := range s.Notifications {
		if !n.Read {
			t.Errorf("%s still unread", n.ID)
		}
	}

	again := r.Reduce(s, MarkAllRead{})
	if fmt.Sprint(again) != fmt.Sprint(s) {
		t.Error("second MarkAllRead changed state")
	}
}

func TestReduce_MarkClicked(t *testing.T) {
	r := fixedReducer()
	s := apply(r, InitialState(), AddNotification{notif("a")})

	s2 := r.Reduce(s, MarkClicked{ID: "a"})
	a, _ := s2.Notification("a")
	if !a.Clicked {
		t.Error("expected clicked")
	}
	if a.Read {
		t.Error("MarkClicked must not mark read")
	}
	if s2.Stats != s.Stats {
		t.Error("MarkClicked must not change stats")
	}
}

func TestReduce_RemoveNotification_RecomputesToday(t *testing.T) {
	r := fixedReducer()
	yesterday := testNow.Add(-24 * time.Hour)
	s := apply(r, InitialState(),
		AddNotification{notif("old", withTimestamp(yesterday))},
		AddNotification{notif("new")},
	)
	if s.Stats.Today != 1 {
		t.Fatalf("Today = %d, want 1", s.Stats.Today)
	}

	s = r.Reduce(s, RemoveNotification{ID: "old"})

	if s.Stats.Today != 1 {
		t.Errorf("removing a non-today item changed Today to %d", s.Stats.Today)
	}
	if s.Stats.Total != 1 {
		t.Errorf("Total = %d, want 1", s.Stats.Total)
	}
}

func TestReduce_DismissAlert(t *testing.T) {
	r := fixedReducer()
	s := apply(r, InitialState(),
		AddSystemAlert{notifications.SystemAlert{ID: "x"}},
		DismissAlert{ID: "x"},
	)

	if len(s.Alerts) != 1 {
		t.Fatalf("dismiss should not remove, len = %d", len(s.Alerts))
	}
	if !s.Alerts[0].Dismissed {
		t.Error("alert should be dismissed")
	}
	if s.Alerts[0].DismissedAt == nil || !s.Alerts[0].DismissedAt.Equal(testNow) {
		t.Errorf("DismissedAt = %v, want %v", s.Alerts[0].DismissedAt, testNow)
	}
	if len(s.ActiveAlerts()) != 0 {
		t.Error("ActiveAlerts should be empty")
	}
}

func TestReduce_SetConnectionStatus(t *testing.T) {
	r := fixedReducer()

	tests := []struct {
		status        notifications.ConnectionState
		connected     bool
		authenticated bool
	}{
		{notifications.StateConnecting, false, false},
		{notifications.StateAuthenticating, true, false},
		{notifications.StateAuthenticated, true, true},
		{notifications.StateReconnecting, false, false},
	}

	for _, tt := range tests {
		s := r.Reduce(InitialState(), SetConnectionStatus{Status: tt.status})
		if s.Connection != tt.status || s.IsConnected != tt.connected || s.IsAuthenticated != tt.authenticated {
			t.Errorf("%s: got %+v", tt.status, s)
		}
	}
}

func TestReduce_ClearExpired(t *testing.T) {
	r := fixedReducer()
	past := testNow.Add(-time.Minute)
	future := testNow.Add(time.Minute)
	dismissedLongAgo := testNow.Add(-10 * time.Second)

	s := State{
		Notifications: []notifications.Notification{
			notif("expired", withExpiry(past)),
			notif("future", withExpiry(future)),
			notif("forever"),
		},
		Alerts: []notifications.SystemAlert{
			{ID: "active"},
			{ID: "manual", Dismissed: true},
			{ID: "auto-spent", Dismissed: true, AutoDismiss: true, DismissAfter: 5 * time.Second, DismissedAt: &dismissedLongAgo},
			{ID: "auto-pending", Dismissed: true, AutoDismiss: true, DismissAfter: time.Minute, DismissedAt: &dismissedLongAgo},
		},
	}

	s = r.Reduce(s, ClearExpired{})

	if got := fmt.Sprint(ids(s.Notifications)); got != "[future forever]" {
		t.Errorf("notifications = %s", got)
	}
	var alertIDs []string
	for _, a := range s.Alerts {
		alertIDs = append(alertIDs, a.ID)
	}
	if got := fmt.Sprint(alertIDs); got != "[active auto-pending]" {
		t.Errorf("alerts = %s", got)
	}
	if s.Stats.Total != 2 {
		t.Errorf("Stats.Total = %d", s.Stats.Total)
	}

	// An explicit Now overrides the clock.
	later := r.Reduce(s, ClearExpired{Now: future})
	if got := fmt.Sprint(ids(later.Notifications)); got != "[forever]" {
		t.Errorf("notifications at explicit now = %s", got)
	}
}

func TestReduce_LoadNotifications(t *testing.T) {
	r := fixedReducer()
	s := apply(r, InitialState(), AddNotification{notif("stale")})

	s = r.Reduce(s, LoadNotifications{Notifications: []notifications.Notification{
		notif("older", withTimestamp(testNow.Add(-2*time.Hour)), withRead()),
		notif("newest"),
		notif("middle", withTimestamp(testNow.Add(-time.Hour)), withPriority(notifications.PriorityHigh)),
		notif("newest"),
	}})

	if got := fmt.Sprint(ids(s.Notifications)); got != "[newest middle older]" {
		t.Errorf("order = %s", got)
	}
	want := notifications.Stats{Total: 3, Unread: 2, Today: 3, HighPriority: 1}
	if s.Stats != want {
		t.Errorf("Stats = %+v, want %+v", s.Stats, want)
	}
}

type unknownAction struct{}

func (unknownAction) ActionType() string { return "from_the_future" }

func TestReduce_UnknownActionIsNoop(t *testing.T) {
	r := fixedReducer()
	s := apply(r, InitialState(), AddNotification{notif("a")})

	got := r.Reduce(s, unknownAction{})
	if fmt.Sprint(got) != fmt.Sprint(s) {
		t.Error("unknown action changed state")
	}
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	r := fixedReducer()
	s := apply(r, InitialState(), AddNotification{notif("a")}, AddNotification{notif("b")})
	snapshot := fmt.Sprint(s)

	r.Reduce(s, MarkRead{ID: "a"})
	r.Reduce(s, MarkAllRead{})
	r.Reduce(s, MarkClicked{ID: "b"})
	r.Reduce(s, RemoveNotification{ID: "a"})

	if fmt.Sprint(s) != snapshot {
		t.Error("reducer mutated its input state")
	}
}

// =============================================================================
// Property Tests
// =============================================================================

func randomAction(rng *rand.Rand, known []string) Action {
	pickID := func() string {
		if len(known) == 0 || rng.Intn(5) == 0 {
			return fmt.Sprintf("n%d", rng.Intn(20))
		}
		return known[rng.Intn(len(known))]
	}
	priorities := []notifications.Priority{
		notifications.PriorityLow, notifications.PriorityMedium,
		notifications.PriorityHigh, notifications.PriorityUrgent,
	}

	switch rng.Intn(6) {
	case 0, 1:
		return AddNotification{notif(pickID(),
			withPriority(priorities[rng.Intn(len(priorities))]),
			withTimestamp(testNow.Add(-time.Duration(rng.Intn(72))*time.Hour)),
		)}
	case 2:
		return RemoveNotification{ID: pickID()}
	case 3:
		return MarkRead{ID: pickID()}
	case 4:
		return MarkAllRead{}
	default:
		return MarkClicked{ID: pickID()}
	}
}

func statsHold(s State) bool {
	var unread, today, high int
	for _, n := range s.Notifications {
		if !n.Read {
			unread++
		}
		if n.IsToday(testNow) {
			today++
		}
		if n.Priority == notifications.PriorityHigh || n.Priority == notifications.PriorityUrgent {
			high++
		}
	}
	return s.Stats.Total == len(s.Notifications) &&
		s.Stats.Unread == unread &&
		s.Stats.Today == today &&
		s.Stats.HighPriority == high
}

func TestReduce_StatsInvariant(t *testing.T) {
	r := fixedReducer()

	property := func(seed int64) bool {
		rng := rand.New(rand.NewSource(seed))
		s := InitialState()
		for i := 0; i < 60; i++ {
			s = r.Reduce(s, randomAction(rng, ids(s.Notifications)))
			if !statsHold(s) {
				t.Logf("seed %d step %d: stats %+v over %d notifications", seed, i, s.Stats, len(s.Notifications))
				return false
			}
		}
		return true
	}

	if err := quick.Check(property, &quick.Config{MaxCount: 300}); err != nil {
		t.Error(err)
	}
}

func TestReduce_UniqueIDs(t *testing.T) {
	r := fixedReducer()

	property := func(seed int64) bool {
		rng := rand.New(rand.NewSource(seed))
		s := InitialState()
		for i := 0; i < 60; i++ {
			s = r.Reduce(s, randomAction(rng, ids(s.Notifications)))
			seen := map[string]bool{}
			for _, n := range s.Notifications {
				if seen[n.ID] {
					return false
				}
				seen[n.ID] = true
			}
		}
		return true
	}

	if err := quick.Check(property, &quick.Config{MaxCount: 200}); err != nil {
		t.Error(err)
	}
}

func TestReduce_MarkAllReadConverges(t *testing.T) {
	r := fixedReducer()

	property := func(seed int64) bool {
		rng := rand.New(rand.NewSource(seed))
		s := InitialState()
		steps := rng.Intn(40)
		for i := 0; i < steps; i++ {
			s = r.Reduce(s, randomAction(rng, ids(s.Notifications)))
		}
		once := r.Reduce(s, MarkAllRead{})
		twice := r.Reduce(once, MarkAllRead{})
		return once.UnreadCount() == 0 && fmt.Sprint(once) == fmt.Sprint(twice)
	}

	if err := quick.Check(property, &quick.Config{MaxCount: 200}); err != nil {
		t.Error(err)
	}
}
