// Package effects turns store transitions into user-facing side effects:
// sounds, toasts and alert auto-dismissal.
package effects

import (
	"context"
	"sync"
	"time"

	"github.com/schoolhub/schoolhub/internal/logging"
	"github.com/schoolhub/schoolhub/internal/notifications"
	"github.com/schoolhub/schoolhub/internal/store"
)

// Severity is the visual weight of a toast
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
)

// ToastAction is the single button a toast may carry.
type ToastAction struct {
	Label  string
	invoke func()
}

// Invoke runs the action. A zero ToastAction does nothing.
func (a ToastAction) Invoke() {
	if a.invoke != nil {
		a.invoke()
	}
}

// Toast is a transient message shown to the user.
type Toast struct {
	ID       string
	Title    string
	Message  string
	Severity Severity
	Action   *ToastAction
}

// Toaster displays toasts.
type Toaster interface {
	Show(Toast)
}

// Sound plays the notification cue. Volume is in [0, 1].
type Sound interface {
	Play(volume float64)
}

// Opener follows a notification's action URL.
type Opener interface {
	Open(url string) error
}

// Preferences persists the sound toggle.
type Preferences interface {
	SoundEnabled(ctx context.Context) (bool, error)
	SetSoundEnabled(ctx context.Context, enabled bool) error
}

// Volume maps priority to playback volume.
func Volume(p notifications.Priority) float64 {
	switch p {
	case notifications.PriorityUrgent:
		return 1.0
	case notifications.PriorityHigh:
		return 0.7
	default:
		return 0.4
	}
}

// SeverityFor maps priority to toast severity.
func SeverityFor(p notifications.Priority) Severity {
	switch p {
	case notifications.PriorityUrgent:
		return SeverityError
	case notifications.PriorityHigh:
		return SeverityWarning
	case notifications.PriorityMedium:
		return SeverityInfo
	default:
		return SeveritySuccess
	}
}

// Options configure a Handler. Only Dispatcher is required.
type Options struct {
	Dispatcher  store.Dispatcher
	Toaster     Toaster
	Sound       Sound
	Opener      Opener
	Preferences Preferences
	Logger      *logging.Logger
}

// Handler implements store.Effect.
type Handler struct {
	dispatcher store.Dispatcher
	toaster    Toaster
	sound      Sound
	opener     Opener
	prefs      Preferences
	logger     *logging.Logger

	mu           sync.Mutex
	soundEnabled bool
	timers       map[string]*time.Timer
	closed       bool
}

// New creates a handler with sound enabled. Call Load to apply the stored
// preference.
func New(opts Options) *Handler {
	h := &Handler{
		dispatcher:   opts.Dispatcher,
		toaster:      opts.Toaster,
		sound:        opts.Sound,
		opener:       opts.Opener,
		prefs:        opts.Preferences,
		logger:       logging.OrDefault(opts.Logger).WithField("component", "effects"),
		soundEnabled: true,
		timers:       make(map[string]*time.Timer),
	}
	if h.sound == nil {
		h.sound = MutedSound{}
	}
	return h
}

// Load reads the persisted sound preference.
func (h *Handler) Load(ctx context.Context) error {
	if h.prefs == nil {
		return nil
	}
	enabled, err := h.prefs.SoundEnabled(ctx)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.soundEnabled = enabled
	h.mu.Unlock()
	return nil
}

// SoundEnabled reports the current sound toggle.
func (h *Handler) SoundEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.soundEnabled
}

// SetSoundEnabled changes and persists the sound toggle.
func (h *Handler) SetSoundEnabled(ctx context.Context, enabled bool) error {
	h.mu.Lock()
	h.soundEnabled = enabled
	h.mu.Unlock()

	if h.prefs == nil {
		return nil
	}
	return h.prefs.SetSoundEnabled(ctx, enabled)
}

// Apply reacts to a reduced action.
func (h *Handler) Apply(a store.Action, prev, next store.State) {
	switch act := a.(type) {
	case store.AddNotification:
		h.onNotification(act.Notification)
	case store.AddSystemAlert:
		h.onAlert(act.Alert)
	case store.DismissAlert:
		h.cancelTimer(act.ID)
	}
}

func (h *Handler) onNotification(n notifications.Notification) {
	if h.SoundEnabled() {
		h.sound.Play(Volume(n.Priority))
	}
	if h.toaster == nil {
		return
	}

	toast := Toast{
		ID:       n.ID,
		Title:    n.Title,
		Message:  n.Message,
		Severity: SeverityFor(n.Priority),
	}
	if n.HasAction() {
		toast.Action = h.clickAction(n)
	}
	h.toaster.Show(toast)
}

func (h *Handler) clickAction(n notifications.Notification) *ToastAction {
	label := n.ActionText
	if label == "" {
		label = "View"
	}
	id, url := n.ID, n.ActionURL
	return &ToastAction{
		Label: label,
		invoke: func() {
			h.dispatcher.Dispatch(store.MarkClicked{ID: id})
			if h.opener == nil || url == "" {
				return
			}
			if err := h.opener.Open(url); err != nil {
				h.logger.Warn("Open %s: %v", url, err)
			}
		},
	}
}

func (h *Handler) onAlert(alert notifications.SystemAlert) {
	if h.toaster != nil {
		h.toaster.Show(Toast{
			ID:       alert.ID,
			Title:    alert.Title,
			Message:  alert.Message,
			Severity: Severity(alert.Type),
		})
	}
	if !alert.AutoDismiss || alert.DismissAfter <= 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if t, ok := h.timers[alert.ID]; ok {
		t.Stop()
	}

	id := alert.ID
	var timer *time.Timer
	timer = time.AfterFunc(alert.DismissAfter, func() {
		h.mu.Lock()
		current, ok := h.timers[id]
		if h.closed || !ok || current != timer {
			h.mu.Unlock()
			return
		}
		delete(h.timers, id)
		h.mu.Unlock()

		h.dispatcher.Dispatch(store.DismissAlert{ID: id})
	})
	h.timers[id] = timer
}

func (h *Handler) cancelTimer(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.timers[id]; ok {
		t.Stop()
		delete(h.timers, id)
	}
}

// PendingDismissals is the number of armed auto-dismiss timers.
func (h *Handler) PendingDismissals() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.timers)
}

// Close cancels every pending auto-dismiss timer.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, t := range h.timers {
		t.Stop()
		delete(h.timers, id)
	}
}
