package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/schoolhub/schoolhub/internal/store"
)

// Controller performs the user's actions. The session implements it.
type Controller interface {
	MarkAsRead(ctx context.Context, id string) error
	MarkAllAsRead(ctx context.Context) error
	Open(ctx context.Context, id string) error
	Remove(id string)
	SetSoundEnabled(ctx context.Context, enabled bool) error
}

// StateMsg carries a store snapshot into the program.
type StateMsg struct {
	State store.State
}

// ActionDoneMsg reports the outcome of a controller call.
type ActionDoneMsg struct {
	Label string
	Err   error
}

// SoundToggledMsg reports a persisted sound preference.
type SoundToggledMsg struct {
	Enabled bool
	Err     error
}

const actionTimeout = 15 * time.Second

// Model is the notification center.
type Model struct {
	ctrl    Controller
	keys    KeyMap
	help    help.Model
	state   store.State
	cursor  int
	soundOn bool
	flash   string
	now     func() time.Time
	width   int
	height  int
}

// NewModel creates a notification center showing initial.
func NewModel(ctrl Controller, initial store.State, soundOn bool) Model {
	return Model{
		ctrl:    ctrl,
		keys:    DefaultKeyMap(),
		help:    help.New(),
		state:   initial,
		soundOn: soundOn,
		now:     time.Now,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Cursor is the index of the selected notification.
func (m Model) Cursor() int { return m.cursor }

// Flash is the last status message shown in the footer.
func (m Model) Flash() string { return m.flash }

// SoundOn reports the sound setting the model displays.
func (m Model) SoundOn() bool { return m.soundOn }

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case StateMsg:
		if msg.State.Version < m.state.Version {
			return m, nil
		}
		m.state = msg.State
		m.clampCursor()
		return m, nil

	case ActionDoneMsg:
		if msg.Err != nil {
			m.flash = fmt.Sprintf("%s failed: %v", msg.Label, msg.Err)
		} else {
			m.flash = ""
		}
		return m, nil

	case ToastMsg:
		m.flash = msg.Toast.Title
		if msg.Toast.Message != "" {
			m.flash += ": " + msg.Toast.Message
		}
		return m, nil

	case SoundToggledMsg:
		if msg.Err != nil {
			m.flash = fmt.Sprintf("saving sound preference failed: %v", msg.Err)
			return m, nil
		}
		m.soundOn = msg.Enabled
		return m, nil

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Down):
		m.cursor++
		m.clampCursor()

	case key.Matches(msg, m.keys.Up):
		m.cursor--
		m.clampCursor()

	case key.Matches(msg, m.keys.Read):
		if id, ok := m.selectedID(); ok {
			return m, m.run("mark read", func(ctx context.Context) error { return m.ctrl.MarkAsRead(ctx, id) })
		}

	case key.Matches(msg, m.keys.ReadAll):
		return m, m.run("mark all read", m.ctrl.MarkAllAsRead)

	case key.Matches(msg, m.keys.Open):
		if id, ok := m.selectedID(); ok {
			return m, m.run("open", func(ctx context.Context) error { return m.ctrl.Open(ctx, id) })
		}

	case key.Matches(msg, m.keys.Remove):
		if id, ok := m.selectedID(); ok {
			m.ctrl.Remove(id)
		}

	case key.Matches(msg, m.keys.ToggleSound):
		enabled := !m.soundOn
		ctrl := m.ctrl
		return m, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
			defer cancel()
			return SoundToggledMsg{Enabled: enabled, Err: ctrl.SetSoundEnabled(ctx, enabled)}
		}
	}
	return m, nil
}

// run performs fn off the update loop.
func (m Model) run(label string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return ActionDoneMsg{Label: label, Err: fn(ctx)}
	}
}

func (m Model) selectedID() (string, bool) {
	if m.cursor < 0 || m.cursor >= len(m.state.Notifications) {
		return "", false
	}
	return m.state.Notifications[m.cursor].ID, true
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.state.Notifications) {
		m.cursor = len(m.state.Notifications) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	header := headerStyle.Render("SchoolHub notifications")
	if ind := StatusIndicator(m.state.Connection); ind != "" {
		header += " " + indicatorStyle.Render(ind)
	}
	b.WriteString(header + "\n")

	sound := "sound off"
	if m.soundOn {
		sound = "sound on"
	}
	b.WriteString(statusBarStyle.Render(formatStats(m.state.Stats)+" · "+sound) + "\n\n")

	for _, a := range m.state.ActiveAlerts() {
		style := severityStyle(alertSeverity(a.Type))
		b.WriteString(style.Render("! "+a.Title) + " " + a.Message + "\n")
	}

	if len(m.state.Notifications) == 0 {
		b.WriteString(itemStyle.Render(readStyle.Render("No notifications")) + "\n")
	}
	now := m.now()
	for i, n := range m.state.Notifications {
		marker := "●"
		if n.Read {
			marker = " "
		}
		row := fmt.Sprintf("%s %s %-8s %s", marker, priorityStyle(n.Priority).Render(PriorityLabel(n.Priority)), RelativeTime(n.Timestamp, now), n.Title)
		switch {
		case i == m.cursor:
			row = selectedStyle.Render(row)
		case n.Read:
			row = itemStyle.Render(readStyle.Render(row))
		default:
			row = itemStyle.Render(row)
		}
		b.WriteString(row + "\n")
	}

	if m.flash != "" {
		b.WriteString("\n" + flashStyle.Render(m.flash) + "\n")
	}
	b.WriteString("\n" + helpStyle.Render(m.help.View(m.keys)))
	return b.String()
}
