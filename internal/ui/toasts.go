package ui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/schoolhub/schoolhub/internal/effects"
)

// ToastMsg carries a toast into the program.
type ToastMsg struct {
	Toast effects.Toast
}

// Toasts forwards toasts to a running program. Toasts shown before Attach
// are dropped.
type Toasts struct {
	mu   sync.Mutex
	send func(tea.Msg)
}

// Attach starts forwarding to p.
func (t *Toasts) Attach(p *tea.Program) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.send = p.Send
}

// Show implements effects.Toaster.
func (t *Toasts) Show(toast effects.Toast) {
	t.mu.Lock()
	send := t.send
	t.mu.Unlock()
	if send != nil {
		send(ToastMsg{Toast: toast})
	}
}
