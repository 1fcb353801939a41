package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/schoolhub/schoolhub/internal/effects"
	"github.com/schoolhub/schoolhub/internal/notifications"
)

// Printer writes toasts and notifications as styled lines. It implements
// effects.Toaster for the streaming CLI.
type Printer struct {
	mu       sync.Mutex
	w        io.Writer
	renderer *lipgloss.Renderer
	now      func() time.Time
}

// NewPrinter creates a printer whose color profile is detected from w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, renderer: lipgloss.NewRenderer(w), now: time.Now}
}

func (p *Printer) badge(s effects.Severity, label string) string {
	return p.renderer.NewStyle().Bold(true).Foreground(severityColor(s)).Render(label)
}

// Show prints a toast.
func (p *Printer) Show(t effects.Toast) {
	line := fmt.Sprintf("%s %s", p.badge(t.Severity, "["+string(t.Severity)+"]"), p.renderer.NewStyle().Bold(true).Render(t.Title))
	if t.Message != "" {
		line += " " + t.Message
	}
	if t.Action != nil {
		line += p.renderer.NewStyle().Foreground(ColorGray).Render(" (" + t.Action.Label + ")")
	}
	p.println(line)
}

// PrintNotification prints one notification as a list row.
func (p *Printer) PrintNotification(n notifications.Notification) {
	marker := "●"
	if n.Read {
		marker = " "
	}
	line := fmt.Sprintf("%s %s %s  %s  %s",
		marker,
		p.badge(effects.SeverityFor(n.Priority), PriorityLabel(n.Priority)),
		p.renderer.NewStyle().Foreground(ColorGray).Render(fmt.Sprintf("%-8s", RelativeTime(n.Timestamp, p.now()))),
		n.Title,
		p.renderer.NewStyle().Foreground(ColorGray).Render(n.ID),
	)
	p.println(line)
}

// PrintStats prints the summary counters.
func (p *Printer) PrintStats(s notifications.Stats) {
	p.println(p.renderer.NewStyle().Foreground(ColorGray).Render(formatStats(s)))
}

// PrintStatus prints a connection change. Authenticated prints "online".
func (p *Printer) PrintStatus(s notifications.ConnectionState) {
	text := StatusIndicator(s)
	if text == "" {
		text = "online"
	}
	p.println(p.renderer.NewStyle().Italic(true).Foreground(ColorGray).Render("· " + text))
}

func (p *Printer) println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}

func formatStats(s notifications.Stats) string {
	return fmt.Sprintf("%d total · %d unread · %d today · %d high priority", s.Total, s.Unread, s.Today, s.HighPriority)
}
