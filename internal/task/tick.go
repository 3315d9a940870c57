package task

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// DefaultPollInterval is the poll loop period.
const DefaultPollInterval = 100 * time.Millisecond

// TickMsg asks the interactive goroutine to drain one message.
type TickMsg struct {
	At time.Time
}

// Tick schedules the next poll loop iteration after interval.
func Tick(interval time.Duration) tea.Cmd {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return TickMsg{At: t}
	})
}
