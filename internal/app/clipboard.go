package app

import (
	"io"
	"os"

	"github.com/aymanbagabas/go-osc52/v2"
)

// Clipboard receives copied text.
type Clipboard interface {
	Copy(text string) error
}

// OSC52 copies through the terminal with an OSC 52 escape sequence, which
// also works over SSH.
type OSC52 struct {
	Out  io.Writer
	Tmux bool // Wrap for tmux passthrough.
}

// NewOSC52 returns an OSC52 clipboard writing to stderr, wrapped for tmux
// when running inside it.
func NewOSC52() *OSC52 {
	return &OSC52{Out: os.Stderr, Tmux: os.Getenv("TMUX") != ""}
}

// Copy writes text to the terminal clipboard.
func (o *OSC52) Copy(text string) error {
	seq := osc52.New(text)
	if o.Tmux {
		seq = seq.Tmux()
	}
	_, err := seq.WriteTo(o.Out)
	return err
}

// MemoryClipboard keeps the last copied text. Used when no terminal is
// attached.
type MemoryClipboard struct {
	Text string
}

// Copy stores text.
func (m *MemoryClipboard) Copy(text string) error {
	m.Text = text
	return nil
}
