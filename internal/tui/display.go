package tui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/smileynet/plotcaption/internal/app"
	"github.com/smileynet/plotcaption/internal/task"
)

// Printer renders run messages as text lines for headless commands.
type Printer struct {
	w      io.Writer
	styled bool
	now    func() time.Time
}

// PrinterOptions configures printer creation.
type PrinterOptions struct {
	Writer     io.Writer // Output destination (default: os.Stdout).
	ForcePlain bool      // Force plain text even if TTY.
}

// NewPrinter returns a Printer that styles its output when the writer is a
// TTY. ForcePlain overrides TTY detection.
func NewPrinter(opts PrinterOptions) *Printer {
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	return &Printer{
		w:      opts.Writer,
		styled: !opts.ForcePlain && isTTY(opts.Writer),
		now:    time.Now,
	}
}

// isTTY reports whether w is connected to a terminal.
func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *Printer) style(s string, render func(...string) string) string {
	if !p.styled {
		return s
	}
	return render(s)
}

// Print writes one message. Field updates print a size only; the full text
// is printed by Fields.
func (p *Printer) Print(msg task.Message) {
	ts := p.now().Format("15:04:05")
	switch msg.Kind {
	case task.KindStatus:
		_, _ = fmt.Fprintf(p.w, "[%s] %s\n", ts, msg.Text)
	case task.KindUpdateField:
		_, _ = fmt.Fprintf(p.w, "[%s] %s %s\n", ts,
			p.style(string(msg.Field), dimStyle.Render), p.style(fmt.Sprintf("(%d bytes)", len(msg.Text)), dimStyle.Render))
	case task.KindError:
		_, _ = fmt.Fprintf(p.w, "[%s] %s\n", ts, p.style("error: "+msg.Text, errorStyle.Render))
	case task.KindDone:
		_, _ = fmt.Fprintf(p.w, "[%s] %s\n", ts, p.style("done: "+msg.Tag, dimStyle.Render))
	}
}

// FieldSource reads output fields.
type FieldSource interface {
	Field(task.FieldID) string
}

// Fields prints every non-empty output field under a heading.
func (p *Printer) Fields(src FieldSource) {
	for _, f := range task.Fields() {
		text := strings.TrimSpace(src.Field(f))
		if text == "" {
			continue
		}
		_, _ = fmt.Fprintf(p.w, "\n%s\n%s\n", p.style("== "+string(f)+" ==", titleStyle.Render), text)
	}
}

// Run starts the interactive program over c and blocks until the user quits.
// Quitting shuts the coordinator down, which saves settings.
func Run(c *app.Coordinator, opts ...ModelOption) error {
	p := tea.NewProgram(NewModel(c, opts...), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		_ = c.Shutdown()
		return fmt.Errorf("tui: %w", err)
	}
	if m, ok := final.(Model); ok {
		return m.ShutdownErr()
	}
	return nil
}
