package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/smileynet/plotcaption/internal/app"
	"github.com/smileynet/plotcaption/internal/prompt"
	"github.com/smileynet/plotcaption/internal/task"
)

// inputMode is what the text input is collecting.
type inputMode int

const (
	inputNone   inputMode = iota
	inputImage            // Image file path.
	inputPrompt           // Caption prompt.
	inputField            // Replacement text for the focused field.
)

// Model is the Bubble Tea model for the interactive screen. All coordinator
// calls happen inside Update, on the program goroutine.
type Model struct {
	c        *app.Coordinator
	keys     keyMap
	help     help.Model
	spinner  spinner.Model
	input    textinput.Model
	viewport viewport.Model
	mode     inputMode

	interval time.Duration
	polling  bool
	prompt   string
	field    int // Index into task.Fields().
	err      string
	errSeen  int // Coordinator errors already surfaced.
	width    int
	height   int
	quitting bool
	shutErr  error
}

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithPollInterval sets the poll loop period.
func WithPollInterval(d time.Duration) ModelOption {
	return func(m *Model) { m.interval = d }
}

// WithImage preloads an image path on start.
func WithImage(path string) ModelOption {
	return func(m *Model) {
		if err := m.c.LoadImageFile(path); err != nil {
			m.err = err.Error()
		}
	}
}

// NewModel creates the interactive model over c.
func NewModel(c *app.Coordinator, opts ...ModelOption) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot

	in := textinput.New()
	in.CharLimit = 0

	m := Model{
		c:        c,
		keys:     defaultKeyMap(),
		help:     help.New(),
		spinner:  s,
		input:    in,
		viewport: viewport.New(80, 10),
		interval: task.DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.prompt = c.CaptionPrompt()
	m.keys.apply(c.Affordances())
	m.errSeen = c.ErrorCount()
	m.refresh()
	return m
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.viewport.Width = max(msg.Width-4, 10)
		m.viewport.Height = max(msg.Height-12, 3)
		m.refresh()
		return m, nil

	case task.TickMsg:
		m.c.Poll()
		m.afterChange()
		if m.c.Active() {
			return m, task.Tick(m.interval)
		}
		m.polling = false
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.mode != inputNone {
			return m.updateInput(msg)
		}
		return m.updateKeys(msg)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var err error
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		m.shutErr = m.c.Shutdown()
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.Image):
		return m.startInput(inputImage, "image path", m.c.ImagePath())
	case key.Matches(msg, m.keys.Prompt):
		return m.startInput(inputPrompt, "caption prompt", m.prompt)
	case key.Matches(msg, m.keys.Edit):
		return m.startInput(inputField, string(m.focused()), m.c.Field(m.focused()))
	case key.Matches(msg, m.keys.NextField):
		m.field = (m.field + 1) % len(task.Fields())
		m.refresh()
		return m, nil
	case key.Matches(msg, m.keys.SelectModel):
		if err = m.c.SelectModel(next(m.c.Variants(), m.c.Settings().LastUsedVariant)); err == nil {
			m.prompt = m.c.CaptionPrompt()
		}
	case key.Matches(msg, m.keys.Load):
		err = m.c.Load()
	case key.Matches(msg, m.keys.Unload):
		err = m.c.Unload()
	case key.Matches(msg, m.keys.Generate):
		err = m.c.Generate(m.prompt)
	case key.Matches(msg, m.keys.Card):
		err = m.c.GenerateCard()
	case key.Matches(msg, m.keys.SD):
		err = m.c.GenerateSD()
	case key.Matches(msg, m.keys.CopyCaption):
		err = m.c.Copy(task.FieldCaption)
	case key.Matches(msg, m.keys.CopyTags):
		err = m.c.Copy(task.FieldTags)
	case key.Matches(msg, m.keys.TestAPI):
		err = m.c.TestAPI()
	case key.Matches(msg, m.keys.Template):
		err = m.cycleTemplate(prompt.KindCard)
	case key.Matches(msg, m.keys.TemplateSD):
		err = m.cycleTemplate(prompt.KindSD)
	case key.Matches(msg, m.keys.Cancel):
		m.c.Cancel()
	default:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	m.err = ""
	if err != nil {
		m.err = err.Error()
	}
	m.afterChange()
	return m, m.startPolling()
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.mode = inputNone
		m.input.Blur()
		return m, nil
	case tea.KeyEnter:
		value := strings.TrimSpace(m.input.Value())
		mode := m.mode
		m.mode = inputNone
		m.input.Blur()

		var err error
		switch mode {
		case inputImage:
			err = m.c.LoadImageFile(value)
		case inputPrompt:
			m.prompt = value
		case inputField:
			err = m.c.SetField(m.focused(), value)
		}
		m.err = ""
		if err != nil {
			m.err = err.Error()
		}
		m.afterChange()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) startInput(mode inputMode, placeholder, value string) (tea.Model, tea.Cmd) {
	m.mode = mode
	m.input.Placeholder = placeholder
	m.input.SetValue(value)
	m.input.CursorEnd()
	return m, m.input.Focus()
}

// startPolling schedules the poll loop if a run is pending and the loop is
// not already ticking.
func (m *Model) startPolling() tea.Cmd {
	if m.polling || !m.c.Active() {
		return nil
	}
	m.polling = true
	return task.Tick(m.interval)
}

// afterChange syncs key bindings and the viewport with the coordinator.
func (m *Model) afterChange() {
	m.keys.apply(m.c.Affordances())
	if n := m.c.ErrorCount(); n != m.errSeen {
		m.errSeen = n
		m.err = m.c.LastError()
	}
	m.refresh()
}

func (m *Model) refresh() {
	text := m.c.Field(m.focused())
	if text == "" {
		text = dimStyle.Render("(empty)")
	}
	m.viewport.SetContent(lipgloss.NewStyle().Width(m.viewport.Width).Render(text))
}

func (m Model) focused() task.FieldID {
	return task.Fields()[m.field]
}

func (m *Model) cycleTemplate(kind prompt.Kind) error {
	names, err := m.c.Templates(kind)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("no %s templates", kind)
	}
	return m.c.SetTemplate(kind, next(names, m.c.Template(kind)))
}

// next returns the element after cur in list, wrapping around.
func next(list []string, cur string) string {
	if len(list) == 0 {
		return cur
	}
	for i, v := range list {
		if v == cur {
			return list[(i+1)%len(list)]
		}
	}
	return list[0]
}

// View renders the screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder

	model := m.c.ModelName()
	if model == "" {
		model = "(none)"
	}
	image := "(none)"
	if m.c.HasImage() {
		image = filepath.Base(m.c.ImagePath())
	}
	fmt.Fprintf(&b, "%s  %s\n", titleStyle.Render("plotcaption"), stateStyle.Render(m.c.State().String()))
	fmt.Fprintf(&b, "%s %s  %s %s  %s %s/%s\n",
		dimStyle.Render("model:"), model,
		dimStyle.Render("image:"), image,
		dimStyle.Render("templates:"), m.c.Template(prompt.KindCard), m.c.Template(prompt.KindSD))
	if m.prompt != "" {
		fmt.Fprintf(&b, "%s %s\n", dimStyle.Render("prompt:"), m.prompt)
	}
	b.WriteString("\n")

	var tabs []string
	for i, f := range task.Fields() {
		if i == m.field {
			tabs = append(tabs, activeTabStyle.Render(string(f)))
		} else {
			tabs = append(tabs, tabStyle.Render(string(f)))
		}
	}
	b.WriteString(strings.Join(tabs, "  ") + "\n")
	b.WriteString(fieldStyle.Render(m.viewport.View()) + "\n")

	if m.mode != inputNone {
		b.WriteString(m.input.View() + "\n")
	}

	status := m.c.Status()
	if m.c.State().Busy() || m.polling {
		status = m.spinner.View() + " " + status
	}
	b.WriteString(statusBarStyle.Render(status) + "\n")
	if m.err != "" {
		b.WriteString(errorStyle.Render("Error: "+m.err) + "\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

// ShutdownErr returns the error from saving state on quit, if any.
func (m Model) ShutdownErr() error {
	return m.shutErr
}
