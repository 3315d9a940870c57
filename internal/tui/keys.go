package tui

import (
	"github.com/charmbracelet/bubbles/key"

	"github.com/smileynet/plotcaption/internal/appstate"
)

// keyMap holds the main screen bindings. Action bindings are enabled from
// the coordinator's affordances, so help only lists what can run now.
type keyMap struct {
	Load        key.Binding
	Unload      key.Binding
	Generate    key.Binding
	Card        key.Binding
	SD          key.Binding
	CopyCaption key.Binding
	CopyTags    key.Binding
	SelectModel key.Binding
	TestAPI     key.Binding
	Image       key.Binding
	Prompt      key.Binding
	Template    key.Binding
	TemplateSD  key.Binding
	Edit        key.Binding
	NextField   key.Binding
	Cancel      key.Binding
	Help        key.Binding
	Quit        key.Binding
}

// ShortHelp returns the bindings shown in the help bar.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Image, k.Load, k.Generate, k.Card, k.SD, k.Cancel, k.Help, k.Quit}
}

// FullHelp returns every binding grouped for expanded help.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.SelectModel, k.Load, k.Unload, k.Image},
		{k.Prompt, k.Generate, k.Card, k.SD},
		{k.CopyCaption, k.CopyTags, k.Template, k.TemplateSD},
		{k.NextField, k.Edit, k.TestAPI, k.Cancel},
		{k.Help, k.Quit},
	}
}

// bindings maps affordance-gated actions to their key.
func (k *keyMap) bindings() map[appstate.Action]*key.Binding {
	return map[appstate.Action]*key.Binding{
		appstate.ActionLoad:            &k.Load,
		appstate.ActionUnload:          &k.Unload,
		appstate.ActionGenerateCaption: &k.Generate,
		appstate.ActionGenerateCard:    &k.Card,
		appstate.ActionGenerateSd:      &k.SD,
		appstate.ActionCopyCaption:     &k.CopyCaption,
		appstate.ActionCopyTags:        &k.CopyTags,
		appstate.ActionSelectModel:     &k.SelectModel,
		appstate.ActionTestAPI:         &k.TestAPI,
	}
}

// apply enables exactly the bindings whose action is afforded.
func (k *keyMap) apply(aff appstate.Affordances) {
	for act, b := range k.bindings() {
		b.SetEnabled(aff.Enabled(act))
	}
}

// defaultKeyMap returns the main screen bindings.
func defaultKeyMap() keyMap {
	return keyMap{
		Load:        key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "load model")),
		Unload:      key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "unload")),
		Generate:    key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "caption")),
		Card:        key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "card")),
		SD:          key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "sd prompt")),
		CopyCaption: key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "copy caption")),
		CopyTags:    key.NewBinding(key.WithKeys("Y"), key.WithHelp("Y", "copy tags")),
		SelectModel: key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "next model")),
		TestAPI:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "test api")),
		Image:       key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "open image")),
		Prompt:      key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "edit prompt")),
		Template:    key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "next card template")),
		TemplateSD:  key.NewBinding(key.WithKeys("T"), key.WithHelp("T", "next sd template")),
		Edit:        key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit field")),
		NextField:   key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next field")),
		Cancel:      key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "cancel runs")),
		Help:        key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more keys")),
		Quit:        key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}
