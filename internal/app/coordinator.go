// Package app owns the interactive side of plotcaption: the state machine,
// the output fields and the poll loop that applies run messages to them.
package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/smileynet/plotcaption/internal/appstate"
	"github.com/smileynet/plotcaption/internal/inference"
	"github.com/smileynet/plotcaption/internal/logging"
	"github.com/smileynet/plotcaption/internal/orchestrator"
	"github.com/smileynet/plotcaption/internal/prompt"
	"github.com/smileynet/plotcaption/internal/provider"
	"github.com/smileynet/plotcaption/internal/settings"
	"github.com/smileynet/plotcaption/internal/task"
	"github.com/smileynet/plotcaption/internal/worklog"
)

// ImageExtensions lists the accepted image file extensions.
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".bmp", ".gif", ".webp"}

var (
	// ErrUnsupportedImage indicates a file whose extension is not an image type.
	ErrUnsupportedImage = errors.New("app: unsupported image type")
	// ErrEmptyField indicates a copy of a field with no content.
	ErrEmptyField = errors.New("app: field is empty")
)

// StateError indicates an action that the current state does not allow.
type StateError struct {
	Action appstate.Action
	State  appstate.State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("app: %s not allowed in state %s", e.Action, e.State)
}

// Deps are the collaborators a Coordinator is built from.
type Deps struct {
	Channel   *task.Channel
	Runner    *orchestrator.Runner
	Registry  *inference.Registry
	Engine    inference.Engine
	Renderer  *prompt.Renderer
	Store     settings.Store // Nil disables persistence.
	Settings  settings.Settings
	Clipboard Clipboard // Nil disables copy.
	Logger    zerolog.Logger
	Strict    bool // Reject undeclared state transitions.

	// SessionTemplates and SessionDir enable the markdown session log when
	// both are set.
	SessionTemplates fs.FS
	SessionDir       string

	// Observer, when set, sees every message the poll loop applies.
	Observer func(task.Message)

	Now func() time.Time
}

// runInfo tracks a run the coordinator started.
type runInfo struct {
	tag     string
	failed  bool
	settled bool // State already restored; Done changes nothing.
}

// Coordinator is the single owner of application state. Every method must be
// called from the interactive goroutine.
type Coordinator struct {
	ch       *task.Channel
	runner   *orchestrator.Runner
	registry *inference.Registry
	engine   inference.Engine
	renderer *prompt.Renderer
	store    settings.Store
	clip     Clipboard
	log      zerolog.Logger
	observer func(task.Message)
	now      func() time.Time

	machine   *appstate.Machine
	settings  settings.Settings
	fields    map[task.FieldID]string
	model     inference.Model
	image     []byte
	imagePath string
	templates map[prompt.Kind]string
	status    string
	lastError string
	errCount  int

	// The state whose status text was last shown; ancillary-only changes
	// keep the current status line.
	statusState appstate.State
	statusShown bool
	runs      map[string]*runInfo
	outcomes  map[string]bool // Last result per run tag.

	sessionTemplates fs.FS
	sessionDir       string
	sessionPath      string
}

// New builds a Coordinator in the Idle state. The saved variant is selected
// when it is registered.
func New(d Deps) *Coordinator {
	c := &Coordinator{
		ch:               d.Channel,
		runner:           d.Runner,
		registry:         d.Registry,
		engine:           d.Engine,
		renderer:         d.Renderer,
		store:            d.Store,
		clip:             d.Clipboard,
		log:              logging.Component(d.Logger, "coordinator"),
		observer:         d.Observer,
		now:              d.Now,
		settings:         d.Settings,
		fields:           make(map[task.FieldID]string),
		templates:        make(map[prompt.Kind]string),
		runs:             make(map[string]*runInfo),
		outcomes:         make(map[string]bool),
		sessionTemplates: d.SessionTemplates,
		sessionDir:       d.SessionDir,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.ch == nil {
		c.ch = task.NewChannel()
	}
	if c.runner == nil {
		c.runner = orchestrator.New(c.ch)
	}
	if c.registry == nil {
		c.registry = inference.NewRegistry()
		inference.RegisterBuiltins(c.registry)
	}

	c.machine = appstate.NewMachine(
		appstate.WithStrict(d.Strict),
		appstate.WithOnChange(func(s appstate.State, _ appstate.Affordances) {
			if c.statusShown && s == c.statusState {
				return
			}
			c.status = appstate.StatusText(s, c.ancillary(), c.ModelName())
			c.statusState, c.statusShown = s, true
		}),
	)

	c.templates[prompt.KindCard] = c.resolveTemplate(prompt.KindCard, c.settings.LastCardTemplate)
	c.templates[prompt.KindSD] = c.resolveTemplate(prompt.KindSD, c.settings.LastSDTemplate)

	if tag := c.settings.LastUsedVariant; tag != "" {
		if err := c.selectModel(tag); err != nil {
			c.log.Warn().Err(err).Str("variant", tag).Msg("saved variant unavailable")
		}
	}
	return c
}

func (c *Coordinator) resolveTemplate(kind prompt.Kind, name string) string {
	if c.renderer == nil {
		return prompt.DefaultTemplate
	}
	return c.renderer.Resolve(kind, name)
}

// State returns the current application state.
func (c *Coordinator) State() appstate.State { return c.machine.State() }

// Affordances returns the actions currently enabled.
func (c *Coordinator) Affordances() appstate.Affordances { return c.machine.Affordances() }

// Status returns the status line.
func (c *Coordinator) Status() string { return c.status }

// LastError returns the most recent error shown to the user.
func (c *Coordinator) LastError() string { return c.lastError }

// ErrorCount returns how many errors have been shown so far.
func (c *Coordinator) ErrorCount() int { return c.errCount }

// Field returns the content of an output field.
func (c *Coordinator) Field(id task.FieldID) string { return c.fields[id] }

// ImagePath returns the path of the current image, if it came from a file.
func (c *Coordinator) ImagePath() string { return c.imagePath }

// HasImage reports whether an image is set.
func (c *Coordinator) HasImage() bool { return len(c.image) > 0 }

// Settings returns a copy of the current settings.
func (c *Coordinator) Settings() settings.Settings { return c.settings }

// SessionPath returns the session log path, empty until the first output.
func (c *Coordinator) SessionPath() string { return c.sessionPath }

// Variants returns the registered variant tags.
func (c *Coordinator) Variants() []string { return c.registry.Tags() }

// ModelName returns the selected profile name, or empty.
func (c *Coordinator) ModelName() string {
	if c.model == nil {
		return ""
	}
	return c.model.Profile().Name
}

// Template returns the selected template name for kind.
func (c *Coordinator) Template(kind prompt.Kind) string { return c.templates[kind] }

// Templates lists the available templates for kind.
func (c *Coordinator) Templates(kind prompt.Kind) ([]string, error) {
	if c.renderer == nil {
		return nil, nil
	}
	return c.renderer.Templates(kind)
}

// Succeeded reports whether the last finished run with tag succeeded.
func (c *Coordinator) Succeeded(tag string) bool { return c.outcomes[tag] }

// Active reports whether the poll loop still has work: queued messages or
// runs that have not posted Done.
func (c *Coordinator) Active() bool {
	return c.ch.Len() > 0 || len(c.runs) > 0 || c.runner.InFlight() > 0
}

func (c *Coordinator) ancillary() appstate.Ancillary {
	return appstate.Ancillary{
		HasImage:       len(c.image) > 0,
		HasProfile:     c.model != nil,
		HasCaptionText: strings.TrimSpace(c.fields[task.FieldCaption]) != "",
		HasCardText:    strings.TrimSpace(c.fields[task.FieldCardOutput]) != "",
	}
}

// syncAncillary pushes ancillary changes into the machine.
func (c *Coordinator) syncAncillary() {
	if anc := c.ancillary(); anc != c.machine.Ancillary() {
		c.machine.SetAncillary(anc)
	}
}

func (c *Coordinator) require(act appstate.Action) error {
	if !c.machine.Affordances().Enabled(act) {
		return &StateError{Action: act, State: c.machine.State()}
	}
	return nil
}

func (c *Coordinator) fire(e appstate.Event) error {
	if _, err := c.machine.Fire(e); err != nil {
		c.log.Warn().Err(err).Msg("transition rejected")
		return err
	}
	return nil
}

// notify records a user-visible error.
func (c *Coordinator) notify(text string) {
	c.lastError = text
	c.errCount++
	c.log.Error().Str("state", c.machine.State().String()).Msg(text)
}

// SelectModel picks the variant used for the next load.
func (c *Coordinator) SelectModel(tag string) error {
	if err := c.require(appstate.ActionSelectModel); err != nil {
		return err
	}
	if err := c.selectModel(tag); err != nil {
		c.notify(err.Error())
		return err
	}
	c.status = "Selected model: " + c.ModelName()
	return nil
}

func (c *Coordinator) selectModel(tag string) error {
	v, err := c.registry.NewVariant(tag)
	if err != nil {
		return err
	}
	c.model = inference.Bind(c.engine, v)
	c.settings.LastUsedVariant = tag
	c.settings.RememberModel(tag)
	c.syncAncillary()
	return nil
}

// LoadImageFile reads an image file and sets it as the current image. The
// file is validated by extension only.
func (c *Coordinator) LoadImageFile(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(ImageExtensions, ext) {
		err := fmt.Errorf("%w: %q (accepted: %s)", ErrUnsupportedImage, filepath.Base(path), strings.Join(ImageExtensions, ", "))
		c.notify(err.Error())
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("app: reading image: %w", err)
		c.notify(err.Error())
		return err
	}
	return c.SetImage(path, data)
}

// SetImage replaces the current image. Runs already started keep the
// snapshot they were given.
func (c *Coordinator) SetImage(path string, data []byte) error {
	if len(data) == 0 {
		return inference.ErrNoImage
	}
	c.image = data
	c.imagePath = path
	c.syncAncillary()

	switch c.machine.State() {
	case appstate.ModelLoaded:
		return c.fire(appstate.EventImageSet)
	case appstate.ModelLoading:
		c.status = "Image ready. Wait for model..."
	case appstate.ReadyToGenerate, appstate.ReadyForCardGeneration, appstate.ReadyForSdGeneration:
		c.status = "Image ready. Ready to generate."
	case appstate.Idle:
		c.status = "Image ready. Now load a model."
	default:
		c.status = "Image ready."
	}
	return nil
}

// Load starts loading the selected model.
func (c *Coordinator) Load() error {
	if err := c.require(appstate.ActionLoad); err != nil {
		return err
	}
	prev := c.machine.State()
	if err := c.fire(appstate.EventLoad); err != nil {
		return err
	}
	return c.started(prev, orchestrator.TagLoad)(c.runner.StartLoad(c.model))
}

// Unload drops the model. It is never enabled while a load or caption run
// is in flight; an API run keeps going and resumes to Idle.
func (c *Coordinator) Unload() error {
	if err := c.require(appstate.ActionUnload); err != nil {
		return err
	}
	if c.model != nil {
		c.model.Unload()
	}
	if err := c.fire(appstate.EventUnload); err != nil {
		return err
	}
	c.status = "Model unloaded."
	return nil
}

// CaptionPrompt returns the selected profile's default caption prompt.
func (c *Coordinator) CaptionPrompt() string {
	if c.model == nil {
		return ""
	}
	return c.model.Profile().CaptionPrompt
}

// Generate starts the caption and tags run. A blank prompt is rejected.
func (c *Coordinator) Generate(userPrompt string) error {
	if err := c.require(appstate.ActionGenerateCaption); err != nil {
		return err
	}
	in := orchestrator.LocalInput{Model: c.model, Prompt: userPrompt, Image: c.image}
	prev := c.machine.State()
	if err := c.fire(appstate.EventGenerate); err != nil {
		return err
	}
	return c.started(prev, orchestrator.TagCaption)(c.runner.StartLocal(in))
}

// GenerateCard sends the card prompt to the API.
func (c *Coordinator) GenerateCard() error {
	if err := c.require(appstate.ActionGenerateCard); err != nil {
		return err
	}
	p := c.fields[task.FieldCardPrompt]
	if strings.TrimSpace(p) == "" {
		p = c.renderCard()
	}
	return c.startRemote(orchestrator.TagCard, task.FieldCardOutput, p)
}

// GenerateSD sends the SD prompt to the API.
func (c *Coordinator) GenerateSD() error {
	if err := c.require(appstate.ActionGenerateSd); err != nil {
		return err
	}
	p := c.fields[task.FieldSDPrompt]
	if strings.TrimSpace(p) == "" {
		p = c.renderSD()
	}
	return c.startRemote(orchestrator.TagSD, task.FieldSDOutput, p)
}

func (c *Coordinator) startRemote(tag string, field task.FieldID, text string) error {
	in := orchestrator.RemoteInput{Tag: tag, Field: field, Request: c.settings.Request(text)}
	prev := c.machine.State()
	if err := c.fire(appstate.EventAPIStart); err != nil {
		return err
	}
	return c.started(prev, tag)(c.runner.StartRemote(in))
}

// TestAPI checks the saved API credentials with a short request.
func (c *Coordinator) TestAPI() error {
	if err := c.require(appstate.ActionTestAPI); err != nil {
		return err
	}
	id, err := c.runner.StartTest(c.settings.Request(""))
	if id != "" {
		c.runs[id] = &runInfo{tag: orchestrator.TagTest, failed: err != nil, settled: err != nil}
	}
	return err
}

// started returns a handler for the result of a run start. A start that
// never spawned restores prev straight away; its Error and Done messages
// are still applied by Poll.
func (c *Coordinator) started(prev appstate.State, tag string) func(string, error) error {
	return func(id string, err error) error {
		if id != "" {
			c.runs[id] = &runInfo{tag: tag, failed: err != nil, settled: err != nil}
		}
		if err == nil {
			c.log.Info().Str("run", id).Str("tag", tag).Msg("run started")
			return nil
		}
		c.machine.Transition(prev)
		if errors.Is(err, orchestrator.ErrBusy) {
			c.notify("Another " + tag + " run is still in progress.")
		}
		return err
	}
}

// Copy puts a field on the clipboard.
func (c *Coordinator) Copy(field task.FieldID) error {
	switch field {
	case task.FieldCaption:
		if err := c.require(appstate.ActionCopyCaption); err != nil {
			return err
		}
	case task.FieldTags:
		if err := c.require(appstate.ActionCopyTags); err != nil {
			return err
		}
	}
	text := c.fields[field]
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyField, field)
	}
	if c.clip == nil {
		return errors.New("app: no clipboard available")
	}
	if err := c.clip.Copy(text); err != nil {
		c.notify("Copy failed: " + err.Error())
		return err
	}
	c.status = fieldTitle(field) + " copied to clipboard."
	return nil
}

func fieldTitle(f task.FieldID) string {
	s := strings.ReplaceAll(string(f), "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// fieldGroup returns the run group that writes f, if any.
func fieldGroup(f task.FieldID) (orchestrator.Group, bool) {
	switch f {
	case task.FieldCaption, task.FieldTags:
		return orchestrator.GroupLocal, true
	case task.FieldCardOutput, task.FieldSDOutput:
		return orchestrator.GroupAPI, true
	}
	return "", false
}

// SetField stores a user edit. Fields owned by a run in flight are
// read-only until it finishes.
func (c *Coordinator) SetField(field task.FieldID, text string) error {
	if g, ok := fieldGroup(field); ok && c.runner.Busy(g) {
		return fmt.Errorf("app: %s is being written by a %s run", field, g)
	}
	c.fields[field] = text
	c.syncAncillary()
	return nil
}

// SetTemplate selects the template for kind and re-renders its prompt when
// the inputs for it exist.
func (c *Coordinator) SetTemplate(kind prompt.Kind, name string) error {
	if c.renderer == nil {
		return errors.New("app: no template renderer")
	}
	if _, err := c.renderer.Load(kind, name); err != nil {
		c.notify(err.Error())
		return err
	}
	c.templates[kind] = name
	switch kind {
	case prompt.KindCard:
		c.settings.LastCardTemplate = name
		if c.fields[task.FieldCaption] != "" {
			c.fields[task.FieldCardPrompt] = c.renderCard()
		}
	case prompt.KindSD:
		c.settings.LastSDTemplate = name
		if c.fields[task.FieldCardOutput] != "" {
			c.fields[task.FieldSDPrompt] = c.renderSD()
		}
	}
	return nil
}

// SetSampling stores the API sampling parameters, clamped to range.
func (c *Coordinator) SetSampling(s provider.Sampling) {
	c.settings.SetSampling(s)
}

// SetCredentials stores the API credentials used by card and SD runs.
func (c *Coordinator) SetCredentials(apiKey, baseURL, model string) {
	c.settings.APIKey = apiKey
	c.settings.BaseURL = baseURL
	c.settings.ModelName = model
}

func (c *Coordinator) renderCard() string {
	return c.render(prompt.KindCard, prompt.CardPlaceholders(c.fields[task.FieldCaption], c.fields[task.FieldTags]))
}

func (c *Coordinator) renderSD() string {
	return c.render(prompt.KindSD, prompt.SDPlaceholders(
		c.fields[task.FieldCaption], c.fields[task.FieldTags], c.fields[task.FieldCardOutput]))
}

func (c *Coordinator) render(kind prompt.Kind, values map[string]string) string {
	if c.renderer == nil {
		return ""
	}
	out, err := c.renderer.Render(kind, c.templates[kind], values)
	if err != nil {
		c.notify("Template error: " + err.Error())
		return ""
	}
	return out
}

// Cancel abandons every run in flight. Each still posts Error and Done.
func (c *Coordinator) Cancel() {
	if c.runner.InFlight() == 0 {
		return
	}
	c.runner.CancelAll()
	c.status = "Cancelling..."
}

// Poll applies at most one queued message and reports whether one was
// applied.
func (c *Coordinator) Poll() bool {
	msg, ok := c.ch.TryDequeue()
	if !ok {
		return false
	}
	c.apply(msg)
	if c.observer != nil {
		c.observer(msg)
	}
	return true
}

func (c *Coordinator) apply(msg task.Message) {
	info := c.runs[msg.RunID]
	c.log.Debug().Str("run", msg.RunID).Stringer("msg", msg).Msg("applying")

	switch msg.Kind {
	case task.KindStatus:
		c.status = msg.Text
	case task.KindUpdateField:
		c.fields[msg.Field] = msg.Text
		c.syncAncillary()
		c.record(msg.Field, msg.Text)
	case task.KindError:
		if info != nil {
			info.failed = true
		}
		c.notify(msg.Text)
	case task.KindDone:
		delete(c.runs, msg.RunID)
		if info == nil {
			return
		}
		c.outcomes[msg.Tag] = !info.failed
		if info.settled {
			return
		}
		c.finish(msg.Tag, !info.failed)
	}
}

// finish moves the machine once a run has posted Done.
func (c *Coordinator) finish(tag string, ok bool) {
	switch tag {
	case orchestrator.TagLoad:
		if ok {
			_ = c.fire(appstate.EventLoadSucceeded)
		} else {
			_ = c.fire(appstate.EventLoadFailed)
		}
	case orchestrator.TagCaption:
		if !ok {
			_ = c.fire(appstate.EventGenerateFailed)
			return
		}
		_ = c.fire(appstate.EventGenerateSucceeded)
		c.fields[task.FieldCardPrompt] = c.renderCard()
	case orchestrator.TagCard:
		if !ok {
			_ = c.fire(appstate.EventAPIFailed)
			return
		}
		_ = c.fire(appstate.EventAPISucceeded)
		c.fields[task.FieldSDPrompt] = c.renderSD()
	case orchestrator.TagSD:
		if ok {
			_ = c.fire(appstate.EventAPISucceeded)
		} else {
			_ = c.fire(appstate.EventAPIFailed)
		}
	}
}

// record appends a completed output to the session log.
func (c *Coordinator) record(field task.FieldID, text string) {
	if c.sessionTemplates == nil || c.sessionDir == "" {
		return
	}
	if c.sessionPath == "" {
		started := c.now()
		path, err := worklog.Create(c.sessionTemplates, c.sessionDir, worklog.SessionContext{
			ID:      "session-" + started.Format("20060102-150405"),
			Model:   c.ModelName(),
			Image:   c.imagePath,
			Started: started,
		})
		if err != nil {
			c.log.Warn().Err(err).Msg("session log disabled")
			c.sessionTemplates = nil
			return
		}
		c.sessionPath = path
	}
	if err := worklog.AppendEntry(c.sessionPath, worklog.Entry{Field: string(field), Text: text, Timestamp: c.now()}); err != nil {
		c.log.Warn().Err(err).Str("path", c.sessionPath).Msg("session log append failed")
	}
}

// Shutdown cancels runs in flight, waits for them and saves settings.
func (c *Coordinator) Shutdown() error {
	c.runner.CancelAll()
	c.runner.Wait()
	for c.Poll() {
	}
	if c.model != nil {
		c.model.Unload()
	}
	if c.store == nil {
		return nil
	}
	if err := c.store.Save(c.settings); err != nil {
		c.log.Error().Err(err).Msg("saving settings")
		return fmt.Errorf("app: saving settings: %w", err)
	}
	c.log.Info().Msg("settings saved")
	return nil
}
