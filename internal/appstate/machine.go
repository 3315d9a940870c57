package appstate

import "fmt"

// Event is a coordinator occurrence that moves the machine.
type Event int

const (
	EventLoad              Event = iota // User asked to load a model.
	EventLoadSucceeded                  // Background load finished.
	EventLoadFailed                     // Background load failed or was cancelled.
	EventUnload                         // User unloaded the model.
	EventImageSet                       // An image became available.
	EventGenerate                       // User started the caption/tags run.
	EventGenerateSucceeded              // Caption/tags run finished.
	EventGenerateFailed                 // Caption/tags run failed.
	EventAPIStart                       // User started a card or SD run.
	EventAPISucceeded                   // Card or SD run finished.
	EventAPIFailed                      // Card or SD run failed.
)

func (e Event) String() string {
	switch e {
	case EventLoad:
		return "load"
	case EventLoadSucceeded:
		return "load_succeeded"
	case EventLoadFailed:
		return "load_failed"
	case EventUnload:
		return "unload"
	case EventImageSet:
		return "image_set"
	case EventGenerate:
		return "generate"
	case EventGenerateSucceeded:
		return "generate_succeeded"
	case EventGenerateFailed:
		return "generate_failed"
	case EventAPIStart:
		return "api_start"
	case EventAPISucceeded:
		return "api_succeeded"
	case EventAPIFailed:
		return "api_failed"
	default:
		return "unknown"
	}
}

// allowed lists the events each state accepts in strict mode.
var allowed = map[State][]Event{
	Idle:                   {EventLoad, EventImageSet, EventAPIStart},
	ModelLoading:           {EventLoadSucceeded, EventLoadFailed, EventImageSet},
	ModelLoaded:            {EventUnload, EventImageSet, EventAPIStart},
	ReadyToGenerate:        {EventUnload, EventImageSet, EventGenerate, EventAPIStart},
	Generating:             {EventGenerateSucceeded, EventGenerateFailed, EventImageSet},
	ReadyForCardGeneration: {EventUnload, EventImageSet, EventGenerate, EventAPIStart},
	ReadyForSdGeneration:   {EventUnload, EventImageSet, EventGenerate, EventAPIStart},
	ApiGenerating:          {EventAPISucceeded, EventAPIFailed, EventUnload, EventImageSet},
}

// Allowed reports whether state s accepts event e in strict mode.
func Allowed(s State, e Event) bool {
	for _, ev := range allowed[s] {
		if ev == e {
			return true
		}
	}
	return false
}

// TransitionError reports an event that the current state does not accept.
type TransitionError struct {
	From  State
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("appstate: event %s not allowed in state %s", e.Event, e.From)
}

// Machine holds the current state and its derived affordances.
// It is not safe for concurrent use; confine it to the interactive goroutine.
type Machine struct {
	state    State
	previous State
	anc      Ancillary
	aff      Affordances
	strict   bool
	onChange func(State, Affordances)
}

// Option configures a Machine.
type Option func(*Machine)

// WithStrict makes Fire reject events the current state does not accept.
func WithStrict(strict bool) Option {
	return func(m *Machine) { m.strict = strict }
}

// WithOnChange registers a callback invoked after every recomputation.
func WithOnChange(fn func(State, Affordances)) Option {
	return func(m *Machine) { m.onChange = fn }
}

// NewMachine creates a Machine in the Idle state.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{state: Idle, previous: Idle}
	for _, opt := range opts {
		opt(m)
	}
	m.recompute()
	return m
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Previous returns the state that was current before the last transition.
func (m *Machine) Previous() State { return m.previous }

// Ancillary returns the current ancillary conditions.
func (m *Machine) Ancillary() Ancillary { return m.anc }

// Affordances returns the current enabled actions.
func (m *Machine) Affordances() Affordances { return m.aff }

// Strict reports whether Fire validates events.
func (m *Machine) Strict() bool { return m.strict }

// Transition moves to s unconditionally and recomputes every affordance.
// It never rejects: reachability is the caller's concern.
func (m *Machine) Transition(s State) {
	if s != m.state {
		m.previous = m.state
	}
	m.state = s
	m.recompute()
}

// SetAncillary replaces the ancillary conditions and recomputes affordances
// without changing state.
func (m *Machine) SetAncillary(anc Ancillary) {
	m.anc = anc
	m.recompute()
}

// Fire resolves the target state for e and transitions to it. In strict
// mode an event the current state does not accept returns a
// *TransitionError and leaves the machine untouched.
func (m *Machine) Fire(e Event) (State, error) {
	if m.strict && !Allowed(m.state, e) {
		return m.state, &TransitionError{From: m.state, Event: e}
	}
	next := m.target(e)
	m.Transition(next)
	return next, nil
}

// target returns the natural destination of e from the current state.
func (m *Machine) target(e Event) State {
	switch e {
	case EventLoad:
		return ModelLoading
	case EventLoadSucceeded:
		if m.anc.HasImage {
			return ReadyToGenerate
		}
		return ModelLoaded
	case EventLoadFailed, EventUnload:
		return Idle
	case EventImageSet:
		if m.state == ModelLoaded {
			return ReadyToGenerate
		}
		return m.state
	case EventGenerate:
		return Generating
	case EventGenerateSucceeded:
		return ReadyForCardGeneration
	case EventGenerateFailed:
		return ReadyToGenerate
	case EventAPIStart:
		return ApiGenerating
	case EventAPISucceeded:
		resume := m.resumeState()
		if resume == ReadyForCardGeneration || resume == ReadyForSdGeneration {
			return ReadyForSdGeneration
		}
		return resume
	case EventAPIFailed:
		return m.resumeState()
	default:
		return m.state
	}
}

// resumeState is where an API run returns to once it ends.
func (m *Machine) resumeState() State {
	if m.state == ApiGenerating {
		return m.previous
	}
	return m.state
}

func (m *Machine) recompute() {
	m.aff = Compute(m.state, m.anc)
	if m.onChange != nil {
		m.onChange(m.state, m.aff)
	}
}
