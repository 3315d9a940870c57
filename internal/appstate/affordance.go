package appstate

import "strings"

// Action is a user-triggerable operation.
type Action int

const (
	ActionLoad Action = iota
	ActionUnload
	ActionGenerateCaption
	ActionGenerateCard
	ActionGenerateSd
	ActionCopyCaption
	ActionCopyTags
	ActionSelectModel
	ActionTestAPI
	numActions
)

// Actions lists every action in declaration order.
func Actions() []Action {
	out := make([]Action, 0, numActions)
	for a := Action(0); a < numActions; a++ {
		out = append(out, a)
	}
	return out
}

func (a Action) String() string {
	switch a {
	case ActionLoad:
		return "load"
	case ActionUnload:
		return "unload"
	case ActionGenerateCaption:
		return "generateCaption"
	case ActionGenerateCard:
		return "generateCard"
	case ActionGenerateSd:
		return "generateSd"
	case ActionCopyCaption:
		return "copyCaption"
	case ActionCopyTags:
		return "copyTags"
	case ActionSelectModel:
		return "selectModel"
	case ActionTestAPI:
		return "testApi"
	default:
		return "unknown"
	}
}

// Ancillary holds the non-state conditions that gate actions.
type Ancillary struct {
	HasImage       bool
	HasProfile     bool
	HasCaptionText bool
	HasCardText    bool
}

// Affordances is the set of enabled actions. The zero value enables nothing.
type Affordances uint16

// Of builds an Affordances value with the given actions enabled.
func Of(actions ...Action) Affordances {
	var a Affordances
	for _, act := range actions {
		a = a.With(act)
	}
	return a
}

// Enabled reports whether act is enabled.
func (a Affordances) Enabled(act Action) bool {
	return a&(1<<uint(act)) != 0
}

// With returns a copy with act enabled.
func (a Affordances) With(act Action) Affordances {
	return a | 1<<uint(act)
}

// Without returns a copy with act disabled.
func (a Affordances) Without(act Action) Affordances {
	return a &^ (1 << uint(act))
}

// set enables or disables act.
func (a Affordances) set(act Action, on bool) Affordances {
	if on {
		return a.With(act)
	}
	return a.Without(act)
}

// List returns the enabled actions in declaration order.
func (a Affordances) List() []Action {
	var out []Action
	for _, act := range Actions() {
		if a.Enabled(act) {
			out = append(out, act)
		}
	}
	return out
}

func (a Affordances) String() string {
	names := make([]string, 0, numActions)
	for _, act := range a.List() {
		names = append(names, act.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

// stateDefaults is the first layer of the table: what each state enables
// before ancillary conditions are applied.
var stateDefaults = map[State]Affordances{
	Idle:                   Of(ActionLoad, ActionSelectModel, ActionCopyCaption, ActionCopyTags, ActionTestAPI),
	ModelLoading:           Of(ActionCopyCaption, ActionCopyTags, ActionTestAPI),
	ModelLoaded:            Of(ActionUnload, ActionCopyCaption, ActionCopyTags, ActionTestAPI),
	ReadyToGenerate:        Of(ActionUnload, ActionGenerateCaption, ActionCopyCaption, ActionCopyTags, ActionTestAPI),
	Generating:             Of(ActionCopyCaption, ActionCopyTags),
	ReadyForCardGeneration: Of(ActionUnload, ActionGenerateCaption, ActionGenerateCard, ActionGenerateSd, ActionCopyCaption, ActionCopyTags, ActionTestAPI),
	ReadyForSdGeneration:   Of(ActionUnload, ActionGenerateCaption, ActionGenerateCard, ActionGenerateSd, ActionCopyCaption, ActionCopyTags, ActionTestAPI),
	ApiGenerating:          Of(ActionUnload, ActionCopyCaption, ActionCopyTags),
}

// Compute derives the enabled actions for a state and its ancillary
// conditions. It is pure: equal inputs always give equal outputs.
func Compute(s State, anc Ancillary) Affordances {
	a := stateDefaults[s]

	// Remote generation only needs its source text, whatever the model state,
	// but never while another run owns the fields.
	a = a.set(ActionGenerateCard, anc.HasCaptionText && !s.Busy())
	a = a.set(ActionGenerateSd, anc.HasCardText && !s.Busy())

	if !anc.HasImage || !anc.HasProfile {
		a = a.Without(ActionGenerateCaption)
	}
	if !anc.HasProfile {
		a = a.Without(ActionLoad)
	}
	if !anc.HasCaptionText {
		a = a.Without(ActionCopyCaption)
	}
	return a
}
