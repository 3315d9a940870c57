package appstate

import "testing"

// allAncillary enumerates every combination of the four ancillary booleans.
func allAncillary() []Ancillary {
	var out []Ancillary
	for i := 0; i < 16; i++ {
		out = append(out, Ancillary{
			HasImage:       i&1 != 0,
			HasProfile:     i&2 != 0,
			HasCaptionText: i&4 != 0,
			HasCardText:    i&8 != 0,
		})
	}
	return out
}

func TestCompute_Deterministic(t *testing.T) {
	// Given: every state and ancillary combination
	// When: affordances are computed twice
	// Then: both results match
	for _, s := range States() {
		for _, anc := range allAncillary() {
			if a, b := Compute(s, anc), Compute(s, anc); a != b {
				t.Errorf("Compute(%s, %+v) not deterministic: %s vs %s", s, anc, a, b)
			}
		}
	}
}

func TestTransition_Idempotent(t *testing.T) {
	for _, s := range States() {
		for _, anc := range allAncillary() {
			// Given: a machine already in s
			m := NewMachine()
			m.SetAncillary(anc)
			m.Transition(s)
			first := m.Affordances()

			// When: s is entered again
			m.Transition(s)

			// Then: affordances are unchanged
			if second := m.Affordances(); first != second {
				t.Errorf("Transition(%s) twice with %+v: %s then %s", s, anc, first, second)
			}
		}
	}
}

func TestCompute_StateDefaults(t *testing.T) {
	// Given: every ancillary condition holds
	full := Ancillary{HasImage: true, HasProfile: true, HasCaptionText: true, HasCardText: true}

	tests := []struct {
		state State
		want  Affordances
	}{
		{Idle, Of(ActionLoad, ActionSelectModel, ActionGenerateCard, ActionGenerateSd, ActionCopyCaption, ActionCopyTags, ActionTestAPI)},
		{ModelLoading, Of(ActionCopyCaption, ActionCopyTags, ActionTestAPI)},
		{ModelLoaded, Of(ActionUnload, ActionGenerateCard, ActionGenerateSd, ActionCopyCaption, ActionCopyTags, ActionTestAPI)},
		{ReadyToGenerate, Of(ActionUnload, ActionGenerateCaption, ActionGenerateCard, ActionGenerateSd, ActionCopyCaption, ActionCopyTags, ActionTestAPI)},
		{Generating, Of(ActionCopyCaption, ActionCopyTags)},
		{ReadyForCardGeneration, Of(ActionUnload, ActionGenerateCaption, ActionGenerateCard, ActionGenerateSd, ActionCopyCaption, ActionCopyTags, ActionTestAPI)},
		{ApiGenerating, Of(ActionUnload, ActionCopyCaption, ActionCopyTags)},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			// Then: each state yields its own defaults
			if got := Compute(tt.state, full); got != tt.want {
				t.Errorf("Compute(%s) = %s, want %s", tt.state, got, tt.want)
			}
		})
	}
}

func TestCompute_AncillaryOverrides(t *testing.T) {
	tests := []struct {
		name   string
		state  State
		anc    Ancillary
		action Action
		want   bool
	}{
		{"card needs caption text", ReadyForCardGeneration, Ancillary{HasImage: true, HasProfile: true}, ActionGenerateCard, false},
		{"card enabled by caption outside ready states", ModelLoaded, Ancillary{HasCaptionText: true}, ActionGenerateCard, true},
		{"card disabled while busy", Generating, Ancillary{HasCaptionText: true}, ActionGenerateCard, false},
		{"sd needs card text", ReadyForSdGeneration, Ancillary{HasCaptionText: true}, ActionGenerateSd, false},
		{"sd enabled with card text", ReadyForSdGeneration, Ancillary{HasCardText: true}, ActionGenerateSd, true},
		{"caption generation needs image", ReadyToGenerate, Ancillary{HasProfile: true}, ActionGenerateCaption, false},
		{"caption generation needs profile", ReadyToGenerate, Ancillary{HasImage: true}, ActionGenerateCaption, false},
		{"load needs profile", Idle, Ancillary{}, ActionLoad, false},
		{"select model only when idle", ModelLoaded, Ancillary{HasProfile: true}, ActionSelectModel, false},
		{"copy caption needs text", Idle, Ancillary{}, ActionCopyCaption, false},
		{"test api disabled while generating", Generating, Ancillary{}, ActionTestAPI, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: one state with a partial ancillary set
			// When: affordances are computed
			// Then: the override decides the action
			if got := Compute(tt.state, tt.anc).Enabled(tt.action); got != tt.want {
				t.Errorf("Compute(%s, %+v).Enabled(%s) = %v, want %v", tt.state, tt.anc, tt.action, got, tt.want)
			}
		})
	}
}

func TestAffordances_String(t *testing.T) {
	// Then: enabled actions print in declaration order
	if got := Of(ActionLoad, ActionTestAPI).String(); got != "{load,testApi}" {
		t.Errorf("String() = %q", got)
	}
	if got := Affordances(0).String(); got != "{}" {
		t.Errorf("empty String() = %q", got)
	}
}
