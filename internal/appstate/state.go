// Package appstate holds the application state machine and the affordance
// table that derives which user actions are enabled in each state.
package appstate

// State is the coordinator state governing which actions are valid.
type State int

const (
	Idle                   State = iota // No model loaded.
	ModelLoading                        // A model load is in flight.
	ModelLoaded                         // Model loaded, no image yet.
	ReadyToGenerate                     // Model and image both present.
	Generating                          // Local caption/tags run in flight.
	ReadyForCardGeneration              // Caption and tags available.
	ReadyForSdGeneration                // Character card available.
	ApiGenerating                       // Remote API run in flight.
)

// States lists every state in declaration order.
func States() []State {
	return []State{
		Idle, ModelLoading, ModelLoaded, ReadyToGenerate,
		Generating, ReadyForCardGeneration, ReadyForSdGeneration, ApiGenerating,
	}
}

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ModelLoading:
		return "model_loading"
	case ModelLoaded:
		return "model_loaded"
	case ReadyToGenerate:
		return "ready_to_generate"
	case Generating:
		return "generating"
	case ReadyForCardGeneration:
		return "ready_for_card_generation"
	case ReadyForSdGeneration:
		return "ready_for_sd_generation"
	case ApiGenerating:
		return "api_generating"
	default:
		return "unknown"
	}
}

// Busy reports whether a state has a run in flight that owns the output fields.
func (s State) Busy() bool {
	return s == ModelLoading || s == Generating || s == ApiGenerating
}

// StatusText returns the status line shown when entering s.
func StatusText(s State, anc Ancillary, modelName string) string {
	switch s {
	case Idle:
		return "Ready. Please load a model."
	case ModelLoading:
		return "Loading model: " + modelName + "..."
	case ModelLoaded:
		if !anc.HasImage {
			return "Model loaded. Please drop an image."
		}
		return "Model loaded."
	case ReadyToGenerate:
		return "Ready to generate."
	case Generating:
		return "Generating, please wait..."
	case ReadyForCardGeneration:
		return "Character card prompt ready. Press 'c' to generate the card."
	case ReadyForSdGeneration:
		return "Character card generated. SD prompt is ready."
	case ApiGenerating:
		return "Generating via API..."
	default:
		return ""
	}
}
