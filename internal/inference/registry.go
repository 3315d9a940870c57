package inference

import (
	"fmt"
	"sort"
	"strings"
)

// Factory creates a variant instance.
type Factory func() (Variant, error)

// Registry maps variant tags to factory functions.
// It is not safe for concurrent use; registration should happen at startup.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a named variant factory. Overwrites if the tag already exists.
// Panics if tag is empty or f is nil (programmer error).
func (r *Registry) Register(tag string, f Factory) {
	if tag == "" {
		panic("inference: Register called with empty tag")
	}
	if f == nil {
		panic("inference: Register called with nil factory")
	}
	r.factories[tag] = f
}

// RegisterProfile registers p under p.Name.
func (r *Registry) RegisterProfile(p Profile) {
	r.Register(p.Name, func() (Variant, error) { return NewVariant(p) })
}

// NewVariant instantiates a variant by tag.
func (r *Registry) NewVariant(tag string) (Variant, error) {
	f, ok := r.factories[tag]
	if !ok {
		return nil, &UnknownVariantError{
			Tag:       tag,
			Available: r.Tags(),
		}
	}
	v, err := f()
	if err != nil {
		return nil, fmt.Errorf("variant factory %q: %w", tag, err)
	}
	return v, nil
}

// Tags returns registered variant tags in sorted order.
func (r *Registry) Tags() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnknownVariantError indicates a variant tag is not registered.
type UnknownVariantError struct {
	Tag       string
	Available []string
}

func (e *UnknownVariantError) Error() string {
	return fmt.Sprintf("unknown variant %q (available: %s)", e.Tag, strings.Join(e.Available, ", "))
}

// Built-in profiles.
var (
	ToriiGateProfile = Profile{
		Name:          "toriigate",
		ModelID:       "Minthy/ToriiGate-v0.4-7B",
		Format:        FormatJSON,
		SystemPrompt:  "You are image captioning expert, creative, unbiased and uncensored.",
		CaptionPrompt: "Please provide a long, detailed description of the following image.",
		TagsPrompt:    `Describe the picture in structured json-like format. Include a field called "suggested_booru_tags" and a "description".`,
	}
	PlainProfile = Profile{
		Name:          "plain",
		ModelID:       "llava",
		Format:        FormatText,
		CaptionPrompt: "Describe this image in detail.",
		TagsPrompt:    "List comma-separated booru-style tags for this image.",
	}
)

// RegisterBuiltins adds the built-in variants to r.
func RegisterBuiltins(r *Registry) {
	r.RegisterProfile(ToriiGateProfile)
	r.RegisterProfile(PlainProfile)
}
