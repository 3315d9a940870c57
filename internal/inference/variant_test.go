package inference

import (
	"context"
	"errors"
	"testing"
)

func TestJSONVariant_Parse(t *testing.T) {
	v, err := NewVariant(ToriiGateProfile)
	if err != nil {
		t.Fatalf("NewVariant: %v", err)
	}

	tests := []struct {
		name        string
		raw         string
		wantCaption string
		wantTags    string
	}{
		{
			name:        "plain object",
			raw:         `{"description":"A knight at dusk.","suggested_booru_tags":"1girl, armor"}`,
			wantCaption: "A knight at dusk.",
			wantTags:    "1girl, armor",
		},
		{
			name:        "fenced multi-line object with tag list",
			raw:         "Here you go:\n```json\n{\n  \"description\": \"Rainy street.\",\n  \"suggested_booru_tags\": [\"rain\", \"street\", \"night\"]\n}\n```",
			wantCaption: "Rainy street.",
			wantTags:    "rain, street, night",
		},
		{
			name:        "not json",
			raw:         "  A long free-form description.  ",
			wantCaption: "A long free-form description.",
			wantTags:    "Error: Failed to parse JSON output.",
		},
		{
			name:        "json without keys",
			raw:         `{"other":1}`,
			wantCaption: `{"other":1}`,
			wantTags:    "Error: Tags not found in JSON.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := v.ParseCaption(tt.raw).Output; got != tt.wantCaption {
				t.Errorf("ParseCaption = %q, want %q", got, tt.wantCaption)
			}
			if got := v.ParseTags(tt.raw).Output; got != tt.wantTags {
				t.Errorf("ParseTags = %q, want %q", got, tt.wantTags)
			}
		})
	}
}

func TestJSONVariant_DescriptionOnFallback(t *testing.T) {
	v, _ := NewVariant(ToriiGateProfile)
	if got := v.ParseTags("nope"); got.Description == "" {
		t.Error("fallback parse should explain itself in Description")
	}
	if got := v.ParseCaption(`{"description":"ok"}`); got.Description != "" {
		t.Errorf("clean parse Description = %q, want empty", got.Description)
	}
}

func TestTextVariant_Parse(t *testing.T) {
	v, err := NewVariant(PlainProfile)
	if err != nil {
		t.Fatalf("NewVariant: %v", err)
	}
	if got := v.ParseCaption("\n a cat \n").Output; got != "a cat" {
		t.Errorf("ParseCaption = %q, want %q", got, "a cat")
	}
	if got := v.ParseTags("cat, sofa").Output; got != "cat, sofa" {
		t.Errorf("ParseTags = %q, want %q", got, "cat, sofa")
	}
	if got := v.ParseTags("   ").Output; got != "N/A" {
		t.Errorf("ParseTags(blank) = %q, want N/A", got)
	}
}

func TestNewVariant_DefaultsToText(t *testing.T) {
	v, err := NewVariant(Profile{Name: "x"})
	if err != nil {
		t.Fatalf("NewVariant: %v", err)
	}
	if v.Profile().Format != FormatText {
		t.Errorf("Format = %q, want %q", v.Profile().Format, FormatText)
	}
}

func TestBound_DelegatesToEngineAndVariant(t *testing.T) {
	var loadedModel, gotPrompt string
	var gotImage []byte
	engine := &MockEngine{
		LoadFunc: func(ctx context.Context, p Profile) error {
			loadedModel = p.ModelID
			return nil
		},
		GenerateFunc: func(ctx context.Context, p Profile, prompt string, image []byte) (string, error) {
			gotPrompt, gotImage = prompt, image
			return `{"description":"d","suggested_booru_tags":"t"}`, nil
		},
	}
	v, _ := NewVariant(ToriiGateProfile)
	m := Bind(engine, v)

	if err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loadedModel != ToriiGateProfile.ModelID {
		t.Errorf("loaded %q, want %q", loadedModel, ToriiGateProfile.ModelID)
	}
	raw, err := m.Generate(context.Background(), "describe", []byte{1, 2})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gotPrompt != "describe" || len(gotImage) != 2 {
		t.Errorf("Generate got prompt %q image %v", gotPrompt, gotImage)
	}
	if m.ParseCaption(raw).Output != "d" || m.ParseTags(raw).Output != "t" {
		t.Errorf("parsers returned %q / %q", m.ParseCaption(raw).Output, m.ParseTags(raw).Output)
	}
	m.Unload()
	if engine.Unloads != 1 {
		t.Errorf("Unloads = %d, want 1", engine.Unloads)
	}
}

func TestEngineError(t *testing.T) {
	err := &EngineError{Op: "load", Model: "llava", Err: ErrModelNotFound}
	want := "inference: load llava: inference: model not found"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, ErrModelNotFound) {
		t.Error("errors.Is failed to unwrap cause")
	}
}
