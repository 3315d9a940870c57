// Package inference runs vision-language models that caption and tag images.
//
// An Engine knows how to reach a model server; a Variant knows the prompts a
// particular model expects and how to read its answers. A Model binds the two
// and is what the pipeline runner drives.
package inference

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotLoaded is returned by Generate before a successful Load.
	ErrNotLoaded = errors.New("inference: no model loaded")
	// ErrModelNotFound indicates the server does not serve the requested model.
	ErrModelNotFound = errors.New("inference: model not found")
	// ErrNoImage indicates Generate was called without image bytes.
	ErrNoImage = errors.New("inference: no image")
)

// Engine loads a model and generates text from a prompt and an image.
// Implementations must be safe to call from background goroutines.
type Engine interface {
	Load(ctx context.Context, p Profile) error
	Unload()
	Generate(ctx context.Context, p Profile, prompt string, image []byte) (string, error)
}

// EngineError wraps a failure from an Engine operation.
type EngineError struct {
	Op    string // "load" or "generate"
	Model string
	Err   error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("inference: %s %s: %s", e.Op, e.Model, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Model is the capability set the pipeline needs from one model variant.
type Model interface {
	Profile() Profile
	Load(ctx context.Context) error
	Unload()
	Generate(ctx context.Context, prompt string, image []byte) (string, error)
	ParseCaption(raw string) Parsed
	ParseTags(raw string) Parsed
}

// Verify Bound satisfies Model at compile time.
var _ Model = Bound{}

// Bound pairs a Variant with the Engine that serves it.
type Bound struct {
	Engine  Engine
	Variant Variant
}

// Bind returns the Model for v served by e.
func Bind(e Engine, v Variant) Bound {
	return Bound{Engine: e, Variant: v}
}

func (b Bound) Profile() Profile { return b.Variant.Profile() }

func (b Bound) Load(ctx context.Context) error {
	return b.Engine.Load(ctx, b.Variant.Profile())
}

func (b Bound) Unload() { b.Engine.Unload() }

func (b Bound) Generate(ctx context.Context, prompt string, image []byte) (string, error) {
	return b.Engine.Generate(ctx, b.Variant.Profile(), prompt, image)
}

func (b Bound) ParseCaption(raw string) Parsed { return b.Variant.ParseCaption(raw) }

func (b Bound) ParseTags(raw string) Parsed { return b.Variant.ParseTags(raw) }

// Verify MockEngine satisfies Engine at compile time.
var _ Engine = (*MockEngine)(nil)

// MockEngine is a test double for Engine.
type MockEngine struct {
	LoadFunc     func(ctx context.Context, p Profile) error
	GenerateFunc func(ctx context.Context, p Profile, prompt string, image []byte) (string, error)
	Unloads      int
}

// Load delegates to LoadFunc, succeeding if LoadFunc is nil.
func (m *MockEngine) Load(ctx context.Context, p Profile) error {
	if m.LoadFunc == nil {
		return nil
	}
	return m.LoadFunc(ctx, p)
}

// Unload counts calls.
func (m *MockEngine) Unload() { m.Unloads++ }

// Generate delegates to GenerateFunc, returning an empty string if GenerateFunc is nil.
func (m *MockEngine) Generate(ctx context.Context, p Profile, prompt string, image []byte) (string, error) {
	if m.GenerateFunc == nil {
		return "", nil
	}
	return m.GenerateFunc(ctx, p, prompt, image)
}
