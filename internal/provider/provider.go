// Package provider calls remote OpenAI-compatible text models.
package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Sampling bounds accepted by OpenAI-compatible chat endpoints.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
	MinPenalty     = -2.0
	MaxPenalty     = 2.0
)

// ErrEmptyResponse indicates the endpoint answered without any content.
var ErrEmptyResponse = errors.New("provider: empty response")

// Sampling holds the sampling parameters sent with a completion request.
type Sampling struct {
	Temperature      float64 `json:"temperature" yaml:"temperature"`
	FrequencyPenalty float64 `json:"frequency_penalty" yaml:"frequency_penalty"`
	PresencePenalty  float64 `json:"presence_penalty" yaml:"presence_penalty"`
}

// DefaultSampling returns the sampling values used when nothing is saved.
func DefaultSampling() Sampling {
	return Sampling{Temperature: 0.7}
}

// Normalize clamps every parameter into its valid range and rounds it to
// two decimals.
func (s Sampling) Normalize() Sampling {
	return Sampling{
		Temperature:      round2(clamp(s.Temperature, MinTemperature, MaxTemperature)),
		FrequencyPenalty: round2(clamp(s.FrequencyPenalty, MinPenalty, MaxPenalty)),
		PresencePenalty:  round2(clamp(s.PresencePenalty, MinPenalty, MaxPenalty)),
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Request is a single text completion call.
type Request struct {
	APIKey       string
	BaseURL      string
	Model        string
	Prompt       string
	SystemPrompt string
	Sampling     Sampling
	MaxTokens    int // 0 leaves the endpoint default.
}

// Missing returns the names of required request fields that are blank.
func (r Request) Missing() []string {
	var out []string
	if strings.TrimSpace(r.APIKey) == "" {
		out = append(out, "api key")
	}
	if strings.TrimSpace(r.BaseURL) == "" {
		out = append(out, "base url")
	}
	if strings.TrimSpace(r.Model) == "" {
		out = append(out, "model")
	}
	if strings.TrimSpace(r.Prompt) == "" {
		out = append(out, "prompt")
	}
	return out
}

// TextModel is the remote completion contract consumed by the orchestrator.
type TextModel interface {
	CallTextModel(ctx context.Context, req Request) (string, error)
}

// Verify MockTextModel satisfies TextModel at compile time.
var _ TextModel = (*MockTextModel)(nil)

// MockTextModel is a test double for TextModel.
type MockTextModel struct {
	CallFunc func(ctx context.Context, req Request) (string, error)
}

// CallTextModel delegates to CallFunc, returning an empty string if CallFunc is nil.
func (m *MockTextModel) CallTextModel(ctx context.Context, req Request) (string, error) {
	if m.CallFunc == nil {
		return "", nil
	}
	return m.CallFunc(ctx, req)
}

// ProviderError wraps an error from a specific endpoint.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider: %s: %s", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// TimeoutError indicates a call exceeded its time limit.
type TimeoutError struct {
	Provider string
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider: %s: timed out after %s", e.Provider, e.Duration)
}
