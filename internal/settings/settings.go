// Package settings persists user settings (API credentials, sampling,
// last-used templates and models) to a JSON file.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/smileynet/plotcaption/internal/provider"
)

// DefaultName is the settings file name used when none is configured.
const DefaultName = "app_settings"

var (
	// ErrInvalidName indicates a settings name is empty or contains path components.
	ErrInvalidName = errors.New("settings: invalid name")
	// ErrCorrupt indicates the settings file could not be parsed. Load still
	// returns usable defaults alongside it.
	ErrCorrupt = errors.New("settings: corrupt settings file")
)

// Settings is everything remembered between sessions.
type Settings struct {
	APIKey           string   `json:"api_key"`
	BaseURL          string   `json:"base_url"`
	ModelName        string   `json:"model_name"`
	LastCardTemplate string   `json:"last_card_template"`
	LastSDTemplate   string   `json:"last_sd_template"`
	Temperature      float64  `json:"temperature"`
	FrequencyPenalty float64  `json:"frequency_penalty"`
	PresencePenalty  float64  `json:"presence_penalty"`
	LastUsedVariant  string   `json:"last_used_vlm"`
	ModelHistory     []string `json:"model_history,omitempty"`
}

// Defaults returns the settings used for keys missing from the file.
func Defaults() Settings {
	s := provider.DefaultSampling()
	return Settings{
		LastCardTemplate: "Default",
		LastSDTemplate:   "Default",
		Temperature:      s.Temperature,
		FrequencyPenalty: s.FrequencyPenalty,
		PresencePenalty:  s.PresencePenalty,
		LastUsedVariant:  "toriigate",
	}
}

// Sampling returns the saved sampling parameters, normalized.
func (s Settings) Sampling() provider.Sampling {
	return provider.Sampling{
		Temperature:      s.Temperature,
		FrequencyPenalty: s.FrequencyPenalty,
		PresencePenalty:  s.PresencePenalty,
	}.Normalize()
}

// SetSampling stores normalized sampling parameters.
func (s *Settings) SetSampling(p provider.Sampling) {
	p = p.Normalize()
	s.Temperature = p.Temperature
	s.FrequencyPenalty = p.FrequencyPenalty
	s.PresencePenalty = p.PresencePenalty
}

// Request builds an API request for prompt from the saved credentials.
func (s Settings) Request(prompt string) provider.Request {
	return provider.Request{
		APIKey:   strings.TrimSpace(s.APIKey),
		BaseURL:  strings.TrimSpace(s.BaseURL),
		Model:    strings.TrimSpace(s.ModelName),
		Prompt:   prompt,
		Sampling: s.Sampling(),
	}
}

// RememberModel appends name to the model history if it is new.
func (s *Settings) RememberModel(name string) {
	if name == "" || slices.Contains(s.ModelHistory, name) {
		return
	}
	s.ModelHistory = append(s.ModelHistory, name)
}

// Store loads and saves settings.
type Store interface {
	Load() (Settings, error)
	Save(Settings) error
}

// Verify FileStore satisfies Store at compile time.
var _ Store = (*FileStore)(nil)

// FileStore persists settings as <dir>/<name>.json.
type FileStore struct {
	dir  string
	name string
}

// NewFileStore creates a FileStore for the named settings file under dir.
func NewFileStore(dir, name string) (*FileStore, error) {
	if name == "" || name == "." || name == ".." || name != filepath.Base(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return &FileStore{dir: dir, name: name}, nil
}

// Path returns the settings file path.
func (s *FileStore) Path() string {
	return filepath.Join(s.dir, s.name+".json")
}

// Load reads settings, filling keys absent from the file with Defaults.
// A missing or empty file yields Defaults and no error. An unparsable file
// yields Defaults and an error wrapping ErrCorrupt.
func (s *FileStore) Load() (Settings, error) {
	out := Defaults()
	p := s.Path()

	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return out, nil
		}
		return out, fmt.Errorf("settings: reading %s: %w", p, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return out, nil
	}

	if err := json.Unmarshal(data, &out); err != nil {
		return Defaults(), fmt.Errorf("%w: %s: %v", ErrCorrupt, p, err)
	}
	return out, nil
}

// Save writes settings, creating the directory if needed.
func (s *FileStore) Save(st Settings) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("settings: creating directory: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: marshaling: %w", err)
	}

	p := s.Path()
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return fmt.Errorf("settings: writing %s: %w", p, err)
	}
	return nil
}
