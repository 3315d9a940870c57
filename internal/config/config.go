// Package config handles layered YAML configuration with environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all plotcaption configuration.
type Config struct {
	Runtime   Runtime   `yaml:"runtime"`
	Inference Inference `yaml:"inference"`
	API       API       `yaml:"api"`
	Prompts   Prompts   `yaml:"prompts"`
	Pipeline  Pipeline  `yaml:"pipeline"`
	Storage   Storage   `yaml:"storage"`
	Logging   Logging   `yaml:"logging"`
}

// Runtime holds scheduling settings.
type Runtime struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	StageTimeout time.Duration `yaml:"stage_timeout"` // 0 disables.
}

// Inference holds the vision model server settings.
type Inference struct {
	BaseURL      string `yaml:"base_url"`
	APIKeyEnv    string `yaml:"api_key_env"`
	Variant      string `yaml:"variant"`       // Default variant tag when none is saved.
	ProfilesFile string `yaml:"profiles_file"` // Extra variant profiles (YAML).
	Probe        bool   `yaml:"probe"`         // Check the server lists the model on load.
}

// API holds remote text model defaults. Saved settings win when non-empty.
type API struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// Prompts holds prompt template settings.
type Prompts struct {
	Dir          string `yaml:"dir"` // Local overrides, laid out as <dir>/<kind>/<name>.md.
	CardTemplate string `yaml:"card_template"`
	SDTemplate   string `yaml:"sd_template"`
}

// Pipeline holds run scheduling policy.
type Pipeline struct {
	Serialize         bool `yaml:"serialize"`          // One run per field group.
	StrictTransitions bool `yaml:"strict_transitions"` // Reject undeclared state transitions.
}

// Storage holds file locations. Empty values resolve under the user config dir.
type Storage struct {
	SettingsFile string `yaml:"settings_file"`
	LogDir       string `yaml:"log_dir"`
	SessionLog   bool   `yaml:"session_log"`
}

// Logging holds logger settings.
type Logging struct {
	Level string `yaml:"level"` // zerolog level name.
	File  string `yaml:"file"`  // Empty logs to <log_dir>/plotcaption.log in the TUI.
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Runtime: Runtime{
			PollInterval: 100 * time.Millisecond,
			StageTimeout: 10 * time.Minute,
		},
		Inference: Inference{
			BaseURL:   "http://localhost:8080/v1",
			APIKeyEnv: "PLOTCAPTION_INFERENCE_API_KEY",
			Variant:   "toriigate",
			Probe:     true,
		},
		API: API{
			APIKeyEnv: "OPENAI_API_KEY",
		},
		Prompts: Prompts{
			Dir:          "prompts",
			CardTemplate: "Default",
			SDTemplate:   "Default",
		},
		Pipeline: Pipeline{
			Serialize: true,
		},
		Storage: Storage{
			SessionLog: true,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// DefaultPaths returns the user and project config paths in increasing priority.
func DefaultPaths() []string {
	return []string{
		os.ExpandEnv("$HOME/.config/plotcaption/config.yaml"),
		".plotcaption/config.yaml",
	}
}

// Load reads a single YAML config file at path and returns a Config.
// For merging multiple config sources, use LoadLayered instead.
// If the file does not exist, defaults are returned without error.
// If the file contains invalid YAML or unknown fields, an error is returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if len(data) == 0 {
		return &cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		// Comment-only YAML files produce EOF with no decoded content.
		if errors.Is(err, io.EOF) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return &cfg, nil
}

// LoadLayered loads config from multiple paths with increasing priority.
// Later paths override earlier ones. Missing files are skipped.
func LoadLayered(paths ...string) (*Config, error) {
	cfg := DefaultConfig()

	for _, path := range paths {
		layer, err := loadLayer(path)
		if err != nil {
			return nil, err
		}
		if layer == nil {
			continue
		}
		cfg.merge(layer)
	}

	return &cfg, nil
}

// validLevels are the accepted logging.level values.
var validLevels = []string{"trace", "debug", "info", "warn", "error", "disabled"}

// Validate checks that config values are usable.
func (c *Config) Validate() error {
	if c.Runtime.PollInterval <= 0 {
		return fmt.Errorf("config: runtime.poll_interval must be positive, got %v", c.Runtime.PollInterval)
	}
	if c.Runtime.StageTimeout < 0 {
		return fmt.Errorf("config: runtime.stage_timeout must be non-negative, got %v", c.Runtime.StageTimeout)
	}
	if c.Inference.BaseURL == "" {
		return errors.New("config: inference.base_url cannot be empty")
	}
	if c.Prompts.CardTemplate == "" || c.Prompts.SDTemplate == "" {
		return errors.New("config: prompts.card_template and prompts.sd_template cannot be empty")
	}
	if c.Inference.Variant == "" {
		return errors.New("config: inference.variant cannot be empty")
	}
	level := strings.ToLower(c.Logging.Level)
	valid := false
	for _, l := range validLevels {
		if level == l {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("config: logging.level must be one of %s, got %q", strings.Join(validLevels, ", "), c.Logging.Level)
	}
	return nil
}

// LoadDotEnv loads KEY=value pairs from the given .env files (default
// ".env") into the process environment. Variables already set are kept.
// Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("config: loading %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv applies environment variable overrides to the config.
// Supported variables: PLOTCAPTION_POLL_INTERVAL, PLOTCAPTION_STAGE_TIMEOUT,
// PLOTCAPTION_INFERENCE_URL, PLOTCAPTION_VARIANT, PLOTCAPTION_API_URL,
// PLOTCAPTION_API_MODEL, PLOTCAPTION_PROMPTS_DIR, PLOTCAPTION_SERIALIZE,
// PLOTCAPTION_LOG_LEVEL.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("PLOTCAPTION_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: invalid PLOTCAPTION_POLL_INTERVAL %q: %w", v, err)
		}
		c.Runtime.PollInterval = d
	}
	if v := os.Getenv("PLOTCAPTION_STAGE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: invalid PLOTCAPTION_STAGE_TIMEOUT %q: %w", v, err)
		}
		c.Runtime.StageTimeout = d
	}
	if v := os.Getenv("PLOTCAPTION_INFERENCE_URL"); v != "" {
		c.Inference.BaseURL = v
	}
	if v := os.Getenv("PLOTCAPTION_VARIANT"); v != "" {
		c.Inference.Variant = v
	}
	if v := os.Getenv("PLOTCAPTION_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("PLOTCAPTION_API_MODEL"); v != "" {
		c.API.Model = v
	}
	if v := os.Getenv("PLOTCAPTION_PROMPTS_DIR"); v != "" {
		c.Prompts.Dir = v
	}
	if v := os.Getenv("PLOTCAPTION_SERIALIZE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: invalid PLOTCAPTION_SERIALIZE %q: %w", v, err)
		}
		c.Pipeline.Serialize = b
	}
	if v := os.Getenv("PLOTCAPTION_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// InferenceAPIKey returns the inference server key from the configured env var.
func (c *Config) InferenceAPIKey() string {
	if c.Inference.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Inference.APIKeyEnv)
}

// APIKey returns the remote API key from the configured env var.
func (c *Config) APIKey() string {
	if c.API.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.API.APIKeyEnv)
}

// rawConfig mirrors Config but uses pointers to distinguish set vs unset fields.
type rawConfig struct {
	Runtime   *rawRuntime   `yaml:"runtime"`
	Inference *rawInference `yaml:"inference"`
	API       *rawAPI       `yaml:"api"`
	Prompts   *rawPrompts   `yaml:"prompts"`
	Pipeline  *rawPipeline  `yaml:"pipeline"`
	Storage   *rawStorage   `yaml:"storage"`
	Logging   *rawLogging   `yaml:"logging"`
}

type rawRuntime struct {
	PollInterval *time.Duration `yaml:"poll_interval"`
	StageTimeout *time.Duration `yaml:"stage_timeout"`
}

type rawInference struct {
	BaseURL      *string `yaml:"base_url"`
	APIKeyEnv    *string `yaml:"api_key_env"`
	Variant      *string `yaml:"variant"`
	ProfilesFile *string `yaml:"profiles_file"`
	Probe        *bool   `yaml:"probe"`
}

type rawAPI struct {
	BaseURL   *string `yaml:"base_url"`
	Model     *string `yaml:"model"`
	APIKeyEnv *string `yaml:"api_key_env"`
}

type rawPrompts struct {
	Dir          *string `yaml:"dir"`
	CardTemplate *string `yaml:"card_template"`
	SDTemplate   *string `yaml:"sd_template"`
}

type rawPipeline struct {
	Serialize         *bool `yaml:"serialize"`
	StrictTransitions *bool `yaml:"strict_transitions"`
}

type rawStorage struct {
	SettingsFile *string `yaml:"settings_file"`
	LogDir       *string `yaml:"log_dir"`
	SessionLog   *bool   `yaml:"session_log"`
}

type rawLogging struct {
	Level *string `yaml:"level"`
	File  *string `yaml:"file"`
}

// loadLayer reads a single config file into a rawConfig for selective merging.
// Returns nil if the file does not exist. Rejects unknown fields.
func loadLayer(path string) (*rawConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if len(data) == 0 {
		return nil, nil
	}

	var raw rawConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return &raw, nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// merge applies non-nil fields from a rawConfig layer onto this Config.
func (c *Config) merge(layer *rawConfig) {
	if l := layer.Runtime; l != nil {
		set(&c.Runtime.PollInterval, l.PollInterval)
		set(&c.Runtime.StageTimeout, l.StageTimeout)
	}
	if l := layer.Inference; l != nil {
		set(&c.Inference.BaseURL, l.BaseURL)
		set(&c.Inference.APIKeyEnv, l.APIKeyEnv)
		set(&c.Inference.Variant, l.Variant)
		set(&c.Inference.ProfilesFile, l.ProfilesFile)
		set(&c.Inference.Probe, l.Probe)
	}
	if l := layer.API; l != nil {
		set(&c.API.BaseURL, l.BaseURL)
		set(&c.API.Model, l.Model)
		set(&c.API.APIKeyEnv, l.APIKeyEnv)
	}
	if l := layer.Prompts; l != nil {
		set(&c.Prompts.Dir, l.Dir)
		set(&c.Prompts.CardTemplate, l.CardTemplate)
		set(&c.Prompts.SDTemplate, l.SDTemplate)
	}
	if l := layer.Pipeline; l != nil {
		set(&c.Pipeline.Serialize, l.Serialize)
		set(&c.Pipeline.StrictTransitions, l.StrictTransitions)
	}
	if l := layer.Storage; l != nil {
		set(&c.Storage.SettingsFile, l.SettingsFile)
		set(&c.Storage.LogDir, l.LogDir)
		set(&c.Storage.SessionLog, l.SessionLog)
	}
	if l := layer.Logging; l != nil {
		set(&c.Logging.Level, l.Level)
		set(&c.Logging.File, l.File)
	}
}
