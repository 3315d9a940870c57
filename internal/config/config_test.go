package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Runtime.PollInterval != 100*time.Millisecond {
		t.Errorf("default poll interval = %v, want %v", cfg.Runtime.PollInterval, 100*time.Millisecond)
	}
	if cfg.Inference.Variant != "toriigate" {
		t.Errorf("default variant = %q, want %q", cfg.Inference.Variant, "toriigate")
	}
	if !cfg.Pipeline.Serialize {
		t.Error("default pipeline should serialize runs")
	}
	if cfg.Pipeline.StrictTransitions {
		t.Error("default pipeline should use permissive transitions")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, `
runtime:
  poll_interval: 50ms
  stage_timeout: 2m
inference:
  base_url: http://gpu-box:9000/v1
  variant: plain
api:
  model: gpt-4o-mini
prompts:
  sd_template: Concise
pipeline:
  strict_transitions: true
logging:
  level: debug
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Runtime.PollInterval != 50*time.Millisecond {
		t.Errorf("poll interval = %v, want 50ms", cfg.Runtime.PollInterval)
	}
	if cfg.Runtime.StageTimeout != 2*time.Minute {
		t.Errorf("stage timeout = %v, want 2m", cfg.Runtime.StageTimeout)
	}
	if cfg.Inference.BaseURL != "http://gpu-box:9000/v1" {
		t.Errorf("inference url = %q", cfg.Inference.BaseURL)
	}
	if cfg.Inference.Variant != "plain" {
		t.Errorf("variant = %q, want %q", cfg.Inference.Variant, "plain")
	}
	if cfg.API.Model != "gpt-4o-mini" {
		t.Errorf("api model = %q", cfg.API.Model)
	}
	if cfg.Prompts.SDTemplate != "Concise" || cfg.Prompts.CardTemplate != "Default" {
		t.Errorf("prompts = %+v", cfg.Prompts)
	}
	if !cfg.Pipeline.StrictTransitions {
		t.Error("strict transitions should be set")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml")
	if err != nil {
		t.Fatalf("Load() should return defaults for missing file, got error: %v", err)
	}
	if want := DefaultConfig(); *cfg != want {
		t.Errorf("Load(missing) = %+v, want defaults %+v", *cfg, want)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, "{{invalid yaml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatal("Load(invalid YAML) should return error")
	}
}

func TestLoad_UnknownField(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, `
inference:
  varient: plain
`)

	if _, err := Load(cfgPath); err == nil {
		t.Fatal("Load() should return error for unknown field 'varient'")
	}
}

func TestLoad_PartialConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, `
api:
  base_url: https://openrouter.ai/api/v1
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.BaseURL != "https://openrouter.ai/api/v1" {
		t.Errorf("api url = %q", cfg.API.BaseURL)
	}
	// Unset fields should retain defaults.
	if cfg.Runtime.PollInterval != 100*time.Millisecond {
		t.Errorf("poll interval = %v, want default", cfg.Runtime.PollInterval)
	}
	if cfg.Inference.Variant != "toriigate" {
		t.Errorf("variant = %q, want default", cfg.Inference.Variant)
	}
}

func TestLoad_LayeredPriority(t *testing.T) {
	// Given: user config sets variant and level, project config overrides level.
	userCfg := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, userCfg, `
inference:
  variant: plain
logging:
  level: warn
`)
	projectCfg := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, projectCfg, `
logging:
  level: debug
pipeline:
  serialize: false
`)

	// When: both layers are loaded
	cfg, err := LoadLayered(userCfg, projectCfg)
	if err != nil {
		t.Fatalf("LoadLayered() error = %v", err)
	}

	// Then: later layers win field by field
	if cfg.Inference.Variant != "plain" {
		t.Errorf("variant = %q, want %q", cfg.Inference.Variant, "plain")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Pipeline.Serialize {
		t.Error("serialize = true, want false from project layer")
	}
	if cfg.Runtime.PollInterval != 100*time.Millisecond {
		t.Errorf("poll interval = %v, want default", cfg.Runtime.PollInterval)
	}
}

func TestLoadLayered_AllMissing(t *testing.T) {
	cfg, err := LoadLayered("/no/user.yaml", "/no/project.yaml")
	if err != nil {
		t.Fatalf("LoadLayered(all missing) error = %v", err)
	}
	if want := DefaultConfig(); *cfg != want {
		t.Errorf("got %+v, want defaults %+v", *cfg, want)
	}
}

func TestLoadLayered_InvalidLayer(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, bad, "runtime:\n  poll_interval: soon\n")

	if _, err := LoadLayered(bad); err == nil {
		t.Fatal("LoadLayered() should fail on an unparseable duration")
	}
}

func TestLoad_CommentOnlyFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, "# just a comment\n")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load(comment-only) error = %v", err)
	}
	if want := DefaultConfig(); *cfg != want {
		t.Errorf("Load(comment-only) = %+v, want defaults %+v", *cfg, want)
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, "")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load(empty) error = %v", err)
	}
	if want := DefaultConfig(); *cfg != want {
		t.Errorf("Load(empty) = %+v, want defaults %+v", *cfg, want)
	}
}

func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name    string
		envs    map[string]string
		wantErr bool
		check   func(*testing.T, Config)
	}{
		{
			name: "PLOTCAPTION_POLL_INTERVAL overrides poll interval",
			envs: map[string]string{"PLOTCAPTION_POLL_INTERVAL": "250ms"},
			check: func(t *testing.T, c Config) {
				if c.Runtime.PollInterval != 250*time.Millisecond {
					t.Errorf("poll interval = %v, want 250ms", c.Runtime.PollInterval)
				}
			},
		},
		{
			name: "PLOTCAPTION_VARIANT overrides variant",
			envs: map[string]string{"PLOTCAPTION_VARIANT": "plain"},
			check: func(t *testing.T, c Config) {
				if c.Inference.Variant != "plain" {
					t.Errorf("variant = %q, want %q", c.Inference.Variant, "plain")
				}
			},
		},
		{
			name: "PLOTCAPTION_API_URL and PLOTCAPTION_API_MODEL override api",
			envs: map[string]string{"PLOTCAPTION_API_URL": "http://x/v1", "PLOTCAPTION_API_MODEL": "m"},
			check: func(t *testing.T, c Config) {
				if c.API.BaseURL != "http://x/v1" || c.API.Model != "m" {
					t.Errorf("api = %+v", c.API)
				}
			},
		},
		{
			name: "PLOTCAPTION_SERIALIZE disables serialization",
			envs: map[string]string{"PLOTCAPTION_SERIALIZE": "false"},
			check: func(t *testing.T, c Config) {
				if c.Pipeline.Serialize {
					t.Error("serialize = true, want false")
				}
			},
		},
		{
			name:    "invalid PLOTCAPTION_STAGE_TIMEOUT returns error",
			envs:    map[string]string{"PLOTCAPTION_STAGE_TIMEOUT": "notaduration"},
			wantErr: true,
		},
		{
			name:    "invalid PLOTCAPTION_SERIALIZE returns error",
			envs:    map[string]string{"PLOTCAPTION_SERIALIZE": "maybe"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envs {
				t.Setenv(k, v)
			}
			cfg := DefaultConfig()
			err := cfg.ApplyEnv()

			if tt.wantErr {
				if err == nil {
					t.Fatal("ApplyEnv() should return error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyEnv() error = %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "defaults are valid", modify: func(*Config) {}},
		{name: "zero stage timeout disables", modify: func(c *Config) { c.Runtime.StageTimeout = 0 }},
		{name: "level is case-insensitive", modify: func(c *Config) { c.Logging.Level = "DEBUG" }},
		{name: "zero poll interval", modify: func(c *Config) { c.Runtime.PollInterval = 0 }, wantErr: true},
		{name: "negative stage timeout", modify: func(c *Config) { c.Runtime.StageTimeout = -time.Second }, wantErr: true},
		{name: "empty inference url", modify: func(c *Config) { c.Inference.BaseURL = "" }, wantErr: true},
		{name: "empty variant", modify: func(c *Config) { c.Inference.Variant = "" }, wantErr: true},
		{name: "empty card template", modify: func(c *Config) { c.Prompts.CardTemplate = "" }, wantErr: true},
		{name: "unknown level", modify: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	// Given: a .env file with one key already present in the environment
	path := filepath.Join(t.TempDir(), ".env")
	writeFile(t, path, "PLOTCAPTION_TEST_DOTENV_NEW=fromfile\nPLOTCAPTION_TEST_DOTENV_SET=fromfile\n")
	t.Setenv("PLOTCAPTION_TEST_DOTENV_SET", "fromenv")
	t.Setenv("PLOTCAPTION_TEST_DOTENV_NEW", "")
	os.Unsetenv("PLOTCAPTION_TEST_DOTENV_NEW")

	// When: the file is loaded
	if err := LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}

	// Then: new keys are set and existing ones are kept
	if got := os.Getenv("PLOTCAPTION_TEST_DOTENV_NEW"); got != "fromfile" {
		t.Errorf("new key = %q, want %q", got, "fromfile")
	}
	if got := os.Getenv("PLOTCAPTION_TEST_DOTENV_SET"); got != "fromenv" {
		t.Errorf("existing key = %q, want %q", got, "fromenv")
	}
}

func TestAPIKeyFromEnv(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.APIKeyEnv = "PLOTCAPTION_TEST_KEY"
	t.Setenv("PLOTCAPTION_TEST_KEY", "sk-123")
	if got := cfg.APIKey(); got != "sk-123" {
		t.Errorf("APIKey() = %q, want %q", got, "sk-123")
	}
	cfg.API.APIKeyEnv = ""
	if got := cfg.APIKey(); got != "" {
		t.Errorf("APIKey() with no env var = %q, want empty", got)
	}
}
