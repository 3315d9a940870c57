package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"github.com/smileynet/plotcaption"
	"github.com/smileynet/plotcaption/internal/app"
	"github.com/smileynet/plotcaption/internal/config"
	"github.com/smileynet/plotcaption/internal/inference"
	"github.com/smileynet/plotcaption/internal/logging"
	"github.com/smileynet/plotcaption/internal/orchestrator"
	"github.com/smileynet/plotcaption/internal/prompt"
	"github.com/smileynet/plotcaption/internal/provider"
	"github.com/smileynet/plotcaption/internal/settings"
	"github.com/smileynet/plotcaption/internal/task"
	"github.com/smileynet/plotcaption/internal/tui"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// CLI is the top-level command structure for plotcaption.
type CLI struct {
	Version   kong.VersionFlag `help:"Show version." short:"V"`
	LogLevel  string           `help:"Override logging.level (trace, debug, info, warn, error, disabled)." name:"log-level"`
	Strict    bool             `help:"Reject undeclared state transitions."`
	TUI       TUICmd           `cmd:"" name:"tui" default:"withargs" help:"Open the interactive captioning screen."`
	Run       RunCmd           `cmd:"" help:"Caption an image headlessly, optionally chaining card and SD prompt generation."`
	TestAPI   TestAPICmd       `cmd:"" name:"test-api" help:"Check the saved API credentials."`
	Templates TemplatesCmd     `cmd:"" help:"List the available prompt templates."`
}

// globals carries top-level flags into subcommands.
type globals struct {
	LogLevel string
	Strict   bool
}

// TUICmd opens the interactive screen.
type TUICmd struct {
	Image string `help:"Image to open on start."`
}

// Run builds the coordinator and runs the Bubble Tea program.
func (t *TUICmd) Run(g *globals) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return fmt.Errorf("tui: %w", err)
	}

	// The TUI owns the terminal, so logs go to a file.
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	logPath := cfg.Logging.File
	if logPath == "" {
		logPath = filepath.Join(logDir(cfg), logging.FileName)
	}
	log, closer, err := logging.OpenFile(logPath, level)
	if err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	defer closer.Close() //nolint:errcheck // best-effort log close

	c, err := buildCoordinator(cfg, log, nil)
	if err != nil {
		return fmt.Errorf("tui: %w", err)
	}

	opts := []tui.ModelOption{tui.WithPollInterval(cfg.Runtime.PollInterval)}
	if t.Image != "" {
		opts = append(opts, tui.WithImage(t.Image))
	}
	return tui.Run(c, opts...)
}

// RunCmd runs the caption chain without a screen.
type RunCmd struct {
	Image   string `arg:"" help:"Image to caption." type:"existingfile"`
	Variant string `help:"Inference variant to load (default: last used)."`
	Prompt  string `help:"Caption prompt (default: the variant's own)."`
	Card    bool   `help:"Generate a character card after captioning."`
	SD      bool   `help:"Generate an SD prompt after the card (implies --card)." name:"sd"`
	NoTUI   bool   `help:"Force plain text output even if stdout is a TTY." default:"false"`
}

// Run executes the run command.
func (r *RunCmd) Run(g *globals) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	log, err := consoleLogger(cfg)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	printer := tui.NewPrinter(tui.PrinterOptions{Writer: os.Stdout, ForcePlain: r.NoTUI})
	c, err := buildCoordinator(cfg, log, printer.Print)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return r.run(ctx, c, printer, cfg.Runtime.PollInterval)
}

// run drives the chain and prints the produced fields, enabling testable wiring.
func (r *RunCmd) run(ctx context.Context, c *app.Coordinator, printer *tui.Printer, interval time.Duration) error {
	chainErr := app.Chain(ctx, c, app.ChainOptions{
		Variant:  r.Variant,
		Image:    r.Image,
		Prompt:   r.Prompt,
		Card:     r.Card,
		SD:       r.SD,
		Interval: interval,
	})
	printer.Fields(c)
	if err := c.Shutdown(); err != nil && chainErr == nil {
		return fmt.Errorf("run: %w", err)
	}
	if chainErr != nil {
		return fmt.Errorf("run: %w", chainErr)
	}
	return nil
}

// TestAPICmd checks the API credentials.
type TestAPICmd struct {
	APIKey  string `help:"API key to test instead of the saved one." name:"api-key"`
	BaseURL string `help:"Base URL to test instead of the saved one." name:"base-url"`
	Model   string `help:"Model to test instead of the saved one."`
}

// Run executes the test-api command.
func (a *TestAPICmd) Run(g *globals) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return fmt.Errorf("test-api: %w", err)
	}
	log, err := consoleLogger(cfg)
	if err != nil {
		return fmt.Errorf("test-api: %w", err)
	}
	printer := tui.NewPrinter(tui.PrinterOptions{Writer: os.Stdout})
	c, err := buildCoordinator(cfg, log, printer.Print)
	if err != nil {
		return fmt.Errorf("test-api: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return a.run(ctx, os.Stdout, c, cfg.Runtime.PollInterval)
}

// run starts the connection test and waits for its outcome. Flag values
// replace the saved credentials; the change is persisted on success.
func (a *TestAPICmd) run(ctx context.Context, w io.Writer, c *app.Coordinator, interval time.Duration) error {
	s := c.Settings()
	c.SetCredentials(orDefault(a.APIKey, s.APIKey), orDefault(a.BaseURL, s.BaseURL), orDefault(a.Model, s.ModelName))

	if err := c.TestAPI(); err != nil {
		return fmt.Errorf("test-api: %w", err)
	}
	if err := app.Drive(ctx, c, interval); err != nil {
		return fmt.Errorf("test-api: %w", err)
	}
	if !c.Succeeded(orchestrator.TagTest) {
		return fmt.Errorf("test-api: %w: %s", app.ErrStepFailed, c.LastError())
	}
	_, _ = fmt.Fprintf(w, "API OK: %s at %s\n", c.Settings().ModelName, c.Settings().BaseURL)
	return c.Shutdown()
}

// TemplatesCmd lists prompt templates.
type TemplatesCmd struct{}

// Run executes the templates command.
func (tc *TemplatesCmd) Run(g *globals) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return fmt.Errorf("templates: %w", err)
	}
	r, err := prompt.NewRenderer(plotcaption.OverlayFS(cfg.Prompts.Dir, plotcaption.Prompts))
	if err != nil {
		return fmt.Errorf("templates: %w", err)
	}
	return tc.run(os.Stdout, r)
}

// run prints template names per kind, enabling testable wiring.
func (tc *TemplatesCmd) run(w io.Writer, r *prompt.Renderer) error {
	for _, kind := range []prompt.Kind{prompt.KindCard, prompt.KindSD} {
		names, err := r.Templates(kind)
		if err != nil {
			return fmt.Errorf("templates: %w", err)
		}
		_, _ = fmt.Fprintf(w, "%s: %s\n", kind, strings.Join(names, ", "))
	}
	return nil
}

// loadConfig loads .env files, layered config and env overrides, then
// applies global flags and validates.
func loadConfig(g *globals) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.LoadLayered(config.DefaultPaths()...)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if g != nil {
		if g.LogLevel != "" {
			cfg.Logging.Level = g.LogLevel
		}
		if g.Strict {
			cfg.Pipeline.StrictTransitions = true
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// consoleLogger returns the stderr logger used by headless commands.
func consoleLogger(cfg *config.Config) (zerolog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return zerolog.Nop(), err
	}
	return logging.NewConsole(os.Stderr, level), nil
}

// configDir is where settings and logs live when the config leaves them unset.
func configDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "plotcaption")
	}
	return ".plotcaption"
}

func logDir(cfg *config.Config) string {
	if cfg.Storage.LogDir != "" {
		return cfg.Storage.LogDir
	}
	return filepath.Join(configDir(), "logs")
}

// settingsStore resolves storage.settings_file into a FileStore.
func settingsStore(cfg *config.Config) (*settings.FileStore, error) {
	if cfg.Storage.SettingsFile == "" {
		return settings.NewFileStore(configDir(), "settings")
	}
	dir, file := filepath.Split(cfg.Storage.SettingsFile)
	return settings.NewFileStore(filepath.Clean(dir), strings.TrimSuffix(file, ".json"))
}

// loadSettings reads saved settings. A first run seeds the variant and
// template names from config; credentials left blank are filled from config
// and the environment on every run.
func loadSettings(cfg *config.Config, store *settings.FileStore, log zerolog.Logger) settings.Settings {
	st, err := store.Load()
	if err != nil {
		log.Warn().Err(err).Str("path", store.Path()).Msg("settings unreadable, using defaults")
		st = settings.Defaults()
	}
	if _, statErr := os.Stat(store.Path()); errors.Is(statErr, os.ErrNotExist) {
		st.LastUsedVariant = cfg.Inference.Variant
		st.LastCardTemplate = cfg.Prompts.CardTemplate
		st.LastSDTemplate = cfg.Prompts.SDTemplate
	}
	st.APIKey = orDefault(st.APIKey, cfg.APIKey())
	st.BaseURL = orDefault(st.BaseURL, cfg.API.BaseURL)
	st.ModelName = orDefault(st.ModelName, cfg.API.Model)
	return st
}

// buildCoordinator wires the engine, runner, renderer and storage from cfg.
func buildCoordinator(cfg *config.Config, log zerolog.Logger, observer func(task.Message)) (*app.Coordinator, error) {
	store, err := settingsStore(cfg)
	if err != nil {
		return nil, err
	}
	st := loadSettings(cfg, store, log)

	reg := inference.NewRegistry()
	inference.RegisterBuiltins(reg)
	if cfg.Inference.ProfilesFile != "" {
		profiles, err := inference.LoadProfilesFile(cfg.Inference.ProfilesFile)
		if err != nil {
			return nil, err
		}
		for _, p := range profiles {
			reg.RegisterProfile(p)
		}
	}

	renderer, err := prompt.NewRenderer(plotcaption.OverlayFS(cfg.Prompts.Dir, plotcaption.Prompts))
	if err != nil {
		return nil, err
	}

	var clientOpts []provider.Option
	if cfg.Runtime.StageTimeout > 0 {
		clientOpts = append(clientOpts, provider.WithTimeout(cfg.Runtime.StageTimeout))
	}
	ch := task.NewChannel()
	runner := orchestrator.New(ch,
		orchestrator.WithTextModel(provider.NewOpenAIClient(clientOpts...)),
		orchestrator.WithStageTimeout(cfg.Runtime.StageTimeout),
		orchestrator.WithSerialize(cfg.Pipeline.Serialize),
		orchestrator.WithLogger(log),
	)

	d := app.Deps{
		Channel:   ch,
		Runner:    runner,
		Registry:  reg,
		Engine:    inference.NewOpenAIEngine(cfg.Inference.BaseURL, cfg.InferenceAPIKey(), inference.WithProbe(cfg.Inference.Probe)),
		Renderer:  renderer,
		Store:     store,
		Settings:  st,
		Clipboard: app.NewOSC52(),
		Logger:    log,
		Strict:    cfg.Pipeline.StrictTransitions,
		Observer:  observer,
	}
	if cfg.Storage.SessionLog {
		d.SessionTemplates = plotcaption.Templates
		d.SessionDir = filepath.Join(logDir(cfg), "sessions")
	}
	return app.New(d), nil
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

const (
	exitSuccess  = 0
	exitPipeline = 1
	exitSetup    = 2
)

// exitCode maps an error to the appropriate exit code.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var se *orchestrator.StageError
	if errors.As(err, &se) || errors.Is(err, app.ErrStepFailed) || errors.Is(err, context.Canceled) {
		return exitPipeline
	}
	return exitSetup
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("plotcaption"),
		kong.Description("Caption images with a local vision model and turn them into character cards and SD prompts."),
		kong.Vars{"version": version + " " + commit + " " + date},
	)
	err := ctx.Run(&globals{LogLevel: cli.LogLevel, Strict: cli.Strict})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(exitCode(err))
	}
}
