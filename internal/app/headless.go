package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smileynet/plotcaption/internal/orchestrator"
	"github.com/smileynet/plotcaption/internal/task"
)

// Drive runs the poll loop on the calling goroutine until no run is in
// flight and the channel is empty, or ctx is done. Each tick applies at
// most one message.
func Drive(ctx context.Context, c *Coordinator, interval time.Duration) error {
	if interval <= 0 {
		interval = task.DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for c.Active() {
		select {
		case <-ctx.Done():
			c.Cancel()
			return ctx.Err()
		case <-ticker.C:
			c.Poll()
		}
	}
	return nil
}

// ChainOptions selects the steps of a headless run.
type ChainOptions struct {
	Variant  string // Empty keeps the current selection.
	Image    string
	Prompt   string // Blank uses the profile's caption prompt.
	Card     bool // Generate the character card after captioning.
	SD       bool // Generate the SD prompt after the card.
	Interval time.Duration
}

// ErrStepFailed indicates a headless step finished without reaching the
// expected state.
var ErrStepFailed = errors.New("app: step failed")

// Chain loads a model, captions the image and optionally generates the card
// and SD prompt, driving the poll loop between steps.
func Chain(ctx context.Context, c *Coordinator, opts ChainOptions) error {
	if opts.Variant != "" {
		if err := c.SelectModel(opts.Variant); err != nil {
			return err
		}
	}
	if err := c.LoadImageFile(opts.Image); err != nil {
		return err
	}

	type step struct {
		tag   string
		start func() error
	}
	steps := []step{
		{orchestrator.TagLoad, c.Load},
		{orchestrator.TagCaption, func() error {
			if strings.TrimSpace(opts.Prompt) == "" {
				return c.Generate(c.CaptionPrompt())
			}
			return c.Generate(opts.Prompt)
		}},
	}
	if opts.Card || opts.SD {
		steps = append(steps, step{orchestrator.TagCard, c.GenerateCard})
	}
	if opts.SD {
		steps = append(steps, step{orchestrator.TagSD, c.GenerateSD})
	}

	for _, st := range steps {
		err := st.start()
		if derr := Drive(ctx, c, opts.Interval); derr != nil {
			return derr
		}
		if err != nil {
			return fmt.Errorf("app: %s: %w", st.tag, err)
		}
		if !c.Succeeded(st.tag) {
			return fmt.Errorf("%w: %s: %s", ErrStepFailed, st.tag, c.LastError())
		}
	}
	return nil
}
