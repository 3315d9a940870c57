package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smileynet/plotcaption/internal/appstate"
	"github.com/smileynet/plotcaption/internal/inference"
	"github.com/smileynet/plotcaption/internal/provider"
	"github.com/smileynet/plotcaption/internal/task"
)

func writeImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pic.png")
	if err := os.WriteFile(path, []byte("\x89PNG"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestChain_FullRun(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := Chain(ctx, h.c, ChainOptions{
		Variant:  "plain",
		Image:    writeImage(t),
		Prompt:   "Describe this",
		SD:       true,
		Interval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Chain() error = %v", err)
	}
	if h.c.State() != appstate.ReadyForSdGeneration {
		t.Errorf("state = %v, want ReadyForSdGeneration", h.c.State())
	}
	for _, f := range task.Fields() {
		if h.c.Field(f) == "" {
			t.Errorf("field %s is empty", f)
		}
	}
	if n := h.textCalls.Load(); n != 2 {
		t.Errorf("text calls = %d, want 2", n)
	}
}

func TestChain_StopsAtFailedStep(t *testing.T) {
	h := newHarness(t)
	h.text.CallFunc = func(ctx context.Context, req provider.Request) (string, error) {
		if strings.HasPrefix(req.Prompt, "SD") {
			return "", errors.New("rate limited")
		}
		return "card", nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := Chain(ctx, h.c, ChainOptions{Image: writeImage(t), SD: true, Interval: time.Millisecond})

	if !errors.Is(err, ErrStepFailed) {
		t.Fatalf("Chain() error = %v, want ErrStepFailed", err)
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("error = %v, want cause in message", err)
	}
	if h.c.Field(task.FieldCardOutput) != "card" {
		t.Errorf("card output = %q", h.c.Field(task.FieldCardOutput))
	}
}

func TestChain_CaptionOnly(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := Chain(ctx, h.c, ChainOptions{Image: writeImage(t), Interval: time.Millisecond}); err != nil {
		t.Fatalf("Chain() error = %v", err)
	}
	if h.c.State() != appstate.ReadyForCardGeneration {
		t.Errorf("state = %v", h.c.State())
	}
	if n := h.textCalls.Load(); n != 0 {
		t.Errorf("text calls = %d, want 0", n)
	}
}

func TestChain_RejectsBadImage(t *testing.T) {
	h := newHarness(t)
	err := Chain(context.Background(), h.c, ChainOptions{Image: "doc.pdf"})
	if !errors.Is(err, ErrUnsupportedImage) {
		t.Errorf("Chain() error = %v, want ErrUnsupportedImage", err)
	}
}

func TestDrive_ContextCancelled(t *testing.T) {
	h := newHarness(t)
	h.engine.LoadFunc = func(ctx context.Context, p inference.Profile) error {
		<-ctx.Done()
		return ctx.Err()
	}
	if err := h.c.Load(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := Drive(ctx, h.c, time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Drive() error = %v, want DeadlineExceeded", err)
	}

	// The load was cancelled on the way out; draining settles the machine.
	drive(t, h.c)
	if h.c.State() != appstate.Idle {
		t.Errorf("state = %v, want Idle", h.c.State())
	}
}

func TestDrive_ReturnsWhenIdle(t *testing.T) {
	h := newHarness(t)
	if err := Drive(context.Background(), h.c, time.Millisecond); err != nil {
		t.Errorf("Drive() with nothing in flight = %v", err)
	}
}

func TestOSC52_Copy(t *testing.T) {
	var buf bytes.Buffer
	clip := &OSC52{Out: &buf}

	if err := clip.Copy("hello"); err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	out := buf.String()
	// "hello" base64-encoded inside an OSC 52 sequence.
	if !strings.HasPrefix(out, "\x1b]52;") || !strings.Contains(out, "aGVsbG8=") {
		t.Errorf("sequence = %q", out)
	}
}
