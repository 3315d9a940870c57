// Package orchestrator runs pipelines of stages on background goroutines and
// reports their progress through a task.Channel.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smileynet/plotcaption/internal/logging"
	"github.com/smileynet/plotcaption/internal/provider"
	"github.com/smileynet/plotcaption/internal/task"
)

// ErrBusy is returned when a run is started for a group that already has
// one in flight.
var ErrBusy = errors.New("orchestrator: a run is already in flight for this group")

// ValidationError indicates a run was rejected before any goroutine started.
type ValidationError struct {
	Tag     string
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("orchestrator: %s: missing %s", e.Tag, strings.Join(e.Missing, ", "))
}

// StageError indicates a stage failed inside a run.
type StageError struct {
	Tag   string // Run tag.
	Stage string // Stage name.
	Index int    // 1-based stage position.
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: stage %d %q: %s", e.Tag, e.Index, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Runner starts pipeline runs. Every run gets its own goroutine and posts
// its messages to the shared channel; Done is always the last message of a
// run.
type Runner struct {
	ch           *task.Channel
	text         provider.TextModel
	log          zerolog.Logger
	stageTimeout time.Duration
	serialize    bool
	newID        func() string

	mu     sync.Mutex
	active map[Group]map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Runner.
type Option func(*Runner)

// WithTextModel sets the remote text model used by API runs.
func WithTextModel(m provider.TextModel) Option {
	return func(r *Runner) { r.text = m }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) { r.log = logging.Component(l, "orchestrator") }
}

// WithStageTimeout bounds every stage's collaborator call. Zero disables it.
func WithStageTimeout(d time.Duration) Option {
	return func(r *Runner) { r.stageTimeout = d }
}

// WithSerialize controls whether a group may have more than one run in flight.
func WithSerialize(on bool) Option {
	return func(r *Runner) { r.serialize = on }
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(f func() string) Option {
	return func(r *Runner) { r.newID = f }
}

// New creates a Runner posting to ch.
func New(ch *task.Channel, opts ...Option) *Runner {
	r := &Runner{
		ch:        ch,
		log:       zerolog.Nop(),
		serialize: true,
		newID:     uuid.NewString,
		active:    make(map[Group]map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches run on its own goroutine and returns its ID. With
// serialization on, a group that already has a run in flight yields ErrBusy.
func (r *Runner) Start(run Run) (string, error) {
	if run.ID == "" {
		run.ID = r.newID()
	}

	r.mu.Lock()
	if len(r.active[run.Group]) > 0 && r.serialize {
		r.mu.Unlock()
		return "", ErrBusy
	}
	ctx, cancel := context.WithCancel(context.Background())
	if r.active[run.Group] == nil {
		r.active[run.Group] = make(map[string]context.CancelFunc)
	}
	r.active[run.Group][run.ID] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	r.log.Debug().Str("run", run.ID).Str("tag", run.Tag).Str("group", string(run.Group)).
		Int("stages", len(run.Stages)).Msg("run started")

	go r.execute(ctx, run)
	return run.ID, nil
}

// reject posts the messages of a run that never started.
func (r *Runner) reject(tag, text string, missing []string) (string, error) {
	id := r.newID()
	err := &ValidationError{Tag: tag, Missing: missing}
	r.log.Warn().Str("run", id).Str("tag", tag).Strs("missing", missing).Msg("run rejected")
	r.ch.Enqueue(task.Error(id, text))
	r.ch.Enqueue(task.Done(id, tag))
	return id, err
}

func (r *Runner) execute(ctx context.Context, run Run) {
	defer r.wg.Done()
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Str("run", run.ID).Interface("panic", p).Msg("run panicked")
			r.ch.Enqueue(task.Error(run.ID, fmt.Sprintf("%s: internal error: %v", run.Tag, p)))
			r.ch.Enqueue(task.Status(run.ID, run.FailureStatus))
		}
		r.release(run.Group, run.ID)
		r.ch.Enqueue(task.Done(run.ID, run.Tag))
	}()

	for i, st := range run.Stages {
		if st.Status != "" {
			r.ch.Enqueue(task.Status(run.ID, st.Status))
		}

		raw, err := r.call(ctx, st)
		if err != nil {
			se := &StageError{Tag: run.Tag, Stage: st.Name, Index: i + 1, Err: err}
			r.log.Error().Err(se).Str("run", run.ID).Msg("stage failed")
			r.ch.Enqueue(task.Error(run.ID, run.errorText(se)))
			if run.FailureStatus != "" {
				r.ch.Enqueue(task.Status(run.ID, run.FailureStatus))
			}
			return
		}

		parsed := st.parse(raw)
		if parsed.Description != "" {
			r.log.Warn().Str("run", run.ID).Str("stage", st.Name).Msg(parsed.Description)
		}
		if st.Field != "" {
			r.ch.Enqueue(task.UpdateField(run.ID, st.Field, parsed.Output))
		}
		r.log.Debug().Str("run", run.ID).Str("stage", st.Name).Int("bytes", len(parsed.Output)).Msg("stage done")
	}

	if run.SuccessStatus != "" {
		r.ch.Enqueue(task.Status(run.ID, run.SuccessStatus))
	}
}

// call runs one stage's collaborator under the stage timeout. A stage whose
// run was cancelled or whose deadline passed fails even if the collaborator
// returned an answer.
func (r *Runner) call(ctx context.Context, st Stage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if r.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.stageTimeout)
		defer cancel()
	}
	raw, err := st.Call(ctx)
	// A collaborator may ignore ctx and answer late; its output is discarded.
	if cerr := ctx.Err(); cerr != nil {
		if err == nil {
			err = cerr
		}
		if errors.Is(cerr, context.DeadlineExceeded) {
			return "", fmt.Errorf("timed out after %s: %w", r.stageTimeout, err)
		}
		return "", err
	}
	return raw, err
}

// release drops the cancel handle of a finished run.
func (r *Runner) release(g Group, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.active[g][id]; ok {
		cancel()
		delete(r.active[g], id)
	}
	if len(r.active[g]) == 0 {
		delete(r.active, g)
	}
}

// Busy reports whether g has a run in flight.
func (r *Runner) Busy(g Group) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active[g]) > 0
}

// InFlight returns the number of runs in flight across all groups.
func (r *Runner) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, runs := range r.active {
		n += len(runs)
	}
	return n
}

// Cancel cancels every run in flight for g and reports whether there was
// one. Cancelled runs still post their Error and Done messages.
func (r *Runner) Cancel(g Group) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, cancel := range r.active[g] {
		r.log.Info().Str("run", id).Str("group", string(g)).Msg("run cancelled")
		cancel()
	}
	return len(r.active[g]) > 0
}

// CancelAll cancels every run in flight.
func (r *Runner) CancelAll() {
	for _, g := range Groups() {
		r.Cancel(g)
	}
}

// Wait blocks until every started run has posted Done.
func (r *Runner) Wait() {
	r.wg.Wait()
}
