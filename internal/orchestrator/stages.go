package orchestrator

import (
	"bytes"
	"context"
	"strings"

	"github.com/smileynet/plotcaption/internal/inference"
	"github.com/smileynet/plotcaption/internal/provider"
	"github.com/smileynet/plotcaption/internal/task"
)

// Group names a set of output fields. At most one run per group is in
// flight when serialization is on.
type Group string

const (
	GroupModel Group = "model" // Model load.
	GroupLocal Group = "local" // Caption and tags.
	GroupAPI   Group = "api"   // Card and SD prompt outputs, API test.
)

// Groups returns every group.
func Groups() []Group {
	return []Group{GroupModel, GroupLocal, GroupAPI}
}

// Run tags carried by Done messages.
const (
	TagLoad    = "load"
	TagCaption = "caption"
	TagCard    = "card"
	TagSD      = "sd"
	TagTest    = "test"
)

// TestPrompt is sent by API connection tests.
const TestPrompt = "Hello!"

// Stage is one collaborator call within a run. Its inputs are captured in
// Call's closure before the run starts.
type Stage struct {
	Name   string
	Status string // Posted before the call; empty posts nothing.
	Call   func(ctx context.Context) (string, error)
	Parse  func(raw string) inference.Parsed // Nil keeps the trimmed raw output.
	Field  task.FieldID                      // Empty posts no field update.
}

func (s Stage) parse(raw string) inference.Parsed {
	if s.Parse == nil {
		return inference.Parsed{Output: strings.TrimSpace(raw)}
	}
	return s.Parse(raw)
}

// Run is an ordered list of stages sharing one goroutine.
type Run struct {
	ID            string // Assigned by Start when empty.
	Group         Group
	Tag           string
	Stages        []Stage
	SuccessStatus string
	FailureStatus string
	ErrorPrefix   string // Prepended to stage errors in the Error message.
}

func (r Run) errorText(err error) string {
	if r.ErrorPrefix == "" {
		return err.Error()
	}
	return r.ErrorPrefix + err.Error()
}

// StartLoad loads m in the background.
func (r *Runner) StartLoad(m inference.Model) (string, error) {
	if m == nil {
		return r.reject(TagLoad, "No model profile selected.", []string{"model profile"})
	}
	p := m.Profile()
	return r.Start(Run{
		Group: GroupModel,
		Tag:   TagLoad,
		Stages: []Stage{{
			Name:   "load",
			Status: "Loading model: " + p.Name + "...",
			Call: func(ctx context.Context) (string, error) {
				return "", m.Load(ctx)
			},
		}},
		SuccessStatus: "Model loaded: " + p.Name,
		FailureStatus: "Model load failed.",
		ErrorPrefix:   "Failed to load model: ",
	})
}

// LocalInput is the snapshot a caption run works from.
type LocalInput struct {
	Model  inference.Model
	Prompt string // Must not be blank.
	Image  []byte
}

// StartLocal generates a caption and then tags for the image.
func (r *Runner) StartLocal(in LocalInput) (string, error) {
	var missing []string
	if in.Model == nil {
		missing = append(missing, "model profile")
	}
	if len(in.Image) == 0 {
		missing = append(missing, "image")
	}
	if len(missing) > 0 {
		return r.reject(TagCaption, "No model profile loaded or no image set. Cannot generate.", missing)
	}

	captionPrompt := strings.TrimSpace(in.Prompt)
	if captionPrompt == "" {
		return r.reject(TagCaption, "Prompt cannot be empty.", []string{"prompt"})
	}

	m := in.Model
	image := bytes.Clone(in.Image)
	tagsPrompt := m.Profile().TagsPrompt

	return r.Start(Run{
		Group: GroupLocal,
		Tag:   TagCaption,
		Stages: []Stage{
			{
				Name:   "caption",
				Status: "Generating description (step 1/2)...",
				Call: func(ctx context.Context) (string, error) {
					return m.Generate(ctx, captionPrompt, image)
				},
				Parse: m.ParseCaption,
				Field: task.FieldCaption,
			},
			{
				Name:   "tags",
				Status: "Generating booru tags (step 2/2)...",
				Call: func(ctx context.Context) (string, error) {
					return m.Generate(ctx, tagsPrompt, image)
				},
				Parse: m.ParseTags,
				Field: task.FieldTags,
			},
		},
		SuccessStatus: "Generation complete.",
		FailureStatus: "Generation failed.",
		ErrorPrefix:   "An error occurred during generation: ",
	})
}

// RemoteInput is the snapshot an API run works from.
type RemoteInput struct {
	Tag     string // TagCard or TagSD.
	Field   task.FieldID
	Request provider.Request
}

// StartRemote sends one prompt to the text model. Missing credentials,
// model or prompt reject the run before any network I/O: Error and Done
// are posted and a *ValidationError is returned.
func (r *Runner) StartRemote(in RemoteInput) (string, error) {
	if missing := in.Request.Missing(); len(missing) > 0 {
		return r.reject(in.Tag, "API credentials, model, url and prompt cannot be empty.", missing)
	}
	if r.text == nil {
		return r.reject(in.Tag, "No API client configured.", []string{"api client"})
	}

	req := in.Request
	req.Sampling = req.Sampling.Normalize()
	text := r.text

	return r.Start(Run{
		Group: GroupAPI,
		Tag:   in.Tag,
		Stages: []Stage{{
			Name:   in.Tag,
			Status: "Calling model " + req.Model + "...",
			Call: func(ctx context.Context) (string, error) {
				return text.CallTextModel(ctx, req)
			},
			Field: in.Field,
		}},
		SuccessStatus: "API call successful.",
		FailureStatus: "API call failed!",
		ErrorPrefix:   "An error occurred during the API call: ",
	})
}

// StartTest checks the API connection with a short prompt. It writes no
// field.
func (r *Runner) StartTest(req provider.Request) (string, error) {
	req.Prompt = TestPrompt
	if missing := req.Missing(); len(missing) > 0 {
		return r.reject(TagTest, "Test failed: Missing credentials.", missing)
	}
	if r.text == nil {
		return r.reject(TagTest, "No API client configured.", []string{"api client"})
	}
	req.Sampling = req.Sampling.Normalize()
	text := r.text

	return r.Start(Run{
		Group: GroupAPI,
		Tag:   TagTest,
		Stages: []Stage{{
			Name:   "test",
			Status: "Testing API connection...",
			Call: func(ctx context.Context) (string, error) {
				return text.CallTextModel(ctx, req)
			},
		}},
		SuccessStatus: "API connection test successful.",
		FailureStatus: "API connection test failed.",
	})
}
