package inference

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"sync"

	"github.com/openai/openai-go"

	"github.com/smileynet/plotcaption/internal/provider"
)

// Verify OpenAIEngine satisfies Engine at compile time.
var _ Engine = (*OpenAIEngine)(nil)

// OpenAIEngine serves vision models through an OpenAI-compatible endpoint,
// such as a local llama.cpp, vLLM or Ollama server.
type OpenAIEngine struct {
	client openai.Client
	probe  bool

	mu     sync.Mutex
	loaded string
}

// EngineOption configures an OpenAIEngine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	httpClient *http.Client
	probe      bool
}

// WithEngineHTTPClient overrides the HTTP client used for requests.
func WithEngineHTTPClient(hc *http.Client) EngineOption {
	return func(o *engineOptions) { o.httpClient = hc }
}

// WithProbe controls whether Load checks that the server lists the model.
func WithProbe(probe bool) EngineOption {
	return func(o *engineOptions) { o.probe = probe }
}

// NewOpenAIEngine creates an engine for the server at baseURL.
func NewOpenAIEngine(baseURL, apiKey string, opts ...EngineOption) *OpenAIEngine {
	o := engineOptions{httpClient: http.DefaultClient, probe: true}
	for _, opt := range opts {
		opt(&o)
	}
	if apiKey == "" {
		// Local servers ignore the key but the client insists on one.
		apiKey = "none"
	}
	return &OpenAIEngine{
		client: provider.NewSDKClient(apiKey, baseURL, o.httpClient),
		probe:  o.probe,
	}
}

// Load marks p.ModelID as the active model after confirming the server
// lists it.
func (e *OpenAIEngine) Load(ctx context.Context, p Profile) error {
	if e.probe {
		page, err := e.client.Models.List(ctx)
		if err != nil {
			return &EngineError{Op: "load", Model: p.ModelID, Err: err}
		}
		found := false
		for _, m := range page.Data {
			if m.ID == p.ModelID {
				found = true
				break
			}
		}
		if !found {
			return &EngineError{Op: "load", Model: p.ModelID, Err: ErrModelNotFound}
		}
	}

	e.mu.Lock()
	e.loaded = p.ModelID
	e.mu.Unlock()
	return nil
}

// Unload forgets the active model.
func (e *OpenAIEngine) Unload() {
	e.mu.Lock()
	e.loaded = ""
	e.mu.Unlock()
}

// Loaded returns the active model ID, or "" when nothing is loaded.
func (e *OpenAIEngine) Loaded() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

// Generate sends prompt and image to the loaded model.
func (e *OpenAIEngine) Generate(ctx context.Context, p Profile, prompt string, image []byte) (string, error) {
	if e.Loaded() != p.ModelID {
		return "", &EngineError{Op: "generate", Model: p.ModelID, Err: ErrNotLoaded}
	}
	if len(image) == 0 {
		return "", &EngineError{Op: "generate", Model: p.ModelID, Err: ErrNoImage}
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if p.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(p.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: DataURL(image)}),
		openai.TextContentPart(prompt),
	}))

	resp, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    p.ModelID,
		Messages: messages,
	})
	if err != nil {
		return "", &EngineError{Op: "generate", Model: p.ModelID, Err: err}
	}
	out, err := provider.FirstChoice(resp)
	if err != nil {
		return "", &EngineError{Op: "generate", Model: p.ModelID, Err: err}
	}
	return out, nil
}

// DataURL encodes image bytes as a base64 data URL, sniffing the MIME type
// from the leading bytes.
func DataURL(image []byte) string {
	mime := http.DetectContentType(image)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)
}
