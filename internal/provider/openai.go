package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// defaultTimeout is used when no timeout option is provided.
const defaultTimeout = 2 * time.Minute

// Verify OpenAIClient satisfies TextModel at compile time.
var _ TextModel = (*OpenAIClient)(nil)

// OpenAIClient calls any OpenAI-compatible chat completions endpoint.
// Credentials travel with each Request, so one client serves every profile.
type OpenAIClient struct {
	httpClient *http.Client
	timeout    time.Duration
}

// Option configures an OpenAIClient.
type Option func(*OpenAIClient)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *OpenAIClient) { c.timeout = d }
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *OpenAIClient) { c.httpClient = hc }
}

// NewOpenAIClient creates an OpenAIClient from options.
func NewOpenAIClient(opts ...Option) *OpenAIClient {
	c := &OpenAIClient{
		httpClient: http.DefaultClient,
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewSDKClient builds an openai-go client for baseURL. Retries are disabled:
// a failed call surfaces to the user instead of being replayed.
func NewSDKClient(apiKey, baseURL string, hc *http.Client) openai.Client {
	return openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(normalizeBaseURL(baseURL)),
		option.WithHTTPClient(hc),
		option.WithMaxRetries(0),
	)
}

// CallTextModel sends req.Prompt (and an optional system prompt) and
// returns the first choice's content.
func (c *OpenAIClient) CallTextModel(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client := NewSDKClient(req.APIKey, req.BaseURL, c.httpClient)

	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	sampling := req.Sampling.Normalize()
	params := openai.ChatCompletionNewParams{
		Model:            req.Model,
		Messages:         messages,
		Temperature:      openai.Float(sampling.Temperature),
		FrequencyPenalty: openai.Float(sampling.FrequencyPenalty),
		PresencePenalty:  openai.Float(sampling.PresencePenalty),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &TimeoutError{Provider: req.Model, Duration: c.timeout}
		}
		return "", &ProviderError{Provider: req.Model, Err: err}
	}
	return FirstChoice(resp)
}

// FirstChoice extracts the trimmed content of the first choice.
func FirstChoice(resp *openai.ChatCompletion) (string, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

// normalizeBaseURL ensures the base URL ends with a slash so relative
// endpoint paths resolve under it.
func normalizeBaseURL(u string) string {
	u = strings.TrimSpace(u)
	if u != "" && !strings.HasSuffix(u, "/") {
		u += "/"
	}
	return u
}
