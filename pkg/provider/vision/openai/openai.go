// Package openai provides a vision provider backed by any OpenAI-compatible
// multimodal chat completions API. The default endpoint is OpenRouter.
package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/novo-avatar/novo/pkg/provider/vision"
)

const (
	// OpenRouterBaseURL is the OpenRouter API root.
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	defaultModel      = "openai/gpt-4o-mini"
	defaultMaxTokens  = 300
)

// Provider implements vision.Provider.
type Provider struct {
	client    oai.Client
	model     string
	maxTokens int
}

type config struct {
	baseURL   string
	model     string
	maxTokens int
	timeout   time.Duration
	headers   map[string]string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel selects a vision-capable model.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithMaxTokens caps the description length.
func WithMaxTokens(n int) Option {
	return func(c *config) { c.maxTokens = n }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *config) {
		if c.headers == nil {
			c.headers = make(map[string]string)
		}
		c.headers[key] = value
	}
}

// New constructs a vision Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("vision: apiKey must not be empty")
	}
	cfg := &config{baseURL: OpenRouterBaseURL, model: defaultModel, maxTokens: defaultMaxTokens}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	for k, v := range cfg.headers {
		reqOpts = append(reqOpts, option.WithHeader(k, v))
	}

	return &Provider{
		client:    oai.NewClient(reqOpts...),
		model:     cfg.model,
		maxTokens: cfg.maxTokens,
	}, nil
}

// Describe implements vision.Provider.
func (p *Provider) Describe(ctx context.Context, image []byte, mime, prompt string) (string, error) {
	if len(image) == 0 {
		return "", vision.ErrEmptyImage
	}
	if prompt == "" {
		prompt = vision.DefaultPrompt
	}

	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(image, mime, prompt))
	if err != nil {
		return "", fmt.Errorf("vision: describe: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision: empty choices in response")
	}
	desc := strings.TrimSpace(resp.Choices[0].Message.Content)
	if desc == "" {
		return "", fmt.Errorf("vision: empty description")
	}
	return desc, nil
}

func (p *Provider) buildParams(image []byte, mime, prompt string) oai.ChatCompletionNewParams {
	parts := []oai.ChatCompletionContentPartUnionParam{
		oai.TextContentPart(prompt),
		oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{
			URL: DataURI(image, mime),
		}),
	}
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{oai.UserMessage(parts)},
	}
	if p.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(p.maxTokens))
	}
	return params
}

// DataURI encodes image as a base64 data URI. Images that already arrive as a
// data URI (browser canvas captures) keep their payload.
func DataURI(image []byte, mime string) string {
	if s := string(image); strings.HasPrefix(s, "data:image/") {
		return s
	}
	if mime == "" {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)
}

// Compile-time interface assertion.
var _ vision.Provider = (*Provider)(nil)
