package llmservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"mdr-docgen/internal/config"
	"mdr-docgen/internal/models"
)

// ErrLLMDisabled is returned by the no-op generator.
var ErrLLMDisabled = errors.New("language model is disabled")

// MaxPromptTokens is the default prompt budget checked by ValidatePromptLength.
const MaxPromptTokens = 6000

// GenerateOptions are the per-call sampling parameters.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
	System      string
}

// TextGenerator is the capability the classifier and the section generator
// depend on.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	// GenerateStream calls onChunk for every fragment and returns their
	// concatenation.
	GenerateStream(ctx context.Context, prompt string, opts GenerateOptions, onChunk func(string) error) (string, error)
}

// Client talks to a chat model through langchaingo.
type Client struct {
	llm        llms.Model
	provider   string
	baseURL    string
	model      string
	retries    int
	httpClient *http.Client
}

// New creates a client for the provider named in cfg.
func New(cfg *config.LLMConfig) (*Client, error) {
	log.Debug().Interface("config", map[string]any{
		"provider": cfg.Provider,
		"base_url": cfg.BaseURL,
		"model":    cfg.Model,
	}).Msg("Creating LLM client")

	var (
		llm llms.Model
		err error
	)
	switch cfg.Provider {
	case config.ProviderOpenAI:
		llm, err = openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		)
	case config.ProviderOllama, "":
		llm, err = ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s client: %w", cfg.Provider, err)
	}
	return NewWithModel(llm, cfg), nil
}

// NewWithModel wraps an existing langchaingo model.
func NewWithModel(llm llms.Model, cfg *config.LLMConfig) *Client {
	provider := cfg.Provider
	if provider == "" {
		provider = config.ProviderOllama
	}
	return &Client{
		llm:        llm,
		provider:   provider,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		retries:    cfg.Retries,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Model returns the active model name.
func (c *Client) Model() string { return c.model }

func messages(prompt, system string) []llms.MessageContent {
	var msgs []llms.MessageContent
	if system != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	return append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, prompt))
}

func callOptions(opts GenerateOptions) []llms.CallOption {
	callOpts := []llms.CallOption{llms.WithTemperature(opts.Temperature)}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}
	return callOpts
}

// Generate returns the model's full reply to prompt.
func (c *Client) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	resp, err := c.llm.GenerateContent(ctx, messages(prompt, opts.System), callOptions(opts)...)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("generate content: model returned no choices")
	}
	return resp.Choices[0].Content, nil
}

// GenerateStream streams the reply through onChunk. An error from onChunk
// aborts the call.
func (c *Client) GenerateStream(ctx context.Context, prompt string, opts GenerateOptions, onChunk func(string) error) (string, error) {
	var sb strings.Builder
	callOpts := append(callOptions(opts), llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		sb.Write(chunk)
		if onChunk == nil {
			return nil
		}
		return onChunk(string(chunk))
	}))

	if _, err := c.llm.GenerateContent(ctx, messages(prompt, opts.System), callOpts...); err != nil {
		return sb.String(), fmt.Errorf("stream content: %w", err)
	}
	return sb.String(), nil
}

// GenerateWithContext wraps task with retrieved context under the
// regulatory system prompt.
func (c *Client) GenerateWithContext(ctx context.Context, task, contextText string, opts GenerateOptions) (string, error) {
	opts.System = models.RegulatorySystemPrompt
	return c.Generate(ctx, fmt.Sprintf(models.ContextPromptTemplate, contextText, task), opts)
}

// GenerateWithRetry makes up to maxRetries attempts, returning the last
// error when all of them fail. A non-positive maxRetries uses the
// configured count, or 3.
func (c *Client) GenerateWithRetry(ctx context.Context, prompt string, opts GenerateOptions, maxRetries int) (string, error) {
	if maxRetries <= 0 {
		maxRetries = c.retries
	}
	if maxRetries <= 0 {
		maxRetries = config.DefaultRetries
	}

	return retry(ctx, maxRetries, func() (string, error) {
		return c.Generate(ctx, prompt, opts)
	})
}

// PromptLength reports the estimated token size of a prompt.
type PromptLength struct {
	Valid           bool `json:"valid"`
	EstimatedTokens int  `json:"estimated_tokens"`
	MaxTokens       int  `json:"max_tokens"`
	CharCount       int  `json:"char_count"`
}

// ValidatePromptLength estimates tokens as characters/4.
func ValidatePromptLength(prompt string, maxTokens int) PromptLength {
	if maxTokens <= 0 {
		maxTokens = MaxPromptTokens
	}
	estimated := float64(len(prompt)) / 4
	return PromptLength{
		Valid:           estimated < float64(maxTokens),
		EstimatedTokens: int(estimated),
		MaxTokens:       maxTokens,
		CharCount:       len(prompt),
	}
}
