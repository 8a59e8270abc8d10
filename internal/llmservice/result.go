package llmservice

import (
	"context"
	"errors"
)

// Result carries a generation outcome so callers decide on fallback by
// inspection.
type Result struct {
	Text string
	Err  error
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Disabled reports whether the call failed because the model is turned off.
func (r Result) Disabled() bool { return errors.Is(r.Err, ErrLLMDisabled) }

// Try runs one generation and captures the outcome.
func Try(ctx context.Context, gen TextGenerator, prompt string, opts GenerateOptions) Result {
	if gen == nil {
		return Result{Err: ErrLLMDisabled}
	}
	text, err := gen.Generate(ctx, prompt, opts)
	return Result{Text: text, Err: err}
}

// NoopGenerator is selected when language-model features are disabled.
type NoopGenerator struct{}

func (NoopGenerator) Generate(context.Context, string, GenerateOptions) (string, error) {
	return "", ErrLLMDisabled
}

func (NoopGenerator) GenerateStream(context.Context, string, GenerateOptions, func(string) error) (string, error) {
	return "", ErrLLMDisabled
}

// NewGenerator returns the configured client, or NoopGenerator when the
// model is disabled.
func NewGenerator(client *Client, disabled bool) TextGenerator {
	if disabled || client == nil {
		return NoopGenerator{}
	}
	return client
}
