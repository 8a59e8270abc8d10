package llmservice

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Retrying retries failed generations of the wrapped generator.
type Retrying struct {
	gen      TextGenerator
	attempts int
}

// WithRetries wraps gen so every call makes up to attempts tries. A disabled
// generator, or fewer than two attempts, returns gen unchanged.
func WithRetries(gen TextGenerator, attempts int) TextGenerator {
	if _, noop := gen.(NoopGenerator); noop || gen == nil || attempts < 2 {
		return gen
	}
	return &Retrying{gen: gen, attempts: attempts}
}

func (r *Retrying) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return retry(ctx, r.attempts, func() (string, error) {
		return r.gen.Generate(ctx, prompt, opts)
	})
}

// GenerateStream retries only while nothing has reached onChunk, so a
// consumer never sees a fragment twice.
func (r *Retrying) GenerateStream(ctx context.Context, prompt string, opts GenerateOptions, onChunk func(string) error) (string, error) {
	streamed := false
	forward := func(s string) error {
		streamed = true
		if onChunk == nil {
			return nil
		}
		return onChunk(s)
	}

	var (
		text string
		err  error
	)
	for attempt := 1; attempt <= r.attempts; attempt++ {
		text, err = r.gen.GenerateStream(ctx, prompt, opts, forward)
		if err == nil || streamed || !retryable(ctx, err) {
			return text, err
		}
		log.Warn().Err(err).Int("attempt", attempt).Int("max_retries", r.attempts).Msg("Streaming attempt failed")
	}
	return text, fmt.Errorf("after %d attempts: %w", r.attempts, err)
}

func retryable(ctx context.Context, err error) bool {
	return ctx.Err() == nil && !errors.Is(err, ErrLLMDisabled)
}

func retry(ctx context.Context, attempts int, call func() (string, error)) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		text, err := call()
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable(ctx, err) {
			return "", err
		}
		log.Warn().Err(err).Int("attempt", attempt).Int("max_retries", attempts).Msg("Generation attempt failed")
	}
	log.Error().Err(lastErr).Msg("All retry attempts failed")
	return "", fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}
