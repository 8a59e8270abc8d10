package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"mdr-docgen/internal/config"
	"mdr-docgen/internal/models"
)

var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedder maps text to fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Service wraps a langchaingo embedder. It is built once per process and
// shared by ingestion and retrieval.
type Service struct {
	client embeddings.Embedder
	model  string

	mu  sync.RWMutex
	dim int
}

// New creates the embedder selected by cfg.Provider.
func New(cfg *config.LLMConfig) (Embedder, error) {
	log.Debug().Interface("config", map[string]any{
		"provider":  cfg.Provider,
		"base_url":  cfg.BaseURL,
		"model":     cfg.Model,
		"dimension": cfg.Dimension,
	}).Msg("Creating embedder")

	switch cfg.Provider {
	case config.ProviderHash:
		return NewHashEmbedder(cfg.Dimension), nil
	case config.ProviderOpenAI:
		llm, err := openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithEmbeddingModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("init openai embedding client: %w", err)
		}
		return newService(llm, cfg)
	case config.ProviderOllama, "":
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("init ollama embedding client: %w", err)
		}
		return newService(llm, cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

func newService(client embeddings.EmbedderClient, cfg *config.LLMConfig) (*Service, error) {
	opts := []embeddings.Option{embeddings.WithStripNewLines(true)}
	if cfg.BatchSize > 0 {
		opts = append(opts, embeddings.WithBatchSize(cfg.BatchSize))
	}
	e, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return NewService(e, cfg.Model, cfg.Dimension), nil
}

// NewService wraps an existing langchaingo embedder. A zero dim is learned
// from the first vector the model returns.
func NewService(client embeddings.Embedder, model string, dim int) *Service {
	return &Service{client: client, model: model, dim: dim}
}

// Dimension returns the model dimension, or 0 if it is not known yet.
func (s *Service) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Model returns the embedding model name.
func (s *Service) Model() string { return s.model }

func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.client.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	if err := s.checkDimension(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedBatch embeds texts in one call. vectors[i] belongs to texts[i].
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := s.client.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed batch of %d: %w", len(texts), err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embed batch: got %d vectors for %d texts", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if err := s.checkDimension(v); err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
	}
	return vecs, nil
}

func (s *Service) checkDimension(vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dim == 0 {
		s.dim = len(vec)
		log.Info().Str("model", s.model).Int("dimension", s.dim).Msg("Embedding dimension detected")
		return nil
	}
	if len(vec) != s.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), s.dim)
	}
	return nil
}

// EmbedQuery embeds a retrieval query. Queries and documents share one model.
func EmbedQuery(ctx context.Context, e Embedder, query string) ([]float32, error) {
	return e.Embed(ctx, query)
}

// EmbedChunks attaches an embedding to every chunk, in place.
func EmbedChunks(ctx context.Context, e Embedder, chunks []models.Chunk) ([]models.Chunk, error) {
	if len(chunks) == 0 {
		log.Info().Msg("No chunks to embed")
		return chunks, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vecs, err := e.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i := range chunks {
		chunks[i].Embedding = vecs[i]
	}
	log.Debug().Int("count", len(chunks)).Msg("Embedded chunks")
	return chunks, nil
}
