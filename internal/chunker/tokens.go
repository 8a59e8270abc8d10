package chunker

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"

	"mdr-docgen/internal/models"
)

// TokenModel is the model whose BPE encoding is used for token counts.
const TokenModel = "gpt-3.5-turbo"

// WordsToTokens is the fallback ratio when no tokenizer is available.
const WordsToTokens = 1.3

// TokenCounter returns the exact token count of text, or an error when the
// tokenizer is unavailable.
type TokenCounter func(text string) (int, error)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

// TiktokenCounter counts tokens with the cl100k encoding. The encoding is
// loaded once per process.
func TiktokenCounter(text string) (int, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.EncodingForModel(TokenModel)
		if encErr != nil {
			log.Warn().Err(encErr).Msg("tokenizer unavailable, token counts will be estimated")
		}
	})
	if encErr != nil {
		return 0, fmt.Errorf("load tokenizer: %w", encErr)
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// EstimateTokens is the explicit fallback policy: word count × 1.3.
func EstimateTokens(text string) int {
	return int(float64(len(strings.Fields(text))) * WordsToTokens)
}

// CountTokens returns the token count of text. exact is false when the
// tokenizer failed and the word-count estimate was used instead.
func (c *Chunker) CountTokens(text string) (n int, exact bool) {
	n, err := c.countTokens(text)
	if err != nil {
		return EstimateTokens(text), false
	}
	return n, true
}

// OptimalChunkCount estimates how many chunks text will produce.
func (c *Chunker) OptimalChunkCount(text string) int {
	tokens, _ := c.CountTokens(text)
	return max(1, tokens/c.chunkSize+1)
}

// ChunkStats summarises chunk quality.
type ChunkStats struct {
	Valid             bool    `json:"valid"`
	Error             string  `json:"error,omitempty"`
	ChunkCount        int     `json:"chunk_count"`
	TotalTokens       int     `json:"total_tokens"`
	AvgTokensPerChunk float64 `json:"avg_tokens_per_chunk"`
	OversizedChunks   int     `json:"oversized_chunks"`
	UndersizedChunks  int     `json:"undersized_chunks"`
}

// ValidateChunks flags chunks above 1.5× or below 0.3× the target size.
func (c *Chunker) ValidateChunks(chunks []models.Chunk) ChunkStats {
	if len(chunks) == 0 {
		return ChunkStats{Valid: false, Error: "No chunks provided"}
	}

	stats := ChunkStats{Valid: true, ChunkCount: len(chunks)}
	for _, ch := range chunks {
		n, _ := c.CountTokens(ch.Text)
		stats.TotalTokens += n
		switch {
		case float64(n) > float64(c.chunkSize)*1.5:
			stats.OversizedChunks++
		case float64(n) < float64(c.chunkSize)*0.3:
			stats.UndersizedChunks++
		}
	}
	stats.AvgTokensPerChunk = float64(stats.TotalTokens) / float64(len(chunks))
	return stats
}
