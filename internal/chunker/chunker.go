// Package chunker splits extracted document text into overlapping,
// token-bounded chunks that carry provenance metadata.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/textsplitter"

	"mdr-docgen/internal/models"
)

const (
	DefaultChunkSize    = 500 // tokens
	DefaultChunkOverlap = 50  // tokens

	// CharsPerToken approximates the token window in characters.
	CharsPerToken = 4
)

// DefaultSeparators are tried in order: paragraph, line, sentence, word, hard cut.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunker splits text into chunks of roughly chunkSize tokens.
type Chunker struct {
	chunkSize   int
	overlap     int
	separators  []string
	countTokens TokenCounter
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithChunkSize sets the target chunk size in tokens.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between consecutive chunks in tokens. An
// overlap not smaller than the chunk size is reduced to a quarter of it
// when the chunker is built.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// WithSeparators replaces the separator priority list.
func WithSeparators(seps []string) Option {
	return func(c *Chunker) {
		if len(seps) > 0 {
			c.separators = seps
		}
	}
}

// WithTokenCounter replaces the tokenizer used by CountTokens.
func WithTokenCounter(tc TokenCounter) Option {
	return func(c *Chunker) {
		if tc != nil {
			c.countTokens = tc
		}
	}
}

// New creates a chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize:   DefaultChunkSize,
		overlap:     DefaultChunkOverlap,
		separators:  DefaultSeparators,
		countTokens: TiktokenCounter,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.chunkSize {
		log.Warn().Int("overlap", c.overlap).Int("chunk_size", c.chunkSize).Msg("Chunk overlap not smaller than chunk size, using a quarter of the size")
		c.overlap = c.chunkSize / 4
	}
	return c
}

// ChunkSize returns the target chunk size in tokens.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Overlap returns the overlap in tokens.
func (c *Chunker) Overlap() int { return c.overlap }

func (c *Chunker) maxChars() int     { return c.chunkSize * CharsPerToken }
func (c *Chunker) overlapChars() int { return c.overlap * CharsPerToken }

func (c *Chunker) splitter() textsplitter.RecursiveCharacter {
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(c.maxChars()),
		textsplitter.WithChunkOverlap(c.overlapChars()),
		textsplitter.WithSeparators(c.separators),
		textsplitter.WithKeepSeparator(true),
		textsplitter.WithLenFunc(utf8.RuneCountInString),
	)
}

// span is a byte range of the source text; n is its length in runes.
type span struct {
	start, end, n int
}

// spans splits text and locates every piece in it. Pieces come back trimmed
// and in source order, so each one is found by a forward search that starts
// no earlier than the overlap window of its predecessor.
func (c *Chunker) spans(text string) []span {
	pieces, err := c.splitter().SplitText(text)
	if err != nil {
		log.Warn().Err(err).Msg("Error splitting text")
		return nil
	}

	out := make([]span, 0, len(pieces))
	prevStart, prevEnd := -1, 0
	for _, piece := range pieces {
		if piece = strings.TrimSpace(piece); piece == "" {
			continue
		}
		lo := max(prevStart+1, backRunes(text, prevEnd, c.overlapChars()))
		idx := strings.Index(text[lo:], piece)
		if idx < 0 {
			log.Debug().Int("from", lo).Msg("Chunk not found after its predecessor, searching from start")
			lo = 0
			if idx = strings.Index(text, piece); idx < 0 {
				continue
			}
		}
		start := lo + idx
		s := span{start: start, end: start + len(piece), n: utf8.RuneCountInString(piece)}
		out = append(out, s)
		prevStart, prevEnd = s.start, s.end
	}
	return out
}

// backRunes returns the byte position n runes before pos, clamped at 0.
func backRunes(text string, pos, n int) int {
	for ; n > 0 && pos > 0; n-- {
		_, size := utf8.DecodeLastRuneInString(text[:pos])
		pos -= size
	}
	return pos
}

// SplitText returns the raw chunk strings. Each is an exact substring of text
// with surrounding whitespace trimmed.
func (c *Chunker) SplitText(text string) []string {
	spans := c.spans(text)
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = text[s.start:s.end]
	}
	return out
}

// ChunkText splits text and stamps a copy of meta on every chunk.
// Empty text yields no chunks.
func (c *Chunker) ChunkText(text string, meta models.ChunkMetadata) []models.Chunk {
	if text == "" {
		return nil
	}

	spans := c.spans(text)
	chunks := make([]models.Chunk, 0, len(spans))
	for i, s := range spans {
		piece := text[s.start:s.end]
		md := meta
		md.ChunkIndex = i
		chunks = append(chunks, models.Chunk{
			ID:        models.ChunkID(meta.FileID, i),
			Text:      piece,
			Index:     i,
			Offset:    s.start,
			CharCount: s.n,
			WordCount: len(strings.Fields(piece)),
			Metadata:  md,
		})
	}
	return chunks
}

// ChunkWithContext attaches file provenance to every chunk.
func (c *Chunker) ChunkWithContext(text, fileID, filename, category string) []models.Chunk {
	return c.ChunkText(text, models.ChunkMetadata{
		FileID:   fileID,
		Filename: filename,
		Category: category,
	})
}
