// Package ingest turns uploaded files into indexed chunks: extract, clean,
// classify, chunk, embed and store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"mdr-docgen/internal/chunker"
	"mdr-docgen/internal/classifier"
	"mdr-docgen/internal/db"
	"mdr-docgen/internal/embedding"
	"mdr-docgen/internal/helper"
	"mdr-docgen/internal/models"
	"mdr-docgen/internal/parser"
)

// Extractor returns the raw text of a file, or an error wrapping
// parser.ErrNoText when there is none.
type Extractor func(path string) (string, error)

// Indexer is the write side of the vector index.
type Indexer interface {
	Add(ctx context.Context, projectID string, records []models.VectorRecord) error
	DeleteFile(ctx context.Context, projectID, fileID string) error
	DeleteProject(projectID string) error
}

// FileStore records per-file outcomes. db.Store satisfies it.
type FileStore interface {
	SaveFile(ctx context.Context, f *db.File) error
}

// Input describes one file to ingest. An empty ID is generated; a non-empty
// Category skips classification.
type Input struct {
	ID       string
	Path     string
	Filename string
	Category models.Category
}

// Result is the per-file outcome. Err is nil on success.
type Result struct {
	FileID     string          `json:"file_id"`
	Filename   string          `json:"filename"`
	Category   models.Category `json:"category,omitempty"`
	Confidence float64         `json:"confidence"`
	Method     string          `json:"method,omitempty"`
	ChunkCount int             `json:"chunk_count"`
	Error      string          `json:"error,omitempty"`
	Err        error           `json:"-"`
}

// NoText reports whether the file failed because it held no text.
func (r Result) NoText() bool { return errors.Is(r.Err, parser.ErrNoText) }

type Pipeline struct {
	extract    Extractor
	classifier *classifier.Classifier
	chunker    *chunker.Chunker
	embedder   embedding.Embedder
	index      Indexer
	store      FileStore
	useLLM     bool
}

type Option func(*Pipeline)

// WithExtractor replaces parser.ExtractText.
func WithExtractor(e Extractor) Option {
	return func(p *Pipeline) { p.extract = e }
}

// WithLLMClassification makes the classifier ask the language model first.
func WithLLMClassification(enabled bool) Option {
	return func(p *Pipeline) { p.useLLM = enabled }
}

// WithFileStore records every outcome in store.
func WithFileStore(store FileStore) Option {
	return func(p *Pipeline) { p.store = store }
}

func New(cls *classifier.Classifier, ch *chunker.Chunker, emb embedding.Embedder, index Indexer, opts ...Option) *Pipeline {
	p := &Pipeline{
		extract:    parser.ExtractText,
		classifier: cls,
		chunker:    ch,
		embedder:   emb,
		index:      index,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessFile runs the whole pipeline for one file. Errors are reported in
// the result; a file that fails leaves none of its chunks in the index.
func (p *Pipeline) ProcessFile(ctx context.Context, projectID string, in Input) Result {
	if in.Filename == "" {
		in.Filename = filepath.Base(in.Path)
	}
	if in.ID == "" {
		id, err := helper.GenerateUUID()
		if err != nil {
			return p.finish(ctx, projectID, in, Result{Filename: in.Filename, Err: err})
		}
		in.ID = id
	}
	res := Result{FileID: in.ID, Filename: in.Filename}

	raw, err := p.extract(in.Path)
	if err != nil {
		res.Err = err
		return p.finish(ctx, projectID, in, res)
	}
	text := helper.CleanText(raw)
	if text == "" {
		res.Err = fmt.Errorf("%s: %w", in.Filename, parser.ErrNoText)
		return p.finish(ctx, projectID, in, res)
	}

	if in.Category != "" {
		res.Category, res.Confidence, res.Method = in.Category, 1, "manual"
	} else {
		cls := p.classifier.Classify(ctx, text, in.Filename, p.useLLM)
		res.Category, res.Confidence, res.Method = cls.Category, cls.Confidence, cls.Method
	}

	chunks := p.chunker.ChunkWithContext(text, in.ID, in.Filename, string(res.Category))
	chunks, err = embedding.EmbedChunks(ctx, p.embedder, chunks)
	if err != nil {
		res.Err = fmt.Errorf("embed chunks: %w", err)
		return p.finish(ctx, projectID, in, res)
	}

	// Drop chunks of an earlier run so a shorter re-chunk leaves no strays.
	if err := p.index.DeleteFile(ctx, projectID, in.ID); err != nil {
		res.Err = fmt.Errorf("remove previous chunks: %w", err)
		return p.finish(ctx, projectID, in, res)
	}
	records := make([]models.VectorRecord, len(chunks))
	for i, ch := range chunks {
		records[i] = models.RecordFromChunk(ch)
	}
	if err := p.index.Add(ctx, projectID, records); err != nil {
		res.Err = fmt.Errorf("index chunks: %w", err)
		return p.finish(ctx, projectID, in, res)
	}

	res.ChunkCount = len(chunks)
	return p.finish(ctx, projectID, in, res)
}

func (p *Pipeline) finish(ctx context.Context, projectID string, in Input, res Result) Result {
	if res.Err != nil {
		res.Error = res.Err.Error()
		log.Error().Err(res.Err).Str("file", res.Filename).Msg("Error processing file")
	} else {
		log.Info().
			Str("file", res.Filename).
			Str("category", string(res.Category)).
			Float64("confidence", res.Confidence).
			Int("chunks", res.ChunkCount).
			Msg("Processed file")
	}

	if p.store != nil && res.FileID != "" {
		rec := &db.File{
			ID:                   res.FileID,
			ProjectID:            projectID,
			Filename:             res.Filename,
			Path:                 in.Path,
			FileType:             parser.FileType(in.Path),
			Category:             string(res.Category),
			Confidence:           res.Confidence,
			ClassificationMethod: res.Method,
			ChunkCount:           res.ChunkCount,
			Processed:            res.Err == nil,
			ProcessingError:      res.Error,
		}
		if err := p.store.SaveFile(ctx, rec); err != nil {
			log.Warn().Err(err).Str("file_id", res.FileID).Msg("Could not record file status")
		}
	}
	return res
}

// ProcessFiles handles files one after another. A failing file never stops
// the rest of the batch.
func (p *Pipeline) ProcessFiles(ctx context.Context, projectID string, inputs []Input, progress func(current, total int, filename string)) []Result {
	results := make([]Result, 0, len(inputs))
	for i, in := range inputs {
		if progress != nil {
			progress(i+1, len(inputs), in.Filename)
		}
		results = append(results, p.ProcessFile(ctx, projectID, in))
	}
	return results
}

// DeleteFile removes every chunk of fileID from the project.
func (p *Pipeline) DeleteFile(ctx context.Context, projectID, fileID string) error {
	return p.index.DeleteFile(ctx, projectID, fileID)
}

// DeleteProject drops the project's whole collection.
func (p *Pipeline) DeleteProject(projectID string) error {
	return p.index.DeleteProject(projectID)
}
