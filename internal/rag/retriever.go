package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"mdr-docgen/internal/chromemdb"
	"mdr-docgen/internal/embedding"
	"mdr-docgen/internal/helper"
	"mdr-docgen/internal/models"
)

const (
	DefaultMaxChunks     = 10
	DefaultFileResults   = 5
	DefaultPerQuery      = 5
	DefaultInitialK      = 20
	DefaultContextLength = 5000
	DefaultTestQuery     = "device"

	overlapWeight  = 0.3
	distanceWeight = 0.7
)

// VectorStore is the read side of the vector index.
type VectorStore interface {
	Query(ctx context.Context, projectID string, vec []float32, k int, filter chromemdb.Filter) ([]models.RetrievedChunk, error)
	Count(projectID string) (int, error)
}

// Retriever turns a query into ranked chunks and prompt context.
type Retriever struct {
	store     VectorStore
	embedder  embedding.Embedder
	maxChunks int
}

// New creates a retriever. maxChunks is the default result count.
func New(store VectorStore, embedder embedding.Embedder, maxChunks int) *Retriever {
	if maxChunks <= 0 {
		maxChunks = DefaultMaxChunks
	}
	return &Retriever{store: store, embedder: embedder, maxChunks: maxChunks}
}

func (r *Retriever) search(ctx context.Context, projectID, query string, n int, filter chromemdb.Filter) ([]models.RetrievedChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is empty")
	}
	if n <= 0 {
		n = r.maxChunks
	}
	vec, err := embedding.EmbedQuery(ctx, r.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	res, err := r.store.Query(ctx, projectID, vec, n, filter)
	if err != nil {
		return nil, fmt.Errorf("query project %s: %w", projectID, err)
	}
	log.Debug().Str("project_id", projectID).Int("count", len(res)).Strs("categories", filter.Categories).Msg("Retrieved chunks")
	return res, nil
}

// Retrieve returns up to n chunks by ascending distance, restricted to
// categories when any are given.
func (r *Retriever) Retrieve(ctx context.Context, projectID, query string, n int, categories []string) ([]models.RetrievedChunk, error) {
	return r.search(ctx, projectID, query, n, chromemdb.Filter{Categories: categories})
}

// RetrieveByFile searches only the chunks of one file.
func (r *Retriever) RetrieveByFile(ctx context.Context, projectID, fileID, query string, n int) ([]models.RetrievedChunk, error) {
	if n <= 0 {
		n = DefaultFileResults
	}
	return r.search(ctx, projectID, query, n, chromemdb.Filter{FileID: fileID})
}

// RetrieveByCategory searches a single category.
func (r *Retriever) RetrieveByCategory(ctx context.Context, projectID string, category models.Category, query string, n int) ([]models.RetrievedChunk, error) {
	return r.Retrieve(ctx, projectID, query, n, []string{string(category)})
}

// RetrieveMultiQuery concatenates the results of each query in order,
// keeping the first occurrence of every chunk id.
func (r *Retriever) RetrieveMultiQuery(ctx context.Context, projectID string, queries []string, perQuery int) ([]models.RetrievedChunk, error) {
	if perQuery <= 0 {
		perQuery = DefaultPerQuery
	}

	var merged []models.RetrievedChunk
	seen := make(map[string]struct{})
	for _, q := range queries {
		res, err := r.Retrieve(ctx, projectID, q, perQuery, nil)
		if err != nil {
			return nil, err
		}
		for _, ch := range res {
			if _, ok := seen[ch.ID]; ok {
				continue
			}
			seen[ch.ID] = struct{}{}
			merged = append(merged, ch)
		}
	}
	return merged, nil
}

// RetrieveWithReranking fetches initialK candidates and, when there are more
// than finalK, reorders them with Rerank.
func (r *Retriever) RetrieveWithReranking(ctx context.Context, projectID, query string, initialK, finalK int) ([]models.RetrievedChunk, error) {
	if initialK <= 0 {
		initialK = DefaultInitialK
	}
	if finalK <= 0 {
		finalK = r.maxChunks
	}
	res, err := r.Retrieve(ctx, projectID, query, initialK, nil)
	if err != nil {
		return nil, err
	}
	if len(res) <= finalK {
		return res, nil
	}
	return Rerank(query, res, finalK), nil
}

// Rerank scores each chunk as 0.3 × term overlap + 0.7 × (1 - distance) and
// returns the best finalK. Term overlap is the share of distinct lowercase
// query terms that also occur as terms of the chunk.
func Rerank(query string, chunks []models.RetrievedChunk, finalK int) []models.RetrievedChunk {
	queryTerms := termSet(query)

	type scored struct {
		chunk models.RetrievedChunk
		score float64
	}
	all := make([]scored, len(chunks))
	for i, ch := range chunks {
		all[i] = scored{chunk: ch, score: RerankScore(queryTerms, ch)}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })

	if finalK > len(all) || finalK < 0 {
		finalK = len(all)
	}
	out := make([]models.RetrievedChunk, finalK)
	for i := range out {
		out[i] = all[i].chunk
	}
	return out
}

// RerankScore is the combined relevance of one chunk.
func RerankScore(queryTerms map[string]struct{}, ch models.RetrievedChunk) float64 {
	overlap := 0.0
	if len(queryTerms) > 0 {
		chunkTerms := termSet(ch.Text)
		hits := 0
		for t := range queryTerms {
			if _, ok := chunkTerms[t]; ok {
				hits++
			}
		}
		overlap = float64(hits) / float64(len(queryTerms))
	}
	return overlapWeight*overlap + distanceWeight*(1-ch.Distance)
}

func termSet(text string) map[string]struct{} {
	terms := helper.Terms(text)
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		set[t] = struct{}{}
	}
	return set
}

// SectionContext is the retrieval result for one report section, grouped by
// source file for provenance.
type SectionContext struct {
	Section     string                             `json:"section"`
	Chunks      []models.RetrievedChunk            `json:"chunks"`
	ByFile      map[string][]models.RetrievedChunk `json:"by_file"`
	SourceFiles []string                           `json:"source_files"`
	TotalChunks int                                `json:"total_chunks"`
}

// RetrieveForSection retrieves with the section's preferred categories and
// groups the hits by file id. SourceFiles follows first appearance.
func (r *Retriever) RetrieveForSection(ctx context.Context, projectID, section, query string, categories []string, n int) (SectionContext, error) {
	res, err := r.Retrieve(ctx, projectID, query, n, categories)
	if err != nil {
		return SectionContext{Section: section}, err
	}

	sc := SectionContext{
		Section:     section,
		Chunks:      res,
		ByFile:      make(map[string][]models.RetrievedChunk),
		TotalChunks: len(res),
	}
	for _, ch := range res {
		fileID := ch.Metadata.FileID
		if fileID == "" {
			fileID = "unknown"
		}
		if _, ok := sc.ByFile[fileID]; !ok {
			sc.SourceFiles = append(sc.SourceFiles, fileID)
		}
		sc.ByFile[fileID] = append(sc.ByFile[fileID], ch)
	}
	return sc, nil
}

// BuildContextString joins chunk texts in order, each followed by a blank
// line and optionally preceded by a source header. It stops before the
// first chunk that would push the total past maxLength characters, so the
// result never exceeds maxLength and never holds a partial chunk.
func BuildContextString(chunks []models.RetrievedChunk, maxLength int, includeMetadata bool) string {
	var sb strings.Builder
	length := 0
	for i, ch := range chunks {
		part := ch.Text + models.ContextSeparator
		if includeMetadata {
			filename := ch.Metadata.Filename
			if filename == "" {
				filename = "Unknown"
			}
			category := ch.Metadata.Category
			if category == "" {
				category = "unknown"
			}
			part = fmt.Sprintf("[Source %d: %s (%s)]\n", i+1, filename, category) + part
		}

		n := utf8.RuneCountInString(part)
		if length+n > maxLength {
			break
		}
		sb.WriteString(part)
		length += n
	}
	return sb.String()
}

// Stats describes a project's collection.
type Stats struct {
	TotalChunks      int  `json:"total_chunks"`
	CollectionExists bool `json:"collection_exists"`
}

// Stats never fails; an unreadable collection reports zero chunks.
func (r *Retriever) Stats(projectID string) Stats {
	n, err := r.store.Count(projectID)
	if err != nil {
		log.Error().Err(err).Str("project_id", projectID).Msg("Error getting retrieval stats")
		return Stats{}
	}
	return Stats{TotalChunks: n, CollectionExists: n > 0}
}

// TestResult is a smoke test of the retrieval path.
type TestResult struct {
	Success       bool                    `json:"success"`
	ResultsCount  int                     `json:"results_count"`
	SampleResults []models.RetrievedChunk `json:"sample_results,omitempty"`
	Error         string                  `json:"error,omitempty"`
}

// TestRetrieval runs a three-result query and returns up to two samples.
func (r *Retriever) TestRetrieval(ctx context.Context, projectID, query string) TestResult {
	if query == "" {
		query = DefaultTestQuery
	}
	res, err := r.Retrieve(ctx, projectID, query, 3, nil)
	if err != nil {
		log.Error().Err(err).Str("project_id", projectID).Msg("Error testing retrieval")
		return TestResult{Success: false, Error: err.Error()}
	}
	return TestResult{
		Success:       true,
		ResultsCount:  len(res),
		SampleResults: res[:min(2, len(res))],
	}
}
