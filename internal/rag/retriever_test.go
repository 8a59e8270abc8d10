package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdr-docgen/internal/chromemdb"
	"mdr-docgen/internal/embedding"
	"mdr-docgen/internal/models"
)

// fakeStore returns canned results and records the last query.
type fakeStore struct {
	results    []models.RetrievedChunk
	byQueryLen map[int][]models.RetrievedChunk
	err        error
	lastK      int
	lastFilter chromemdb.Filter
	calls      int
}

func (s *fakeStore) Query(_ context.Context, _ string, vec []float32, k int, filter chromemdb.Filter) ([]models.RetrievedChunk, error) {
	s.calls++
	s.lastK = k
	s.lastFilter = filter
	if s.err != nil {
		return nil, s.err
	}
	res := s.results
	if s.byQueryLen != nil {
		res = s.byQueryLen[int(vec[0])]
	}
	return res[:min(k, len(res))], nil
}

func (s *fakeStore) Count(string) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	return len(s.results), nil
}

// lenEmbedder encodes the query length so fakeStore can route by query.
type lenEmbedder struct{}

func (lenEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1}, nil
}

func (e lenEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (lenEmbedder) Dimension() int { return 2 }

func chunk(id, fileID, text string, distance float64) models.RetrievedChunk {
	return models.RetrievedChunk{
		ID:       id,
		Text:     text,
		Metadata: models.ChunkMetadata{FileID: fileID, Filename: fileID + ".pdf", Category: "sterilization"},
		Distance: distance,
	}
}

func TestRetrieve_PassesFilterAndDefaults(t *testing.T) {
	store := &fakeStore{results: []models.RetrievedChunk{chunk("a_0", "a", "x", 0.1)}}
	r := New(store, lenEmbedder{}, 0)

	res, err := r.Retrieve(context.Background(), "p", "device", 0, []string{"literature"})
	require.NoError(t, err)
	assert.Len(t, res, 1)
	assert.Equal(t, DefaultMaxChunks, store.lastK)
	assert.Equal(t, []string{"literature"}, store.lastFilter.Categories)

	_, err = r.RetrieveByFile(context.Background(), "p", "a", "device", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultFileResults, store.lastK)
	assert.Equal(t, "a", store.lastFilter.FileID)

	_, err = r.RetrieveByCategory(context.Background(), "p", models.CategoryRiskManagement, "device", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"risk_management"}, store.lastFilter.Categories)
}

func TestRetrieve_Errors(t *testing.T) {
	boom := errors.New("disk gone")
	r := New(&fakeStore{err: boom}, lenEmbedder{}, 5)

	_, err := r.Retrieve(context.Background(), "p", "device", 5, nil)
	assert.ErrorIs(t, err, boom)

	_, err = r.Retrieve(context.Background(), "p", "   ", 5, nil)
	assert.Error(t, err)

	assert.Equal(t, Stats{}, r.Stats("p"))
	tr := r.TestRetrieval(context.Background(), "p", "")
	assert.False(t, tr.Success)
	assert.Contains(t, tr.Error, "disk gone")
}

func TestRetrieveMultiQuery_DedupesInIssueOrder(t *testing.T) {
	store := &fakeStore{byQueryLen: map[int][]models.RetrievedChunk{
		3: {chunk("a_0", "a", "", 0.5), chunk("b_0", "b", "", 0.6)},
		5: {chunk("b_0", "b", "", 0.1), chunk("c_0", "c", "", 0.2)},
	}}
	r := New(store, lenEmbedder{}, 10)

	res, err := r.RetrieveMultiQuery(context.Background(), "p", []string{"abc", "abcde"}, 0)
	require.NoError(t, err)
	var ids []string
	for _, ch := range res {
		ids = append(ids, ch.ID)
	}
	assert.Equal(t, []string{"a_0", "b_0", "c_0"}, ids)
	assert.Equal(t, 0.6, res[1].Distance, "first occurrence wins")
	assert.Equal(t, DefaultPerQuery, store.lastK)
}

func TestRetrieveWithReranking_TermMatchOutranksCloserVector(t *testing.T) {
	var stored []models.RetrievedChunk
	stored = append(stored, chunk("close", "f1", "unrelated packaging drawing", 0.1))
	for i := 0; i < 23; i++ {
		stored = append(stored, chunk(fmt.Sprintf("filler_%d", i), "f2", "generic filler text", 0.3+float64(i)*0.01))
	}
	stored = append(stored, chunk("exact", "f3", "The Sterilization Validation protocol", 0.4))
	require.Len(t, stored, 25)

	store := &fakeStore{results: stored}
	r := New(store, lenEmbedder{}, 10)

	res, err := r.RetrieveWithReranking(context.Background(), "p", "sterilization validation", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultInitialK, store.lastK)
	require.Len(t, res, 10)
	assert.Equal(t, "close", res[0].ID)
	assert.Equal(t, "filler_0", res[1].ID)

	// The exact-term chunk is outside the initial 20 here, so put it inside.
	stored[19], stored[24] = stored[24], stored[19]
	res, err = r.RetrieveWithReranking(context.Background(), "p", "sterilization validation", 20, 10)
	require.NoError(t, err)
	require.Len(t, res, 10)
	assert.Equal(t, "exact", res[0].ID)
	assert.Equal(t, "close", res[1].ID)
}

func TestRetrieveWithReranking_SkipsWhenFewCandidates(t *testing.T) {
	stored := []models.RetrievedChunk{
		chunk("close", "f1", "nothing", 0.1),
		chunk("exact", "f3", "sterilization validation", 0.4),
	}
	r := New(&fakeStore{results: stored}, lenEmbedder{}, 10)

	res, err := r.RetrieveWithReranking(context.Background(), "p", "sterilization validation", 20, 5)
	require.NoError(t, err)
	assert.Equal(t, stored, res)
}

func TestRerankScore(t *testing.T) {
	q := termSet("sterilization validation")
	assert.InDelta(t, 0.72, RerankScore(q, chunk("x", "f", "sterilization VALIDATION done", 0.4)), 1e-9)
	assert.InDelta(t, 0.63, RerankScore(q, chunk("y", "f", "no overlap", 0.1)), 1e-9)
	assert.InDelta(t, 0.15+0.35, RerankScore(q, chunk("z", "f", "validation", 0.5)), 1e-9)
	assert.InDelta(t, 0.7, RerankScore(map[string]struct{}{}, chunk("e", "f", "x", 0)), 1e-9)
}

func TestRetrieveForSection_GroupsByFile(t *testing.T) {
	store := &fakeStore{results: []models.RetrievedChunk{
		chunk("b_0", "b", "", 0.1),
		chunk("a_0", "a", "", 0.2),
		chunk("b_1", "b", "", 0.3),
		{ID: "orphan", Distance: 0.4},
	}}
	r := New(store, lenEmbedder{}, 10)

	sc, err := r.RetrieveForSection(context.Background(), "p", "Risk-Benefit Analysis", "query", []string{"risk_management"}, 10)
	require.NoError(t, err)
	assert.Equal(t, "Risk-Benefit Analysis", sc.Section)
	assert.Equal(t, 4, sc.TotalChunks)
	assert.Equal(t, []string{"b", "a", "unknown"}, sc.SourceFiles)
	assert.Len(t, sc.ByFile["b"], 2)
	assert.Equal(t, []string{"risk_management"}, store.lastFilter.Categories)
}

func TestBuildContextString(t *testing.T) {
	chunks := []models.RetrievedChunk{
		chunk("a_0", "a", "first", 0.1),
		{ID: "x", Text: "second"},
	}

	got := BuildContextString(chunks, 1000, true)
	assert.Equal(t, "[Source 1: a.pdf (sterilization)]\nfirst\n\n[Source 2: Unknown (unknown)]\nsecond\n\n", got)

	got = BuildContextString(chunks, 1000, false)
	assert.Equal(t, "first\n\nsecond\n\n", got)

	got = BuildContextString(chunks, 14, false)
	assert.Equal(t, "first\n\n", got, "stops before the chunk that would overflow")
}

func TestBuildContextString_NeverExceedsBudget(t *testing.T) {
	long := chunk("big", "a", strings.Repeat("x", 150), 0.1)
	assert.Empty(t, BuildContextString([]models.RetrievedChunk{long}, 100, true))

	var chunks []models.RetrievedChunk
	for i := 0; i < 30; i++ {
		chunks = append(chunks, chunk(fmt.Sprintf("c_%d", i), "a", strings.Repeat("é", i+1), 0.1))
	}
	for _, budget := range []int{0, 1, 50, 100, 333} {
		got := BuildContextString(chunks, budget, true)
		assert.LessOrEqual(t, utf8.RuneCountInString(got), budget)
	}
}

func TestRetriever_WithIndex(t *testing.T) {
	ctx := context.Background()
	emb := embedding.NewHashEmbedder(64)
	ix := chromemdb.NewInMemory(chromemdb.WithDimension(64))

	texts := map[string]string{
		"f1_0": "ethylene oxide sterilization validation per ISO 11135",
		"f2_0": "clinical investigation of the catheter in 120 patients",
		"f3_0": "biocompatibility cytotoxicity testing per ISO 10993",
	}
	var records []models.VectorRecord
	for id, text := range texts {
		vec, err := emb.Embed(ctx, text)
		require.NoError(t, err)
		records = append(records, models.VectorRecord{
			ID:        id,
			Text:      text,
			Metadata:  models.ChunkMetadata{FileID: strings.Split(id, "_")[0], Category: "other"}.ToMap(),
			Embedding: vec,
		})
	}
	require.NoError(t, ix.Add(ctx, "p", records))

	r := New(ix, emb, 10)
	for i := 0; i < 3; i++ {
		res, err := r.Retrieve(ctx, "p", "sterilization validation", 3, nil)
		require.NoError(t, err)
		require.Len(t, res, 3)
		assert.Equal(t, "f1_0", res[0].ID)
		for j := 1; j < len(res); j++ {
			assert.LessOrEqual(t, res[j-1].Distance, res[j].Distance)
		}
	}

	assert.Equal(t, Stats{TotalChunks: 3, CollectionExists: true}, r.Stats("p"))
	tr := r.TestRetrieval(ctx, "p", "catheter")
	assert.True(t, tr.Success)
	assert.Equal(t, 3, tr.ResultsCount)
	assert.Len(t, tr.SampleResults, 2)
}
