package chromemdb

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdr-docgen/internal/models"
)

func record(id, fileID, category string, vec ...float32) models.VectorRecord {
	return models.VectorRecord{
		ID:        id,
		Text:      "text of " + id,
		Metadata:  models.ChunkMetadata{FileID: fileID, Filename: fileID + ".pdf", Category: category}.ToMap(),
		Embedding: vec,
	}
}

func seed(t *testing.T, ix *Index, project string) {
	t.Helper()
	err := ix.Add(context.Background(), project, []models.VectorRecord{
		record("a_0", "a", "risk_management", 1, 0, 0),
		record("a_1", "a", "risk_management", 0.9, 0.1, 0),
		record("b_0", "b", "clinical_study", 0.5, 0.5, 0),
		record("c_0", "c", "literature", 0, 1, 0),
		record("c_1", "c", "literature", 0, 0, 1),
	})
	require.NoError(t, err)
}

func TestIndex_QueryOrdering(t *testing.T) {
	ix := NewInMemory(WithDimension(3))
	seed(t, ix, "p1")

	res, err := ix.Query(context.Background(), "p1", []float32{1, 0, 0}, 10, Filter{})
	require.NoError(t, err)
	require.Len(t, res, 5)
	assert.Equal(t, "a_0", res[0].ID)
	assert.InDelta(t, 0, res[0].Distance, 1e-6)
	for i := 1; i < len(res); i++ {
		assert.LessOrEqual(t, res[i-1].Distance, res[i].Distance)
	}
	assert.Equal(t, "a", res[0].Metadata.FileID)
	assert.Equal(t, "risk_management", res[0].Metadata.Category)
	assert.Equal(t, "text of a_0", res[0].Text)
}

func TestIndex_QueryFilters(t *testing.T) {
	ix := NewInMemory(WithDimension(3))
	seed(t, ix, "p1")
	ctx := context.Background()
	q := []float32{1, 0, 0}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"single category", Filter{Categories: []string{"literature"}}, []string{"c_0", "c_1"}},
		{"category set", Filter{Categories: []string{"literature", "clinical_study"}}, []string{"b_0", "c_0", "c_1"}},
		{"file", Filter{FileID: "a"}, []string{"a_0", "a_1"}},
		{"file and category", Filter{FileID: "a", Categories: []string{"literature"}}, nil},
		{"unknown category", Filter{Categories: []string{"software"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ix.Query(ctx, "p1", q, 10, tt.filter)
			require.NoError(t, err)
			var ids []string
			for _, r := range res {
				ids = append(ids, r.ID)
			}
			assert.ElementsMatch(t, tt.want, ids)
			for i := 1; i < len(res); i++ {
				assert.LessOrEqual(t, res[i-1].Distance, res[i].Distance)
			}
		})
	}

	res, err := ix.Query(ctx, "p1", q, 2, Filter{Categories: []string{"literature", "risk_management"}})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "a_0", res[0].ID)
	assert.Equal(t, "a_1", res[1].ID)
}

func TestIndex_EmptyAndSmallCollections(t *testing.T) {
	ix := NewInMemory()
	ctx := context.Background()

	res, err := ix.Query(ctx, "empty", []float32{1, 0}, 5, Filter{})
	require.NoError(t, err)
	assert.Empty(t, res)

	require.NoError(t, ix.Add(ctx, "small", []models.VectorRecord{record("x_0", "x", "other", 1, 0)}))
	res, err = ix.Query(ctx, "small", []float32{1, 0}, 5, Filter{})
	require.NoError(t, err)
	assert.Len(t, res, 1)

	res, err = ix.Query(ctx, "small", []float32{1, 0}, 0, Filter{})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestIndex_AddValidation(t *testing.T) {
	ctx := context.Background()
	nan := float32(math.NaN())

	tests := []struct {
		name    string
		records []models.VectorRecord
		wantErr error
	}{
		{"missing id", []models.VectorRecord{record("", "a", "other", 1, 0, 0)}, ErrInvalidRecord},
		{"duplicate id", []models.VectorRecord{record("a_0", "a", "other", 1, 0, 0), record("a_0", "a", "other", 0, 1, 0)}, ErrInvalidRecord},
		{"wrong dimension", []models.VectorRecord{record("a_0", "a", "other", 1, 0)}, ErrDimensionMismatch},
		{"nan", []models.VectorRecord{record("a_0", "a", "other", nan, 0, 0)}, ErrInvalidRecord},
		{"zero vector", []models.VectorRecord{record("a_0", "a", "other", 0, 0, 0)}, ErrInvalidRecord},
		{"no text or vector", []models.VectorRecord{{ID: "a_0"}}, ErrInvalidRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ix := NewInMemory(WithDimension(3))
			err := ix.Add(ctx, "p", tt.records)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			n, err := ix.Count("p")
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestIndex_LearnsDimensionPerProject(t *testing.T) {
	ix := NewInMemory()
	ctx := context.Background()

	require.NoError(t, ix.Add(ctx, "p", []models.VectorRecord{record("a_0", "a", "other", 1, 0, 0)}))
	err := ix.Add(ctx, "p", []models.VectorRecord{record("b_0", "b", "other", 1, 0)})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = ix.Query(ctx, "p", []float32{1, 0}, 1, Filter{})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	require.NoError(t, ix.Add(ctx, "other", []models.VectorRecord{record("b_0", "b", "other", 1, 0)}))
}

func TestIndex_UpsertGetUpdateDelete(t *testing.T) {
	ix := NewInMemory(WithDimension(3))
	ctx := context.Background()
	seed(t, ix, "p")

	require.NoError(t, ix.Add(ctx, "p", []models.VectorRecord{record("a_0", "a", "quality", 0, 1, 0)}))
	n, err := ix.Count("p")
	require.NoError(t, err)
	assert.Equal(t, 5, n, "re-adding an id overwrites it")

	rec, ok, err := ix.Get(ctx, "p", "a_0")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "quality", rec.Metadata[models.MetaCategory])

	_, ok, err = ix.Get(ctx, "p", "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	text := "revised text"
	require.NoError(t, ix.Update(ctx, "p", "a_0", RecordUpdate{Text: &text}))
	rec, _, _ = ix.Get(ctx, "p", "a_0")
	assert.Equal(t, "revised text", rec.Text)
	assert.Equal(t, "quality", rec.Metadata[models.MetaCategory])

	require.NoError(t, ix.Update(ctx, "p", "a_0", RecordUpdate{Metadata: map[string]string{models.MetaCategory: "labeling"}}))
	res, err := ix.Query(ctx, "p", []float32{0, 1, 0}, 5, Filter{Categories: []string{"labeling"}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "a_0", res[0].ID)

	assert.Error(t, ix.Update(ctx, "p", "missing", RecordUpdate{Text: &text}))

	require.NoError(t, ix.Delete(ctx, "p", "a_0", "does-not-exist"))
	require.NoError(t, ix.Delete(ctx, "p"))
	n, _ = ix.Count("p")
	assert.Equal(t, 4, n)

	require.NoError(t, ix.DeleteFile(ctx, "p", "c"))
	n, _ = ix.Count("p")
	assert.Equal(t, 2, n)
}

func TestIndex_Projects(t *testing.T) {
	ix := NewInMemory(WithDimension(3))
	seed(t, ix, "p2")
	seed(t, ix, "p1")

	assert.Equal(t, []string{"p1", "p2"}, ix.ListProjects())
	assert.True(t, ix.Exists("p1"))
	assert.False(t, ix.Exists("p3"))

	require.NoError(t, ix.DeleteProject("p1"))
	assert.False(t, ix.Exists("p1"))
	n, err := ix.Count("p2")
	require.NoError(t, err)
	assert.Equal(t, 5, n, "projects are isolated")

	require.NoError(t, ix.DeleteProject("never-existed"))
	require.NoError(t, ix.Reset())
	assert.Empty(t, ix.ListProjects())
}

func TestIndex_PersistentLockAndReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "chromem_db")
	ctx := context.Background()

	ix, err := Open(dir, WithDimension(3))
	require.NoError(t, err)
	seed(t, ix, "p")

	_, err = Open(dir)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, ix.Close())

	reopened, err := Open(dir, WithDimension(3))
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.Count("p")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	res, err := reopened.Query(ctx, "p", []float32{0, 0, 1}, 1, Filter{})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "c_1", res[0].ID)
}

func TestIndex_ExportImport(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "p.gob.enc")
	key := "0123456789abcdef0123456789abcdef"

	src := NewInMemory(WithDimension(3))
	seed(t, src, "p")
	require.NoError(t, src.Export("p", path, key))
	assert.Error(t, src.Export("missing", path, key))

	dst := NewInMemory(WithDimension(3))
	require.NoError(t, dst.Import("p", path, key))
	n, err := dst.Count("p")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	res, err := dst.Query(ctx, "p", []float32{1, 0, 0}, 1, Filter{})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "a_0", res[0].ID)

	assert.Error(t, NewInMemory().Import("p", path, "wrong-length-key"))
}
