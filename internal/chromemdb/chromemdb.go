package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"mdr-docgen/internal/models"
)

var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrInvalidRecord     = errors.New("invalid vector record")
	ErrLocked            = errors.New("vector index is in use by another process")
	errNoEmbeddingFunc   = errors.New("records must carry a precomputed embedding")
)

const collectionPrefix = "project_"

// CollectionName maps a project id to its collection.
func CollectionName(projectID string) string {
	return collectionPrefix + projectID
}

// Filter narrows a query. Empty fields do not filter.
type Filter struct {
	Categories []string
	FileID     string
}

// RecordUpdate is a partial update. Nil fields are left unchanged.
type RecordUpdate struct {
	Text      *string
	Embedding []float32
	Metadata  map[string]string
}

// Index stores chunk vectors in one chromem collection per project.
// It assumes a single writer; persistent indexes hold a file lock next to
// the database directory for their lifetime.
type Index struct {
	db       *chromem.DB
	dbPath   string
	compress bool
	embed    chromem.EmbeddingFunc
	dim      int
	lock     *flock.Flock

	mu          sync.Mutex
	collections map[string]*chromem.Collection
	dims        map[string]int
}

// Option configures an Index.
type Option func(*Index)

// WithDimension fixes the vector dimension for every project.
func WithDimension(dim int) Option {
	return func(ix *Index) { ix.dim = dim }
}

// WithCompression gzips persisted documents.
func WithCompression(compress bool) Option {
	return func(ix *Index) { ix.compress = compress }
}

// WithEmbeddingFunc lets chromem embed records and queries that arrive
// without a vector.
func WithEmbeddingFunc(f chromem.EmbeddingFunc) Option {
	return func(ix *Index) { ix.embed = f }
}

// Open opens or creates a persistent index at dbPath.
func Open(dbPath string, opts ...Option) (*Index, error) {
	lock := flock.New(strings.TrimRight(dbPath, "/") + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", lock.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, lock.Path())
	}

	ix := newIndex(opts...)
	ix.dbPath = dbPath
	ix.lock = lock
	ix.db, err = chromem.NewPersistentDB(dbPath, ix.compress)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("failed to open vector database: %w", err)
	}
	log.Info().Str("path", dbPath).Int("collections", len(ix.db.ListCollections())).Msg("Vector index opened")
	return ix, nil
}

// NewInMemory creates an index that is never persisted.
func NewInMemory(opts ...Option) *Index {
	ix := newIndex(opts...)
	ix.db = chromem.NewDB()
	return ix
}

func newIndex(opts ...Option) *Index {
	ix := &Index{
		embed: func(context.Context, string) ([]float32, error) {
			return nil, errNoEmbeddingFunc
		},
		collections: make(map[string]*chromem.Collection),
		dims:        make(map[string]int),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Close releases the process lock.
func (ix *Index) Close() error {
	if ix.lock == nil {
		return nil
	}
	return ix.lock.Unlock()
}

// collection returns the cached handle for a project, creating the
// collection on first access.
func (ix *Index) collection(projectID string) (*chromem.Collection, error) {
	if projectID == "" {
		return nil, errors.New("project id is required")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if c, ok := ix.collections[projectID]; ok {
		return c, nil
	}
	c, err := ix.db.GetOrCreateCollection(CollectionName(projectID), map[string]string{"project_id": projectID}, ix.embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	ix.collections[projectID] = c
	return c, nil
}

// Exists reports whether the project has a collection, without creating one.
func (ix *Index) Exists(projectID string) bool {
	return ix.db.GetCollection(CollectionName(projectID), ix.embed) != nil
}

func (ix *Index) dimension(projectID string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.dim > 0 {
		return ix.dim
	}
	return ix.dims[projectID]
}

func (ix *Index) rememberDimension(projectID string, dim int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.dim == 0 && ix.dims[projectID] == 0 {
		ix.dims[projectID] = dim
	}
}

// validate checks ids and vectors before anything touches the collection.
func (ix *Index) validate(projectID string, records []models.VectorRecord) error {
	want := ix.dimension(projectID)
	seen := make(map[string]struct{}, len(records))
	for i, r := range records {
		if r.ID == "" {
			return fmt.Errorf("%w: record %d has no id", ErrInvalidRecord, i)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%w: duplicate id %q in batch", ErrInvalidRecord, r.ID)
		}
		seen[r.ID] = struct{}{}

		if len(r.Embedding) == 0 {
			if r.Text == "" {
				return fmt.Errorf("%w: record %q has neither text nor embedding", ErrInvalidRecord, r.ID)
			}
			continue
		}
		if want == 0 {
			want = len(r.Embedding)
		}
		if len(r.Embedding) != want {
			return fmt.Errorf("%w: record %q has %d components, want %d", ErrDimensionMismatch, r.ID, len(r.Embedding), want)
		}
		if err := checkVector(r.Embedding); err != nil {
			return fmt.Errorf("%w: record %q %v", ErrInvalidRecord, r.ID, err)
		}
	}
	return nil
}

// Add upserts records into the project's collection. Re-adding an id
// overwrites the stored record. The batch is rejected as a whole if any
// record is invalid.
func (ix *Index) Add(ctx context.Context, projectID string, records []models.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := ix.validate(projectID, records); err != nil {
		return err
	}
	c, err := ix.collection(projectID)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Text,
			Metadata:  r.Metadata,
			Embedding: r.Embedding,
		}
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	if len(records[0].Embedding) > 0 {
		ix.rememberDimension(projectID, len(records[0].Embedding))
	}

	log.Debug().Str("project_id", projectID).Int("count", len(records)).Msg("Added vector records")
	return nil
}

// Query returns up to k records nearest to vec, ordered by ascending
// distance. An empty collection or an over-narrow filter yields no results.
// A category set is answered with one query per category, merged by distance.
func (ix *Index) Query(ctx context.Context, projectID string, vec []float32, k int, filter Filter) ([]models.RetrievedChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(vec) == 0 {
		return nil, errors.New("query embedding is empty")
	}
	if want := ix.dimension(projectID); want > 0 && len(vec) != want {
		return nil, fmt.Errorf("%w: query has %d components, want %d", ErrDimensionMismatch, len(vec), want)
	}
	if err := checkVector(vec); err != nil {
		return nil, fmt.Errorf("query embedding %v", err)
	}

	c, err := ix.collection(projectID)
	if err != nil {
		return nil, err
	}
	n := min(k, c.Count())
	if n == 0 {
		return nil, nil
	}

	base := map[string]string{}
	if filter.FileID != "" {
		base[models.MetaFileID] = filter.FileID
	}

	cats := dedupe(filter.Categories)
	if len(cats) == 0 {
		res, err := c.QueryEmbedding(ctx, vec, n, nilIfEmpty(base), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to query by similarity: %w", err)
		}
		return toRetrieved(res), nil
	}

	seen := make(map[string]struct{})
	var merged []models.RetrievedChunk
	for _, cat := range cats {
		where := make(map[string]string, len(base)+1)
		for key, v := range base {
			where[key] = v
		}
		where[models.MetaCategory] = cat

		res, err := c.QueryEmbedding(ctx, vec, n, where, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to query category %q: %w", cat, err)
		}
		for _, r := range toRetrieved(res) {
			if _, ok := seen[r.ID]; ok {
				continue
			}
			seen[r.ID] = struct{}{}
			merged = append(merged, r)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Distance < merged[j].Distance })
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

// Get returns a stored record. ok is false when the id is unknown.
func (ix *Index) Get(ctx context.Context, projectID, id string) (models.VectorRecord, bool, error) {
	c, err := ix.collection(projectID)
	if err != nil {
		return models.VectorRecord{}, false, err
	}
	if !hasDocument(ctx, c, id) {
		return models.VectorRecord{}, false, nil
	}
	doc, err := c.GetByID(ctx, id)
	if err != nil {
		return models.VectorRecord{}, false, fmt.Errorf("failed to get %q: %w", id, err)
	}
	return models.VectorRecord{
		ID:        doc.ID,
		Text:      doc.Content,
		Metadata:  doc.Metadata,
		Embedding: doc.Embedding,
	}, true, nil
}

// Update applies a partial update to one record.
func (ix *Index) Update(ctx context.Context, projectID, id string, upd RecordUpdate) error {
	rec, ok, err := ix.Get(ctx, projectID, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no record with id %q", ErrInvalidRecord, id)
	}

	if upd.Text != nil {
		rec.Text = *upd.Text
	}
	if upd.Embedding != nil {
		rec.Embedding = upd.Embedding
	}
	if upd.Metadata != nil {
		rec.Metadata = upd.Metadata
	}
	return ix.Add(ctx, projectID, []models.VectorRecord{rec})
}

// Delete removes records by id. Unknown ids are ignored.
func (ix *Index) Delete(ctx context.Context, projectID string, ids ...string) error {
	c, err := ix.collection(projectID)
	if err != nil {
		return err
	}

	var present []string
	for _, id := range ids {
		if hasDocument(ctx, c, id) {
			present = append(present, id)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := c.Delete(ctx, nil, nil, present...); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	log.Debug().Str("project_id", projectID).Int("count", len(present)).Msg("Deleted vector records")
	return nil
}

// DeleteFile removes every chunk of one source file.
func (ix *Index) DeleteFile(ctx context.Context, projectID, fileID string) error {
	if fileID == "" {
		return errors.New("file id is required")
	}
	c, err := ix.collection(projectID)
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, map[string]string{models.MetaFileID: fileID}, nil); err != nil {
		return fmt.Errorf("failed to delete chunks of file %s: %w", fileID, err)
	}
	return nil
}

// Count returns the number of records in the project.
func (ix *Index) Count(projectID string) (int, error) {
	c, err := ix.collection(projectID)
	if err != nil {
		return 0, err
	}
	return c.Count(), nil
}

// DeleteProject drops the project's collection irrecoverably.
func (ix *Index) DeleteProject(projectID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.db.DeleteCollection(CollectionName(projectID)); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	delete(ix.collections, projectID)
	delete(ix.dims, projectID)
	log.Info().Str("project_id", projectID).Msg("Deleted project collection")
	return nil
}

// ListProjects returns the ids of every project with a collection, sorted.
func (ix *Index) ListProjects() []string {
	var ids []string
	for name := range ix.db.ListCollections() {
		if id, ok := strings.CutPrefix(name, collectionPrefix); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Reset removes every collection.
func (ix *Index) Reset() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.db.Reset(); err != nil {
		return fmt.Errorf("failed to reset vector database: %w", err)
	}
	ix.collections = make(map[string]*chromem.Collection)
	ix.dims = make(map[string]int)
	log.Warn().Msg("Vector index reset")
	return nil
}

// Export writes the project's collection to path. A non-empty key must be
// 32 bytes and encrypts the snapshot with AES-GCM.
func (ix *Index) Export(projectID, path, key string) error {
	if !ix.Exists(projectID) {
		return fmt.Errorf("project %s has no collection", projectID)
	}
	log.Debug().Str("project_id", projectID).Str("path", path).Bool("encrypted", key != "").Msg("Exporting collection")
	if err := ix.db.ExportToFile(path, ix.compress, key, CollectionName(projectID)); err != nil {
		return fmt.Errorf("failed to export collection: %w", err)
	}
	return nil
}

// Import replaces the project's collection with the snapshot at path.
func (ix *Index) Import(projectID, path, key string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.db.ImportFromFile(path, key, CollectionName(projectID)); err != nil {
		return fmt.Errorf("failed to import collection: %w", err)
	}
	delete(ix.collections, projectID)
	delete(ix.dims, projectID)
	log.Info().Str("project_id", projectID).Str("path", path).Msg("Imported collection")
	return nil
}

// checkVector rejects vectors chromem cannot normalise.
func checkVector(vec []float32) error {
	var norm float64
	for _, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return errors.New("has a non-finite component")
		}
		norm += f * f
	}
	if norm == 0 {
		return errors.New("has zero norm")
	}
	return nil
}

func hasDocument(ctx context.Context, c *chromem.Collection, id string) bool {
	if id == "" {
		return false
	}
	_, err := c.GetByID(ctx, id)
	return err == nil
}

func toRetrieved(res []chromem.Result) []models.RetrievedChunk {
	out := make([]models.RetrievedChunk, 0, len(res))
	for _, r := range res {
		out = append(out, models.RetrievedChunk{
			ID:       r.ID,
			Text:     r.Content,
			Metadata: models.MetadataFromMap(r.Metadata),
			Distance: 1 - float64(r.Similarity),
		})
	}
	return out
}

func dedupe(values []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func nilIfEmpty(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return m
}
