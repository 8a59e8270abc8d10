package models

import (
	"fmt"
	"strconv"
)

// Metadata keys shared by chunks, vector records and retrieval filters.
const (
	MetaFileID     = "file_id"
	MetaFilename   = "filename"
	MetaCategory   = "category"
	MetaChunkIndex = "chunk_index"
)

// ChunkMetadata is the provenance attached to every chunk.
type ChunkMetadata struct {
	FileID     string `json:"file_id"`
	Filename   string `json:"filename"`
	Category   string `json:"category"`
	ChunkIndex int    `json:"chunk_index"`
}

// ToMap flattens the metadata into the string map stored by the vector index.
// Empty values are omitted so they never match a filter by accident.
func (m ChunkMetadata) ToMap() map[string]string {
	out := map[string]string{MetaChunkIndex: strconv.Itoa(m.ChunkIndex)}
	if m.FileID != "" {
		out[MetaFileID] = m.FileID
	}
	if m.Filename != "" {
		out[MetaFilename] = m.Filename
	}
	if m.Category != "" {
		out[MetaCategory] = m.Category
	}
	return out
}

// MetadataFromMap is the inverse of ToMap. Unknown keys are ignored.
func MetadataFromMap(m map[string]string) ChunkMetadata {
	md := ChunkMetadata{
		FileID:   m[MetaFileID],
		Filename: m[MetaFilename],
		Category: m[MetaCategory],
	}
	if v, ok := m[MetaChunkIndex]; ok {
		if i, err := strconv.Atoi(v); err == nil {
			md.ChunkIndex = i
		}
	}
	return md
}

// Chunk represents a contiguous span of a document's extracted text.
// Offset is the byte position of Text within the source document.
type Chunk struct {
	ID        string        `json:"id"`
	Text      string        `json:"text"`
	Index     int           `json:"chunk_index"`
	Offset    int           `json:"offset"`
	CharCount int           `json:"char_count"`
	WordCount int           `json:"word_count"`
	Metadata  ChunkMetadata `json:"metadata"`
	Embedding []float32     `json:"embedding,omitempty"`
}

// ChunkID derives the stable chunk id from the owning file and ordinal.
func ChunkID(fileID string, index int) string {
	if fileID == "" {
		fileID = "unknown"
	}
	return fmt.Sprintf("%s_%d", fileID, index)
}

// VectorRecord is what the vector index persists for one chunk.
type VectorRecord struct {
	ID        string
	Text      string
	Metadata  map[string]string
	Embedding []float32
}

// RecordFromChunk converts an embedded chunk into a vector record.
func RecordFromChunk(c Chunk) VectorRecord {
	id := c.ID
	if id == "" {
		id = ChunkID(c.Metadata.FileID, c.Index)
	}
	return VectorRecord{
		ID:        id,
		Text:      c.Text,
		Metadata:  c.Metadata.ToMap(),
		Embedding: c.Embedding,
	}
}

// RetrievedChunk is a single nearest-neighbour hit.
// Distance is 1 - cosine similarity; lower is more relevant.
type RetrievedChunk struct {
	ID       string        `json:"id"`
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
	Distance float64       `json:"distance"`
}
