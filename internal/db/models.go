package db

import (
	"time"

	"github.com/lib/pq"
	"github.com/uptrace/bun"
)

type Project struct {
	bun.BaseModel `bun:"table:projects,alias:p"`
	ID            string            `bun:"id,pk"`
	Name          string            `bun:"name,notnull"`
	DeviceInfo    map[string]string `bun:"device_info,type:jsonb"`
	CreatedAt     time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// File is an uploaded source document and the outcome of its ingestion.
type File struct {
	bun.BaseModel        `bun:"table:files,alias:f"`
	ID                   string    `bun:"id,pk"`
	ProjectID            string    `bun:"project_id,notnull"`
	Filename             string    `bun:"filename,notnull"`
	Path                 string    `bun:"path"`
	FileType             string    `bun:"file_type"`
	Category             string    `bun:"category"`
	Confidence           float64   `bun:"confidence"`
	ClassificationMethod string    `bun:"classification_method"`
	ChunkCount           int       `bun:"chunk_count,notnull,default:0"`
	Processed            bool      `bun:"processed,notnull,default:false"`
	ProcessingError      string    `bun:"processing_error"`
	CreatedAt            time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt            time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type Report struct {
	bun.BaseModel `bun:"table:reports,alias:r"`
	ID            string           `bun:"id,pk"`
	ProjectID     string           `bun:"project_id,notnull"`
	ReportType    string           `bun:"report_type,notnull"`
	Title         string           `bun:"title"`
	FailedCount   int              `bun:"failed_count,notnull,default:0"`
	Sections      []*ReportSection `bun:"rel:has-many,join:id=report_id"`
	CreatedAt     time.Time        `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// ReportSection stores one generated section. Sources holds file ids.
type ReportSection struct {
	bun.BaseModel `bun:"table:report_sections,alias:rs"`
	ID            int64          `bun:"id,pk,autoincrement"`
	ReportID      string         `bun:"report_id,notnull"`
	SectionNumber int            `bun:"section_number,notnull"`
	SectionTitle  string         `bun:"section_title,notnull"`
	Content       string         `bun:"content"`
	Sources       pq.StringArray `bun:"sources,type:text[]"`
	ChunksUsed    int            `bun:"chunks_used"`
	Success       bool           `bun:"success,notnull"`
	Error         string         `bun:"error"`
}
