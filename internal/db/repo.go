package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"

	"mdr-docgen/internal/helper"
	"mdr-docgen/internal/models"
	"mdr-docgen/internal/reports"
)

func CreateProject(ctx context.Context, db bun.IDB, name string, device models.DeviceInfo) (*Project, error) {
	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	p := &Project{ID: id, Name: name, DeviceInfo: device}
	if _, err := db.NewInsert().Model(p).Exec(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// EnsureProject creates the project row with a caller-chosen id, or updates
// its device info when it already exists.
func EnsureProject(ctx context.Context, db bun.IDB, id string, device models.DeviceInfo) error {
	_, err := ensureProjectQuery(db, id, device).Exec(ctx)
	return err
}

func ensureProjectQuery(db bun.IDB, id string, device models.DeviceInfo) *bun.InsertQuery {
	q := db.NewInsert().Model(&Project{ID: id, Name: id, DeviceInfo: device})
	if len(device) == 0 {
		return q.On("CONFLICT (id) DO NOTHING")
	}
	return q.On("CONFLICT (id) DO UPDATE").Set("device_info = EXCLUDED.device_info")
}

func GetProject(ctx context.Context, db bun.IDB, id string) (*Project, error) {
	p := new(Project)
	err := db.NewSelect().Model(p).Where("p.id = ?", id).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func ListProjects(ctx context.Context, db bun.IDB) ([]Project, error) {
	var projects []Project
	err := db.NewSelect().Model(&projects).Order("p.created_at ASC").Scan(ctx)
	return projects, err
}

func UpdateDeviceInfo(ctx context.Context, db bun.IDB, id string, device models.DeviceInfo) error {
	_, err := db.NewUpdate().
		Model((*Project)(nil)).
		Set("device_info = ?", map[string]string(device)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// DeleteProject removes the project; files and reports cascade.
func DeleteProject(ctx context.Context, db bun.IDB, id string) error {
	_, err := db.NewDelete().Model((*Project)(nil)).Where("id = ?", id).Exec(ctx)
	return err
}

// SaveFile inserts the file or overwrites the row with the same id.
func SaveFile(ctx context.Context, db bun.IDB, f *File) error {
	f.UpdatedAt = time.Now().UTC()
	_, err := upsertFileQuery(db, f).Exec(ctx)
	return err
}

func upsertFileQuery(db bun.IDB, f *File) *bun.InsertQuery {
	return db.NewInsert().
		Model(f).
		On("CONFLICT (id) DO UPDATE").
		Set("filename = EXCLUDED.filename").
		Set("path = EXCLUDED.path").
		Set("file_type = EXCLUDED.file_type").
		Set("category = EXCLUDED.category").
		Set("confidence = EXCLUDED.confidence").
		Set("classification_method = EXCLUDED.classification_method").
		Set("chunk_count = EXCLUDED.chunk_count").
		Set("processed = EXCLUDED.processed").
		Set("processing_error = EXCLUDED.processing_error").
		Set("updated_at = EXCLUDED.updated_at")
}

func ListFiles(ctx context.Context, db bun.IDB, projectID string) ([]File, error) {
	var files []File
	err := db.NewSelect().
		Model(&files).
		Where("f.project_id = ?", projectID).
		Order("f.created_at ASC").
		Scan(ctx)
	return files, err
}

func DeleteFile(ctx context.Context, db bun.IDB, id string) error {
	_, err := db.NewDelete().Model((*File)(nil)).Where("id = ?", id).Exec(ctx)
	return err
}

// ReportRecord converts a generated report into its rows.
func ReportRecord(r *reports.Report) (*Report, error) {
	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	rec := &Report{
		ID:          id,
		ProjectID:   r.ProjectID,
		ReportType:  string(r.ReportType),
		Title:       r.Title,
		FailedCount: len(r.Failed()),
		CreatedAt:   r.GeneratedAt,
	}
	for _, s := range r.Sections {
		rec.Sections = append(rec.Sections, &ReportSection{
			ReportID:      id,
			SectionNumber: s.SectionNumber,
			SectionTitle:  s.SectionTitle,
			Content:       s.Content,
			Sources:       nonNilStrings(s.Sources),
			ChunksUsed:    s.ChunksUsed,
			Success:       s.Success,
			Error:         s.Error,
		})
	}
	return rec, nil
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// SaveReport stores the report and its sections in one transaction.
func SaveReport(ctx context.Context, db *bun.DB, r *reports.Report) (*Report, error) {
	rec, err := ReportRecord(r)
	if err != nil {
		return nil, err
	}
	err = db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(rec).Exec(ctx); err != nil {
			return err
		}
		if len(rec.Sections) == 0 {
			return nil
		}
		_, err := tx.NewInsert().Model(&rec.Sections).Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetReport loads a report with its sections in section order.
func GetReport(ctx context.Context, db bun.IDB, id string) (*Report, error) {
	r := new(Report)
	err := db.NewSelect().
		Model(r).
		Relation("Sections", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("rs.section_number ASC")
		}).
		Where("r.id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func ListReports(ctx context.Context, db bun.IDB, projectID string) ([]Report, error) {
	var out []Report
	err := db.NewSelect().
		Model(&out).
		Where("r.project_id = ?", projectID).
		Order("r.created_at DESC").
		Scan(ctx)
	return out, err
}

// Store adapts the package functions to the interfaces of the ingestion
// pipeline and the CLI.
type Store struct {
	DB *bun.DB
}

func (s Store) EnsureProject(ctx context.Context, id string, device models.DeviceInfo) error {
	return EnsureProject(ctx, s.DB, id, device)
}

func (s Store) SaveFile(ctx context.Context, f *File) error {
	return SaveFile(ctx, s.DB, f)
}

func (s Store) SaveReport(ctx context.Context, r *reports.Report) error {
	_, err := SaveReport(ctx, s.DB, r)
	return err
}
