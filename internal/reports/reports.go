package reports

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"mdr-docgen/internal/generator"
	"mdr-docgen/internal/models"
)

// SectionGenerator drafts one section. *generator.Generator satisfies it.
type SectionGenerator interface {
	GenerateSection(ctx context.Context, req generator.Request) models.SectionResult
}

// ProgressFunc is called before each section with its 1-based position.
type ProgressFunc func(current, total int)

// Report is the generated content of one deliverable.
type Report struct {
	ProjectID   string                 `json:"project_id"`
	ReportType  models.ReportType      `json:"report_type"`
	Title       string                 `json:"title"`
	Sections    []models.SectionResult `json:"sections"`
	GeneratedAt time.Time              `json:"generated_at"`
}

// GenerateAllSections runs the plan of reportType in order. Sections are
// independent: a failed section is recorded and the next one still runs.
// The only error is an unknown report type.
func GenerateAllSections(ctx context.Context, gen SectionGenerator, projectID string, reportType models.ReportType, device models.DeviceInfo, progress ProgressFunc) ([]models.SectionResult, error) {
	plan, err := Sections(reportType)
	if err != nil {
		return nil, err
	}

	results := make([]models.SectionResult, 0, len(plan))
	for i, section := range plan {
		if progress != nil {
			progress(i+1, len(plan))
		}
		res := gen.GenerateSection(ctx, generator.Request{
			ProjectID:  projectID,
			ReportType: reportType,
			Section:    section,
			Device:     device,
		})
		if !res.Success {
			log.Warn().Str("report_type", string(reportType)).Int("section", section.Number).Str("error", res.Error).Msg("Section failed")
		}
		results = append(results, res)
	}
	return results, nil
}

// Generate builds a whole Report.
func Generate(ctx context.Context, gen SectionGenerator, projectID string, reportType models.ReportType, device models.DeviceInfo, progress ProgressFunc) (*Report, error) {
	sections, err := GenerateAllSections(ctx, gen, projectID, reportType, device, progress)
	if err != nil {
		return nil, err
	}
	r := &Report{
		ProjectID:   projectID,
		ReportType:  reportType,
		Title:       models.ReportTypeNames[reportType],
		Sections:    sections,
		GeneratedAt: time.Now().UTC(),
	}
	log.Info().Str("report_type", string(reportType)).Int("sections", len(sections)).Int("failed", len(r.Failed())).Msg("Report generated")
	return r, nil
}

// Failed returns the sections that did not generate.
func (r *Report) Failed() []models.SectionResult {
	var out []models.SectionResult
	for _, s := range r.Sections {
		if !s.Success {
			out = append(out, s)
		}
	}
	return out
}

// Sources lists every distinct source file id across sections, in order.
func (r *Report) Sources() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range r.Sections {
		for _, id := range s.Sources {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// Markdown renders the report as a plain markdown draft. Failed sections
// keep their heading and show the error.
func (r *Report) Markdown() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s (%s)\n\n", r.Title, r.ReportType)
	for _, s := range r.Sections {
		fmt.Fprintf(&sb, "## %d. %s\n\n", s.SectionNumber, s.SectionTitle)
		if !s.Success {
			fmt.Fprintf(&sb, "> Generation failed: %s\n\n", s.Error)
			continue
		}
		sb.WriteString(strings.TrimSpace(s.Content))
		sb.WriteString("\n\n")
		if len(s.Sources) > 0 {
			fmt.Fprintf(&sb, "_Sources: %s_\n\n", strings.Join(s.Sources, ", "))
		}
	}
	return sb.String()
}
