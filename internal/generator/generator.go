// Package generator drafts one report section at a time from retrieved
// context, device metadata and a prompt template.
package generator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"mdr-docgen/internal/llmservice"
	"mdr-docgen/internal/models"
	"mdr-docgen/internal/rag"
)

const (
	DefaultMaxChunks     = 10
	DefaultContextLength = 5000
	DefaultTemperature   = 0.3
	DefaultMaxTokens     = 2000

	minContentLength = 100
)

var placeholderMarkers = []string{"TODO", "TBD", "XXX", "PLACEHOLDER"}

// Retriever is the retrieval capability sections need.
type Retriever interface {
	Retrieve(ctx context.Context, projectID, query string, n int, categories []string) ([]models.RetrievedChunk, error)
}

// Request names one section of one report for one project.
type Request struct {
	ProjectID  string
	ReportType models.ReportType
	Section    models.SectionPlanEntry
	Device     models.DeviceInfo
}

// Generator is stateless between calls.
type Generator struct {
	llm           llmservice.TextGenerator
	retriever     Retriever
	promptsDir    string
	contextLength int
	temperature   float64
	maxTokens     int
}

type Option func(*Generator)

// WithContextLength caps the context block, in characters.
func WithContextLength(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.contextLength = n
		}
	}
}

// WithSampling overrides temperature and max tokens.
func WithSampling(temperature float64, maxTokens int) Option {
	return func(g *Generator) {
		g.temperature = temperature
		if maxTokens > 0 {
			g.maxTokens = maxTokens
		}
	}
}

func New(llm llmservice.TextGenerator, retriever Retriever, promptsDir string, opts ...Option) *Generator {
	if llm == nil {
		llm = llmservice.NoopGenerator{}
	}
	g := &Generator{
		llm:           llm,
		retriever:     retriever,
		promptsDir:    promptsDir,
		contextLength: DefaultContextLength,
		temperature:   DefaultTemperature,
		maxTokens:     DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type prepared struct {
	prompt string
	chunks []models.RetrievedChunk
}

// prepare runs every step up to the model call.
func (g *Generator) prepare(ctx context.Context, req Request) (prepared, error) {
	template := g.LoadTemplate(req.ReportType, req.Section.PromptFile)

	maxChunks := req.Section.MaxChunks
	if maxChunks <= 0 {
		maxChunks = DefaultMaxChunks
	}
	chunks, err := g.retriever.Retrieve(ctx, req.ProjectID, Query(req.Section.Title, req.Device), maxChunks, req.Section.CategoryNames())
	if err != nil {
		return prepared{}, fmt.Errorf("retrieve context: %w", err)
	}

	prompt := FillTemplate(template, FormatDeviceInfo(req.Device), rag.BuildContextString(chunks, g.contextLength, true))
	return prepared{prompt: prompt, chunks: chunks}, nil
}

func (g *Generator) options() llmservice.GenerateOptions {
	return llmservice.GenerateOptions{Temperature: g.temperature, MaxTokens: g.maxTokens}
}

// GenerateSection never returns an error; failures are reported in the result.
func (g *Generator) GenerateSection(ctx context.Context, req Request) models.SectionResult {
	p, err := g.prepare(ctx, req)
	if err != nil {
		return failed(req, err)
	}

	log.Info().
		Str("report_type", string(req.ReportType)).
		Int("section", req.Section.Number).
		Str("title", req.Section.Title).
		Int("chunks", len(p.chunks)).
		Msg("Generating section")

	content, err := g.llm.Generate(ctx, p.prompt, g.options())
	if err != nil {
		return failed(req, err)
	}
	return succeeded(req, content, p.chunks)
}

// GenerateSectionStream behaves like GenerateSection but forwards each
// fragment to onChunk as it arrives. On failure an inline error fragment is
// emitted and the error is returned alongside the failed result.
func (g *Generator) GenerateSectionStream(ctx context.Context, req Request, onChunk func(string) error) (models.SectionResult, error) {
	if onChunk == nil {
		onChunk = func(string) error { return nil }
	}

	p, err := g.prepare(ctx, req)
	if err == nil {
		var content string
		content, err = g.llm.GenerateStream(ctx, p.prompt, g.options(), onChunk)
		if err == nil {
			return succeeded(req, content, p.chunks), nil
		}
	}

	_ = onChunk(fmt.Sprintf("\n\n[Error generating section: %v]\n\n", err))
	return failed(req, err), err
}

func failed(req Request, err error) models.SectionResult {
	log.Error().Err(err).Str("title", req.Section.Title).Msg("Error generating section")
	return models.SectionResult{
		Success:       false,
		Error:         err.Error(),
		SectionNumber: req.Section.Number,
		SectionTitle:  req.Section.Title,
	}
}

func succeeded(req Request, content string, chunks []models.RetrievedChunk) models.SectionResult {
	v := ValidateContent(content)
	return models.SectionResult{
		Success:       true,
		Content:       content,
		SectionNumber: req.Section.Number,
		SectionTitle:  req.Section.Title,
		Sources:       SourceFiles(chunks),
		ChunksUsed:    len(chunks),
		Validation:    &v,
	}
}

// LoadTemplate reads {promptsDir}/{report type in lower case}/{file}. A
// missing or unreadable file yields the built-in template.
func (g *Generator) LoadTemplate(reportType models.ReportType, file string) string {
	if g.promptsDir != "" && file != "" {
		path := filepath.Join(g.promptsDir, strings.ToLower(string(reportType)), file)
		b, err := os.ReadFile(path)
		if err == nil {
			return string(b)
		}
		if errors.Is(err, os.ErrNotExist) {
			log.Warn().Str("path", path).Msg("Prompt file not found")
		} else {
			log.Warn().Err(err).Str("path", path).Msg("Could not read prompt file")
		}
	}
	return DefaultTemplate(reportType)
}

func DefaultTemplate(reportType models.ReportType) string {
	return fmt.Sprintf(models.DefaultSectionPromptTemplate, reportType)
}

// FillTemplate substitutes the placeholders verbatim. Doubled braces are
// unescaped so templates written for str.format style renderers still work.
func FillTemplate(template, deviceInfo, contextBlock string) string {
	return strings.NewReplacer(
		models.PlaceholderDeviceInfo, deviceInfo,
		models.PlaceholderContext, contextBlock,
		"{{", "{",
		"}}", "}",
	).Replace(template)
}

// Query is the retrieval query for a section: title, device name and
// intended purpose joined by spaces.
func Query(title string, device models.DeviceInfo) string {
	return title + " " + device.Get("device_name") + " " + device.Get("intended_purpose")
}

// FormatDeviceInfo renders non-empty fields as "- Human Key: value" lines.
func FormatDeviceInfo(device models.DeviceInfo) string {
	caser := cases.Title(language.English)
	var lines []string
	for _, key := range device.OrderedKeys() {
		value := device[key]
		if strings.TrimSpace(value) == "" {
			continue
		}
		label := caser.String(strings.ReplaceAll(key, "_", " "))
		lines = append(lines, fmt.Sprintf("- %s: %s", label, value))
	}
	if len(lines) == 0 {
		return models.NoDeviceInfo
	}
	return strings.Join(lines, "\n")
}

// SourceFiles lists the distinct non-empty file ids of chunks in first
// appearance order.
func SourceFiles(chunks []models.RetrievedChunk) []string {
	seen := make(map[string]struct{}, len(chunks))
	var out []string
	for _, ch := range chunks {
		id := ch.Metadata.FileID
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ValidateContent flags short output, error markers and placeholders. The
// findings are advisory.
func ValidateContent(content string) models.ContentValidation {
	v := models.ContentValidation{
		Valid:     true,
		Warnings:  []string{},
		WordCount: len(strings.Fields(content)),
		CharCount: utf8.RuneCountInString(content),
	}

	if v.CharCount < minContentLength {
		v.Valid = false
		v.Warnings = append(v.Warnings, fmt.Sprintf("Content too short (< %d characters)", minContentLength))
	}

	upper := strings.ToUpper(content)
	if strings.Contains(content, "[Error") || strings.Contains(upper, "ERROR") {
		v.Warnings = append(v.Warnings, "Content may contain error messages")
	}
	for _, marker := range placeholderMarkers {
		if strings.Contains(upper, marker) {
			v.Warnings = append(v.Warnings, "Content contains placeholder: "+marker)
		}
	}
	return v
}
