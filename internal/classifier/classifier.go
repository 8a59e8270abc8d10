// Package classifier assigns documents to one category of the regulatory
// taxonomy, by keyword scoring or with the help of a language model.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"mdr-docgen/internal/helper"
	"mdr-docgen/internal/llmservice"
	"mdr-docgen/internal/models"
)

const (
	keywordCap        = 5
	filenameBonus     = 3
	minConfidence     = 0.3
	fallbackScore     = 0.5
	excerptLength     = 1500
	classifyTemp      = 0.1
	classifyMaxTokens = 200

	// TemplatePath is relative to the prompts directory.
	TemplatePath = "classification/classify_document.txt"
)

// Result is the outcome of one classification.
type Result struct {
	Filename   string          `json:"filename,omitempty"`
	Category   models.Category `json:"category"`
	Confidence float64         `json:"confidence"`
	Reasoning  string          `json:"reasoning"`
	Method     string          `json:"method"`
}

// Suggestion is one ranked alternative category.
type Suggestion struct {
	Category models.Category `json:"category"`
	Score    int             `json:"score"`
}

// Document is one (text, filename) pair for BatchClassify.
type Document struct {
	Text     string
	Filename string
}

// Classifier is safe for concurrent use.
type Classifier struct {
	llm        llmservice.TextGenerator
	promptsDir string
}

// New creates a classifier. gen may be nil or a NoopGenerator, in which case
// LLM classification always falls back to keywords.
func New(gen llmservice.TextGenerator, promptsDir string) *Classifier {
	if gen == nil {
		gen = llmservice.NoopGenerator{}
	}
	return &Classifier{llm: gen, promptsDir: promptsDir}
}

// Classify picks the LLM method when useLLM is set, otherwise keywords.
func (c *Classifier) Classify(ctx context.Context, text, filename string, useLLM bool) Result {
	if useLLM {
		return c.ClassifyLLM(ctx, text, filename)
	}
	return c.ClassifyKeywords(text, filename)
}

// scores returns the keyword score per category, in taxonomy order.
func scores(text, filename string) []int {
	lowerName := strings.ToLower(filename)
	out := make([]int, len(models.Taxonomy))
	for i, info := range models.Taxonomy {
		score := 0
		for _, n := range helper.CountOccurrences(text, info.Keywords) {
			score += min(n, keywordCap)
		}
		for _, kw := range info.Keywords {
			if strings.Contains(lowerName, strings.ToLower(kw)) {
				score += filenameBonus
			}
		}
		out[i] = score
	}
	return out
}

// ClassifyKeywords scores each category by capped keyword counts plus a
// bonus per keyword found in the filename.
func (c *Classifier) ClassifyKeywords(text, filename string) Result {
	if text == "" {
		return Result{Category: models.CategoryOther, Confidence: 0, Reasoning: "No text content", Method: "keyword"}
	}

	s := scores(text, filename)
	best, total := 0, 0
	for i, v := range s {
		total += v
		if v > s[best] {
			best = i
		}
	}
	if s[best] == 0 {
		return Result{
			Category:   models.CategoryOther,
			Confidence: fallbackScore,
			Reasoning:  "No strong keyword matches found",
			Method:     "keyword",
		}
	}

	category := models.Taxonomy[best].Name
	confidence := float64(s[best]) / float64(total)
	if confidence < minConfidence {
		category = models.CategoryOther
		confidence = fallbackScore
	}
	return Result{
		Category:   category,
		Confidence: math.Round(confidence*100) / 100,
		Reasoning:  fmt.Sprintf("Keyword analysis suggests %s (score: %d)", category, s[best]),
		Method:     "keyword",
	}
}

// ClassifyLLM asks the model for a JSON verdict. Any failure to obtain or
// parse one falls back to keyword scoring.
func (c *Classifier) ClassifyLLM(ctx context.Context, text, filename string) Result {
	prompt := c.buildPrompt(filename, helper.CreateExcerpt(text, excerptLength))
	res := llmservice.Try(ctx, c.llm, prompt, llmservice.GenerateOptions{
		Temperature: classifyTemp,
		MaxTokens:   classifyMaxTokens,
	})
	if !res.OK() {
		if !res.Disabled() {
			log.Warn().Err(res.Err).Str("filename", filename).Msg("LLM classification failed, using keywords")
		}
		return c.ClassifyKeywords(text, filename)
	}

	parsed, err := ParseResponse(res.Text)
	if err != nil {
		log.Warn().Err(err).Str("filename", filename).Msg("Unparsable classification response, using keywords")
		return c.ClassifyKeywords(text, filename)
	}
	return parsed
}

func (c *Classifier) buildPrompt(filename, excerpt string) string {
	if c.promptsDir != "" {
		b, err := os.ReadFile(filepath.Join(c.promptsDir, TemplatePath))
		if err == nil {
			return strings.NewReplacer(
				models.PlaceholderFilename, filename,
				models.PlaceholderContent, excerpt,
				"{{", "{",
				"}}", "}",
			).Replace(string(b))
		}
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Msg("Could not read classification template, using built-in prompt")
		}
	}

	lines := make([]string, len(models.Taxonomy))
	for i, info := range models.Taxonomy {
		lines[i] = fmt.Sprintf("- %s: %s", info.Name, info.Description)
	}
	return fmt.Sprintf(models.ClassificationPromptTemplate, strings.Join(lines, "\n"), filename, excerpt)
}

type llmVerdict struct {
	Category   string   `json:"category"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

// ParseResponse decodes the span from the first '{' to the last '}'.
// Unknown categories become "other"; confidence is clamped to [0, 1] and
// defaults to 0.5.
func ParseResponse(raw string) (Result, error) {
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Result{}, errors.New("no JSON object found in response")
	}

	var v llmVerdict
	if err := json.Unmarshal([]byte(raw[start:end+1]), &v); err != nil {
		return Result{}, fmt.Errorf("decode classification: %w", err)
	}

	category := models.Category(v.Category)
	if !models.IsValidCategory(v.Category) {
		category = models.CategoryOther
	}
	confidence := fallbackScore
	if v.Confidence != nil {
		confidence = max(0, min(1, *v.Confidence))
	}
	return Result{
		Category:   category,
		Confidence: confidence,
		Reasoning:  v.Reasoning,
		Method:     "llm",
	}, nil
}

// SuggestCategories ranks every category with a positive keyword score.
// Equal scores keep taxonomy order.
func (c *Classifier) SuggestCategories(text, filename string) []Suggestion {
	var out []Suggestion
	for i, v := range scores(text, filename) {
		if v > 0 {
			out = append(out, Suggestion{Category: models.Taxonomy[i].Name, Score: v})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// BatchClassify classifies each document independently.
func (c *Classifier) BatchClassify(ctx context.Context, docs []Document, useLLM bool) []Result {
	out := make([]Result, len(docs))
	for i, d := range docs {
		r := c.Classify(ctx, d.Text, d.Filename, useLLM)
		r.Filename = d.Filename
		out[i] = r
	}
	return out
}

// ValidateCategory reports whether name is in the taxonomy.
func ValidateCategory(name string) bool {
	return models.IsValidCategory(name)
}

// CategoryInfo returns the taxonomy entry for name.
func CategoryInfo(name string) (models.CategoryInfo, bool) {
	return models.LookupCategory(name)
}

// Categories returns a copy of the taxonomy.
func Categories() []models.CategoryInfo {
	return append([]models.CategoryInfo(nil), models.Taxonomy...)
}
