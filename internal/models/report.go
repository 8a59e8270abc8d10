package models

import (
	"fmt"
	"sort"
	"strings"
)

// ReportType identifies one of the regulatory deliverables.
type ReportType string

const (
	ReportCEP  ReportType = "CEP"
	ReportCER  ReportType = "CER"
	ReportSSCP ReportType = "SSCP"
	ReportLSR  ReportType = "LSR"
)

// ReportTypeNames maps each report type to its long name.
var ReportTypeNames = map[ReportType]string{
	ReportCEP:  "Clinical Evaluation Plan",
	ReportCER:  "Clinical Evaluation Report",
	ReportSSCP: "Summary of Safety and Clinical Performance",
	ReportLSR:  "Literature Search Report",
}

// ParseReportType accepts any casing of the short report name.
func ParseReportType(s string) (ReportType, error) {
	rt := ReportType(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := ReportTypeNames[rt]; !ok {
		return "", fmt.Errorf("unknown report type: %q", s)
	}
	return rt, nil
}

// SectionPlanEntry is a static descriptor of one report section.
type SectionPlanEntry struct {
	Number     int
	Title      string
	PromptFile string
	Categories []Category
	MaxChunks  int
}

// CategoryNames returns the preferred categories as plain strings.
func (e SectionPlanEntry) CategoryNames() []string {
	out := make([]string, len(e.Categories))
	for i, c := range e.Categories {
		out[i] = string(c)
	}
	return out
}

// ContentValidation holds advisory findings about generated text.
type ContentValidation struct {
	Valid     bool     `json:"valid"`
	Warnings  []string `json:"warnings"`
	WordCount int      `json:"word_count"`
	CharCount int      `json:"char_count"`
}

// SectionResult is the outcome of one section generation attempt.
// Content and Sources are only populated when Success is true.
type SectionResult struct {
	Success       bool               `json:"success"`
	Content       string             `json:"content,omitempty"`
	Error         string             `json:"error,omitempty"`
	SectionNumber int                `json:"section_number"`
	SectionTitle  string             `json:"section_title"`
	Sources       []string           `json:"sources,omitempty"`
	ChunksUsed    int                `json:"chunks_used"`
	Validation    *ContentValidation `json:"validation,omitempty"`
}

// DeviceInfo maps an entity type (device_name, intended_purpose, ...) to its value.
type DeviceInfo map[string]string

// Get returns the value for key or "" when absent.
func (d DeviceInfo) Get(key string) string {
	if d == nil {
		return ""
	}
	return d[key]
}

// DeviceEntityOrder is the canonical field order used when rendering device info.
var DeviceEntityOrder = []string{
	"device_name",
	"device_model",
	"device_class",
	"manufacturer",
	"intended_purpose",
	"indications",
	"contraindications",
	"target_population",
	"anatomical_location",
	"device_materials",
	"sterile",
	"single_use",
	"implantable",
	"active_device",
	"contains_software",
	"contains_medicinal",
	"equivalent_devices",
	"applicable_standards",
}

// OrderedKeys returns the known entity keys first, then any extras sorted.
func (d DeviceInfo) OrderedKeys() []string {
	known := make(map[string]bool, len(DeviceEntityOrder))
	var keys []string
	for _, k := range DeviceEntityOrder {
		known[k] = true
		if _, ok := d[k]; ok {
			keys = append(keys, k)
		}
	}
	var extra []string
	for k := range d {
		if !known[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(keys, extra...)
}
