// Package reports holds the section plans of each regulatory deliverable and
// drives the section generator over a whole report.
package reports

import (
	"fmt"

	"mdr-docgen/internal/models"
)

// SectionMaxChunks is the retrieval budget of every planned section.
const SectionMaxChunks = 10

func entry(number int, title, promptFile string, categories ...models.Category) models.SectionPlanEntry {
	return models.SectionPlanEntry{
		Number:     number,
		Title:      title,
		PromptFile: promptFile,
		Categories: categories,
		MaxChunks:  SectionMaxChunks,
	}
}

var plans = map[models.ReportType][]models.SectionPlanEntry{
	models.ReportCEP: {
		entry(1, "Scope and Objectives", "section_01_scope_and_objectives.txt", models.CategoryRegulatory, models.CategoryIntendedUse),
		entry(2, "Device Description", "section_02_device_description.txt", models.CategoryDeviceDescription, models.CategoryIntendedUse),
		entry(3, "Intended Purpose and Indications", "section_03_intended_purpose.txt", models.CategoryIntendedUse, models.CategoryLabeling),
		entry(4, "Clinical Background and Current Knowledge", "section_04_clinical_background.txt", models.CategoryLiterature, models.CategoryClinicalStudy),
	},
	models.ReportCER: {
		entry(1, "Executive Summary", "section_01_executive_summary.txt", models.CategoryClinicalStudy, models.CategoryLiterature),
		entry(2, "Scope", "section_02_scope.txt", models.CategoryRegulatory),
		entry(3, "Device Description", "section_03_device_description.txt", models.CategoryDeviceDescription),
		entry(4, "Intended Purpose", "section_04_intended_purpose.txt", models.CategoryIntendedUse),
		entry(5, "Clinical Background and State of the Art", "section_07_clinical_background_sota.txt", models.CategoryLiterature),
		entry(6, "Clinical Data Analysis", "section_13_data_analysis.txt", models.CategoryClinicalStudy, models.CategoryPerformanceTesting),
		entry(7, "Safety Evaluation", "section_14_safety_evaluation.txt", models.CategoryRiskManagement, models.CategoryClinicalStudy, models.CategoryPostMarket),
		entry(8, "Performance Evaluation", "section_15_performance_evaluation.txt", models.CategoryPerformanceTesting, models.CategoryClinicalStudy),
		entry(9, "Risk-Benefit Analysis", "section_16_risk_benefit_analysis.txt", models.CategoryRiskManagement, models.CategoryClinicalStudy),
		entry(10, "Conclusions", "section_17_conclusions.txt", models.CategoryClinicalStudy, models.CategoryRiskManagement),
	},
	models.ReportSSCP: {
		entry(1, "Device Identification", "section_01_device_identification.txt", models.CategoryDeviceDescription, models.CategoryRegulatory),
		entry(2, "Intended Purpose", "section_02_intended_purpose.txt", models.CategoryIntendedUse),
		entry(3, "Device Description", "section_03_device_description.txt", models.CategoryDeviceDescription),
		entry(4, "Residual Risks and Warnings", "section_04_risks_and_warnings.txt", models.CategoryRiskManagement),
		entry(5, "Summary of Clinical Evaluation", "section_05_clinical_evaluation_summary.txt", models.CategoryClinicalStudy, models.CategoryLiterature),
	},
	models.ReportLSR: {
		entry(1, "Introduction", "section_01_introduction.txt", models.CategoryLiterature, models.CategoryRegulatory),
		entry(2, "PICO Framework", "section_03_pico_framework.txt", models.CategoryIntendedUse, models.CategoryClinicalStudy),
		entry(3, "Search Strings and Terms", "section_05_search_strings.txt", models.CategoryLiterature),
		entry(4, "Search Results", "section_09_search_results.txt", models.CategoryLiterature),
	},
}

// Sections returns a copy of the plan for reportType. Callers may modify the
// result without affecting the plan.
func Sections(reportType models.ReportType) ([]models.SectionPlanEntry, error) {
	plan, ok := plans[reportType]
	if !ok {
		return nil, fmt.Errorf("no section plan for report type %q", reportType)
	}
	out := make([]models.SectionPlanEntry, len(plan))
	for i, e := range plan {
		e.Categories = append([]models.Category(nil), e.Categories...)
		out[i] = e
	}
	return out, nil
}

// Types lists the report types that have a plan, in a fixed order.
func Types() []models.ReportType {
	return []models.ReportType{models.ReportCEP, models.ReportCER, models.ReportSSCP, models.ReportLSR}
}
