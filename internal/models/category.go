package models

// Category is one label of the closed document taxonomy.
type Category string

const (
	CategoryDeviceDescription  Category = "device_description"
	CategoryIntendedUse        Category = "intended_use"
	CategoryRiskManagement     Category = "risk_management"
	CategoryBiocompatibility   Category = "biocompatibility"
	CategoryClinicalStudy      Category = "clinical_study"
	CategoryLiterature         Category = "literature"
	CategoryPerformanceTesting Category = "performance_testing"
	CategorySterilization      Category = "sterilization"
	CategorySoftware           Category = "software"
	CategoryPostMarket         Category = "post_market"
	CategoryRegulatory         Category = "regulatory"
	CategoryQuality            Category = "quality"
	CategoryLabeling           Category = "labeling"
	CategoryOther              Category = "other"
)

// CategoryInfo describes a category and the keywords used to detect it.
type CategoryInfo struct {
	Name        Category `json:"name"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
}

// Taxonomy is ordered; ties during keyword scoring resolve to the earlier entry.
var Taxonomy = []CategoryInfo{
	{CategoryDeviceDescription, "Device specifications, design documents, drawings, materials",
		[]string{"specification", "design", "drawing", "BOM", "materials", "dimensions"}},
	{CategoryIntendedUse, "Intended purpose, indications for use, IFU, labeling",
		[]string{"intended use", "indication", "IFU", "instructions for use", "contraindication"}},
	{CategoryRiskManagement, "Risk analysis, FMEA, FTA, hazard analysis, ISO 14971",
		[]string{"risk", "FMEA", "hazard", "fault tree", "ISO 14971", "severity", "probability"}},
	{CategoryBiocompatibility, "Biocompatibility testing per ISO 10993",
		[]string{"biocompatibility", "ISO 10993", "cytotoxicity", "sensitization", "irritation"}},
	{CategoryClinicalStudy, "Clinical investigation reports, clinical trial data",
		[]string{"clinical study", "clinical investigation", "trial", "patient", "endpoint", "efficacy"}},
	{CategoryLiterature, "Published literature, journal articles, systematic reviews",
		[]string{"published", "journal", "study", "abstract", "conclusion", "peer-reviewed"}},
	{CategoryPerformanceTesting, "Bench testing, performance verification, validation",
		[]string{"test report", "verification", "validation", "performance", "bench test"}},
	{CategorySterilization, "Sterilization validation, sterility assurance",
		[]string{"sterilization", "sterility", "SAL", "bioburden", "EO", "gamma"}},
	{CategorySoftware, "Software documentation, IEC 62304",
		[]string{"software", "IEC 62304", "algorithm", "cybersecurity", "SOUP"}},
	{CategoryPostMarket, "Post-market data, complaints, vigilance, PMS",
		[]string{"complaint", "adverse event", "vigilance", "PMS", "PMCF", "feedback"}},
	{CategoryRegulatory, "Previous submissions, certificates, regulatory correspondence",
		[]string{"510k", "CE mark", "certificate", "notified body", "submission"}},
	{CategoryQuality, "Quality system documents, SOPs, manufacturing",
		[]string{"SOP", "quality", "manufacturing", "process", "DHF", "DMR"}},
	{CategoryLabeling, "Labels, packaging, marketing materials",
		[]string{"label", "packaging", "UDI", "symbol", "marketing"}},
	{CategoryOther, "Documents that don't fit other categories", nil},
}

// LookupCategory returns the taxonomy entry for name.
func LookupCategory(name string) (CategoryInfo, bool) {
	for _, info := range Taxonomy {
		if string(info.Name) == name {
			return info, true
		}
	}
	return CategoryInfo{}, false
}

// IsValidCategory reports whether name belongs to the taxonomy.
func IsValidCategory(name string) bool {
	_, ok := LookupCategory(name)
	return ok
}
