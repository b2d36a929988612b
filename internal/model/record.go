// Package model holds the record types shared across the merge, validation
// and load stages of the permit pipeline.
package model

import "time"

// MergedRecord is the unified record produced by joining one permits CSV row
// with its project and professional JSON documents. Every CSV row yields
// exactly one MergedRecord; failed lookups leave the corresponding sub-map
// empty and add a warning instead of dropping the row.
type MergedRecord struct {
	RecordID         string         `json:"record_id"`
	CSVData          map[string]any `json:"csv_data"`
	ProjectData      map[string]any `json:"project_data"`
	ProfessionalData map[string]any `json:"professional_data"`
	Metadata         MergeMetadata  `json:"metadata"`
}

// MergeMetadata records provenance for a merged record.
type MergeMetadata struct {
	MergedAt time.Time `json:"merged_at"`
	RowIndex int       `json:"row_index"`
	Warnings []string  `json:"warnings"`
}

// HasProject reports whether the project lookup succeeded.
func (r *MergedRecord) HasProject() bool {
	return len(r.ProjectData) > 0
}

// HasProfessional reports whether the professional lookup succeeded.
func (r *MergedRecord) HasProfessional() bool {
	return len(r.ProfessionalData) > 0
}

// ValidatedRecord is a MergedRecord annotated with validation results and
// computed enrichments.
type ValidatedRecord struct {
	MergedRecord
	Validation Validation `json:"validation"`
	Enrichment Enrichment `json:"enrichment"`
}

// Validation holds the outcome of the rule checks for one record. Only
// entries in Errors flip IsValid to false; Warnings are advisory.
type Validation struct {
	IsValid     bool      `json:"is_valid"`
	Errors      []string  `json:"errors"`
	Warnings    []string  `json:"warnings"`
	ValidatedAt time.Time `json:"validated_at"`
}

// Enrichment holds all computed fields for one record.
type Enrichment struct {
	Location          Location          `json:"location_normalized"`
	ProjectAgeDays    *int              `json:"project_age_days,omitempty"`
	ProjectAgeYears   *float64          `json:"project_age_years,omitempty"`
	Classification    Classification    `json:"classification"`
	Financial         *Financial        `json:"financial,omitempty"`
	ProfessionalInfo  *ProfessionalInfo `json:"professional_info,omitempty"`
	CompletenessScore float64           `json:"completeness_score"`
	QualityScore      int               `json:"quality_score"`
	Geo               *GeoPoint         `json:"geo,omitempty"`
	Summary           string            `json:"summary,omitempty"`
}

// GeoPoint is attached by the geocoding step when the composed address
// resolves to coordinates.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Location is the accent-stripped, uppercased location of a record.
// FullLocation is only composed when all three parts are present.
type Location struct {
	Provincia    string `json:"provincia"`
	Canton       string `json:"canton"`
	Distrito     string `json:"distrito"`
	FullLocation string `json:"full_location,omitempty"`
}

// Classification carries boolean flags derived from the work-type fields.
type Classification struct {
	Category         string `json:"category"`
	Subcategory      string `json:"subcategory"`
	IsResidential    bool   `json:"is_residential"`
	IsCommercial     bool   `json:"is_commercial"`
	IsSocialInterest bool   `json:"is_social_interest"`
	IsExonerated     bool   `json:"is_exonerated"`
}

// Financial is present only when the assessed value parses as a number.
type Financial struct {
	TasadoAmount float64  `json:"tasado_amount"`
	PricePerM2   *float64 `json:"price_per_m2"`
	IsHighValue  bool     `json:"is_high_value"`
	IsLowValue   bool     `json:"is_low_value"`
}

// ProfessionalInfo is present only when the professional lookup matched.
type ProfessionalInfo struct {
	College       string `json:"college"`
	LicensePrefix string `json:"license_prefix,omitempty"`
	IsArchitect   bool   `json:"is_architect"`
	IsEngineer    bool   `json:"is_engineer"`
	HasCompany    bool   `json:"has_company"`
}

// MergeStats aggregates counters for one merge run.
type MergeStats struct {
	CSVRowsProcessed     int `json:"csv_rows_processed"`
	ProjectsMatched      int `json:"projects_matched"`
	ProjectsMissing      int `json:"projects_missing"`
	ProfessionalsMatched int `json:"professionals_matched"`
	ProfessionalsMissing int `json:"professionals_missing"`
	OutputRecords        int `json:"output_records"`
}

// ValidationStats aggregates counters for one validation run.
type ValidationStats struct {
	RecordsProcessed int `json:"records_processed"`
	RecordsValid     int `json:"records_valid"`
	RecordsInvalid   int `json:"records_invalid"`
	ValidationErrors int `json:"validation_errors"`
	EnrichmentsAdded int `json:"enrichments_added"`
}
