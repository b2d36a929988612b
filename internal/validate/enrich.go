package validate

import (
	"math"
	"strings"

	"github.com/construdata/permit-etl/internal/model"
	"github.com/construdata/permit-etl/internal/textutil"
)

// enrichRecord computes every derived field for a record. Enrichment is
// independent of the validation outcome and always attempted.
func (e *Engine) enrichRecord(rec *model.ValidatedRecord) {
	enr := &rec.Enrichment
	csvData := rec.CSVData
	projectData := rec.ProjectData
	professionalData := rec.ProfessionalData
	added := 0

	// Location: CSV wins, project document fills the gaps.
	provincia := firstNonEmpty(fieldString(csvData, "provincia"), fieldString(projectData, "Provincia"))
	canton := firstNonEmpty(fieldString(csvData, "canton"), fieldString(projectData, "Cantón"))
	distrito := firstNonEmpty(fieldString(csvData, "distrito"), fieldString(projectData, "Distrito"))

	enr.Location = model.Location{
		Provincia: textutil.NormalizeText(provincia),
		Canton:    textutil.NormalizeText(canton),
		Distrito:  textutil.NormalizeText(distrito),
	}
	if loc := enr.Location; loc.Provincia != "" && loc.Canton != "" && loc.Distrito != "" {
		enr.Location.FullLocation = loc.Distrito + ", " + loc.Canton + ", " + loc.Provincia
	}
	added++

	// Project age, only when the recorded date parses.
	if fecha := fieldString(projectData, "Fecha Proyecto"); fecha != "" {
		if t := parseDate(fecha); t != nil {
			days := int(e.now().Sub(*t).Hours() / 24)
			years := round2(float64(days) / 365.25)
			enr.ProjectAgeDays = &days
			enr.ProjectAgeYears = &years
			added++
		}
	}

	// Classification flags from the work-type fields.
	obra := strings.ToUpper(fieldString(csvData, "obra"))
	subobra := strings.ToUpper(fieldString(csvData, "subobra"))
	enr.Classification = model.Classification{
		Category:         obra,
		Subcategory:      subobra,
		IsResidential:    strings.Contains(obra, "HABITACIONAL"),
		IsCommercial:     strings.Contains(obra, "COMERCIAL"),
		IsSocialInterest: strings.Contains(subobra, "INTERES SOCIAL"),
		IsExonerated:     fieldString(csvData, "exonerado") == "SI",
	}
	added++

	// Financial ratios, only when the assessed value parses.
	if tasado, present := fieldValue(projectData, "Tasado"); present {
		if amount, ok := parseNumber(tasado); ok {
			fin := &model.Financial{
				TasadoAmount: amount,
				IsHighValue:  amount > e.params.HighValueThreshold,
				IsLowValue:   amount < e.params.LowValueThreshold,
			}
			if area, areaOK := parseNumber(csvData["area"]); areaOK && area > 0 {
				ppm := round2(amount / area)
				fin.PricePerM2 = &ppm
			}
			enr.Financial = fin
			added++
		}
	}

	// Professional metadata.
	if len(professionalData) > 0 {
		colegio := fieldString(professionalData, "Colegio")
		carne := fieldString(professionalData, "Carne")

		info := &model.ProfessionalInfo{
			College:     colegio,
			IsArchitect: strings.Contains(strings.ToUpper(colegio), "ARQUITECTO"),
			IsEngineer:  strings.Contains(strings.ToUpper(colegio), "INGENIERO") || strings.Contains(carne, "ICO"),
			HasCompany:  fieldString(professionalData, "Lugar") != "",
		}
		if idx := strings.Index(carne, "-"); idx > 0 {
			info.LicensePrefix = carne[:idx]
		}
		enr.ProfessionalInfo = info
		added++
	}

	// Completeness: share of filled, non-sentinel fields across all three
	// source maps.
	var totalFields, filledFields int
	for _, data := range []map[string]any{csvData, projectData, professionalData} {
		for _, value := range data {
			totalFields++
			if isFilled(value) {
				filledFields++
			}
		}
	}
	if totalFields > 0 {
		enr.CompletenessScore = round2(float64(filledFields) / float64(totalFields) * 100)
	}
	added++

	// Quality: start at 100, deduct for missing linkages and validation
	// findings, floor at zero.
	quality := 100
	if !rec.HasProject() {
		quality -= e.params.MissingProjectPenalty
	}
	if !rec.HasProfessional() {
		quality -= e.params.MissingProfessionalPenalty
	}
	quality -= len(rec.Validation.Errors) * e.params.ErrorPenalty
	quality -= len(rec.Validation.Warnings) * e.params.WarningPenalty
	if quality < 0 {
		quality = 0
	}
	enr.QualityScore = quality
	added++

	e.stats.EnrichmentsAdded += added
}

// isFilled reports whether a value contributes to completeness: nil, empty
// strings, zero numbers, false booleans and the sentinel all count as empty.
func isFilled(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != "" && x != Sentinel
	case float64:
		return x != 0
	case bool:
		return x
	default:
		return true
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
