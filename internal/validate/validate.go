// Package validate runs rule checks and computes derived fields for merged
// permit records. Rule violations never abort the batch: errors and warnings
// accumulate per record and only errors mark a record invalid.
package validate

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/construdata/permit-etl/internal/fsutil"
	"github.com/construdata/permit-etl/internal/model"
	"github.com/construdata/permit-etl/internal/textutil"
)

// Sentinel is the placeholder the upstream registry uses for unregistered
// values; sentinel fields count as empty for completeness scoring.
const Sentinel = "NO REGISTRADO"

// Known categorical values. The province set is closed: the system's
// geography is Costa Rica.
var (
	validEstados = map[string]bool{
		"Permiso de Construcción": true,
		"En Revisión":             true,
		"Aprobado":                true,
		"Rechazado":               true,
		"Pendiente":               true,
		"Anulado":                 true,
	}

	validObras = map[string]bool{
		"HABITACIONAL":          true,
		"COMERCIAL":             true,
		"INDUSTRIAL":            true,
		"TURISTICO":             true,
		"OBRAS COMPLEMENTARIAS": true,
		"SERVICIOS PUBLICOS":    true,
	}

	validProvincias = map[string]bool{
		"SAN JOSE":   true,
		"ALAJUELA":   true,
		"CARTAGO":    true,
		"HEREDIA":    true,
		"GUANACASTE": true,
		"PUNTARENAS": true,
		"LIMON":      true,
	}

	recordIDPattern = regexp.MustCompile(`^\d+-\d+$`)
	cedulaPattern   = regexp.MustCompile(`^\d{9,10}$`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

	dateFormats = []string{
		"2006-01-02",
		"02/01/2006",
		"01/02/2006",
		"02/01/2006 03:04:05 PM",
	}
)

// Params holds the tunable scoring weights and thresholds.
type Params struct {
	MissingProjectPenalty      int
	MissingProfessionalPenalty int
	ErrorPenalty               int
	WarningPenalty             int
	HighValueThreshold         float64
	LowValueThreshold          float64
}

// DefaultParams returns the weights the scoring formulas were calibrated
// with.
func DefaultParams() Params {
	return Params{
		MissingProjectPenalty:      40,
		MissingProfessionalPenalty: 30,
		ErrorPenalty:               10,
		WarningPenalty:             2,
		HighValueThreshold:         100_000_000,
		LowValueThreshold:          10_000_000,
	}
}

// Reporter receives incremental progress while validation runs.
type Reporter interface {
	ReportProgress(current, total int, message string, metadata map[string]any)
}

// Engine validates and enriches merged records.
type Engine struct {
	params   Params
	reporter Reporter
	stats    model.ValidationStats
	now      func() time.Time
}

// New returns a validation engine. The reporter may be nil.
func New(params Params, reporter Reporter) *Engine {
	return &Engine{params: params, reporter: reporter, now: time.Now}
}

// Stats returns the accumulated counters.
func (e *Engine) Stats() model.ValidationStats { return e.stats }

// ValidateAndEnrich maps every merged record to exactly one validated record.
// It never fails on record content; only cancellation aborts the batch.
func (e *Engine) ValidateAndEnrich(ctx context.Context, records []model.MergedRecord) ([]model.ValidatedRecord, error) {
	log := zap.L().With(zap.String("component", "validate"))
	log.Info("starting validation and enrichment", zap.Int("records", len(records)))

	out := make([]model.ValidatedRecord, 0, len(records))
	for idx := range records {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "validate: canceled")
		}
		e.stats.RecordsProcessed++

		if idx%100 == 0 && len(records) > 0 {
			pct := 10 + idx*80/len(records)
			e.report(pct, 100, fmt.Sprintf("Processing record %d/%d", idx+1, len(records)), map[string]any{
				"processed": e.stats.RecordsProcessed,
				"valid":     e.stats.RecordsValid,
				"invalid":   e.stats.RecordsInvalid,
			})
		}

		vr := model.ValidatedRecord{
			MergedRecord: records[idx],
			Validation: model.Validation{
				IsValid:     true,
				Errors:      []string{},
				Warnings:    []string{},
				ValidatedAt: e.now(),
			},
		}
		e.validateRecord(&vr)
		e.enrichRecord(&vr)

		if vr.Validation.IsValid {
			e.stats.RecordsValid++
		} else {
			e.stats.RecordsInvalid++
		}
		e.stats.ValidationErrors += len(vr.Validation.Errors)

		out = append(out, vr)
	}

	log.Info("validation complete",
		zap.Int("processed", e.stats.RecordsProcessed),
		zap.Int("valid", e.stats.RecordsValid),
		zap.Int("invalid", e.stats.RecordsInvalid),
		zap.Int("errors", e.stats.ValidationErrors),
		zap.Int("enrichments", e.stats.EnrichmentsAdded),
	)
	e.report(100, 100, fmt.Sprintf("Validation complete: %d records", len(out)), map[string]any{
		"valid":   e.stats.RecordsValid,
		"invalid": e.stats.RecordsInvalid,
	})
	return out, nil
}

// ValidateFile reads merged records from inputFile, validates and enriches
// them, and writes the result atomically to outputFile.
func (e *Engine) ValidateFile(ctx context.Context, inputFile, outputFile string) (map[string]any, error) {
	var records []model.MergedRecord
	if err := fsutil.ReadJSON(inputFile, &records); err != nil {
		return nil, eris.Wrapf(err, "validate: load input %s", inputFile)
	}

	validated, err := e.ValidateAndEnrich(ctx, records)
	if err != nil {
		return nil, err
	}

	if err := fsutil.WriteJSON(outputFile, validated); err != nil {
		return nil, eris.Wrapf(err, "validate: write output %s", outputFile)
	}
	return map[string]any{
		"count":       len(validated),
		"output_file": outputFile,
		"stats":       e.stats,
	}, nil
}

// validateRecord runs every rule independently, appending to errors or
// warnings. Only errors flip is_valid.
func (e *Engine) validateRecord(rec *model.ValidatedRecord) {
	v := &rec.Validation
	csvData := rec.CSVData
	projectData := rec.ProjectData
	professionalData := rec.ProfessionalData

	fail := func(msg string) {
		v.Errors = append(v.Errors, msg)
		v.IsValid = false
	}
	warn := func(msg string) {
		v.Warnings = append(v.Warnings, msg)
	}

	// Required fields.
	if fieldString(csvData, "proyecto") == "" {
		fail("Missing required field: proyecto")
	}
	recordID := fieldString(csvData, "id")
	if recordID == "" {
		fail("Missing required field: id")
	} else if !recordIDPattern.MatchString(recordID) {
		fail(fmt.Sprintf("Invalid ID format: %s (expected: proyecto-sequence)", recordID))
	}

	// Numeric sanity.
	if area, present := fieldValue(csvData, "area"); present {
		if n, ok := parseNumber(area); ok {
			if n <= 0 {
				warn(fmt.Sprintf("Area is zero or negative: %v", area))
			}
		} else {
			fail(fmt.Sprintf("Invalid area value: %v", area))
		}
	}

	// Date plausibility.
	if fecha := fieldString(csvData, "fechaproyecto"); fecha != "" && parseDate(fecha) == nil {
		warn("Unusual date format: " + fecha)
	}

	// Categorical membership.
	if obra := fieldString(csvData, "obra"); obra != "" && !validObras[textutil.NormalizeText(obra)] {
		warn("Unknown obra type: " + obra)
	}
	if provincia := fieldString(csvData, "provincia"); provincia != "" && !validProvincias[textutil.NormalizeText(provincia)] {
		fail("Invalid provincia: " + provincia)
	}

	// Project document checks.
	if len(projectData) > 0 {
		if estado := fieldString(projectData, "Estado"); estado != "" && !validEstados[estado] {
			warn("Unknown project estado: " + estado)
		}
		if tasado, present := fieldValue(projectData, "Tasado"); present && fieldString(projectData, "Tasado") != "" {
			if n, ok := parseNumber(tasado); ok {
				if n < 0 {
					fail("Tasado amount is negative")
				}
			} else {
				warn(fmt.Sprintf("Invalid Tasado format: %v", tasado))
			}
		}
	}

	// Professional document checks (warnings only).
	if len(professionalData) > 0 {
		if cedula := fieldString(professionalData, "Cedula"); cedula != "" && !isValidCedula(cedula) {
			warn("Invalid cedula format: " + cedula)
		}
		for _, emailField := range []string{"CorreoPermanente", "CorreoLaboral"} {
			email := fieldString(professionalData, emailField)
			if email != "" && email != Sentinel && !emailPattern.MatchString(email) {
				warn(fmt.Sprintf("Invalid email in %s: %s", emailField, email))
			}
		}
	}

	// Cross-source consistency. Disagreement is tolerated, not fatal; the
	// comparison ignores case and accents.
	csvProv := textutil.NormalizeText(fieldString(csvData, "provincia"))
	projProv := textutil.NormalizeText(fieldString(projectData, "Provincia"))
	if csvProv != "" && projProv != "" && csvProv != projProv {
		warn(fmt.Sprintf("Provincia mismatch: CSV=%s, Project=%s", csvProv, projProv))
	}
}

func (e *Engine) report(current, total int, message string, metadata map[string]any) {
	if e.reporter != nil {
		e.reporter.ReportProgress(current, total, message, metadata)
	}
}

// fieldValue returns the raw value and whether the key exists with a
// non-nil value.
func fieldValue(m map[string]any, key string) (any, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// fieldString coerces a map field to a trimmed string; nil and absent fields
// become empty.
func fieldString(m map[string]any, key string) string {
	v, ok := fieldValue(m, key)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// parseNumber accepts JSON numbers and numeric strings.
func parseNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// parseDate tries the known permit date formats and returns nil when none
// match.
func parseDate(s string) *time.Time {
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return &t
		}
	}
	return nil
}

// isValidCedula checks the national identity document format: 9 or 10
// digits, hyphens and spaces ignored.
func isValidCedula(cedula string) bool {
	clean := strings.NewReplacer("-", "", " ", "").Replace(cedula)
	return cedulaPattern.MatchString(clean)
}
