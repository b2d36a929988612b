package registry

import (
	"context"
	"path/filepath"

	"github.com/construdata/permit-etl/internal/config"
	"github.com/construdata/permit-etl/internal/ingest"
	"github.com/construdata/permit-etl/internal/merge"
	"github.com/construdata/permit-etl/internal/validate"
	"github.com/construdata/permit-etl/pkg/geocode"
	"github.com/construdata/permit-etl/pkg/summarize"
)

// Reporter receives incremental progress from running steps. The progress
// tracker satisfies it.
type Reporter interface {
	ReportProgress(current, total int, message string, metadata map[string]any)
}

// Services bundles the shared dependencies the built-in steps need. Geocoder
// and Summarizer are optional overrides; when nil the steps construct clients
// from the configuration on first use.
type Services struct {
	Config     *config.Config
	Reporter   Reporter
	Geocoder   geocode.Client
	Summarizer summarize.Client
}

// NewDefaultRegistry returns a registry with every built-in step bound.
func NewDefaultRegistry(svc *Services) *Registry {
	r := NewRegistry()
	r.Register("normalize_csv", StepFunc(svc.normalizeCSV))
	r.Register("merge_data", StepFunc(svc.mergeData))
	r.Register("validate_enrich", StepFunc(svc.validateEnrich))
	r.Register("geocode_records", StepFunc(svc.geocodeRecords))
	r.Register("generate_summaries", StepFunc(svc.generateSummaries))
	r.Register("load_search", StepFunc(svc.loadSearch))
	return r
}

// normalizeCSV converts the upstream Excel or CSV export into the canonical
// normalized CSV.
//
// Args: input_file, output_file.
func (svc *Services) normalizeCSV(_ context.Context, args map[string]any) (map[string]any, error) {
	input, err := stringArg(args, "input_file")
	if err != nil {
		return nil, err
	}
	output, err := stringArg(args, "output_file")
	if err != nil {
		return nil, err
	}

	res, err := ingest.NormalizeFile(input, output)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"rows":               res.Rows,
		"columns":            res.Columns,
		"duplicates_removed": res.DuplicatesRemoved,
		"output_file":        res.OutputFile,
	}, nil
}

// mergeData joins the CSV with the project and professional JSON corpora.
//
// Args: csv_file, projects_dir, professionals_dir, output_file.
func (svc *Services) mergeData(ctx context.Context, args map[string]any) (map[string]any, error) {
	csvFile, err := stringArg(args, "csv_file")
	if err != nil {
		return nil, err
	}
	projectsDir, err := stringArg(args, "projects_dir")
	if err != nil {
		return nil, err
	}
	professionalsDir, err := stringArg(args, "professionals_dir")
	if err != nil {
		return nil, err
	}
	output, err := stringArg(args, "output_file")
	if err != nil {
		return nil, err
	}

	return merge.New(svc.Reporter).MergeToFile(ctx, csvFile, projectsDir, professionalsDir, output)
}

// validateEnrich runs the rule checks and enrichment over merged records.
//
// Args: input_file, output_file.
func (svc *Services) validateEnrich(ctx context.Context, args map[string]any) (map[string]any, error) {
	input, err := stringArg(args, "input_file")
	if err != nil {
		return nil, err
	}
	output, err := stringArg(args, "output_file")
	if err != nil {
		return nil, err
	}

	return validate.New(svc.Params(), svc.Reporter).ValidateFile(ctx, input, output)
}

// Params maps the scoring configuration onto the engine parameters, falling
// back to the calibrated defaults for unset weights.
func (svc *Services) Params() validate.Params {
	params := validate.DefaultParams()
	if svc.Config == nil {
		return params
	}
	s := svc.Config.Scoring
	if s.MissingProjectPenalty > 0 {
		params.MissingProjectPenalty = s.MissingProjectPenalty
	}
	if s.MissingProfessionalPenalty > 0 {
		params.MissingProfessionalPenalty = s.MissingProfessionalPenalty
	}
	if s.ErrorPenalty > 0 {
		params.ErrorPenalty = s.ErrorPenalty
	}
	if s.WarningPenalty > 0 {
		params.WarningPenalty = s.WarningPenalty
	}
	if s.HighValueThreshold > 0 {
		params.HighValueThreshold = s.HighValueThreshold
	}
	if s.LowValueThreshold > 0 {
		params.LowValueThreshold = s.LowValueThreshold
	}
	return params
}

// defaultCacheFile places the geocode cache next to the step output when the
// pipeline does not name one.
func defaultCacheFile(outputFile string) string {
	return filepath.Join(filepath.Dir(outputFile), "geocode_cache.json")
}
