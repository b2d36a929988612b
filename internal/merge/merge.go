// Package merge joins the permits CSV with the scraped project and
// professional JSON corpora into unified records.
package merge

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/construdata/permit-etl/internal/fsutil"
	"github.com/construdata/permit-etl/internal/model"
)

const (
	projectKeyField      = "project_id"
	professionalKeyField = "Carne"
	carnetField          = "Carnet Profesional"
)

// Reporter receives incremental progress while a merge runs.
type Reporter interface {
	ReportProgress(current, total int, message string, metadata map[string]any)
}

// Engine merges the three data sources. Construct one per merge run; stats
// accumulate across calls on the same instance.
type Engine struct {
	reporter Reporter
	stats    model.MergeStats
}

// New returns a merge engine. The reporter may be nil.
func New(reporter Reporter) *Engine {
	return &Engine{reporter: reporter}
}

// Stats returns the accumulated counters.
func (e *Engine) Stats() model.MergeStats { return e.stats }

// MergeDataSources joins every CSV row with its project and professional
// documents. Every row yields exactly one output record: unresolved linkages
// degrade to empty sub-maps plus a warning, never a dropped row.
func (e *Engine) MergeDataSources(ctx context.Context, csvFile, projectsDir, professionalsDir string) ([]model.MergedRecord, error) {
	log := zap.L().With(zap.String("component", "merge"))
	log.Info("starting merge",
		zap.String("csv", csvFile),
		zap.String("projects_dir", projectsDir),
		zap.String("professionals_dir", professionalsDir),
	)

	e.report(0, 100, "Loading CSV file", nil)
	headers, rows, err := readCSV(csvFile)
	if err != nil {
		return nil, eris.Wrapf(err, "merge: load csv %s", csvFile)
	}
	log.Info("loaded csv", zap.Int("rows", len(rows)), zap.Int("columns", len(headers)))

	// The two lookup directories are independent; load them concurrently.
	var projects, professionals map[string]map[string]any
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var loadErr error
		projects, loadErr = loadLookup(projectsDir, projectKeyField)
		return loadErr
	})
	g.Go(func() error {
		var loadErr error
		professionals, loadErr = loadLookup(professionalsDir, professionalKeyField)
		return loadErr
	})
	e.report(10, 100, "Loading JSON lookup tables", nil)
	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Info("loaded lookup tables",
		zap.Int("projects", len(projects)),
		zap.Int("professionals", len(professionals)),
	)

	e.report(30, 100, "Merging data sources", nil)
	records := make([]model.MergedRecord, 0, len(rows))
	for idx, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "merge: canceled")
		}
		e.stats.CSVRowsProcessed++

		if idx%100 == 0 && len(rows) > 0 {
			pct := 30 + idx*60/len(rows)
			e.report(pct, 100, fmt.Sprintf("Processing row %d/%d", idx+1, len(rows)), map[string]any{
				"csv_rows":              e.stats.CSVRowsProcessed,
				"projects_matched":      e.stats.ProjectsMatched,
				"professionals_matched": e.stats.ProfessionalsMatched,
			})
		}

		records = append(records, e.mergeRow(row, projects, professionals, idx))
	}

	e.stats.OutputRecords = len(records)
	log.Info("merge complete",
		zap.Int("rows_processed", e.stats.CSVRowsProcessed),
		zap.Int("projects_matched", e.stats.ProjectsMatched),
		zap.Int("projects_missing", e.stats.ProjectsMissing),
		zap.Int("professionals_matched", e.stats.ProfessionalsMatched),
		zap.Int("professionals_missing", e.stats.ProfessionalsMissing),
	)
	e.report(100, 100, fmt.Sprintf("Merge complete: %d records", len(records)), map[string]any{
		"output_records": len(records),
	})

	return records, nil
}

// MergeToFile runs MergeDataSources and writes the records atomically to
// outputFile.
func (e *Engine) MergeToFile(ctx context.Context, csvFile, projectsDir, professionalsDir, outputFile string) (map[string]any, error) {
	records, err := e.MergeDataSources(ctx, csvFile, projectsDir, professionalsDir)
	if err != nil {
		return nil, err
	}
	if err := fsutil.WriteJSON(outputFile, records); err != nil {
		return nil, eris.Wrapf(err, "merge: write output %s", outputFile)
	}
	return map[string]any{
		"count":       len(records),
		"output_file": outputFile,
		"stats":       e.stats,
	}, nil
}

// mergeRow builds one merged record from a CSV row. Missing linkages add
// warnings and bump the corresponding missing counters.
func (e *Engine) mergeRow(row map[string]any, projects, professionals map[string]map[string]any, idx int) model.MergedRecord {
	recordID := stringField(row, "id")
	if recordID == "" {
		recordID = fmt.Sprintf("row_%d", idx)
	}

	rec := model.MergedRecord{
		RecordID:         recordID,
		CSVData:          row,
		ProjectData:      map[string]any{},
		ProfessionalData: map[string]any{},
		Metadata: model.MergeMetadata{
			MergedAt: time.Now(),
			RowIndex: idx,
			Warnings: []string{},
		},
	}
	warn := func(msg string) {
		rec.Metadata.Warnings = append(rec.Metadata.Warnings, msg)
	}

	proyecto := stringField(row, "proyecto")
	if proyecto == "" {
		warn("Missing proyecto number in CSV")
		e.stats.ProjectsMissing++
		return rec
	}

	project, ok := projects[proyecto]
	if !ok {
		warn("Project not found: " + proyecto)
		e.stats.ProjectsMissing++
		return rec
	}

	rec.ProjectData = copyMap(project)
	e.stats.ProjectsMatched++

	carnet := strings.TrimSpace(stringField(project, carnetField))
	if carnet == "" {
		warn("No Carnet Profesional in project data")
		e.stats.ProfessionalsMissing++
		return rec
	}

	// A professional can hold several licenses; the first-listed one wins.
	if strings.Contains(carnet, ",") {
		carnet = strings.TrimSpace(strings.SplitN(carnet, ",", 2)[0])
		warn("Multiple carnets found, using first: " + carnet)
	}

	professional, ok := professionals[carnet]
	if !ok {
		warn("Professional not found for carnet: " + carnet)
		e.stats.ProfessionalsMissing++
		return rec
	}

	rec.ProfessionalData = copyMap(professional)
	e.stats.ProfessionalsMatched++
	return rec
}

func (e *Engine) report(current, total int, message string, metadata map[string]any) {
	if e.reporter != nil {
		e.reporter.ReportProgress(current, total, message, metadata)
	}
}

// loadLookup indexes every *.json file in dir by its key field. Files
// without the key field are skipped with a debug note. When a key value is a
// comma-separated license list the record is indexed under the first token.
func loadLookup(dir, keyField string) (map[string]map[string]any, error) {
	lookup := make(map[string]map[string]any)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			zap.L().Warn("merge: lookup directory does not exist", zap.String("dir", dir))
			return lookup, nil
		}
		return nil, eris.Wrapf(err, "merge: read dir %s", dir)
	}

	// Deterministic load order so duplicate keys resolve identically run to
	// run.
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			zap.L().Warn("merge: failed to read lookup file", zap.String("file", name), zap.Error(readErr))
			continue
		}

		var doc map[string]any
		if jsonErr := json.Unmarshal(data, &doc); jsonErr != nil {
			zap.L().Warn("merge: failed to parse lookup file", zap.String("file", name), zap.Error(jsonErr))
			continue
		}

		key := strings.TrimSpace(stringField(doc, keyField))
		if key == "" {
			zap.L().Debug("merge: lookup file has no key field",
				zap.String("file", name), zap.String("key_field", keyField))
			continue
		}
		if keyField == professionalKeyField && strings.Contains(key, ",") {
			key = strings.TrimSpace(strings.SplitN(key, ",", 2)[0])
		}
		lookup[key] = doc
	}

	return lookup, nil
}

// readCSV loads the whole CSV into row maps keyed by header. Empty cells
// become nil, mirroring how the upstream export encodes missing values.
func readCSV(path string) ([]string, []map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	all, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(all) == 0 {
		return nil, nil, eris.Errorf("merge: empty csv %s", path)
	}

	headers := all[0]
	rows := make([]map[string]any, 0, len(all)-1)
	for _, rawRow := range all[1:] {
		row := make(map[string]any, len(headers))
		for i, h := range headers {
			if i < len(rawRow) && rawRow[i] != "" {
				row[h] = rawRow[i]
			} else {
				row[h] = nil
			}
		}
		rows = append(rows, row)
	}
	return headers, rows, nil
}

func stringField(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		// JSON numbers decode as float64; project numbers are integers.
		return fmt.Sprintf("%.0f", s)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
