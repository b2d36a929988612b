// Package ingest normalizes the upstream permit export (Excel or CSV) into
// the canonical CSV consumed by the merge stage.
package ingest

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/construdata/permit-etl/internal/textutil"
)

// idColumn is the generated record identifier, "<proyecto>-<sequence>".
const idColumn = "id"

// Result summarizes one normalization run.
type Result struct {
	Rows              int      `json:"rows"`
	Columns           []string `json:"columns"`
	DuplicatesRemoved int      `json:"duplicates_removed"`
	OutputFile        string   `json:"output_file"`
}

// NormalizeFile reads an .xlsx, .xls or .csv permit export and writes the
// canonical CSV to outputFile: headers are normalized (lowercase, accents
// stripped, spaces collapsed to underscores), cell values are uppercased and
// accent-stripped (email columns are lowercased instead), duplicate rows are
// dropped, and a unique id column "<proyecto>-<sequence>" is generated unless
// the export already carries one.
func NormalizeFile(inputFile, outputFile string) (*Result, error) {
	rows, err := readTable(inputFile)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, eris.Errorf("ingest: %s has no rows", inputFile)
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = NormalizeHeader(h)
	}

	records := make([][]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		// Pad short rows so every record has the full column set.
		out := make([]string, len(headers))
		for i := range headers {
			if i < len(row) {
				out[i] = normalizeValue(headers[i], row[i])
			}
		}
		records = append(records, out)
	}

	records, duplicates := dedupeRows(records)
	headers, records = generateIDs(headers, records)

	if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
		return nil, eris.Wrapf(err, "ingest: mkdir for %s", outputFile)
	}
	f, err := os.Create(outputFile)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: create %s", outputFile)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(headers); err != nil {
		return nil, eris.Wrap(err, "ingest: write header")
	}
	for _, row := range records {
		if err := w.Write(row); err != nil {
			return nil, eris.Wrap(err, "ingest: write row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, eris.Wrap(err, "ingest: flush csv")
	}

	zap.L().Info("normalized input file",
		zap.String("input", inputFile),
		zap.String("output", outputFile),
		zap.Int("rows", len(records)),
		zap.Int("duplicates_removed", duplicates),
		zap.Int("columns", len(headers)),
	)
	return &Result{
		Rows:              len(records),
		Columns:           headers,
		DuplicatesRemoved: duplicates,
		OutputFile:        outputFile,
	}, nil
}

// NormalizeHeader converts a column name to its canonical form:
// "Área (m2)" becomes "area_m2".
func NormalizeHeader(h string) string {
	s := strings.ToLower(textutil.StripAccents(strings.TrimSpace(h)))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// normalizeValue canonicalizes one cell. Email addresses must stay usable, so
// email columns are lowercased rather than uppercased.
func normalizeValue(header, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if isEmailColumn(header) {
		return strings.ToLower(value)
	}
	return textutil.NormalizeText(value)
}

func isEmailColumn(header string) bool {
	return strings.Contains(header, "correo") || strings.Contains(header, "email")
}

// dedupeRows drops rows that are identical across every column, keeping the
// first occurrence, and reports how many were removed.
func dedupeRows(rows [][]string) ([][]string, int) {
	seen := make(map[string]bool, len(rows))
	out := make([][]string, 0, len(rows))
	removed := 0
	for _, row := range rows {
		key := strings.Join(row, "\x1f")
		if seen[key] {
			removed++
			continue
		}
		seen[key] = true
		out = append(out, row)
	}
	return out, removed
}

// generateIDs prepends the id column, numbering rows per project:
// "1196087-1", "1196087-2", ... An export that already has an id column is
// left untouched. When no proyecto column exists, the first column keys the
// sequence instead; rows with an empty key get no id.
func generateIDs(headers []string, rows [][]string) ([]string, [][]string) {
	keyIdx := -1
	for i, h := range headers {
		switch h {
		case idColumn:
			return headers, rows
		case "proyecto":
			keyIdx = i
		}
	}
	if keyIdx == -1 && len(headers) > 0 {
		keyIdx = 0
		zap.L().Warn("ingest: no proyecto column, keying record ids on first column",
			zap.String("column", headers[0]))
	}

	outHeaders := append([]string{idColumn}, headers...)
	outRows := make([][]string, 0, len(rows))
	sequence := make(map[string]int)
	for _, row := range rows {
		var id string
		if keyIdx >= 0 && keyIdx < len(row) && row[keyIdx] != "" {
			key := row[keyIdx]
			sequence[key]++
			id = fmt.Sprintf("%s-%d", key, sequence[key])
		}
		outRows = append(outRows, append([]string{id}, row...))
	}
	return outHeaders, outRows
}

// readTable loads the input as rows of strings, dispatching on extension.
func readTable(path string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xls":
		return readXLSX(path)
	case ".csv":
		return readCSVFile(path)
	default:
		return nil, eris.Errorf("ingest: unsupported file format %s (use .xlsx, .xls or .csv)", filepath.Ext(path))
	}
}

func readXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open xlsx %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("ingest: %s has no sheets", path)
	}

	sheet := f.Sheets[0]
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func readCSVFile(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open csv %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: parse csv %s", path)
	}
	return rows, nil
}
