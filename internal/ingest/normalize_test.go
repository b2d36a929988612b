package ingest

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func normalizeCSVContent(t *testing.T, content string) (*Result, [][]string) {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "export.csv")
	output := filepath.Join(dir, "normalized.csv")
	require.NoError(t, os.WriteFile(input, []byte(content), 0o644))

	res, err := NormalizeFile(input, output)
	require.NoError(t, err)

	f, err := os.Open(output)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return res, rows
}

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Área (m2)", "area_m2"},
		{"Proyecto", "proyecto"},
		{"Fecha Proyecto", "fecha_proyecto"},
		{"  Provincia  ", "provincia"},
		{"Nº Permiso", "n_permiso"},
		{"obra", "obra"},
		{"Tasado ₡", "tasado"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeHeader(tt.in), tt.in)
	}
}

func TestNormalizeFile_CSV(t *testing.T) {
	content := "Proyecto,Área (m2),Fecha Proyecto\n" +
		"1196087,120.5,2024-03-15\n" +
		"1196088,80\n" // short row gets padded

	res, rows := normalizeCSVContent(t, content)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, []string{"id", "proyecto", "area_m2", "fecha_proyecto"}, res.Columns)

	require.Len(t, rows, 3)
	assert.Equal(t, []string{"id", "proyecto", "area_m2", "fecha_proyecto"}, rows[0])
	assert.Equal(t, []string{"1196087-1", "1196087", "120.5", "2024-03-15"}, rows[1])
	assert.Equal(t, []string{"1196088-1", "1196088", "80", ""}, rows[2])
}

func TestNormalizeFile_GeneratesSequencedIDs(t *testing.T) {
	// A raw export without an ID column gets "<proyecto>-<sequence>" ids,
	// numbered per project.
	content := "Proyecto,Obra,Provincia\n" +
		"1196087,Habitacional,San José\n" +
		"1196087,Comercial,San José\n" +
		"1196090,Habitacional,Heredia\n" +
		",Habitacional,Cartago\n"

	_, rows := normalizeCSVContent(t, content)
	require.Len(t, rows, 5)
	assert.Equal(t, "1196087-1", rows[1][0])
	assert.Equal(t, "1196087-2", rows[2][0])
	assert.Equal(t, "1196090-1", rows[3][0])
	// No proyecto value, no id; downstream stages fall back per row.
	assert.Equal(t, "", rows[4][0])
}

func TestNormalizeFile_IDFallsBackToFirstColumn(t *testing.T) {
	content := "Permiso,Obra\nA100,Habitacional\nA100,Comercial\n"

	_, rows := normalizeCSVContent(t, content)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"id", "permiso", "obra"}, rows[0])
	assert.Equal(t, "A100-1", rows[1][0])
	assert.Equal(t, "A100-2", rows[2][0])
}

func TestNormalizeFile_ExistingIDColumnPreserved(t *testing.T) {
	content := "ID,Proyecto\n1196087-1,1196087\n"

	res, rows := normalizeCSVContent(t, content)
	assert.Equal(t, []string{"id", "proyecto"}, res.Columns)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"1196087-1", "1196087"}, rows[1])
}

func TestNormalizeFile_NormalizesValues(t *testing.T) {
	content := "Proyecto,Responsable,Correo Laboral\n" +
		"100,José Ramírez,Jose.Ramirez@Example.COM\n"

	_, rows := normalizeCSVContent(t, content)
	require.Len(t, rows, 2)
	assert.Equal(t, "JOSE RAMIREZ", rows[1][2])
	// Email columns are lowercased, not uppercased.
	assert.Equal(t, "jose.ramirez@example.com", rows[1][3])
}

func TestNormalizeFile_RemovesDuplicateRows(t *testing.T) {
	content := "Proyecto,Obra\n" +
		"100,Habitacional\n" +
		"100,Habitacional\n" + // exact duplicate
		"100,Comercial\n"

	res, rows := normalizeCSVContent(t, content)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 1, res.DuplicatesRemoved)
	require.Len(t, rows, 3)
	// The surviving rows are numbered without a gap.
	assert.Equal(t, "100-1", rows[1][0])
	assert.Equal(t, "100-2", rows[2][0])
}

func TestNormalizeFile_EmptyCSV(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(input, nil, 0o644))

	_, err := NormalizeFile(input, filepath.Join(dir, "out.csv"))
	require.Error(t, err)
}

func TestNormalizeFile_UnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "data.parquet")
	require.NoError(t, os.WriteFile(input, []byte("x"), 0o644))

	_, err := NormalizeFile(input, filepath.Join(dir, "out.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file format")
}

func TestNormalizeFile_MissingInput(t *testing.T) {
	dir := t.TempDir()
	_, err := NormalizeFile(filepath.Join(dir, "absent.csv"), filepath.Join(dir, "out.csv"))
	require.Error(t, err)
}
