package registry

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/construdata/permit-etl/internal/fsutil"
	"github.com/construdata/permit-etl/internal/model"
	"github.com/construdata/permit-etl/pkg/geocode"
)

func writeRecords(t *testing.T, path string, records []model.ValidatedRecord) {
	t.Helper()
	require.NoError(t, fsutil.WriteJSON(path, records))
}

func sampleRecords() []model.ValidatedRecord {
	return []model.ValidatedRecord{
		{
			MergedRecord: model.MergedRecord{RecordID: "1-1"},
			Enrichment: model.Enrichment{
				Location: model.Location{Provincia: "SAN JOSE", Canton: "CENTRAL", Distrito: "CARMEN"},
			},
		},
		{
			MergedRecord: model.MergedRecord{RecordID: "2-1"},
			Enrichment:   model.Enrichment{},
		},
	}
}

// --- load_search ---

func TestLoadSearch_WritesBulkNDJSON(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "validated.json")
	output := filepath.Join(dir, "bulk.ndjson")
	writeRecords(t, input, sampleRecords())

	svc := &Services{}
	res, err := svc.loadSearch(context.Background(), map[string]any{
		"input_file":  input,
		"output_file": output,
		"index":       "permits_v2",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res["documents"])
	assert.Equal(t, "permits_v2", res["index"])

	f, err := os.Open(output)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 4) // action + source per record

	var action struct {
		Index struct {
			Index string `json:"_index"`
			ID    string `json:"_id"`
		} `json:"index"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &action))
	assert.Equal(t, "permits_v2", action.Index.Index)
	assert.Equal(t, "1-1", action.Index.ID)

	var doc model.ValidatedRecord
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &doc))
	assert.Equal(t, "1-1", doc.RecordID)
}

func TestLoadSearch_DefaultIndex(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "validated.json")
	writeRecords(t, input, sampleRecords())

	svc := &Services{}
	res, err := svc.loadSearch(context.Background(), map[string]any{
		"input_file":  input,
		"output_file": filepath.Join(dir, "bulk.ndjson"),
	})
	require.NoError(t, err)
	assert.Equal(t, defaultSearchIndex, res["index"])
}

func TestLoadSearch_MissingArgs(t *testing.T) {
	svc := &Services{}
	_, err := svc.loadSearch(context.Background(), map[string]any{})
	require.Error(t, err)
}

// --- geocode_records ---

type fakeGeocoder struct {
	calls   map[string]int
	results map[string]*geocode.Result
	err     error
}

func (f *fakeGeocoder) Geocode(_ context.Context, address string) (*geocode.Result, error) {
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[address]++
	if f.err != nil {
		return nil, f.err
	}
	if res, ok := f.results[address]; ok {
		return res, nil
	}
	return &geocode.Result{Matched: false}, nil
}

func TestGeocodeRecords(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "validated.json")
	output := filepath.Join(dir, "geocoded.json")
	writeRecords(t, input, sampleRecords())

	fake := &fakeGeocoder{results: map[string]*geocode.Result{
		"CARMEN, CENTRAL, SAN JOSE, Costa Rica": {Latitude: 9.93, Longitude: -84.08, Matched: true},
	}}
	svc := &Services{Geocoder: fake}

	res, err := svc.geocodeRecords(context.Background(), map[string]any{
		"input_file":  input,
		"output_file": output,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res["geocoded"])
	assert.Equal(t, 1, res["skipped"]) // record without location parts

	var out []model.ValidatedRecord
	require.NoError(t, fsutil.ReadJSON(output, &out))
	require.Len(t, out, 2)
	require.NotNil(t, out[0].Enrichment.Geo)
	assert.InDelta(t, 9.93, out[0].Enrichment.Geo.Latitude, 0.001)
	assert.Nil(t, out[1].Enrichment.Geo)

	// The cache file was persisted next to the output.
	_, statErr := os.Stat(filepath.Join(dir, "geocode_cache.json"))
	require.NoError(t, statErr)
}

func TestGeocodeRecords_CacheAvoidsRepeatLookups(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "validated.json")
	writeRecords(t, input, sampleRecords())

	fake := &fakeGeocoder{results: map[string]*geocode.Result{
		"CARMEN, CENTRAL, SAN JOSE, Costa Rica": {Latitude: 9.93, Longitude: -84.08, Matched: true},
	}}
	svc := &Services{Geocoder: fake}

	args := map[string]any{
		"input_file":  input,
		"output_file": filepath.Join(dir, "geocoded.json"),
		"cache_file":  filepath.Join(dir, "cache.json"),
	}
	_, err := svc.geocodeRecords(context.Background(), args)
	require.NoError(t, err)
	_, err = svc.geocodeRecords(context.Background(), args)
	require.NoError(t, err)

	// Second run is served entirely from the cache file.
	assert.Equal(t, 1, fake.calls["CARMEN, CENTRAL, SAN JOSE, Costa Rica"])
}

func TestGeocodeRecords_LookupFailureSkipsRecord(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "validated.json")
	output := filepath.Join(dir, "geocoded.json")
	writeRecords(t, input, sampleRecords()[:1])

	svc := &Services{Geocoder: &fakeGeocoder{err: eris.New("service down")}}
	res, err := svc.geocodeRecords(context.Background(), map[string]any{
		"input_file":  input,
		"output_file": output,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res["failed"])
	assert.Equal(t, 0, res["geocoded"])
}

// --- generate_summaries ---

type fakeSummarizer struct {
	calls int
}

func (f *fakeSummarizer) Summarize(context.Context, map[string]string) (string, error) {
	f.calls++
	return "Proyecto habitacional en San José.", nil
}

func TestGenerateSummaries_SkipsExisting(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "validated.json")
	output := filepath.Join(dir, "summarized.json")

	records := sampleRecords()
	records[0].Enrichment.Summary = "ya existe"
	writeRecords(t, input, records)

	fake := &fakeSummarizer{}
	svc := &Services{Summarizer: fake}

	res, err := svc.generateSummaries(context.Background(), map[string]any{
		"input_file":  input,
		"output_file": output,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res["generated"])
	assert.Equal(t, 1, res["skipped"])
	assert.Equal(t, 1, fake.calls)

	var out []model.ValidatedRecord
	require.NoError(t, fsutil.ReadJSON(output, &out))
	assert.Equal(t, "ya existe", out[0].Enrichment.Summary)
	assert.Equal(t, "Proyecto habitacional en San José.", out[1].Enrichment.Summary)
}

func TestGenerateSummaries_Limit(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "validated.json")
	writeRecords(t, input, sampleRecords())

	fake := &fakeSummarizer{}
	svc := &Services{Summarizer: fake}

	res, err := svc.generateSummaries(context.Background(), map[string]any{
		"input_file":  input,
		"output_file": filepath.Join(dir, "out.json"),
		"limit":       1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res["generated"])
	assert.Equal(t, 1, fake.calls)
}

func TestGenerateSummaries_NoClientConfigured(t *testing.T) {
	svc := &Services{}
	_, err := svc.generateSummaries(context.Background(), map[string]any{
		"input_file":  "in.json",
		"output_file": "out.json",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key")
}
