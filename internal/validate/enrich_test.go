package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/construdata/permit-etl/internal/model"
)

func TestEnrich_LocationNormalization(t *testing.T) {
	rec := validRecord()
	rec.CSVData["provincia"] = "San José"
	rec.CSVData["canton"] = "Pérez Zeledón"
	rec.CSVData["distrito"] = "Daniel Flores"
	vr := runOne(t, newTestEngine(), rec)

	loc := vr.Enrichment.Location
	assert.Equal(t, "SAN JOSE", loc.Provincia)
	assert.Equal(t, "PEREZ ZELEDON", loc.Canton)
	assert.Equal(t, "DANIEL FLORES", loc.Distrito)
	assert.Equal(t, "DANIEL FLORES, PEREZ ZELEDON, SAN JOSE", loc.FullLocation)
}

func TestEnrich_LocationProjectFillsGaps(t *testing.T) {
	rec := validRecord()
	delete(rec.CSVData, "provincia")
	rec.ProjectData["Provincia"] = "Cartago"
	rec.ProjectData["Cantón"] = "Paraíso"
	vr := runOne(t, newTestEngine(), rec)

	assert.Equal(t, "CARTAGO", vr.Enrichment.Location.Provincia)
	assert.Equal(t, "PARAISO", vr.Enrichment.Location.Canton)
	// No distrito anywhere, so no composed full location.
	assert.Empty(t, vr.Enrichment.Location.FullLocation)
}

func TestEnrich_ProjectAge(t *testing.T) {
	rec := validRecord()
	rec.ProjectData["Fecha Proyecto"] = "2024-06-15" // one year before the fixed clock
	vr := runOne(t, newTestEngine(), rec)

	require.NotNil(t, vr.Enrichment.ProjectAgeDays)
	require.NotNil(t, vr.Enrichment.ProjectAgeYears)
	assert.Equal(t, 365, *vr.Enrichment.ProjectAgeDays)
	assert.InDelta(t, 1.0, *vr.Enrichment.ProjectAgeYears, 0.01)
}

func TestEnrich_ProjectAge_UnparseableDateSkipped(t *testing.T) {
	rec := validRecord()
	rec.ProjectData["Fecha Proyecto"] = "hace tiempo"
	vr := runOne(t, newTestEngine(), rec)

	assert.Nil(t, vr.Enrichment.ProjectAgeDays)
	assert.Nil(t, vr.Enrichment.ProjectAgeYears)
}

func TestEnrich_Classification(t *testing.T) {
	rec := validRecord()
	rec.CSVData["obra"] = "HABITACIONAL"
	rec.CSVData["subobra"] = "VIVIENDA INTERES SOCIAL"
	rec.CSVData["exonerado"] = "SI"
	vr := runOne(t, newTestEngine(), rec)

	c := vr.Enrichment.Classification
	assert.True(t, c.IsResidential)
	assert.False(t, c.IsCommercial)
	assert.True(t, c.IsSocialInterest)
	assert.True(t, c.IsExonerated)
	assert.Equal(t, "HABITACIONAL", c.Category)
}

func TestEnrich_Financial(t *testing.T) {
	rec := validRecord()
	rec.ProjectData["Tasado"] = "150000000"
	rec.CSVData["area"] = "200"
	vr := runOne(t, newTestEngine(), rec)

	fin := vr.Enrichment.Financial
	require.NotNil(t, fin)
	assert.Equal(t, 150000000.0, fin.TasadoAmount)
	assert.True(t, fin.IsHighValue)
	assert.False(t, fin.IsLowValue)
	require.NotNil(t, fin.PricePerM2)
	assert.Equal(t, 750000.0, *fin.PricePerM2)
}

func TestEnrich_Financial_NoAreaNoPricePerM2(t *testing.T) {
	rec := validRecord()
	delete(rec.CSVData, "area")
	rec.ProjectData["Tasado"] = "5000000"
	vr := runOne(t, newTestEngine(), rec)

	fin := vr.Enrichment.Financial
	require.NotNil(t, fin)
	assert.True(t, fin.IsLowValue)
	assert.Nil(t, fin.PricePerM2)
}

func TestEnrich_Financial_AbsentWhenTasadoUnparseable(t *testing.T) {
	rec := validRecord()
	rec.ProjectData["Tasado"] = "n/a"
	vr := runOne(t, newTestEngine(), rec)
	assert.Nil(t, vr.Enrichment.Financial)
}

func TestEnrich_ProfessionalInfo(t *testing.T) {
	rec := validRecord()
	rec.ProfessionalData["Colegio"] = "Colegio de Arquitectos de Costa Rica"
	rec.ProfessionalData["Carne"] = "A-12345"
	rec.ProfessionalData["Lugar"] = "Constructora XYZ"
	vr := runOne(t, newTestEngine(), rec)

	info := vr.Enrichment.ProfessionalInfo
	require.NotNil(t, info)
	assert.True(t, info.IsArchitect)
	assert.False(t, info.IsEngineer)
	assert.True(t, info.HasCompany)
	assert.Equal(t, "A", info.LicensePrefix)
}

func TestEnrich_ProfessionalInfo_EngineerByCarnet(t *testing.T) {
	rec := validRecord()
	rec.ProfessionalData["Colegio"] = "Colegio Federado"
	rec.ProfessionalData["Carne"] = "ICO-8244"
	vr := runOne(t, newTestEngine(), rec)

	info := vr.Enrichment.ProfessionalInfo
	require.NotNil(t, info)
	assert.True(t, info.IsEngineer)
	assert.Equal(t, "ICO", info.LicensePrefix)
}

func TestEnrich_ProfessionalInfo_AbsentWithoutMatch(t *testing.T) {
	rec := validRecord()
	rec.ProfessionalData = nil
	vr := runOne(t, newTestEngine(), rec)
	assert.Nil(t, vr.Enrichment.ProfessionalInfo)
}

func TestEnrich_CompletenessScore(t *testing.T) {
	rec := model.MergedRecord{
		RecordID: "1-1",
		CSVData: map[string]any{
			"id":       "1-1",
			"proyecto": "1",
			"empty":    "",
			"sentinel": Sentinel,
		},
	}
	vr := runOne(t, newTestEngine(), rec)

	// 2 of 4 fields count as filled.
	assert.Equal(t, 50.0, vr.Enrichment.CompletenessScore)
}

func TestEnrich_CompletenessScore_AllSourcesCounted(t *testing.T) {
	vr := runOne(t, newTestEngine(), validRecord())
	assert.Equal(t, 100.0, vr.Enrichment.CompletenessScore)
}

func TestIsFilled(t *testing.T) {
	tests := []struct {
		in   any
		want bool
	}{
		{nil, false},
		{"", false},
		{Sentinel, false},
		{"value", true},
		{0.0, false},
		{12.5, true},
		{false, false},
		{true, true},
		{[]any{"x"}, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isFilled(tt.in), "%v", tt.in)
	}
}
