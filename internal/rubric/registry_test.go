package rubric

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"call-coach-go/internal/types"
)

const rubricsYAML = `
rubrics:
  - rubric_version: ae-2026.1
    role: Account_Executive
    dimensions:
      - id: discovery
        criteria: Asks open questions about the buyer's situation
        weight: 0.6
        scoring_bands:
          - {min: 0, max: 49, label: weak}
          - {min: 50, max: 100, label: strong}
      - id: next_steps
        criteria: Secures a concrete next step
        weight: 0.4
  - rubric_version: base-1
    dimensions:
      - id: rapport
        criteria: Builds rapport
        weight: 1
`

func TestParseYAML_List(t *testing.T) {
	rubrics, err := ParseYAML([]byte(rubricsYAML))
	require.NoError(t, err)
	require.Len(t, rubrics, 2)
	assert.Equal(t, "ae-2026.1", rubrics[0].Version)
	require.Len(t, rubrics[0].Dimensions, 2)
	assert.Equal(t, 0.6, rubrics[0].Dimensions[0].Weight)
	assert.Equal(t, 49, rubrics[0].Dimensions[0].ScoringBands[0].Max)
}

func TestParseYAML_SingleDocument(t *testing.T) {
	rubrics, err := ParseYAML([]byte("rubric_version: v1\ndimensions:\n  - {id: a, criteria: c, weight: 1}\n"))
	require.NoError(t, err)
	require.Len(t, rubrics, 1)
	assert.Equal(t, "v1", rubrics[0].Version)
}

func TestRegistry_ForFallsBackToDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rubrics.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rubricsYAML), 0o600))

	g := NewRegistry()
	n, err := LoadInto(g, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"account_executive", DefaultRole}, g.Roles())

	r, err := g.For(" account_executive ")
	require.NoError(t, err)
	assert.Equal(t, "ae-2026.1", r.Version)

	r, err = g.For("sdr")
	require.NoError(t, err)
	assert.Equal(t, "base-1", r.Version)
}

func TestRegistry_NoRubric(t *testing.T) {
	_, err := NewRegistry().For("sdr")
	assert.ErrorIs(t, err, ErrNoRubric)
}

func TestRegistry_RejectsInvalidRubric(t *testing.T) {
	g := NewRegistry()
	err := g.Register(types.Rubric{Version: "v", Dimensions: []types.Dimension{{ID: "a", Criteria: "c", Weight: 0.5}}})
	assert.ErrorIs(t, err, types.ErrInvalidRubric)
	assert.Empty(t, g.Roles())
}

func writeWorkbook(t *testing.T, sheets map[string][][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	first := true
	for name, rows := range sheets {
		if first {
			require.NoError(t, f.SetSheetName("Sheet1", name))
			first = false
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for i, row := range rows {
			cellRef, err := excelize.CoordinatesToCellName(1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cellRef, &row))
		}
	}
	path := filepath.Join(t.TempDir(), "rubrics.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestLoadWorkbook(t *testing.T) {
	path := writeWorkbook(t, map[string][][]any{
		"sdr": {
			{"Rubric Version", "Dimension ID", "Display Name", "Criteria", "Weight", "Bands"},
			{"sdr-3", "opener", "Opener", "Earns the next thirty seconds", "25%", "0-49 weak; 50-100 strong"},
			{"", "qualification", "Qualification", "Confirms budget and authority", "75%", ""},
		},
	})

	rubrics, err := LoadWorkbook(path)
	require.NoError(t, err)
	require.Len(t, rubrics, 1)
	r := rubrics[0]
	assert.Equal(t, "sdr", r.Role)
	assert.Equal(t, "sdr-3", r.Version)
	require.Len(t, r.Dimensions, 2)
	assert.InDelta(t, 0.25, r.Dimensions[0].Weight, 1e-9)
	assert.Equal(t, []types.ScoringBand{{Min: 0, Max: 49, Label: "weak"}, {Min: 50, Max: 100, Label: "strong"}}, r.Dimensions[0].ScoringBands)
	require.NoError(t, r.Validate())

	g := NewRegistry()
	_, err = LoadInto(g, path)
	require.NoError(t, err)
	_, err = g.For("SDR")
	assert.NoError(t, err)
}

func TestLoadWorkbook_MissingColumns(t *testing.T) {
	path := writeWorkbook(t, map[string][][]any{
		"ae": {{"Dimension", "Notes"}, {"discovery", "n/a"}},
	})
	_, err := LoadWorkbook(path)
	assert.Error(t, err)
}

func TestParseBands(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"", 0, false},
		{"0-100 all", 1, false},
		{"0-39 Weak; 40-69 Developing; 70-100 Strong;", 3, false},
		{"low", 0, true},
		{"a-b x", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseBands(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}
