package rubric

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"call-coach-go/internal/types"
)

// LoadWorkbook reads one rubric per sheet. The sheet name is the role and each
// data row is a dimension. Columns are found by header:
//
//	version | dimension | name | criteria | weight | bands
//
// Bands are written "0-39 Weak; 40-69 Developing; 70-100 Strong".
func LoadWorkbook(path string) ([]types.Rubric, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	var out []types.Rubric
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read rows of %s: %w", sheet, err)
		}
		if len(rows) <= 1 {
			continue
		}
		r, err := rubricFromRows(sheet, rows)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheet, err)
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no data rows")
	}
	return out, nil
}

func rubricFromRows(sheet string, rows [][]string) (types.Rubric, error) {
	cols := map[string]int{"version": -1, "id": -1, "name": -1, "criteria": -1, "weight": -1, "bands": -1}
	for i, h := range rows[0] {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "version"):
			setOnce(cols, "version", i)
		case strings.Contains(l, "dimension") || l == "id":
			setOnce(cols, "id", i)
		case strings.Contains(l, "name") || strings.Contains(l, "title"):
			setOnce(cols, "name", i)
		case strings.Contains(l, "criteria") || strings.Contains(l, "description"):
			setOnce(cols, "criteria", i)
		case strings.Contains(l, "weight"):
			setOnce(cols, "weight", i)
		case strings.Contains(l, "band") || strings.Contains(l, "scale"):
			setOnce(cols, "bands", i)
		}
	}
	if cols["id"] < 0 || cols["criteria"] < 0 || cols["weight"] < 0 {
		return types.Rubric{}, fmt.Errorf("missing dimension, criteria or weight column")
	}

	r := types.Rubric{Role: sheet, Name: sheet}
	for i, row := range rows[1:] {
		id := cell(row, cols["id"])
		if id == "" {
			continue
		}
		if v := cell(row, cols["version"]); v != "" && r.Version == "" {
			r.Version = v
		}
		weight, err := strconv.ParseFloat(strings.TrimSuffix(cell(row, cols["weight"]), "%"), 64)
		if err != nil {
			return types.Rubric{}, fmt.Errorf("row %d: bad weight: %w", i+2, err)
		}
		if strings.HasSuffix(cell(row, cols["weight"]), "%") {
			weight /= 100
		}
		bands, err := parseBands(cell(row, cols["bands"]))
		if err != nil {
			return types.Rubric{}, fmt.Errorf("row %d: %w", i+2, err)
		}
		r.Dimensions = append(r.Dimensions, types.Dimension{
			ID:           id,
			Name:         cell(row, cols["name"]),
			Criteria:     cell(row, cols["criteria"]),
			Weight:       weight,
			ScoringBands: bands,
		})
	}
	return r, nil
}

func setOnce(cols map[string]int, key string, i int) {
	if cols[key] == -1 {
		cols[key] = i
	}
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// parseBands reads "min-max label" entries separated by ';'.
func parseBands(s string) ([]types.ScoringBand, error) {
	if s == "" {
		return nil, nil
	}
	var out []types.ScoringBand
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		rng, label, _ := strings.Cut(part, " ")
		lo, hi, ok := strings.Cut(rng, "-")
		if !ok {
			return nil, fmt.Errorf("bad band %q", part)
		}
		bandMin, err1 := strconv.Atoi(strings.TrimSpace(lo))
		bandMax, err2 := strconv.Atoi(strings.TrimSpace(hi))
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("bad band range %q", rng)
		}
		out = append(out, types.ScoringBand{Min: bandMin, Max: bandMax, Label: strings.TrimSpace(label)})
	}
	return out, nil
}
