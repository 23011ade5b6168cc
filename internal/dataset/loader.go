// Package dataset reads exported completion events for backfill.
package dataset

import (
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"call-coach-go/internal/types"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006 15:04",
	"1/2/06 15:04",
}

// Skipped describes a row that could not become an event.
type Skipped struct {
	Row    int
	Reason string
}

// LoadEvents reads completion events from the first sheet of a workbook,
// detecting the event id, call id and received-at columns by header. Rows
// without both ids are skipped and reported.
func LoadEvents(path string) ([]types.IngestionEvent, []Skipped, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, nil, fmt.Errorf("no data rows")
	}

	eventIdx, callIdx, receivedIdx := -1, -1, -1
	for i, h := range rows[0] {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "event") && !strings.Contains(l, "time") && !strings.Contains(l, "date"):
			if eventIdx == -1 {
				eventIdx = i
			}
		case strings.Contains(l, "call") && (strings.Contains(l, "id") || l == "call"):
			if callIdx == -1 {
				callIdx = i
			}
		case strings.Contains(l, "received") || strings.Contains(l, "time") || strings.Contains(l, "date"):
			if receivedIdx == -1 {
				receivedIdx = i
			}
		}
	}
	if eventIdx == -1 || callIdx == -1 {
		return nil, nil, fmt.Errorf("event id and call id columns are required, got header %v", rows[0])
	}

	var (
		out     []types.IngestionEvent
		skipped []Skipped
	)
	for i, r := range rows[1:] {
		rowNum := i + 2
		e := types.IngestionEvent{EventID: cell(r, eventIdx), CallID: cell(r, callIdx)}
		if e.EventID == "" || e.CallID == "" {
			skipped = append(skipped, Skipped{Row: rowNum, Reason: "missing event or call id"})
			continue
		}
		if v := cell(r, receivedIdx); v != "" {
			at, ok := parseTime(v)
			if !ok {
				skipped = append(skipped, Skipped{Row: rowNum, Reason: fmt.Sprintf("unparseable received time %q", v)})
				continue
			}
			e.ReceivedAt = at
		}
		out = append(out, e)
	}
	return out, skipped, nil
}

func cell(r []string, i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return strings.TrimSpace(r[i])
}

func parseTime(v string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
