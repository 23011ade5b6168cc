package extractor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"call-coach-go/internal/fingerprint"
	"call-coach-go/internal/types"
)

var errUnparseable = errors.New("response does not match the result schema")

type rawResult struct {
	Score    *float64 `json:"score"`
	Evidence []struct {
		Quote    string `json:"quote"`
		OffsetMs *int64 `json:"offset_ms"`
	} `json:"evidence"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
}

// parseResult maps model output onto a DimensionResult. It is strict about
// the score and lenient about optional lists.
func parseResult(content string, dimensionID string, chunk types.Chunk) (types.DimensionResult, error) {
	obj := extractJSON(content)
	if obj == "" {
		return types.DimensionResult{}, fmt.Errorf("%w: no JSON object found", errUnparseable)
	}

	var raw rawResult
	dec := json.NewDecoder(strings.NewReader(obj))
	if err := dec.Decode(&raw); err != nil {
		return types.DimensionResult{}, fmt.Errorf("%w: %v", errUnparseable, err)
	}
	if raw.Score == nil {
		return types.DimensionResult{}, fmt.Errorf("%w: missing score", errUnparseable)
	}
	if *raw.Score < 0 || *raw.Score > 100 {
		return types.DimensionResult{}, fmt.Errorf("%w: score %g out of range", errUnparseable, *raw.Score)
	}

	score := *raw.Score
	res := types.DimensionResult{
		DimensionID:  dimensionID,
		Score:        &score,
		Evidence:     []types.Evidence{},
		Strengths:    cleanList(raw.Strengths),
		Improvements: cleanList(raw.Improvements),
	}
	for _, ev := range raw.Evidence {
		quote := strings.TrimSpace(ev.Quote)
		if quote == "" {
			continue
		}
		res.Evidence = append(res.Evidence, types.Evidence{
			Quote:    quote,
			OffsetMs: resolveOffset(quote, ev.OffsetMs, chunk),
		})
	}
	return res, nil
}

// resolveOffset keeps a reported offset that falls inside the chunk and
// otherwise locates the quote in the chunk's turns.
func resolveOffset(quote string, reported *int64, chunk types.Chunk) int64 {
	if len(chunk.Turns) == 0 {
		if reported != nil && *reported >= 0 {
			return *reported
		}
		return 0
	}
	first, last := chunk.Turns[0], chunk.Turns[len(chunk.Turns)-1]
	if reported != nil && *reported >= first.StartMs && *reported <= last.EndMs {
		return *reported
	}

	needle := strings.ToLower(fingerprint.Normalize(quote))
	for _, t := range chunk.Turns {
		if strings.Contains(strings.ToLower(fingerprint.Normalize(t.Text)), needle) {
			return t.StartMs
		}
	}
	return first.StartMs
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// extractJSON finds the first balanced JSON object in a string and returns it.
// It strips common markdown fences first.
func extractJSON(s string) string {
	if s == "" {
		return ""
	}

	s = strings.ReplaceAll(s, "\r\n", "\n")
	for _, r := range []string{"```json", "```", "`json"} {
		s = strings.ReplaceAll(s, r, "")
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}
	return ""
}
