package extractor

import (
	"fmt"
	"strings"

	"call-coach-go/internal/types"
)

const systemPrompt = `You are an expert sales and service call coach.
You score one coaching dimension at a time against a rubric, using only the transcript excerpt you are given.
You never invent quotes. Return ONLY valid JSON.`

// BuildPrompt renders the user prompt for one (chunk, dimension) pair.
func BuildPrompt(chunk types.Chunk, dim types.Dimension, rubric types.Rubric) string {
	var bands strings.Builder
	for _, b := range dim.ScoringBands {
		fmt.Fprintf(&bands, "- %d to %d: %s", b.Min, b.Max, b.Label)
		if b.Description != "" {
			bands.WriteString(" (" + b.Description + ")")
		}
		bands.WriteByte('\n')
	}
	if bands.Len() == 0 {
		bands.WriteString("- 0 to 100: higher is better\n")
	}

	prompt := `RUBRIC: %s (version %s)
DIMENSION: %s (%s)

CRITERIA:
%s

SCORING BANDS:
%s
----------------------------------------------------------------------
SCHEMA (STRICT: RETURN ONLY JSON)
{
  "score": 0,
  "evidence": [{"quote": "", "offset_ms": 0}],
  "strengths": [],
  "improvements": []
}
----------------------------------------------------------------------

GUIDELINES:
1. "score" is a number from 0 to 100 for this dimension only.
2. Every evidence quote must be copied verbatim from the transcript.
   "offset_ms" is the start of the quoted line in milliseconds; lines are prefixed [mm:ss].
3. Strengths and improvements are short, concrete, coachable phrases.
4. The transcript below is %s. Judge only what it contains.
5. DO NOT wrap the JSON in backticks. DO NOT add commentary.

TRANSCRIPT:
%s
`
	return fmt.Sprintf(prompt,
		rubric.Name, rubric.Version,
		dim.Name, dim.ID,
		strings.TrimSpace(dim.Criteria),
		bands.String(),
		chunk.Framing(),
		chunk.Text,
	)
}
