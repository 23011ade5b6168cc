// Package actionable turns a finished analysis into one coaching focus for
// the rep's manager.
package actionable

import (
	"fmt"
	"sort"

	"call-coach-go/internal/types"
)

// FocusThreshold is the score below which a dimension becomes a coaching focus.
const FocusThreshold = 70.0

type ActionCard struct {
	CallID     string           `json:"call_id"`
	FocusID    string           `json:"focus_dimension,omitempty"`
	Insight    string           `json:"insight"`
	Action     string           `json:"action"`
	Impact     string           `json:"impact"`
	Evidence   []types.Evidence `json:"evidence,omitempty"`
	Incomplete []string         `json:"incomplete_dimensions,omitempty"`
}

// Generate picks the lowest-scoring dimension as the focus, breaking ties by
// rubric weight. Degraded dimensions without a score are listed as incomplete.
func Generate(a types.CallAnalysis, rubric types.Rubric) ActionCard {
	card := ActionCard{CallID: a.CallID}

	type scored struct {
		dim    types.Dimension
		result types.DimensionResult
	}
	var candidates []scored
	for _, d := range rubric.Dimensions {
		res, ok := a.Dimensions[d.ID]
		if !ok || res.Score == nil {
			card.Incomplete = append(card.Incomplete, d.ID)
			continue
		}
		candidates = append(candidates, scored{dim: d, result: res})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := *candidates[i].result.Score, *candidates[j].result.Score
		if si != sj {
			return si < sj
		}
		return candidates[i].dim.Weight > candidates[j].dim.Weight
	})

	if len(candidates) == 0 {
		card.Insight = "No dimension produced a usable score"
		card.Action = "Re-run the analysis once the transcript and analyzer are healthy"
		card.Impact = "No coaching signal for this call"
		return card
	}

	worst := candidates[0]
	score := *worst.result.Score
	if score >= FocusThreshold {
		card.Insight = fmt.Sprintf("Every scored dimension is at or above %.0f", FocusThreshold)
		card.Action = "Reinforce what worked and share the call as an example"
		card.Impact = "Keeps strong habits consistent across calls"
		return card
	}

	card.FocusID = worst.dim.ID
	card.Insight = fmt.Sprintf("%s scored %.0f (%s)", displayName(worst.dim), score, bandLabel(worst.dim, score))
	card.Action = "Practice: " + worst.dim.Criteria
	if len(worst.result.Improvements) > 0 {
		card.Action = worst.result.Improvements[0]
	}
	card.Impact = fmt.Sprintf("Carries %.0f%% of the overall score", worst.dim.Weight*100)
	card.Evidence = worst.result.Evidence
	return card
}

func displayName(d types.Dimension) string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

func bandLabel(d types.Dimension, score float64) string {
	for _, b := range d.ScoringBands {
		if score >= float64(b.Min) && score <= float64(b.Max) {
			return b.Label
		}
	}
	return "below target"
}
