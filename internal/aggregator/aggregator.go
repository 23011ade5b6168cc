// Package aggregator merges chunk-level results for one dimension into a
// single call-level result.
package aggregator

import (
	"math"
	"sort"
	"strings"

	"call-coach-go/internal/fingerprint"
	"call-coach-go/internal/types"
)

// EvidenceTolerance is how far apart two near-identical quotes may be and
// still count as the same piece of evidence.
const EvidenceTolerance int64 = 2000

// ChunkOutcome is what the orchestrator learned about one chunk. Exactly one of
// Result and Err is set.
type ChunkOutcome struct {
	Chunk  types.Chunk
	Result *types.DimensionResult
	Err    error
}

// Combine folds outcomes (any order) into one DimensionResult. Scores are
// weighted by each chunk's non-overlapping token mass. A dimension with no
// successful chunk gets a nil score and is flagged degraded.
func Combine(dimensionID string, outcomes []ChunkOutcome) types.DimensionResult {
	sorted := make([]ChunkOutcome, len(outcomes))
	copy(sorted, outcomes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Chunk.Index < sorted[j].Chunk.Index })

	out := types.DimensionResult{
		DimensionID:  dimensionID,
		Evidence:     []types.Evidence{},
		Strengths:    []string{},
		Improvements: []string{},
	}

	var (
		weighted, mass float64
		evidence       []types.Evidence
		strengths      = newKeySet()
		improvements   = newKeySet()
	)
	for _, o := range sorted {
		if o.Err != nil || o.Result == nil || o.Result.Score == nil {
			out.FailedChunks++
			continue
		}
		w := float64(o.Chunk.UniqueTokens())
		weighted += w * *o.Result.Score
		mass += w

		evidence = append(evidence, o.Result.Evidence...)
		for _, s := range o.Result.Strengths {
			strengths.add(s)
		}
		for _, s := range o.Result.Improvements {
			improvements.add(s)
		}
	}

	out.Degraded = out.FailedChunks > 0
	if mass > 0 {
		score := clamp(round2(weighted / mass))
		out.Score = &score
	} else {
		out.Reason = "no chunk produced a usable result"
	}
	if out.Degraded && out.Score != nil {
		out.Reason = "some chunks failed analysis"
	}

	out.Evidence = dedupeEvidence(evidence)
	out.Strengths = strengths.items
	out.Improvements = improvements.items
	return out
}

// dedupeEvidence drops a quote when an earlier kept quote is the same or
// contains it (after normalization) and sits within EvidenceTolerance. The
// longer quote wins. Output is sorted by offset.
func dedupeEvidence(in []types.Evidence) []types.Evidence {
	kept := make([]types.Evidence, 0, len(in))
	norms := make([]string, 0, len(in))

next:
	for _, ev := range in {
		n := normKey(ev.Quote)
		if n == "" {
			continue
		}
		for i, k := range kept {
			if abs(k.OffsetMs-ev.OffsetMs) > EvidenceTolerance {
				continue
			}
			switch {
			case norms[i] == n, strings.Contains(norms[i], n):
				continue next
			case strings.Contains(n, norms[i]):
				kept[i], norms[i] = ev, n
				continue next
			}
		}
		kept = append(kept, ev)
		norms = append(norms, n)
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].OffsetMs < kept[j].OffsetMs })
	return kept
}

type keySet struct {
	seen  map[string]struct{}
	items []string
}

func newKeySet() *keySet {
	return &keySet{seen: map[string]struct{}{}, items: []string{}}
}

func (k *keySet) add(s string) {
	key := normKey(s)
	if key == "" {
		return
	}
	if _, dup := k.seen[key]; dup {
		return
	}
	k.seen[key] = struct{}{}
	k.items = append(k.items, strings.TrimSpace(s))
}

func normKey(s string) string {
	s = strings.ToLower(fingerprint.Normalize(s))
	return strings.TrimRight(s, ".!?;,")
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
