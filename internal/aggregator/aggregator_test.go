package aggregator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-coach-go/internal/types"
)

func ptr(v float64) *float64 { return &v }

func success(index, tokens, overlap int, score float64, ev ...types.Evidence) ChunkOutcome {
	return ChunkOutcome{
		Chunk:  types.Chunk{Index: index, Tokens: tokens, OverlapTokens: overlap},
		Result: &types.DimensionResult{DimensionID: "d", Score: ptr(score), Evidence: ev},
	}
}

func failure(index, tokens int) ChunkOutcome {
	return ChunkOutcome{Chunk: types.Chunk{Index: index, Tokens: tokens}, Err: errors.New("permanent")}
}

func TestCombine_TokenWeightedAverage(t *testing.T) {
	res := Combine("d", []ChunkOutcome{success(0, 100, 0, 80), success(1, 50, 0, 60)})
	require.NotNil(t, res.Score)
	assert.Equal(t, 73.33, *res.Score)
	assert.False(t, res.Degraded)
	assert.Zero(t, res.FailedChunks)
}

func TestCombine_OverlapNotDoubleCounted(t *testing.T) {
	// second chunk carries 50 overlap tokens, so it weighs 50 not 100
	res := Combine("d", []ChunkOutcome{success(0, 100, 0, 80), success(1, 100, 50, 60)})
	assert.Equal(t, 73.33, *res.Score)
}

func TestCombine_OrderIndependent(t *testing.T) {
	a := Combine("d", []ChunkOutcome{success(0, 30, 0, 10), success(1, 70, 10, 90), success(2, 20, 5, 50)})
	b := Combine("d", []ChunkOutcome{success(2, 20, 5, 50), success(0, 30, 0, 10), success(1, 70, 10, 90)})
	assert.Equal(t, a, b)
}

func TestCombine_PartialFailureIsDegradedWithScore(t *testing.T) {
	res := Combine("d", []ChunkOutcome{success(0, 100, 0, 70), failure(1, 100)})
	require.NotNil(t, res.Score)
	assert.Equal(t, 70.0, *res.Score)
	assert.True(t, res.Degraded)
	assert.Equal(t, 1, res.FailedChunks)
}

func TestCombine_AllFailedHasNilScore(t *testing.T) {
	res := Combine("d", []ChunkOutcome{failure(0, 10), failure(1, 10)})
	assert.Nil(t, res.Score)
	assert.True(t, res.Degraded)
	assert.Equal(t, 2, res.FailedChunks)
	assert.NotEmpty(t, res.Reason)
	assert.NotNil(t, res.Evidence)
}

func TestCombine_ClampsScore(t *testing.T) {
	res := Combine("d", []ChunkOutcome{success(0, 10, 0, 140)})
	assert.Equal(t, 100.0, *res.Score)
}

func TestCombine_EvidenceDedup(t *testing.T) {
	res := Combine("d", []ChunkOutcome{
		success(0, 100, 0, 50,
			types.Evidence{Quote: "What would success look like?", OffsetMs: 12_000},
			types.Evidence{Quote: "We lose two days a month", OffsetMs: 30_000},
		),
		success(1, 100, 20, 50,
			// same quote at a nearby offset
			types.Evidence{Quote: "what would  success look like", OffsetMs: 12_500},
			// contained in a kept quote
			types.Evidence{Quote: "lose two days", OffsetMs: 30_000},
			// same text far away
			types.Evidence{Quote: "What would success look like?", OffsetMs: 90_000},
			// contains a kept quote, so it replaces it
			types.Evidence{Quote: "Honestly we lose two days a month at least", OffsetMs: 29_000},
		),
	})

	require.Len(t, res.Evidence, 3)
	assert.Equal(t, int64(12_000), res.Evidence[0].OffsetMs)
	assert.Equal(t, "Honestly we lose two days a month at least", res.Evidence[1].Quote)
	assert.Equal(t, int64(90_000), res.Evidence[2].OffsetMs)
}

func TestCombine_StrengthsDedupedInFirstSeenOrder(t *testing.T) {
	a := success(0, 10, 0, 50)
	a.Result.Strengths = []string{"Clear agenda.", "Good rapport"}
	a.Result.Improvements = []string{"Quantify impact"}
	b := success(1, 10, 0, 50)
	b.Result.Strengths = []string{"good  rapport", "Confirmed next steps", "clear agenda"}
	b.Result.Improvements = []string{"quantify impact!", " "}

	res := Combine("d", []ChunkOutcome{b, a})
	assert.Equal(t, []string{"Clear agenda.", "Good rapport", "Confirmed next steps"}, res.Strengths)
	assert.Equal(t, []string{"Quantify impact"}, res.Improvements)
}
