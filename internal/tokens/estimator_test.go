package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeuristic_Empty(t *testing.T) {
	assert.Equal(t, 0, NewHeuristic().Estimate("", "gpt-4o"))
}

func TestHeuristic_Monotonic(t *testing.T) {
	est := NewHeuristic()
	words := strings.Fields("so tell me a little about how your team handles renewals today and who signs off on budget")
	prev := 0
	text := ""
	for _, w := range words {
		text += w + " "
		got := est.Estimate(text, "gpt-4o")
		assert.GreaterOrEqual(t, got, prev, "estimate shrank at %q", text)
		prev = got
	}
}

func TestHeuristic_OverestimatesEnglish(t *testing.T) {
	text := strings.Repeat("pricing objection handled well ", 50)
	// ~4 bytes per token is typical; the estimate must sit above that
	assert.Greater(t, NewHeuristic().Estimate(text, "gpt-4o"), len(text)/4)
}

func TestHeuristic_InvalidUTF8(t *testing.T) {
	bad := string([]byte{0xff, 0xfe, 0xfd, 'a', 'b'})
	assert.Equal(t, NewHeuristic().Estimate("   ab", "gpt-4o"), NewHeuristic().Estimate(bad, "gpt-4o"))
}

func TestHeuristic_MonotonicAcrossInvalidBytes(t *testing.T) {
	est := NewHeuristic()
	raw := []byte("a\xff renewal \xe2\x82\xac budget \xfe\xfd sign off")
	prev := 0
	for i := 1; i <= len(raw); i++ {
		got := est.Estimate(string(raw[:i]), "gpt-4o")
		assert.GreaterOrEqual(t, got, prev, "estimate shrank at byte %d", i)
		prev = got
	}
	assert.LessOrEqual(t, est.Estimate("a", "gpt-4o"), est.Estimate("a\xff", "gpt-4o"))
}

func TestProfileFor(t *testing.T) {
	tests := []struct {
		model  string
		window int
	}{
		{"gpt-4o-mini", 128000},
		{"GPT-4", 8192},
		{"claude-3-haiku", 200000},
		{"some-unknown-model", defaultProfile.ContextWindow},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.window, ProfileFor(tt.model).ContextWindow)
		})
	}
}

func TestBudgetFor(t *testing.T) {
	assert.Equal(t, 128000-4000, BudgetFor("gpt-4o", 4000))
	assert.Equal(t, 256, BudgetFor("gpt-4", 100000))
}
