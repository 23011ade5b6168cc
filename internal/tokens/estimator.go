// Package tokens estimates how many tokens a text span costs for a target model.
// Estimates are upper bounds: chunk sizing treats them as a hard ceiling.
package tokens

import (
	"math"
	"strings"
	"unicode/utf8"
)

// Estimator never fails. Unusable input yields a conservative (large) estimate.
type Estimator interface {
	Estimate(text, model string) int
}

// Profile describes how a model family tokenizes and how much context it accepts.
type Profile struct {
	Prefix        string
	BytesPerToken float64
	ContextWindow int
}

// Conservative ratios: real BPE tokenizers average closer to 4 bytes per token
// on English text.
var profiles = []Profile{
	{Prefix: "gpt-4o", BytesPerToken: 3.0, ContextWindow: 128000},
	{Prefix: "gpt-4.1", BytesPerToken: 3.0, ContextWindow: 1000000},
	{Prefix: "gpt-4", BytesPerToken: 3.0, ContextWindow: 8192},
	{Prefix: "gpt-3.5", BytesPerToken: 3.0, ContextWindow: 16385},
	{Prefix: "claude", BytesPerToken: 2.8, ContextWindow: 200000},
	{Prefix: "llama", BytesPerToken: 2.8, ContextWindow: 8192},
}

var defaultProfile = Profile{Prefix: "", BytesPerToken: 2.5, ContextWindow: 8192}

// ProfileFor returns the longest-prefix profile for model, or a cautious default.
func ProfileFor(model string) Profile {
	m := strings.ToLower(strings.TrimSpace(model))
	best := defaultProfile
	for _, p := range profiles {
		if strings.HasPrefix(m, p.Prefix) && len(p.Prefix) > len(best.Prefix) {
			best = p
		}
	}
	return best
}

// BudgetFor derives the per-chunk token budget: the model window minus headroom
// reserved for rubric, instructions and the response.
func BudgetFor(model string, reserve int) int {
	budget := ProfileFor(model).ContextWindow - reserve
	if budget < 256 {
		return 256
	}
	return budget
}

// Heuristic is the default estimator. It is safe for concurrent use.
type Heuristic struct{}

func NewHeuristic() Heuristic { return Heuristic{} }

func (Heuristic) Estimate(text, model string) int {
	if text == "" {
		return 0
	}
	if !utf8.ValidString(text) {
		text = blankInvalid(text)
	}
	p := ProfileFor(model)
	byBytes := int(math.Ceil(float64(len(text)) / p.BytesPerToken))
	byWords := int(math.Ceil(float64(len(strings.Fields(text))) * 4 / 3))
	if byWords > byBytes {
		return byWords + 1
	}
	return byBytes + 1
}

// blankInvalid swaps every byte that does not start a valid rune for a space.
// Byte length is unchanged, and a trailing partial rune never counts as more
// words than the rune it completes to.
func blankInvalid(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteByte(' ')
		} else {
			b.WriteString(text[i : i+size])
		}
		i += size
	}
	return b.String()
}
