package tokens

import (
	"fmt"
	"math"
	"sync"

	tokenizer "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

const tokenizerMargin = 1.10

// TokenizerEstimator counts real token ids with a HuggingFace tokenizer.json.
// The tokenizer is not the target model's own, so counts get a safety margin and
// never drop below the heuristic.
type TokenizerEstimator struct {
	mu       sync.Mutex
	tok      *tokenizer.Tokenizer
	fallback Heuristic
}

// LoadTokenizer loads a tokenizer.json from disk.
func LoadTokenizer(path string) (*TokenizerEstimator, error) {
	tok, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	return &TokenizerEstimator{tok: tok}, nil
}

func (e *TokenizerEstimator) Estimate(text, model string) int {
	floor := e.fallback.Estimate(text, model)
	if text == "" {
		return 0
	}

	e.mu.Lock()
	encoding, err := e.tok.EncodeSingle(text)
	e.mu.Unlock()
	if err != nil {
		return floor
	}

	n := int(math.Ceil(float64(len(encoding.GetIds())) * tokenizerMargin))
	if n < floor {
		return floor
	}
	return n
}
