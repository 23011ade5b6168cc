// Package chunker splits transcripts into token-bounded, overlapping windows that
// always break on speaker-turn boundaries.
package chunker

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"call-coach-go/internal/tokens"
	"call-coach-go/internal/types"
)

const DefaultOverlapFraction = 0.20

var (
	ErrEmptyTranscript  = errors.New("transcript has no usable turns")
	ErrMalformedTurn    = errors.New("malformed turn")
	ErrInvalidChunkSize = errors.New("invalid chunk configuration")
)

// ChunkingError fails the whole call. It carries the offending turn when known.
type ChunkingError struct {
	CallID    string
	TurnIndex int
	Err       error
}

func (e *ChunkingError) Error() string {
	if e.TurnIndex >= 0 {
		return fmt.Sprintf("chunking call %s: turn %d: %v", e.CallID, e.TurnIndex, e.Err)
	}
	return fmt.Sprintf("chunking call %s: %v", e.CallID, e.Err)
}

func (e *ChunkingError) Unwrap() error { return e.Err }

// Config holds the chunk budget. MaxTokens comes from the reasoning service's
// context window minus headroom (see tokens.BudgetFor).
type Config struct {
	MaxTokens       int
	OverlapFraction float64
	Model           string
}

func DefaultConfig(model string, reserve int) Config {
	return Config{
		MaxTokens:       tokens.BudgetFor(model, reserve),
		OverlapFraction: DefaultOverlapFraction,
		Model:           model,
	}
}

type Chunker struct {
	cfg Config
	est tokens.Estimator
}

func New(cfg Config, est tokens.Estimator) *Chunker {
	if est == nil {
		est = tokens.NewHeuristic()
	}
	return &Chunker{cfg: cfg, est: est}
}

func (c *Chunker) Config() Config { return c.cfg }

// Split walks the turns in order and emits chunks covering every turn at least
// once. A transcript under budget yields exactly one chunk. A single turn over
// budget is emitted alone, untruncated.
func (c *Chunker) Split(t types.RawTranscript) ([]types.Chunk, error) {
	if c.cfg.MaxTokens <= 0 || c.cfg.OverlapFraction < 0 || c.cfg.OverlapFraction >= 1 {
		return nil, &ChunkingError{CallID: t.CallID, TurnIndex: -1, Err: ErrInvalidChunkSize}
	}
	if err := validate(t); err != nil {
		return nil, err
	}

	n := len(t.Turns)
	rendered := make([]string, n)
	cost := make([]int, n)
	for i, turn := range t.Turns {
		rendered[i] = RenderTurn(turn)
		cost[i] = c.est.Estimate(rendered[i], c.cfg.Model)
	}

	var chunks []types.Chunk
	start, overlap := 0, 0
	for start < n {
		end, mass := start, 0
		for end < n && (end == start || mass+cost[end] <= c.cfg.MaxTokens) {
			mass += cost[end]
			end++
		}

		chunk := types.Chunk{
			Index:         len(chunks),
			StartIndex:    start,
			EndIndex:      end,
			Text:          strings.Join(rendered[start:end], "\n"),
			Tokens:        mass,
			OverlapTokens: overlap,
			Turns:         t.Turns[start:end],
		}
		if mass > 0 {
			chunk.OverlapRatio = float64(overlap) / float64(mass)
		}
		chunks = append(chunks, chunk)

		if end == n {
			break
		}
		start, overlap = c.overlapStart(cost, start, end, mass)
	}
	for i := range chunks {
		chunks[i].Total = len(chunks)
	}
	return chunks, nil
}

// overlapStart picks where the next chunk begins: the run of trailing turns
// whose token mass is closest to OverlapFraction of the closed chunk's mass,
// backed off until the next new turn fits, and always past the closed chunk's
// first turn.
func (c *Chunker) overlapStart(cost []int, start, end, mass int) (int, int) {
	target := c.cfg.OverlapFraction * float64(mass)
	next, carried := end, 0
	for i, sum := end, 0; i-1 > start && float64(sum) < target; {
		i--
		sum += cost[i]
		if math.Abs(float64(sum)-target) < math.Abs(float64(carried)-target) {
			next, carried = i, sum
		}
	}
	for next < end && carried+cost[end] > c.cfg.MaxTokens {
		carried -= cost[next]
		next++
	}
	return next, carried
}

// RenderTurn is the text the analyzer sees for a turn.
func RenderTurn(t types.Turn) string {
	sec := t.StartMs / 1000
	return fmt.Sprintf("[%02d:%02d] %s: %s", sec/60, sec%60, t.SpeakerID, strings.TrimSpace(t.Text))
}

func validate(t types.RawTranscript) error {
	if len(t.Turns) == 0 {
		return &ChunkingError{CallID: t.CallID, TurnIndex: -1, Err: ErrEmptyTranscript}
	}
	blank := true
	var prevStart int64
	for i, turn := range t.Turns {
		if turn.StartMs < 0 || turn.EndMs < turn.StartMs {
			return &ChunkingError{CallID: t.CallID, TurnIndex: i,
				Err: fmt.Errorf("%w: offsets %d..%d", ErrMalformedTurn, turn.StartMs, turn.EndMs)}
		}
		if i > 0 && turn.StartMs < prevStart {
			return &ChunkingError{CallID: t.CallID, TurnIndex: i,
				Err: fmt.Errorf("%w: starts before previous turn", ErrMalformedTurn)}
		}
		prevStart = turn.StartMs
		if strings.TrimSpace(turn.Text) != "" {
			blank = false
		}
	}
	if blank {
		return &ChunkingError{CallID: t.CallID, TurnIndex: -1, Err: ErrEmptyTranscript}
	}
	return nil
}
