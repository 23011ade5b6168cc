package types

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// --------------------------------------------
// Transcript input (from the call platform)
// --------------------------------------------

// Turn is one speaker turn. Offsets are absolute milliseconds from call start.
type Turn struct {
	SpeakerID string `json:"speaker_id"`
	StartMs   int64  `json:"start_ms"`
	EndMs     int64  `json:"end_ms"`
	Text      string `json:"text"`
}

type RawTranscript struct {
	CallID string `json:"call_id"`
	Turns  []Turn `json:"turns"`
}

type CallMetadata struct {
	CallID     string    `json:"call_id"`
	StaffID    string    `json:"staff_id"`
	StaffRole  string    `json:"staff_role,omitempty"`
	Title      string    `json:"title,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}

// --------------------------------------------
// Rubric input (role-specific criteria)
// --------------------------------------------

type ScoringBand struct {
	Min         int    `json:"min" yaml:"min"`
	Max         int    `json:"max" yaml:"max"`
	Label       string `json:"label" yaml:"label"`
	Description string `json:"description,omitempty" yaml:"description"`
}

type Dimension struct {
	ID           string        `json:"id" yaml:"id"`
	Name         string        `json:"name,omitempty" yaml:"name"`
	Criteria     string        `json:"criteria" yaml:"criteria"`
	Weight       float64       `json:"weight" yaml:"weight"`
	ScoringBands []ScoringBand `json:"scoring_bands" yaml:"scoring_bands"`
}

type Rubric struct {
	Version    string      `json:"rubric_version" yaml:"rubric_version"`
	Name       string      `json:"name,omitempty" yaml:"name"`
	Role       string      `json:"role,omitempty" yaml:"role"`
	Dimensions []Dimension `json:"dimensions" yaml:"dimensions"`
}

const weightTolerance = 0.001

var ErrInvalidRubric = errors.New("invalid rubric")

// Validate checks the required fields once, at load time.
func (r Rubric) Validate() error {
	if r.Version == "" {
		return fmt.Errorf("%w: missing rubric_version", ErrInvalidRubric)
	}
	if len(r.Dimensions) == 0 {
		return fmt.Errorf("%w: rubric %s has no dimensions", ErrInvalidRubric, r.Version)
	}
	seen := make(map[string]bool, len(r.Dimensions))
	total := 0.0
	for i, d := range r.Dimensions {
		if d.ID == "" {
			return fmt.Errorf("%w: dimension %d has no id", ErrInvalidRubric, i)
		}
		if seen[d.ID] {
			return fmt.Errorf("%w: duplicate dimension id %q", ErrInvalidRubric, d.ID)
		}
		seen[d.ID] = true
		if d.Criteria == "" {
			return fmt.Errorf("%w: dimension %q has no criteria", ErrInvalidRubric, d.ID)
		}
		if d.Weight < 0 || math.IsNaN(d.Weight) {
			return fmt.Errorf("%w: dimension %q has negative weight", ErrInvalidRubric, d.ID)
		}
		for _, b := range d.ScoringBands {
			if b.Min < 0 || b.Max > 100 || b.Min > b.Max {
				return fmt.Errorf("%w: dimension %q band %q out of range", ErrInvalidRubric, d.ID, b.Label)
			}
		}
		total += d.Weight
	}
	if math.Abs(total-1.0) > weightTolerance {
		return fmt.Errorf("%w: weights sum to %.3f, want 1.0", ErrInvalidRubric, total)
	}
	return nil
}

// Dimension returns the dimension with the given id.
func (r Rubric) Dimension(id string) (Dimension, bool) {
	for _, d := range r.Dimensions {
		if d.ID == id {
			return d, true
		}
	}
	return Dimension{}, false
}

// --------------------------------------------
// Chunk (in-memory only)
// --------------------------------------------

// Chunk covers turns [StartIndex, EndIndex) of a transcript split into Total
// chunks.
type Chunk struct {
	Index         int     `json:"index"`
	Total         int     `json:"total"`
	StartIndex    int     `json:"start_index"`
	EndIndex      int     `json:"end_index"`
	Text          string  `json:"text"`
	Tokens        int     `json:"tokens"`
	OverlapTokens int     `json:"overlap_tokens"`
	OverlapRatio  float64 `json:"overlap_ratio"`
	Turns         []Turn  `json:"-"`
}

// Framing tells the analyzer what part of the call the chunk is.
func (c Chunk) Framing() string {
	if c.Total <= 1 && c.Index == 0 && c.OverlapTokens == 0 {
		return "the full call"
	}
	return fmt.Sprintf("part %d of a longer call (the first lines may repeat the previous part)", c.Index+1)
}

// UniqueTokens is the token mass not shared with the previous chunk.
func (c Chunk) UniqueTokens() int {
	n := c.Tokens - c.OverlapTokens
	if n < 1 {
		return 1
	}
	return n
}
