package extractor

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"strings"
)

// MockClient answers deterministically from the dimension and chunk text so
// local runs and tests need no gateway. Same input, same score.
type MockClient struct{}

var _ Client = MockClient{}

func (MockClient) Complete(ctx context.Context, req Request) (Completion, error) {
	if err := ctx.Err(); err != nil {
		return Completion{}, err
	}

	h := fnv.New32a()
	h.Write([]byte(req.DimensionID))
	h.Write([]byte{0})
	h.Write([]byte(req.ChunkText))
	score := 40 + float64(h.Sum32()%600)/10

	evidence := []map[string]any{}
	if quote := firstUtterance(req.ChunkText); quote != "" {
		evidence = append(evidence, map[string]any{"quote": quote})
	}

	body, err := json.Marshal(map[string]any{
		"score":        score,
		"evidence":     evidence,
		"strengths":    []string{"Kept the conversation on topic"},
		"improvements": []string{"Ask one more open question about " + strings.ReplaceAll(req.DimensionID, "_", " ")},
	})
	if err != nil {
		return Completion{}, err
	}
	return Completion{Content: string(body), FinishReason: "stop"}, nil
}

// firstUtterance returns the text of the first rendered "[mm:ss] speaker: text" line.
func firstUtterance(chunkText string) string {
	line, _, _ := strings.Cut(chunkText, "\n")
	if _, rest, ok := strings.Cut(line, "] "); ok {
		line = rest
	}
	if _, text, ok := strings.Cut(line, ": "); ok {
		line = text
	}
	return strings.TrimSpace(line)
}
