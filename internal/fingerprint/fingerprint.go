// Package fingerprint derives the content-addressed keys of the result cache.
//
// A fingerprint identifies one unit of analyzable work: a transcript (or chunk)
// content hash, a dimension and a rubric version. Changing any of the three
// changes the key, which is how rubric bumps invalidate old results.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"call-coach-go/internal/types"
)

// TranscriptHash hashes the whitespace-normalized transcript, turns in order.
// Two retrievals of the same conversation hash identically.
func TranscriptHash(t types.RawTranscript) string {
	h := sha256.New()
	for i, turn := range t.Turns {
		if i > 0 {
			h.Write([]byte{'\n'})
		}
		h.Write([]byte(turn.SpeakerID))
		h.Write([]byte{':'})
		h.Write([]byte(Normalize(turn.Text)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// TextHash hashes an arbitrary span, normalizing whitespace per line.
func TextHash(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = Normalize(l)
	}
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// Fingerprint is SHA-256 over length-prefixed fields, so no choice of field
// contents can collide with a different split of the same bytes.
func Fingerprint(contentHash, dimensionID, rubricVersion string) string {
	h := sha256.New()
	for _, field := range []string{contentHash, dimensionID, rubricVersion} {
		h.Write([]byte(strconv.Itoa(len(field))))
		h.Write([]byte{':'})
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Chunk keys one chunk's analysis for a dimension. The framing is hashed with
// the text since it changes the prompt the analyzer sees.
func Chunk(c types.Chunk, dimensionID, rubricVersion string) string {
	return Fingerprint(TextHash(c.Framing()+"\n"+c.Text), dimensionID, rubricVersion)
}

func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
