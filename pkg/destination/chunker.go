package destination

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// chunkSize is the target rune length of one chunk; overlap carries trailing
// context into the next chunk.
const (
	chunkSize    = 1800
	chunkOverlap = 200
)

// SplitText normalizes to NFC and splits into overlapping chunks on
// paragraph boundaries where possible. Empty input yields no chunks.
func SplitText(text string) []string {
	text = strings.TrimSpace(norm.NFC.String(text))
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= chunkSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + chunkSize
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		// Prefer breaking at the last paragraph or line break in range.
		cut := end
		window := string(runes[start:end])
		if idx := strings.LastIndex(window, "\n\n"); idx > chunkSize/2 {
			cut = start + len([]rune(window[:idx]))
		} else if idx := strings.LastIndex(window, "\n"); idx > chunkSize/2 {
			cut = start + len([]rune(window[:idx]))
		}
		chunks = append(chunks, strings.TrimSpace(string(runes[start:cut])))
		next := cut - chunkOverlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks
}
