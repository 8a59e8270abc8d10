package chunker

import (
	"regexp"
	"strings"
)

const (
	DefaultMaxSentences  = 10
	DefaultMaxParagraphs = 5
	DefaultMinChunkSize  = 100
)

var sentenceEnd = regexp.MustCompile(`[.!?]\s+`)

// SplitSentences splits after sentence-terminal punctuation, dropping the
// whitespace that follows it.
func SplitSentences(text string) []string {
	var out []string
	pos := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		out = append(out, text[pos:loc[0]+1])
		pos = loc[1]
	}
	return append(out, text[pos:])
}

// ChunkBySentences groups up to maxSentences sentences per chunk, joined by a space.
func ChunkBySentences(text string, maxSentences int) []string {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}

	var chunks, current []string
	for _, s := range SplitSentences(text) {
		current = append(current, s)
		if len(current) >= maxSentences {
			chunks = append(chunks, strings.Join(current, " "))
			current = nil
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// ChunkByParagraphs groups up to maxParagraphs non-blank paragraphs per chunk.
func ChunkByParagraphs(text string, maxParagraphs int) []string {
	if maxParagraphs <= 0 {
		maxParagraphs = DefaultMaxParagraphs
	}

	var chunks, current []string
	for _, p := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		current = append(current, p)
		if len(current) >= maxParagraphs {
			chunks = append(chunks, strings.Join(current, "\n\n"))
			current = nil
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n\n"))
	}
	return chunks
}

// MergeSmallChunks folds chunks into their predecessor until it reaches minSize characters.
func MergeSmallChunks(chunks []string, minSize int) []string {
	if len(chunks) == 0 {
		return nil
	}
	if minSize <= 0 {
		minSize = DefaultMinChunkSize
	}

	var merged []string
	current := ""
	for _, ch := range chunks {
		if len(current) < minSize {
			if current != "" {
				current += " " + ch
			} else {
				current = ch
			}
			continue
		}
		merged = append(merged, current)
		current = ch
	}
	if current != "" {
		merged = append(merged, current)
	}
	return merged
}
