package fileindex

import (
	"strings"
	"unicode/utf8"
)

const (
	chunkSize    = 1500
	chunkOverlap = 200
	minChunkSize = 50
)

// boundarySeparators in preference order. A separator only counts when
// it falls in the second half of the window, otherwise chunks would
// shrink toward nothing on separator-dense text.
var boundarySeparators = []string{"\n\n", "\n", ". ", " "}

// ChunkText splits text into overlapping chunks of at most chunkSize
// bytes, breaking at the latest natural boundary in each window.
// Chunks shorter than minChunkSize are dropped.
func ChunkText(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= chunkSize {
		if len(text) < minChunkSize {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + chunkSize
		last := end >= len(text)
		if last {
			end = len(text)
		} else {
			end = runeStart(text, findBoundary(text, start, end))
		}

		piece := strings.TrimSpace(text[start:end])
		if len(piece) >= minChunkSize {
			chunks = append(chunks, piece)
		}

		if last {
			break
		}
		start = runeStart(text, end-chunkOverlap)
	}
	return chunks
}

// runeStart backs pos up to the nearest rune start so a cut never
// splits a code point mid-sequence.
func runeStart(text string, pos int) int {
	for pos > 0 && !utf8.RuneStart(text[pos]) {
		pos--
	}
	return pos
}

// findBoundary returns the cut position for the window [start, end).
// It walks the separator list and takes the last occurrence of the
// first separator found past the window midpoint.
func findBoundary(text string, start, end int) int {
	window := text[start:end]
	mid := chunkSize / 2
	for _, sep := range boundarySeparators {
		if idx := strings.LastIndex(window, sep); idx > mid {
			return start + idx + len(sep)
		}
	}
	return end
}
