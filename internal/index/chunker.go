package index

import (
	"strings"
	"unicode"
)

// Default chunking parameters, in characters.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunker splits text into overlapping windows of at most size characters.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a Chunker. Invalid values fall back to the defaults and
// an overlap that is not smaller than size is reduced to a quarter of it.
func NewChunker(size, overlap int) Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 4
	}
	return Chunker{size: size, overlap: overlap}
}

// Split returns the chunks of text. A window is cut at the last whitespace in
// its second half when there is one, and the next window starts overlap
// characters earlier at a word boundary.
func (c Chunker) Split(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	n := len(runes)
	if n == 0 {
		return nil
	}

	var out []string
	start := 0
	for start < n {
		end := min(start+c.size, n)
		if end < n {
			if cut := lastSpace(runes, start+c.size/2, end); cut > start {
				end = cut
			}
		}
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, s)
		}
		if end == n {
			break
		}

		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = wordStart(runes, next, end)
	}
	return out
}

// wordStart moves i forward to the first word start before end. It returns i
// unchanged when the span has no whitespace.
func wordStart(runes []rune, i, end int) int {
	for j := i; j < end; j++ {
		if j > 0 && unicode.IsSpace(runes[j-1]) && !unicode.IsSpace(runes[j]) {
			return j
		}
	}
	return i
}

// lastSpace returns the index of the last whitespace rune in runes[lo:hi+1],
// or -1.
func lastSpace(runes []rune, lo, hi int) int {
	for i := hi; i >= lo && i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return -1
}
