// Package chunk splits extracted text into overlapping windows sized for
// embedding.
package chunk

import "strings"

const (
	// DefaultSize is the target chunk length in characters.
	DefaultSize = 2000
	// DefaultOverlap is the number of characters shared between
	// consecutive chunks.
	DefaultOverlap = 200
)

// Piece is one window over the extracted text. Start and End are character
// offsets into the source, so consumers can rebuild overlap-free spans.
type Piece struct {
	Text  string
	Index int
	Start int
	End   int
}

type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultOverlap
	}

	return &Chunker{size: size, overlap: overlap}
}

// Chunk covers the whole text with overlapping pieces, cutting on the best
// boundary available inside each window: paragraph, then sentence, then
// word, then a hard character cut.
func (c *Chunker) Chunk(text string) []Piece {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var pieces []Piece
	start := 0
	for start < len(text) {
		end := start + c.size
		if end >= len(text) {
			end = len(text)
		} else {
			end = start + SplitPoint(text[start:end])
		}

		pieces = append(pieces, Piece{
			Text:  text[start:end],
			Index: len(pieces),
			Start: start,
			End:   end,
		})

		if end == len(text) {
			break
		}

		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return pieces
}

// SplitPoint finds the best cut position in window, preferring a paragraph
// break, then a sentence end, then whitespace. The returned offset is
// always in (0, len(window)].
func SplitPoint(window string) int {
	if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
		return idx + 2
	}

	best := -1
	for _, sep := range []string{". ", "? ", "! ", "\n"} {
		if idx := strings.LastIndex(window, sep); idx >= 0 && idx+len(sep) > best {
			best = idx + len(sep)
		}
	}
	if best > 0 {
		return best
	}

	if idx := strings.LastIndexFunc(window, func(r rune) bool { return r == ' ' || r == '\t' }); idx > 0 {
		return idx + 1
	}

	return len(window)
}
