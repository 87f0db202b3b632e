package chunker

import (
	"fmt"
	"strings"

	"transcriptrag/internal/domain"
)

const (
	// DefaultChunkSize is the default window length in characters.
	DefaultChunkSize = 1000
	// DefaultOverlap is the default number of characters shared by consecutive windows.
	DefaultOverlap = 200
	// boundaryLookback bounds the backward search for a sentence terminator.
	boundaryLookback = 100
)

// SlidingChunker splits text into overlapping character windows that prefer
// to end on a sentence boundary.
type SlidingChunker struct {
	maxSize int
	overlap int
}

// NewSlidingChunker validates the window parameters.
func NewSlidingChunker(maxSize, overlap int) (*SlidingChunker, error) {
	if err := validate(maxSize, overlap); err != nil {
		return nil, err
	}
	return &SlidingChunker{maxSize: maxSize, overlap: overlap}, nil
}

// Chunk splits a document and attaches title, position and word counts.
func (c *SlidingChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	texts, err := Split(document.Content, c.maxSize, c.overlap)
	if err != nil {
		return nil, err
	}
	chunks := make([]domain.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = domain.Chunk{
			Title:     document.Title,
			Index:     i,
			Total:     len(texts),
			Text:      text,
			WordCount: len(strings.Fields(text)),
		}
	}
	return chunks, nil
}

// Split walks text in windows of maxSize characters. A window that stops
// short of the end is pulled back to just after the nearest '.', '!' or '?'
// found in its last 100 characters and beyond the overlap region. Each piece
// is trimmed and kept only when non-empty; the next window starts overlap
// characters before the previous end.
func Split(text string, maxSize, overlap int) ([]string, error) {
	if err := validate(maxSize, overlap); err != nil {
		return nil, err
	}
	runes := []rune(text)
	var out []string
	for _, w := range windows(runes, maxSize, overlap) {
		if piece := strings.TrimSpace(string(runes[w.start:w.end])); piece != "" {
			out = append(out, piece)
		}
	}
	return out, nil
}

type span struct{ start, end int }

func windows(runes []rune, maxSize, overlap int) []span {
	n := len(runes)
	var spans []span
	start := 0
	for start < n {
		end := start + maxSize
		if end < n {
			floor := max(start+overlap, end-boundaryLookback)
			for i := end; i > floor; i-- {
				if isTerminator(runes[i-1]) {
					end = i
					break
				}
			}
		} else {
			end = n
		}
		spans = append(spans, span{start, end})
		if end >= n {
			break
		}
		// end > start+overlap holds for every window, so start always advances.
		start = end - overlap
	}
	return spans
}

func validate(maxSize, overlap int) error {
	if maxSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrInvalidInput, maxSize)
	}
	if overlap < 0 || overlap >= maxSize {
		return fmt.Errorf("%w: overlap must be in [0, %d), got %d", domain.ErrInvalidInput, maxSize, overlap)
	}
	return nil
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
