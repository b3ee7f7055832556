// Package segment splits document text into overlapping, bounded segments.
package segment

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/docrag/internal/rag"
)

// DefaultSize is the default segment size in runes.
const DefaultSize = 2048

// DefaultOverlap is the default number of runes shared by consecutive segments.
const DefaultOverlap = 256

// Segment is a contiguous span of one document's text.
type Segment struct {
	// Identity is the owning document identity.
	Identity string
	// Position is the zero-based order of the segment within its document.
	Position int
	// Start and End are rune offsets of the span in the source text.
	Start, End int
	// Text is the span content with surrounding whitespace trimmed.
	Text string
}

// Segmenter splits text into segments of at most Size runes where each
// segment starts Overlap runes before the previous one ended.
type Segmenter struct {
	size    int
	overlap int
}

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithSize sets the maximum segment size in runes.
func WithSize(size int) Option {
	return func(s *Segmenter) {
		s.size = size
	}
}

// WithOverlap sets the overlap between consecutive segments in runes.
func WithOverlap(overlap int) Option {
	return func(s *Segmenter) {
		s.overlap = overlap
	}
}

// New creates a Segmenter. Invalid bounds fail with rag.ErrConfiguration.
func New(opts ...Option) (*Segmenter, error) {
	s := &Segmenter{
		size:    DefaultSize,
		overlap: DefaultOverlap,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := Validate(s.size, s.overlap); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks segment bounds.
func Validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: segment size must be positive, got %d", rag.ErrConfiguration, size)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: segment overlap must not be negative, got %d", rag.ErrConfiguration, overlap)
	}
	if overlap >= size {
		return fmt.Errorf("%w: segment overlap %d must be smaller than size %d", rag.ErrConfiguration, overlap, size)
	}
	return nil
}

// Size returns the configured segment size.
func (s *Segmenter) Size() int { return s.size }

// Overlap returns the configured overlap.
func (s *Segmenter) Overlap() int { return s.overlap }

// Segment splits text owned by identity. The result depends only on the
// text and the configured bounds.
func (s *Segmenter) Segment(identity, text string) []Segment {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	var out []Segment
	start := 0
	for start < n {
		end := start + s.size
		if end >= n {
			end = n
		} else if b := s.boundary(runes, start, end); b-s.overlap > start {
			// Only pull back while the next segment still overlaps this one.
			end = b
		}

		if body := strings.TrimSpace(string(runes[start:end])); body != "" {
			out = append(out, Segment{
				Identity: identity,
				Position: len(out),
				Start:    start,
				End:      end,
				Text:     body,
			})
		}

		if end == n {
			break
		}
		start = end - s.overlap
	}
	return out
}

// boundary moves a cut point back to the nearest sentence end or whitespace
// in the second half of the window, so words are not split when avoidable.
func (s *Segmenter) boundary(runes []rune, start, end int) int {
	floor := start + s.size/2
	for i := end - 1; i > floor; i-- {
		r := runes[i]
		if r == '\n' {
			return i + 1
		}
		if (r == '.' || r == '!' || r == '?') && i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			return i + 1
		}
	}
	for i := end - 1; i > floor; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return end
}

// Split is a convenience wrapper for one-off segmentation.
func Split(identity, text string, size, overlap int) ([]Segment, error) {
	s, err := New(WithSize(size), WithOverlap(overlap))
	if err != nil {
		return nil, err
	}
	return s.Segment(identity, text), nil
}
