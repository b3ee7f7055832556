package segment_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docrag/internal/rag"
	"github.com/fyrsmithlabs/docrag/internal/segment"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		wantErr bool
	}{
		{"defaults-like", 2048, 256, false},
		{"zero overlap", 10, 0, false},
		{"overlap equals size", 10, 10, true},
		{"overlap exceeds size", 10, 11, true},
		{"zero size", 0, 0, true},
		{"negative overlap", 10, -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := segment.New(segment.WithSize(tt.size), segment.WithOverlap(tt.overlap))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, rag.ErrConfiguration)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.size, s.Size())
			assert.Equal(t, tt.overlap, s.Overlap())
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	s, err := segment.New()
	require.NoError(t, err)
	assert.Equal(t, segment.DefaultSize, s.Size())
	assert.Equal(t, segment.DefaultOverlap, s.Overlap())
}

func TestSegment_ShortTextIsOneSegment(t *testing.T) {
	s, err := segment.New()
	require.NoError(t, err)

	segs := s.Segment("a.txt", "alpha beta")
	require.Len(t, segs, 1)
	assert.Equal(t, "alpha beta", segs[0].Text)
	assert.Equal(t, "a.txt", segs[0].Identity)
	assert.Equal(t, 0, segs[0].Position)
	assert.Equal(t, 0, segs[0].Start)
	assert.Equal(t, 10, segs[0].End)
}

func TestSegment_EmptyText(t *testing.T) {
	s, err := segment.New()
	require.NoError(t, err)
	assert.Empty(t, s.Segment("a", ""))
	assert.Empty(t, s.Segment("a", "   \n\t "))
}

func TestSegment_FixedWindowsWithOverlap(t *testing.T) {
	segs, err := segment.Split("doc", "abcdefghij", 4, 1)
	require.NoError(t, err)

	texts := make([]string, len(segs))
	for i, sg := range segs {
		texts[i] = sg.Text
		assert.Equal(t, i, sg.Position)
		assert.LessOrEqual(t, sg.End-sg.Start, 4)
	}
	assert.Equal(t, []string{"abcd", "defg", "ghij"}, texts)
}

func TestSegment_PrefersWordBoundaries(t *testing.T) {
	segs, err := segment.Split("doc", "one two three four", 10, 0)
	require.NoError(t, err)

	texts := make([]string, len(segs))
	for i, sg := range segs {
		texts[i] = sg.Text
	}
	assert.Equal(t, []string{"one two", "three four"}, texts)
}

func TestSegment_PrefersSentenceBoundaries(t *testing.T) {
	text := "Go is fun. Rust is too"
	segs, err := segment.Split("doc", text, 16, 0)
	require.NoError(t, err)
	require.NotEmpty(t, segs)
	assert.Equal(t, "Go is fun.", segs[0].Text)
}

func TestSegment_RuneAware(t *testing.T) {
	text := strings.Repeat("é", 10)
	segs, err := segment.Split("doc", text, 4, 0)
	require.NoError(t, err)
	require.Len(t, segs, 3)
	assert.Equal(t, "éééé", segs[0].Text)
	assert.Equal(t, "éé", segs[2].Text)
}

func TestSegment_Deterministic(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 200)
	s, err := segment.New(segment.WithSize(300), segment.WithOverlap(40))
	require.NoError(t, err)

	first := s.Segment("doc", text)
	second := s.Segment("doc", text)
	assert.Equal(t, first, second)
	assert.Greater(t, len(first), 1)
}

func TestSegment_CoversWholeText(t *testing.T) {
	text := strings.Repeat("word ", 500)
	s, err := segment.New(segment.WithSize(128), segment.WithOverlap(16))
	require.NoError(t, err)

	segs := s.Segment("doc", text)
	require.NotEmpty(t, segs)
	assert.Equal(t, 0, segs[0].Start)
	assert.Equal(t, len([]rune(text)), segs[len(segs)-1].End)
	for i := 1; i < len(segs); i++ {
		assert.LessOrEqual(t, segs[i].Start, segs[i-1].End, "segments must be contiguous or overlapping")
		assert.Greater(t, segs[i].Start, segs[i-1].Start, "segments must advance")
	}
}

func TestSegment_OverlapSurvivesBoundaryPullBack(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
	}{
		{"overlap above half the size", "aaaaaa bbbbbbbbbbbbbbbbbbbb cc", 10, 8},
		{"overlap just under size", "ab cd ef gh ij kl mn op", 6, 5},
		{"small overlap", "one two three four five six seven", 8, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segs, err := segment.Split("d", tt.text, tt.size, tt.overlap)
			require.NoError(t, err)
			require.Greater(t, len(segs), 1)
			for i := 1; i < len(segs); i++ {
				assert.Less(t, segs[i].Start, segs[i-1].End,
					"segment %d starts at %d, previous ended at %d", i, segs[i].Start, segs[i-1].End)
				assert.Greater(t, segs[i].Start, segs[i-1].Start)
				assert.LessOrEqual(t, segs[i].End-segs[i].Start, tt.size)
			}
			assert.Equal(t, len([]rune(tt.text)), segs[len(segs)-1].End)
		})
	}
}
