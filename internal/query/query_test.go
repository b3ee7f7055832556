package query_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docrag/internal/query"
	"github.com/fyrsmithlabs/docrag/internal/rag"
	"github.com/fyrsmithlabs/docrag/internal/vectorindex"
)

type fixedRetriever struct {
	hits []vectorindex.Hit
	topK int
	err  error
}

func (r *fixedRetriever) Retrieve(_ context.Context, _ []float32, topK int) ([]vectorindex.Hit, error) {
	r.topK = topK
	if r.err != nil {
		return nil, r.err
	}
	if len(r.hits) > topK {
		return r.hits[:topK], nil
	}
	return r.hits, nil
}

type constEmbedder struct {
	err error
}

func (e constEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 0}, nil
}

type recordingSynth struct {
	question string
	contexts []string
	answer   string
	err      error
}

func (s *recordingSynth) Synthesize(_ context.Context, question string, contexts []string) (string, error) {
	s.question = question
	s.contexts = contexts
	return s.answer, s.err
}

func hit(text string, score float32) vectorindex.Hit {
	return vectorindex.Hit{Identity: text + ".txt", Text: text, Score: score}
}

func TestQuery_FiltersRanksAndCaps(t *testing.T) {
	ret := &fixedRetriever{hits: []vectorindex.Hit{
		hit("p", 0.9), hit("q", 0.3), hit("r", 0.7), hit("s", 0.6),
	}}
	synth := &recordingSynth{answer: "42"}
	cfg := query.Config{CandidatePool: 10, SimilarityCutoff: 0.5, MaxSelected: 2}

	res, err := query.Query(context.Background(), "what?", ret, constEmbedder{}, synth, cfg)
	require.NoError(t, err)

	assert.Equal(t, "42", res.Answer)
	require.Len(t, res.Sources, 2)
	assert.Equal(t, query.Source{Text: "p", Score: 0.9, Identity: "p.txt"}, res.Sources[0])
	assert.Equal(t, query.Source{Text: "r", Score: 0.7, Identity: "r.txt"}, res.Sources[1])

	assert.Equal(t, "what?", synth.question)
	assert.Equal(t, []string{"p", "r"}, synth.contexts)
	assert.Equal(t, 10, ret.topK)
}

func TestQuery_DefaultConfig(t *testing.T) {
	cfg := query.DefaultConfig()
	assert.Equal(t, 10, cfg.CandidatePool)
	assert.Equal(t, 0.5, cfg.SimilarityCutoff)
	assert.Equal(t, 8, cfg.MaxSelected)
	assert.NoError(t, cfg.Validate())
}

func TestQuery_CandidatePoolIsIndependentOfMaxSelected(t *testing.T) {
	var hits []vectorindex.Hit
	for i := 0; i < 12; i++ {
		hits = append(hits, hit(string(rune('a'+i)), 0.95-float32(i)*0.01))
	}
	ret := &fixedRetriever{hits: hits}
	synth := &recordingSynth{}

	res, err := query.Query(context.Background(), "q", ret, constEmbedder{}, synth, query.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 10, ret.topK)
	assert.Len(t, res.Sources, 8)
}

func TestQuery_CutoffIsInclusive(t *testing.T) {
	ret := &fixedRetriever{hits: []vectorindex.Hit{hit("edge", 0.5), hit("below", 0.49)}}
	res, err := query.Query(context.Background(), "q", ret, constEmbedder{}, &recordingSynth{}, query.DefaultConfig())
	require.NoError(t, err)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "edge", res.Sources[0].Text)
}

func TestQuery_NoCandidates(t *testing.T) {
	tests := []struct {
		name string
		hits []vectorindex.Hit
	}{
		{"empty index", nil},
		{"all below cutoff", []vectorindex.Hit{hit("a", 0.2), hit("b", 0.49)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			synth := &recordingSynth{}
			_, err := query.Query(context.Background(), "q", &fixedRetriever{hits: tt.hits}, constEmbedder{}, synth, query.DefaultConfig())
			assert.ErrorIs(t, err, rag.ErrNoCandidates)
			assert.Nil(t, synth.contexts, "synthesis must not run")
		})
	}
}

func TestQuery_EmptyRealIndex(t *testing.T) {
	ix, err := vectorindex.New()
	require.NoError(t, err)

	_, err = query.Query(context.Background(), "q", ix, constEmbedder{}, &recordingSynth{}, query.DefaultConfig())
	assert.ErrorIs(t, err, rag.ErrNoCandidates)
}

func TestQuery_Errors(t *testing.T) {
	ok := &fixedRetriever{hits: []vectorindex.Hit{hit("a", 0.9)}}

	t.Run("embedding", func(t *testing.T) {
		_, err := query.Query(context.Background(), "q", ok, constEmbedder{err: errors.New("down")}, &recordingSynth{}, query.DefaultConfig())
		assert.ErrorIs(t, err, rag.ErrEmbedding)
	})
	t.Run("synthesis", func(t *testing.T) {
		_, err := query.Query(context.Background(), "q", ok, constEmbedder{}, &recordingSynth{err: errors.New("503")}, query.DefaultConfig())
		assert.ErrorIs(t, err, rag.ErrSynthesis)
	})
	t.Run("retrieval", func(t *testing.T) {
		bad := &fixedRetriever{err: rag.ErrEmbedding}
		_, err := query.Query(context.Background(), "q", bad, constEmbedder{}, &recordingSynth{}, query.DefaultConfig())
		assert.ErrorIs(t, err, rag.ErrEmbedding)
	})
	t.Run("configuration", func(t *testing.T) {
		for _, cfg := range []query.Config{
			{CandidatePool: 0, SimilarityCutoff: 0.5, MaxSelected: 8},
			{CandidatePool: 10, SimilarityCutoff: 0.5, MaxSelected: 0},
			{CandidatePool: 10, SimilarityCutoff: 1.5, MaxSelected: 8},
		} {
			_, err := query.Query(context.Background(), "q", ok, constEmbedder{}, &recordingSynth{}, cfg)
			assert.ErrorIs(t, err, rag.ErrConfiguration)
		}
	})
	t.Run("empty question", func(t *testing.T) {
		_, err := query.Query(context.Background(), "  ", ok, constEmbedder{}, &recordingSynth{}, query.DefaultConfig())
		assert.ErrorIs(t, err, rag.ErrConfiguration)
	})
}

func TestSelect_StableTies(t *testing.T) {
	in := []vectorindex.Hit{
		{Identity: "x", Score: 0.8, Seq: 1},
		{Identity: "y", Score: 0.9, Seq: 2},
		{Identity: "z", Score: 0.8, Seq: 3},
	}
	out := query.Select(in, 0.5, 10)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"y", "x", "z"}, []string{out[0].Identity, out[1].Identity, out[2].Identity})
	assert.Equal(t, "x", in[0].Identity, "input must not be reordered")
}
