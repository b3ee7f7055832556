package synthesis

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"
)

// Extractive answers with the context sentences that best match the
// question. It never calls a model and never fails on non-empty context.
type Extractive struct {
	maxChars int
}

// NewExtractive returns an extractive synthesizer whose answers are at most
// maxChars bytes long (DefaultMaxChars when maxChars <= 0), except that at
// least one sentence is always returned.
func NewExtractive(maxChars int) *Extractive {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Extractive{maxChars: maxChars}
}

type sentence struct {
	text    string
	context int
	index   int
	score   float64
}

// Synthesize scores every sentence of every context and joins the best ones
// in their original reading order.
func (e *Extractive) Synthesize(ctx context.Context, question string, contexts []string) (string, error) {
	if len(contexts) == 0 {
		return "", ErrNoContext
	}
	if err := ctx.Err(); err != nil {
		return "", wrapFailure(err)
	}

	var sentences []sentence
	for ci, c := range contexts {
		for _, s := range splitIntoSentences(c) {
			sentences = append(sentences, sentence{text: s, context: ci, index: len(sentences)})
		}
	}
	if len(sentences) == 0 {
		return "", ErrNoContext
	}

	scoreSentences(sentences, terms(question))

	ranked := make([]sentence, len(sentences))
	copy(ranked, sentences)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	var selected []sentence
	length := 0
	for _, s := range ranked {
		extra := len(s.text)
		if len(selected) > 0 {
			extra++
		}
		if length+extra <= e.maxChars {
			selected = append(selected, s)
			length += extra
		}
	}
	if len(selected) == 0 {
		selected = append(selected, ranked[0])
	}

	sort.Slice(selected, func(i, j int) bool {
		return selected[i].index < selected[j].index
	})

	parts := make([]string, len(selected))
	for i, s := range selected {
		parts[i] = s.text
	}
	return strings.Join(parts, " "), nil
}

// splitIntoSentences breaks text at '.', '!' and '?' once the pending
// sentence is longer than ten bytes.
func splitIntoSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			s := strings.TrimSpace(current.String())
			if len(s) > 10 {
				sentences = append(sentences, s)
				current.Reset()
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func normalizeWord(w string) string {
	return strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}))
}

// terms returns the distinct words of q longer than two characters.
func terms(q string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(q) {
		if w = normalizeWord(w); len(w) > 2 {
			out[w] = struct{}{}
		}
	}
	return out
}

// scoreSentences weights question overlap most, then length, then earlier
// contexts (which ranked higher at retrieval) and earlier positions.
func scoreSentences(sentences []sentence, query map[string]struct{}) {
	for i := range sentences {
		s := &sentences[i]
		words := strings.Fields(s.text)

		overlap := 0.0
		if len(query) > 0 {
			seen := make(map[string]struct{})
			for _, w := range words {
				w = normalizeWord(w)
				if _, ok := query[w]; ok {
					seen[w] = struct{}{}
				}
			}
			overlap = float64(len(seen)) / float64(len(query))
		}

		lengthScore := math.Min(float64(len(words))/20.0, 1.0)
		if len(words) > 20 {
			lengthScore = math.Max(1.0-(float64(len(words))-20.0)/50.0, 0.1)
		}

		rank := 1.0 / (float64(s.context) + 1.0)
		position := 1.0 / (float64(s.index) + 1.0)

		s.score = overlap*0.6 + lengthScore*0.2 + rank*0.15 + position*0.05
	}
}
