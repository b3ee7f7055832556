package vectorindex

import (
	"fmt"
	"math"

	"github.com/fyrsmithlabs/docrag/internal/rag"
)

// validateVector rejects vectors chromem cannot score meaningfully:
// wrong dimension, non-finite components or zero norm (which would
// normalize to NaN).
func validateVector(vec []float32, dim int) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", rag.ErrEmbedding)
	}
	if dim > 0 && len(vec) != dim {
		return fmt.Errorf("%w: vector dimension %d does not match index dimension %d", rag.ErrEmbedding, len(vec), dim)
	}
	var norm float64
	for i, x := range vec {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: vector component %d is not finite", rag.ErrEmbedding, i)
		}
		norm += f * f
	}
	if norm == 0 {
		return fmt.Errorf("%w: zero-norm vector", rag.ErrEmbedding)
	}
	return nil
}
