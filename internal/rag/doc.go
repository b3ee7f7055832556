// Package rag holds the types shared by the indexing and query packages:
// the transient input Document and the error classes every layer maps its
// failures onto.
//
// Callers classify failures with errors.Is:
//
//	res, err := svc.Query(ctx, "what is alpha?")
//	switch {
//	case errors.Is(err, rag.ErrNoCandidates):
//	    // render "no answer found"
//	case errors.Is(err, rag.ErrEmbedding), errors.Is(err, rag.ErrSynthesis):
//	    // upstream model failure
//	}
package rag
