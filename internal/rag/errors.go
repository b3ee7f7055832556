package rag

import "errors"

var (
	// ErrConfiguration indicates invalid segmenter or query settings.
	ErrConfiguration = errors.New("configuration error")

	// ErrEmbedding indicates the embedding function failed or returned unusable vectors.
	ErrEmbedding = errors.New("embedding failed")

	// ErrSynthesis indicates the answer-generation function failed.
	ErrSynthesis = errors.New("synthesis failed")

	// ErrPersist indicates durable storage could not be read or written.
	ErrPersist = errors.New("persist failed")

	// ErrNoCandidates indicates a query found no segment at or above the cutoff.
	ErrNoCandidates = errors.New("no candidates above similarity cutoff")

	// ErrNoDocuments indicates the document source produced nothing to index.
	ErrNoDocuments = errors.New("no documents found")
)
