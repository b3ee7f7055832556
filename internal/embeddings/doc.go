// Package embeddings turns text into vectors for the vector index.
//
// Providers:
//
//   - fastembed: local ONNX models (cgo builds only)
//   - tei: a HuggingFace text-embeddings-inference server
//   - openai: any OpenAI-compatible /embeddings endpoint, via langchaingo
//   - hash: deterministic feature hashing, for offline use and tests
//
// NewProvider wraps the chosen provider with OpenTelemetry metrics and,
// when configured, a request rate limit. Failures wrap rag.ErrEmbedding.
package embeddings
