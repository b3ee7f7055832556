// Package vectorindex is the persistent vector index of embedded segments.
//
// The index is a single chromem-go collection held in memory. Each entry
// carries the owning document identity, the document generation that
// produced it and a monotonically increasing insertion sequence, so that
// stale segments of a re-indexed document can be removed by identity and
// equal scores are ordered by insertion.
//
// Durability is explicit: Export writes a self-describing snapshot and
// Import restores it. The storage package decides where snapshots live and
// how they are committed.
//
// An Index is safe for concurrent readers. Mutations (Insert,
// DeleteDocument) must be serialized by the caller; the ingestion pipeline
// mutates a Clone and publishes it only after it has been persisted.
package vectorindex
