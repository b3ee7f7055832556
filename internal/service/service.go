// Package service ties ingestion and querying to one storage location.
//
// A Service holds the committed snapshot behind an atomic pointer. Queries
// read the pointer once and so observe either the state before an ingestion
// or the state after it. Ingestion builds the next snapshot on a clone and
// swaps it in only after the storage commit succeeded.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/ingest"
	"github.com/fyrsmithlabs/docrag/internal/query"
	"github.com/fyrsmithlabs/docrag/internal/rag"
	"github.com/fyrsmithlabs/docrag/internal/storage"
	"github.com/fyrsmithlabs/docrag/internal/vectorindex"
)

// Options configures a Service.
type Options struct {
	Pipeline    *ingest.Pipeline
	Embedder    vectorindex.Embedder
	Synthesizer query.Synthesizer
	// Query defaults to query.DefaultConfig() when zero.
	Query  query.Config
	Logger *zap.Logger
}

// Service answers queries against, and ingests into, one storage location.
type Service struct {
	pipeline *ingest.Pipeline
	store    *storage.Store
	embedder vectorindex.Embedder
	synth    query.Synthesizer
	cfg      query.Config
	logger   *zap.Logger

	snap atomic.Pointer[storage.Snapshot]
}

// Open loads the committed snapshot of the pipeline's storage location.
func Open(ctx context.Context, opts Options) (*Service, error) {
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("%w: pipeline is required", rag.ErrConfiguration)
	}
	if opts.Embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", rag.ErrConfiguration)
	}
	if opts.Synthesizer == nil {
		return nil, fmt.Errorf("%w: synthesizer is required", rag.ErrConfiguration)
	}
	cfg := opts.Query
	if cfg == (query.Config{}) {
		cfg = query.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		pipeline: opts.Pipeline,
		store:    opts.Pipeline.Store(),
		embedder: opts.Embedder,
		synth:    opts.Synthesizer,
		cfg:      cfg,
		logger:   logger,
	}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns the snapshot queries currently run against.
func (s *Service) Snapshot() *storage.Snapshot {
	return s.snap.Load()
}

// Reload replaces the in-memory snapshot with the committed one, picking
// up commits made by other processes.
func (s *Service) Reload(ctx context.Context) error {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	s.swap(snap)
	return nil
}

func (s *Service) swap(snap *storage.Snapshot) {
	s.snap.Store(snap)
	IndexSegments.Set(float64(snap.Index.Count()))
	IndexDocuments.Set(float64(len(snap.Registry)))
}

// Ingest applies docs to the current snapshot and swaps in the result. When
// another process committed in the meantime the snapshot is reloaded and
// the ingestion retried once.
func (s *Service) Ingest(ctx context.Context, docs []rag.Document) (*ingest.Report, error) {
	if len(docs) == 0 {
		return s.pipeline.Ingest(ctx, nil)
	}

	unlock := s.pipeline.Lock()
	defer unlock()

	report, err := s.applyLocked(ctx, docs)
	if errors.Is(err, storage.ErrConflict) {
		s.logger.Info("storage moved on, reloading before retry", zap.String("root", s.store.Root()))
		if err := s.Reload(ctx); err != nil {
			return nil, err
		}
		report, err = s.applyLocked(ctx, docs)
	}
	return report, err
}

func (s *Service) applyLocked(ctx context.Context, docs []rag.Document) (*ingest.Report, error) {
	base := s.snap.Load()
	report, next, err := s.pipeline.Apply(ctx, base, docs)
	if err != nil {
		return nil, err
	}
	if next != base {
		s.swap(next)
	}
	return report, nil
}

// Query answers text from the current snapshot.
func (s *Service) Query(ctx context.Context, text string) (*query.Result, error) {
	start := time.Now()
	snap := s.snap.Load()

	res, err := query.Query(ctx, text, snap.Index, s.embedder, s.synth, s.cfg)
	recordQuery(err, time.Since(start))
	if err != nil {
		if errors.Is(err, rag.ErrNoCandidates) {
			s.logger.Debug("no candidates for query", zap.Uint64("generation", snap.Generation))
		} else {
			s.logger.Warn("query failed", zap.Uint64("generation", snap.Generation), zap.Error(err))
		}
		return nil, err
	}
	return res, nil
}

// IngestAndQuery ingests docs, then answers text. An empty document set
// fails with rag.ErrNoDocuments before anything else happens.
func (s *Service) IngestAndQuery(ctx context.Context, docs []rag.Document, text string) (*query.Result, *ingest.Report, error) {
	if len(docs) == 0 {
		return nil, nil, rag.ErrNoDocuments
	}
	report, err := s.Ingest(ctx, docs)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.Query(ctx, text)
	if err != nil {
		return nil, report, err
	}
	return res, report, nil
}

// Reset deletes everything at the storage location and swaps in an empty
// snapshot.
func (s *Service) Reset(ctx context.Context) error {
	unlock := s.pipeline.Lock()
	defer unlock()

	if err := s.store.Reset(ctx); err != nil {
		return err
	}
	if err := s.Reload(ctx); err != nil {
		return err
	}
	s.logger.Info("index reset", zap.String("root", s.store.Root()))
	return nil
}

// DocumentStats describes one indexed document.
type DocumentStats struct {
	Identity      string    `json:"identity"`
	Hash          string    `json:"hash"`
	Segments      int       `json:"segments"`
	Generation    int       `json:"generation"`
	LastProcessed time.Time `json:"last_processed"`
}

// Stats summarizes the current snapshot.
type Stats struct {
	Location   string          `json:"location"`
	Generation uint64          `json:"generation"`
	Segments   int             `json:"segments"`
	Dimension  int             `json:"dimension"`
	Documents  []DocumentStats `json:"documents"`
}

// Stats reports on the current snapshot. Documents are sorted by identity.
func (s *Service) Stats() Stats {
	snap := s.snap.Load()
	st := Stats{
		Location:   s.store.Root(),
		Generation: snap.Generation,
		Segments:   snap.Index.Count(),
		Dimension:  snap.Index.Dimension(),
		Documents:  make([]DocumentStats, 0, len(snap.Registry)),
	}
	for id, rec := range snap.Registry {
		st.Documents = append(st.Documents, DocumentStats{
			Identity:      id,
			Hash:          rec.Hash,
			Segments:      rec.SegmentCount,
			Generation:    rec.Generation,
			LastProcessed: rec.LastProcessed,
		})
	}
	sort.Slice(st.Documents, func(i, j int) bool {
		return st.Documents[i].Identity < st.Documents[j].Identity
	})
	return st
}
