// Package ingest brings a storage location up to date with a document set.
//
// A run classifies the documents against the committed registry, segments
// and embeds every NEW or CHANGED document into a clone of the committed
// index, removes the previous segments of CHANGED documents, and commits
// index and registry together as one storage generation. If nothing changed
// no generation is written.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/change"
	"github.com/fyrsmithlabs/docrag/internal/fingerprint"
	"github.com/fyrsmithlabs/docrag/internal/rag"
	"github.com/fyrsmithlabs/docrag/internal/segment"
	"github.com/fyrsmithlabs/docrag/internal/storage"
	"github.com/fyrsmithlabs/docrag/internal/vectorindex"
)

var tracer = otel.Tracer("docrag.ingest")

// Redactor scrubs segment text before it is embedded and stored.
type Redactor interface {
	Redact(text string) string
}

// Pipeline runs ingestion against one storage location.
type Pipeline struct {
	store     *storage.Store
	segmenter *segment.Segmenter
	embedder  vectorindex.Embedder
	redactor  Redactor
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRedactor scrubs segment text before embedding. Fingerprints are
// still computed over the original text.
func WithRedactor(r Redactor) Option {
	return func(p *Pipeline) { p.redactor = r }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides the time source used for last_processed.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// New returns a Pipeline. All three collaborators are required.
func New(store *storage.Store, seg *segment.Segmenter, embedder vectorindex.Embedder, opts ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: storage is required", rag.ErrConfiguration)
	}
	if seg == nil {
		return nil, fmt.Errorf("%w: segmenter is required", rag.ErrConfiguration)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", rag.ErrConfiguration)
	}
	p := &Pipeline{
		store:     store,
		segmenter: seg,
		embedder:  embedder,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Store returns the storage the pipeline commits to.
func (p *Pipeline) Store() *storage.Store { return p.store }

// Lock serializes ingestion on the pipeline's storage location within the
// process. Callers of Apply must hold it.
func (p *Pipeline) Lock() (unlock func()) {
	return lockLocation(p.store.Root())
}

// Ingest loads the committed snapshot, applies docs and commits. An empty
// document set returns an empty report without touching storage.
func (p *Pipeline) Ingest(ctx context.Context, docs []rag.Document) (*Report, error) {
	if len(docs) == 0 {
		return &Report{RunID: newRunID(), Entries: []Entry{}}, nil
	}
	unlock := p.Lock()
	defer unlock()

	base, err := p.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	report, _, err := p.Apply(ctx, base, docs)
	return report, err
}

// Apply ingests docs on top of base and returns the report together with
// the resulting snapshot. base is never modified: on success with changes
// the returned snapshot is a new, committed one; without changes it is base
// itself. On failure nothing is committed and base remains current.
func (p *Pipeline) Apply(ctx context.Context, base *storage.Snapshot, docs []rag.Document) (*Report, *storage.Snapshot, error) {
	start := p.now()
	report := &Report{RunID: newRunID(), Entries: []Entry{}}

	ctx, span := tracer.Start(ctx, "Pipeline.Apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", report.RunID),
		attribute.Int("document_count", len(docs)),
	)

	logger := p.logger.With(zap.String("run_id", report.RunID))

	next, err := p.apply(ctx, base, docs, report, logger)
	report.Duration = p.now().Sub(start)
	recordRun(report, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("ingestion failed", zap.Error(err), zap.Duration("duration", report.Duration))
		return nil, base, err
	}

	span.SetAttributes(
		attribute.Int("segments_added", report.SegmentsAdded),
		attribute.Int("segments_removed", report.SegmentsRemoved),
		attribute.Int64("generation", int64(report.Generation)),
	)
	span.SetStatus(codes.Ok, "success")
	logger.Info("ingestion finished",
		zap.Int("new", report.Count(change.New)),
		zap.Int("changed", report.Count(change.Changed)),
		zap.Int("unchanged", report.Count(change.Unchanged)),
		zap.Int("segments_added", report.SegmentsAdded),
		zap.Int("segments_removed", report.SegmentsRemoved),
		zap.Uint64("generation", report.Generation),
		zap.Duration("duration", report.Duration),
	)
	return report, next, nil
}

func (p *Pipeline) apply(ctx context.Context, base *storage.Snapshot, docs []rag.Document, report *Report, logger *zap.Logger) (*storage.Snapshot, error) {
	if base == nil || base.Index == nil {
		return nil, errors.New("ingest: base snapshot is required")
	}
	if len(docs) == 0 {
		return base, nil
	}

	classes := change.Classify(docs, base.Registry)

	var pending []change.Classification
	for _, c := range classes {
		entry := Entry{Identity: c.Identity, Kind: c.Kind}
		if c.Kind.NeedsIndexing() {
			pending = append(pending, c)
		} else {
			entry.Segments = c.Previous.SegmentCount
			entry.Generation = c.Previous.Generation
		}
		report.Entries = append(report.Entries, entry)
		logger.Debug("classified document",
			zap.String("identity", c.Identity),
			zap.Stringer("kind", c.Kind),
			zap.Int("fragments", len(c.Fragments)),
		)
	}
	if len(pending) == 0 {
		return base, nil
	}

	ix, err := base.Index.Clone()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rag.ErrPersist, err)
	}
	reg := base.Registry.Clone()

	var items []vectorindex.Item
	records := make(map[string]fingerprint.Record, len(pending))
	for _, c := range pending {
		if c.Kind == change.Changed {
			removed, err := ix.DeleteDocument(ctx, c.Identity)
			if err != nil {
				return nil, err
			}
			report.SegmentsRemoved += removed
		}

		gen := c.Previous.Generation + 1
		segs := p.segmenter.Segment(c.Identity, c.Text)
		for _, s := range segs {
			if p.redactor != nil {
				s.Text = p.redactor.Redact(s.Text)
			}
			items = append(items, vectorindex.Item{Segment: s, Generation: gen})
		}
		// A blank document keeps a record with no segments so the next run
		// classifies it UNCHANGED.
		records[c.Identity] = fingerprint.Record{
			Hash:         c.Hash,
			SegmentCount: len(segs),
			Generation:   gen,
		}
	}

	added, err := ix.Insert(ctx, items, p.embedder)
	if err != nil {
		return nil, err
	}
	report.SegmentsAdded = added

	processed := p.now().UTC()
	for id, rec := range records {
		rec.LastProcessed = processed
		reg[id] = rec
	}
	for i := range report.Entries {
		if rec, ok := records[report.Entries[i].Identity]; ok {
			report.Entries[i].Segments = rec.SegmentCount
			report.Entries[i].Generation = rec.Generation
		}
	}

	gen, err := p.store.Commit(ctx, base.Generation, ix, reg)
	if err != nil {
		return nil, err
	}
	report.Generation = gen
	return &storage.Snapshot{Generation: gen, Index: ix, Registry: reg}, nil
}

func newRunID() string {
	return uuid.NewString()
}
