package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/docrag/internal/rag"
	"github.com/fyrsmithlabs/docrag/internal/segment"
)

const collectionName = "segments"

// Metadata keys stored on every entry.
const (
	metaIdentity   = "doc"
	metaGeneration = "gen"
	metaSeq        = "seq"
	metaPosition   = "pos"
)

const (
	// DefaultBatchSize is the number of segment texts sent per embedding call.
	DefaultBatchSize = 32

	// DefaultConcurrency is the number of embedding calls in flight during Insert.
	DefaultConcurrency = 4
)

// ErrDuplicateSegment is returned when an inserted segment ID already exists.
var ErrDuplicateSegment = errors.New("duplicate segment")

var tracer = otel.Tracer("docrag.vectorindex")

// segmentNamespace scopes the name-based UUIDs used as entry IDs.
var segmentNamespace = uuid.MustParse("6f0e9a52-2b7d-4c1e-9d8a-3e5f7b1c2d40")

// Embedder turns text into vectors of a fixed dimension.
type Embedder interface {
	// EmbedDocuments embeds a batch of texts, one vector per text.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single query text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Item is a segment to insert together with the generation of the
// document version it came from.
type Item struct {
	Segment    segment.Segment
	Generation int
}

// Hit is one retrieved entry.
type Hit struct {
	ID         string
	Identity   string
	Generation int
	Position   int
	Seq        int64
	Text       string
	Score      float32
}

// Index is an in-memory vector index with explicit snapshot persistence.
type Index struct {
	db   *chromem.DB
	coll *chromem.Collection

	logger      *zap.Logger
	batchSize   int
	concurrency int

	mu      sync.RWMutex
	dim     int
	nextSeq int64
	docs    map[string]int
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger. Nil keeps the no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(ix *Index) {
		if logger != nil {
			ix.logger = logger
		}
	}
}

// WithBatchSize sets how many texts go into one embedding call.
func WithBatchSize(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.batchSize = n
		}
	}
}

// WithConcurrency bounds the embedding calls in flight during Insert.
func WithConcurrency(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.concurrency = n
		}
	}
}

// New returns an empty index.
func New(opts ...Option) (*Index, error) {
	return newIndex(chromem.NewDB(), opts)
}

func newIndex(db *chromem.DB, opts []Option) (*Index, error) {
	ix := &Index{
		db:          db,
		logger:      zap.NewNop(),
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		docs:        make(map[string]int),
	}
	for _, opt := range opts {
		opt(ix)
	}

	coll := db.GetCollection(collectionName, refuseEmbedding)
	if coll == nil {
		var err error
		coll, err = db.CreateCollection(collectionName, nil, refuseEmbedding)
		if err != nil {
			return nil, fmt.Errorf("creating collection: %w", err)
		}
	}
	ix.coll = coll
	return ix, nil
}

// Create builds a new index from scratch holding items.
func Create(ctx context.Context, items []Item, embedder Embedder, opts ...Option) (*Index, error) {
	ix, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if _, err := ix.Insert(ctx, items, embedder); err != nil {
		return nil, err
	}
	return ix, nil
}

// refuseEmbedding is installed as the collection embedding function. Every
// entry is embedded by Insert before it reaches chromem.
func refuseEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("vectorindex: entries must carry embeddings")
}

// options returns options that reproduce this index's settings.
func (ix *Index) options() []Option {
	return []Option{
		WithLogger(ix.logger),
		WithBatchSize(ix.batchSize),
		WithConcurrency(ix.concurrency),
	}
}

// SegmentID returns the deterministic entry ID for a segment of a given
// document generation.
func SegmentID(identity string, generation, position int) string {
	name := identity + "\x00" + strconv.Itoa(generation) + "\x00" + strconv.Itoa(position)
	return uuid.NewSHA1(segmentNamespace, []byte(name)).String()
}

// Insert embeds items and adds them without touching existing entries.
// Nothing is added unless every item embeds successfully.
func (ix *Index) Insert(ctx context.Context, items []Item, embedder Embedder) (int, error) {
	ctx, span := tracer.Start(ctx, "Index.Insert")
	defer span.End()
	span.SetAttributes(attribute.Int("item_count", len(items)))

	if len(items) == 0 {
		return 0, nil
	}
	if embedder == nil {
		return 0, fmt.Errorf("%w: embedder is required", rag.ErrConfiguration)
	}

	ids := make([]string, len(items))
	seen := make(map[string]struct{}, len(items))
	for i, it := range items {
		ids[i] = SegmentID(it.Segment.Identity, it.Generation, it.Segment.Position)
		if _, dup := seen[ids[i]]; dup {
			return 0, fmt.Errorf("%w: %s appears twice in batch", ErrDuplicateSegment, ids[i])
		}
		seen[ids[i]] = struct{}{}
		if _, err := ix.coll.GetByID(ctx, ids[i]); err == nil {
			return 0, fmt.Errorf("%w: %s (document %q generation %d position %d)",
				ErrDuplicateSegment, ids[i], it.Segment.Identity, it.Generation, it.Segment.Position)
		}
	}

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Segment.Text
	}

	vectors, err := ix.embedAll(ctx, texts, embedder)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	dim := ix.dim
	if dim == 0 {
		dim = len(vectors[0])
	}
	for i, vec := range vectors {
		if err := validateVector(vec, dim); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return 0, fmt.Errorf("segment %d of %q: %w", items[i].Segment.Position, items[i].Segment.Identity, err)
		}
	}

	docs := make([]chromem.Document, len(items))
	seq := ix.nextSeq
	for i, it := range items {
		seq++
		docs[i] = chromem.Document{
			ID:      ids[i],
			Content: it.Segment.Text,
			Metadata: map[string]string{
				metaIdentity:   it.Segment.Identity,
				metaGeneration: strconv.Itoa(it.Generation),
				metaSeq:        strconv.FormatInt(seq, 10),
				metaPosition:   strconv.Itoa(it.Segment.Position),
			},
			Embedding: vectors[i],
		}
	}

	if err := ix.coll.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("adding segments: %w", err)
	}

	ix.dim = dim
	ix.nextSeq = seq
	for _, it := range items {
		ix.docs[it.Segment.Identity]++
	}

	span.SetAttributes(attribute.Int("segments_added", len(docs)))
	span.SetStatus(codes.Ok, "success")
	ix.logger.Debug("inserted segments",
		zap.Int("count", len(docs)),
		zap.Int64("next_seq", ix.nextSeq),
		zap.Int("dimension", ix.dim),
	)
	return len(docs), nil
}

// embedAll embeds texts in batches with bounded concurrency, keeping the
// output aligned with the input.
func (ix *Index) embedAll(ctx context.Context, texts []string, embedder Embedder) ([][]float32, error) {
	out := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.concurrency)
	for start := 0; start < len(texts); start += ix.batchSize {
		end := start + ix.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			batch := texts[start:end]
			vecs, err := embedder.EmbedDocuments(gctx, batch)
			if err != nil {
				if errors.Is(err, rag.ErrEmbedding) {
					return err
				}
				return fmt.Errorf("%w: %v", rag.ErrEmbedding, err)
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("%w: embedder returned %d vectors for %d texts", rag.ErrEmbedding, len(vecs), len(batch))
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteDocument removes every entry owned by identity and returns how many
// were removed.
func (ix *Index) DeleteDocument(ctx context.Context, identity string) (int, error) {
	_, span := tracer.Start(ctx, "Index.DeleteDocument")
	defer span.End()

	ix.mu.Lock()
	defer ix.mu.Unlock()

	n := ix.docs[identity]
	if n == 0 {
		return 0, nil
	}
	if err := ix.coll.Delete(ctx, map[string]string{metaIdentity: identity}, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("deleting segments of %q: %w", identity, err)
	}
	delete(ix.docs, identity)

	span.SetAttributes(attribute.Int("segments_removed", n))
	ix.logger.Debug("deleted document segments", zap.String("identity", identity), zap.Int("count", n))
	return n, nil
}

// Retrieve returns the topK entries most similar to query. Scores are cosine
// similarities in [-1, 1]; equal scores keep insertion order. An empty index
// yields no hits and no error.
func (ix *Index) Retrieve(ctx context.Context, query []float32, topK int) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "Index.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("top_k", topK))

	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", rag.ErrConfiguration, topK)
	}

	count := ix.coll.Count()
	if count == 0 {
		span.SetAttributes(attribute.Int("results_count", 0))
		return nil, nil
	}

	ix.mu.RLock()
	dim := ix.dim
	ix.mu.RUnlock()

	if err := validateVector(query, dim); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query vector: %w", err)
	}

	// chromem keeps entries in a map, so every entry is scored and the
	// insertion-order tie break is applied here.
	results, err := ix.coll.QueryEmbedding(ctx, query, count, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying index: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, toHit(r))
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Seq < hits[j].Seq
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

func toHit(r chromem.Result) Hit {
	gen, _ := strconv.Atoi(r.Metadata[metaGeneration])
	pos, _ := strconv.Atoi(r.Metadata[metaPosition])
	seq, _ := strconv.ParseInt(r.Metadata[metaSeq], 10, 64)
	return Hit{
		ID:         r.ID,
		Identity:   r.Metadata[metaIdentity],
		Generation: gen,
		Position:   pos,
		Seq:        seq,
		Text:       r.Content,
		Score:      r.Similarity,
	}
}

// Count returns the number of entries.
func (ix *Index) Count() int {
	return ix.coll.Count()
}

// Dimension returns the vector dimension, or 0 before the first insert.
func (ix *Index) Dimension() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dim
}

// SegmentCount returns the number of entries owned by identity.
func (ix *Index) SegmentCount(identity string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.docs[identity]
}

// Documents returns entry counts per document identity.
func (ix *Index) Documents() map[string]int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make(map[string]int, len(ix.docs))
	for k, v := range ix.docs {
		out[k] = v
	}
	return out
}
