// Package storage persists index and registry snapshots as numbered
// generations under a storage location.
//
// Layout:
//
//	<root>/CURRENT              name of the committed generation
//	<root>/LOCK                 advisory lock held while committing
//	<root>/gen-00000007/index.gob.zst
//	<root>/gen-00000007/registry.json
//
// A generation directory is fully written and fsynced before CURRENT is
// atomically replaced to point at it, so readers always observe the index
// and registry of the same commit.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/klauspost/compress/zstd"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/fingerprint"
	"github.com/fyrsmithlabs/docrag/internal/fsutil"
	"github.com/fyrsmithlabs/docrag/internal/rag"
	"github.com/fyrsmithlabs/docrag/internal/vectorindex"
)

const (
	CurrentFileName    = "CURRENT"
	LockFileName       = "LOCK"
	IndexFileName      = "index.gob"
	IndexFileNameZstd  = "index.gob.zst"
	generationPrefix   = "gen-"
	generationDigits   = 8
	lockRetryDelay     = 50 * time.Millisecond
	DefaultKeepHistory = 2
)

// ErrConflict is returned by Commit when another writer committed after the
// base generation was loaded.
var ErrConflict = errors.New("storage changed since it was loaded")

var tracer = otel.Tracer("docrag.storage")

// Snapshot is the committed state of a storage location.
type Snapshot struct {
	// Generation is 0 for a location that has never been committed.
	Generation uint64
	Index      *vectorindex.Index
	Registry   fingerprint.Registry
}

// Store reads and commits snapshots in a single directory.
type Store struct {
	root     string
	keep     int
	compress bool
	logger   *zap.Logger
	indexOps []vectorindex.Option
}

// Option configures a Store.
type Option func(*Store)

// WithKeepGenerations sets how many committed generations are retained.
// Values below 1 are ignored.
func WithKeepGenerations(n int) Option {
	return func(s *Store) {
		if n >= 1 {
			s.keep = n
		}
	}
}

// WithCompression toggles zstd compression of index snapshots.
func WithCompression(enabled bool) Option {
	return func(s *Store) { s.compress = enabled }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIndexOptions passes options to every index loaded from this store.
func WithIndexOptions(opts ...vectorindex.Option) Option {
	return func(s *Store) { s.indexOps = append(s.indexOps, opts...) }
}

// New returns a Store rooted at root. Nothing is created on disk until the
// first Commit.
func New(root string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("%w: storage path is required", rag.ErrConfiguration)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving storage path: %v", rag.ErrConfiguration, err)
	}
	s := &Store{
		root:     abs,
		keep:     DefaultKeepHistory,
		compress: true,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the absolute storage location.
func (s *Store) Root() string { return s.root }

func generationName(gen uint64) string {
	return fmt.Sprintf("%s%0*d", generationPrefix, generationDigits, gen)
}

func parseGeneration(name string) (uint64, bool) {
	if !strings.HasPrefix(name, generationPrefix) {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(name, generationPrefix), 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return n, true
}

// Current returns the committed generation, or 0 when there is none.
func (s *Store) Current() (uint64, error) {
	data, err := os.ReadFile(filepath.Join(s.root, CurrentFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: reading %s: %v", rag.ErrPersist, CurrentFileName, err)
	}
	name := strings.TrimSpace(string(data))
	gen, ok := parseGeneration(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s holds invalid generation %q", rag.ErrPersist, CurrentFileName, name)
	}
	return gen, nil
}

// Generations lists generation directories present on disk, ascending.
func (s *Store) Generations() ([]uint64, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: listing %s: %v", rag.ErrPersist, s.root, err)
	}
	var gens []uint64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if g, ok := parseGeneration(e.Name()); ok {
			gens = append(gens, g)
		}
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })
	return gens, nil
}

// Load reads the committed snapshot. A location without a committed
// generation yields an empty snapshot.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	_, span := tracer.Start(ctx, "Store.Load")
	defer span.End()

	gen, err := s.Current()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int64("generation", int64(gen)))

	if gen == 0 {
		ix, err := vectorindex.New(s.indexOps...)
		if err != nil {
			return nil, err
		}
		return &Snapshot{Index: ix, Registry: fingerprint.Registry{}}, nil
	}

	dir := filepath.Join(s.root, generationName(gen))
	ix, err := s.readIndex(dir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	regPath := filepath.Join(dir, fingerprint.FileName)
	if _, err := os.Stat(regPath); err != nil {
		err = fmt.Errorf("%w: generation %d has no registry: %v", rag.ErrPersist, gen, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	reg, err := fingerprint.Load(regPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("loaded snapshot",
		zap.String("root", s.root),
		zap.Uint64("generation", gen),
		zap.Int("segments", ix.Count()),
		zap.Int("documents", len(reg)),
	)
	return &Snapshot{Generation: gen, Index: ix, Registry: reg}, nil
}

func (s *Store) readIndex(dir string) (*vectorindex.Index, error) {
	f, err := os.Open(filepath.Join(dir, IndexFileNameZstd))
	compressed := err == nil
	if errors.Is(err, os.ErrNotExist) {
		f, err = os.Open(filepath.Join(dir, IndexFileName))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: opening index: %v", rag.ErrPersist, err)
	}
	defer f.Close()

	var r io.Reader = f
	if compressed {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("%w: opening zstd stream: %v", rag.ErrPersist, err)
		}
		defer dec.Close()
		r = dec
	}

	ix, err := vectorindex.Import(r, s.indexOps...)
	if err != nil {
		return nil, fmt.Errorf("%w: reading index: %v", rag.ErrPersist, err)
	}
	return ix, nil
}

// Commit writes ix and reg as a new generation and makes it current.
//
// base must be the generation the caller loaded; if another writer has
// committed since, nothing is written and the error wraps ErrConflict.
// On any failure the previously committed generation stays current.
func (s *Store) Commit(ctx context.Context, base uint64, ix *vectorindex.Index, reg fingerprint.Registry) (uint64, error) {
	ctx, span := tracer.Start(ctx, "Store.Commit")
	defer span.End()

	gen, err := s.commit(ctx, base, ix, reg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	span.SetAttributes(attribute.Int64("generation", int64(gen)))
	span.SetStatus(codes.Ok, "success")
	return gen, nil
}

func (s *Store) commit(ctx context.Context, base uint64, ix *vectorindex.Index, reg fingerprint.Registry) (uint64, error) {
	if ix == nil {
		return 0, fmt.Errorf("%w: nil index", rag.ErrPersist)
	}
	if err := os.MkdirAll(s.root, 0o700); err != nil {
		return 0, fmt.Errorf("%w: creating storage directory: %v", rag.ErrPersist, err)
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	current, err := s.Current()
	if err != nil {
		return 0, err
	}
	if current != base {
		return 0, fmt.Errorf("%w: %w (loaded generation %d, current %d)", rag.ErrPersist, ErrConflict, base, current)
	}

	// Failed commits may leave directories above current; never reuse them.
	gens, err := s.Generations()
	if err != nil {
		return 0, err
	}
	next := current + 1
	if n := len(gens); n > 0 && gens[n-1] >= next {
		next = gens[n-1] + 1
	}

	dir := filepath.Join(s.root, generationName(next))
	if err := os.Mkdir(dir, 0o700); err != nil {
		return 0, fmt.Errorf("%w: creating generation directory: %v", rag.ErrPersist, err)
	}
	if err := s.writeGeneration(dir, ix, reg); err != nil {
		_ = os.RemoveAll(dir)
		return 0, err
	}

	if err := writePointer(s.pointerPath(), next); err != nil {
		if errors.Is(err, fsutil.ErrNotDurable) && !s.restorePointer(current) {
			// CURRENT may still name the new generation; its directory must stay.
			return 0, fmt.Errorf("%w: updating %s: %v", rag.ErrPersist, CurrentFileName, err)
		}
		_ = os.RemoveAll(dir)
		return 0, fmt.Errorf("%w: updating %s: %v", rag.ErrPersist, CurrentFileName, err)
	}

	s.logger.Info("committed snapshot",
		zap.String("root", s.root),
		zap.Uint64("generation", next),
		zap.Int("segments", ix.Count()),
		zap.Int("documents", len(reg)),
	)
	s.prune(next)
	return next, nil
}

// writePointer replaces the CURRENT file at path with gen.
var writePointer = func(path string, gen uint64) error {
	return fsutil.WriteFileBytes(path, []byte(generationName(gen)+"\n"), 0o600)
}

func (s *Store) pointerPath() string { return filepath.Join(s.root, CurrentFileName) }

// restorePointer points CURRENT back at prev after a commit whose pointer
// rename landed but could not be made durable. Zero means no commit, so
// CURRENT is removed. It reports whether CURRENT no longer names the
// abandoned generation.
func (s *Store) restorePointer(prev uint64) bool {
	var err error
	if prev == 0 {
		err = os.Remove(s.pointerPath())
	} else {
		err = writePointer(s.pointerPath(), prev)
	}
	if err != nil && !errors.Is(err, fsutil.ErrNotDurable) {
		s.logger.Error("restoring CURRENT failed", zap.Uint64("generation", prev), zap.Error(err))
		return false
	}
	return true
}

func (s *Store) writeGeneration(dir string, ix *vectorindex.Index, reg fingerprint.Registry) error {
	name := IndexFileName
	if s.compress {
		name = IndexFileNameZstd
	}
	err := fsutil.WriteFile(filepath.Join(dir, name), 0o600, func(w io.Writer) error {
		if !s.compress {
			return ix.Export(w)
		}
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		if err := ix.Export(enc); err != nil {
			_ = enc.Close()
			return err
		}
		return enc.Close()
	})
	if err != nil {
		return fmt.Errorf("%w: writing index: %v", rag.ErrPersist, err)
	}
	return fingerprint.Save(filepath.Join(dir, fingerprint.FileName), reg)
}

// prune removes generations other than the newest s.keep at or below
// current. Failures are logged, not returned: the commit already succeeded.
func (s *Store) prune(current uint64) {
	gens, err := s.Generations()
	if err != nil {
		s.logger.Warn("listing generations for pruning failed", zap.Error(err))
		return
	}
	kept := 0
	for i := len(gens) - 1; i >= 0; i-- {
		g := gens[i]
		if g <= current && kept < s.keep {
			kept++
			continue
		}
		dir := filepath.Join(s.root, generationName(g))
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("removing old generation failed", zap.String("dir", dir), zap.Error(err))
			continue
		}
		s.logger.Debug("pruned generation", zap.Uint64("generation", g))
	}
}

// Reset removes every generation and the CURRENT pointer. A location that
// was never committed is left untouched.
func (s *Store) Reset(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Store.Reset")
	defer span.End()

	if _, err := os.Stat(s.root); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	unlock, err := s.lock(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer unlock()

	// Readers see an empty location as soon as CURRENT is gone.
	if err := os.Remove(filepath.Join(s.root, CurrentFileName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		err = fmt.Errorf("%w: removing %s: %v", rag.ErrPersist, CurrentFileName, err)
		span.RecordError(err)
		return err
	}
	if err := fsutil.SyncDir(s.root); err != nil {
		return fmt.Errorf("%w: %v", rag.ErrPersist, err)
	}

	gens, err := s.Generations()
	if err != nil {
		return err
	}
	for _, g := range gens {
		if err := os.RemoveAll(filepath.Join(s.root, generationName(g))); err != nil {
			return fmt.Errorf("%w: removing generation %d: %v", rag.ErrPersist, g, err)
		}
	}
	s.logger.Info("storage reset", zap.String("root", s.root), zap.Int("generations_removed", len(gens)))
	return nil
}

// lock takes the cross-process lock on the location.
func (s *Store) lock(ctx context.Context) (func(), error) {
	fl := flock.New(filepath.Join(s.root, LockFileName))
	ok, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("%w: locking %s: %v", rag.ErrPersist, s.root, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: could not lock %s", rag.ErrPersist, s.root)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn("releasing storage lock failed", zap.Error(err))
		}
	}, nil
}
