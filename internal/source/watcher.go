package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period before a batch of changes is emitted.
const DefaultDebounce = 2 * time.Second

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// Change is a debounced batch of filesystem changes below the watched directory.
type Change struct {
	// Paths are the absolute paths touched, sorted and de-duplicated.
	Paths []string
	// Time is when the batch was emitted.
	Time time.Time
}

// Watcher reports changes to a data directory tree.
type Watcher struct {
	root     string
	debounce time.Duration
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	changes  chan Change
	stop     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher for dir. A debounce of zero uses DefaultDebounce.
func NewWatcher(dir string, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	root, err := validateDir(dir)
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	return &Watcher{
		root:     root,
		debounce: debounce,
		logger:   logger,
		watcher:  fw,
		changes:  make(chan Change, 1),
		stop:     make(chan struct{}),
	}, nil
}

// Start registers the directory tree and processes events in the
// background until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.root); err != nil {
		return fmt.Errorf("watching %s: %w", w.root, err)
	}
	go w.run(ctx)
	return nil
}

// Stop stops the watcher and closes the Changes channel.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
	})
}

// Changes delivers debounced change batches. It is closed after Stop.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && skipDirs[d.Name()] {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.changes)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	pending := make(map[string]struct{})
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			w.Stop()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !skipDirs[info.Name()] {
					if err := w.addTree(event.Name); err != nil {
						w.logger.Warn("failed to watch new directory", zap.String("path", event.Name), zap.Error(err))
					}
				}
			}
			pending[event.Name] = struct{}{}
			timer.Reset(w.debounce)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			pending = make(map[string]struct{})

			w.logger.Debug("data directory changed", zap.Int("paths", len(paths)))
			select {
			case w.changes <- Change{Paths: paths, Time: time.Now()}:
			case <-w.stop:
				return
			case <-ctx.Done():
				w.Stop()
				return
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("filesystem watcher error", zap.Error(err))
		}
	}
}
