package rag

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/pketo/docchat/internal/extract"
)

// WatcherConfig configures directory watching.
type WatcherConfig struct {
	// Debounce batches rapid successive changes to the same file.
	Debounce time.Duration
	// MaxFileSize skips files larger than this many bytes.
	MaxFileSize int64
}

// DefaultWatcherConfig returns sensible defaults for the watcher.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		Debounce:    500 * time.Millisecond,
		MaxFileSize: 32 * 1024 * 1024,
	}
}

// Watcher monitors a documents directory and keeps the corpus in sync:
// created or modified files are re-ingested, removed files are deleted.
type Watcher struct {
	ingestor *Ingestor
	config   WatcherConfig
	dir      string
	log      *zap.SugaredLogger

	watcher *fsnotify.Watcher

	pendingMu sync.Mutex
	pending   map[string]fsnotify.Op
}

// NewWatcher creates a watcher over dir.
func NewWatcher(ingestor *Ingestor, dir string, cfg WatcherConfig, log *zap.SugaredLogger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, err
	}
	return &Watcher{
		ingestor: ingestor,
		config:   cfg,
		dir:      dir,
		log:      log,
		watcher:  fsWatcher,
		pending:  make(map[string]fsnotify.Op),
	}, nil
}

// Run processes events until the context is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	ticker := time.NewTicker(w.config.Debounce)
	defer ticker.Stop()

	w.log.Infow("watching documents directory", "dir", w.dir)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.record(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warnw("watch error", "error", err)
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// record accumulates the latest operation per path. Only supported
// document formats are tracked.
func (w *Watcher) record(event fsnotify.Event) {
	if _, err := extract.DetectFormat(event.Name); err != nil {
		return
	}
	op := event.Op & (fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename)
	if op == 0 {
		return
	}
	w.pendingMu.Lock()
	w.pending[event.Name] = op
	w.pendingMu.Unlock()
}

// flush applies all pending changes.
func (w *Watcher) flush(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	batch := w.pending
	w.pending = make(map[string]fsnotify.Op)
	w.pendingMu.Unlock()

	for path, op := range batch {
		name := filepath.Base(path)
		if op&(fsnotify.Remove|fsnotify.Rename) != 0 {
			if _, err := w.ingestor.Delete(ctx, name); err != nil {
				w.log.Errorw("delete after removal failed", "document", name, "error", err)
			}
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			continue // removed between event and flush
		}
		if info.IsDir() || info.Size() > w.config.MaxFileSize {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			w.log.Errorw("read changed file failed", "path", path, "error", err)
			continue
		}
		if _, err := w.ingestor.Ingest(ctx, data, name); err != nil {
			w.log.Errorw("auto-ingest failed", "document", name, "error", err)
		}
	}
}
