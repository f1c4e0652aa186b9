package stylefile

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-mapstyle/internal/logger"
)

// DefaultDebounce coalesces the bursts of events editors produce on save.
const DefaultDebounce = 150 * time.Millisecond

// WatchOption configures Watch.
type WatchOption func(*watchConfig)

type watchConfig struct {
	debounce time.Duration
	log      *zap.SugaredLogger
	loader   *Loader
}

func WithDebounce(d time.Duration) WatchOption {
	return func(c *watchConfig) { c.debounce = d }
}

func WithWatchLogger(log *zap.SugaredLogger) WatchOption {
	return func(c *watchConfig) { c.log = log }
}

// WithLoader shares a GeoJSON cache between the watcher and other readers.
func WithLoader(l *Loader) WatchOption {
	return func(c *watchConfig) { c.loader = l }
}

// Watch loads the document at path, calls fn with it, and calls fn again
// every time the document or one of its data files changes. Parse errors are
// passed to fn and watching continues. Watch blocks until ctx is done.
//
// Directories are watched rather than files so that editors that replace the
// file on save keep being followed.
func Watch(ctx context.Context, path string, fn func(*Document, error), opts ...WatchOption) error {
	cfg := watchConfig{debounce: DefaultDebounce, loader: NewLoader()}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.log == nil {
		cfg.log = logger.For(logger.ComponentStyleFile)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	w := &docWatcher{cfg: cfg, path: abs, watcher: watcher, fn: fn, dirs: map[string]bool{}}
	if err := w.watchDir(filepath.Dir(abs)); err != nil {
		return err
	}
	w.reload()

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		// Wait for a reload that is already running.
		w.reloading.Lock()
		w.reloading.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !w.relevant(event.Name) {
				continue
			}
			cfg.log.Debugw("style file changed", "file", event.Name, "op", event.Op.String())
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(cfg.debounce, func() {
				if ctx.Err() == nil {
					w.reload()
				}
			})
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			cfg.log.Warnw("watcher error", "error", err)
		}
	}
}

type docWatcher struct {
	cfg     watchConfig
	path    string
	watcher *fsnotify.Watcher
	fn      func(*Document, error)

	reloading sync.Mutex
	dirs      map[string]bool

	mu    sync.Mutex
	files map[string]bool
}

func (w *docWatcher) watchDir(dir string) error {
	if w.dirs[dir] {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.dirs[dir] = true
	return nil
}

func (w *docWatcher) relevant(name string) bool {
	name = filepath.Clean(name)
	if name == w.path {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files[name]
}

func (w *docWatcher) reload() {
	w.reloading.Lock()
	defer w.reloading.Unlock()

	doc, err := w.cfg.loader.Load(w.path)
	if err == nil {
		files := map[string]bool{}
		w.mu.Lock()
		for _, f := range doc.DataFiles() {
			f, _ = filepath.Abs(f)
			files[f] = true
			if werr := w.watchDir(filepath.Dir(f)); werr != nil {
				w.cfg.log.Warnw("cannot watch data file", "file", f, "error", werr)
			}
		}
		w.files = files
		w.mu.Unlock()
		w.cfg.log.Infow("style document loaded", "file", w.path, "layers", len(doc.Layers), "sources", len(doc.Sources))
	} else {
		w.cfg.log.Warnw("style document rejected", "file", w.path, "error", err)
	}
	w.fn(doc, err)
}
