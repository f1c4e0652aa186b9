package service

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/joeblew999/plat-mapstyle/internal/engine/memory"
	"github.com/joeblew999/plat-mapstyle/internal/journal"
	"github.com/joeblew999/plat-mapstyle/internal/logger"
	"github.com/joeblew999/plat-mapstyle/internal/reconcile"
	"github.com/joeblew999/plat-mapstyle/internal/runloop"
	"github.com/joeblew999/plat-mapstyle/internal/sourcemgr"
	"github.com/joeblew999/plat-mapstyle/internal/style"
	"github.com/joeblew999/plat-mapstyle/internal/stylefile"
	"github.com/joeblew999/plat-mapstyle/internal/stylemanager"
)

//go:embed styles/*.json
var builtinStyles embed.FS

// BuiltinPrefix is the URI prefix of the embedded style documents.
const BuiltinPrefix = "mapbox://styles/mapbox/"

// LocalPrefix is the URI prefix of style documents found in DataDir/styles.
const LocalPrefix = "local://"

// ErrNoDocument is returned by Reload before any document was applied.
var ErrNoDocument = errors.New("no style document applied")

// Config holds the session configuration.
type Config struct {
	// DataDir is searched for styles/*.json, registered as local://<name>.
	DataDir string
	// Journal receives engine operations and style events. Optional.
	Journal *journal.Journal
	Logger  *zap.SugaredLogger
}

// StyleService owns a style session. The engine, the style manager and the
// reconciler live on the run loop; every method may be called from any
// goroutine once Run has started.
type StyleService struct {
	loop       *runloop.Loop
	background *runloop.SerialQueue
	engine     *memory.Engine
	manager    *stylemanager.Manager
	journal    *journal.Journal
	loader     *stylefile.Loader
	bus        *EventBus
	log        *zap.SugaredLogger
	styles     []string

	mu  sync.RWMutex
	doc *stylefile.Document
}

// NewStyleService builds the session. Nothing runs until Run is called.
func NewStyleService(cfg Config) (*StyleService, error) {
	s := &StyleService{
		loop:       runloop.New(),
		background: runloop.NewSerialQueue(),
		journal:    cfg.Journal,
		loader:     stylefile.NewLoader(),
		bus:        NewEventBus(),
		log:        cfg.Logger,
	}
	if s.log == nil {
		s.log = logger.For(logger.ComponentServer)
	}

	opts := []memory.Option{memory.WithDispatcher(s.loop)}
	if s.journal != nil {
		opts = append(opts, memory.WithObserver(func(op memory.Op) {
			if err := s.journal.RecordOp(context.Background(), op); err != nil {
				s.log.Warnw("failed to journal engine operation", "category", op.Category, "op", op.Name, "id", op.ID, "error", err)
			}
		}))
	}
	s.engine = memory.New(opts...)

	if err := s.registerStyles(cfg.DataDir); err != nil {
		s.background.Close()
		return nil, err
	}

	sources := sourcemgr.New(s.engine,
		sourcemgr.WithQueues(s.loop, s.background),
		sourcemgr.WithAffinity(s.loop),
	)
	rec := reconcile.New(s.engine,
		reconcile.WithAffinity(s.loop),
		reconcile.WithSourceManager(sources),
	)
	s.manager = stylemanager.New(s.engine,
		stylemanager.WithAffinity(s.loop),
		stylemanager.WithReconciler(rec),
	)

	s.manager.Events().Observe(func(e stylemanager.Event) {
		s.bus.Publish(NewEventView(e))
		if s.journal != nil {
			if err := s.journal.RecordEvent(context.Background(), e); err != nil {
				s.log.Warnw("failed to journal style event", "kind", e.Kind, "error", err)
			}
		}
	})
	sources.Updates().Observe(func(u sourcemgr.DataUpdate) {
		if u.Err != nil {
			s.log.Warnw("geojson update failed", "source", u.SourceID, "error", u.Err)
		}
	})

	return s, nil
}

func (s *StyleService) registerStyles(dataDir string) error {
	entries, err := builtinStyles.ReadDir("styles")
	if err != nil {
		return err
	}
	for _, e := range entries {
		raw, err := builtinStyles.ReadFile("styles/" + e.Name())
		if err != nil {
			return err
		}
		uri := BuiltinPrefix + strings.TrimSuffix(e.Name(), ".json")
		s.engine.RegisterStyle(uri, string(raw))
		s.styles = append(s.styles, uri)
	}

	if dataDir == "" {
		return nil
	}
	files, err := filepath.Glob(filepath.Join(dataDir, "styles", "*.json"))
	if err != nil {
		return err
	}
	for _, f := range files {
		raw, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("failed to read style %s: %w", f, err)
		}
		uri := LocalPrefix + strings.TrimSuffix(filepath.Base(f), ".json")
		s.engine.RegisterStyle(uri, string(raw))
		s.styles = append(s.styles, uri)
		s.log.Infow("registered local style", "uri", uri, "file", f)
	}
	return nil
}

// Run drives the run loop until ctx is done or Close is called.
func (s *StyleService) Run(ctx context.Context) error {
	err := s.loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops the run loop and the background queue.
func (s *StyleService) Close() {
	s.loop.Stop()
	s.background.Close()
}

// Events is the bus style events are published on.
func (s *StyleService) Events() *EventBus { return s.bus }

// Journal returns the journal, or nil when none is configured.
func (s *StyleService) Journal() *journal.Journal { return s.journal }

// Styles lists the style URIs registered with the engine.
func (s *StyleService) Styles() []string { return slices.Clone(s.styles) }

// Loader is the GeoJSON cache shared with document watchers.
func (s *StyleService) Loader() *stylefile.Loader { return s.loader }

// Document returns the last applied document.
func (s *StyleService) Document() (*stylefile.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc, s.doc != nil
}

// Apply declares doc and waits until the style is loaded and the content
// applied, or the load fails or is superseded.
func (s *StyleService) Apply(ctx context.Context, doc *stylefile.Document) error {
	ms, err := doc.MapStyle()
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	// The closure may still run after Sync gives up on ctx, so the document
	// is recorded together with the load it starts.
	err = s.loop.Sync(ctx, func() {
		s.mu.Lock()
		s.doc = doc
		s.mu.Unlock()
		s.manager.Load(ms, func(err error) { done <- err }, doc.LoadOptions()...)
	})
	if err != nil {
		return err
	}
	return s.wait(ctx, done)
}

// Reload loads the current style again and re-applies the content.
func (s *StyleService) Reload(ctx context.Context) error {
	if _, ok := s.Document(); !ok {
		return ErrNoDocument
	}
	done := make(chan error, 1)
	if err := s.loop.Sync(ctx, func() {
		s.manager.Reload(func(err error) { done <- err })
	}); err != nil {
		return err
	}
	return s.wait(ctx, done)
}

func (s *StyleService) wait(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status summarises the session.
func (s *StyleService) Status(ctx context.Context) (StyleStatus, error) {
	var st StyleStatus
	err := s.loop.Sync(ctx, func() {
		st.Phase = string(s.manager.Phase())
		if id := s.manager.Identity(); !id.IsZero() {
			st.Style = id.String()
		}
		st.Loaded = s.manager.Phase() == stylemanager.PhaseLoaded && s.engine.IsStyleLoaded()
		st.Layers = s.engine.LayerIDs()
		st.Sources = []string{}
		for _, src := range s.engine.Snapshot().Sources {
			st.Sources = append(st.Sources, src.ID)
		}
		st.Mounted = countNodes(s.manager.Mounted())
	})
	return st, err
}

// Snapshot copies the engine's live style.
func (s *StyleService) Snapshot(ctx context.Context) (memory.State, error) {
	var st memory.State
	err := s.loop.Sync(ctx, func() { st = s.engine.Snapshot() })
	return st, err
}

// Watch applies the document at path and re-applies it on every change
// until ctx is done. Rejected documents leave the current style in place.
func (s *StyleService) Watch(ctx context.Context, path string, opts ...stylefile.WatchOption) error {
	opts = append([]stylefile.WatchOption{stylefile.WithLoader(s.loader), stylefile.WithWatchLogger(s.log)}, opts...)
	return stylefile.Watch(ctx, path, func(doc *stylefile.Document, err error) {
		if err != nil {
			return
		}
		if err := s.Apply(ctx, doc); err != nil && ctx.Err() == nil {
			s.log.Warnw("style document not applied", "file", path, "error", err)
		}
	}, opts...)
}

// LoadFile reads a document through the shared GeoJSON cache.
func (s *StyleService) LoadFile(path string) (*stylefile.Document, error) {
	return s.loader.Load(path)
}

func countNodes(t *style.Tree) int {
	if t == nil {
		return 0
	}
	n := len(t.Layers) + len(t.Sources) + len(t.Images) + len(t.Models) + len(t.Imports) + len(t.Lights)
	for _, present := range []bool{t.Terrain != nil, t.Atmosphere != nil, t.Projection != nil} {
		if present {
			n++
		}
	}
	return n
}
