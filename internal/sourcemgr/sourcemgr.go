// Package sourcemgr adds, updates and removes style sources. GeoJSON data is
// serialized on a background queue and committed back on the main dispatcher.
package sourcemgr

import (
	"sync/atomic"

	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-mapstyle/internal/engine"
	"github.com/joeblew999/plat-mapstyle/internal/logger"
	"github.com/joeblew999/plat-mapstyle/internal/metrics"
	"github.com/joeblew999/plat-mapstyle/internal/runloop"
	"github.com/joeblew999/plat-mapstyle/internal/signal"
	"github.com/joeblew999/plat-mapstyle/internal/style"
)

// DataUpdate reports the outcome of a committed or failed data update.
type DataUpdate struct {
	SourceID string
	Err      error
}

type workItem struct {
	cancelled atomic.Bool
}

// Manager owns the per-source data work items. All methods must be called on
// the main goroutine.
type Manager struct {
	engine     engine.StyleManager
	main       runloop.Dispatcher
	background runloop.Dispatcher
	affinity   runloop.Affinity
	log        *zap.SugaredLogger

	items   map[string]*workItem
	updates *signal.Subject[DataUpdate]
}

// Option configures a Manager.
type Option func(*Manager)

// WithQueues sets the main dispatcher and the background queue.
func WithQueues(main, background runloop.Dispatcher) Option {
	return func(m *Manager) { m.main, m.background = main, background }
}

// WithAffinity sets the owner check. Defaults to the constructing goroutine.
func WithAffinity(a runloop.Affinity) Option {
	return func(m *Manager) { m.affinity = a }
}

// WithLogger overrides the component logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(m *Manager) { m.log = l }
}

// New creates a Manager. Without WithQueues data is serialized inline.
func New(eng engine.StyleManager, opts ...Option) *Manager {
	m := &Manager{
		engine:  eng,
		items:   map[string]*workItem{},
		updates: signal.NewSubject[DataUpdate](nil),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.main == nil || m.background == nil {
		m.main, m.background = inline{}, inline{}
	}
	if m.affinity == nil {
		m.affinity = runloop.Current()
	}
	if m.log == nil {
		m.log = logger.For(logger.ComponentSourceManager)
	}
	return m
}

type inline struct{}

func (inline) Async(fn func()) { fn() }

// Updates emits once per finished data update, on the main goroutine.
func (m *Manager) Updates() signal.Signal[DataUpdate] {
	return m.updates.Signal()
}

// Pending reports whether a data update for id is queued or in flight.
func (m *Manager) Pending(id string) bool {
	_, ok := m.items[id]
	return ok
}

// Add creates the source and schedules its data, if any.
func (m *Manager) Add(src style.Source) error {
	m.affinity.Check("sourcemgr.Add")

	var err error
	if src.Type == style.SourceTypeCustomGeometry {
		err = m.engine.AddCustomGeometrySource(src.ID, src.Properties.Clone())
	} else {
		err = m.engine.AddSource(src.ID, src.EngineProperties())
	}
	if err != nil {
		return err
	}
	if src.Data != nil {
		m.scheduleData(src.ID, src.Data)
	}
	return nil
}

// Update patches a source in place. A type change removes and re-adds it,
// and a source the engine does not have is added.
func (m *Manager) Update(prev, next style.Source) error {
	m.affinity.Check("sourcemgr.Update")

	if !m.engine.SourceExists(prev.ID) {
		return m.Add(next)
	}
	if prev.Type != next.Type {
		if err := m.Remove(prev.ID); err != nil {
			return err
		}
		return m.Add(next)
	}

	if patch := style.Patch(prev.EngineProperties(), next.EngineProperties()); len(patch) > 0 {
		if err := m.engine.SetSourceProperties(next.ID, patch); err != nil {
			return err
		}
	}
	if prev.Data != next.Data && next.Type != style.SourceTypeCustomGeometry {
		m.scheduleData(next.ID, next.Data)
	}
	return nil
}

// Remove cancels pending data work and removes the source.
func (m *Manager) Remove(id string) error {
	m.affinity.Check("sourcemgr.Remove")

	m.cancel(id)
	return m.engine.RemoveSource(id)
}

// CancelAll drops every pending data update.
func (m *Manager) CancelAll() {
	for id := range m.items {
		m.cancel(id)
	}
}

func (m *Manager) cancel(id string) {
	if item, ok := m.items[id]; ok {
		item.cancelled.Store(true)
		delete(m.items, id)
	}
}

// scheduleData supersedes any earlier update for id. An update already
// serializing runs to completion but only the latest one commits.
func (m *Manager) scheduleData(id string, fc *geojson.FeatureCollection) {
	m.cancel(id)
	item := &workItem{}
	m.items[id] = item

	m.background.Async(func() {
		if item.cancelled.Load() {
			metrics.RecordGeoJSONUpdate(metrics.GeoJSONSuperseded)
			return
		}
		raw, err := style.EncodeGeoJSON(fc)
		if item.cancelled.Load() {
			metrics.RecordGeoJSONUpdate(metrics.GeoJSONSuperseded)
			return
		}
		m.main.Async(func() { m.commit(id, item, raw, err) })
	})
}

func (m *Manager) commit(id string, item *workItem, raw []byte, err error) {
	if item.cancelled.Load() || m.items[id] != item {
		metrics.RecordGeoJSONUpdate(metrics.GeoJSONSuperseded)
		return
	}
	delete(m.items, id)

	if err == nil {
		err = m.engine.SetSourceProperties(id, style.Properties{"data": string(raw)})
	}
	if err != nil {
		metrics.RecordGeoJSONUpdate(metrics.GeoJSONFailed)
		m.log.Errorw("failed to update source data", "category", style.CategorySource.String(), "id", id, "error", err)
	} else {
		metrics.RecordGeoJSONUpdate(metrics.GeoJSONCommitted)
	}
	m.updates.Send(DataUpdate{SourceID: id, Err: err})
}
