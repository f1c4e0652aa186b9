// Package reconcile applies the difference between two content trees to the
// engine with the fewest calls it can.
package reconcile

import (
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/joeblew999/plat-mapstyle/internal/diff"
	"github.com/joeblew999/plat-mapstyle/internal/engine"
	"github.com/joeblew999/plat-mapstyle/internal/logger"
	"github.com/joeblew999/plat-mapstyle/internal/metrics"
	"github.com/joeblew999/plat-mapstyle/internal/runloop"
	"github.com/joeblew999/plat-mapstyle/internal/sourcemgr"
	"github.com/joeblew999/plat-mapstyle/internal/style"
)

// Operation kinds.
const (
	OpAdd    = "add"
	OpRemove = "remove"
	OpUpdate = "update"
	OpMove   = "move"
	OpConfig = "config"
)

// Operation is one engine call issued, or skipped, during a pass.
type Operation struct {
	Category style.Category
	Op       string
	ID       string
	Err      error
}

// Report summarises a pass.
type Report struct {
	Operations []Operation
	Violations []style.BuildContractViolation
	Duration   time.Duration
	// Err is an Errors value when any operation failed.
	Err error
}

// Reconciler owns the mounted tree. It must only be used from the goroutine
// that owns the engine.
type Reconciler struct {
	engine   engine.StyleManager
	sources  *sourcemgr.Manager
	affinity runloop.Affinity
	log      *zap.SugaredLogger
	mounted  *style.Tree
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithAffinity sets the owner check. Defaults to the constructing goroutine.
func WithAffinity(a runloop.Affinity) Option {
	return func(r *Reconciler) { r.affinity = a }
}

// WithLogger overrides the component logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(r *Reconciler) { r.log = l }
}

// WithSourceManager routes source operations through m.
func WithSourceManager(m *sourcemgr.Manager) Option {
	return func(r *Reconciler) { r.sources = m }
}

// New creates a Reconciler with an empty mounted tree.
func New(eng engine.StyleManager, opts ...Option) *Reconciler {
	r := &Reconciler{engine: eng, mounted: &style.Tree{}}
	for _, opt := range opts {
		opt(r)
	}
	if r.affinity == nil {
		r.affinity = runloop.Current()
	}
	if r.log == nil {
		r.log = logger.For(logger.ComponentReconciler)
	}
	if r.sources == nil {
		r.sources = sourcemgr.New(eng, sourcemgr.WithAffinity(r.affinity), sourcemgr.WithLogger(r.log))
	}
	return r
}

// Mounted returns the tree applied by the last pass.
func (r *Reconciler) Mounted() *style.Tree {
	return r.mounted
}

// Reset forgets the mounted tree, so the next pass starts from nothing. Use it
// when the engine's style was replaced.
func (r *Reconciler) Reset() {
	r.affinity.Check("reconcile.Reset")
	r.sources.CancelAll()
	r.mounted = &style.Tree{}
}

// Reconcile applies next against the mounted tree and mounts what the engine
// accepted. A node whose operation failed or was skipped keeps its previous
// mounted state, so the next pass retries it even if the content is unchanged.
func (r *Reconciler) Reconcile(next *style.Tree) *Report {
	r.affinity.Check("reconcile.Reconcile")
	if next == nil {
		next = &style.Tree{}
	}

	start := time.Now()
	p := &pass{
		r:         r,
		prev:      r.mounted,
		next:      next,
		failed:    map[string]bool{},
		unapplied: map[nodeKey]bool{},
		recreate:  map[string]bool{},
		report:    &Report{Violations: next.Violations},
	}
	for _, v := range next.Violations {
		r.log.Warnw("duplicate id in style content, last declaration wins", "category", v.Category.String(), "id", v.ID)
	}

	p.run()

	r.mounted = p.applied()
	p.report.Duration = time.Since(start)
	if len(p.errs) > 0 {
		p.report.Err = p.errs
	}
	metrics.ObservePass("content", p.report.Duration)
	return p.report
}

// ReconcileImportConfigs sets the configuration keys of next that differ from
// prev. Nil values are left unchanged.
func (r *Reconciler) ReconcileImportConfigs(prev, next []style.ImportConfiguration) error {
	r.affinity.Check("reconcile.ReconcileImportConfigs")

	var errs Errors
	for _, cfg := range next {
		var old map[string]any
		if i := slices.IndexFunc(prev, func(c style.ImportConfiguration) bool { return c.ImportID == cfg.ImportID }); i >= 0 {
			old = prev[i].Config
		}
		for _, k := range changedKeys(old, cfg.Config) {
			err := r.engine.SetStyleImportConfigProperty(cfg.ImportID, k, cfg.Config[k])
			metrics.RecordEngineOp(style.CategoryStyleImport.String(), OpConfig, err)
			if err != nil {
				r.log.Errorw("failed to update import config", "import", cfg.ImportID, "key", k, "error", err)
				errs = append(errs, &OpError{Category: style.CategoryStyleImport, Op: OpConfig, ID: cfg.ImportID + "." + k, Err: err})
			}
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// changedKeys lists, in sorted order, the non-nil keys of next whose value
// differs from old.
func changedKeys(old, next map[string]any) []string {
	var keys []string
	for k, v := range next {
		if v == nil {
			continue
		}
		if ov, ok := old[k]; ok && style.ValueEqual(ov, v) {
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

type pass struct {
	r      *Reconciler
	prev   *style.Tree
	next   *style.Tree
	report *Report
	errs   Errors

	// failed holds source ids that could not be brought to their declared state.
	failed map[string]bool
	// unapplied holds nodes with at least one failed or skipped operation.
	unapplied map[nodeKey]bool
	// recreate holds layers removed this pass because an immutable property changed.
	recreate map[string]bool
	layers   diff.CollectionDiff[style.Layer]
}

type nodeKey struct {
	cat style.Category
	id  string
}

func keyOf[T style.Node](n T) nodeKey {
	return nodeKey{cat: n.Category(), id: n.NodeID()}
}

func (p *pass) record(cat style.Category, op, id string, err error) {
	p.report.Operations = append(p.report.Operations, Operation{Category: cat, Op: op, ID: id, Err: err})
	if !errors.Is(err, ErrDependencyFailed) && !errors.Is(err, ErrCategoryAborted) {
		metrics.RecordEngineOp(cat.String(), op, err)
	}
	if err != nil {
		p.unapplied[nodeKey{cat: cat, id: id}] = true
		p.errs = append(p.errs, &OpError{Category: cat, Op: op, ID: id, Err: err})
		p.r.log.Errorw("style operation failed", "category", cat.String(), "op", op, "id", id, "error", err)
	}
}

func (p *pass) run() {
	p.layers = diff.Compute(p.prev.Layers, p.next.Layers, style.Layer.NodeID, style.Layer.Equal)

	p.removeLayers()
	p.applyImports()
	p.applySources()
	p.applyImages()
	p.applyModels()
	p.applyLayers()
	p.applyLights()
	p.applyTerrain()
	p.applyAtmosphere()
	p.applyProjection()
}

func immutableChanged(a, b style.Layer) bool {
	return a.Type != b.Type || a.Source != b.Source || a.SourceLayer != b.SourceLayer
}

func find[T style.Node](nodes []T, id string) (T, bool) {
	for _, n := range nodes {
		if n.NodeID() == id {
			return n, true
		}
	}
	var zero T
	return zero, false
}

// removeLayers runs first so that sources they reference can be removed.
func (p *pass) removeLayers() {
	eng := p.r.engine
	for _, l := range p.layers.Remove {
		if !eng.LayerExists(l.ID) {
			continue
		}
		p.record(style.CategoryLayer, OpRemove, l.ID, eng.RemoveLayer(l.ID))
	}
	for _, l := range p.layers.Update {
		old, _ := find(p.prev.Layers, l.ID)
		if !immutableChanged(old, l) {
			continue
		}
		if eng.LayerExists(l.ID) {
			if err := eng.RemoveLayer(l.ID); err != nil {
				// The old layer is still there; adding the new one would collide.
				p.record(style.CategoryLayer, OpRemove, l.ID, err)
				continue
			}
			p.record(style.CategoryLayer, OpRemove, l.ID, nil)
		}
		p.recreate[l.ID] = true
	}
}

func identityOf(s style.StyleImport) style.Identity {
	return style.Identity{URI: s.URI, JSON: s.JSON}
}

func (p *pass) applyImports() {
	eng := p.r.engine
	d := diff.Compute(p.prev.Imports, p.next.Imports, style.StyleImport.NodeID, style.StyleImport.Equal)

	for _, s := range d.Remove {
		p.record(style.CategoryStyleImport, OpRemove, s.ID, eng.RemoveStyleImport(s.ID))
	}
	for _, s := range d.Add {
		p.record(style.CategoryStyleImport, OpAdd, s.ID, eng.AddStyleImport(s.ID, identityOf(s), s.Config))
	}
	for _, s := range d.Update {
		old, _ := find(p.prev.Imports, s.ID)
		if identityOf(old) != identityOf(s) {
			p.record(style.CategoryStyleImport, OpUpdate, s.ID, eng.UpdateStyleImport(s.ID, identityOf(s), s.Config))
			continue
		}
		for _, k := range changedKeys(old.Config, s.Config) {
			err := eng.SetStyleImportConfigProperty(s.ID, k, s.Config[k])
			p.record(style.CategoryStyleImport, OpConfig, s.ID+"."+k, err)
			if err != nil {
				p.unapplied[keyOf(s)] = true
			}
		}
	}
}

func (p *pass) applySources() {
	d := unordered(diff.Compute(p.prev.Sources, p.next.Sources, style.Source.NodeID, style.Source.Equal), p.prev.Sources, style.Source.Equal)
	mgr := p.r.sources

	for i, s := range d.Remove {
		if !p.r.engine.SourceExists(s.ID) {
			continue
		}
		err := mgr.Remove(s.ID)
		p.record(style.CategorySource, OpRemove, s.ID, err)
		if err == nil {
			continue
		}
		// A source that cannot be removed leaves the rest of the category
		// in an unknown state.
		p.failed[s.ID] = true
		for _, rest := range d.Remove[i+1:] {
			p.abortSource(OpRemove, rest.ID)
		}
		for _, rest := range d.Add {
			p.abortSource(OpAdd, rest.ID)
		}
		for _, rest := range d.Update {
			p.abortSource(OpUpdate, rest.ID)
		}
		return
	}

	for _, s := range d.Add {
		if err := mgr.Add(s); err != nil {
			p.failed[s.ID] = true
			p.record(style.CategorySource, OpAdd, s.ID, err)
			continue
		}
		p.record(style.CategorySource, OpAdd, s.ID, nil)
	}
	for _, s := range d.Update {
		old, _ := find(p.prev.Sources, s.ID)
		if err := mgr.Update(old, s); err != nil {
			p.failed[s.ID] = true
			p.record(style.CategorySource, OpUpdate, s.ID, err)
			continue
		}
		p.record(style.CategorySource, OpUpdate, s.ID, nil)
	}
}

// unordered folds a remove and re-add of the same id into an update. The
// diff reports reordered nodes that way; only layers care about order.
func unordered[T style.Node](d diff.CollectionDiff[T], prev []T, equal func(a, b T) bool) diff.CollectionDiff[T] {
	readded := map[string]bool{}
	for _, n := range d.Add {
		readded[n.NodeID()] = true
	}
	out := diff.CollectionDiff[T]{Update: d.Update}
	for _, n := range d.Remove {
		if !readded[n.NodeID()] {
			out.Remove = append(out.Remove, n)
		}
	}
	for _, n := range d.Add {
		old, ok := find(prev, n.NodeID())
		switch {
		case !ok:
			out.Add = append(out.Add, n)
		case !equal(old, n):
			out.Update = append(out.Update, n)
		}
	}
	return out
}

func (p *pass) abortSource(op, id string) {
	p.failed[id] = true
	p.record(style.CategorySource, op, id, ErrCategoryAborted)
}

func (p *pass) applyImages() {
	eng := p.r.engine
	d := unordered(diff.Compute(p.prev.Images, p.next.Images, style.Image.NodeID, style.Image.Equal), p.prev.Images, style.Image.Equal)

	for _, img := range d.Remove {
		if !eng.ImageExists(img.ID) {
			continue
		}
		p.record(style.CategoryImage, OpRemove, img.ID, eng.RemoveImage(img.ID))
	}
	for _, img := range d.Add {
		p.record(style.CategoryImage, OpAdd, img.ID, eng.AddImage(img))
	}
	for _, img := range d.Update {
		p.record(style.CategoryImage, OpUpdate, img.ID, eng.AddImage(img))
	}
}

func (p *pass) applyModels() {
	eng := p.r.engine
	d := unordered(diff.ComputeEqual(p.prev.Models, p.next.Models, style.Model.NodeID), p.prev.Models, func(a, b style.Model) bool { return a == b })

	for _, m := range d.Remove {
		p.record(style.CategoryModel, OpRemove, m.ID, eng.RemoveModel(m.ID))
	}
	for _, m := range d.Add {
		p.record(style.CategoryModel, OpAdd, m.ID, eng.AddModel(m.ID, m.URI))
	}
	for _, m := range d.Update {
		p.record(style.CategoryModel, OpUpdate, m.ID, eng.AddModel(m.ID, m.URI))
	}
}

// applyLayers walks the declared layers in order so that each added layer
// can be placed above the previous declared one.
func (p *pass) applyLayers() {
	eng := p.r.engine
	added := map[string]bool{}
	for _, l := range p.layers.Add {
		added[l.ID] = true
	}
	updated := map[string]bool{}
	for _, l := range p.layers.Update {
		updated[l.ID] = true
	}

	var lastPlaced string
	position := func(l style.Layer) *style.LayerPosition {
		if l.Position != nil {
			return l.Position
		}
		if lastPlaced != "" {
			return style.Above(lastPlaced)
		}
		return nil
	}
	placed := func(l style.Layer) {
		if l.Position == nil && eng.LayerExists(l.ID) {
			lastPlaced = l.ID
		}
	}

	for _, l := range p.next.Layers {
		switch {
		case p.unapplied[keyOf(l)]:
			// Its immutable-change removal failed; the old layer stays.
		case (added[l.ID] || updated[l.ID]) && l.Source != "" && p.failed[l.Source]:
			op := OpAdd
			if updated[l.ID] && !p.recreate[l.ID] {
				op = OpUpdate
			}
			p.record(style.CategoryLayer, op, l.ID, ErrDependencyFailed)
			continue
		case added[l.ID] || p.recreate[l.ID]:
			p.record(style.CategoryLayer, OpAdd, l.ID, eng.AddLayer(l.Properties(), position(l)))
		case updated[l.ID]:
			p.updateLayer(l, position)
		}
		placed(l)
	}
}

func (p *pass) updateLayer(l style.Layer, position func(style.Layer) *style.LayerPosition) {
	eng := p.r.engine
	if !eng.LayerExists(l.ID) {
		p.record(style.CategoryLayer, OpAdd, l.ID, eng.AddLayer(l.Properties(), position(l)))
		return
	}

	old, _ := find(p.prev.Layers, l.ID)
	if patch := style.Patch(old.Properties(), l.Properties()); len(patch) > 0 {
		p.record(style.CategoryLayer, OpUpdate, l.ID, eng.SetLayerProperties(l.ID, patch))
	}
	if !samePosition(old.Position, l.Position) {
		p.record(style.CategoryLayer, OpMove, l.ID, eng.MoveLayer(l.ID, position(l)))
	}
}

func samePosition(a, b *style.LayerPosition) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (p *pass) applyLights() {
	eng := p.r.engine
	d := unordered(diff.Compute(p.prev.Lights, p.next.Lights, style.Light.NodeID, style.Light.Equal), p.prev.Lights, style.Light.Equal)

	for _, l := range d.Remove {
		p.record(style.CategoryLight, OpRemove, l.ID, eng.RemoveLight(l.ID))
	}
	for _, l := range d.Add {
		p.record(style.CategoryLight, OpAdd, l.ID, eng.AddLight(l.EngineProperties()))
	}
	for _, l := range d.Update {
		old, _ := find(p.prev.Lights, l.ID)
		if old.Type != l.Type {
			if err := eng.RemoveLight(l.ID); err != nil {
				p.record(style.CategoryLight, OpUpdate, l.ID, err)
				continue
			}
			p.record(style.CategoryLight, OpUpdate, l.ID, eng.AddLight(l.EngineProperties()))
			continue
		}
		p.record(style.CategoryLight, OpUpdate, l.ID, eng.SetLightProperties(l.ID, style.Patch(old.EngineProperties(), l.EngineProperties())))
	}
}

// singleton turns an optional node into a zero- or one-element collection.
func singleton[T any](v *T) []T {
	if v == nil {
		return nil
	}
	return []T{*v}
}

func applySingleton[T style.Node](p *pass, prev, next *T, equal func(a, b T) bool, set func(*T) error) {
	d := diff.Compute(singleton(prev), singleton(next), func(n T) string { return n.NodeID() }, equal)
	for _, n := range d.Remove {
		p.record(n.Category(), OpRemove, n.NodeID(), set(nil))
	}
	for _, n := range d.Add {
		p.record(n.Category(), OpAdd, n.NodeID(), set(&n))
	}
	for _, n := range d.Update {
		p.record(n.Category(), OpUpdate, n.NodeID(), set(&n))
	}
}

func (p *pass) applyTerrain() {
	if t := p.next.Terrain; t != nil && p.failed[t.Source] {
		p.record(style.CategoryTerrain, OpUpdate, t.NodeID(), ErrDependencyFailed)
		return
	}
	applySingleton(p, p.prev.Terrain, p.next.Terrain, style.Terrain.Equal, func(t *style.Terrain) error {
		if t == nil {
			return p.r.engine.SetTerrain(nil)
		}
		return p.r.engine.SetTerrain(t.EngineProperties())
	})
}

func (p *pass) applyAtmosphere() {
	applySingleton(p, p.prev.Atmosphere, p.next.Atmosphere, style.Atmosphere.Equal, func(a *style.Atmosphere) error {
		if a == nil {
			return p.r.engine.SetAtmosphere(nil)
		}
		props := a.Properties.Clone()
		if props == nil {
			props = style.Properties{}
		}
		return p.r.engine.SetAtmosphere(props)
	})
}

func (p *pass) applyProjection() {
	equal := func(a, b style.Projection) bool { return a == b }
	applySingleton(p, p.prev.Projection, p.next.Projection, equal, func(pr *style.Projection) error {
		if pr == nil {
			return p.r.engine.SetProjection(nil)
		}
		return p.r.engine.SetProjection(pr.EngineProperties())
	})
}

// applied is the tree the engine now holds: next, except that unapplied nodes
// keep their previous state, or are left out if they had none.
func (p *pass) applied() *style.Tree {
	u := p.unapplied
	return &style.Tree{
		Layers:     appliedNodes(p.prev.Layers, p.next.Layers, u),
		Sources:    appliedNodes(p.prev.Sources, p.next.Sources, u),
		Images:     appliedNodes(p.prev.Images, p.next.Images, u),
		Models:     appliedNodes(p.prev.Models, p.next.Models, u),
		Imports:    appliedNodes(p.prev.Imports, p.next.Imports, u),
		Lights:     appliedNodes(p.prev.Lights, p.next.Lights, u),
		Terrain:    appliedNode(p.prev.Terrain, p.next.Terrain, u),
		Atmosphere: appliedNode(p.prev.Atmosphere, p.next.Atmosphere, u),
		Projection: appliedNode(p.prev.Projection, p.next.Projection, u),
		Violations: p.next.Violations,
	}
}

func appliedNodes[T style.Node](prev, next []T, unapplied map[nodeKey]bool) []T {
	out := make([]T, 0, len(next))
	for _, n := range next {
		if !unapplied[keyOf(n)] {
			out = append(out, n)
			continue
		}
		if old, ok := find(prev, n.NodeID()); ok {
			out = append(out, old)
		}
	}
	// Undeclared nodes whose removal failed are still in the engine.
	for _, n := range prev {
		if _, declared := find(next, n.NodeID()); !declared && unapplied[keyOf(n)] {
			out = append(out, n)
		}
	}
	return out
}

func appliedNode[T style.Node](prev, next *T, unapplied map[nodeKey]bool) *T {
	n := next
	if n == nil {
		n = prev
	}
	if n == nil || !unapplied[keyOf(*n)] {
		return next
	}
	return prev
}
