// Package memory is an in-process implementation of engine.StyleManager. It
// keeps the live style as plain data, validates operations the way a rendering
// engine does and delivers load callbacks through a dispatcher.
package memory

import (
	"slices"
	"sort"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-mapstyle/internal/engine"
	"github.com/joeblew999/plat-mapstyle/internal/logger"
	"github.com/joeblew999/plat-mapstyle/internal/runloop"
	"github.com/joeblew999/plat-mapstyle/internal/style"
)

// Op describes one engine call and its outcome.
type Op struct {
	Category string
	Name     string
	ID       string
	Err      error
}

type layer struct {
	id    string
	props style.Properties
}

type styleImport struct {
	id       string
	identity style.Identity
	config   map[string]any
}

type pendingLoad struct {
	gen       uint64
	callbacks engine.LoadCallbacks
}

// Engine is an in-memory style. It must be used from a single goroutine, the
// same one its dispatcher runs closures on.
type Engine struct {
	dispatcher runloop.Dispatcher
	log        *zap.SugaredLogger
	observers  []func(Op)

	registry map[string]string

	identity   style.Identity
	loaded     bool
	gen        uint64
	pending    *pendingLoad
	transition engine.Transition

	layers      []layer
	sources     map[string]style.Properties
	sourceOrder []string
	images      map[string]style.Image
	models      map[string]string
	lights      []layer
	terrain     style.Properties
	atmosphere  style.Properties
	projection  style.Properties
	imports     []styleImport
}

// Option configures an Engine.
type Option func(*Engine)

// WithDispatcher sets where load callbacks are delivered. By default they run
// inline, before LoadStyle returns.
func WithDispatcher(d runloop.Dispatcher) Option {
	return func(e *Engine) { e.dispatcher = d }
}

// WithLogger overrides the component logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Engine) { e.log = l }
}

// WithObserver registers fn to receive every operation.
func WithObserver(fn func(Op)) Option {
	return func(e *Engine) { e.observers = append(e.observers, fn) }
}

type inline struct{}

func (inline) Async(fn func()) { fn() }

// New returns an empty engine with no style loaded.
func New(opts ...Option) *Engine {
	e := &Engine{
		dispatcher: inline{},
		registry:   map[string]string{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.For(logger.ComponentEngine)
	}
	e.reset()
	return e
}

// RegisterStyle makes a style document resolvable by URI.
func (e *Engine) RegisterStyle(uri, doc string) {
	e.registry[uri] = doc
}

var _ engine.StyleManager = (*Engine)(nil)

func (e *Engine) reset() {
	e.layers = nil
	e.sources = map[string]style.Properties{}
	e.sourceOrder = nil
	e.images = map[string]style.Image{}
	e.models = map[string]string{}
	e.lights = nil
	e.terrain, e.atmosphere, e.projection = nil, nil, nil
	e.imports = nil
}

func (e *Engine) record(category, name, id string, err error) error {
	op := Op{Category: category, Name: name, ID: id, Err: err}
	if err != nil {
		e.log.Debugw("engine rejected operation", "category", category, "op", name, "id", id, "error", err)
	}
	for _, fn := range e.observers {
		fn(op)
	}
	return err
}

// styleDocument is the subset of the style format the engine understands.
type styleDocument struct {
	Sources map[string]map[string]any `json:"sources"`
	Layers  []map[string]any          `json:"layers"`
	Imports []struct {
		ID     string         `json:"id"`
		URL    string         `json:"url"`
		Config map[string]any `json:"config"`
	} `json:"imports"`
	Terrain    map[string]any `json:"terrain"`
	Fog        map[string]any `json:"fog"`
	Projection map[string]any `json:"projection"`
}

func (e *Engine) resolve(identity style.Identity) (*styleDocument, error) {
	raw := identity.JSON
	if identity.URI != "" {
		doc, ok := e.registry[identity.URI]
		if !ok {
			return nil, engine.Errorf("load", identity.URI, "style not found")
		}
		raw = doc
	}
	var doc styleDocument
	if raw == "" {
		return &doc, nil
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, engine.Errorf("load", identity.String(), "invalid style document: %v", err)
	}
	return &doc, nil
}

// LoadStyle replaces the style. Callbacks run through the dispatcher: a load
// that is still in flight is cancelled first, then the new load reports
// layers-ready and completion in two separate dispatches.
func (e *Engine) LoadStyle(identity style.Identity, cb engine.LoadCallbacks) {
	if prev := e.pending; prev != nil && prev.callbacks.OnCancelled != nil {
		e.dispatcher.Async(prev.callbacks.OnCancelled)
	}
	e.gen++
	gen := e.gen
	e.pending = &pendingLoad{gen: gen, callbacks: cb}
	wasLoaded := e.loaded
	e.loaded = false
	e.record("style", "load", identity.String(), nil)

	current := func() bool { return e.pending != nil && e.pending.gen == gen }

	doc, err := e.resolve(identity)
	if err != nil {
		e.dispatcher.Async(func() {
			if !current() {
				return
			}
			// The previous style stays in place.
			e.pending = nil
			e.loaded = wasLoaded
			if cb.OnError != nil {
				cb.OnError(err)
			}
		})
		return
	}

	e.dispatcher.Async(func() {
		if !current() {
			return
		}
		e.apply(identity, doc)
		if cb.OnLayersReady != nil {
			cb.OnLayersReady()
		}
	})
	e.dispatcher.Async(func() {
		if !current() {
			return
		}
		e.pending = nil
		e.loaded = true
		if cb.OnCompleted != nil {
			cb.OnCompleted()
		}
	})
}

func (e *Engine) apply(identity style.Identity, doc *styleDocument) {
	e.reset()
	e.identity = identity

	ids := make([]string, 0, len(doc.Sources))
	for id := range doc.Sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		e.sources[id] = style.Properties(doc.Sources[id])
		e.sourceOrder = append(e.sourceOrder, id)
	}
	for _, l := range doc.Layers {
		id, _ := l["id"].(string)
		e.layers = append(e.layers, layer{id: id, props: style.Properties(l)})
	}
	for _, imp := range doc.Imports {
		e.imports = append(e.imports, styleImport{id: imp.ID, identity: style.URI(imp.URL), config: imp.Config})
	}
	e.terrain = doc.Terrain
	e.atmosphere = doc.Fog
	e.projection = doc.Projection
}

// IsStyleLoaded reports whether the last load completed.
func (e *Engine) IsStyleLoaded() bool { return e.loaded }

// SetTransition stores the transition options.
func (e *Engine) SetTransition(t engine.Transition) {
	e.transition = t
	e.record("style", "transition", "", nil)
}

func (e *Engine) layerIndex(id string) int {
	return slices.IndexFunc(e.layers, func(l layer) bool { return l.id == id })
}

// insertIndex resolves where a new layer goes in the bottom-to-top stack.
func (e *Engine) insertIndex(props style.Properties, pos *style.LayerPosition) (int, error) {
	if pos == nil {
		if slot, _ := props["slot"].(string); slot != "" {
			if i := e.layerIndex(slot); i >= 0 {
				return i, nil
			}
		}
		return len(e.layers), nil
	}
	switch pos.Kind {
	case style.PositionAbove:
		i := e.layerIndex(pos.ID)
		if i < 0 {
			return 0, engine.Errorf("add layer", pos.ID, "reference layer not found")
		}
		return i + 1, nil
	case style.PositionBelow:
		i := e.layerIndex(pos.ID)
		if i < 0 {
			return 0, engine.Errorf("add layer", pos.ID, "reference layer not found")
		}
		return i, nil
	case style.PositionAt:
		return min(max(pos.Index, 0), len(e.layers)), nil
	default:
		return len(e.layers), nil
	}
}

var sourceless = map[string]bool{"background": true, "sky": true, "slot": true, "custom": true}

// AddLayer inserts a layer described by props.
func (e *Engine) AddLayer(props style.Properties, pos *style.LayerPosition) error {
	id, _ := props["id"].(string)
	return e.record("layer", "add", id, e.addLayer(id, props, pos))
}

func (e *Engine) addLayer(id string, props style.Properties, pos *style.LayerPosition) error {
	typ, _ := props["type"].(string)
	switch {
	case id == "":
		return engine.Errorf("add layer", id, "missing id")
	case typ == "":
		return engine.Errorf("add layer", id, "missing type")
	case e.layerIndex(id) >= 0:
		return engine.Errorf("add layer", id, "layer already exists")
	}
	if !sourceless[typ] {
		src, _ := props["source"].(string)
		if src == "" {
			return engine.Errorf("add layer", id, "layer of type %q requires a source", typ)
		}
		if _, ok := e.sources[src]; !ok {
			return engine.Errorf("add layer", id, "source %q not found", src)
		}
	}
	i, err := e.insertIndex(props, pos)
	if err != nil {
		return err
	}
	e.layers = slices.Insert(e.layers, i, layer{id: id, props: props.Clone()})
	return nil
}

// RemoveLayer removes a layer.
func (e *Engine) RemoveLayer(id string) error {
	var err error
	if i := e.layerIndex(id); i < 0 {
		err = engine.Errorf("remove layer", id, "layer not found")
	} else {
		e.layers = slices.Delete(e.layers, i, i+1)
	}
	return e.record("layer", "remove", id, err)
}

func differs(a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as != bs
	}
	return !style.Properties{"v": a}.Equal(style.Properties{"v": b})
}

var immutableLayerKeys = []string{"id", "type", "source", "source-layer"}

// SetLayerProperties sets top-level keys; a nil value removes the key.
func (e *Engine) SetLayerProperties(id string, props style.Properties) error {
	return e.record("layer", "update", id, e.setLayerProperties(id, props))
}

func (e *Engine) setLayerProperties(id string, props style.Properties) error {
	i := e.layerIndex(id)
	if i < 0 {
		return engine.Errorf("set layer properties", id, "layer not found")
	}
	cur := e.layers[i].props
	for _, k := range immutableLayerKeys {
		if v, ok := props[k]; ok && differs(v, cur[k]) {
			return engine.Errorf("set layer properties", id, "property %q cannot be changed", k)
		}
	}
	next := cur.Clone()
	for k, v := range props {
		if v == nil {
			delete(next, k)
			continue
		}
		next[k] = v
	}
	e.layers[i].props = next
	return nil
}

// MoveLayer repositions an existing layer; nil moves it to the top.
func (e *Engine) MoveLayer(id string, pos *style.LayerPosition) error {
	return e.record("layer", "move", id, e.moveLayer(id, pos))
}

func (e *Engine) moveLayer(id string, pos *style.LayerPosition) error {
	i := e.layerIndex(id)
	if i < 0 {
		return engine.Errorf("move layer", id, "layer not found")
	}
	if pos != nil && pos.ID == id {
		return engine.Errorf("move layer", id, "layer cannot be positioned relative to itself")
	}
	l := e.layers[i]
	e.layers = slices.Delete(e.layers, i, i+1)
	j, err := e.insertIndex(l.props, pos)
	if err != nil {
		e.layers = slices.Insert(e.layers, i, l)
		return err
	}
	e.layers = slices.Insert(e.layers, j, l)
	return nil
}

// LayerExists reports whether a layer is in the style.
func (e *Engine) LayerExists(id string) bool { return e.layerIndex(id) >= 0 }

// AddSource adds a source.
func (e *Engine) AddSource(id string, props style.Properties) error {
	return e.record("source", "add", id, e.addSource(id, props))
}

func (e *Engine) addSource(id string, props style.Properties) error {
	if id == "" {
		return engine.Errorf("add source", id, "missing id")
	}
	if _, ok := e.sources[id]; ok {
		return engine.Errorf("add source", id, "source already exists")
	}
	if typ, _ := props["type"].(string); typ == "" {
		return engine.Errorf("add source", id, "missing type")
	}
	e.sources[id] = props.Clone()
	e.sourceOrder = append(e.sourceOrder, id)
	return nil
}

// AddCustomGeometrySource adds a source whose tiles the host provides.
func (e *Engine) AddCustomGeometrySource(id string, options style.Properties) error {
	props := options.Clone()
	if props == nil {
		props = style.Properties{}
	}
	props["type"] = style.SourceTypeCustomGeometry
	return e.record("source", "add", id, e.addSource(id, props))
}

// RemoveSource removes a source that no layer uses.
func (e *Engine) RemoveSource(id string) error {
	return e.record("source", "remove", id, e.removeSource(id))
}

func (e *Engine) removeSource(id string) error {
	if _, ok := e.sources[id]; !ok {
		return engine.Errorf("remove source", id, "source not found")
	}
	for _, l := range e.layers {
		if l.props["source"] == id {
			return engine.Errorf("remove source", id, "source is in use by layer %q", l.id)
		}
	}
	if e.terrain != nil && e.terrain["source"] == id {
		return engine.Errorf("remove source", id, "source is in use by terrain")
	}
	delete(e.sources, id)
	e.sourceOrder = slices.DeleteFunc(e.sourceOrder, func(s string) bool { return s == id })
	return nil
}

// SetSourceProperties sets keys on a source; a nil value removes the key.
func (e *Engine) SetSourceProperties(id string, props style.Properties) error {
	return e.record("source", "update", id, e.setSourceProperties(id, props))
}

func (e *Engine) setSourceProperties(id string, props style.Properties) error {
	cur, ok := e.sources[id]
	if !ok {
		return engine.Errorf("set source properties", id, "source not found")
	}
	if typ, ok := props["type"]; ok && differs(typ, cur["type"]) {
		return engine.Errorf("set source properties", id, "property \"type\" cannot be changed")
	}
	next := cur.Clone()
	for k, v := range props {
		if v == nil {
			delete(next, k)
			continue
		}
		next[k] = v
	}
	e.sources[id] = next
	return nil
}

// SourceExists reports whether a source is in the style.
func (e *Engine) SourceExists(id string) bool {
	_, ok := e.sources[id]
	return ok
}

// AddImage adds or replaces an image.
func (e *Engine) AddImage(img style.Image) error {
	var err error
	switch {
	case img.ID == "":
		err = engine.Errorf("add image", img.ID, "missing id")
	case img.Width <= 0 || img.Height <= 0:
		err = engine.Errorf("add image", img.ID, "invalid size %dx%d", img.Width, img.Height)
	case len(img.Pixels) != img.Width*img.Height*4:
		err = engine.Errorf("add image", img.ID, "expected %d bytes of RGBA data, got %d", img.Width*img.Height*4, len(img.Pixels))
	default:
		e.images[img.ID] = img
	}
	return e.record("image", "add", img.ID, err)
}

// RemoveImage removes an image.
func (e *Engine) RemoveImage(id string) error {
	var err error
	if _, ok := e.images[id]; !ok {
		err = engine.Errorf("remove image", id, "image not found")
	} else {
		delete(e.images, id)
	}
	return e.record("image", "remove", id, err)
}

// ImageExists reports whether an image is in the style.
func (e *Engine) ImageExists(id string) bool {
	_, ok := e.images[id]
	return ok
}

// AddModel adds or replaces a model.
func (e *Engine) AddModel(id, uri string) error {
	var err error
	if id == "" || uri == "" {
		err = engine.Errorf("add model", id, "model requires an id and a uri")
	} else {
		e.models[id] = uri
	}
	return e.record("model", "add", id, err)
}

// RemoveModel removes a model.
func (e *Engine) RemoveModel(id string) error {
	var err error
	if _, ok := e.models[id]; !ok {
		err = engine.Errorf("remove model", id, "model not found")
	} else {
		delete(e.models, id)
	}
	return e.record("model", "remove", id, err)
}

func (e *Engine) lightIndex(id string) int {
	return slices.IndexFunc(e.lights, func(l layer) bool { return l.id == id })
}

// AddLight adds a light described by props.
func (e *Engine) AddLight(props style.Properties) error {
	id, _ := props["id"].(string)
	var err error
	switch typ, _ := props["type"].(string); {
	case id == "":
		err = engine.Errorf("add light", id, "missing id")
	case typ != "ambient" && typ != "directional" && typ != "flat":
		err = engine.Errorf("add light", id, "unknown light type %q", typ)
	case e.lightIndex(id) >= 0:
		err = engine.Errorf("add light", id, "light already exists")
	default:
		e.lights = append(e.lights, layer{id: id, props: props.Clone()})
	}
	return e.record("light", "add", id, err)
}

// RemoveLight removes a light.
func (e *Engine) RemoveLight(id string) error {
	var err error
	if i := e.lightIndex(id); i < 0 {
		err = engine.Errorf("remove light", id, "light not found")
	} else {
		e.lights = slices.Delete(e.lights, i, i+1)
	}
	return e.record("light", "remove", id, err)
}

// SetLightProperties sets keys on a light.
func (e *Engine) SetLightProperties(id string, props style.Properties) error {
	var err error
	i := e.lightIndex(id)
	switch {
	case i < 0:
		err = engine.Errorf("set light properties", id, "light not found")
	case props["type"] != nil && differs(props["type"], e.lights[i].props["type"]):
		err = engine.Errorf("set light properties", id, "property \"type\" cannot be changed")
	default:
		next := e.lights[i].props.Clone()
		for k, v := range props {
			if v == nil {
				delete(next, k)
				continue
			}
			next[k] = v
		}
		e.lights[i].props = next
	}
	return e.record("light", "update", id, err)
}

// SetTerrain sets or, with nil, removes the terrain.
func (e *Engine) SetTerrain(props style.Properties) error {
	var err error
	if props != nil {
		src, _ := props["source"].(string)
		if _, ok := e.sources[src]; !ok {
			err = engine.Errorf("set terrain", src, "source %q not found", src)
		}
	}
	if err == nil {
		e.terrain = props.Clone()
	}
	return e.record("terrain", "set", "terrain", err)
}

// SetAtmosphere sets or, with nil, removes the atmosphere.
func (e *Engine) SetAtmosphere(props style.Properties) error {
	e.atmosphere = props.Clone()
	return e.record("atmosphere", "set", "atmosphere", nil)
}

// SetProjection sets or, with nil, resets the projection.
func (e *Engine) SetProjection(props style.Properties) error {
	var err error
	if props != nil {
		if name, _ := props["name"].(string); name != "mercator" && name != "globe" {
			err = engine.Errorf("set projection", name, "unsupported projection")
		}
	}
	if err == nil {
		e.projection = props.Clone()
	}
	return e.record("projection", "set", "projection", err)
}

func (e *Engine) importIndex(id string) int {
	return slices.IndexFunc(e.imports, func(i styleImport) bool { return i.id == id })
}

// AddStyleImport adds a nested style.
func (e *Engine) AddStyleImport(id string, identity style.Identity, config map[string]any) error {
	var err error
	switch {
	case id == "":
		err = engine.Errorf("add import", id, "missing id")
	case identity.IsZero():
		err = engine.Errorf("add import", id, "missing uri or json")
	case e.importIndex(id) >= 0:
		err = engine.Errorf("add import", id, "import already exists")
	default:
		e.imports = append(e.imports, styleImport{id: id, identity: identity, config: style.Properties(config).Clone()})
	}
	return e.record("import", "add", id, err)
}

// UpdateStyleImport replaces an import's document and configuration.
func (e *Engine) UpdateStyleImport(id string, identity style.Identity, config map[string]any) error {
	var err error
	if i := e.importIndex(id); i < 0 {
		err = engine.Errorf("update import", id, "import not found")
	} else {
		e.imports[i] = styleImport{id: id, identity: identity, config: style.Properties(config).Clone()}
	}
	return e.record("import", "update", id, err)
}

// RemoveStyleImport removes a nested style.
func (e *Engine) RemoveStyleImport(id string) error {
	var err error
	if i := e.importIndex(id); i < 0 {
		err = engine.Errorf("remove import", id, "import not found")
	} else {
		e.imports = slices.Delete(e.imports, i, i+1)
	}
	return e.record("import", "remove", id, err)
}

// StyleImportConfigProperty reads one configuration value of an import.
func (e *Engine) StyleImportConfigProperty(importID, key string) (any, error) {
	i := e.importIndex(importID)
	if i < 0 {
		return nil, engine.Errorf("get import config", importID, "import not found")
	}
	return e.imports[i].config[key], nil
}

// SetStyleImportConfigProperty sets one configuration value of an import.
func (e *Engine) SetStyleImportConfigProperty(importID, key string, value any) error {
	var err error
	if i := e.importIndex(importID); i < 0 {
		err = engine.Errorf("set import config", importID, "import not found")
	} else {
		if e.imports[i].config == nil {
			e.imports[i].config = map[string]any{}
		}
		e.imports[i].config[key] = value
	}
	return e.record("import", "config", importID+"."+key, err)
}
