// Package enginetest provides a recording engine.StyleManager for tests.
package enginetest

import (
	"fmt"

	"github.com/joeblew999/plat-mapstyle/internal/engine"
	"github.com/joeblew999/plat-mapstyle/internal/style"
)

// Call is one recorded engine call.
type Call struct {
	Method   string
	ID       string
	Props    style.Properties
	Position *style.LayerPosition
	Value    any
}

func (c Call) String() string {
	return fmt.Sprintf("%s(%s)", c.Method, c.ID)
}

// Load is a style load whose callbacks the test fires by hand.
type Load struct {
	Identity  style.Identity
	Callbacks engine.LoadCallbacks
	r         *Recorder
}

func (l *Load) LayersReady() {
	if l.Callbacks.OnLayersReady != nil {
		l.Callbacks.OnLayersReady()
	}
}

func (l *Load) Complete() {
	l.r.Loaded = true
	if l.Callbacks.OnCompleted != nil {
		l.Callbacks.OnCompleted()
	}
}

func (l *Load) Cancel() {
	if l.Callbacks.OnCancelled != nil {
		l.Callbacks.OnCancelled()
	}
}

func (l *Load) Fail(err error) {
	if l.Callbacks.OnError != nil {
		l.Callbacks.OnError(err)
	}
}

// Recorder records calls and tracks which ids exist. Calls listed in Fail
// return the configured error and change nothing.
type Recorder struct {
	Calls []Call
	// Fail maps "Method(id)" to the error that call returns.
	Fail map[string]error

	Layers  map[string]bool
	Sources map[string]bool
	Images  map[string]bool
	Imports map[string]map[string]any

	Loads      []*Load
	Loaded     bool
	Transition *engine.Transition
}

// New returns an empty recorder.
func New() *Recorder {
	return &Recorder{
		Fail:    map[string]error{},
		Layers:  map[string]bool{},
		Sources: map[string]bool{},
		Images:  map[string]bool{},
		Imports: map[string]map[string]any{},
	}
}

var _ engine.StyleManager = (*Recorder)(nil)

// Methods lists the recorded calls as "Method(id)".
func (r *Recorder) Methods() []string {
	out := make([]string, len(r.Calls))
	for i, c := range r.Calls {
		out[i] = c.String()
	}
	return out
}

// Count returns how many calls of method were recorded.
func (r *Recorder) Count(method string) int {
	n := 0
	for _, c := range r.Calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// ClearCalls forgets recorded calls but keeps state.
func (r *Recorder) ClearCalls() {
	r.Calls = nil
}

// LastLoad returns the most recent load, or nil.
func (r *Recorder) LastLoad() *Load {
	if len(r.Loads) == 0 {
		return nil
	}
	return r.Loads[len(r.Loads)-1]
}

func (r *Recorder) call(c Call) error {
	r.Calls = append(r.Calls, c)
	return r.Fail[c.String()]
}

func (r *Recorder) AddLayer(props style.Properties, pos *style.LayerPosition) error {
	id, _ := props["id"].(string)
	if err := r.call(Call{Method: "AddLayer", ID: id, Props: props, Position: pos}); err != nil {
		return err
	}
	r.Layers[id] = true
	return nil
}

func (r *Recorder) RemoveLayer(id string) error {
	if err := r.call(Call{Method: "RemoveLayer", ID: id}); err != nil {
		return err
	}
	delete(r.Layers, id)
	return nil
}

func (r *Recorder) SetLayerProperties(id string, props style.Properties) error {
	return r.call(Call{Method: "SetLayerProperties", ID: id, Props: props})
}

func (r *Recorder) MoveLayer(id string, pos *style.LayerPosition) error {
	return r.call(Call{Method: "MoveLayer", ID: id, Position: pos})
}

func (r *Recorder) LayerExists(id string) bool { return r.Layers[id] }

func (r *Recorder) AddSource(id string, props style.Properties) error {
	if err := r.call(Call{Method: "AddSource", ID: id, Props: props}); err != nil {
		return err
	}
	r.Sources[id] = true
	return nil
}

func (r *Recorder) AddCustomGeometrySource(id string, options style.Properties) error {
	if err := r.call(Call{Method: "AddCustomGeometrySource", ID: id, Props: options}); err != nil {
		return err
	}
	r.Sources[id] = true
	return nil
}

func (r *Recorder) RemoveSource(id string) error {
	if err := r.call(Call{Method: "RemoveSource", ID: id}); err != nil {
		return err
	}
	delete(r.Sources, id)
	return nil
}

func (r *Recorder) SetSourceProperties(id string, props style.Properties) error {
	return r.call(Call{Method: "SetSourceProperties", ID: id, Props: props})
}

func (r *Recorder) SourceExists(id string) bool { return r.Sources[id] }

func (r *Recorder) AddImage(img style.Image) error {
	if err := r.call(Call{Method: "AddImage", ID: img.ID}); err != nil {
		return err
	}
	r.Images[img.ID] = true
	return nil
}

func (r *Recorder) RemoveImage(id string) error {
	if err := r.call(Call{Method: "RemoveImage", ID: id}); err != nil {
		return err
	}
	delete(r.Images, id)
	return nil
}

func (r *Recorder) ImageExists(id string) bool { return r.Images[id] }

func (r *Recorder) AddModel(id, uri string) error {
	return r.call(Call{Method: "AddModel", ID: id, Value: uri})
}

func (r *Recorder) RemoveModel(id string) error {
	return r.call(Call{Method: "RemoveModel", ID: id})
}

func (r *Recorder) AddLight(props style.Properties) error {
	id, _ := props["id"].(string)
	return r.call(Call{Method: "AddLight", ID: id, Props: props})
}

func (r *Recorder) RemoveLight(id string) error {
	return r.call(Call{Method: "RemoveLight", ID: id})
}

func (r *Recorder) SetLightProperties(id string, props style.Properties) error {
	return r.call(Call{Method: "SetLightProperties", ID: id, Props: props})
}

func (r *Recorder) SetTerrain(props style.Properties) error {
	return r.call(Call{Method: "SetTerrain", ID: "terrain", Props: props})
}

func (r *Recorder) SetAtmosphere(props style.Properties) error {
	return r.call(Call{Method: "SetAtmosphere", ID: "atmosphere", Props: props})
}

func (r *Recorder) SetProjection(props style.Properties) error {
	return r.call(Call{Method: "SetProjection", ID: "projection", Props: props})
}

func (r *Recorder) AddStyleImport(id string, identity style.Identity, config map[string]any) error {
	if err := r.call(Call{Method: "AddStyleImport", ID: id, Value: identity, Props: config}); err != nil {
		return err
	}
	r.Imports[id] = map[string]any{}
	for k, v := range config {
		r.Imports[id][k] = v
	}
	return nil
}

func (r *Recorder) UpdateStyleImport(id string, identity style.Identity, config map[string]any) error {
	return r.call(Call{Method: "UpdateStyleImport", ID: id, Value: identity, Props: config})
}

func (r *Recorder) RemoveStyleImport(id string) error {
	if err := r.call(Call{Method: "RemoveStyleImport", ID: id}); err != nil {
		return err
	}
	delete(r.Imports, id)
	return nil
}

func (r *Recorder) StyleImportConfigProperty(importID, key string) (any, error) {
	cfg, ok := r.Imports[importID]
	if !ok {
		return nil, engine.Errorf("get import config", importID, "import not found")
	}
	return cfg[key], nil
}

func (r *Recorder) SetStyleImportConfigProperty(importID, key string, value any) error {
	if err := r.call(Call{Method: "SetStyleImportConfigProperty", ID: importID + "." + key, Value: value}); err != nil {
		return err
	}
	if r.Imports[importID] == nil {
		r.Imports[importID] = map[string]any{}
	}
	r.Imports[importID][key] = value
	return nil
}

func (r *Recorder) LoadStyle(identity style.Identity, callbacks engine.LoadCallbacks) {
	r.Calls = append(r.Calls, Call{Method: "LoadStyle", ID: identity.String()})
	r.Loaded = false
	r.Loads = append(r.Loads, &Load{Identity: identity, Callbacks: callbacks, r: r})
}

func (r *Recorder) IsStyleLoaded() bool { return r.Loaded }

func (r *Recorder) SetTransition(t engine.Transition) {
	r.Calls = append(r.Calls, Call{Method: "SetTransition"})
	r.Transition = &t
}
