package memory

import (
	"maps"
	"slices"

	"github.com/joeblew999/plat-mapstyle/internal/engine"
	"github.com/joeblew999/plat-mapstyle/internal/style"
)

// LayerState describes one layer of the live style.
type LayerState struct {
	ID         string           `json:"id" yaml:"id"`
	Properties style.Properties `json:"properties" yaml:"properties"`
}

// SourceState describes one source of the live style. Data is summarised.
type SourceState struct {
	ID         string           `json:"id" yaml:"id"`
	Properties style.Properties `json:"properties" yaml:"properties"`
	HasData    bool             `json:"hasData" yaml:"hasData"`
}

// ImportState describes one style import.
type ImportState struct {
	ID     string         `json:"id" yaml:"id"`
	Style  string         `json:"style" yaml:"style"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// State is a copy of the live style, layers ordered bottom to top.
type State struct {
	Style      string            `json:"style" yaml:"style"`
	Loaded     bool              `json:"loaded" yaml:"loaded"`
	Layers     []LayerState      `json:"layers" yaml:"layers"`
	Sources    []SourceState     `json:"sources" yaml:"sources"`
	Images     []string          `json:"images,omitempty" yaml:"images,omitempty"`
	Models     map[string]string `json:"models,omitempty" yaml:"models,omitempty"`
	Lights     []LayerState      `json:"lights,omitempty" yaml:"lights,omitempty"`
	Terrain    style.Properties  `json:"terrain,omitempty" yaml:"terrain,omitempty"`
	Atmosphere style.Properties  `json:"atmosphere,omitempty" yaml:"atmosphere,omitempty"`
	Projection style.Properties  `json:"projection,omitempty" yaml:"projection,omitempty"`
	Imports    []ImportState     `json:"imports,omitempty" yaml:"imports,omitempty"`
}

// Snapshot copies the live style.
func (e *Engine) Snapshot() State {
	st := State{
		Style:      e.identity.String(),
		Loaded:     e.loaded,
		Layers:     make([]LayerState, 0, len(e.layers)),
		Sources:    make([]SourceState, 0, len(e.sourceOrder)),
		Images:     slices.Sorted(maps.Keys(e.images)),
		Models:     maps.Clone(e.models),
		Terrain:    e.terrain.Clone(),
		Atmosphere: e.atmosphere.Clone(),
		Projection: e.projection.Clone(),
	}
	for _, l := range e.layers {
		st.Layers = append(st.Layers, LayerState{ID: l.id, Properties: l.props.Clone()})
	}
	for _, id := range e.sourceOrder {
		props := e.sources[id].Clone()
		_, hasData := props["data"]
		delete(props, "data")
		st.Sources = append(st.Sources, SourceState{ID: id, Properties: props, HasData: hasData})
	}
	for _, l := range e.lights {
		st.Lights = append(st.Lights, LayerState{ID: l.id, Properties: l.props.Clone()})
	}
	for _, imp := range e.imports {
		st.Imports = append(st.Imports, ImportState{ID: imp.id, Style: imp.identity.String(), Config: maps.Clone(imp.config)})
	}
	return st
}

// LayerIDs returns layer ids bottom to top.
func (e *Engine) LayerIDs() []string {
	ids := make([]string, len(e.layers))
	for i, l := range e.layers {
		ids[i] = l.id
	}
	return ids
}

// Layer returns a copy of a layer's properties.
func (e *Engine) Layer(id string) (style.Properties, bool) {
	if i := e.layerIndex(id); i >= 0 {
		return e.layers[i].props.Clone(), true
	}
	return nil, false
}

// Source returns a copy of a source's properties.
func (e *Engine) Source(id string) (style.Properties, bool) {
	p, ok := e.sources[id]
	return p.Clone(), ok
}

// Transition returns the last transition set.
func (e *Engine) Transition() engine.Transition { return e.transition }
