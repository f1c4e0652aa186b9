package style

import (
	"bytes"
	"maps"

	"github.com/paulmach/orb/geojson"
)

// Category identifies the kind of a content node. The engine keys nodes by
// id within a category.
type Category int

const (
	CategoryLayer Category = iota
	CategorySource
	CategoryImage
	CategoryModel
	CategoryStyleImport
	CategoryLight
	CategoryTerrain
	CategoryAtmosphere
	CategoryProjection
)

var categoryNames = [...]string{
	CategoryLayer:       "layer",
	CategorySource:      "source",
	CategoryImage:       "image",
	CategoryModel:       "model",
	CategoryStyleImport: "import",
	CategoryLight:       "light",
	CategoryTerrain:     "terrain",
	CategoryAtmosphere:  "atmosphere",
	CategoryProjection:  "projection",
}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return "unknown"
}

// Node is a single identified unit of style content.
type Node interface {
	Content
	Category() Category
	NodeID() string
}

// PositionKind selects how a layer is placed in the stack.
type PositionKind int

const (
	PositionAbove PositionKind = iota + 1
	PositionBelow
	PositionAt
)

// LayerPosition places a layer relative to a sibling or at an index.
type LayerPosition struct {
	Kind  PositionKind
	ID    string
	Index int
}

func Above(id string) *LayerPosition { return &LayerPosition{Kind: PositionAbove, ID: id} }
func Below(id string) *LayerPosition { return &LayerPosition{Kind: PositionBelow, ID: id} }
func At(index int) *LayerPosition    { return &LayerPosition{Kind: PositionAt, Index: index} }

func positionEqual(a, b *LayerPosition) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Layer is a style layer.
type Layer struct {
	ID          string
	Type        string
	Source      string
	SourceLayer string
	Slot        string
	MinZoom     *float64
	MaxZoom     *float64
	Filter      any
	Paint       Properties
	Layout      Properties
	// Position overrides the default placement (above the previously declared layer).
	Position *LayerPosition
}

func (l Layer) Category() Category { return CategoryLayer }
func (l Layer) NodeID() string     { return l.ID }

// Equal compares every field, Position included.
func (l Layer) Equal(o Layer) bool {
	return l.ID == o.ID &&
		l.Type == o.Type &&
		l.Source == o.Source &&
		l.SourceLayer == o.SourceLayer &&
		l.Slot == o.Slot &&
		floatPtrEqual(l.MinZoom, o.MinZoom) &&
		floatPtrEqual(l.MaxZoom, o.MaxZoom) &&
		(l.Filter == nil) == (o.Filter == nil) &&
		(l.Filter == nil || valueEqual(l.Filter, o.Filter)) &&
		l.Paint.Equal(o.Paint) &&
		l.Layout.Equal(o.Layout) &&
		positionEqual(l.Position, o.Position)
}

// Properties flattens the layer into the bag passed to the engine.
func (l Layer) Properties() Properties {
	p := Properties{"id": l.ID, "type": l.Type}
	if l.Source != "" {
		p["source"] = l.Source
	}
	if l.SourceLayer != "" {
		p["source-layer"] = l.SourceLayer
	}
	if l.Slot != "" {
		p["slot"] = l.Slot
	}
	if l.MinZoom != nil {
		p["minzoom"] = *l.MinZoom
	}
	if l.MaxZoom != nil {
		p["maxzoom"] = *l.MaxZoom
	}
	if l.Filter != nil {
		p["filter"] = l.Filter
	}
	if len(l.Paint) > 0 {
		p["paint"] = map[string]any(l.Paint.Clone())
	}
	if len(l.Layout) > 0 {
		p["layout"] = map[string]any(l.Layout.Clone())
	}
	return p
}

// SourceTypeCustomGeometry marks sources whose tiles are produced by the host.
const SourceTypeCustomGeometry = "custom-geometry"

// Source is a style source. GeoJSON data travels separately from the other
// properties and is compared by identity.
type Source struct {
	ID         string
	Type       string
	Properties Properties
	Data       *geojson.FeatureCollection
}

func (s Source) Category() Category { return CategorySource }
func (s Source) NodeID() string     { return s.ID }

func (s Source) Equal(o Source) bool {
	return s.ID == o.ID && s.Type == o.Type && s.Data == o.Data && s.Properties.Equal(o.Properties)
}

// EngineProperties is the bag used to create the source, without data.
func (s Source) EngineProperties() Properties {
	p := s.Properties.Clone()
	if p == nil {
		p = Properties{}
	}
	p["type"] = s.Type
	return p
}

// Image is a named raster image.
type Image struct {
	ID     string
	Width  int
	Height int
	Scale  float64
	SDF    bool
	Pixels []byte
}

func (i Image) Category() Category { return CategoryImage }
func (i Image) NodeID() string     { return i.ID }

func (i Image) Equal(o Image) bool {
	return i.ID == o.ID && i.Width == o.Width && i.Height == o.Height &&
		i.Scale == o.Scale && i.SDF == o.SDF && bytes.Equal(i.Pixels, o.Pixels)
}

// Model is a 3D model referenced by model layers.
type Model struct {
	ID  string
	URI string
}

func (m Model) Category() Category { return CategoryModel }
func (m Model) NodeID() string     { return m.ID }

// StyleImport is a nested style with its own configuration.
type StyleImport struct {
	ID     string
	URI    string
	JSON   string
	Config map[string]any
}

func (s StyleImport) Category() Category { return CategoryStyleImport }
func (s StyleImport) NodeID() string     { return s.ID }

func (s StyleImport) Equal(o StyleImport) bool {
	return s.ID == o.ID && s.URI == o.URI && s.JSON == o.JSON &&
		Properties(s.Config).Equal(Properties(o.Config))
}

// Light is a 3D light.
type Light struct {
	ID         string
	Type       string
	Properties Properties
}

func (l Light) Category() Category { return CategoryLight }
func (l Light) NodeID() string     { return l.ID }

func (l Light) Equal(o Light) bool {
	return l.ID == o.ID && l.Type == o.Type && l.Properties.Equal(o.Properties)
}

// EngineProperties is the bag passed to the engine.
func (l Light) EngineProperties() Properties {
	p := l.Properties.Clone()
	if p == nil {
		p = Properties{}
	}
	p["id"] = l.ID
	p["type"] = l.Type
	return p
}

// Terrain is the singleton terrain definition.
type Terrain struct {
	Source     string
	Properties Properties
}

func (t Terrain) Category() Category { return CategoryTerrain }
func (t Terrain) NodeID() string     { return "terrain" }

func (t Terrain) Equal(o Terrain) bool {
	return t.Source == o.Source && t.Properties.Equal(o.Properties)
}

func (t Terrain) EngineProperties() Properties {
	p := t.Properties.Clone()
	if p == nil {
		p = Properties{}
	}
	p["source"] = t.Source
	return p
}

// Atmosphere is the singleton atmosphere (fog) definition.
type Atmosphere struct {
	Properties Properties
}

func (a Atmosphere) Category() Category { return CategoryAtmosphere }
func (a Atmosphere) NodeID() string     { return "atmosphere" }

func (a Atmosphere) Equal(o Atmosphere) bool { return a.Properties.Equal(o.Properties) }

// Projection is the singleton map projection.
type Projection struct {
	Name string
}

func (p Projection) Category() Category { return CategoryProjection }
func (p Projection) NodeID() string     { return "projection" }

func (p Projection) EngineProperties() Properties {
	return Properties{"name": p.Name}
}

// ImportConfiguration is the configuration applied to one style import.
// Nil values are left unchanged.
type ImportConfiguration struct {
	ImportID string
	Config   map[string]any
}

// CloneConfigurations deep-copies a configuration list.
func CloneConfigurations(in []ImportConfiguration) []ImportConfiguration {
	out := make([]ImportConfiguration, len(in))
	for i, c := range in {
		out[i] = ImportConfiguration{ImportID: c.ImportID, Config: maps.Clone(c.Config)}
	}
	return out
}
