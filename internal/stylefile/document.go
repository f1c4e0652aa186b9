// Package stylefile reads declarative style documents from YAML and turns them
// into a stylemanager.MapStyle.
package stylefile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/paulmach/orb/geojson"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-mapstyle/internal/engine"
	"github.com/joeblew999/plat-mapstyle/internal/style"
	"github.com/joeblew999/plat-mapstyle/internal/stylemanager"
)

// Root selects the style document.
type Root struct {
	URI  string `yaml:"uri,omitempty" json:"uri,omitempty" doc:"Style URI"`
	JSON string `yaml:"json,omitempty" json:"json,omitempty" doc:"Inline style JSON"`
}

type Import struct {
	ID     string         `yaml:"id" json:"id"`
	URI    string         `yaml:"uri,omitempty" json:"uri,omitempty"`
	JSON   string         `yaml:"json,omitempty" json:"json,omitempty"`
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// Configuration sets config keys of an import that is part of the root style.
type Configuration struct {
	Import string         `yaml:"import" json:"import"`
	Config map[string]any `yaml:"config" json:"config"`
}

type Source struct {
	ID         string         `yaml:"id" json:"id"`
	Type       string         `yaml:"type" json:"type"`
	Properties map[string]any `yaml:"properties,omitempty" json:"properties,omitempty"`
	// Data is a GeoJSON file, relative to the document.
	Data string `yaml:"data,omitempty" json:"data,omitempty"`
}

type Position struct {
	Above string `yaml:"above,omitempty" json:"above,omitempty"`
	Below string `yaml:"below,omitempty" json:"below,omitempty"`
	At    *int   `yaml:"at,omitempty" json:"at,omitempty"`
}

type Layer struct {
	ID          string         `yaml:"id" json:"id"`
	Type        string         `yaml:"type" json:"type"`
	Source      string         `yaml:"source,omitempty" json:"source,omitempty"`
	SourceLayer string         `yaml:"source-layer,omitempty" json:"source-layer,omitempty"`
	Slot        string         `yaml:"slot,omitempty" json:"slot,omitempty"`
	MinZoom     *float64       `yaml:"minzoom,omitempty" json:"minzoom,omitempty"`
	MaxZoom     *float64       `yaml:"maxzoom,omitempty" json:"maxzoom,omitempty"`
	Filter      any            `yaml:"filter,omitempty" json:"filter,omitempty"`
	Paint       map[string]any `yaml:"paint,omitempty" json:"paint,omitempty"`
	Layout      map[string]any `yaml:"layout,omitempty" json:"layout,omitempty"`
	Position    *Position      `yaml:"position,omitempty" json:"position,omitempty"`
}

// Image is a solid colour image, enough for markers and patterns in tests
// and demos.
type Image struct {
	ID     string  `yaml:"id" json:"id"`
	Width  int     `yaml:"width" json:"width"`
	Height int     `yaml:"height" json:"height"`
	Scale  float64 `yaml:"scale,omitempty" json:"scale,omitempty"`
	SDF    bool    `yaml:"sdf,omitempty" json:"sdf,omitempty"`
	Fill   []int   `yaml:"fill" json:"fill" minItems:"4" maxItems:"4" doc:"RGBA fill, 0-255 per channel"`
}

type Model struct {
	ID  string `yaml:"id" json:"id"`
	URI string `yaml:"uri" json:"uri"`
}

type Light struct {
	ID         string         `yaml:"id" json:"id"`
	Type       string         `yaml:"type" json:"type"`
	Properties map[string]any `yaml:"properties,omitempty" json:"properties,omitempty"`
}

type Terrain struct {
	Source     string         `yaml:"source" json:"source"`
	Properties map[string]any `yaml:"properties,omitempty" json:"properties,omitempty"`
}

type Transition struct {
	Duration   time.Duration `yaml:"duration,omitempty" json:"duration,omitempty" doc:"Duration; a string such as 300ms in YAML, nanoseconds in JSON"`
	Delay      time.Duration `yaml:"delay,omitempty" json:"delay,omitempty" doc:"Delay; a string in YAML, nanoseconds in JSON"`
	Placements bool          `yaml:"placements,omitempty" json:"placements,omitempty"`
}

// Document is a declared style.
type Document struct {
	Style         Root            `yaml:"style" json:"style"`
	Configuration []Configuration `yaml:"configuration,omitempty" json:"configuration,omitempty"`
	Imports       []Import        `yaml:"imports,omitempty" json:"imports,omitempty"`
	Sources       []Source        `yaml:"sources,omitempty" json:"sources,omitempty"`
	Layers        []Layer         `yaml:"layers,omitempty" json:"layers,omitempty"`
	Images        []Image         `yaml:"images,omitempty" json:"images,omitempty"`
	Models        []Model         `yaml:"models,omitempty" json:"models,omitempty"`
	Lights        []Light         `yaml:"lights,omitempty" json:"lights,omitempty"`
	Terrain       *Terrain        `yaml:"terrain,omitempty" json:"terrain,omitempty"`
	Atmosphere    map[string]any  `yaml:"atmosphere,omitempty" json:"atmosphere,omitempty"`
	Projection    string          `yaml:"projection,omitempty" json:"projection,omitempty"`
	Transition    *Transition     `yaml:"transition,omitempty" json:"transition,omitempty"`

	dir    string
	loader *Loader
}

// ErrNoRoot is returned for documents without a style uri or json.
var ErrNoRoot = errors.New("style document needs style.uri or style.json")

// Parse decodes a YAML document. Relative data paths resolve against dir.
func Parse(raw []byte, dir string) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse style document: %w", err)
	}
	if doc.Style.URI == "" && doc.Style.JSON == "" {
		return nil, ErrNoRoot
	}
	doc.dir = dir
	return &doc, nil
}

// Load reads and parses the document at path.
func Load(path string) (*Document, error) {
	return NewLoader().Load(path)
}

// Marshal encodes the document as YAML.
func (d *Document) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}

// Dir is the directory relative data paths resolve against.
func (d *Document) Dir() string { return d.dir }

// SetDir changes the directory relative data paths resolve against.
func (d *Document) SetDir(dir string) { d.dir = dir }

// Loader caches decoded GeoJSON by content hash, so that reloading a document
// whose data files did not change keeps the same collections and the
// reconciler sends no data updates.
type Loader struct {
	mu    sync.Mutex
	cache map[string]cachedData
}

type cachedData struct {
	sum uint64
	fc  *geojson.FeatureCollection
}

func NewLoader() *Loader {
	return &Loader{cache: map[string]cachedData{}}
}

// Load reads and parses the document at path.
func (l *Loader) Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read style document: %w", err)
	}
	doc, err := Parse(raw, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	doc.loader = l
	return doc, nil
}

func (l *Loader) geoJSON(path string) (*geojson.FeatureCollection, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read geojson: %w", err)
	}
	sum := xxhash.Sum64(raw)

	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.cache[path]; ok && c.sum == sum {
		return c.fc, nil
	}
	fc, err := style.DecodeGeoJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	l.cache[path] = cachedData{sum: sum, fc: fc}
	return fc, nil
}

// DataFiles lists the GeoJSON files the document references.
func (d *Document) DataFiles() []string {
	var files []string
	for _, s := range d.Sources {
		if s.Data != "" {
			files = append(files, d.resolve(s.Data))
		}
	}
	return files
}

func (d *Document) resolve(path string) string {
	if filepath.IsAbs(path) || d.dir == "" {
		return path
	}
	return filepath.Join(d.dir, path)
}

func (p *Position) layerPosition() *style.LayerPosition {
	switch {
	case p == nil:
		return nil
	case p.Above != "":
		return style.Above(p.Above)
	case p.Below != "":
		return style.Below(p.Below)
	case p.At != nil:
		return style.At(*p.At)
	}
	return nil
}

func rgba(fill []int) ([]byte, error) {
	if len(fill) != 4 {
		return nil, fmt.Errorf("fill needs 4 channels, got %d", len(fill))
	}
	px := make([]byte, 4)
	for i, c := range fill {
		if c < 0 || c > 255 {
			return nil, fmt.Errorf("fill channel %d out of range: %d", i, c)
		}
		px[i] = byte(c)
	}
	return px, nil
}

// SetLoader makes MapStyle read data files through l.
func (d *Document) SetLoader(l *Loader) { d.loader = l }

// MapStyle converts the document. GeoJSON data files are read here.
func (d *Document) MapStyle() (stylemanager.MapStyle, error) {
	loader := d.loader
	if loader == nil {
		loader = NewLoader()
		d.loader = loader
	}

	var content style.Group
	for _, imp := range d.Imports {
		content = append(content, style.StyleImport{ID: imp.ID, URI: imp.URI, JSON: imp.JSON, Config: imp.Config})
	}
	for _, s := range d.Sources {
		src := style.Source{ID: s.ID, Type: s.Type, Properties: style.Properties(s.Properties)}
		if s.Data != "" {
			fc, err := loader.geoJSON(d.resolve(s.Data))
			if err != nil {
				return stylemanager.MapStyle{}, fmt.Errorf("source %q: %w", s.ID, err)
			}
			src.Data = fc
		}
		content = append(content, src)
	}
	for _, img := range d.Images {
		if img.Width <= 0 || img.Height <= 0 {
			return stylemanager.MapStyle{}, fmt.Errorf("image %q: invalid size %dx%d", img.ID, img.Width, img.Height)
		}
		pixel, err := rgba(img.Fill)
		if err != nil {
			return stylemanager.MapStyle{}, fmt.Errorf("image %q: %w", img.ID, err)
		}
		content = append(content, style.Image{
			ID: img.ID, Width: img.Width, Height: img.Height, Scale: img.Scale, SDF: img.SDF,
			Pixels: bytes.Repeat(pixel, img.Width*img.Height),
		})
	}
	for _, m := range d.Models {
		content = append(content, style.Model{ID: m.ID, URI: m.URI})
	}
	for _, l := range d.Layers {
		content = append(content, style.Layer{
			ID: l.ID, Type: l.Type, Source: l.Source, SourceLayer: l.SourceLayer, Slot: l.Slot,
			MinZoom: l.MinZoom, MaxZoom: l.MaxZoom, Filter: l.Filter,
			Paint: style.Properties(l.Paint), Layout: style.Properties(l.Layout),
			Position: l.Position.layerPosition(),
		})
	}
	for _, l := range d.Lights {
		content = append(content, style.Light{ID: l.ID, Type: l.Type, Properties: style.Properties(l.Properties)})
	}
	if t := d.Terrain; t != nil {
		content = append(content, style.Terrain{Source: t.Source, Properties: style.Properties(t.Properties)})
	}
	if d.Atmosphere != nil {
		content = append(content, style.Atmosphere{Properties: style.Properties(d.Atmosphere)})
	}
	if d.Projection != "" {
		content = append(content, style.Projection{Name: d.Projection})
	}

	configs := make([]style.ImportConfiguration, 0, len(d.Configuration))
	for _, c := range d.Configuration {
		configs = append(configs, style.ImportConfiguration{ImportID: c.Import, Config: c.Config})
	}

	return stylemanager.MapStyle{
		URI:           d.Style.URI,
		JSON:          d.Style.JSON,
		Configuration: configs,
		Content:       content,
	}, nil
}

// LoadOptions returns the per-load options the document declares.
func (d *Document) LoadOptions() []stylemanager.LoadOption {
	if d.Transition == nil {
		return nil
	}
	return []stylemanager.LoadOption{stylemanager.WithTransition(engine.Transition{
		Duration:                   d.Transition.Duration,
		Delay:                      d.Transition.Delay,
		EnablePlacementTransitions: d.Transition.Placements,
	})}
}
