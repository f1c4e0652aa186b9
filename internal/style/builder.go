package style

import "fmt"

// Content is anything that can contribute nodes to a Tree.
type Content interface {
	Visit(b *Builder)
}

// ContentFunc adapts a function into Content.
type ContentFunc func(b *Builder)

func (f ContentFunc) Visit(b *Builder) { f(b) }

// Group flattens its children in declaration order.
type Group []Content

func (g Group) Visit(b *Builder) {
	for _, c := range g {
		if c != nil {
			c.Visit(b)
		}
	}
}

// Empty contributes nothing.
func Empty() Content { return Group(nil) }

// If contributes content only when cond holds.
func If(cond bool, content ...Content) Content {
	if !cond {
		return Empty()
	}
	return Group(content)
}

// IfElse picks one of two branches.
func IfElse(cond bool, then, otherwise Content) Content {
	if cond {
		return then
	}
	return otherwise
}

// Optional contributes fn(*v) when v is non-nil.
func Optional[T any](v *T, fn func(T) Content) Content {
	if v == nil {
		return Empty()
	}
	return fn(*v)
}

// ForEach contributes fn(item) for every item, in order.
func ForEach[T any](items []T, fn func(T) Content) Content {
	out := make(Group, 0, len(items))
	for _, it := range items {
		out = append(out, fn(it))
	}
	return out
}

func (l Layer) Visit(b *Builder)       { b.layer(l) }
func (s Source) Visit(b *Builder)      { b.source(s) }
func (i Image) Visit(b *Builder)       { b.image(i) }
func (m Model) Visit(b *Builder)       { b.model(m) }
func (s StyleImport) Visit(b *Builder) { b.styleImport(s) }
func (l Light) Visit(b *Builder)       { b.light(l) }
func (t Terrain) Visit(b *Builder)     { b.terrain(t) }
func (a Atmosphere) Visit(b *Builder)  { b.atmosphere(a) }
func (p Projection) Visit(b *Builder)  { b.projection(p) }

// BuildContractViolation reports an id declared more than once in one build.
type BuildContractViolation struct {
	Category Category
	ID       string
}

func (v BuildContractViolation) Error() string {
	return fmt.Sprintf("duplicate %s id %q in style content", v.Category, v.ID)
}

// Tree is the flattened, per-category view of declared content.
type Tree struct {
	Layers     []Layer
	Sources    []Source
	Images     []Image
	Models     []Model
	Imports    []StyleImport
	Lights     []Light
	Terrain    *Terrain
	Atmosphere *Atmosphere
	Projection *Projection

	// Violations lists ids declared more than once. The later declaration
	// replaced the earlier payload at the earlier position.
	Violations []BuildContractViolation
}

// IsEmpty reports whether the tree has no nodes.
func (t *Tree) IsEmpty() bool {
	return t == nil || (len(t.Layers) == 0 && len(t.Sources) == 0 && len(t.Images) == 0 &&
		len(t.Models) == 0 && len(t.Imports) == 0 && len(t.Lights) == 0 &&
		t.Terrain == nil && t.Atmosphere == nil && t.Projection == nil)
}

// Builder accumulates nodes while content is visited.
type Builder struct {
	tree  Tree
	index map[Category]map[string]int
}

// Build flattens content into a Tree. A nil content yields an empty tree.
func Build(content Content) *Tree {
	b := &Builder{index: map[Category]map[string]int{}}
	if content != nil {
		content.Visit(b)
	}
	return &b.tree
}

// Add visits nodes directly; it is the hook for ContentFunc.
func (b *Builder) Add(content ...Content) {
	Group(content).Visit(b)
}

// slot returns the existing position of id in cat, or registers next.
func (b *Builder) slot(cat Category, id string, next int) (int, bool) {
	ids := b.index[cat]
	if ids == nil {
		ids = map[string]int{}
		b.index[cat] = ids
	}
	if i, ok := ids[id]; ok {
		b.tree.Violations = append(b.tree.Violations, BuildContractViolation{Category: cat, ID: id})
		return i, true
	}
	ids[id] = next
	return next, false
}

func (b *Builder) layer(l Layer) {
	l.Paint, l.Layout = l.Paint.Clone(), l.Layout.Clone()
	if i, dup := b.slot(CategoryLayer, l.ID, len(b.tree.Layers)); dup {
		b.tree.Layers[i] = l
		return
	}
	b.tree.Layers = append(b.tree.Layers, l)
}

func (b *Builder) source(s Source) {
	s.Properties = s.Properties.Clone()
	if i, dup := b.slot(CategorySource, s.ID, len(b.tree.Sources)); dup {
		b.tree.Sources[i] = s
		return
	}
	b.tree.Sources = append(b.tree.Sources, s)
}

func (b *Builder) image(img Image) {
	if i, dup := b.slot(CategoryImage, img.ID, len(b.tree.Images)); dup {
		b.tree.Images[i] = img
		return
	}
	b.tree.Images = append(b.tree.Images, img)
}

func (b *Builder) model(m Model) {
	if i, dup := b.slot(CategoryModel, m.ID, len(b.tree.Models)); dup {
		b.tree.Models[i] = m
		return
	}
	b.tree.Models = append(b.tree.Models, m)
}

func (b *Builder) styleImport(s StyleImport) {
	s.Config = Properties(s.Config).Clone()
	if i, dup := b.slot(CategoryStyleImport, s.ID, len(b.tree.Imports)); dup {
		b.tree.Imports[i] = s
		return
	}
	b.tree.Imports = append(b.tree.Imports, s)
}

func (b *Builder) light(l Light) {
	l.Properties = l.Properties.Clone()
	if i, dup := b.slot(CategoryLight, l.ID, len(b.tree.Lights)); dup {
		b.tree.Lights[i] = l
		return
	}
	b.tree.Lights = append(b.tree.Lights, l)
}

func (b *Builder) terrain(t Terrain) {
	b.slot(CategoryTerrain, t.NodeID(), 0)
	t.Properties = t.Properties.Clone()
	b.tree.Terrain = &t
}

func (b *Builder) atmosphere(a Atmosphere) {
	b.slot(CategoryAtmosphere, a.NodeID(), 0)
	a.Properties = a.Properties.Clone()
	b.tree.Atmosphere = &a
}

func (b *Builder) projection(p Projection) {
	b.slot(CategoryProjection, p.NodeID(), 0)
	b.tree.Projection = &p
}
