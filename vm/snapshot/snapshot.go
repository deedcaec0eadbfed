// Package snapshot captures an engine's shape graph and call-site chains as
// plain data, and encodes them as canonical CBOR or YAML for diffing and
// offline inspection.
package snapshot

import (
	"sort"

	"github.com/chazu/shapes/vm"
)

// Graph is a point-in-time copy of an engine's interned shapes.
type Graph struct {
	Shapes []Shape `cbor:"1,keyasint" yaml:"shapes"`
	Stats  Stats   `cbor:"2,keyasint" yaml:"stats"`
	Sites  []Site  `cbor:"3,keyasint,omitempty" yaml:"sites,omitempty"`
}

// Shape is one interned layout.
type Shape struct {
	ID         uint32     `cbor:"1,keyasint" yaml:"id"`
	Parent     *uint32    `cbor:"2,keyasint,omitempty" yaml:"parent,omitempty"`
	Via        string     `cbor:"3,keyasint,omitempty" yaml:"via,omitempty"`
	Valid      bool       `cbor:"4,keyasint" yaml:"valid"`
	Successor  *uint32    `cbor:"5,keyasint,omitempty" yaml:"successor,omitempty"`
	Properties []Property `cbor:"6,keyasint,omitempty" yaml:"properties,omitempty"`
	Edges      []Edge     `cbor:"7,keyasint,omitempty" yaml:"edges,omitempty"`
}

// Property is an attribute and its Location.
type Property struct {
	Name  string `cbor:"1,keyasint" yaml:"name"`
	Kind  string `cbor:"2,keyasint" yaml:"kind"` // prim, inline, overflow
	Index int    `cbor:"3,keyasint" yaml:"index"`
	Type  string `cbor:"4,keyasint" yaml:"type"`
	Final bool   `cbor:"5,keyasint,omitempty" yaml:"final,omitempty"`
}

// Edge is a memoized transition.
type Edge struct {
	Mutation string `cbor:"1,keyasint" yaml:"mutation"`
	Target   uint32 `cbor:"2,keyasint" yaml:"target"`
}

// Stats mirrors vm.EngineStats.
type Stats struct {
	Shapes           int    `cbor:"1,keyasint" yaml:"shapes"`
	TransitionHits   uint64 `cbor:"2,keyasint" yaml:"transition-hits"`
	TransitionMisses uint64 `cbor:"3,keyasint" yaml:"transition-misses"`
	Redefinitions    uint64 `cbor:"4,keyasint" yaml:"redefinitions"`
	Migrations       uint64 `cbor:"5,keyasint" yaml:"migrations"`
	Conflicts        uint64 `cbor:"6,keyasint" yaml:"conflicts"`
}

// Site is one call site's chain.
type Site struct {
	Label   string  `cbor:"1,keyasint" yaml:"label"`
	Name    string  `cbor:"2,keyasint" yaml:"name"`
	Kind    string  `cbor:"3,keyasint" yaml:"kind"`
	State   string  `cbor:"4,keyasint" yaml:"state"`
	Entries []Entry `cbor:"5,keyasint,omitempty" yaml:"entries,omitempty"`
	Hits    uint64  `cbor:"6,keyasint" yaml:"hits"`
	Misses  uint64  `cbor:"7,keyasint" yaml:"misses"`
}

// Entry is one cache entry, by shape ID.
type Entry struct {
	Expected uint32 `cbor:"1,keyasint" yaml:"expected"`
	Next     uint32 `cbor:"2,keyasint" yaml:"next"`
	Absent   bool   `cbor:"3,keyasint,omitempty" yaml:"absent,omitempty"`
}

// Capture copies e's shape graph. Shapes are ordered by ID and edges by
// target, so two captures of equal graphs encode to the same bytes.
func Capture(e *vm.Engine) *Graph {
	st := e.Stats()
	g := &Graph{
		Stats: Stats{
			Shapes:           st.Shapes,
			TransitionHits:   st.TransitionHits,
			TransitionMisses: st.TransitionMisses,
			Redefinitions:    st.Redefinitions,
			Migrations:       st.Migrations,
			Conflicts:        st.Conflicts,
		},
	}
	for _, s := range e.Shapes() {
		g.Shapes = append(g.Shapes, captureShape(s))
	}
	return g
}

func captureShape(s *vm.Shape) Shape {
	out := Shape{ID: s.ID(), Valid: s.IsValid()}
	if p := s.Parent(); p != nil {
		id := p.ID()
		out.Parent = &id
		out.Via = s.Via().String()
	}
	if succ := s.Successor(); succ != nil {
		id := succ.ID()
		out.Successor = &id
	}
	for _, p := range s.Properties() {
		loc := p.Location
		out.Properties = append(out.Properties, Property{
			Name:  p.Name,
			Kind:  loc.Kind().String(),
			Index: loc.Index(),
			Type:  loc.Type().String(),
			Final: loc.IsFinal(),
		})
	}
	for m, t := range s.Transitions() {
		out.Edges = append(out.Edges, Edge{Mutation: m.String(), Target: t.ID()})
	}
	sort.Slice(out.Edges, func(i, j int) bool {
		a, b := out.Edges[i], out.Edges[j]
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.Mutation < b.Mutation
	})
	return out
}

// AddSite appends the current chain of cs under label.
func (g *Graph) AddSite(label string, cs *vm.CallSite) {
	site := Site{
		Label:  label,
		Name:   cs.Name(),
		Kind:   cs.Kind().String(),
		State:  cs.State().String(),
		Hits:   cs.Hits,
		Misses: cs.Misses,
	}
	for _, en := range cs.Entries() {
		site.Entries = append(site.Entries, Entry{
			Expected: en.Expected.ID(),
			Next:     en.Next.ID(),
			Absent:   en.Location == nil,
		})
	}
	g.Sites = append(g.Sites, site)
}

// Shape returns the captured shape with the given ID, or nil.
func (g *Graph) Shape(id uint32) *Shape {
	i := sort.Search(len(g.Shapes), func(i int) bool { return g.Shapes[i].ID >= id })
	if i < len(g.Shapes) && g.Shapes[i].ID == id {
		return &g.Shapes[i]
	}
	return nil
}
