package vm

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Property binds an attribute name to its Location within a Shape.
type Property struct {
	Name     string
	Location *Location
}

// Shape is an immutable layout descriptor: an ordered mapping from attribute
// name to Location. Shapes are interned by their mapping, so two objects with
// the same layout carry the same *Shape and guards compare pointers.
//
// The only mutable parts are the outgoing transition table (append-only,
// guarded by mu), the validity token, and the successor recorded when the
// shape is redefined in place.
type Shape struct {
	id     uint32
	engine *Engine
	parent *Shape
	via    Mutation // edge from parent that first produced this shape

	props []Property
	index map[string]int

	valid     *Assumption
	successor atomic.Pointer[Shape]

	mu          sync.RWMutex
	transitions map[Mutation]*Shape

	// Slots an object must provide, one past the highest index used per kind.
	primSlots     int
	inlineSlots   int
	overflowSlots int
}

func newShape(e *Engine, id uint32, parent *Shape, via Mutation, props []Property) *Shape {
	s := &Shape{
		id:          id,
		engine:      e,
		parent:      parent,
		via:         via,
		props:       props,
		index:       make(map[string]int, len(props)),
		valid:       NewAssumption("shape#" + strconv.FormatUint(uint64(id), 10)),
		transitions: make(map[Mutation]*Shape),
	}
	for i, p := range props {
		s.index[p.Name] = i
		loc := p.Location
		switch loc.kind {
		case KindPrimitive:
			s.primSlots = max(s.primSlots, loc.index+1)
		case KindInline:
			s.inlineSlots = max(s.inlineSlots, loc.index+1)
		case KindOverflow:
			s.overflowSlots = max(s.overflowSlots, loc.index+1)
		}
	}
	return s
}

// ID returns the shape's stable handle, unique within its Engine.
func (s *Shape) ID() uint32 { return s.id }

// Engine returns the engine that interned this shape.
func (s *Shape) Engine() *Engine { return s.engine }

// Parent returns the shape this one was first derived from (nil for the root).
func (s *Shape) Parent() *Shape { return s.parent }

// Via returns the mutation that first derived this shape from Parent.
func (s *Shape) Via() Mutation { return s.via }

// Len returns the number of attributes.
func (s *Shape) Len() int { return len(s.props) }

// Lookup returns the Location of the named attribute.
func (s *Shape) Lookup(name string) (*Location, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.props[i].Location, true
}

// Properties returns the attributes in definition order.
func (s *Shape) Properties() []Property {
	out := make([]Property, len(s.props))
	copy(out, s.props)
	return out
}

// Names returns the attribute names in definition order.
func (s *Shape) Names() []string {
	names := make([]string, len(s.props))
	for i, p := range s.props {
		names[i] = p.Name
	}
	return names
}

// Assumption returns the validity token.
func (s *Shape) Assumption() *Assumption { return s.valid }

// IsValid reports whether the shape's validity token still holds.
func (s *Shape) IsValid() bool { return s.valid.IsValid() }

// Successor returns the shape that replaced this one in a redefinition, or nil.
func (s *Shape) Successor() *Shape { return s.successor.Load() }

// live follows successors to the shape that currently stands in for s.
func (s *Shape) live() *Shape {
	for !s.valid.IsValid() {
		next := s.successor.Load()
		if next == nil {
			return s
		}
		s = next
	}
	return s
}

// PrimitiveSlots is the number of unboxed slots an object needs for s.
func (s *Shape) PrimitiveSlots() int { return s.primSlots }

// InlineSlots is the number of inline generic slots an object needs for s.
func (s *Shape) InlineSlots() int { return s.inlineSlots }

// OverflowSlots is the overflow length an object needs for s.
func (s *Shape) OverflowSlots() int { return s.overflowSlots }

// TransitionCount returns the number of memoized outgoing transitions.
func (s *Shape) TransitionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.transitions)
}

// Transitions returns a copy of the memoized outgoing transitions.
func (s *Shape) Transitions() map[Mutation]*Shape {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Mutation]*Shape, len(s.transitions))
	for m, t := range s.transitions {
		out[m] = t
	}
	return out
}

func (s *Shape) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Shape#%d{", s.id)
	for i, p := range s.props {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %s", p.Name, p.Location)
	}
	b.WriteString("}")
	if !s.IsValid() {
		b.WriteString(" (invalid)")
	}
	return b.String()
}

// layoutKey is the interning key: the full ordered mapping.
func layoutKey(props []Property) string {
	var b strings.Builder
	for _, p := range props {
		l := p.Location
		b.WriteString(p.Name)
		b.WriteByte(0)
		b.WriteByte(byte(l.kind))
		b.WriteString(strconv.Itoa(l.index))
		b.WriteByte(byte(l.typ))
		if l.final {
			b.WriteByte('f')
		}
		b.WriteByte(0)
	}
	return b.String()
}
