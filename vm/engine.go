package vm

import (
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"
)

var logger = commonlog.GetLogger("shapes.vm")

// DefaultMaxEntries is the default bound on specialized entries per call site.
// Cog VM uses 6 entries for its PICs.
const DefaultMaxEntries = 6

// Options configures an Engine.
type Options struct {
	// MaxEntries bounds the specialized entries of a call site before it
	// falls back to the generic entry.
	MaxEntries int

	// MoveToFront reorders a call site's chain on every hit so the most
	// recently used entry is tried first. Off means strict insertion order.
	MoveToFront bool

	// PrimitiveSlots is how many of the NumPrimitiveSlots unboxed slots
	// shapes may allocate. Zero disables unboxed storage.
	PrimitiveSlots int

	// FinalByDefault declares every newly added attribute final.
	FinalByDefault bool

	// RetroactiveGeneralize widens an attribute for every holder of a shape
	// when one holder needs it, by redefining the shape in place, instead of
	// forking a sibling shape.
	RetroactiveGeneralize bool

	// OnRespecialize is called whenever a call site changes state.
	OnRespecialize func(site *CallSite, from, to SiteState)
}

// Option mutates Options.
type Option func(*Options)

// DefaultOptions returns the options NewEngine starts from.
func DefaultOptions() Options {
	return Options{
		MaxEntries:     DefaultMaxEntries,
		PrimitiveSlots: NumPrimitiveSlots,
	}
}

// WithOptions replaces all options at once.
func WithOptions(o Options) Option {
	return func(opts *Options) { *opts = o }
}

// WithMaxEntries sets Options.MaxEntries.
func WithMaxEntries(n int) Option {
	return func(o *Options) { o.MaxEntries = n }
}

// WithMoveToFront sets Options.MoveToFront.
func WithMoveToFront(on bool) Option {
	return func(o *Options) { o.MoveToFront = on }
}

// WithPrimitiveSlots sets Options.PrimitiveSlots.
func WithPrimitiveSlots(n int) Option {
	return func(o *Options) { o.PrimitiveSlots = n }
}

// WithFinalByDefault sets Options.FinalByDefault.
func WithFinalByDefault(on bool) Option {
	return func(o *Options) { o.FinalByDefault = on }
}

// WithRetroactiveGeneralize sets Options.RetroactiveGeneralize.
func WithRetroactiveGeneralize(on bool) Option {
	return func(o *Options) { o.RetroactiveGeneralize = on }
}

// WithRespecializeHook sets Options.OnRespecialize.
func WithRespecializeHook(fn func(site *CallSite, from, to SiteState)) Option {
	return func(o *Options) { o.OnRespecialize = fn }
}

// EngineStats counts transition engine activity.
type EngineStats struct {
	Shapes           int    // Interned shapes
	TransitionHits   uint64 // Transitions answered from a memo table
	TransitionMisses uint64 // Transitions that had to be computed
	Redefinitions    uint64 // Shapes invalidated by Redefine
	Migrations       uint64 // Objects moved off an obsolete shape
	Conflicts        uint64 // Mutations rejected with ErrLayoutConflict
}

// Engine is the shape transition engine. It owns the interning table and the
// root shape; everything reachable from the root was produced by Transition.
//
// Shapes and Locations are immutable once interned and can be read from any
// goroutine. The interning table is guarded by mu, and each shape's
// transition table by its own lock, so concurrent requests for the same
// (shape, mutation) always converge on one shape.
type Engine struct {
	opts Options

	mu       sync.Mutex
	interned map[string]*Shape
	byID     []*Shape
	root     *Shape

	handles handleTable

	transitionHits   atomic.Uint64
	transitionMisses atomic.Uint64
	redefinitions    atomic.Uint64
	migrations       atomic.Uint64
	conflicts        atomic.Uint64
}

// NewEngine creates an engine with an empty root shape.
func NewEngine(opts ...Option) *Engine {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.MaxEntries < 1 {
		o.MaxEntries = 1
	}
	if o.PrimitiveSlots < 0 {
		o.PrimitiveSlots = 0
	}
	if o.PrimitiveSlots > NumPrimitiveSlots {
		o.PrimitiveSlots = NumPrimitiveSlots
	}

	e := &Engine{
		opts:     o,
		interned: make(map[string]*Shape),
	}
	e.root = newShape(e, 0, nil, Mutation{}, nil)
	e.interned[layoutKey(nil)] = e.root
	e.byID = append(e.byID, e.root)
	return e
}

// Options returns the engine's configuration.
func (e *Engine) Options() Options { return e.opts }

// Root returns the empty shape S0.
func (e *Engine) Root() *Shape { return e.root }

// NewObject allocates an empty object on the root shape. Hosts that manage
// their own allocation can call the package-level NewObject instead.
func (e *Engine) NewObject() *Object {
	return NewObject(e.root)
}

// Shape returns the interned shape with the given ID, or nil.
func (e *Engine) Shape(id uint32) *Shape {
	e.mu.Lock()
	defer e.mu.Unlock()
	if int(id) >= len(e.byID) {
		return nil
	}
	return e.byID[id]
}

// Shapes returns every interned shape ordered by ID.
func (e *Engine) Shapes() []*Shape {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Shape, len(e.byID))
	copy(out, e.byID)
	return out
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	n := len(e.byID)
	e.mu.Unlock()
	return EngineStats{
		Shapes:           n,
		TransitionHits:   e.transitionHits.Load(),
		TransitionMisses: e.transitionMisses.Load(),
		Redefinitions:    e.redefinitions.Load(),
		Migrations:       e.migrations.Load(),
		Conflicts:        e.conflicts.Load(),
	}
}

// ---------------------------------------------------------------------------
// Transitions
// ---------------------------------------------------------------------------

// Transition applies m to s and returns the resulting shape.
//
// Results are memoized per (s, m): calling Transition twice with the same
// arguments returns the same pointer. A mutation that does not change the
// layout returns s itself. If s has been redefined, m is applied to the
// shape that replaced it.
//
// The returned shape may itself be obsolete if it was redefined after being
// created; callers that move an object onto it follow up with ShapeOf.
func (e *Engine) Transition(s *Shape, m Mutation) (*Shape, error) {
	s = s.live()

	s.mu.RLock()
	next, ok := s.transitions[m]
	s.mu.RUnlock()
	if ok {
		e.transitionHits.Add(1)
		return next, nil
	}
	e.transitionMisses.Add(1)

	props, changed, err := e.apply(s, m)
	if err != nil {
		e.conflicts.Add(1)
		logger.Warningf("transition %s on shape #%d: %s", m, s.id, err)
		return nil, err
	}

	next = s
	if changed {
		e.mu.Lock()
		next = e.internLocked(s, m, props)
		e.mu.Unlock()
	}

	s.mu.Lock()
	if existing, ok := s.transitions[m]; ok {
		next = existing
	} else {
		s.transitions[m] = next
	}
	s.mu.Unlock()
	return next, nil
}

// Redefine applies m to s in place: the result replaces s for every object
// that carries it. s's validity token is invalidated, which makes every
// cache entry guarding on s drop itself on next use, and objects still on s
// are migrated the next time ShapeOf sees them.
func (e *Engine) Redefine(s *Shape, m Mutation) (*Shape, error) {
	s = s.live()
	next, err := e.Transition(s, m)
	if err != nil {
		return nil, err
	}
	if next == s {
		return s, nil
	}
	if next.live() == s {
		// next is an obsolete layout that forwards back to s.
		e.conflicts.Add(1)
		return nil, conflictf(m.Name, "redefinition of shape #%d would restore obsolete shape #%d", s.id, next.id)
	}
	if !s.successor.CompareAndSwap(nil, next) {
		// Lost a race with another redefinition; apply m on top of it.
		return e.Redefine(s.successor.Load(), m)
	}
	s.valid.Invalidate()
	e.redefinitions.Add(1)
	logger.Infof("redefined shape #%d as #%d (%s)", s.id, next.id, m)
	return next, nil
}

// ShapeOf returns obj's live shape. If obj still carries a shape that was
// redefined, its storage is rearranged for the replacement first.
func (e *Engine) ShapeOf(obj *Object) *Shape {
	s := obj.shape
	if s.IsValid() {
		return s
	}
	live := s.live()
	if live != s {
		e.migrate(obj, s, live)
	}
	return live
}

// migrate moves obj from an obsolete shape to its replacement. Values are
// read out before anything is written because the two layouts may reuse
// each other's slots.
func (e *Engine) migrate(obj *Object, from, to *Shape) {
	vals := make([]Value, len(to.props))
	present := make([]bool, len(to.props))
	for i, p := range to.props {
		if old, ok := from.Lookup(p.Name); ok {
			vals[i] = old.Read(obj)
			present[i] = true
		}
	}
	for _, p := range from.props {
		p.Location.clear(obj)
	}
	obj.reserve(to)
	for i, p := range to.props {
		if present[i] && p.Location.CanStore(vals[i]) {
			p.Location.store(obj, vals[i])
		}
	}
	obj.shape = to
	e.migrations.Add(1)
}

// apply computes the ordered mapping that results from applying m to s.
// changed is false when m is a no-op for s.
func (e *Engine) apply(s *Shape, m Mutation) (props []Property, changed bool, err error) {
	idx, exists := s.index[m.Name]

	switch m.Kind {
	case MutationAdd:
		if !exists {
			loc := e.allocate(s.props, -1, m.Type, m.Final)
			props = make([]Property, len(s.props), len(s.props)+1)
			copy(props, s.props)
			return append(props, Property{Name: m.Name, Location: loc}), true, nil
		}
		loc := s.props[idx].Location
		if m.Final {
			if !loc.final {
				return nil, false, conflictf(m.Name, "already declared non-final")
			}
			if !loc.typ.Accepts(m.Type) {
				return nil, false, conflictf(m.Name, "final %s redeclared as %s", loc.typ, m.Type)
			}
			return s.props, false, nil
		}
		if loc.typ.Accepts(m.Type) {
			return s.props, false, nil
		}
		return e.apply(s, Generalize(m.Name, m.Type))

	case MutationGeneralize:
		if !exists {
			return nil, false, conflictf(m.Name, "cannot generalize a missing attribute")
		}
		loc := s.props[idx].Location
		if loc.typ.Accepts(m.Type) {
			return s.props, false, nil
		}
		// A value of another type is a second, different value, so the
		// widened slot is never final.
		props = e.replace(s.props, idx, e.allocate(s.props, idx, TypeAny, false))
		return props, true, nil

	case MutationDefinalize:
		if !exists {
			return nil, false, conflictf(m.Name, "cannot definalize a missing attribute")
		}
		loc := s.props[idx].Location
		if !loc.final {
			return s.props, false, nil
		}
		props = e.replace(s.props, idx, newLocation(loc.kind, loc.index, loc.typ, false))
		return props, true, nil

	case MutationRemove:
		if !exists {
			return s.props, false, nil
		}
		props = make([]Property, 0, len(s.props)-1)
		props = append(props, s.props[:idx]...)
		return append(props, s.props[idx+1:]...), true, nil
	}
	return nil, false, conflictf(m.Name, "unknown mutation %s", m.Kind)
}

func (e *Engine) replace(props []Property, idx int, loc *Location) []Property {
	out := make([]Property, len(props))
	copy(out, props)
	out[idx] = Property{Name: props[idx].Name, Location: loc}
	return out
}

// allocate picks the lowest free slot for a new Location, ignoring the
// property at skip (the one being replaced, or -1). Primitive types get an
// unboxed slot while any are left; everything else gets a generic slot,
// inline first, then overflow.
func (e *Engine) allocate(props []Property, skip int, typ ValueType, final bool) *Location {
	var prims, generic []bool
	for i, p := range props {
		if i == skip {
			continue
		}
		loc := p.Location
		if loc.kind == KindPrimitive {
			prims = markUsed(prims, loc.index)
		} else {
			generic = markUsed(generic, loc.slotIndex())
		}
	}

	if typ != TypeAny {
		if slot := lowestFree(prims); slot < e.opts.PrimitiveSlots {
			return newLocation(KindPrimitive, slot, typ, final)
		}
	}
	slot := lowestFree(generic)
	if slot < NumInlineSlots {
		return newLocation(KindInline, slot, TypeAny, final)
	}
	return newLocation(KindOverflow, slot-NumInlineSlots, TypeAny, final)
}

func markUsed(used []bool, i int) []bool {
	for len(used) <= i {
		used = append(used, false)
	}
	used[i] = true
	return used
}

func lowestFree(used []bool) int {
	for i, u := range used {
		if !u {
			return i
		}
	}
	return len(used)
}

// internLocked returns the canonical shape for props, creating it if this
// mapping has never been seen. Caller holds e.mu.
func (e *Engine) internLocked(parent *Shape, via Mutation, props []Property) *Shape {
	key := layoutKey(props)
	if existing, ok := e.interned[key]; ok {
		return existing
	}
	s := newShape(e, uint32(len(e.byID)), parent, via, props)
	e.interned[key] = s
	e.byID = append(e.byID, s)
	logger.Debugf("shape #%d = #%d + %s", s.id, parent.id, via)
	return s
}
