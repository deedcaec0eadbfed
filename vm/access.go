package vm

import "errors"

// Outcome is the result of Engine.Access.
type Outcome struct {
	Value   Value     // Value read (reads only)
	Found   bool      // Attribute present (reads only)
	Written bool      // Write performed (writes only)
	State   SiteState // Site state after the access
}

// Access performs one read (value == nil) or write through site, extending
// or rewriting the site's chain as a side effect. Only ErrLayoutConflict is
// returned; every other condition is recovered by re-specializing.
func (e *Engine) Access(site *CallSite, obj *Object, value *Value) (Outcome, error) {
	if value == nil {
		v, ok := site.Get(obj)
		return Outcome{Value: v, Found: ok, State: site.state}, nil
	}
	if err := site.Set(obj, *value); err != nil {
		return Outcome{State: site.state}, err
	}
	return Outcome{Written: true, State: site.state}, nil
}

// Get reads name from obj without a call site.
func (e *Engine) Get(obj *Object, name string) (Value, bool) {
	loc, ok := e.ShapeOf(obj).Lookup(name)
	if !ok {
		return Nil, false
	}
	return loc.Read(obj), true
}

// Set writes name on obj without a call site.
func (e *Engine) Set(obj *Object, name string, v Value) error {
	_, _, _, err := e.write(obj, name, v, false)
	return err
}

// DefineFinal adds name to obj as a final attribute. Redeclaring an existing
// final attribute with the same value is a no-op; anything else that
// contradicts the existing declaration is a layout conflict.
func (e *Engine) DefineFinal(obj *Object, name string, v Value) error {
	_, _, _, err := e.write(obj, name, v, true)
	return err
}

// Remove drops name from obj. Removing a missing attribute is a no-op.
func (e *Engine) Remove(obj *Object, name string) error {
	from := e.ShapeOf(obj)
	loc, ok := from.Lookup(name)
	if !ok {
		return nil
	}
	to, err := e.Transition(from, Remove(name))
	if err != nil {
		return err
	}
	loc.clear(obj)
	obj.reserve(to)
	obj.shape = to
	e.ShapeOf(obj)
	return nil
}

// write is the uncached write path shared by call sites and the direct API.
// It returns the shape the object was on, the shape the write moved it to
// (equal for in-place writes) and the Location written, so a call site can
// cache exactly this move.
func (e *Engine) write(obj *Object, name string, v Value, final bool) (from, to *Shape, loc *Location, err error) {
	from = e.ShapeOf(obj)
	loc, exists := from.Lookup(name)

	var m Mutation
	switch {
	case !exists:
		m = Add(name, v, final || e.opts.FinalByDefault)
	case final:
		// Surfaces contradictory redeclarations as ErrLayoutConflict.
		if _, err := e.Transition(from, Add(name, v, true)); err != nil {
			return nil, nil, nil, err
		}
		if err := loc.Write(obj, v, from, from); err != nil {
			if errors.Is(err, ErrFinalViolation) {
				e.conflicts.Add(1)
				return nil, nil, nil, conflictf(name, "final value %s redeclared as %s", loc.Read(obj), v)
			}
			return nil, nil, nil, err
		}
		return from, from, loc, nil
	case !loc.CanStore(v):
		m = Generalize(name, TypeOf(v))
	default:
		err = loc.Write(obj, v, from, from)
		if err == nil {
			return from, from, loc, nil
		}
		if !errors.Is(err, ErrFinalViolation) {
			return nil, nil, nil, err
		}
		m = Definalize(name)
	}

	if m.Kind == MutationGeneralize && e.opts.RetroactiveGeneralize {
		// Widen for every holder of from, then retry on the migrated object.
		if _, err := e.Redefine(from, m); err != nil {
			return nil, nil, nil, err
		}
		return e.write(obj, name, v, final)
	}
	to, err = e.Transition(from, m)
	if err != nil {
		return nil, nil, nil, err
	}
	to, loc = e.settle(from, to, name, v)
	if err := loc.Write(obj, v, from, to); err != nil {
		return nil, nil, nil, err
	}
	if !to.IsValid() {
		e.ShapeOf(obj)
	}
	return from, to, loc, nil
}

// settle picks the shape a write of name moves an object to when the
// memoized transition from -> to may since have been redefined. If the live
// replacement of to differs from from only in name, the object moves there
// directly and the move stays cacheable; otherwise to is kept and the
// caller migrates the object afterwards.
func (e *Engine) settle(from, to *Shape, name string, v Value) (*Shape, *Location) {
	loc, _ := to.Lookup(name)
	if to.IsValid() {
		return to, loc
	}
	live := to.live()
	liveLoc, ok := live.Lookup(name)
	if !ok || !live.IsValid() || !liveLoc.CanStore(v) || !sameLayoutExcept(from, live, name) {
		return to, loc
	}
	return live, liveLoc
}

// sameLayoutExcept reports whether a and b hold the same attributes in the
// same slots, ignoring name.
func sameLayoutExcept(a, b *Shape, name string) bool {
	count := func(s *Shape) int {
		if _, ok := s.index[name]; ok {
			return len(s.props) - 1
		}
		return len(s.props)
	}
	if count(a) != count(b) {
		return false
	}
	for _, p := range b.props {
		if p.Name == name {
			continue
		}
		old, ok := a.Lookup(p.Name)
		if !ok || !old.sameSlot(p.Location) {
			return false
		}
	}
	return true
}
