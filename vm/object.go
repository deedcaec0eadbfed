package vm

import (
	"math"
	"sync"
)

// Object is a heap record whose layout is described by a Shape.
//
// Objects use a hybrid slot layout optimized for common cases:
//   - 4 unboxed primitive slots holding raw int/float/bool bits
//   - 4 inline generic slots for the first attributes that need a Value
//   - Overflow slice for everything after that
//
// The object's storage always matches its shape: every Location of the shape
// addresses a slot that exists. Shape and storage change together in
// Location.Write and Engine.ShapeOf, never separately.
type Object struct {
	shape *Shape

	// Unboxed storage for primitive Locations.
	prims [NumPrimitiveSlots]uint64

	// Inline generic slots.
	slot0 Value
	slot1 Value
	slot2 Value
	slot3 Value

	// Overflow for generic slots beyond the inline ones.
	// Only allocated when needed.
	overflow []Value

	// Handle in the engine's handle table, 0 until ToValue is first called.
	handle uint32
}

// NumPrimitiveSlots is the number of unboxed primitive slots per object.
const NumPrimitiveSlots = 4

// NumInlineSlots is the number of generic slots stored directly in the Object struct.
const NumInlineSlots = 4

// NewObject creates an empty object carrying the given shape, normally the
// engine's root shape. Storage is sized for the shape.
func NewObject(shape *Shape) *Object {
	obj := &Object{
		shape: shape,
		slot0: Nil,
		slot1: Nil,
		slot2: Nil,
		slot3: Nil,
	}
	obj.reserve(shape)
	return obj
}

// Shape returns the shape the object currently carries. It may be obsolete;
// use Engine.ShapeOf to get the live shape.
func (obj *Object) Shape() *Shape {
	return obj.shape
}

// ---------------------------------------------------------------------------
// Slot access
// ---------------------------------------------------------------------------

// GetSlot returns the value at the given generic slot index. Indexes below
// NumInlineSlots are inline, the rest address the overflow slice.
// Panics if index is out of range.
func (obj *Object) GetSlot(index int) Value {
	switch index {
	case 0:
		return obj.slot0
	case 1:
		return obj.slot1
	case 2:
		return obj.slot2
	case 3:
		return obj.slot3
	default:
		overflowIdx := index - NumInlineSlots
		if overflowIdx < 0 || overflowIdx >= len(obj.overflow) {
			panic("Object.GetSlot: index out of range")
		}
		return obj.overflow[overflowIdx]
	}
}

// SetSlot sets the value at the given generic slot index.
// Panics if index is out of range.
func (obj *Object) SetSlot(index int, value Value) {
	switch index {
	case 0:
		obj.slot0 = value
	case 1:
		obj.slot1 = value
	case 2:
		obj.slot2 = value
	case 3:
		obj.slot3 = value
	default:
		overflowIdx := index - NumInlineSlots
		if overflowIdx < 0 || overflowIdx >= len(obj.overflow) {
			panic("Object.SetSlot: index out of range")
		}
		obj.overflow[overflowIdx] = value
	}
}

func (obj *Object) primBits(index int) uint64 {
	return obj.prims[index]
}

func (obj *Object) setPrimBits(index int, bits uint64) {
	obj.prims[index] = bits
}

// NumSlots returns the number of generic slots currently allocated.
func (obj *Object) NumSlots() int {
	return NumInlineSlots + len(obj.overflow)
}

// reserve grows the overflow slice so every Location of s is addressable.
// Storage never shrinks; slots freed by removals are reset to Nil by the
// caller and reused by later additions.
func (obj *Object) reserve(s *Shape) {
	need := s.OverflowSlots()
	if need <= len(obj.overflow) {
		return
	}
	if need <= cap(obj.overflow) {
		n := len(obj.overflow)
		obj.overflow = obj.overflow[:need]
		for i := n; i < need; i++ {
			obj.overflow[i] = Nil
		}
		return
	}
	grown := make([]Value, need, need+need/2)
	copy(grown, obj.overflow)
	for i := len(obj.overflow); i < need; i++ {
		grown[i] = Nil
	}
	obj.overflow = grown
}

// ---------------------------------------------------------------------------
// Value conversion helpers
// ---------------------------------------------------------------------------

// handleTable maps object handles to objects for one Engine. Handle 0 is
// reserved so the zero Object.handle means "not registered".
type handleTable struct {
	mu   sync.RWMutex
	byID []*Object
}

// ToValue returns a Value referring to obj.
//
// The first call registers obj in its engine's handle table, which keeps it
// reachable for as long as the engine is. Handles are only meaningful to the
// engine that issued them.
func (obj *Object) ToValue() Value {
	t := &obj.shape.engine.handles
	t.mu.Lock()
	defer t.mu.Unlock()
	if obj.handle == 0 {
		if len(t.byID) == 0 {
			t.byID = append(t.byID, nil)
		}
		if uint64(len(t.byID)) > math.MaxUint32 {
			panic("Object.ToValue: object handles exhausted")
		}
		obj.handle = uint32(len(t.byID))
		t.byID = append(t.byID, obj)
	}
	return fromObjectHandle(obj.handle)
}

// ObjectFromValue returns the object v refers to, or nil if v is not a
// reference to an object registered with e.
func (e *Engine) ObjectFromValue(v Value) *Object {
	if !v.IsObject() {
		return nil
	}
	h := v.ObjectHandle()
	e.handles.mu.RLock()
	defer e.handles.mu.RUnlock()
	if h == 0 || int(h) >= len(e.handles.byID) {
		return nil
	}
	return e.handles.byID[h]
}
