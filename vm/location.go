package vm

import (
	"fmt"
	"math"
)

// StorageKind says which part of an Object a Location addresses.
type StorageKind uint8

const (
	KindPrimitive StorageKind = iota // Unboxed fixed slot
	KindInline                       // Fixed generic slot inside the Object
	KindOverflow                     // Generic slot in the overflow slice
)

func (k StorageKind) String() string {
	switch k {
	case KindPrimitive:
		return "prim"
	case KindInline:
		return "inline"
	case KindOverflow:
		return "overflow"
	}
	return fmt.Sprintf("StorageKind(%d)", uint8(k))
}

// ValueType is the declared type of a Location.
type ValueType uint8

const (
	TypeAny ValueType = iota
	TypeInt
	TypeFloat
	TypeBool
)

func (t ValueType) String() string {
	switch t {
	case TypeAny:
		return "any"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	}
	return fmt.Sprintf("ValueType(%d)", uint8(t))
}

// ParseValueType is the inverse of ValueType.String.
func ParseValueType(s string) (ValueType, error) {
	switch s {
	case "any":
		return TypeAny, nil
	case "int":
		return TypeInt, nil
	case "float":
		return TypeFloat, nil
	case "bool":
		return TypeBool, nil
	}
	return TypeAny, fmt.Errorf("unknown value type %q", s)
}

// TypeOf classifies v. Anything that has no unboxed representation is TypeAny.
func TypeOf(v Value) ValueType {
	switch {
	case v.IsSmallInt():
		return TypeInt
	case v.IsBool():
		return TypeBool
	case v.IsFloat():
		return TypeFloat
	}
	return TypeAny
}

// Accepts reports whether a Location declared as t can hold a value of type u.
func (t ValueType) Accepts(u ValueType) bool {
	return t == TypeAny || t == u
}

// Location describes one physical storage slot for an attribute.
//
// Locations are immutable and shared by every Shape that includes them.
// Changing how an attribute is stored means creating a new Location and a
// new Shape; a Location is never edited in place.
type Location struct {
	kind  StorageKind
	index int // primitive slot, inline slot, or overflow offset depending on kind
	typ   ValueType
	final bool
}

func newLocation(kind StorageKind, index int, typ ValueType, final bool) *Location {
	return &Location{kind: kind, index: index, typ: typ, final: final}
}

// Kind returns the storage kind.
func (l *Location) Kind() StorageKind { return l.kind }

// Index returns the slot index within the storage kind.
func (l *Location) Index() int { return l.index }

// Type returns the declared value type.
func (l *Location) Type() ValueType { return l.typ }

// IsFinal reports whether the slot may only be written once.
func (l *Location) IsFinal() bool { return l.final }

// IsPrimitive reports whether the slot is unboxed.
func (l *Location) IsPrimitive() bool { return l.kind == KindPrimitive }

// slotIndex maps generic Locations onto Object.GetSlot's index space.
func (l *Location) slotIndex() int {
	if l.kind == KindOverflow {
		return NumInlineSlots + l.index
	}
	return l.index
}

// CanStore reports whether v fits this Location. Primitive Locations accept
// only their exact type; generic ones accept anything.
func (l *Location) CanStore(v Value) bool {
	return l.typ.Accepts(TypeOf(v))
}

// Read returns the value stored at this Location in obj.
func (l *Location) Read(obj *Object) Value {
	if l.kind != KindPrimitive {
		return obj.GetSlot(l.slotIndex())
	}
	bits := obj.primBits(l.index)
	switch l.typ {
	case TypeInt:
		return FromSmallInt(int64(bits))
	case TypeFloat:
		return FromFloat64(math.Float64frombits(bits))
	case TypeBool:
		return FromBool(bits != 0)
	}
	return Nil
}

// Write stores v at this Location in obj.
//
// With from == to this is an in-place update of an object carrying from.
// Otherwise the object moves from from to to: storage is grown to fit to,
// the value is stored, and the shape pointer is switched, in that order.
//
// Returns ErrIncompatibleValue if CanStore rejects v, and ErrFinalViolation
// for an in-place write of a different value to a final Location. Neither
// error modifies obj.
func (l *Location) Write(obj *Object, v Value, from, to *Shape) error {
	if !l.CanStore(v) {
		return ErrIncompatibleValue
	}
	if l.final && from == to && l.Read(obj) != v {
		return ErrFinalViolation
	}
	if from != to {
		obj.reserve(to)
	}
	l.store(obj, v)
	if from != to {
		obj.shape = to
	}
	return nil
}

func (l *Location) store(obj *Object, v Value) {
	if l.kind != KindPrimitive {
		obj.SetSlot(l.slotIndex(), v)
		return
	}
	var bits uint64
	switch l.typ {
	case TypeInt:
		bits = uint64(v.SmallInt())
	case TypeFloat:
		bits = math.Float64bits(v.Float64())
	case TypeBool:
		if v.Bool() {
			bits = 1
		}
	}
	obj.setPrimBits(l.index, bits)
}

// clear resets the slot after its attribute was removed.
func (l *Location) clear(obj *Object) {
	if l.kind == KindPrimitive {
		obj.setPrimBits(l.index, 0)
		return
	}
	obj.SetSlot(l.slotIndex(), Nil)
}

// sameSlot reports whether l and o describe the same slot with the same
// type and finality.
func (l *Location) sameSlot(o *Location) bool {
	return l.kind == o.kind && l.index == o.index && l.typ == o.typ && l.final == o.final
}

func (l *Location) String() string {
	s := fmt.Sprintf("%s[%d]:%s", l.kind, l.index, l.typ)
	if l.final {
		s += " final"
	}
	return s
}
