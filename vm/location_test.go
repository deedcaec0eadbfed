package vm

import (
	"errors"
	"testing"
)

func TestLocationCanStore(t *testing.T) {
	prim := newLocation(KindPrimitive, 0, TypeInt, false)
	if !prim.CanStore(FromSmallInt(3)) {
		t.Error("Expected int location to accept an int")
	}
	if prim.CanStore(FromFloat64(3)) || prim.CanStore(FromString("3")) || prim.CanStore(Nil) {
		t.Error("Expected int location to reject non-ints")
	}

	generic := newLocation(KindInline, 0, TypeAny, false)
	for _, v := range []Value{FromSmallInt(1), FromFloat64(2), True, Nil, FromString("x")} {
		if !generic.CanStore(v) {
			t.Errorf("Expected generic location to accept %s", v)
		}
	}
}

func TestLocationPrimitiveRoundTrip(t *testing.T) {
	e := NewEngine()
	tests := []struct {
		name string
		v    Value
	}{
		{"i", FromSmallInt(-12345)},
		{"f", FromFloat64(-2.5)},
		{"b", True},
	}
	obj := e.NewObject()
	for _, tt := range tests {
		from := obj.Shape()
		to, err := e.Transition(from, Add(tt.name, tt.v, false))
		if err != nil {
			t.Fatalf("Transition: %v", err)
		}
		loc, _ := to.Lookup(tt.name)
		if !loc.IsPrimitive() {
			t.Errorf("Expected %s to be unboxed, got %s", tt.name, loc)
		}
		if err := loc.Write(obj, tt.v, from, to); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if obj.Shape() != to {
			t.Errorf("Expected object to move to %s, got %s", to, obj.Shape())
		}
		if got := loc.Read(obj); got != tt.v {
			t.Errorf("Read(%s) = %s, want %s", tt.name, got, tt.v)
		}
	}
}

func TestLocationWriteErrors(t *testing.T) {
	e := NewEngine()
	obj := e.NewObject()
	if err := e.DefineFinal(obj, "k", FromSmallInt(1)); err != nil {
		t.Fatal(err)
	}
	s := obj.Shape()
	loc, _ := s.Lookup("k")

	if err := loc.Write(obj, FromString("no"), s, s); !errors.Is(err, ErrIncompatibleValue) {
		t.Errorf("Expected ErrIncompatibleValue, got %v", err)
	}
	if err := loc.Write(obj, FromSmallInt(1), s, s); err != nil {
		t.Errorf("Expected rewriting the same final value to succeed, got %v", err)
	}
	if err := loc.Write(obj, FromSmallInt(2), s, s); !errors.Is(err, ErrFinalViolation) {
		t.Errorf("Expected ErrFinalViolation, got %v", err)
	}
	if got := loc.Read(obj); got != FromSmallInt(1) {
		t.Errorf("Expected failed writes to leave the slot alone, got %s", got)
	}
}
