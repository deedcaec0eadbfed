package vm

import (
	"math"
	"testing"
)

func TestSmallIntRoundTrip(t *testing.T) {
	for _, n := range []int64{0, 1, -1, 42, MaxSmallInt, MinSmallInt} {
		v := FromSmallInt(n)
		if !v.IsSmallInt() {
			t.Errorf("FromSmallInt(%d) is not a SmallInt", n)
			continue
		}
		if got := v.SmallInt(); got != n {
			t.Errorf("SmallInt() = %d, want %d", got, n)
		}
	}
	if _, ok := TryFromSmallInt(MaxSmallInt + 1); ok {
		t.Error("Expected TryFromSmallInt to reject out-of-range value")
	}
}

func TestFloatsAreNotTagged(t *testing.T) {
	for _, f := range []float64{0, -2.5, math.Inf(1), math.NaN()} {
		v := FromFloat64(f)
		if !v.IsFloat() {
			t.Errorf("FromFloat64(%v) is not a float", f)
		}
		if v.IsSmallInt() || v.IsString() || v.IsObject() {
			t.Errorf("FromFloat64(%v) matched a tagged kind", f)
		}
	}
	if Nil.IsFloat() || True.IsFloat() || FromSmallInt(3).IsFloat() {
		t.Error("Expected tagged values not to be floats")
	}
}

func TestStringsAreInterned(t *testing.T) {
	a := FromString("hello")
	b := FromString("hel" + "lo")
	if a != b {
		t.Errorf("Expected equal strings to be identical values, got %#x and %#x", uint64(a), uint64(b))
	}
	if a.Str() != "hello" {
		t.Errorf("Str() = %q, want hello", a.Str())
	}
	if FromString("world") == a {
		t.Error("Expected different strings to differ")
	}
}

func TestObjectValues(t *testing.T) {
	e := NewEngine()
	obj := e.NewObject()
	v := obj.ToValue()
	if !v.IsObject() {
		t.Fatal("Expected object value")
	}
	if v != obj.ToValue() {
		t.Error("Expected ToValue to be stable")
	}
	if got := e.ObjectFromValue(v); got != obj {
		t.Errorf("ObjectFromValue returned %p, want %p", got, obj)
	}
	if e.ObjectFromValue(FromSmallInt(1)) != nil {
		t.Error("Expected nil for a non-object value")
	}
	if NewEngine().ObjectFromValue(v) != nil {
		t.Error("Expected another engine not to resolve the handle")
	}
}

func TestTypeOf(t *testing.T) {
	tests := []struct {
		v    Value
		want ValueType
	}{
		{FromSmallInt(1), TypeInt},
		{FromFloat64(1.5), TypeFloat},
		{True, TypeBool},
		{False, TypeBool},
		{Nil, TypeAny},
		{FromString("s"), TypeAny},
	}
	for _, tt := range tests {
		if got := TypeOf(tt.v); got != tt.want {
			t.Errorf("TypeOf(%s) = %s, want %s", tt.v, got, tt.want)
		}
	}
}
