package snapshot

import (
	"bytes"
	"strings"
	"testing"

	"github.com/chazu/shapes/vm"
	"github.com/google/go-cmp/cmp"
)

func buildEngine(t *testing.T) (*vm.Engine, *vm.CallSite) {
	t.Helper()
	e := vm.NewEngine()
	site := e.NewCallSite("x", vm.AccessWrite)
	a, b := e.NewObject(), e.NewObject()
	if err := site.Set(a, vm.FromSmallInt(1)); err != nil {
		t.Fatal(err)
	}
	if err := e.Set(a, "y", vm.FromString("y")); err != nil {
		t.Fatal(err)
	}
	if err := site.Set(b, vm.FromString("s")); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Redefine(a.Shape(), vm.Generalize("x", vm.TypeAny)); err != nil {
		t.Fatal(err)
	}
	return e, site
}

func TestCapture(t *testing.T) {
	e, _ := buildEngine(t)
	g := Capture(e)

	if len(g.Shapes) != e.Stats().Shapes {
		t.Fatalf("captured %d shapes, engine has %d", len(g.Shapes), e.Stats().Shapes)
	}
	root := g.Shape(0)
	if root == nil || root.Parent != nil || len(root.Properties) != 0 {
		t.Fatalf("unexpected root %+v", root)
	}
	if len(root.Edges) != 2 {
		t.Errorf("Expected 2 edges from the root, got %v", root.Edges)
	}

	var obsolete int
	for _, s := range g.Shapes {
		if !s.Valid {
			obsolete++
			if s.Successor == nil {
				t.Errorf("shape %d invalid without successor", s.ID)
			}
		}
	}
	if obsolete != 1 {
		t.Errorf("Expected 1 obsolete shape, got %d", obsolete)
	}
	if g.Stats.Redefinitions != 1 {
		t.Errorf("Expected 1 redefinition, got %d", g.Stats.Redefinitions)
	}
}

func TestGraph_CBORRoundTrip(t *testing.T) {
	e, site := buildEngine(t)
	g := Capture(e)
	g.AddSite("w1", site)

	data, err := Marshal(g)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(g, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	again, err := Marshal(Capture(e))
	if err != nil {
		t.Fatal(err)
	}
	plain, _ := Marshal(&Graph{Shapes: g.Shapes, Stats: g.Stats})
	if !bytes.Equal(again, plain) {
		t.Error("Expected canonical encoding to be deterministic")
	}
}

func TestGraph_YAML(t *testing.T) {
	e, site := buildEngine(t)
	g := Capture(e)
	g.AddSite("w1", site)

	data, err := MarshalYAML(g)
	if err != nil {
		t.Fatalf("MarshalYAML: %v", err)
	}
	for _, want := range []string{"shapes:", "transition-hits:", "label: w1", "state: specialized"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("YAML output missing %q:\n%s", want, data)
		}
	}

	got, err := UnmarshalYAML(data)
	if err != nil {
		t.Fatalf("UnmarshalYAML: %v", err)
	}
	if diff := cmp.Diff(g, got); diff != "" {
		t.Errorf("YAML round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestUnmarshal_Garbage(t *testing.T) {
	if _, err := Unmarshal([]byte{0xff, 0x00}); err == nil {
		t.Error("Expected error for malformed CBOR")
	}
}
