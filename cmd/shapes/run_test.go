package main

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/chazu/shapes/vm"
)

const scenario = `
new o
new o2
o.x = 1 @w
o2.x = "s" @w
o2.x @r
o.x @r
expect o.x 1
expect o2.x "s"
final o.k = 7
o.k = 8
expect o.k 8
delete o.x
o.x @r
expect o.x absent
`

func runScript(t *testing.T, e *vm.Engine, src string) (*runner, string) {
	t.Helper()
	stmts, err := ParseScript(strings.NewReader(src))
	if err != nil {
		t.Fatalf("ParseScript: %v", err)
	}
	var out bytes.Buffer
	r := newRunner(e, &out)
	if err := r.Run(stmts); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return r, out.String()
}

func TestRunScenario(t *testing.T) {
	r, out := runScript(t, vm.NewEngine(), scenario)

	want := "o2.x = \"s\"\no.x = 1\no.x absent\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}

	w := r.sites.Get(r.labels["w"])
	if w.State() != vm.SiteSpecialized || w.Len() != 2 {
		t.Errorf("write site: %v with %d entries", w.State(), w.Len())
	}
	rd := r.sites.Get(r.labels["r"])
	if rd.Misses != 3 || rd.Hits != 0 {
		t.Errorf("read site: %d hits, %d misses", rd.Hits, rd.Misses)
	}
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"unknown object", "o.x = 1", "unknown object"},
		{"failed expect", "new o\no.x = 1\nexpect o.x 2", "line 3: expected o.x = 2, got 1"},
		{"expect absent", "new o\no.x = 1\nexpect o.x absent", "expected o.x absent"},
		{"site reuse", "new o\no.x = 1 @s\no.y = 1 @s", "site s is a write"},
		{"final conflict", "new o\no.k = 1\nfinal o.k = 1", "layout conflict"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmts, err := ParseScript(strings.NewReader(tt.src))
			if err != nil {
				t.Fatal(err)
			}
			err = newRunner(vm.NewEngine(), &bytes.Buffer{}).Run(stmts)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestCheckConvergence(t *testing.T) {
	src := scenario + "\nnew p\np.a = 1\np.b = 2.5\nredefine p.a any\np.c = true\n"
	stmts, err := ParseScript(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	e := vm.NewEngine()
	r := newRunner(e, &bytes.Buffer{})
	if err := r.Run(stmts); err != nil {
		t.Fatal(err)
	}
	shapes := e.Stats().Shapes

	if err := checkConvergence(context.Background(), e, stmts, r.shapeIDs(), 8); err != nil {
		t.Fatalf("checkConvergence: %v", err)
	}
	if got := e.Stats().Shapes; got != shapes {
		t.Errorf("replays created %d new shapes", got-shapes)
	}
}

func TestPrintStats(t *testing.T) {
	r, _ := runScript(t, vm.NewEngine(), scenario)
	var buf bytes.Buffer
	printStats(&buf, r)
	out := buf.String()

	lines := strings.Split(out, "\n")
	if !strings.HasPrefix(lines[0], "SITE") {
		t.Fatalf("missing header:\n%s", out)
	}
	// Line sites come before labelled ones.
	if !strings.HasPrefix(lines[1], "line ") {
		t.Errorf("expected a line site first, got %q", lines[1])
	}
	for _, want := range []string{"specialized", "shapes ", "hit rate"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunExampleTrace(t *testing.T) {
	src, err := os.ReadFile("../../examples/polymorphic.trace")
	if err != nil {
		t.Fatal(err)
	}
	r, _ := runScript(t, vm.NewEngine(), string(src))

	if rd := r.sites.Get(r.labels["r"]); rd.State() != vm.SiteGeneric {
		t.Errorf("read site r: %v, want generic", rd.State())
	}
	if wk := r.sites.Get(r.labels["wk"]); wk.Replacements != 1 {
		t.Errorf("write site wk: %d replacements, want 1", wk.Replacements)
	}
	if st := r.engine.Stats(); st.Redefinitions != 1 {
		t.Errorf("redefinitions = %d, want 1", st.Redefinitions)
	}
}
