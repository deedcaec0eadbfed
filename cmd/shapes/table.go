package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/chazu/shapes/vm"
	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
)

// table is a left-aligned text table. Widths are measured in terminal
// cells so labels with wide characters stay aligned.
type table struct {
	header []string
	rows   [][]string
	bold   bool
}

func newTable(w io.Writer, header ...string) *table {
	t := &table{header: header}
	if f, ok := w.(*os.File); ok {
		t.bold = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return t
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) render(w io.Writer) {
	widths := make([]int, len(t.header))
	for _, row := range append([][]string{t.header}, t.rows...) {
		for i, c := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(c))
		}
	}

	line := func(row []string) string {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = runewidth.FillRight(c, widths[i])
		}
		return strings.TrimRight(strings.Join(cells, "  "), " ")
	}

	head := line(t.header)
	if t.bold {
		head = "\x1b[1m" + head + "\x1b[0m"
	}
	fmt.Fprintln(w, head)
	for _, row := range t.rows {
		fmt.Fprintln(w, line(row))
	}
}

// printStats writes the per-site table followed by engine and aggregate
// counters.
func printStats(w io.Writer, r *runner) {
	pcs := make([]int, 0, len(r.names))
	for pc := range r.names {
		pcs = append(pcs, pc)
	}
	// Line sites in line order, then labelled sites by label.
	sort.Slice(pcs, func(i, j int) bool {
		a, b := pcs[i], pcs[j]
		if (a > 0) != (b > 0) {
			return a > 0
		}
		if a > 0 {
			return a < b
		}
		return r.names[a] < r.names[b]
	})

	t := newTable(w, "SITE", "ATTR", "KIND", "STATE", "ENTRIES", "HITS", "MISSES", "REMOVED", "HIT%")
	for _, pc := range pcs {
		cs := r.sites.Get(pc)
		t.add(
			r.names[pc], cs.Name(), cs.Kind().String(), cs.State().String(),
			fmt.Sprint(cs.Len()), fmt.Sprint(cs.Hits), fmt.Sprint(cs.Misses),
			fmt.Sprint(cs.Removals), fmt.Sprintf("%.1f", cs.HitRate()),
		)
	}
	t.render(w)

	st := r.engine.Stats()
	agg := vm.CollectStats(r.sites)
	fmt.Fprintf(w, "\nshapes %d, transitions %d hit / %d miss, redefinitions %d, migrations %d, conflicts %d\n",
		st.Shapes, st.TransitionHits, st.TransitionMisses, st.Redefinitions, st.Migrations, st.Conflicts)
	fmt.Fprintf(w, "sites %d: %d empty, %d monomorphic, %d polymorphic, %d generic; hit rate %.1f%%\n",
		agg.TotalCallSites, agg.Empty, agg.Monomorphic, agg.Polymorphic, agg.Generic, agg.HitRate)
}
