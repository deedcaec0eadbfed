package main

import (
	"fmt"
	"io"

	"github.com/chazu/shapes/vm"
)

// runner executes a parsed script against one engine. Call sites are
// per-runner, so a runner is confined to one goroutine while several
// runners may share the engine.
type runner struct {
	engine  *vm.Engine
	sites   *vm.SiteTable
	objects map[string]*vm.Object
	labels  map[string]int // site label -> pc
	names   map[int]string // pc -> display label
	out     io.Writer
}

func newRunner(e *vm.Engine, out io.Writer) *runner {
	return &runner{
		engine:  e,
		sites:   e.NewSiteTable(),
		objects: make(map[string]*vm.Object),
		labels:  make(map[string]int),
		names:   make(map[int]string),
		out:     out,
	}
}

// Run executes stmts in order, stopping at the first failure.
func (r *runner) Run(stmts []Stmt) error {
	for _, st := range stmts {
		if err := r.exec(st); err != nil {
			return fmt.Errorf("line %d: %w", st.Line, err)
		}
	}
	return nil
}

func (r *runner) exec(st Stmt) error {
	if st.Op == OpNew {
		r.objects[st.Obj] = r.engine.NewObject()
		return nil
	}
	obj, ok := r.objects[st.Obj]
	if !ok {
		return fmt.Errorf("unknown object %q", st.Obj)
	}

	switch st.Op {
	case OpWrite:
		site, err := r.site(st, vm.AccessWrite)
		if err != nil {
			return err
		}
		return site.Set(obj, st.Value)

	case OpRead:
		site, err := r.site(st, vm.AccessRead)
		if err != nil {
			return err
		}
		if v, ok := site.Get(obj); ok {
			fmt.Fprintf(r.out, "%s.%s = %s\n", st.Obj, st.Attr, v)
		} else {
			fmt.Fprintf(r.out, "%s.%s absent\n", st.Obj, st.Attr)
		}

	case OpFinal:
		return r.engine.DefineFinal(obj, st.Attr, st.Value)

	case OpDelete:
		return r.engine.Remove(obj, st.Attr)

	case OpRedefine:
		shape := r.engine.ShapeOf(obj)
		next, err := r.engine.Redefine(shape, vm.Generalize(st.Attr, st.Type))
		if err != nil {
			return err
		}
		logger.Infof("line %d: %s -> %s", st.Line, shape, next)

	case OpExpect:
		v, ok := r.engine.Get(obj, st.Attr)
		switch {
		case st.Absent && ok:
			return fmt.Errorf("expected %s.%s absent, got %s", st.Obj, st.Attr, v)
		case !st.Absent && !ok:
			return fmt.Errorf("expected %s.%s = %s, attribute absent", st.Obj, st.Attr, st.Value)
		case !st.Absent && v != st.Value:
			return fmt.Errorf("expected %s.%s = %s, got %s", st.Obj, st.Attr, st.Value, v)
		}
	}
	return nil
}

// site returns the call site for st. Unlabelled accesses get a site of
// their own per line, the way each bytecode PC owns one.
func (r *runner) site(st Stmt, kind vm.AccessKind) (*vm.CallSite, error) {
	pc, label := st.Line, st.Site
	if label != "" {
		var ok bool
		if pc, ok = r.labels[label]; !ok {
			pc = -(len(r.labels) + 1)
			r.labels[label] = pc
		}
	} else {
		label = fmt.Sprintf("line %d", st.Line)
	}

	cs := r.sites.Get(pc)
	if cs == nil {
		r.names[pc] = label
		return r.sites.GetOrCreate(pc, st.Attr, kind), nil
	}
	if cs.Name() != st.Attr || cs.Kind() != kind {
		return nil, fmt.Errorf("site %s is a %s of %q, not a %s of %q", label, cs.Kind(), cs.Name(), kind, st.Attr)
	}
	return cs, nil
}

// shapeIDs returns the live shape ID of every object.
func (r *runner) shapeIDs() map[string]uint32 {
	ids := make(map[string]uint32, len(r.objects))
	for name, obj := range r.objects {
		ids[name] = r.engine.ShapeOf(obj).ID()
	}
	return ids
}
