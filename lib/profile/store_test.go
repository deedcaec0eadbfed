package profile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/chazu/shapes/vm"
	"github.com/google/go-cmp/cmp"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "profile.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndQuery(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	e := vm.NewEngine()
	read := e.NewCallSite("x", vm.AccessRead)
	write := e.NewCallSite("x", vm.AccessWrite)
	obj := e.NewObject()
	if err := write.Set(obj, vm.FromSmallInt(1)); err != nil {
		t.Fatal(err)
	}
	read.Get(obj)
	read.Get(obj)

	sites := []Site{SiteOf("w1", write), SiteOf("r1", read)}
	id, err := s.Record(ctx, "trace.txt", e.Stats(), sites)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	runs, err := s.Runs(ctx)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != id || runs[0].Label != "trace.txt" {
		t.Fatalf("runs = %+v", runs)
	}
	if diff := cmp.Diff(e.Stats(), runs[0].Stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}

	got, err := s.Sites(ctx, id)
	if err != nil {
		t.Fatalf("Sites: %v", err)
	}
	want := []Site{
		{Label: "r1", Name: "x", Kind: "read", State: "specialized", Entries: 1, Hits: 1, Misses: 1},
		{Label: "w1", Name: "x", Kind: "write", State: "specialized", Entries: 1, Misses: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sites mismatch (-want +got):\n%s", diff)
	}
}

func TestSitesUnknownRun(t *testing.T) {
	s := openStore(t)
	if _, err := s.Sites(context.Background(), "nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRecordRejectsDuplicateLabels(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	dup := []Site{{Label: "a", Name: "x"}, {Label: "a", Name: "y"}}
	if _, err := s.Record(ctx, "dup", vm.EngineStats{}, dup); err == nil {
		t.Fatal("expected error for duplicate site labels")
	}
	runs, err := s.Runs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Errorf("expected rolled back run, got %+v", runs)
	}
}

func TestReopenKeepsRuns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "profile.db")

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Record(ctx, "first", vm.EngineStats{Shapes: 3}, nil); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	runs, err := s.Runs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Stats.Shapes != 3 {
		t.Errorf("runs = %+v", runs)
	}
}
