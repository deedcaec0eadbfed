package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/shapes/vm"
	"github.com/google/go-cmp/cmp"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[cache]
max-entries = 3
move-to-front = true

[layout]
primitive-slots = 2
final-by-default = true
retroactive-generalize = true

[log]
verbosity = 2
file = "shapes.log"

[profile]
database = "profile.db"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Cache.MaxEntries != 3 {
		t.Errorf("cache max-entries = %d, want 3", m.Cache.MaxEntries)
	}
	if !m.Cache.MoveToFront {
		t.Error("cache move-to-front = false, want true")
	}
	if m.Layout.PrimitiveSlots != 2 {
		t.Errorf("layout primitive-slots = %d, want 2", m.Layout.PrimitiveSlots)
	}
	if !m.Layout.FinalByDefault || !m.Layout.RetroactiveGeneralize {
		t.Errorf("layout = %+v, want both flags set", m.Layout)
	}
	if m.Log.Verbosity != 2 {
		t.Errorf("log verbosity = %d, want 2", m.Log.Verbosity)
	}
	if got := m.ProfilePath(); got != filepath.Join(m.Dir, "profile.db") {
		t.Errorf("profile path = %q", got)
	}
	if got := m.LogPath(); got != filepath.Join(m.Dir, "shapes.log") {
		t.Errorf("log path = %q", got)
	}
	if len(m.Undecoded) != 0 {
		t.Errorf("unexpected undecoded keys %v", m.Undecoded)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[cache]
move-to-front = true
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := Default()
	want.Cache.MoveToFront = true
	want.Dir = m.Dir
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("manifest mismatch (-want +got):\n%s", diff)
	}
	if m.Cache.MaxEntries != vm.DefaultMaxEntries {
		t.Errorf("cache max-entries = %d, want %d", m.Cache.MaxEntries, vm.DefaultMaxEntries)
	}
	if m.ProfilePath() != "" {
		t.Errorf("profile path = %q, want empty", m.ProfilePath())
	}
}

func TestLoadManifestUndecoded(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[cache]
max-entries = 4
max-entires = 5

[jit]
enabled = true
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	got := strings.Join(m.Undecoded, ",")
	if !strings.Contains(got, "cache.max-entires") || !strings.Contains(got, "jit") {
		t.Errorf("undecoded = %v, want cache.max-entires and jit keys", m.Undecoded)
	}
}

func TestLoadManifestInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", "[cache\nmax-entries = 1"},
		{"zero entries", "[cache]\nmax-entries = 0"},
		{"too many primitive slots", "[layout]\nprimitive-slots = 9"},
		{"negative primitive slots", "[layout]\nprimitive-slots = -1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, tt.content)
			if _, err := Load(dir); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("expected error for missing shapes.toml")
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[cache]\nmax-entries = 2\n")

	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(sub)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("expected manifest, got nil")
	}
	if m.Cache.MaxEntries != 2 {
		t.Errorf("cache max-entries = %d, want 2", m.Cache.MaxEntries)
	}
	abs, _ := filepath.Abs(root)
	if m.Dir != abs {
		t.Errorf("dir = %q, want %q", m.Dir, abs)
	}
}

func TestEngineOptions(t *testing.T) {
	m := Default()
	m.Cache.MaxEntries = 2
	m.Cache.MoveToFront = true
	m.Layout.PrimitiveSlots = 1
	m.Layout.RetroactiveGeneralize = true

	got := vm.NewEngine(m.EngineOptions()...).Options()
	if got.MaxEntries != 2 || !got.MoveToFront || got.PrimitiveSlots != 1 ||
		got.FinalByDefault || !got.RetroactiveGeneralize {
		t.Errorf("engine options = %+v", got)
	}
}
