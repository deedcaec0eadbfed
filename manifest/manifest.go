// Package manifest handles shapes.toml engine configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/shapes/vm"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "shapes.toml"

// Manifest represents a shapes.toml configuration.
type Manifest struct {
	Cache   CacheConfig   `toml:"cache"`
	Layout  LayoutConfig  `toml:"layout"`
	Log     LogConfig     `toml:"log"`
	Profile ProfileConfig `toml:"profile"`

	// Dir is the directory containing the shapes.toml file (set at load time).
	Dir string `toml:"-"`

	// Undecoded lists keys present in the file that no field consumed.
	Undecoded []string `toml:"-"`
}

// CacheConfig configures call-site cache chains.
type CacheConfig struct {
	MaxEntries  int  `toml:"max-entries"`
	MoveToFront bool `toml:"move-to-front"`
}

// LayoutConfig configures slot allocation and transitions.
type LayoutConfig struct {
	PrimitiveSlots        int  `toml:"primitive-slots"`
	FinalByDefault        bool `toml:"final-by-default"`
	RetroactiveGeneralize bool `toml:"retroactive-generalize"`
}

// LogConfig configures commonlog output.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// ProfileConfig configures the cache profile store.
type ProfileConfig struct {
	Database string `toml:"database"`
}

// Default returns the configuration used when no shapes.toml exists.
func Default() *Manifest {
	o := vm.DefaultOptions()
	return &Manifest{
		Cache: CacheConfig{
			MaxEntries:  o.MaxEntries,
			MoveToFront: o.MoveToFront,
		},
		Layout: LayoutConfig{
			PrimitiveSlots:        o.PrimitiveSlots,
			FinalByDefault:        o.FinalByDefault,
			RetroactiveGeneralize: o.RetroactiveGeneralize,
		},
	}
}

// Load parses a shapes.toml file from the given directory. Keys missing
// from the file keep their defaults.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	m, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// LoadFile parses the named file regardless of its name.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	for _, key := range md.Undecoded() {
		m.Undecoded = append(m.Undecoded, key.String())
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.Dir = filepath.Dir(path)
	return m, nil
}

// FindAndLoad walks up from startDir to find a shapes.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate rejects values the engine would otherwise silently clamp.
func (m *Manifest) Validate() error {
	if m.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache.max-entries must be at least 1, got %d", m.Cache.MaxEntries)
	}
	if m.Layout.PrimitiveSlots < 0 || m.Layout.PrimitiveSlots > vm.NumPrimitiveSlots {
		return fmt.Errorf("layout.primitive-slots must be between 0 and %d, got %d",
			vm.NumPrimitiveSlots, m.Layout.PrimitiveSlots)
	}
	return nil
}

// EngineOptions converts the configuration into engine options.
func (m *Manifest) EngineOptions() []vm.Option {
	return []vm.Option{
		vm.WithMaxEntries(m.Cache.MaxEntries),
		vm.WithMoveToFront(m.Cache.MoveToFront),
		vm.WithPrimitiveSlots(m.Layout.PrimitiveSlots),
		vm.WithFinalByDefault(m.Layout.FinalByDefault),
		vm.WithRetroactiveGeneralize(m.Layout.RetroactiveGeneralize),
	}
}

// ProfilePath returns the profile database path resolved against Dir, or ""
// when profiling is not configured.
func (m *Manifest) ProfilePath() string {
	return m.resolve(m.Profile.Database)
}

// LogPath returns the log file path resolved against Dir, or "" for stderr.
func (m *Manifest) LogPath() string {
	return m.resolve(m.Log.File)
}

func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || m.Dir == "" {
		return p
	}
	return filepath.Join(m.Dir, p)
}
