// shapes runs attribute access traces against the shape engine and reports
// how each call site's cache chain behaved.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/chazu/shapes/lib/profile"
	"github.com/chazu/shapes/manifest"
	"github.com/chazu/shapes/vm"
	"github.com/chazu/shapes/vm/snapshot"
	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	_ "github.com/tliron/commonlog/simple"
)

var logger = commonlog.GetLogger("shapes.cmd")

func main() {
	configPath := flag.String("config", "", "Path to shapes.toml (default: search upward from the working directory)")
	verbose := flag.Bool("v", false, "Verbose output")
	dump := flag.String("dump", "", "Dump the shape graph after the run: yaml or cbor")
	profilePath := flag.String("profile", "", "Record call-site statistics in this SQLite database")
	parallel := flag.Int("parallel", 0, "Also run the script N times concurrently on one engine and check the shapes converge")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: shapes [options] <script>\n\n")
		fmt.Fprintf(os.Stderr, "Runs an attribute access trace and prints per-site cache statistics.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nScript lines:\n")
		fmt.Fprintf(os.Stderr, "  new o                   # allocate an empty object\n")
		fmt.Fprintf(os.Stderr, "  o.x = 1 @w1             # write through site w1 (default: one site per line)\n")
		fmt.Fprintf(os.Stderr, "  o.x @r1                 # read through site r1\n")
		fmt.Fprintf(os.Stderr, "  final o.k = 7           # declare a final attribute\n")
		fmt.Fprintf(os.Stderr, "  delete o.x              # remove an attribute\n")
		fmt.Fprintf(os.Stderr, "  redefine o.x any        # generalize x for every object sharing o's shape\n")
		fmt.Fprintf(os.Stderr, "  expect o.x \"s\"          # fail unless o.x holds \"s\" (or: absent)\n")
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(flag.Arg(0), options{
		config:   *configPath,
		verbose:  *verbose,
		dump:     *dump,
		profile:  *profilePath,
		parallel: *parallel,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	config   string
	verbose  bool
	dump     string
	profile  string
	parallel int
}

func run(scriptPath string, opts options) error {
	if opts.dump != "" && opts.dump != "yaml" && opts.dump != "cbor" {
		return fmt.Errorf("unknown dump format %q", opts.dump)
	}

	m, err := loadManifest(opts.config)
	if err != nil {
		return err
	}
	verbosity := m.Log.Verbosity
	if opts.verbose {
		verbosity += 2
	}
	var logPath *string
	if p := m.LogPath(); p != "" {
		logPath = &p
	}
	commonlog.Configure(verbosity, logPath)
	for _, key := range m.Undecoded {
		logger.Warningf("unknown configuration key %s", key)
	}

	f, err := os.Open(scriptPath)
	if err != nil {
		return err
	}
	stmts, err := ParseScript(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", scriptPath, err)
	}

	e := vm.NewEngine(m.EngineOptions()...)
	r := newRunner(e, os.Stdout)
	if err := r.Run(stmts); err != nil {
		return fmt.Errorf("%s: %w", scriptPath, err)
	}

	if opts.parallel > 0 {
		if err := checkConvergence(context.Background(), e, stmts, r.shapeIDs(), opts.parallel); err != nil {
			return err
		}
		if opts.verbose {
			fmt.Printf("%d concurrent runs converged on %d shapes\n", opts.parallel, e.Stats().Shapes)
		}
	}

	printStats(os.Stdout, r)

	dbPath := opts.profile
	if dbPath == "" {
		dbPath = m.ProfilePath()
	}
	if dbPath != "" {
		if err := recordProfile(dbPath, scriptPath, r); err != nil {
			return err
		}
	}

	if opts.dump != "" {
		return dumpGraph(os.Stdout, opts.dump, r)
	}
	return nil
}

func loadManifest(path string) (*manifest.Manifest, error) {
	if path != "" {
		return manifest.LoadFile(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	m, err := manifest.FindAndLoad(wd)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return manifest.Default(), nil
	}
	return m, nil
}

// checkConvergence replays the script n times concurrently against e, each
// replay with its own objects and call sites, and checks that every replay
// leaves its objects on the same shapes as the first run.
func checkConvergence(ctx context.Context, e *vm.Engine, stmts []Stmt, want map[string]uint32, n int) error {
	results := make([]map[string]uint32, n)
	g, _ := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			r := newRunner(e, io.Discard)
			if err := r.Run(stmts); err != nil {
				return fmt.Errorf("replay %d: %w", i, err)
			}
			results[i] = r.shapeIDs()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// A redefinition may have moved objects of the first run since it
	// finished, so compare against live shapes.
	for name, id := range want {
		want[name] = liveID(e, id)
	}
	for i, got := range results {
		for name, id := range want {
			if liveID(e, got[name]) != id {
				return fmt.Errorf("replay %d: %s ended on shape #%d, want #%d", i, name, got[name], id)
			}
		}
	}
	return nil
}

func liveID(e *vm.Engine, id uint32) uint32 {
	s := e.Shape(id)
	for !s.IsValid() && s.Successor() != nil {
		s = s.Successor()
	}
	return s.ID()
}

func recordProfile(path, label string, r *runner) error {
	store, err := profile.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	var sites []profile.Site
	for pc, name := range r.names {
		sites = append(sites, profile.SiteOf(name, r.sites.Get(pc)))
	}
	id, err := store.Record(context.Background(), label, r.engine.Stats(), sites)
	if err != nil {
		return err
	}
	logger.Infof("recorded run %s in %s", id, path)
	return nil
}

func dumpGraph(w *os.File, format string, r *runner) error {
	g := snapshot.Capture(r.engine)
	for pc, name := range r.names {
		g.AddSite(name, r.sites.Get(pc))
	}
	sort.Slice(g.Sites, func(i, j int) bool { return g.Sites[i].Label < g.Sites[j].Label })

	var (
		data []byte
		err  error
	)
	switch format {
	case "yaml":
		data, err = snapshot.MarshalYAML(g)
	case "cbor":
		if isatty.IsTerminal(w.Fd()) {
			return fmt.Errorf("refusing to write CBOR to a terminal")
		}
		data, err = snapshot.Marshal(g)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
