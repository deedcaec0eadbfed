package vm

import "errors"

// Attribute access inline caching
//
// Each attribute access point in the host's code owns a CallSite. The site
// keeps an ordered chain of entries specialized on the receiver's shape:
// a hit costs one pointer compare plus a validity check, then a direct slot
// access through the cached Location.
//
// A site progresses Empty -> Specialized -> Generic. Most sites stay
// monomorphic or low-polymorphic; once a site has seen more shapes than
// MaxEntries it gives up and resolves from the live shape on every call.

// SiteState is the state of a call site's cache chain.
type SiteState uint8

const (
	SiteEmpty       SiteState = iota // No entries yet
	SiteSpecialized                  // 1..MaxEntries shape-guarded entries
	SiteGeneric                      // Megamorphic: shape-dispatching fallback only
)

func (s SiteState) String() string {
	switch s {
	case SiteEmpty:
		return "empty"
	case SiteSpecialized:
		return "specialized"
	case SiteGeneric:
		return "generic"
	}
	return "unknown"
}

// AccessKind says whether a call site reads or writes its attribute.
type AccessKind uint8

const (
	AccessRead AccessKind = iota
	AccessWrite
)

func (k AccessKind) String() string {
	if k == AccessWrite {
		return "write"
	}
	return "read"
}

// cacheEntry is one specialization. For reads and in-place writes next is
// the same shape as expected; for adds and generalizations it is the shape
// the object moves to. A read entry with a nil loc caches "attribute absent".
type cacheEntry struct {
	expected *Shape
	next     *Shape
	loc      *Location
}

func (c *cacheEntry) valid() bool {
	return c.expected.IsValid() && c.next.IsValid()
}

// EntryInfo describes a cache entry for diagnostics.
type EntryInfo struct {
	Expected *Shape
	Next     *Shape
	Location *Location
}

// CallSite is the cache chain for one attribute access point.
//
// A CallSite is not safe for concurrent use; the host either confines it to
// one goroutine or serializes access to it along with the objects it touches.
type CallSite struct {
	engine  *Engine
	name    string
	kind    AccessKind
	state   SiteState
	entries []cacheEntry

	// Statistics for profiling
	Hits         uint64 // Guarded fast-path accesses
	Misses       uint64 // Accesses resolved from the live shape
	Removals     uint64 // Entries dropped because a shape was invalidated
	Replacements uint64 // Entries rewritten after a final violation
}

// NewCallSite creates an empty call site for the named attribute.
func (e *Engine) NewCallSite(name string, kind AccessKind) *CallSite {
	return &CallSite{engine: e, name: name, kind: kind}
}

// Name returns the attribute the site accesses.
func (cs *CallSite) Name() string { return cs.name }

// Kind returns whether the site reads or writes.
func (cs *CallSite) Kind() AccessKind { return cs.kind }

// State returns the current chain state.
func (cs *CallSite) State() SiteState { return cs.state }

// Len returns the number of specialized entries.
func (cs *CallSite) Len() int { return len(cs.entries) }

// Entries returns the chain in traversal order.
func (cs *CallSite) Entries() []EntryInfo {
	out := make([]EntryInfo, len(cs.entries))
	for i, en := range cs.entries {
		out[i] = EntryInfo{Expected: en.expected, Next: en.next, Location: en.loc}
	}
	return out
}

// HitRate returns the cache hit rate as a percentage (0-100).
func (cs *CallSite) HitRate() float64 {
	total := cs.Hits + cs.Misses
	if total == 0 {
		return 0
	}
	return float64(cs.Hits) * 100 / float64(total)
}

// Reset clears the chain back to empty and zeroes the counters.
func (cs *CallSite) Reset() {
	cs.entries = nil
	cs.setState(SiteEmpty)
	cs.Hits = 0
	cs.Misses = 0
	cs.Removals = 0
	cs.Replacements = 0
}

// ---------------------------------------------------------------------------
// Read path
// ---------------------------------------------------------------------------

// Get reads the site's attribute from obj. The boolean is false when obj has
// no such attribute, in which case the value is Nil.
func (cs *CallSite) Get(obj *Object) (Value, bool) {
	shape := obj.shape
	for i := 0; i < len(cs.entries); {
		en := cs.entries[i]
		if !en.expected.IsValid() {
			cs.removeAt(i)
			continue
		}
		if en.expected == shape {
			cs.Hits++
			cs.touch(i)
			if en.loc == nil {
				return Nil, false
			}
			return en.loc.Read(obj), true
		}
		i++
	}
	return cs.getSlow(obj)
}

func (cs *CallSite) getSlow(obj *Object) (Value, bool) {
	cs.Misses++
	shape := cs.engine.ShapeOf(obj)
	loc, ok := shape.Lookup(cs.name)
	v := Nil
	if ok {
		v = loc.Read(obj)
	}
	if cs.state != SiteGeneric && shape.IsValid() {
		cs.specialize(cacheEntry{expected: shape, next: shape, loc: loc}, -1)
	}
	return v, ok
}

// ---------------------------------------------------------------------------
// Write path
// ---------------------------------------------------------------------------

// Set writes v to the site's attribute on obj, adding or widening the
// attribute as needed. Only ErrLayoutConflict is ever returned.
func (cs *CallSite) Set(obj *Object, v Value) error {
	shape := obj.shape
	replaceAt := -1
	for i := 0; i < len(cs.entries); {
		en := cs.entries[i]
		if !en.valid() {
			cs.removeAt(i)
			if replaceAt < 0 {
				replaceAt = i
			}
			continue
		}
		if en.expected == shape && en.loc != nil && en.loc.CanStore(v) {
			err := en.loc.Write(obj, v, en.expected, en.next)
			if err == nil {
				cs.Hits++
				cs.touch(i)
				return nil
			}
			if errors.Is(err, ErrFinalViolation) {
				return cs.replaceFinal(i, obj, v)
			}
			return err
		}
		i++
	}
	return cs.setSlow(obj, v, replaceAt)
}

func (cs *CallSite) setSlow(obj *Object, v Value, at int) error {
	cs.Misses++
	from, to, loc, err := cs.engine.write(obj, cs.name, v, false)
	if err != nil {
		cs.goGeneric("layout conflict")
		return err
	}
	if cs.state != SiteGeneric && from.IsValid() && to.IsValid() {
		cs.specialize(cacheEntry{expected: from, next: to, loc: loc}, at)
	}
	return nil
}

// replaceFinal handles a second, different write to a final Location found
// through entry i: the attribute is definalized once via the transition
// engine and entry i is rewritten to perform that move directly, so later
// writes through it never hit the final check again.
func (cs *CallSite) replaceFinal(i int, obj *Object, v Value) error {
	cs.Misses++
	from := cs.entries[i].expected
	to, err := cs.engine.Transition(from, Definalize(cs.name))
	if err != nil {
		cs.goGeneric("layout conflict")
		return err
	}
	to, loc := cs.engine.settle(from, to, cs.name, v)
	if err := loc.Write(obj, v, from, to); err != nil {
		return err
	}
	if !to.IsValid() {
		cs.engine.ShapeOf(obj)
		cs.removeAt(i)
		return nil
	}
	cs.entries[i] = cacheEntry{expected: from, next: to, loc: loc}
	cs.Replacements++
	logger.Debugf("site %s: definalized %q on shape #%d -> #%d", cs.kind, cs.name, from.id, to.id)
	return nil
}

// ---------------------------------------------------------------------------
// Chain maintenance
// ---------------------------------------------------------------------------

// specialize installs en at position at (or at the tail when at < 0), or
// sends the site generic when the chain is already full.
func (cs *CallSite) specialize(en cacheEntry, at int) {
	if len(cs.entries) >= cs.engine.opts.MaxEntries {
		cs.goGeneric("chain full")
		return
	}
	if at < 0 || at >= len(cs.entries) {
		cs.entries = append(cs.entries, en)
	} else {
		cs.entries = append(cs.entries, cacheEntry{})
		copy(cs.entries[at+1:], cs.entries[at:])
		cs.entries[at] = en
	}
	cs.setState(SiteSpecialized)
}

func (cs *CallSite) removeAt(i int) {
	cs.entries = append(cs.entries[:i], cs.entries[i+1:]...)
	cs.Removals++
	if len(cs.entries) == 0 && cs.state == SiteSpecialized {
		cs.setState(SiteEmpty)
	}
}

// touch moves entry i to the front when MoveToFront is enabled.
func (cs *CallSite) touch(i int) {
	if i == 0 || !cs.engine.opts.MoveToFront {
		return
	}
	en := cs.entries[i]
	copy(cs.entries[1:i+1], cs.entries[0:i])
	cs.entries[0] = en
}

func (cs *CallSite) goGeneric(reason string) {
	if cs.state == SiteGeneric {
		return
	}
	cs.entries = nil
	logger.Debugf("site %s %q: going generic (%s)", cs.kind, cs.name, reason)
	cs.setState(SiteGeneric)
}

func (cs *CallSite) setState(to SiteState) {
	from := cs.state
	if from == to {
		return
	}
	cs.state = to
	if hook := cs.engine.opts.OnRespecialize; hook != nil {
		hook(cs, from, to)
	}
}

// ---------------------------------------------------------------------------
// Call site tables
// ---------------------------------------------------------------------------

// SiteTable manages the call sites of one unit of host code, keyed by the
// host's site identifier (typically a bytecode PC).
type SiteTable struct {
	engine *Engine
	sites  map[int]*CallSite
}

// NewSiteTable creates an empty table.
func (e *Engine) NewSiteTable() *SiteTable {
	return &SiteTable{engine: e, sites: make(map[int]*CallSite)}
}

// GetOrCreate returns the call site at pc, creating one if needed.
func (t *SiteTable) GetOrCreate(pc int, name string, kind AccessKind) *CallSite {
	if cs := t.sites[pc]; cs != nil {
		return cs
	}
	cs := t.engine.NewCallSite(name, kind)
	t.sites[pc] = cs
	return cs
}

// Get returns the call site at pc, or nil if none exists.
func (t *SiteTable) Get(pc int) *CallSite {
	return t.sites[pc]
}

// Sites returns the table's call sites keyed by pc.
func (t *SiteTable) Sites() map[int]*CallSite {
	out := make(map[int]*CallSite, len(t.sites))
	for pc, cs := range t.sites {
		out[pc] = cs
	}
	return out
}

// Reset clears all call sites in the table.
func (t *SiteTable) Reset() {
	for _, cs := range t.sites {
		cs.Reset()
	}
}

// CacheStats holds aggregate call-site statistics.
type CacheStats struct {
	TotalCallSites  int     // Total number of call sites
	Empty           int     // Call sites with no entries
	Monomorphic     int     // Specialized with one entry
	Polymorphic     int     // Specialized with two or more entries
	Generic         int     // Megamorphic call sites
	TotalHits       uint64  // Total cache hits
	TotalMisses     uint64  // Total cache misses
	TotalRemovals   uint64  // Entries dropped on invalidation
	HitRate         float64 // Overall hit rate percentage
	MonomorphicRate float64 // Percentage of non-empty call sites that are monomorphic
}

// CollectStats gathers call-site statistics across tables.
func CollectStats(tables ...*SiteTable) CacheStats {
	var stats CacheStats
	for _, t := range tables {
		for _, cs := range t.sites {
			stats.add(cs)
		}
	}
	stats.finish()
	return stats
}

func (s *CacheStats) add(cs *CallSite) {
	s.TotalCallSites++
	switch {
	case cs.state == SiteGeneric:
		s.Generic++
	case len(cs.entries) == 0:
		s.Empty++
	case len(cs.entries) == 1:
		s.Monomorphic++
	default:
		s.Polymorphic++
	}
	s.TotalHits += cs.Hits
	s.TotalMisses += cs.Misses
	s.TotalRemovals += cs.Removals
}

func (s *CacheStats) finish() {
	total := s.TotalHits + s.TotalMisses
	if total > 0 {
		s.HitRate = float64(s.TotalHits) * 100 / float64(total)
	}
	nonEmpty := s.TotalCallSites - s.Empty
	if nonEmpty > 0 {
		s.MonomorphicRate = float64(s.Monomorphic) * 100 / float64(nonEmpty)
	}
}
