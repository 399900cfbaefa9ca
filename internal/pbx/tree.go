package pbx

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// maxIncludeDepth bounds the depth of the include-resolution walk;
// find returns an error past it. Cycles are cut earlier by find's seen
// set, which treats a revisited context as FAILURE without an error.
const maxIncludeDepth = 128

// Priority is one step of an extension: an application name, its
// unsubstituted app-data string, and an optional label for goto
// targets.
type Priority struct {
	Number int
	App    string
	Data   string
	Label  string
}

// Extension is one pattern (or exact match) within a context, holding
// its ordered priorities and an optional caller-ID pattern that must
// also match for this extension to be preferred over a non-cid one.
type Extension struct {
	Pattern    string
	CIDPattern string
	Priorities []Priority
}

// PriorityByNumber finds a priority by its number.
func (e *Extension) PriorityByNumber(n int) (Priority, bool) {
	for _, p := range e.Priorities {
		if p.Number == n {
			return p, true
		}
	}
	return Priority{}, false
}

// PriorityByLabel finds a priority by label, used for `goto context,exten,label`.
func (e *Extension) PriorityByLabel(label string) (Priority, bool) {
	for _, p := range e.Priorities {
		if p.Label == label {
			return p, true
		}
	}
	return Priority{}, false
}

// TimeGuard restricts an include to specific hours, days of week, days
// of month and months, per the traditional minute-of-hour/dow/dom/
// month mask syntax.
type TimeGuard struct {
	Minutes    [60]bool
	Hours      [24]bool
	DaysOfWeek [7]bool
	DaysOfMon  [31]bool
	Months     [12]bool
}

// AlwaysTimeGuard returns a guard that matches every moment, the
// default when an include carries no time restriction.
func AlwaysTimeGuard() *TimeGuard {
	g := &TimeGuard{}
	for i := range g.Minutes {
		g.Minutes[i] = true
	}
	for i := range g.Hours {
		g.Hours[i] = true
	}
	for i := range g.DaysOfWeek {
		g.DaysOfWeek[i] = true
	}
	for i := range g.DaysOfMon {
		g.DaysOfMon[i] = true
	}
	for i := range g.Months {
		g.Months[i] = true
	}
	return g
}

// Matches reports whether t falls inside the guard's window.
func (g *TimeGuard) Matches(t time.Time) bool {
	return g.Minutes[t.Minute()] && g.Hours[t.Hour()] &&
		g.DaysOfWeek[int(t.Weekday())] && g.DaysOfMon[t.Day()-1] && g.Months[int(t.Month())-1]
}

// Include is one entry in a context's include list.
type Include struct {
	Context string
	Guard   *TimeGuard
}

// Context is a named collection of extensions, includes and an
// optional alternate switch list.
type Context struct {
	mu         sync.RWMutex
	Name       string
	extensions map[string]*Extension
	includes   []Include
	switches   []string
}

// NewContext returns an empty, named context.
func NewContext(name string) *Context {
	return &Context{Name: name, extensions: make(map[string]*Extension)}
}

// AddExtension registers or replaces the extension matching pattern.
func (c *Context) AddExtension(ext *Extension) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extensions[ext.Pattern] = ext
}

// AddInclude appends an include, evaluated in registration order.
func (c *Context) AddInclude(inc Include) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if inc.Guard == nil {
		inc.Guard = AlwaysTimeGuard()
	}
	c.includes = append(c.includes, inc)
}

// AddSwitch registers an alternate switch name, consulted after all
// extensions and includes fail to match.
func (c *Context) AddSwitch(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.switches = append(c.switches, name)
}

// extensionsSnapshot returns a stable, pattern-sorted copy of the
// context's extensions for lock-free matching.
func (c *Context) extensionsSnapshot() []*Extension {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Extension, 0, len(c.extensions))
	for _, e := range c.extensions {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pattern < out[j].Pattern })
	return out
}

func (c *Context) includesSnapshot() []Include {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Include, len(c.includes))
	copy(out, c.includes)
	return out
}

func (c *Context) switchesSnapshot() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.switches))
	copy(out, c.switches)
	return out
}

// Switch is an alternate-dialplan module consulted when a context's
// own extensions and includes fail to resolve a name.
type Switch struct {
	Name        string
	Exists      func(context, exten, cid string) bool
	CanMatch    func(context, exten, cid string) bool
	MatchMore   func(context, exten, cid string) bool
	Exec        func(context, exten string, priority int, cid string) error
}

// Registry holds the dialplan's full context set behind an
// atomic-pointer hot-swap so readers never block on a reload,
// mirroring the teacher's copy-on-write Dialplan.routes.
type Registry struct {
	contexts atomic.Pointer[contextMap]
	switches sync.Map // name -> *Switch
}

type contextMap map[string]*Context

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	m := make(contextMap)
	r.contexts.Store(&m)
	return r
}

// Load atomically replaces the full context set, the dialplan
// reload's `merge_contexts_and_delete` swap.
func (r *Registry) Load(contexts map[string]*Context) {
	m := contextMap(contexts)
	r.contexts.Store(&m)
}

// Context returns a named context, or nil if it doesn't exist.
func (r *Registry) Context(name string) *Context {
	m := *r.contexts.Load()
	return m[name]
}

// RegisterSwitch adds a named alternate switch to the registry.
func (r *Registry) RegisterSwitch(sw *Switch) {
	r.switches.Store(sw.Name, sw)
}

// Switch looks up a registered alternate switch by name.
func (r *Registry) Switch(name string) (*Switch, bool) {
	v, ok := r.switches.Load(name)
	if !ok {
		return nil, false
	}
	return v.(*Switch), true
}

// lookupKind selects which acceptance rule a Find call applies.
type lookupKind int

const (
	lookupExists lookupKind = iota
	lookupCanMatch
	lookupMatchMore
)

// Find walks contextName's extensions (and, depth-first with cycle
// detection, its includes) looking for exten, applying cid preference
// when cid is non-empty, and returns the best MatchResult and the
// matching Extension if the kind's acceptance rule is satisfied.
func (r *Registry) Find(contextName, exten, cid string, kind lookupKind, now time.Time) (MatchResult, *Extension, error) {
	best, ext, err := r.find(contextName, exten, cid, kind, now, make(map[string]bool), 0)
	return best, ext, err
}

func (r *Registry) find(contextName, exten, cid string, kind lookupKind, now time.Time, seen map[string]bool, depth int) (MatchResult, *Extension, error) {
	if depth > maxIncludeDepth {
		return MatchFailure, nil, fmt.Errorf("pbx: include chain exceeds depth %d at context %q", maxIncludeDepth, contextName)
	}
	if seen[contextName] {
		return MatchFailure, nil, nil
	}
	seen[contextName] = true

	ctx := r.Context(contextName)
	if ctx == nil {
		return MatchFailure, nil, fmt.Errorf("pbx: context %q not found", contextName)
	}

	worst := MatchFailure
	var withCID, withoutCID *Extension
	var cidResult, plainResult MatchResult

	for _, ext := range ctx.extensionsSnapshot() {
		m := MatchPattern(ext.Pattern, exten)
		if m > worst {
			worst = m
		}
		if !acceptableFor(kind, m) {
			continue
		}
		if ext.CIDPattern != "" && cid != "" {
			if MatchPattern(ext.CIDPattern, cid) >= MatchPossible {
				if m > cidResult {
					cidResult = m
					withCID = ext
				}
			}
			continue
		}
		if m > plainResult {
			plainResult = m
			withoutCID = ext
		}
	}

	if withCID != nil {
		return cidResult, withCID, nil
	}
	if withoutCID != nil {
		return plainResult, withoutCID, nil
	}

	for _, inc := range ctx.includesSnapshot() {
		if !inc.Guard.Matches(now) {
			continue
		}
		m, ext, err := r.find(inc.Context, exten, cid, kind, now, seen, depth+1)
		if err != nil {
			return MatchFailure, nil, err
		}
		if ext != nil {
			return m, ext, nil
		}
		if m > worst {
			worst = m
		}
	}

	for _, name := range ctx.switchesSnapshot() {
		sw, ok := r.Switch(name)
		if !ok {
			continue
		}
		if accepts(kind, sw, contextName, exten, cid) {
			return MatchExact, nil, nil
		}
	}

	return worst, nil, nil
}

func acceptableFor(kind lookupKind, m MatchResult) bool {
	switch kind {
	case lookupExists:
		return m.AcceptsExists()
	case lookupCanMatch:
		return m.AcceptsCanMatch()
	case lookupMatchMore:
		return m.AcceptsMatchMore()
	default:
		return false
	}
}

func accepts(kind lookupKind, sw *Switch, context, exten, cid string) bool {
	switch kind {
	case lookupExists:
		return sw.Exists != nil && sw.Exists(context, exten, cid)
	case lookupCanMatch:
		return sw.CanMatch != nil && sw.CanMatch(context, exten, cid)
	case lookupMatchMore:
		return sw.MatchMore != nil && sw.MatchMore(context, exten, cid)
	default:
		return false
	}
}
