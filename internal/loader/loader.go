package loader

import (
	"fmt"
	"sync"

	"github.com/sebac/pbxcore/internal/channel"
	"github.com/sebac/pbxcore/internal/metrics"
)

// corePseudoModules are dispatched first on a reconfigure sweep,
// ahead of every other registered module.
var corePseudoModules = []string{"manager", "extconfig", "cdr", "enum", "features", "rtp"}

func isCorePseudoModule(name string) bool {
	for _, n := range corePseudoModules {
		if n == name {
			return true
		}
	}
	return false
}

// Loader is the process-wide module registry. A single mutex
// serialises load/unload/reconfigure against each other, the same
// one-lock-covers-the-whole-pool discipline transport.Pool uses for
// its membership and health-check state.
type Loader struct {
	mu      sync.Mutex
	modules map[string]*Module
}

// New returns an empty loader.
func New() *Loader {
	return &Loader{modules: make(map[string]*Module)}
}

// Load resolves name's descriptor: if a module of the same name is
// already registered and handle differs from its recorded handle, the
// old module is deregistered and removed first; if handle is the same
// token, the load is a no-op. Otherwise info.Init runs and the module
// is registered.
func (l *Loader) Load(name, basename string, handle any, info ModuleInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.modules[name]; ok {
		if existing.Handle == handle {
			return nil
		}
		if err := existing.deregister(); err != nil {
			return err
		}
		existing.markUnloaded()
		delete(l.modules, name)
	}

	m := newModule(name, basename, handle, info)
	if m.info.Init != nil {
		if err := m.info.Init(); err != nil {
			return fmt.Errorf("loader: init %q: %w", name, err)
		}
	}
	l.modules[name] = m
	metrics.ModulesLoaded.Set(float64(len(l.modules)))
	return nil
}

// Unload deregisters name. If hangup is set, every channel in the
// module's localuser list receives a soft-hangup request before
// deregister runs. On success the module is removed from the registry
// and marked UNMAP_ON_IDLE: Release fires immediately if its use count
// is already zero, or later, the moment the last exported object is
// Put.
func (l *Loader) Unload(name string, hangup bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.modules[name]
	if !ok {
		return fmt.Errorf("loader: module %q not loaded", name)
	}

	if hangup {
		for _, ch := range m.localUsersSnapshot() {
			ch.RequestSoftHangup(channel.SoftHangupAppUnload)
		}
	}

	if err := m.deregister(); err != nil {
		return err
	}

	delete(l.modules, name)
	metrics.ModulesLoaded.Set(float64(len(l.modules)))
	m.markUnloaded()
	return nil
}

// Reconfigure invokes Reconfigure on every matching module, core
// pseudo-modules first. name == nil reconfigures everything.
func (l *Loader) Reconfigure(name *string) error {
	l.mu.Lock()
	snapshot := make(map[string]*Module, len(l.modules))
	for n, m := range l.modules {
		snapshot[n] = m
	}
	l.mu.Unlock()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	wants := func(n string) bool { return name == nil || *name == n }

	for _, pm := range corePseudoModules {
		if !wants(pm) {
			continue
		}
		if m, ok := snapshot[pm]; ok && m.info.Reconfigure != nil {
			record(m.info.Reconfigure())
		}
	}
	for n, m := range snapshot {
		if isCorePseudoModule(n) || !wants(n) {
			continue
		}
		if m.info.Reconfigure != nil {
			record(m.info.Reconfigure())
		}
	}
	return firstErr
}

// Lookup returns the registered module by name.
func (l *Loader) Lookup(name string) (*Module, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.modules[name]
	return m, ok
}

// Names returns the currently registered module names, unordered.
func (l *Loader) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.modules))
	for n := range l.modules {
		out = append(out, n)
	}
	return out
}
