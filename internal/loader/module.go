// Package loader implements the module lifecycle: load, unload,
// reconfigure, the preload/boot ordering, and the UNMAP_ON_IDLE
// contract that keeps a module's code alive while any object it
// exported is still referenced.
//
// Go has no dlopen. Modules here are in-process descriptors registered
// at init time rather than shared libraries; the library-handle field
// becomes a comparable token so the loader can still tell "the same
// library reloaded" from "a genuinely different module" apart.
package loader

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sebac/pbxcore/internal/channel"
)

// ModuleInfo is the function set a module registers, the Go analogue
// of the `get_modinfo`-returned vtable.
type ModuleInfo struct {
	// Init runs once, when the module is first loaded.
	Init func() error
	// Deregister runs on unload; returning non-zero means the module
	// refused to unload (e.g. it still has live calls) and the loader
	// leaves it registered.
	Deregister func() int
	// Reconfigure re-reads the module's own configuration.
	Reconfigure func() error
	// Release finalizes the module once it has been deregistered and
	// its last exported object has dropped to zero references. May be
	// nil for modules that hold nothing worth finalizing.
	Release func() error
}

// moduleState tracks where a Module sits in its lifecycle.
type moduleState int32

const (
	stateLoaded moduleState = iota
	stateUnloaded
	stateReleased
)

// Module is one loaded module: its vtable, its library-handle token,
// its use count (objects it exported that are still referenced
// elsewhere), and the channels it has registered as local users.
type Module struct {
	mu sync.Mutex

	Name     string
	Basename string
	Handle   any

	info ModuleInfo

	useCount    atomic.Int32
	state       atomic.Int32
	releaseOnce sync.Once

	localMu    sync.Mutex
	localusers []*channel.Channel
}

func newModule(name, basename string, handle any, info ModuleInfo) *Module {
	m := &Module{Name: name, Basename: basename, Handle: handle, info: info}
	m.state.Store(int32(stateLoaded))
	return m
}

// BumpUse adjusts the module's export use-count. It implements
// object.UseCounter so any object.New call that names this module as
// owner keeps it pinned until every such object is Put. Reaching zero
// after the module has already been unloaded triggers Release.
func (m *Module) BumpUse(delta int32) {
	n := m.useCount.Add(delta)
	if n < 0 {
		panic("loader: module use count went negative")
	}
	if n == 0 && moduleState(m.state.Load()) == stateUnloaded {
		m.finalize()
	}
}

// UseCount reports the module's current export use count.
func (m *Module) UseCount() int32 { return m.useCount.Load() }

func (m *Module) finalize() {
	m.releaseOnce.Do(func() {
		m.state.Store(int32(stateReleased))
		if m.info.Release != nil {
			m.info.Release()
		}
	})
}

// AddLocalUser registers ch as one of the module's local users, so a
// hangup-on-unload can find it.
func (m *Module) AddLocalUser(ch *channel.Channel) {
	m.localMu.Lock()
	defer m.localMu.Unlock()
	m.localusers = append(m.localusers, ch)
}

// RemoveLocalUser unregisters ch, typically called from the channel's
// own hangup path.
func (m *Module) RemoveLocalUser(ch *channel.Channel) {
	m.localMu.Lock()
	defer m.localMu.Unlock()
	for i, c := range m.localusers {
		if c == ch {
			m.localusers = append(m.localusers[:i], m.localusers[i+1:]...)
			return
		}
	}
}

func (m *Module) localUsersSnapshot() []*channel.Channel {
	m.localMu.Lock()
	defer m.localMu.Unlock()
	out := make([]*channel.Channel, len(m.localusers))
	copy(out, m.localusers)
	return out
}

func (m *Module) deregister() error {
	if m.info.Deregister == nil {
		return nil
	}
	if rc := m.info.Deregister(); rc != 0 {
		return fmt.Errorf("loader: module %q declined to unload (deregister returned %d)", m.Name, rc)
	}
	return nil
}

func (m *Module) markUnloaded() {
	m.state.Store(int32(stateUnloaded))
	if m.useCount.Load() == 0 {
		m.finalize()
	}
}
