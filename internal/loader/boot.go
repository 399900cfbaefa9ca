package loader

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Descriptor is what a concrete module (chan_sip, pbx_config, res_*)
// registers into the boot catalog at init time, replacing the
// source's directory walk over shared-library basenames.
type Descriptor struct {
	Name     string
	Basename string // must start with "res_", "chan_" or "pbx_"
	Handle   any
	Info     ModuleInfo
	// Preload marks a descriptor for the boot's first pass, for
	// modules later modules depend on (res_rtp before chan_sip, say).
	Preload bool
}

var (
	catalogMu sync.Mutex
	catalog   []Descriptor
)

// RegisterDescriptor adds d to the process-wide boot catalog. Called
// from the init function of whatever package implements the module,
// the same registration-by-side-effect idiom database/sql drivers use.
func RegisterDescriptor(d Descriptor) {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	catalog = append(catalog, d)
}

// ResetCatalog clears the boot catalog. Exists for tests; production
// code never calls it.
func ResetCatalog() {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	catalog = nil
}

func catalogSnapshot() []Descriptor {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	out := make([]Descriptor, len(catalog))
	copy(out, catalog)
	return out
}

// basenamePriority orders res_* ahead of chan_* ahead of pbx_*,
// matching the load order a config-driven boot expects so
// channel drivers can assume their resource dependencies exist.
func basenamePriority(basename string) int {
	switch {
	case strings.HasPrefix(basename, "res_"):
		return 0
	case strings.HasPrefix(basename, "chan_"):
		return 1
	case strings.HasPrefix(basename, "pbx_"):
		return 2
	default:
		return 3
	}
}

// BootConfig controls which catalog entries Boot loads.
type BootConfig struct {
	// Noload names modules to skip entirely.
	Noload map[string]bool
	// Load, if non-empty, restricts boot to exactly these names, in
	// the given order, instead of the full sorted catalog.
	Load []string
}

// Boot performs the two-phase startup: first every descriptor marked
// Preload, in basename-priority order, then every remaining
// descriptor not excluded by cfg.Noload, also in basename-priority
// order. A load error is logged and does not abort the remaining
// boot.
func (l *Loader) Boot(cfg BootConfig, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	entries := catalogSnapshot()

	if len(cfg.Load) > 0 {
		wanted := make(map[string]Descriptor, len(entries))
		for _, d := range entries {
			wanted[d.Name] = d
		}
		ordered := make([]Descriptor, 0, len(cfg.Load))
		for _, name := range cfg.Load {
			if d, ok := wanted[name]; ok {
				ordered = append(ordered, d)
			}
		}
		l.bootPhase(ordered, cfg, log)
		return
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return basenamePriority(entries[i].Basename) < basenamePriority(entries[j].Basename)
	})

	var preload, rest []Descriptor
	for _, d := range entries {
		if d.Preload {
			preload = append(preload, d)
		} else {
			rest = append(rest, d)
		}
	}

	l.bootPhase(preload, cfg, log)
	l.bootPhase(rest, cfg, log)
}

func (l *Loader) bootPhase(entries []Descriptor, cfg BootConfig, log *slog.Logger) {
	for _, d := range entries {
		if cfg.Noload[d.Name] {
			continue
		}
		if _, ok := l.Lookup(d.Name); ok {
			continue
		}
		if err := l.Load(d.Name, d.Basename, d.Handle, d.Info); err != nil {
			log.Warn("module load failed", "module", d.Name, "error", err)
		}
	}
}
