package main

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sebac/pbxcore/internal/loader"
	"github.com/sebac/pbxcore/internal/logger"
	"github.com/sebac/pbxcore/internal/pbx"
)

// watchConfig watches cfg.ConfigPath for changes and, on a debounced
// write event, reapplies its overrides, reseeds the dialplan (an
// atomic Registry.Load swap, never observed mid-update by an
// in-flight call) and reconfigures every loaded module. Most editors
// save by rename-and-replace rather than in-place write, so both Write
// and Create are treated as a reload trigger.
func watchConfig(ctx context.Context, cfg *config, ld *loader.Loader, reg *pbx.Registry) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("config watcher unavailable", "error", err)
		return
	}
	defer w.Close()

	if err := w.Add(cfg.ConfigPath); err != nil {
		logger.Warn("failed to watch config file", "path", cfg.ConfigPath, "error", err)
		return
	}

	var debounce *time.Timer
	reload := func() {
		cfg.applyFile(cfg.ConfigPath)
		seedDialplan(reg)
		if err := ld.Reconfigure(nil); err != nil {
			logger.Warn("module reconfigure failed", "error", err)
		}
		logger.Info("config reloaded", "path", cfg.ConfigPath)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(250*time.Millisecond, reload)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher error", "error", err)
		}
	}
}
