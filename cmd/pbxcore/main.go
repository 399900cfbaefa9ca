// Command pbxcore is the process entrypoint: it boots the module
// loader, seeds a minimal dialplan, starts the SIP channel driver,
// the conference manager and the CDR posting queue, and serves until
// a termination signal arrives.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sebac/pbxcore/internal/banner"
	"github.com/sebac/pbxcore/internal/cdr"
	"github.com/sebac/pbxcore/internal/cdrbackend"
	"github.com/sebac/pbxcore/internal/channel"
	"github.com/sebac/pbxcore/internal/conference"
	"github.com/sebac/pbxcore/internal/loader"
	"github.com/sebac/pbxcore/internal/logger"
	"github.com/sebac/pbxcore/internal/pbx"
	"github.com/sebac/pbxcore/internal/sip"
	"github.com/sebac/pbxcore/internal/vars"
)

func main() {
	cfg := loadConfig()

	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	banner.Print("pbxcore", []banner.ConfigLine{
		{Label: "Bind", Value: fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.SIPPort)},
		{Label: "Advertise", Value: cfg.AdvertiseAddr},
		{Label: "RTP ports", Value: fmt.Sprintf("%d-%d", cfg.RTPMinPort, cfg.RTPMaxPort)},
		{Label: "CDR backends", Value: fmt.Sprintf("%v", cfg.CDRBackends)},
		{Label: "Metrics", Value: cfg.MetricsAddr},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ld := loader.New()
	bootModules(ld, cfg)

	global := vars.NewStore("global")

	reg := pbx.NewRegistry()
	seedDialplan(reg)

	confMgr := conference.NewManager(ctx, slog.Default())

	apps := pbx.NewAppRegistry()
	registerBuiltinApps(apps, confMgr)

	interp := pbx.NewInterpreter(reg, apps)
	interp.CollectDigits = collectDigits

	// activeRecords maps a channel's unique id to its in-flight CDR so
	// the single process-wide Interpreter's OnPosition hook (shared
	// across every concurrent call) can find the right record instead
	// of closing over one, which would race across calls.
	var activeRecords sync.Map
	interp.OnPosition = func(ch *channel.Channel, pos pbx.Position) {
		if v, ok := activeRecords.Load(ch.UniqueID); ok {
			v.(*cdr.Record).SetDestChan(ch.Name)
		}
	}

	disaApp := pbx.NewDISA(interp, global)
	apps.Register(disaApp)

	cdrRegistry := cdr.NewRegistry()
	for _, be := range cfg.CDRBackends {
		switch be {
		case "log":
			cdrRegistry.Register(cdrbackend.NewLogging(slog.Default()))
		case "manager":
			cdrRegistry.Register(cdrbackend.NewManagerEvent(slog.Default()))
		case "sqlite":
			sqliteBE, err := cdrbackend.OpenSQLite(cfg.CDRSQLite)
			if err != nil {
				logger.Error("cdr sqlite backend unavailable", "error", err, "path", cfg.CDRSQLite)
				continue
			}
			defer sqliteBE.Close()
			cdrRegistry.Register(sqliteBE)
		default:
			logger.Warn("unknown cdr backend requested", "backend", be)
		}
	}
	cdrQueue := cdr.NewQueue(cdrRegistry)
	go cdrQueue.Run(ctx)

	sipCfg := sip.DefaultConfig()
	sipCfg.BindAddr = cfg.BindAddr
	sipCfg.AdvertiseAddr = cfg.AdvertiseAddr
	sipCfg.Port = cfg.SIPPort
	sipCfg.RTPMinPort = cfg.RTPMinPort
	sipCfg.RTPMaxPort = cfg.RTPMaxPort

	driver, err := sip.NewDriver(sipCfg, slog.Default())
	if err != nil {
		logger.Error("sip driver init failed", "error", err)
		os.Exit(1)
	}
	defer driver.Close()

	driver.OnInboundCall = func(ch *channel.Channel) {
		record := cdr.New()
		record.Init(ch.Name, ch.CallerIDNam, ch.CallerIDNum, ch.UniqueID)
		record.StartCall()
		activeRecords.Store(ch.UniqueID, record)

		go func() {
			defer activeRecords.Delete(ch.UniqueID)
			err := interp.Run(ctx, ch, "default", "s", 1, global)
			record.End()
			cdrQueue.Detach(record)
			if err != nil {
				logger.Warn("dialplan run ended with error", "error", err, "unique_id", ch.UniqueID)
			}
		}()
	}

	if err := driver.Start(ctx); err != nil {
		logger.Error("sip driver start failed", "error", err)
		os.Exit(1)
	}

	if cfg.ConfigPath != "" {
		go watchConfig(ctx, cfg, ld, reg)
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	logger.Info("pbxcore ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)

	cancel()
	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	time.Sleep(200 * time.Millisecond)
}

// bootModules resolves each entry in cfg.Load against the descriptor
// catalog (skipping anything also present in cfg.Noload) via the
// same BootConfig the loader package exposes for its own boot tests.
func bootModules(ld *loader.Loader, cfg *config) {
	noload := make(map[string]bool, len(cfg.Noload))
	for _, n := range cfg.Noload {
		noload[n] = true
	}
	ld.Boot(loader.BootConfig{Noload: noload, Load: cfg.Load}, slog.Default())
}
