package main

import (
	"encoding/json"
	"flag"
	"os"
	"strconv"
	"strings"
)

// config holds the process's bootstrap settings: where to listen for
// SIP, which CDR back-ends to post to, and the module load/noload
// list a -config JSON file can override. Dialplan *content* is out of
// scope (spec.md excludes a configuration file parser), so config
// only ever seeds a boot-time module list, not extensions.
type config struct {
	BindAddr      string
	AdvertiseAddr string
	SIPPort       int
	RTPMinPort    int
	RTPMaxPort    int
	LogLevel      string

	MetricsAddr string

	CDRBackends []string // any of: log, manager, sqlite
	CDRSQLite   string   // path, used when CDRBackends contains "sqlite"

	ConfigPath string

	Load   []string
	Noload []string
}

// fileOverrides is the subset of config a -config JSON document may
// override, mirroring BootConfig's own Load/Noload shape.
type fileOverrides struct {
	CDRBackends []string `json:"cdr_backends"`
	CDRSQLite   string   `json:"cdr_sqlite"`
	Load        []string `json:"load"`
	Noload      []string `json:"noload"`
}

// loadConfig parses flags and environment variables, then applies any
// -config JSON document on top. Flags take precedence over env vars;
// the config file adds to Load/Noload, and replaces CDRBackends and
// CDRSQLite when it sets them.
func loadConfig() *config {
	cfg := &config{
		BindAddr:      envOr("PBXCORE_BIND_ADDR", "0.0.0.0"),
		AdvertiseAddr: envOr("PBXCORE_ADVERTISE_ADDR", "127.0.0.1"),
		SIPPort:       envIntOr("PBXCORE_SIP_PORT", 5060),
		RTPMinPort:    envIntOr("PBXCORE_RTP_MIN_PORT", 10000),
		RTPMaxPort:    envIntOr("PBXCORE_RTP_MAX_PORT", 20000),
		LogLevel:      envOr("PBXCORE_LOG_LEVEL", "info"),
		MetricsAddr:   envOr("PBXCORE_METRICS_ADDR", ":9191"),
	}

	var cdrBackends string
	flag.StringVar(&cfg.BindAddr, "bind", cfg.BindAddr, "SIP bind address")
	flag.StringVar(&cfg.AdvertiseAddr, "advertise", cfg.AdvertiseAddr, "address advertised in SIP/SDP")
	flag.IntVar(&cfg.SIPPort, "port", cfg.SIPPort, "SIP listening port")
	flag.IntVar(&cfg.RTPMinPort, "rtp-min-port", cfg.RTPMinPort, "lowest RTP port in the allocation range")
	flag.IntVar(&cfg.RTPMaxPort, "rtp-max-port", cfg.RTPMaxPort, "highest RTP port in the allocation range")
	flag.StringVar(&cfg.LogLevel, "loglevel", cfg.LogLevel, "log level (debug, info, warn, error)")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address the Prometheus /metrics endpoint listens on, empty to disable")
	flag.StringVar(&cdrBackends, "cdr-backends", "log", "comma-separated CDR back-ends: log, manager, sqlite")
	flag.StringVar(&cfg.CDRSQLite, "cdr-sqlite", envOr("PBXCORE_CDR_SQLITE", "cdr.sqlite3"), "path to the CDR sqlite3 database")
	flag.StringVar(&cfg.ConfigPath, "config", os.Getenv("PBXCORE_CONFIG"), "path to a JSON file overriding the module load/noload list and CDR back-ends")
	flag.Parse()

	cfg.CDRBackends = splitNonEmpty(cdrBackends)

	if cfg.ConfigPath != "" {
		cfg.applyFile(cfg.ConfigPath)
	}
	return cfg
}

func (cfg *config) applyFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var ov fileOverrides
	if json.Unmarshal(data, &ov) != nil {
		return
	}
	if len(ov.CDRBackends) > 0 {
		cfg.CDRBackends = ov.CDRBackends
	}
	if ov.CDRSQLite != "" {
		cfg.CDRSQLite = ov.CDRSQLite
	}
	cfg.Load = append(cfg.Load, ov.Load...)
	cfg.Noload = append(cfg.Noload, ov.Noload...)
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
