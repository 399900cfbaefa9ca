package main

import (
	"flag"
	"os"
	"strconv"
)

type config struct {
	BindAddr      string
	AdvertiseAddr string
	GRPCPort      int
	RTPMinPort    int
	RTPMaxPort    int
	LogLevel      string
}

func loadConfig() *config {
	cfg := &config{
		BindAddr:      envOr("MEDIASVC_BIND_ADDR", "0.0.0.0"),
		AdvertiseAddr: envOr("MEDIASVC_ADVERTISE_ADDR", "127.0.0.1"),
		GRPCPort:      envIntOr("MEDIASVC_GRPC_PORT", 9190),
		RTPMinPort:    envIntOr("MEDIASVC_RTP_MIN_PORT", 20000),
		RTPMaxPort:    envIntOr("MEDIASVC_RTP_MAX_PORT", 30000),
		LogLevel:      envOr("MEDIASVC_LOG_LEVEL", "info"),
	}

	flag.StringVar(&cfg.BindAddr, "bind", cfg.BindAddr, "RTP/gRPC bind address")
	flag.StringVar(&cfg.AdvertiseAddr, "advertise", cfg.AdvertiseAddr, "address advertised in SDP answers")
	flag.IntVar(&cfg.GRPCPort, "grpc-port", cfg.GRPCPort, "gRPC listening port")
	flag.IntVar(&cfg.RTPMinPort, "rtp-min-port", cfg.RTPMinPort, "lowest RTP port in the allocation range")
	flag.IntVar(&cfg.RTPMaxPort, "rtp-max-port", cfg.RTPMaxPort, "highest RTP port in the allocation range")
	flag.StringVar(&cfg.LogLevel, "loglevel", cfg.LogLevel, "log level (debug, info, warn, error)")
	flag.Parse()

	return cfg
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
