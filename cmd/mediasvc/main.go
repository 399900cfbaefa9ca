// Command mediasvc hosts internal/mediasvc.Server behind a grpc.Server,
// the standalone media-plane process a pbxcore instance can delegate
// RTP session lifecycle to instead of terminating media in-process.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/sebac/pbxcore/internal/banner"
	"github.com/sebac/pbxcore/internal/logger"
	"github.com/sebac/pbxcore/internal/mediasvc"
)

func main() {
	cfg := loadConfig()

	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	banner.Print("mediasvc", []banner.ConfigLine{
		{Label: "gRPC Listen", Value: fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.GRPCPort)},
		{Label: "Advertise", Value: cfg.AdvertiseAddr},
		{Label: "RTP Range", Value: fmt.Sprintf("%d-%d", cfg.RTPMinPort, cfg.RTPMaxPort)},
	})

	transport := mediasvc.NewLocalTransport(cfg.BindAddr, cfg.AdvertiseAddr, cfg.RTPMinPort, cfg.RTPMaxPort)
	defer transport.Close()

	srv := mediasvc.NewServer(transport)

	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	srv.Register(grpcServer)

	listenAddr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.GRPCPort)
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		logger.Error("failed to listen", "address", listenAddr, "error", err)
		os.Exit(1)
	}

	go func() {
		logger.Info("mediasvc gRPC server listening", "address", listenAddr)
		if err := grpcServer.Serve(listener); err != nil {
			logger.Error("grpc server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)

	grpcServer.GracefulStop()
}
