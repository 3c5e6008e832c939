// Command relayserver runs the chat relay.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/cyberinferno/chatrelay/admin"
	"github.com/cyberinferno/chatrelay/config"
	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/metrics"
	"github.com/cyberinferno/chatrelay/tcpserver"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to the YAML config file")
	addr := flag.String("addr", "", "listen address, overrides server.host and server.port")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", *envFile, err)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadAndValidate(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	listenAddr := cfg.Server.Addr()
	if *addr != "" {
		listenAddr = *addr
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	m := metrics.New()
	srv := tcpserver.NewTCPServer(cfg.Server.Name, listenAddr, log, m)
	srv.Lanes = cfg.Server.Lanes
	srv.ReadBufferSize = cfg.Server.ReadBufferSize
	srv.MaxFrameSize = cfg.Server.MaxFrameSize
	srv.MaxPendingFrames = cfg.Server.MaxPendingFrames
	srv.MaxOutboxBytes = cfg.Server.MaxOutboxBytes

	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Admin.Addr != "" {
		httpSrv := admin.NewServer(cfg.Admin.Addr, admin.NewRouter(srv, m))
		go func() {
			log.Info("admin server listening", logger.Field{Key: "addr", Value: cfg.Admin.Addr})
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("admin server failed", logger.Field{Key: "error", Value: err})
				stop()
			}
		}()
		defer func() { _ = httpSrv.Shutdown(context.Background()) }()
	}

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

func newLogger(cfg *config.Config) (logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	if cfg.Log.Dir != "" {
		return logger.NewZerologFileLogger(cfg.Server.Name, cfg.Log.Dir, level)
	}

	return logger.NewZerologLogger(zerolog.New(os.Stdout), cfg.Server.Name, level), nil
}
