// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Retrieval-daemon is the HTTP retrieval service. It fetches content
// from HTTP origins on behalf of its clients, decodes chunked transfer
// encoding, verifies every payload against its expected digest, and
// serves verified bytes — streaming on first retrieval, from the local
// spool on repeats.
//
// Configuration comes from a YAML file named by --config or the
// RETRIEVAL_CONFIG environment variable; --listen and --log-level
// override individual settings. On startup the daemon prints
// "listening on http://<addr>" to stdout so a supervising process can
// learn the bound address when the configured port is 0.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/retrieval/lib/clock"
	"github.com/bureau-foundation/retrieval/lib/config"
	"github.com/bureau-foundation/retrieval/lib/fetch"
	"github.com/bureau-foundation/retrieval/lib/service"
	"github.com/bureau-foundation/retrieval/lib/spool"
	"github.com/bureau-foundation/retrieval/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath    string
		listenAddress string
		logLevel      string
		showVersion   bool
	)
	flag.StringVar(&configPath, "config", "", "path to the YAML config file (default: $RETRIEVAL_CONFIG)")
	flag.StringVar(&listenAddress, "listen", "", "override the configured listen address")
	flag.StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("retrieval-daemon %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listenAddress != "" {
		cfg.ListenAddress = listenAddress
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()

	// The spool is optional: no directory means every retrieval goes
	// to the origin.
	var store *spool.Spool
	if cfg.Spool.Directory != "" {
		compression := spool.CompressionNone
		if cfg.Spool.Compression != "" {
			compression, err = spool.ParseCompressionTag(cfg.Spool.Compression)
			if err != nil {
				return err
			}
		}
		store, err = spool.Open(spool.Config{
			Directory:     cfg.Spool.Directory,
			MaxBytes:      cfg.Spool.MaxBytes,
			MaxAge:        cfg.Spool.MaxAge.Duration,
			Compression:   compression,
			SweepInterval: cfg.Spool.SweepInterval.Duration,
			Clock:         clk,
			Logger:        logger,
		})
		if err != nil {
			return fmt.Errorf("opening spool: %w", err)
		}
		defer store.Close()

		go store.RunJanitor(ctx)
	}

	handler, err := service.NewHandler(service.HandlerConfig{
		Fetch: fetch.Config{
			Clock:          clk,
			Logger:         logger,
			MaxBytes:       cfg.Limits.MaxBytes,
			MaxChunkBytes:  cfg.Limits.MaxChunkBytes,
			Timeout:        cfg.Limits.SessionTimeout.Duration,
			ConnectTimeout: cfg.Limits.ConnectTimeout.Duration,
			UserAgent:      cfg.UserAgent,
		},
		Spool:         store,
		OriginAllowed: cfg.AllowsOrigin,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	server := service.NewHTTPServer(service.HTTPServerConfig{
		Address: cfg.ListenAddress,
		Handler: service.RequireBearer(cfg.AccessToken, handler),
		Logger:  logger,
	})

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(ctx)
	}()

	// Report the bound address once the listener is up. With port 0
	// this line is how the supervisor learns the chosen port.
	select {
	case <-server.Ready():
		fmt.Printf("listening on http://%s\n", server.Addr())
	case err := <-serveDone:
		return err
	}

	logger.Info("daemon running",
		"address", server.Addr().String(),
		"spool", cfg.Spool.Directory,
		"version", version.Short(),
	)

	// Wait for the serve loop to drain after a signal.
	if err := <-serveDone; err != nil {
		return err
	}
	logger.Info("daemon stopped")
	return nil
}

// loadConfig resolves the config file: the --config flag wins, then
// RETRIEVAL_CONFIG. A daemon with neither has no listen address or
// token and cannot start safely, so this is an error rather than a
// silent default.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
