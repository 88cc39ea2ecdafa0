// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// HTTPServer serves the daemon API on a TCP listener. The server
// manages listener lifecycle and graceful shutdown; the caller
// provides the http.Handler (routing, authentication, session
// dispatch).
//
// Serve(ctx) blocks until the context is cancelled and active
// requests drain.
type HTTPServer struct {
	address string
	handler http.Handler
	logger  *slog.Logger

	// shutdownTimeout bounds the drain after the context is
	// cancelled.
	shutdownTimeout time.Duration

	// ready closes once the listener is bound; Addr is valid from
	// then on.
	ready chan struct{}

	// addr is the bound listener address, set before ready closes.
	addr net.Addr
}

// HTTPServerConfig configures an HTTPServer.
type HTTPServerConfig struct {
	// Address is the TCP listen address ("127.0.0.1:0" for an
	// ephemeral loopback port, "0.0.0.0:9157" to expose). Required.
	Address string

	// Handler receives every request. Required.
	Handler http.Handler

	// ShutdownTimeout bounds the graceful drain; zero means 10
	// seconds.
	ShutdownTimeout time.Duration

	// Logger is the structured logger. Required.
	Logger *slog.Logger
}

// NewHTTPServer builds a server for the configured address. Nothing
// binds until Serve runs.
func NewHTTPServer(config HTTPServerConfig) *HTTPServer {
	if config.Address == "" {
		panic("service.HTTPServer: Address is required")
	}
	if config.Handler == nil {
		panic("service.HTTPServer: Handler is required")
	}
	if config.Logger == nil {
		panic("service.HTTPServer: Logger is required")
	}

	timeout := config.ShutdownTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &HTTPServer{
		address:         config.Address,
		handler:         config.Handler,
		logger:          config.Logger,
		shutdownTimeout: timeout,
		ready:           make(chan struct{}),
	}
}

// Ready returns a channel that closes once the listener is bound and
// the server is accepting connections.
func (s *HTTPServer) Ready() <-chan struct{} {
	return s.ready
}

// Addr reports the bound listen address; with a port-0 configured
// address this carries the port the OS picked. Valid only after Ready
// has closed.
func (s *HTTPServer) Addr() net.Addr {
	return s.addr
}

// Serve accepts connections until ctx is cancelled, then drains:
// the listener closes immediately and in-flight requests get up to
// ShutdownTimeout to finish.
func (s *HTTPServer) Serve(ctx context.Context) error {
	// Bind before entering the serve loop so Addr and Ready resolve
	// as soon as the port is known.
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	server := &http.Server{
		Handler: s.handler,

		// No WriteTimeout: /fetch streams payloads whose size is
		// bounded by the session limits, not by wall-clock writing
		// time. The per-session timeout is the real bound.
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("http server listening", "address", s.addr.String())

	serveDone := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
	case err := <-serveDone:
		// The serve loop ended on its own: either a listener error,
		// or a clean close that no one requested.
		return err
	}

	// Drain: Shutdown closes the listener and waits for in-flight
	// requests, up to the timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http server shutdown error", "error", err)
		return fmt.Errorf("http server shutdown: %w", err)
	}

	s.logger.Info("http server stopped")
	return nil
}

// --- Bearer authentication ---

// RequireBearer wraps a handler with bearer-token authentication.
// With an empty token the handler is returned unwrapped: an open
// daemon, only sensible on loopback. Missing and wrong tokens both
// answer 401 so probing cannot distinguish the two.
func RequireBearer(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	expected := []byte(token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			respondError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
