// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
)

// Server is an HTTP server implementation, which uses
// the HTTP handler provided.
type Server struct {
	name       string
	address    string
	addressSet chan struct{}
	addressMu  sync.RWMutex
	handler    http.Handler
	logger     Logger
	optional   optionalSettings
}

// New creates a new HTTP server with a name, listening on
// the address specified and using the HTTP handler provided.
func New(name, address string, handler http.Handler,
	logger Logger, options ...Option) *Server {
	return &Server{
		name:       name,
		address:    address,
		addressSet: make(chan struct{}),
		handler:    handler,
		logger:     logger,
		optional:   newOptionalSettings(options),
	}
}

// GetAddress obtains the address the HTTP server is listening on.
// It blocks until the server is listening.
func (s *Server) GetAddress() (address string) {
	<-s.addressSet
	s.addressMu.RLock()
	defer s.addressMu.RUnlock()
	return s.address
}

// Run runs the HTTP server until ctx is canceled.
// The ready channel is closed once the server is listening,
// and the done channel receives the server exit error, which is
// nil if the server shut down gracefully.
func (s *Server) Run(ctx context.Context, ready chan<- struct{}, done chan<- error) {
	settings := s.optional
	settings.setDefaults()

	server := http.Server{
		Addr:              s.address,
		Handler:           s.handler,
		ReadHeaderTimeout: settings.readHeaderTimeout,
	}

	crashed := make(chan struct{})
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		select {
		case <-ctx.Done():
		case <-crashed:
			return
		}

		s.logger.Warn(s.name + " http server shutting down: " + ctx.Err().Error())
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), settings.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(s.name + " http server failed shutting down: " + err.Error())
		}
	}()

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		close(s.addressSet)
		close(crashed)
		<-shutdownDone
		done <- fmt.Errorf("listening on %s: %w", s.address, err)
		return
	}

	s.addressMu.Lock()
	s.address = listener.Addr().String()
	s.addressMu.Unlock()
	close(s.addressSet)

	s.logger.Info(s.name + " http server listening on " + s.address)
	close(ready)

	err = server.Serve(listener)

	if !errors.Is(err, http.ErrServerClosed) {
		// server crashed
		close(crashed)
		<-shutdownDone
		done <- err
		return
	}

	<-shutdownDone
	done <- nil
}
