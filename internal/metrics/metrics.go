// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ChainSafe/gossamer-pvf/internal/httpserver"
	"github.com/ChainSafe/gossamer-pvf/internal/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var logger log.LeveledLogger = log.NewFromGlobal(log.AddContext("pkg", "metrics"))

// ErrServerDoneBeforeReady is returned when the server exits before listening.
var ErrServerDoneBeforeReady = errors.New("metrics server terminated before being ready")

const stopTimeout = 30 * time.Second

// Runner runs a server until its context is canceled.
type Runner interface {
	Run(ctx context.Context, ready chan<- struct{}, done chan<- error)
}

// Server is a metrics http server
type Server struct {
	server Runner
	cancel context.CancelFunc
	done   chan error
}

// NewServer creates a metrics server exposing the metrics gathered
// by gatherer under /metrics at the given address.
func NewServer(address string, gatherer prometheus.Gatherer) (s *Server) {
	m := http.NewServeMux()
	m.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &Server{
		server: httpserver.New("metrics", address, m, logger),
		done:   make(chan error),
	}
}

// Start starts the metrics server and returns once it listens.
func (s *Server) Start() (err error) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	ready := make(chan struct{})

	go s.server.Run(ctx, ready, s.done)

	select {
	case <-ready:
		return nil
	case err := <-s.done:
		cancel()
		if err != nil {
			return err
		}
		return ErrServerDoneBeforeReady
	}
}

// Stop stops the metrics server.
func (s *Server) Stop() (err error) {
	s.cancel()
	select {
	case err = <-s.done:
		return err
	case <-time.After(stopTimeout):
		return fmt.Errorf("metrics server exit timeout")
	}
}
