// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package pprof

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/ChainSafe/gossamer-pvf/internal/httpserver"
)

// DefaultAddress is used when Settings.Address is empty.
const DefaultAddress = "localhost:6061"

var (
	ErrServerDoneBeforeReady = errors.New("pprof server terminated before being ready")
	ErrNegativeRate          = errors.New("profile rate must not be negative")
)

// Settings configure the profiling server of the host process. Worker
// processes are never profiled through it.
type Settings struct {
	Address string
	// BlockProfileRate is passed to runtime.SetBlockProfileRate, 0 disables it.
	BlockProfileRate int
	// MutexProfileRate is passed to runtime.SetMutexProfileFraction, 0 disables it.
	MutexProfileRate int
}

func (s Settings) withDefaults() Settings {
	if s.Address == "" {
		s.Address = DefaultAddress
	}
	return s
}

// Validate checks the profile rates.
func (s Settings) Validate() error {
	if s.BlockProfileRate < 0 {
		return fmt.Errorf("block: %w", ErrNegativeRate)
	}
	if s.MutexProfileRate < 0 {
		return fmt.Errorf("mutex: %w", ErrNegativeRate)
	}
	return nil
}

// Service serves the runtime profiles of the PVF host over HTTP. It turns
// block and mutex profiling on while running and restores the previous
// mutex fraction when stopped.
type Service struct {
	settings Settings
	server   Runner
	cancel   context.CancelFunc
	done     chan error

	previousMutexRate int
}

// NewService creates the profiling service. It does not listen until Start.
func NewService(settings Settings, logger httpserver.Logger) (*Service, error) {
	settings = settings.withDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		settings: settings,
		server:   httpserver.New("pprof", settings.Address, newHandler(), logger),
		done:     make(chan error),
	}, nil
}

// Start applies the profile rates and returns once the server listens.
func (s *Service) Start() error {
	runtime.SetBlockProfileRate(s.settings.BlockProfileRate)
	s.previousMutexRate = runtime.SetMutexProfileFraction(s.settings.MutexProfileRate)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	ready := make(chan struct{})

	go s.server.Run(ctx, ready, s.done)

	select {
	case <-ready:
		return nil
	case err := <-s.done:
		cancel()
		s.resetRates()
		if err != nil {
			return err
		}
		return ErrServerDoneBeforeReady
	}
}

// Stop shuts the server down and turns block profiling off.
func (s *Service) Stop() error {
	s.cancel()
	err := <-s.done
	s.resetRates()
	return err
}

func (s *Service) resetRates() {
	runtime.SetBlockProfileRate(0)
	runtime.SetMutexProfileFraction(s.previousMutexRate)
}
