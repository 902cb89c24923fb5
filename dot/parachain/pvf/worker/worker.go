// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

// Package worker runs PVF jobs in separate sandboxed processes. The host
// side spawns and supervises processes through Handle, the worker side
// serves jobs from its standard input and output.
package worker

import (
	"context"
	"errors"
	"time"

	pvfcommon "github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/common"
	"github.com/ChainSafe/gossamer-pvf/internal/log"
)

var logger = log.NewFromGlobal(log.AddContext("pkg", "pvf-worker"))

// TokenEnv is the environment variable holding the spawn token a worker
// must echo in its handshake.
const TokenEnv = "GSSMR_PVF_WORKER_TOKEN"

var (
	ErrHandshake    = errors.New("worker handshake failed")
	ErrTimeout      = errors.New("worker exceeded its time limit")
	ErrOutOfMemory  = errors.New("worker exceeded its memory limit")
	ErrWorkerDied   = errors.New("worker died")
	ErrHung         = errors.New("worker stopped sending heartbeats")
	ErrCancelled    = errors.New("job cancelled")
	ErrWorkerClosed = errors.New("worker closed")
)

// Limits bound a single job. Zero values disable a limit.
type Limits struct {
	// CPUTime is the CPU time the worker may use for the job.
	CPUTime time.Duration
	// WallClock is the monotonic time the job may take.
	WallClock time.Duration
	// MaxMemory is the maximum resident set size in bytes.
	MaxMemory uint64
}

// Worker is a host side handle to a worker process.
type Worker interface {
	// Prepare runs a preparation job. The returned error is one of the
	// sentinel errors of this package when the worker had to be killed
	// or died, and the worker must then be discarded.
	Prepare(ctx context.Context, request pvfcommon.PrepareRequest, limits Limits) (
		pvfcommon.PrepareResponse, error)
	// Execute runs an execution job, with the same error contract as Prepare.
	Execute(ctx context.Context, request pvfcommon.ExecuteRequest, limits Limits) (
		pvfcommon.ExecuteResponse, error)
	// PID is the process ID of the worker.
	PID() int
	// Jobs is the number of jobs the worker completed.
	Jobs() int
	// Kill forcibly terminates the worker.
	Kill()
	// Close asks the worker to exit and kills it if it does not.
	Close()
}

// Spawner starts new workers.
type Spawner interface {
	Spawn(ctx context.Context) (Worker, error)
}

// Settings configure the supervision of worker processes.
type Settings struct {
	// HandshakeTimeout bounds the time from spawn to handshake.
	HandshakeTimeout time.Duration
	// HeartbeatTimeout is how long a busy worker may stay silent.
	HeartbeatTimeout time.Duration
	// PollInterval is how often CPU time and memory are sampled.
	PollInterval time.Duration
	// ExitTimeout is how long Close waits before killing.
	ExitTimeout time.Duration
}

func (s *Settings) setDefaults() {
	if s.HandshakeTimeout == 0 {
		s.HandshakeTimeout = 10 * time.Second
	}
	if s.HeartbeatTimeout == 0 {
		s.HeartbeatTimeout = 5 * time.Second
	}
	if s.PollInterval == 0 {
		s.PollInterval = 100 * time.Millisecond
	}
	if s.ExitTimeout == 0 {
		s.ExitTimeout = time.Second
	}
}
