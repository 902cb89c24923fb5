// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"

	cfg "github.com/ChainSafe/gossamer-pvf/config"
	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf"
	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/artifacts"
	pvfcommon "github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/common"
	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/execute"
	pvfmetrics "github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/metrics"
	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/prepare"
	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/sandbox"
	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/worker"
	"github.com/ChainSafe/gossamer-pvf/internal/metrics"
	"github.com/ChainSafe/gossamer-pvf/internal/pprof"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// services is the PVF host and the servers running alongside it.
type services struct {
	host          *pvf.Host
	cache         *artifacts.Cache
	metricsServer *metrics.Server
	pprofService  *pprof.Service
}

// newServices probes the sandbox and wires the worker pools, the artifact
// cache and the host. Workers are this executable run with a hidden
// worker command.
func newServices(ctx context.Context, config *cfg.Config) (*services, error) {
	program, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("finding worker executable: %w", err)
	}

	policy, err := config.Sandbox.Policy()
	if err != nil {
		return nil, err
	}
	features, err := sandbox.Probe(ctx, program, workerArgs(CheckSandboxCmd.Name(), config), policy)
	if err != nil {
		return nil, fmt.Errorf("probing sandbox: %w", err)
	}

	options := sandbox.CommandOptions{
		Namespaces: features.Namespaces,
		Dir:        config.BasePath,
	}
	settings := worker.Settings{
		HandshakeTimeout: config.PVF.HandshakeTimeout,
		HeartbeatTimeout: config.PVF.HeartbeatTimeout,
	}
	prepareSpawner := worker.NewProcessSpawner(program,
		workerArgs(PrepareWorkerCmd.Name(), config), options, settings)
	executeSpawner := worker.NewProcessSpawner(program,
		workerArgs(ExecuteWorkerCmd.Name(), config), options, settings)

	s := &services{}
	var hostMetrics pvfcommon.Metrics = pvfcommon.NoopMetrics{}
	if config.PublishMetrics {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		hostMetrics = pvfmetrics.NewPrometheus(registry)
		s.metricsServer = metrics.NewServer(config.MetricsAddress, registry)
	}
	if config.Pprof.Enabled {
		s.pprofService, err = pprof.NewService(pprof.Settings{
			Address:          config.Pprof.ListeningAddress,
			BlockProfileRate: config.Pprof.BlockProfileRate,
			MutexProfileRate: config.Pprof.MutexProfileRate,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating pprof service: %w", err)
		}
	}

	s.cache, err = openCache(config)
	if err != nil {
		return nil, err
	}

	preparePool := prepare.NewPool(prepare.Config{
		SoftCapacity:     config.PVF.PrepareWorkersSoft,
		HardCapacity:     config.PVF.PrepareWorkersHard,
		QueueCapacity:    config.PVF.PrepareQueueCapacity,
		MaxJobsPerWorker: config.PVF.MaxJobsPerWorker,
		PrecheckTimeout:  config.PVF.PrecheckTimeout,
		PrepareTimeout:   config.PVF.PrepareTimeout,
		WallClockFactor:  config.PVF.WallClockFactor,
		MaxMemory:        config.Sandbox.PrepareMaxMemory,
		CodeBombLimit:    config.PVF.CodeBombLimit,
	}, prepareSpawner, hostMetrics)

	executePool := execute.NewPool(execute.Config{
		Capacity:                   config.PVF.ExecuteWorkers,
		QueueCapacity:              config.PVF.ExecuteQueueCapacity,
		MaxJobsPerWorker:           config.PVF.MaxJobsPerWorker,
		HardTimeoutFactor:          config.PVF.HardTimeoutFactor,
		MaxConsecutiveHighPriority: config.PVF.MaxConsecutiveHighPriority,
		MaxMemory:                  config.Sandbox.ExecuteMaxMemory,
	}, executeSpawner, hostMetrics)

	s.host = pvf.NewHost(pvf.Config{
		MaxOutstanding:    config.PVF.MaxOutstanding,
		MaxExecuteRetries: config.PVF.MaxExecuteRetries,
		PruneInterval:     config.PVF.PruneInterval,
		BackingTimeout:    config.PVF.BackingTimeout,
		ApprovalTimeout:   config.PVF.ApprovalTimeout,
	}, s.cache, preparePool, executePool, hostMetrics)

	return s, nil
}

func openCache(config *cfg.Config) (*artifacts.Cache, error) {
	cache, err := artifacts.Open(config.ArtifactsDir(), pvfcommon.Fingerprint(), artifacts.Settings{
		MaxTotalSize:      config.PVF.CacheMaxSize,
		MaxCount:          config.PVF.CacheMaxCount,
		UnusedTTL:         config.PVF.CacheUnusedTTL,
		FailureCooldown:   config.PVF.FailureCooldown,
		MaxPrepareRetries: config.PVF.MaxPrepareRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("opening artifact cache: %w", err)
	}
	return cache, nil
}

func (s *services) start() error {
	if s.metricsServer != nil {
		if err := s.metricsServer.Start(); err != nil {
			return fmt.Errorf("starting metrics server: %w", err)
		}
	}
	if s.pprofService != nil {
		if err := s.pprofService.Start(); err != nil {
			return fmt.Errorf("starting pprof service: %w", err)
		}
	}
	s.host.Start()
	return nil
}

func (s *services) stop() {
	s.host.Stop()
	if s.pprofService != nil {
		if err := s.pprofService.Stop(); err != nil {
			logger.Warnf("stopping pprof service: %s", err)
		}
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Stop(); err != nil {
			logger.Warnf("stopping metrics server: %s", err)
		}
	}
}

// workerArgs are the arguments running this executable as a worker. The
// worker receives the settings it needs as the root flags.
func workerArgs(command string, config *cfg.Config) []string {
	return []string{
		command,
		"--" + BasePathFlag, config.BasePath,
		"--log", config.LogLevel,
		"--sandbox.landlock", config.Sandbox.Landlock,
		"--sandbox.seccomp", config.Sandbox.Seccomp,
		"--sandbox.max-open-files", strconv.FormatUint(config.Sandbox.MaxOpenFiles, 10),
		"--sandbox.cpu-limit", config.Sandbox.CPULimit.String(),
		"--heartbeat-interval", config.PVF.HeartbeatInterval.String(),
		"--default-memory-pages", strconv.FormatUint(uint64(config.PVF.DefaultMemoryPages), 10),
	}
}
