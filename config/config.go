// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/sandbox"
	"github.com/ChainSafe/gossamer-pvf/internal/log"
	"github.com/ChainSafe/gossamer-pvf/internal/pprof"
	"github.com/go-playground/validator/v10"
	"github.com/shirou/gopsutil/v3/cpu"
)

const (
	// DefaultBasePath is the default base directory
	DefaultBasePath = "~/.gossamer-pvf"
	// DefaultLogLevel is the default log level
	DefaultLogLevel = "info"
	// DefaultMetricsAddress is the default metrics server listening address
	DefaultMetricsAddress = "localhost:9876"
	// DefaultWorkerCPULimit is the lifetime CPU backstop of a worker process
	DefaultWorkerCPULimit = time.Hour

	// DefaultPrecheckTimeout is the CPU time budget of a precheck
	DefaultPrecheckTimeout = 60 * time.Second
	// DefaultPrepareTimeout is the CPU time budget of a preparation for execution
	DefaultPrepareTimeout = 360 * time.Second
	// DefaultBackingTimeout is the execution timeout of backing requests
	DefaultBackingTimeout = 2 * time.Second
	// DefaultApprovalTimeout is the execution timeout of approval and dispute requests
	DefaultApprovalTimeout = 12 * time.Second

	// DefaultPoVBombLimit caps the decompressed PoV size
	DefaultPoVBombLimit = 16 * 1024 * 1024
	// DefaultCodeBombLimit caps the decompressed validation code size
	DefaultCodeBombLimit = 30 * 1024 * 1024
)

// ErrInvalidSandboxMode is returned when a sandbox feature mode is not recognised.
var ErrInvalidSandboxMode = errors.New("invalid sandbox mode")

// Config defines the configuration for the gossamer-pvf host
type Config struct {
	BaseConfig `mapstructure:",squash"`
	PVF        *PVFConfig     `mapstructure:"pvf"`
	Sandbox    *SandboxConfig `mapstructure:"sandbox"`
	Pprof      *PprofConfig   `mapstructure:"pprof"`
}

// BaseConfig is to marshal/unmarshal toml global config vars
type BaseConfig struct {
	BasePath       string `mapstructure:"base-path" validate:"required"`
	LogLevel       string `mapstructure:"log-level" validate:"required"`
	MetricsAddress string `mapstructure:"metrics-address"`
	PublishMetrics bool   `mapstructure:"publish-metrics"`
}

// PVFConfig configures the worker pools, the artifact cache and the host.
type PVFConfig struct {
	PrepareWorkersSoft   int `mapstructure:"prepare-workers-soft" validate:"min=1"`
	PrepareWorkersHard   int `mapstructure:"prepare-workers-hard" validate:"gtefield=PrepareWorkersSoft"`
	ExecuteWorkers       int `mapstructure:"execute-workers" validate:"min=1"`
	PrepareQueueCapacity int `mapstructure:"prepare-queue-capacity" validate:"min=1"`
	ExecuteQueueCapacity int `mapstructure:"execute-queue-capacity" validate:"min=1"`
	MaxOutstanding       int `mapstructure:"max-outstanding" validate:"min=1"`
	// MaxJobsPerWorker recycles workers, zero never does.
	MaxJobsPerWorker           int `mapstructure:"max-jobs-per-worker" validate:"min=0"`
	MaxConsecutiveHighPriority int `mapstructure:"max-consecutive-high-priority" validate:"min=0"`

	PrecheckTimeout   time.Duration `mapstructure:"precheck-timeout" validate:"gt=0"`
	PrepareTimeout    time.Duration `mapstructure:"prepare-timeout" validate:"gt=0"`
	BackingTimeout    time.Duration `mapstructure:"backing-timeout" validate:"gt=0"`
	ApprovalTimeout   time.Duration `mapstructure:"approval-timeout" validate:"gt=0"`
	WallClockFactor   int           `mapstructure:"wall-clock-factor" validate:"min=1"`
	HardTimeoutFactor int           `mapstructure:"hard-timeout-factor" validate:"min=1"`

	MaxExecuteRetries int           `mapstructure:"max-execute-retries" validate:"min=0"`
	MaxPrepareRetries uint32        `mapstructure:"max-prepare-retries"`
	FailureCooldown   time.Duration `mapstructure:"failure-cooldown" validate:"min=0"`

	CacheMaxSize   uint64        `mapstructure:"cache-max-size"`
	CacheMaxCount  int           `mapstructure:"cache-max-count" validate:"min=0"`
	CacheUnusedTTL time.Duration `mapstructure:"cache-unused-ttl" validate:"min=0"`
	PruneInterval  time.Duration `mapstructure:"prune-interval" validate:"min=0"`

	PoVBombLimit       uint64 `mapstructure:"pov-bomb-limit" validate:"gt=0"`
	CodeBombLimit      uint64 `mapstructure:"code-bomb-limit" validate:"gt=0"`
	DefaultMemoryPages uint32 `mapstructure:"default-memory-pages" validate:"gt=0"`

	HandshakeTimeout  time.Duration `mapstructure:"handshake-timeout" validate:"gt=0"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat-interval" validate:"gt=0"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat-timeout" validate:"gtfield=HeartbeatInterval"`
}

// SandboxConfig configures the isolation of worker processes.
// Modes are off, best-effort or required.
type SandboxConfig struct {
	Namespaces string `mapstructure:"namespaces" validate:"required"`
	Landlock   string `mapstructure:"landlock" validate:"required"`
	Seccomp    string `mapstructure:"seccomp" validate:"required"`
	// PrepareMaxMemory and ExecuteMaxMemory are resident set limits in bytes,
	// zero disables them.
	PrepareMaxMemory uint64 `mapstructure:"prepare-max-memory"`
	ExecuteMaxMemory uint64 `mapstructure:"execute-max-memory"`
	MaxOpenFiles     uint64 `mapstructure:"max-open-files"`
	// CPULimit is the CPU time a worker process may use over its lifetime,
	// enforced by the kernel. Zero disables it.
	CPULimit time.Duration `mapstructure:"cpu-limit" validate:"min=0"`
}

// PprofConfig is to marshal/unmarshal toml pprof config vars
type PprofConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	ListeningAddress string `mapstructure:"listening-address"`
	BlockProfileRate int    `mapstructure:"block-profile-rate" validate:"gte=0"`
	MutexProfileRate int    `mapstructure:"mutex-profile-rate" validate:"gte=0"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		BaseConfig: BaseConfig{
			BasePath:       DefaultBasePath,
			LogLevel:       DefaultLogLevel,
			MetricsAddress: DefaultMetricsAddress,
		},
		PVF: DefaultPVFConfig(),
		Sandbox: &SandboxConfig{
			Namespaces:       sandbox.BestEffort.String(),
			Landlock:         sandbox.BestEffort.String(),
			Seccomp:          sandbox.BestEffort.String(),
			PrepareMaxMemory: 2 * 1024 * 1024 * 1024,
			ExecuteMaxMemory: 1024 * 1024 * 1024,
			MaxOpenFiles:     256,
			CPULimit:         DefaultWorkerCPULimit,
		},
		Pprof: &PprofConfig{
			ListeningAddress: pprof.DefaultAddress,
		},
	}
}

// DefaultPVFConfig returns the default pool, cache and timeout settings.
// The number of execute workers follows the number of logical CPUs.
func DefaultPVFConfig() *PVFConfig {
	return &PVFConfig{
		PrepareWorkersSoft:         1,
		PrepareWorkersHard:         2,
		ExecuteWorkers:             executeWorkers(),
		PrepareQueueCapacity:       1024,
		ExecuteQueueCapacity:       1024,
		MaxOutstanding:             1024,
		MaxJobsPerWorker:           256,
		MaxConsecutiveHighPriority: 8,
		PrecheckTimeout:            DefaultPrecheckTimeout,
		PrepareTimeout:             DefaultPrepareTimeout,
		BackingTimeout:             DefaultBackingTimeout,
		ApprovalTimeout:            DefaultApprovalTimeout,
		WallClockFactor:            4,
		HardTimeoutFactor:          2,
		MaxExecuteRetries:          1,
		MaxPrepareRetries:          5,
		FailureCooldown:            15 * time.Minute,
		CacheMaxSize:               10 * 1024 * 1024 * 1024,
		CacheMaxCount:              0,
		CacheUnusedTTL:             24 * time.Hour,
		PruneInterval:              time.Hour,
		PoVBombLimit:               DefaultPoVBombLimit,
		CodeBombLimit:              DefaultCodeBombLimit,
		DefaultMemoryPages:         4096,
		HandshakeTimeout:           10 * time.Second,
		HeartbeatInterval:          time.Second,
		HeartbeatTimeout:           5 * time.Second,
	}
}

func executeWorkers() int {
	count, err := cpu.Counts(true)
	if err != nil || count < 4 {
		return 2
	}
	return count / 2
}

// ValidateBasic performs basic validation on the config
func (c *Config) ValidateBasic() error {
	if c.PVF == nil || c.Sandbox == nil || c.Pprof == nil {
		return errors.New("missing config section")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log-level: %w", err)
	}
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if _, err := c.Sandbox.Policy(); err != nil {
		return err
	}
	return nil
}

// Policy parses the sandbox feature modes.
func (s *SandboxConfig) Policy() (policy sandbox.Policy, err error) {
	for _, field := range []struct {
		name  string
		value string
		mode  *sandbox.Mode
	}{
		{name: "namespaces", value: s.Namespaces, mode: &policy.Namespaces},
		{name: "landlock", value: s.Landlock, mode: &policy.Landlock},
		{name: "seccomp", value: s.Seccomp, mode: &policy.Seccomp},
	} {
		*field.mode, err = sandbox.ParseMode(field.value)
		if err != nil {
			return sandbox.Policy{}, fmt.Errorf("%w: sandbox.%s: %s", ErrInvalidSandboxMode, field.name, err)
		}
	}
	return policy, nil
}

// ArtifactsDir is the directory of prepared artifacts under the base path.
func (c *Config) ArtifactsDir() string {
	return filepath.Join(c.BasePath, "artifacts")
}

// CompiledDir is the directory of the shared machine code cache.
func (c *Config) CompiledDir() string {
	return filepath.Join(c.BasePath, "compiled")
}
