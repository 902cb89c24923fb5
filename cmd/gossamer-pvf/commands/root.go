// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package commands

import (
	"fmt"
	"time"

	cfg "github.com/ChainSafe/gossamer-pvf/config"
	"github.com/ChainSafe/gossamer-pvf/internal/log"
	"github.com/fatih/color" //nolint:misspell
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	config = cfg.DefaultConfig()
	logger = log.NewFromGlobal(log.AddContext("pkg", "cmd"))
)

// ParseConfig parses the config from the config file, the environment and
// the command line flags, in increasing order of precedence.
func ParseConfig() (*cfg.Config, error) {
	con := cfg.DefaultConfig()
	err := viper.Unmarshal(con)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	con.BasePath = ExpandDir(con.BasePath)

	if err := con.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("error in config file: %w", err)
	}

	level, err := log.ParseLevel(con.LogLevel)
	if err != nil {
		return nil, err
	}
	log.Patch(log.SetLevel(level), log.SetColour(!color.NoColor))

	return con, nil
}

// NewRootCommand creates the root command
func NewRootCommand() (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   "gossamer-pvf",
		Short: "Parachain validation function host",
		Long: `gossamer-pvf compiles and runs parachain validation functions
in sandboxed worker processes.
Usage:
	gossamer-pvf init --base-path ~/.gossamer-pvf
	gossamer-pvf precheck --code ./parachain.wasm
	gossamer-pvf validate --code ./parachain.wasm --pov ./block.bin --parent-head 0x00
	gossamer-pvf prune`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
			config, err = ParseConfig()
			if err != nil {
				return err
			}
			return cfg.EnsureRoot(config.BasePath, config)
		},
	}

	if err := addRootFlags(cmd); err != nil {
		return nil, err
	}

	cmd.AddCommand(
		InitCmd,
		PrecheckCmd,
		ValidateCmd,
		PruneCmd,
		PrepareWorkerCmd,
		ExecuteWorkerCmd,
		CheckSandboxCmd,
	)

	return cmd, nil
}

// addRootFlags adds the root flags to the command
func addRootFlags(cmd *cobra.Command) error {
	// Base Config
	if err := addStringFlagBindViper(cmd,
		BasePathFlag,
		config.BasePath,
		"Directory holding the configuration and the artifact cache",
		BasePathFlag); err != nil {
		return fmt.Errorf("failed to add --base-path flag: %s", err)
	}
	if err := addStringFlagBindViper(cmd,
		"log",
		config.LogLevel,
		"Global log level. Supports levels crit (silent), eror, warn, info, dbug and trce",
		"log-level"); err != nil {
		return fmt.Errorf("failed to add --log flag: %s", err)
	}
	if err := addStringFlagBindViper(cmd,
		"metrics-address",
		config.MetricsAddress,
		"Listen address of the metric server",
		"metrics-address"); err != nil {
		return fmt.Errorf("failed to add --metrics-address flag: %s", err)
	}
	if err := addBoolFlagBindViper(cmd,
		"publish-metrics",
		config.PublishMetrics,
		"Publish metrics to prometheus",
		"publish-metrics"); err != nil {
		return fmt.Errorf("failed to add --publish-metrics flag: %s", err)
	}

	if err := addPVFFlags(cmd); err != nil {
		return fmt.Errorf("failed to add pvf flags: %s", err)
	}
	if err := addSandboxFlags(cmd); err != nil {
		return fmt.Errorf("failed to add sandbox flags: %s", err)
	}

	// pprof Config
	if err := addBoolFlagBindViper(cmd,
		"pprof.enabled",
		config.Pprof.Enabled,
		"Serve pprof profiles",
		"pprof.enabled"); err != nil {
		return fmt.Errorf("failed to add --pprof.enabled flag: %s", err)
	}
	if err := addStringFlagBindViper(cmd,
		"pprof.listening-address",
		config.Pprof.ListeningAddress,
		"Address to listen on for pprof",
		"pprof.listening-address"); err != nil {
		return fmt.Errorf("failed to add --pprof.listening-address flag: %s", err)
	}
	if err := addIntFlagBindViper(cmd,
		"pprof.block-profile-rate",
		config.Pprof.BlockProfileRate,
		"The frequency at which the Go runtime samples the state of goroutines to generate block profile information.",
		"pprof.block-profile-rate"); err != nil {
		return fmt.Errorf("failed to add --pprof.block-profile-rate flag: %s", err)
	}
	if err := addIntFlagBindViper(cmd,
		"pprof.mutex-profile-rate",
		config.Pprof.MutexProfileRate,
		"The frequency at which the Go runtime samples the state of mutexes to generate mutex profile information.",
		"pprof.mutex-profile-rate"); err != nil {
		return fmt.Errorf("failed to add --pprof.mutex-profile-rate flag: %s", err)
	}

	return nil
}

// addPVFFlags adds the worker pool, cache and timeout flags and binds them to viper
func addPVFFlags(cmd *cobra.Command) error {
	pvf := config.PVF

	intFlags := []struct {
		name         string
		defaultValue int
		usage        string
	}{
		{"prepare-workers-soft", pvf.PrepareWorkersSoft, "Prepare workers serving background jobs"},
		{"prepare-workers-hard", pvf.PrepareWorkersHard, "Prepare workers serving jobs awaited by executions"},
		{"execute-workers", pvf.ExecuteWorkers, "Execute workers"},
		{"prepare-queue-capacity", pvf.PrepareQueueCapacity, "Preparations waiting for a worker"},
		{"execute-queue-capacity", pvf.ExecuteQueueCapacity, "Executions waiting for a worker"},
		{"max-outstanding", pvf.MaxOutstanding, "Executions in flight before new ones are rejected"},
		{"max-jobs-per-worker", pvf.MaxJobsPerWorker, "Jobs after which a worker is recycled, 0 never"},
		{"max-consecutive-high-priority", pvf.MaxConsecutiveHighPriority,
			"Higher priority executions after which the oldest lower priority one runs, 0 never"},
		{"wall-clock-factor", pvf.WallClockFactor, "Wall clock multiple of the preparation CPU time limit"},
		{"hard-timeout-factor", pvf.HardTimeoutFactor, "Multiple of the execution timeout after which a worker is killed"},
		{"max-execute-retries", pvf.MaxExecuteRetries, "Retries of an execution after a worker failure"},
		{"cache-max-count", pvf.CacheMaxCount, "Maximum number of prepared artifacts, 0 for unlimited"},
	}
	for _, flag := range intFlags {
		if err := addIntFlagBindViper(cmd, flag.name, flag.defaultValue, flag.usage,
			"pvf."+flag.name); err != nil {
			return fmt.Errorf("failed to add --%s flag: %s", flag.name, err)
		}
	}

	durationFlags := []struct {
		name         string
		defaultValue time.Duration
		usage        string
	}{
		{"precheck-timeout", pvf.PrecheckTimeout, "CPU time limit of a precheck"},
		{"prepare-timeout", pvf.PrepareTimeout, "CPU time limit of a preparation"},
		{"backing-timeout", pvf.BackingTimeout, "Execution timeout of backing requests"},
		{"approval-timeout", pvf.ApprovalTimeout, "Execution timeout of approval and dispute requests"},
		{"failure-cooldown", pvf.FailureCooldown, "Delay before a failed preparation is retried"},
		{"cache-unused-ttl", pvf.CacheUnusedTTL, "Unused artifacts older than this are pruned, 0 never"},
		{"prune-interval", pvf.PruneInterval, "Period of artifact cache pruning, 0 disables it"},
		{"handshake-timeout", pvf.HandshakeTimeout, "Time a worker has to start"},
		{"heartbeat-interval", pvf.HeartbeatInterval, "Heartbeat period of busy workers"},
		{"heartbeat-timeout", pvf.HeartbeatTimeout, "Silence after which a busy worker is killed"},
	}
	for _, flag := range durationFlags {
		if err := addDurationFlagBindViper(cmd, flag.name, flag.defaultValue, flag.usage,
			"pvf."+flag.name); err != nil {
			return fmt.Errorf("failed to add --%s flag: %s", flag.name, err)
		}
	}

	if err := addUint32FlagBindViper(cmd,
		"max-prepare-retries",
		pvf.MaxPrepareRetries,
		"Retries of a failed preparation",
		"pvf.max-prepare-retries"); err != nil {
		return fmt.Errorf("failed to add --max-prepare-retries flag: %s", err)
	}
	if err := addUint32FlagBindViper(cmd,
		"default-memory-pages",
		pvf.DefaultMemoryPages,
		"Linear memory limit in wasm pages when the executor parameters set none",
		"pvf.default-memory-pages"); err != nil {
		return fmt.Errorf("failed to add --default-memory-pages flag: %s", err)
	}
	if err := addUint64FlagBindViper(cmd,
		"cache-max-size",
		pvf.CacheMaxSize,
		"Disk budget of prepared artifacts in bytes, 0 for unlimited",
		"pvf.cache-max-size"); err != nil {
		return fmt.Errorf("failed to add --cache-max-size flag: %s", err)
	}
	if err := addUint64FlagBindViper(cmd,
		"pov-bomb-limit",
		pvf.PoVBombLimit,
		"Maximum decompressed PoV size in bytes",
		"pvf.pov-bomb-limit"); err != nil {
		return fmt.Errorf("failed to add --pov-bomb-limit flag: %s", err)
	}
	if err := addUint64FlagBindViper(cmd,
		"code-bomb-limit",
		pvf.CodeBombLimit,
		"Maximum decompressed validation code size in bytes",
		"pvf.code-bomb-limit"); err != nil {
		return fmt.Errorf("failed to add --code-bomb-limit flag: %s", err)
	}

	return nil
}

// addSandboxFlags adds the worker isolation flags and binds them to viper
func addSandboxFlags(cmd *cobra.Command) error {
	sandbox := config.Sandbox

	for name, defaultValue := range map[string]string{
		"namespaces": sandbox.Namespaces,
		"landlock":   sandbox.Landlock,
		"seccomp":    sandbox.Seccomp,
	} {
		if err := addStringFlagBindViper(cmd,
			"sandbox."+name,
			defaultValue,
			"Mode of the "+name+" sandbox feature: off, best-effort or required",
			"sandbox."+name); err != nil {
			return fmt.Errorf("failed to add --sandbox.%s flag: %s", name, err)
		}
	}

	if err := addUint64FlagBindViper(cmd,
		"sandbox.prepare-max-memory",
		sandbox.PrepareMaxMemory,
		"Resident memory limit of prepare workers in bytes, 0 disables it",
		"sandbox.prepare-max-memory"); err != nil {
		return fmt.Errorf("failed to add --sandbox.prepare-max-memory flag: %s", err)
	}
	if err := addUint64FlagBindViper(cmd,
		"sandbox.execute-max-memory",
		sandbox.ExecuteMaxMemory,
		"Resident memory limit of execute workers in bytes, 0 disables it",
		"sandbox.execute-max-memory"); err != nil {
		return fmt.Errorf("failed to add --sandbox.execute-max-memory flag: %s", err)
	}
	if err := addUint64FlagBindViper(cmd,
		"sandbox.max-open-files",
		sandbox.MaxOpenFiles,
		"File descriptor limit of workers, 0 disables it",
		"sandbox.max-open-files"); err != nil {
		return fmt.Errorf("failed to add --sandbox.max-open-files flag: %s", err)
	}
	if err := addDurationFlagBindViper(cmd,
		"sandbox.cpu-limit",
		sandbox.CPULimit,
		"Lifetime CPU time of a worker process enforced by the kernel, 0 disables it",
		"sandbox.cpu-limit"); err != nil {
		return fmt.Errorf("failed to add --sandbox.cpu-limit flag: %s", err)
	}

	return nil
}
