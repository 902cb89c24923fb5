// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package commands

import (
	"fmt"
	"os"

	cfg "github.com/ChainSafe/gossamer-pvf/config"
	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/sandbox"
	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/wasm"
	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/worker"
	"github.com/ChainSafe/gossamer-pvf/internal/log"
	"github.com/spf13/cobra"
)

// PrepareWorkerCmd runs a prepare worker serving the host on stdin and stdout.
var PrepareWorkerCmd = &cobra.Command{
	Use:    "prepare-worker",
	Short:  "Run a prepare worker",
	Hidden: true,
	Args:   cobra.NoArgs,
	// workers take their settings from flags only
	PersistentPreRunE: noopPreRun,
	RunE: func(cmd *cobra.Command, args []string) error {
		return execWorker(cmd, false)
	},
}

// ExecuteWorkerCmd runs an execute worker serving the host on stdin and stdout.
var ExecuteWorkerCmd = &cobra.Command{
	Use:               "execute-worker",
	Short:             "Run an execute worker",
	Hidden:            true,
	Args:              cobra.NoArgs,
	PersistentPreRunE: noopPreRun,
	RunE: func(cmd *cobra.Command, args []string) error {
		return execWorker(cmd, true)
	},
}

// CheckSandboxCmd applies the execute worker sandbox and reports the
// features it could apply.
var CheckSandboxCmd = &cobra.Command{
	Use:               "check-sandbox",
	Short:             "Report the sandbox features available to workers",
	Hidden:            true,
	Args:              cobra.NoArgs,
	PersistentPreRunE: noopPreRun,
	RunE: func(cmd *cobra.Command, args []string) error {
		setup, err := parseWorkerFlags(cmd, true)
		if err != nil {
			return err
		}
		return sandbox.RunCheck(os.Stdout, setup.restrictions)
	},
}

func noopPreRun(*cobra.Command, []string) error { return nil }

type workerSetup struct {
	restrictions sandbox.Restrictions
	serve        worker.ServeConfig
}

func parseWorkerFlags(cmd *cobra.Command, execute bool) (setup workerSetup, err error) {
	flags := cmd.Flags()

	kind := "prepare"
	if execute {
		kind = "execute"
	}
	log.Patch(log.ForWorker(kind))
	levelString, err := flags.GetString("log")
	if err != nil {
		return setup, err
	}
	level, err := log.ParseLevel(levelString)
	if err != nil {
		return setup, err
	}
	log.PatchLevel(level)

	basePath, err := flags.GetString(BasePathFlag)
	if err != nil {
		return setup, err
	}
	config := &cfg.Config{BaseConfig: cfg.BaseConfig{BasePath: ExpandDir(basePath)}}

	landlock, err := workerMode(cmd, "sandbox.landlock")
	if err != nil {
		return setup, err
	}
	seccomp, err := workerMode(cmd, "sandbox.seccomp")
	if err != nil {
		return setup, err
	}
	maxOpenFiles, err := flags.GetUint64("sandbox.max-open-files")
	if err != nil {
		return setup, err
	}
	cpuLimit, err := flags.GetDuration("sandbox.cpu-limit")
	if err != nil {
		return setup, err
	}
	setup.restrictions = sandbox.Restrictions{
		ReadWriteDirs: []string{config.CompiledDir()},
		Landlock:      landlock,
		Seccomp:       seccomp,
		CPUTimeLimit:  cpuLimit,
		MaxOpenFiles:  maxOpenFiles,
	}
	// execute workers only read artifacts, prepare workers write them
	if execute {
		setup.restrictions.ReadOnlyDirs = []string{config.ArtifactsDir()}
	} else {
		setup.restrictions.ReadWriteDirs = append(setup.restrictions.ReadWriteDirs, config.ArtifactsDir())
	}

	heartbeatInterval, err := flags.GetDuration("heartbeat-interval")
	if err != nil {
		return setup, err
	}
	defaultMemoryPages, err := flags.GetUint32("default-memory-pages")
	if err != nil {
		return setup, err
	}
	setup.serve = worker.ServeConfig{
		Token:             os.Getenv(worker.TokenEnv),
		HeartbeatInterval: heartbeatInterval,
		Engine: wasm.Config{
			CompiledDir:        config.CompiledDir(),
			DefaultMemoryPages: defaultMemoryPages,
		},
	}
	return setup, nil
}

func workerMode(cmd *cobra.Command, flag string) (sandbox.Mode, error) {
	value, err := cmd.Flags().GetString(flag)
	if err != nil {
		return 0, err
	}
	return sandbox.ParseMode(value)
}

func execWorker(cmd *cobra.Command, execute bool) error {
	setup, err := parseWorkerFlags(cmd, execute)
	if err != nil {
		return err
	}

	features, err := sandbox.Enforce(setup.restrictions)
	if err != nil {
		return fmt.Errorf("enforcing sandbox: %w", err)
	}
	logger.Debugf("worker sandbox: %s", features)

	if execute {
		return worker.ServeExecute(cmd.Context(), os.Stdin, os.Stdout, setup.serve)
	}
	return worker.ServePrepare(cmd.Context(), os.Stdin, os.Stdout, setup.serve)
}
