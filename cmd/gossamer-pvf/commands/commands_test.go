// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	cfg "github.com/ChainSafe/gossamer-pvf/config"
	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/artifacts"
	pvfcommon "github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/common"
	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/sandbox"
	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/wasm"
	parachaintypes "github.com/ChainSafe/gossamer-pvf/dot/parachain/types"
	"github.com/ChainSafe/gossamer/lib/common"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeRoot runs the root command with args. Commands share the global
// viper instance so these tests do not run in parallel.
func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	config = cfg.DefaultConfig()
	t.Cleanup(viper.Reset)

	root, err := NewRootCommand()
	require.NoError(t, err)
	output := bytes.NewBuffer(nil)
	root.SetOut(output)
	root.SetErr(output)
	root.SetArgs(args)
	err = root.Execute()
	return output.String(), err
}

func Test_InitCmd(t *testing.T) {
	basePath := t.TempDir()

	output, err := executeRoot(t, "init", "--base-path", basePath, "--execute-workers", "3")
	require.NoError(t, err)

	configFilePath := filepath.Join(basePath, cfg.ConfigFile)
	assert.Equal(t, configFilePath+"\n", output)
	for _, dir := range []string{"artifacts", "compiled"} {
		info, err := os.Stat(filepath.Join(basePath, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	v := viper.New()
	v.SetConfigFile(configFilePath)
	require.NoError(t, v.ReadInConfig())
	assert.Equal(t, 3, v.GetInt("pvf.execute-workers"))
	assert.Equal(t, basePath, v.GetString("base-path"))
}

func Test_InitCmd_invalidConfig(t *testing.T) {
	_, err := executeRoot(t, "init", "--base-path", t.TempDir(), "--sandbox.seccomp", "sometimes")
	assert.ErrorIs(t, err, cfg.ErrInvalidSandboxMode)
}

func Test_PruneCmd(t *testing.T) {
	basePath := t.TempDir()
	artifactsDir := filepath.Join(basePath, "artifacts")
	require.NoError(t, os.MkdirAll(artifactsDir, 0o700))

	old := time.Now().Add(-2 * time.Hour)
	for i, code := range []parachaintypes.ValidationCode{{1}, {2}} {
		id, err := pvfcommon.NewArtifactID(code, parachaintypes.ExecutorParams{})
		require.NoError(t, err)
		path := filepath.Join(artifactsDir, id.FileName())
		_, err = artifacts.WriteArtifact(path, id, pvfcommon.Fingerprint(), []byte{byte(i)})
		require.NoError(t, err)
		if i == 0 {
			require.NoError(t, os.Chtimes(path, old, old))
		}
	}

	output, err := executeRoot(t, "prune", "--base-path", basePath, "--cache-unused-ttl", "1h")
	require.NoError(t, err)
	assert.Equal(t, "1\n", output)

	entries, err := os.ReadDir(artifactsDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func Test_parseWorkerFlags(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	config := cfg.DefaultConfig()
	config.BasePath = "/var/lib/pvf"
	config.LogLevel = "dbug"
	config.Sandbox.Landlock = "required"
	config.Sandbox.Seccomp = "off"
	config.Sandbox.MaxOpenFiles = 64
	config.Sandbox.CPULimit = 20 * time.Minute
	config.PVF.HeartbeatInterval = 2 * time.Second
	config.PVF.DefaultMemoryPages = 100

	testCases := map[string]struct {
		execute      bool
		restrictions sandbox.Restrictions
	}{
		"prepare": {
			restrictions: sandbox.Restrictions{
				ReadWriteDirs: []string{"/var/lib/pvf/compiled", "/var/lib/pvf/artifacts"},
				Landlock:      sandbox.Required,
				Seccomp:       sandbox.Off,
				CPUTimeLimit:  20 * time.Minute,
				MaxOpenFiles:  64,
			},
		},
		"execute": {
			execute: true,
			restrictions: sandbox.Restrictions{
				ReadOnlyDirs:  []string{"/var/lib/pvf/artifacts"},
				ReadWriteDirs: []string{"/var/lib/pvf/compiled"},
				Landlock:      sandbox.Required,
				Seccomp:       sandbox.Off,
				CPUTimeLimit:  20 * time.Minute,
				MaxOpenFiles:  64,
			},
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			command := PrepareWorkerCmd.Name()
			if testCase.execute {
				command = ExecuteWorkerCmd.Name()
			}

			root, err := NewRootCommand()
			require.NoError(t, err)
			cmd, rest, err := root.Find(workerArgs(command, config))
			require.NoError(t, err)
			require.Equal(t, command, cmd.Name())
			require.NoError(t, cmd.ParseFlags(rest))

			setup, err := parseWorkerFlags(cmd, testCase.execute)
			require.NoError(t, err)

			assert.Equal(t, testCase.restrictions, setup.restrictions)
			assert.Equal(t, 2*time.Second, setup.serve.HeartbeatInterval)
			assert.Equal(t, wasm.Config{
				CompiledDir:        "/var/lib/pvf/compiled",
				DefaultMemoryPages: 100,
			}, setup.serve.Engine)
		})
	}
}

func Test_fileChainState(t *testing.T) {
	t.Parallel()

	code := parachaintypes.ValidationCode{0, 'a', 's', 'm'}
	pages := uint32(32)
	state := &fileChainState{
		code:           code,
		executorParams: parachaintypes.ExecutorParams{MaxMemoryPages: &pages},
	}

	got, err := state.ValidationCodeByHash(common.Hash{1}, code.Hash())
	require.NoError(t, err)
	assert.Equal(t, code, got)

	_, err = state.ValidationCodeByHash(common.Hash{1}, parachaintypes.ValidationCodeHash{2})
	assert.ErrorIs(t, err, errCodeNotFound)

	params, err := state.ExecutorParams(common.Hash{})
	require.NoError(t, err)
	assert.Equal(t, &pages, params.MaxMemoryPages)
}

func Test_parsePriority(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		s          string
		priority   parachaintypes.Priority
		errWrapped error
	}{
		"background": {s: "background", priority: parachaintypes.Background},
		"approval":   {s: "Approval", priority: parachaintypes.Approval},
		"backing":    {s: "backing", priority: parachaintypes.Backing},
		"dispute":    {s: "DISPUTE", priority: parachaintypes.Dispute},
		"unknown":    {s: "urgent", errWrapped: errPriorityUnsupported},
	}

	for name, testCase := range testCases {
		testCase := testCase
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			priority, err := parsePriority(testCase.s)

			assert.ErrorIs(t, err, testCase.errWrapped)
			assert.Equal(t, testCase.priority, priority)
		})
	}
}
