// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/artifacts"
	pvfcommon "github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/common"
	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/sandbox"
	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/wasm/wasmtest"
	parachaintypes "github.com/ChainSafe/gossamer-pvf/dot/parachain/types"
	"github.com/ChainSafe/gossamer/pkg/scale"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSpawner(t *testing.T, mode string, settings Settings) *ProcessSpawner {
	t.Helper()
	executable, err := os.Executable()
	require.NoError(t, err)

	return NewProcessSpawner(executable, nil, sandbox.CommandOptions{
		Env: []string{testModeEnv + "=" + mode},
	}, settings)
}

func spawnTestWorker(t *testing.T, mode string, settings Settings) Worker {
	t.Helper()
	w, err := newTestSpawner(t, mode, settings).Spawn(context.Background())
	require.NoError(t, err)
	t.Cleanup(w.Kill)
	return w
}

func Test_Handle_prepareThenExecute(t *testing.T) {
	t.Parallel()

	codeHash := parachaintypes.ValidationCode(wasmtest.Echo).Hash()
	id := pvfcommon.ArtifactID{CodeHash: codeHash}
	outputPath := filepath.Join(t.TempDir(), id.FileName())

	preparer := spawnTestWorker(t, "prepare", Settings{})
	prepareResponse, err := preparer.Prepare(context.Background(), pvfcommon.PrepareRequest{
		ArtifactID:    id,
		Code:          wasmtest.Echo,
		Kind:          parachaintypes.Prepare,
		OutputPath:    outputPath,
		CodeBombLimit: 1 << 20,
	}, Limits{CPUTime: 10 * time.Second, WallClock: 30 * time.Second})
	require.NoError(t, err)
	require.Nil(t, prepareResponse.Error)
	assert.Equal(t, 1, preparer.Jobs())

	size, err := artifacts.Verify(outputPath, id, pvfcommon.Fingerprint())
	require.NoError(t, err)
	assert.Equal(t, size, prepareResponse.ArtifactSize)

	params := parachaintypes.ValidationParameters{
		ParentHeadData:    parachaintypes.HeadData{Data: []byte{1}},
		BlockData:         parachaintypes.BlockData{2, 3},
		RelayParentNumber: 4,
	}
	encodedParams, err := scale.Marshal(params)
	require.NoError(t, err)

	executor := spawnTestWorker(t, "execute", Settings{})
	request := pvfcommon.ExecuteRequest{
		ArtifactID:    id,
		ArtifactPath:  outputPath,
		Params:        params,
		MaxPoVSize:    1024,
		TimeoutMillis: 5000,
	}
	for i := 0; i < 2; i++ {
		response, err := executor.Execute(context.Background(), request, Limits{WallClock: 30 * time.Second})
		require.NoError(t, err)
		require.Nil(t, response.Error)
		require.Nil(t, response.Invalid)
		require.NotNil(t, response.Result)
		assert.Equal(t, encodedParams, response.Result.HeadData.Data)
	}
	assert.Equal(t, 2, executor.Jobs())

	request.ArtifactPath = filepath.Join(t.TempDir(), "missing.pvf")
	response, err := executor.Execute(context.Background(), request, Limits{WallClock: 30 * time.Second})
	require.NoError(t, err)
	require.NotNil(t, response.Error)
	assert.Equal(t, pvfcommon.ExecuteArtifactMissing, response.Error.Kind)

	preparer.Close()
	executor.Close()
}

func Test_Handle_prepareInvalidModule(t *testing.T) {
	t.Parallel()

	outputPath := filepath.Join(t.TempDir(), "out.pvf")
	preparer := spawnTestWorker(t, "prepare", Settings{})

	response, err := preparer.Prepare(context.Background(), pvfcommon.PrepareRequest{
		Code:          []byte("definitely not wasm"),
		OutputPath:    outputPath,
		CodeBombLimit: 1 << 20,
	}, Limits{WallClock: 30 * time.Second})

	require.NoError(t, err)
	require.NotNil(t, response.Error)
	assert.Equal(t, pvfcommon.PrepareInvalidModule, response.Error.Kind)
	assert.NoFileExists(t, outputPath)
}

func Test_Handle_supervision(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		mode       string
		settings   Settings
		limits     Limits
		cancel     bool
		errWrapped error
	}{
		"hung_worker": {
			mode:       "hang",
			settings:   Settings{HeartbeatTimeout: 300 * time.Millisecond, PollInterval: 20 * time.Millisecond},
			errWrapped: ErrHung,
		},
		"crashed_worker": {
			mode:       "crash",
			errWrapped: ErrWorkerDied,
		},
		"cpu_time_exceeded": {
			mode:       "busy",
			settings:   Settings{PollInterval: 20 * time.Millisecond},
			limits:     Limits{CPUTime: 200 * time.Millisecond},
			errWrapped: ErrTimeout,
		},
		"wall_clock_exceeded": {
			mode:       "busy",
			limits:     Limits{WallClock: 300 * time.Millisecond},
			errWrapped: ErrTimeout,
		},
		"cancelled": {
			mode:       "busy",
			cancel:     true,
			errWrapped: ErrCancelled,
		},
	}

	for name, testCase := range testCases {
		testCase := testCase
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			w := spawnTestWorker(t, testCase.mode, testCase.settings)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if testCase.cancel {
				time.AfterFunc(200*time.Millisecond, cancel)
			}

			_, err := w.Prepare(ctx, pvfcommon.PrepareRequest{}, testCase.limits)

			assert.ErrorIs(t, err, testCase.errWrapped)

			// a supervised failure always leaves a dead worker behind
			_, err = w.Prepare(context.Background(), pvfcommon.PrepareRequest{}, Limits{})
			assert.Error(t, err)
		})
	}
}

func Test_ProcessSpawner_Spawn_handshakeFailure(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		mode     string
		settings Settings
	}{
		"bad_token": {
			mode: "bad_token",
		},
		"no_handshake": {
			mode:     "silent",
			settings: Settings{HandshakeTimeout: 200 * time.Millisecond},
		},
		"exits_immediately": {
			mode: "unknown-mode",
		},
	}

	for name, testCase := range testCases {
		testCase := testCase
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			w, err := newTestSpawner(t, testCase.mode, testCase.settings).Spawn(context.Background())

			assert.ErrorIs(t, err, ErrHandshake)
			assert.Nil(t, w)
		})
	}
}
