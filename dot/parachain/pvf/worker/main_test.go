// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	pvfcommon "github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/common"
	"github.com/ChainSafe/gossamer-pvf/internal/log"
)

const testModeEnv = "PVF_WORKER_TEST_MODE"

// TestMain turns the test binary into a worker when re-executed by the
// spawner tests.
func TestMain(m *testing.M) {
	if mode := os.Getenv(testModeEnv); mode != "" {
		log.Patch(log.SetWriter(os.Stderr), log.SetLevel(log.Debug))
		os.Exit(runTestWorker(mode))
	}
	os.Exit(m.Run())
}

func runTestWorker(mode string) int {
	ctx := context.Background()
	config := ServeConfig{
		Token:             os.Getenv(TokenEnv),
		HeartbeatInterval: 50 * time.Millisecond,
	}
	writer := pvfcommon.NewMessageWriter(os.Stdout)
	handshake := func(token string) {
		_ = writer.Write(pvfcommon.MessageHandshake, pvfcommon.Handshake{
			Fingerprint: pvfcommon.Fingerprint(),
			Token:       token,
			PID:         uint32(os.Getpid()),
		})
	}
	readRequest := func() {
		_, _, _ = pvfcommon.ReadMessage(os.Stdin)
	}

	var err error
	switch mode {
	case "prepare":
		err = ServePrepare(ctx, os.Stdin, os.Stdout, config)
	case "execute":
		err = ServeExecute(ctx, os.Stdin, os.Stdout, config)
	case "hang":
		handshake(config.Token)
		readRequest()
		// blocks without heartbeats until killed
		_, _ = io.Copy(io.Discard, os.Stdin)
	case "crash":
		handshake(config.Token)
		readRequest()
		return 3
	case "busy":
		handshake(config.Token)
		readRequest()
		startHeartbeats(writer, config.HeartbeatInterval)
		for {
		}
	case "bad_token":
		handshake("not the token")
		_, _ = io.Copy(io.Discard, os.Stdin)
	case "silent":
		_, _ = io.Copy(io.Discard, os.Stdin)
	default:
		err = fmt.Errorf("unknown test worker mode %q", mode)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
