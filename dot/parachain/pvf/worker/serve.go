// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/artifacts"
	pvfcommon "github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/common"
	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/wasm"
	"github.com/ChainSafe/gossamer/pkg/scale"
)

// ServeConfig configures the worker side of the protocol.
type ServeConfig struct {
	// Token is the spawn token to echo in the handshake.
	Token string
	// HeartbeatInterval is the period of heartbeats while a job runs.
	HeartbeatInterval time.Duration
	Engine            wasm.Config
}

// ServePrepare serves preparation jobs read from in until in is closed.
func ServePrepare(ctx context.Context, in io.Reader, out io.Writer, config ServeConfig) error {
	return serve(ctx, in, out, config, pvfcommon.MessagePrepareRequest,
		func(ctx context.Context, body []byte) (pvfcommon.MessageKind, any) {
			return pvfcommon.MessagePrepareResponse, handlePrepare(ctx, body, config.Engine)
		})
}

// ServeExecute serves execution jobs read from in until in is closed.
func ServeExecute(ctx context.Context, in io.Reader, out io.Writer, config ServeConfig) error {
	return serve(ctx, in, out, config, pvfcommon.MessageExecuteRequest,
		func(ctx context.Context, body []byte) (pvfcommon.MessageKind, any) {
			return pvfcommon.MessageExecuteResponse, handleExecute(ctx, body, config.Engine)
		})
}

type jobHandler func(ctx context.Context, body []byte) (pvfcommon.MessageKind, any)

func serve(ctx context.Context, in io.Reader, out io.Writer, config ServeConfig,
	requestKind pvfcommon.MessageKind, handle jobHandler) error {
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = time.Second
	}
	writer := pvfcommon.NewMessageWriter(out)

	err := writer.Write(pvfcommon.MessageHandshake, pvfcommon.Handshake{
		Fingerprint: pvfcommon.Fingerprint(),
		Token:       config.Token,
		PID:         uint32(os.Getpid()),
	})
	if err != nil {
		return fmt.Errorf("sending handshake: %w", err)
	}

	for {
		kind, body, err := pvfcommon.ReadMessage(in)
		if errors.Is(err, io.EOF) {
			// the host closed our input
			return nil
		} else if err != nil {
			return fmt.Errorf("reading request: %w", err)
		}
		if kind != requestKind {
			return fmt.Errorf("%w: %s", pvfcommon.ErrUnexpectedMessage, kind)
		}

		stopHeartbeats := startHeartbeats(writer, config.HeartbeatInterval)
		responseKind, response := handle(ctx, body)
		stopHeartbeats()

		err = writer.Write(responseKind, response)
		if err != nil {
			return fmt.Errorf("sending response: %w", err)
		}
	}
}

func startHeartbeats(writer *pvfcommon.MessageWriter, interval time.Duration) (stop func()) {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := writer.Write(pvfcommon.MessageHeartbeat, nil); err != nil {
					logger.Debugf("sending heartbeat: %s", err)
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

func handlePrepare(ctx context.Context, body []byte, engine wasm.Config) pvfcommon.PrepareResponse {
	var request pvfcommon.PrepareRequest
	err := scale.Unmarshal(body, &request)
	if err != nil {
		return pvfcommon.PrepareResponse{
			Error: pvfcommon.NewPrepareError(pvfcommon.PrepareIoFailure, "decoding request: %s", err),
		}
	}

	started := time.Now()
	payload, prepareErr := wasm.Prepare(ctx, request.Code, request.CodeBombLimit,
		request.ExecutorParams, engine)
	if prepareErr != nil {
		logger.Debugf("preparation of %s failed: %s", request.ArtifactID, prepareErr)
		return pvfcommon.PrepareResponse{Error: prepareErr}
	}

	size, err := artifacts.WriteArtifact(request.OutputPath, request.ArtifactID,
		pvfcommon.Fingerprint(), payload)
	if err != nil {
		return pvfcommon.PrepareResponse{
			Error: pvfcommon.NewPrepareError(pvfcommon.PrepareIoFailure, "writing artifact: %s", err),
		}
	}
	logger.Debugf("prepared %s in %s", request.ArtifactID, time.Since(started))
	return pvfcommon.PrepareResponse{ArtifactSize: size}
}

func handleExecute(ctx context.Context, body []byte, engine wasm.Config) pvfcommon.ExecuteResponse {
	var request pvfcommon.ExecuteRequest
	err := scale.Unmarshal(body, &request)
	if err != nil {
		return pvfcommon.ExecuteResponse{
			Error: pvfcommon.NewExecuteError(pvfcommon.ExecuteInternal, "decoding request: %s", err),
		}
	}
	if request.TimeoutMillis == 0 {
		return pvfcommon.ExecuteResponse{
			Error: pvfcommon.NewExecuteError(pvfcommon.ExecuteInternal, "missing execution timeout"),
		}
	}

	if request.MaxPoVSize > 0 && len(request.Params.BlockData) > int(request.MaxPoVSize) {
		return pvfcommon.ExecuteResponse{Invalid: &pvfcommon.InvalidCandidate{
			Reason: pvfcommon.ParamsTooLarge,
			Detail: fmt.Sprintf("block data is %d bytes, limit is %d",
				len(request.Params.BlockData), request.MaxPoVSize),
		}}
	}

	artifact, err := artifacts.ReadArtifact(request.ArtifactPath)
	if err == nil {
		err = artifact.Header.Check(request.ArtifactID, pvfcommon.Fingerprint())
	}
	if err != nil {
		return pvfcommon.ExecuteResponse{
			Error: pvfcommon.NewExecuteError(pvfcommon.ExecuteArtifactMissing, "%s", err),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(request.TimeoutMillis)*time.Millisecond)
	defer cancel()

	result, invalid, err := wasm.Execute(ctx, artifact.Payload, request.Params,
		request.ExecutorParams, engine)
	if err != nil {
		var executeErr *pvfcommon.ExecuteError
		if !errors.As(err, &executeErr) {
			executeErr = pvfcommon.NewExecuteError(pvfcommon.ExecuteInternal, "%s", err)
		}
		return pvfcommon.ExecuteResponse{Error: executeErr}
	}
	return pvfcommon.ExecuteResponse{Result: result, Invalid: invalid}
}
