// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package wasm

import (
	"context"
	"errors"
	"fmt"

	pvfcommon "github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/common"
	parachaintypes "github.com/ChainSafe/gossamer-pvf/dot/parachain/types"
)

// Prepare decompresses and validates the validation code and returns the
// artifact payload, which is the decompressed wasm blob. The module is
// compiled, its exports and imports checked, and it is instantiated once
// so a later execution only fails on behaviour of the candidate.
// A panic while compiling is reported as a compiler panic.
func Prepare(ctx context.Context, code []byte, bombLimit uint64,
	params parachaintypes.ExecutorParams, cfg Config) (payload []byte, prepareErr *pvfcommon.PrepareError) {
	defer func() {
		if r := recover(); r != nil {
			payload = nil
			prepareErr = pvfcommon.NewPrepareError(pvfcommon.PrepareCompilerPanic, "%v", r)
		}
	}()

	blob, err := pvfcommon.MaybeCompressedBlobDecompress(code, bombLimit)
	if err != nil {
		return nil, pvfcommon.NewPrepareError(pvfcommon.PrepareInvalidModule, "decompressing code: %s", err)
	}

	e, err := newEngine(ctx, cfg, params)
	if err != nil {
		return nil, pvfcommon.NewPrepareError(pvfcommon.PrepareIoFailure, "%s", err)
	}
	defer e.close(ctx)

	compiled, err := e.runtime.CompileModule(ctx, blob)
	if err != nil {
		return nil, invalidModule(ctx, fmt.Errorf("compiling: %w", err))
	}

	err = checkExports(compiled)
	if err != nil {
		return nil, pvfcommon.NewPrepareError(pvfcommon.PrepareInvalidModule, "%s", err)
	}

	_, err = e.instantiate(ctx, compiled)
	if err != nil {
		return nil, invalidModule(ctx, err)
	}

	logger.Debugf("prepared module of %d bytes (%d bytes before decompression)", len(blob), len(code))
	return blob, nil
}

// invalidModule reports err as an invalid module, unless the preparation
// ran out of time.
func invalidModule(ctx context.Context, err error) *pvfcommon.PrepareError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return pvfcommon.NewPrepareError(pvfcommon.PrepareTimeout, "%s", err)
	}
	return pvfcommon.NewPrepareError(pvfcommon.PrepareInvalidModule, "%s", err)
}

// compileArtifact compiles a prepared payload for execution.
func (e *engine) compileArtifact(ctx context.Context, payload []byte) (*instance, error) {
	compiled, err := e.runtime.CompileModule(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("compiling artifact: %w", err)
	}
	if err := checkExports(compiled); err != nil {
		return nil, err
	}
	return e.instantiate(ctx, compiled)
}
