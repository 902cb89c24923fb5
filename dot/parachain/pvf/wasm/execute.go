// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package wasm

import (
	"context"
	"errors"
	"fmt"

	pvfcommon "github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/common"
	parachaintypes "github.com/ChainSafe/gossamer-pvf/dot/parachain/types"
	"github.com/ChainSafe/gossamer/pkg/scale"
	"github.com/tetratelabs/wazero/sys"
)

// Execute runs validate_block of a prepared payload against the validation
// parameters. Exactly one of the returned values is non nil: the validation
// result, the reason the candidate is invalid, or an *ExecuteError when no
// verdict could be reached. The deadline of ctx bounds the wasm execution.
func Execute(ctx context.Context, payload []byte, params parachaintypes.ValidationParameters,
	executorParams parachaintypes.ExecutorParams, cfg Config) (
	*parachaintypes.ValidationResult, *pvfcommon.InvalidCandidate, error) {
	encodedParams, err := scale.Marshal(params)
	if err != nil {
		return nil, nil, pvfcommon.NewExecuteError(pvfcommon.ExecuteInternal, "encoding validation params: %s", err)
	}

	e, err := newEngine(ctx, cfg, executorParams)
	if err != nil {
		return nil, nil, pvfcommon.NewExecuteError(pvfcommon.ExecuteInternal, "%s", err)
	}
	defer e.close(ctx)

	inst, err := e.compileArtifact(ctx, payload)
	if err != nil {
		if executionTimedOut(ctx, err) {
			return nil, nil, pvfcommon.NewExecuteError(pvfcommon.ExecuteTimeout, "%s", err)
		}
		// prepared payloads always compile, the artifact is corrupt
		return nil, nil, pvfcommon.NewExecuteError(pvfcommon.ExecuteArtifactMissing, "%s", err)
	}

	paramsPointer, err := inst.allocator.allocate(uint32(len(encodedParams)))
	if errors.Is(err, ErrAllocationTooLarge) {
		return nil, &pvfcommon.InvalidCandidate{
			Reason: pvfcommon.ParamsTooLarge,
			Detail: fmt.Sprintf("%d bytes", len(encodedParams)),
		}, nil
	} else if err != nil {
		return nil, &pvfcommon.InvalidCandidate{Reason: pvfcommon.WasmTrap, Detail: err.Error()}, nil
	}
	if !inst.module.Memory().Write(paramsPointer, encodedParams) {
		return nil, &pvfcommon.InvalidCandidate{
			Reason: pvfcommon.WasmTrap,
			Detail: "writing validation params out of memory bounds",
		}, nil
	}

	returned, err := inst.module.ExportedFunction(validateBlockExport).
		Call(ctx, uint64(paramsPointer), uint64(len(encodedParams)))
	if err != nil {
		if executionTimedOut(ctx, err) {
			return nil, nil, pvfcommon.NewExecuteError(pvfcommon.ExecuteTimeout, "%s", err)
		}
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == sys.ExitCodeContextCanceled {
			return nil, nil, pvfcommon.NewExecuteError(pvfcommon.ExecuteInternal, "cancelled: %s", err)
		}
		return nil, &pvfcommon.InvalidCandidate{Reason: pvfcommon.WasmTrap, Detail: err.Error()}, nil
	}

	resultPointer, resultSize := splitPointerSize(returned[0])
	encodedResult, ok := inst.module.Memory().Read(resultPointer, resultSize)
	if !ok {
		return nil, &pvfcommon.InvalidCandidate{
			Reason: pvfcommon.BadReturn,
			Detail: fmt.Sprintf("result at %d with size %d is out of memory bounds", resultPointer, resultSize),
		}, nil
	}

	var result parachaintypes.ValidationResult
	err = scale.Unmarshal(encodedResult, &result)
	if err != nil {
		return nil, &pvfcommon.InvalidCandidate{
			Reason: pvfcommon.BadReturn,
			Detail: fmt.Sprintf("decoding validation result: %s", err),
		}, nil
	}
	return &result, nil, nil
}

func executionTimedOut(ctx context.Context, err error) bool {
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == sys.ExitCodeDeadlineExceeded {
		return true
	}
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}
