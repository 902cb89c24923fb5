// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package candidatevalidation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ChainSafe/gossamer-pvf/dot/parachain/overseer"
	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf"
	pvfcommon "github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/common"
	parachaintypes "github.com/ChainSafe/gossamer-pvf/dot/parachain/types"
	"github.com/ChainSafe/gossamer-pvf/internal/log"
	"github.com/ChainSafe/gossamer/lib/common"
	"github.com/ChainSafe/gossamer/pkg/scale"
)

var logger = log.NewFromGlobal(log.AddContext("pkg", "parachain-candidate-validation"))

// DefaultPoVBombLimit caps the decompressed size of a PoV.
const DefaultPoVBombLimit = 16 * 1024 * 1024

// ValidationHost runs validation code.
type ValidationHost interface {
	Execute(ctx context.Context, request pvf.ExecuteRequest) (pvfcommon.Verdict, error)
	Precheck(ctx context.Context, code parachaintypes.ValidationCode, params parachaintypes.ExecutorParams) error
	HeadsUp(ctx context.Context, codes []parachaintypes.ValidationCode, params parachaintypes.ExecutorParams) error
}

// ChainState gives access to the relay chain state the subsystem needs.
type ChainState interface {
	ValidationCodeByHash(relayParent common.Hash, hash parachaintypes.ValidationCodeHash) (
		parachaintypes.ValidationCode, error)
	ExecutorParams(relayParent common.Hash) (parachaintypes.ExecutorParams, error)
}

// CandidateValidation is a parachain subsystem that validates candidate parachain blocks
type CandidateValidation struct {
	SubsystemToOverseer chan<- any
	ChainState          ChainState
	pvfHost             ValidationHost
	povBombLimit        uint64

	wg      sync.WaitGroup
	session parachaintypes.SessionIndex
}

var _ overseer.Subsystem = (*CandidateValidation)(nil)

// NewCandidateValidation creates a new CandidateValidation subsystem
func NewCandidateValidation(overseerChan chan<- any, chainState ChainState,
	host ValidationHost, povBombLimit uint64) *CandidateValidation {
	if povBombLimit == 0 {
		povBombLimit = DefaultPoVBombLimit
	}
	return &CandidateValidation{
		SubsystemToOverseer: overseerChan,
		ChainState:          chainState,
		pvfHost:             host,
		povBombLimit:        povBombLimit,
	}
}

// Run starts the CandidateValidation subsystem. Validations run
// concurrently; Run waits for them before returning.
func (cv *CandidateValidation) Run(ctx context.Context, overseerToSubsystem <-chan any) {
	defer cv.wg.Wait()
	for {
		select {
		case msg := <-overseerToSubsystem:
			cv.processMessage(ctx, msg)
		case <-ctx.Done():
			if err := ctx.Err(); err != nil {
				logger.Debugf("ctx error: %s", err)
			}
			return
		}
	}
}

// Name returns the name of the subsystem
func (*CandidateValidation) Name() string {
	return "CandidateValidation"
}

// ProcessActiveLeavesUpdateSignal processes active leaves update signal
func (*CandidateValidation) ProcessActiveLeavesUpdateSignal(parachaintypes.ActiveLeavesUpdateSignal) error {
	// NOTE: this subsystem does not process active leaves update signal
	return nil
}

// ProcessBlockFinalizedSignal processes block finalized signal
func (*CandidateValidation) ProcessBlockFinalizedSignal(parachaintypes.BlockFinalizedSignal) error {
	// NOTE: this subsystem does not process block finalized signal
	return nil
}

// Stop waits for running validations.
func (cv *CandidateValidation) Stop() {
	cv.wg.Wait()
}

// processMessage processes messages sent to the CandidateValidation subsystem
func (cv *CandidateValidation) processMessage(ctx context.Context, msg any) {
	switch msg := msg.(type) {
	case ValidateFromExhaustive:
		cv.wg.Add(1)
		go func() {
			defer cv.wg.Done()
			result, err := cv.validateFromExhaustive(ctx, msg)
			if err != nil {
				logger.Errorf("failed to validate from exhaustive: %s", err)
			}
			msg.Ch <- parachaintypes.OverseerFuncRes[ValidationResult]{Data: result, Err: err}
		}()

	case PreCheck:
		cv.wg.Add(1)
		go func() {
			defer cv.wg.Done()
			outcome := cv.precheckPvF(ctx, msg.RelayParent, msg.ValidationCodeHash)
			logger.Debugf("precheck of %s: %s", msg.ValidationCodeHash, outcome)
			msg.ResponseSender <- outcome
		}()

	case SessionUpdate:
		cv.processSessionUpdate(ctx, msg)

	case parachaintypes.ActiveLeavesUpdateSignal:
		_ = cv.ProcessActiveLeavesUpdateSignal(msg)

	case parachaintypes.BlockFinalizedSignal:
		_ = cv.ProcessBlockFinalizedSignal(msg)

	default:
		logger.Errorf("%s: %T", parachaintypes.ErrUnknownOverseerMessage, msg)
	}
}

// processSessionUpdate prepares the session validation code if this node
// validates in the session. Inactive nodes compile nothing.
func (cv *CandidateValidation) processSessionUpdate(ctx context.Context, msg SessionUpdate) {
	if msg.Done != nil {
		defer close(msg.Done)
	}
	if msg.Session < cv.session {
		logger.Debugf("ignoring update of past session %d", msg.Session)
		return
	}
	cv.session = msg.Session
	if !msg.IsValidator {
		logger.Debugf("not a validator in session %d", msg.Session)
		return
	}

	err := cv.pvfHost.HeadsUp(ctx, msg.ValidationCode, msg.ExecutorParams)
	if err != nil {
		logger.Warnf("preparing validation code of session %d: %s", msg.Session, err)
	}
}

// validateFromExhaustive validates a candidate. An error means the
// candidate could not be validated and says nothing about its validity.
func (cv *CandidateValidation) validateFromExhaustive(ctx context.Context, msg ValidateFromExhaustive) (
	ValidationResult, error) {
	invalid, err := performBasicChecks(&msg.CandidateReceipt.Descriptor,
		msg.PersistedValidationData.MaxPovSize, msg.PoV, msg.ValidationCode.Hash())
	if err != nil {
		return ValidationResult{}, fmt.Errorf("performing basic checks: %w", err)
	}
	if invalid != nil {
		return ValidationResult{Invalid: invalid}, nil
	}

	blockData, err := pvfcommon.MaybeCompressedBlobDecompress(msg.PoV.BlockData, cv.povBombLimit)
	if err != nil {
		return ValidationResult{Invalid: &pvfcommon.InvalidCandidate{
			Reason: pvfcommon.PoVDecompressionFailure,
			Detail: err.Error(),
		}}, nil
	}

	verdict, err := cv.pvfHost.Execute(ctx, pvf.ExecuteRequest{
		Code:           msg.ValidationCode,
		ExecutorParams: msg.ExecutorParams,
		Params: parachaintypes.ValidationParameters{
			ParentHeadData:         msg.PersistedValidationData.ParentHead,
			BlockData:              blockData,
			RelayParentNumber:      msg.PersistedValidationData.RelayParentNumber,
			RelayParentStorageRoot: msg.PersistedValidationData.RelayParentStorageRoot,
		},
		MaxPoVSize: msg.PersistedValidationData.MaxPovSize,
		Priority:   msg.Priority,
	})
	if err != nil {
		return ValidationResult{}, err
	}
	if verdict.Invalid != nil {
		return ValidationResult{Invalid: verdict.Invalid}, nil
	}
	if verdict.Result == nil {
		return ValidationResult{}, pvfcommon.NewExecuteError(pvfcommon.ExecuteInternal, "empty verdict")
	}

	headDataHash, err := verdict.Result.HeadData.Hash()
	if err != nil {
		return ValidationResult{}, fmt.Errorf("hashing head data: %w", err)
	}
	if headDataHash != msg.CandidateReceipt.Descriptor.ParaHead {
		return ValidationResult{Invalid: &pvfcommon.InvalidCandidate{
			Reason: pvfcommon.ParaHeadHashMismatch,
		}}, nil
	}

	return ValidationResult{Valid: &ValidValidationResult{
		Outputs:                 *verdict.Result,
		PersistedValidationData: msg.PersistedValidationData,
	}}, nil
}

// performBasicChecks Does basic checks of a candidate. Provide the encoded PoV-block.
// Returns the reason for invalidity, if any, and internal error if any.
func performBasicChecks(candidate *parachaintypes.CandidateDescriptor, maxPoVSize uint32,
	pov parachaintypes.PoV, validationCodeHash parachaintypes.ValidationCodeHash) (
	invalid *pvfcommon.InvalidCandidate, internalError error) {
	encodedPoV, err := scale.Marshal(pov)
	if err != nil {
		return nil, fmt.Errorf("encoding PoV: %w", err)
	}
	if uint32(len(encodedPoV)) > maxPoVSize {
		return &pvfcommon.InvalidCandidate{
			Reason: pvfcommon.ParamsTooLarge,
			Detail: fmt.Sprintf("PoV of %d bytes above %d", len(encodedPoV), maxPoVSize),
		}, nil
	}

	povHash, err := common.Blake2bHash(encodedPoV)
	if err != nil {
		return nil, fmt.Errorf("hashing PoV: %w", err)
	}
	if povHash != candidate.PovHash {
		return &pvfcommon.InvalidCandidate{Reason: pvfcommon.PoVHashMismatch}, nil
	}

	if validationCodeHash != candidate.ValidationCodeHash {
		return &pvfcommon.InvalidCandidate{Reason: pvfcommon.CodeHashMismatch}, nil
	}
	return nil, nil
}

func (cv *CandidateValidation) precheckPvF(ctx context.Context, relayParent common.Hash,
	validationCodeHash parachaintypes.ValidationCodeHash) PreCheckOutcome {
	code, err := cv.ChainState.ValidationCodeByHash(relayParent, validationCodeHash)
	if err != nil {
		logger.Errorf("failed to get validation code by hash: %s", err)
		return PreCheckOutcomeFailed
	}

	executorParams, err := cv.ChainState.ExecutorParams(relayParent)
	if err != nil {
		logger.Errorf("failed to acquire params for the session, thus voting against: %s", err)
		return PreCheckOutcomeInvalid
	}

	err = cv.pvfHost.Precheck(ctx, code, executorParams)
	var prepareErr *pvfcommon.PrepareError
	switch {
	case err == nil:
		return PreCheckOutcomeValid
	case errors.As(err, &prepareErr) && prepareErr.IsDeterministic():
		logger.Debugf("validation code %s failed preparation: %s", validationCodeHash, prepareErr)
		return PreCheckOutcomeInvalid
	default:
		logger.Warnf("precheck of %s failed: %s", validationCodeHash, err)
		return PreCheckOutcomeFailed
	}
}
