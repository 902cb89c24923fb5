// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	candidatevalidation "github.com/ChainSafe/gossamer-pvf/dot/parachain/candidate-validation"
	"github.com/ChainSafe/gossamer-pvf/dot/parachain/overseer"
	parachaintypes "github.com/ChainSafe/gossamer-pvf/dot/parachain/types"
	"github.com/ChainSafe/gossamer/lib/common"
	"github.com/spf13/cobra"
)

var errCodeNotFound = errors.New("validation code not found")

// fileChainState serves a single validation code read from disk, at any
// relay parent.
type fileChainState struct {
	code           parachaintypes.ValidationCode
	executorParams parachaintypes.ExecutorParams
}

func (s *fileChainState) ValidationCodeByHash(_ common.Hash, hash parachaintypes.ValidationCodeHash) (
	parachaintypes.ValidationCode, error) {
	if hash != s.code.Hash() {
		return nil, fmt.Errorf("%w: %s", errCodeNotFound, hash)
	}
	return s.code, nil
}

func (s *fileChainState) ExecutorParams(common.Hash) (parachaintypes.ExecutorParams, error) {
	return s.executorParams, nil
}

// addCodeFlags adds the validation code and executor parameter flags of
// the precheck and validate commands.
func addCodeFlags(cmd *cobra.Command) {
	cmd.Flags().String("code", "", "path to the validation code, raw or zstd compressed wasm")
	cmd.Flags().Uint32("max-memory-pages", 0, "linear memory limit in wasm pages, 0 for the host default")
	cmd.Flags().Bool("disable-bulk-memory", false, "restrict compilation to the wasm 1.0 feature set")
	_ = cmd.MarkFlagRequired("code")
}

func parseCodeFlags(cmd *cobra.Command) (*fileChainState, error) {
	path, err := cmd.Flags().GetString("code")
	if err != nil {
		return nil, fmt.Errorf("failed to get --code: %s", err)
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading validation code: %w", err)
	}

	state := &fileChainState{code: code}
	maxMemoryPages, err := cmd.Flags().GetUint32("max-memory-pages")
	if err != nil {
		return nil, fmt.Errorf("failed to get --max-memory-pages: %s", err)
	}
	if maxMemoryPages > 0 {
		state.executorParams.MaxMemoryPages = &maxMemoryPages
	}
	state.executorParams.DisableBulkMemory, err = cmd.Flags().GetBool("disable-bulk-memory")
	if err != nil {
		return nil, fmt.Errorf("failed to get --disable-bulk-memory: %s", err)
	}
	return state, nil
}

// startSubsystem starts the host services and the candidate validation
// subsystem behind an overseer. The returned function stops both.
func startSubsystem(ctx context.Context, chainState candidatevalidation.ChainState) (
	o *overseer.Overseer, stop func(), err error) {
	s, err := newServices(ctx, config)
	if err != nil {
		return nil, nil, err
	}
	if err := s.start(); err != nil {
		return nil, nil, err
	}

	o = overseer.NewOverseer()
	cv := candidatevalidation.NewCandidateValidation(o.SubsystemsToOverseer, chainState,
		s.host, config.PVF.PoVBombLimit)
	o.RegisterSubsystem(cv,
		candidatevalidation.ValidateFromExhaustive{},
		candidatevalidation.PreCheck{},
		candidatevalidation.SessionUpdate{},
	)
	if err := o.Start(); err != nil {
		s.stop()
		return nil, nil, err
	}

	return o, func() {
		if err := o.Stop(); err != nil {
			logger.Warnf("stopping overseer: %s", err)
		}
		s.stop()
	}, nil
}
