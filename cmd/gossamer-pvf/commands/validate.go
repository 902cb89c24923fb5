// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	candidatevalidation "github.com/ChainSafe/gossamer-pvf/dot/parachain/candidate-validation"
	parachaintypes "github.com/ChainSafe/gossamer-pvf/dot/parachain/types"
	"github.com/ChainSafe/gossamer/lib/common"
	"github.com/spf13/cobra"
)

var (
	errCandidateInvalid    = errors.New("candidate is invalid")
	errPriorityUnsupported = errors.New("priority not supported")
)

func init() {
	addCodeFlags(ValidateCmd)
	ValidateCmd.Flags().String("pov", "", "path to the block data of the proof of validity")
	ValidateCmd.Flags().String("parent-head", "0x", "hex encoded head data of the parent block")
	ValidateCmd.Flags().String("para-head", "", "hex encoded hash of the expected output head data")
	ValidateCmd.Flags().Uint32("relay-parent-number", 0, "relay chain block number of the relay parent")
	ValidateCmd.Flags().String("relay-parent-storage-root", common.Hash{}.String(),
		"relay chain storage root at the relay parent")
	ValidateCmd.Flags().Uint32("max-pov-size", 5*1024*1024, "maximum encoded size of the proof of validity")
	ValidateCmd.Flags().String("priority", "backing", "one of background, approval, backing or dispute")
	_ = ValidateCmd.MarkFlagRequired("pov")
	_ = ValidateCmd.MarkFlagRequired("para-head")
}

// ValidateCmd is the command to validate a candidate
var ValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a parachain block",
	Long: `validate runs the basic candidate checks and validate_block of the
validation code on the block, then prints the output head data.
Usage: gossamer-pvf validate --code ./parachain.wasm --pov ./block.bin \
	--parent-head 0x... --para-head 0x...`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return execValidate(cmd)
	},
}

// execValidate executes the validate command
func execValidate(cmd *cobra.Command) error {
	chainState, err := parseCodeFlags(cmd)
	if err != nil {
		return err
	}
	request, err := parseValidateFlags(cmd, chainState)
	if err != nil {
		return err
	}

	o, stop, err := startSubsystem(cmd.Context(), chainState)
	if err != nil {
		return err
	}
	defer stop()

	results := make(chan parachaintypes.OverseerFuncRes[candidatevalidation.ValidationResult], 1)
	request.Ch = results
	if err := o.Send(request); err != nil {
		return err
	}

	var result parachaintypes.OverseerFuncRes[candidatevalidation.ValidationResult]
	select {
	case result = <-results:
	case <-cmd.Context().Done():
		return cmd.Context().Err()
	}
	if result.Err != nil {
		return fmt.Errorf("unable to validate: %w", result.Err)
	}
	if result.Data.Invalid != nil {
		return fmt.Errorf("%w: %s", errCandidateInvalid, result.Data.Invalid)
	}

	outputs := result.Data.Valid.Outputs
	_, err = fmt.Fprintf(cmd.OutOrStdout(),
		"head data: %s\nupward messages: %d\nhorizontal messages: %d\nprocessed downward messages: %d\n"+
			"hrmp watermark: %d\n",
		common.BytesToHex(outputs.HeadData.Data), len(outputs.UpwardMessages),
		len(outputs.HorizontalMessages), outputs.ProcessedDownwardMessages, outputs.HrmpWatermark)
	return err
}

func parseValidateFlags(cmd *cobra.Command, chainState *fileChainState) (
	request candidatevalidation.ValidateFromExhaustive, err error) {
	flags := cmd.Flags()

	povPath, err := flags.GetString("pov")
	if err != nil {
		return request, fmt.Errorf("failed to get --pov: %s", err)
	}
	blockData, err := os.ReadFile(povPath)
	if err != nil {
		return request, fmt.Errorf("reading block data: %w", err)
	}
	pov := parachaintypes.PoV{BlockData: blockData}
	povHash, err := pov.Hash()
	if err != nil {
		return request, err
	}

	parentHeadHex, err := flags.GetString("parent-head")
	if err != nil {
		return request, fmt.Errorf("failed to get --parent-head: %s", err)
	}
	parentHead, err := common.HexToBytes(parentHeadHex)
	if err != nil {
		return request, fmt.Errorf("decoding --parent-head: %w", err)
	}

	paraHeadHex, err := flags.GetString("para-head")
	if err != nil {
		return request, fmt.Errorf("failed to get --para-head: %s", err)
	}
	paraHead, err := common.HexToHash(paraHeadHex)
	if err != nil {
		return request, fmt.Errorf("decoding --para-head: %w", err)
	}

	storageRootHex, err := flags.GetString("relay-parent-storage-root")
	if err != nil {
		return request, fmt.Errorf("failed to get --relay-parent-storage-root: %s", err)
	}
	storageRoot, err := common.HexToHash(storageRootHex)
	if err != nil {
		return request, fmt.Errorf("decoding --relay-parent-storage-root: %w", err)
	}

	relayParentNumber, err := flags.GetUint32("relay-parent-number")
	if err != nil {
		return request, fmt.Errorf("failed to get --relay-parent-number: %s", err)
	}
	maxPoVSize, err := flags.GetUint32("max-pov-size")
	if err != nil {
		return request, fmt.Errorf("failed to get --max-pov-size: %s", err)
	}

	priorityString, err := flags.GetString("priority")
	if err != nil {
		return request, fmt.Errorf("failed to get --priority: %s", err)
	}
	priority, err := parsePriority(priorityString)
	if err != nil {
		return request, err
	}

	return candidatevalidation.ValidateFromExhaustive{
		PersistedValidationData: parachaintypes.PersistedValidationData{
			ParentHead:             parachaintypes.HeadData{Data: parentHead},
			RelayParentNumber:      relayParentNumber,
			RelayParentStorageRoot: storageRoot,
			MaxPovSize:             maxPoVSize,
		},
		ValidationCode: chainState.code,
		CandidateReceipt: parachaintypes.CandidateReceipt{
			Descriptor: parachaintypes.CandidateDescriptor{
				PovHash:            povHash,
				ParaHead:           paraHead,
				ValidationCodeHash: chainState.code.Hash(),
			},
		},
		PoV:            pov,
		ExecutorParams: chainState.executorParams,
		Priority:       priority,
	}, nil
}

func parsePriority(s string) (parachaintypes.Priority, error) {
	switch strings.ToLower(s) {
	case "background":
		return parachaintypes.Background, nil
	case "approval":
		return parachaintypes.Approval, nil
	case "backing":
		return parachaintypes.Backing, nil
	case "dispute":
		return parachaintypes.Dispute, nil
	default:
		return 0, fmt.Errorf("%w: %s", errPriorityUnsupported, s)
	}
}
