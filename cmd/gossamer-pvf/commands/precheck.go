// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package commands

import (
	"errors"
	"fmt"

	candidatevalidation "github.com/ChainSafe/gossamer-pvf/dot/parachain/candidate-validation"
	"github.com/ChainSafe/gossamer/lib/common"
	"github.com/spf13/cobra"
)

var errPrecheckRejected = errors.New("validation code rejected")

func init() {
	addCodeFlags(PrecheckCmd)
}

// PrecheckCmd is the command to precheck validation code
var PrecheckCmd = &cobra.Command{
	Use:   "precheck",
	Short: "Check that validation code can be prepared",
	Long: `precheck compiles the validation code in a sandboxed prepare worker
with the precheck limits and prints the vote: valid, invalid or failed.
Usage: gossamer-pvf precheck --code ./parachain.wasm`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return execPrecheck(cmd)
	},
}

// execPrecheck executes the precheck command
func execPrecheck(cmd *cobra.Command) error {
	chainState, err := parseCodeFlags(cmd)
	if err != nil {
		return err
	}

	o, stop, err := startSubsystem(cmd.Context(), chainState)
	if err != nil {
		return err
	}
	defer stop()

	outcomes := make(chan candidatevalidation.PreCheckOutcome, 1)
	err = o.Send(candidatevalidation.PreCheck{
		RelayParent:        common.Hash{},
		ValidationCodeHash: chainState.code.Hash(),
		ResponseSender:     outcomes,
	})
	if err != nil {
		return err
	}

	var outcome candidatevalidation.PreCheckOutcome
	select {
	case outcome = <-outcomes:
	case <-cmd.Context().Done():
		return cmd.Context().Err()
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), outcome)
	if err != nil {
		return err
	}
	if outcome != candidatevalidation.PreCheckOutcomeValid {
		return fmt.Errorf("%w: %s", errPrecheckRejected, outcome)
	}
	return nil
}
