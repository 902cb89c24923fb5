// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package candidatevalidation

import (
	pvfcommon "github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/common"
	parachaintypes "github.com/ChainSafe/gossamer-pvf/dot/parachain/types"
	"github.com/ChainSafe/gossamer/lib/common"
)

// ValidateFromExhaustive performs full validation of a candidate with provided parameters,
// including `PersistedValidationData` and `ValidationCode`. It doesn't involve acceptance
// criteria checking and is typically used when the candidate's validity is established
// through prior relay-chain checks.
type ValidateFromExhaustive struct {
	PersistedValidationData parachaintypes.PersistedValidationData
	ValidationCode          parachaintypes.ValidationCode
	CandidateReceipt        parachaintypes.CandidateReceipt
	PoV                     parachaintypes.PoV
	ExecutorParams          parachaintypes.ExecutorParams
	Priority                parachaintypes.Priority
	Ch                      chan parachaintypes.OverseerFuncRes[ValidationResult]
}

// PreCheck try to compile the given validation code and return the result
// The validation code is specified by the hash and will be queried from the chain state at
// the given relay-parent.
type PreCheck struct {
	RelayParent        common.Hash
	ValidationCodeHash parachaintypes.ValidationCodeHash
	ResponseSender     chan PreCheckOutcome
}

// SessionUpdate informs the subsystem of a new session. Validators of the
// session prepare the upcoming validation code ahead of time.
type SessionUpdate struct {
	Session        parachaintypes.SessionIndex
	IsValidator    bool
	ValidationCode []parachaintypes.ValidationCode
	ExecutorParams parachaintypes.ExecutorParams
	// Done, if set, is closed once the update is processed.
	Done chan struct{}
}

// PreCheckOutcome represents the outcome of the candidate-validation pre-check request
type PreCheckOutcome byte

const (
	PreCheckOutcomeValid PreCheckOutcome = iota
	PreCheckOutcomeInvalid
	PreCheckOutcomeFailed
)

func (o PreCheckOutcome) String() string {
	switch o {
	case PreCheckOutcomeValid:
		return "valid"
	case PreCheckOutcomeInvalid:
		return "invalid"
	case PreCheckOutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ValidationResult represents the result coming from the candidate validation subsystem.
// Exactly one of Valid and Invalid is set.
type ValidationResult struct {
	Valid   *ValidValidationResult
	Invalid *pvfcommon.InvalidCandidate
}

// IsValid returns true if the candidate is valid.
func (vr ValidationResult) IsValid() bool {
	return vr.Valid != nil
}

// ValidValidationResult holds the outputs of a valid candidate.
type ValidValidationResult struct {
	Outputs                 parachaintypes.ValidationResult
	PersistedValidationData parachaintypes.PersistedValidationData
}
