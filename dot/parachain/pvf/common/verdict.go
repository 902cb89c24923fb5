// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package common

import parachaintypes "github.com/ChainSafe/gossamer-pvf/dot/parachain/types"

// Verdict is the outcome of a successful validation run: either the
// validation outputs or the reason the candidate is invalid.
type Verdict struct {
	Result  *parachaintypes.ValidationResult
	Invalid *InvalidCandidate
}

// IsValid returns true if validate_block returned outputs.
func (v Verdict) IsValid() bool {
	return v.Invalid == nil && v.Result != nil
}

func (v Verdict) String() string {
	if v.IsValid() {
		return "valid"
	}
	return "invalid"
}
