// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package parachaintypes

// Priority is the urgency class of a PVF job. Higher values are served first.
type Priority uint8

const (
	// Background is used for precautionary preparation and prechecking.
	Background Priority = iota
	// Approval is used by approval checking.
	Approval
	// Backing is used by candidate backing.
	Backing
	// Dispute is used by dispute participation.
	Dispute
)

func (p Priority) String() string {
	switch p {
	case Background:
		return "background"
	case Approval:
		return "approval"
	case Backing:
		return "backing"
	case Dispute:
		return "dispute"
	default:
		return "unknown"
	}
}

// IsCritical returns true if a job of this priority is needed by an execution.
func (p Priority) IsCritical() bool {
	return p != Background
}

// PrepareKind distinguishes prechecking from preparation for execution.
type PrepareKind uint8

const (
	// Precheck compiles code to decide whether it is acceptable.
	Precheck PrepareKind = iota
	// Prepare compiles code in order to execute it.
	Prepare
)

func (k PrepareKind) String() string {
	if k == Precheck {
		return "precheck"
	}
	return "prepare"
}
