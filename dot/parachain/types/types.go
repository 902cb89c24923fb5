// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package parachaintypes

import (
	"fmt"

	"github.com/ChainSafe/gossamer/lib/common"
	"github.com/ChainSafe/gossamer/pkg/scale"
)

// ParaID is the identifier of a parachain.
type ParaID uint32

// SessionIndex is the index of a relay chain session.
type SessionIndex uint32

// ValidationCode is the parachain validation function (PVF) wasm blob,
// possibly zstd compressed.
type ValidationCode []byte

// Hash returns the blake2b-256 hash of the validation code.
func (vc ValidationCode) Hash() ValidationCodeHash {
	return ValidationCodeHash(common.MustBlake2bHash(vc))
}

// ValidationCodeHash is the blake2b-256 hash of the validation code.
type ValidationCodeHash common.Hash

// String returns the hex representation of the hash.
func (vch ValidationCodeHash) String() string {
	return common.Hash(vch).String()
}

// HeadData is parachain head data.
type HeadData struct {
	Data []byte
}

// Hash returns the blake2b-256 hash of the head data bytes.
func (hd HeadData) Hash() (common.Hash, error) {
	return common.Blake2bHash(hd.Data)
}

// BlockData represents parachain block data.
// It contains everything required to validate para-block, may contain block and witness data.
type BlockData []byte

// PoV represents a Proof-of-Validity block (PoV block) or a parachain block.
type PoV struct {
	BlockData BlockData `scale:"1"`
}

// Hash returns the blake2b-256 hash of the SCALE encoded PoV.
func (pov PoV) Hash() (common.Hash, error) {
	encoded, err := scale.Marshal(pov)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encoding PoV: %w", err)
	}
	return common.Blake2bHash(encoded)
}

// PersistedValidationData provides information about how to create the inputs for the validation
// of a candidate.
type PersistedValidationData struct {
	// The parent head-data
	ParentHead HeadData `scale:"1"`

	// The relay-chain block number this is in the context of
	RelayParentNumber uint32 `scale:"2"`

	// The relay-chain block storage root this is in the context of
	RelayParentStorageRoot common.Hash `scale:"3"`

	// The maximum legal size of a POV block, in bytes
	MaxPovSize uint32 `scale:"4"`
}

// CandidateDescriptor is the unique descriptor of a candidate receipt.
type CandidateDescriptor struct {
	ParaID             ParaID             `scale:"1"`
	RelayParent        common.Hash        `scale:"2"`
	PovHash            common.Hash        `scale:"3"`
	ParaHead           common.Hash        `scale:"4"`
	ValidationCodeHash ValidationCodeHash `scale:"5"`
}

// CandidateReceipt is a receipt for a parachain candidate.
type CandidateReceipt struct {
	Descriptor      CandidateDescriptor `scale:"1"`
	CommitmentsHash common.Hash         `scale:"2"`
}

// UpwardMessage is a message from a parachain to its relay chain.
type UpwardMessage []byte

// OutboundHrmpMessage is an HRMP message sent to another parachain.
type OutboundHrmpMessage struct {
	Recipient uint32 `scale:"1"`
	Data      []byte `scale:"2"`
}

// ValidationParameters contains parameters for evaluating the parachain validity function.
type ValidationParameters struct {
	// Previous head-data.
	ParentHeadData HeadData `scale:"1"`
	// The collation body.
	BlockData BlockData `scale:"2"`
	// The current relay-chain block number.
	RelayParentNumber uint32 `scale:"3"`
	// The relay-chain block's storage root.
	RelayParentStorageRoot common.Hash `scale:"4"`
}

// ValidationResult is result received from validate_block.
type ValidationResult struct {
	// The head-data is the new head data that should be included in the relay chain state.
	HeadData HeadData `scale:"1"`
	// NewValidationCode is an update to the validation code that should be scheduled in the relay chain.
	NewValidationCode *ValidationCode `scale:"2"`
	// UpwardMessages are upward messages send by the Parachain.
	UpwardMessages []UpwardMessage `scale:"3"`
	// HorizontalMessages are Outbound horizontal messages sent by the parachain.
	HorizontalMessages []OutboundHrmpMessage `scale:"4"`
	// The number of messages processed from the DMQ.
	ProcessedDownwardMessages uint32 `scale:"5"`
	// The mark which specifies the block number up to which all inbound HRMP messages are processed.
	HrmpWatermark uint32 `scale:"6"`
}
