// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package parachaintypes

import (
	"errors"

	"github.com/ChainSafe/gossamer/lib/common"
)

// ErrUnknownOverseerMessage is returned for messages and signals no
// subsystem is registered for.
var ErrUnknownOverseerMessage = errors.New("unknown overseer message type")

// ActivatedLeaf is a relay chain block that became a leaf.
type ActivatedLeaf struct {
	Hash   common.Hash
	Number uint32
}

// ActiveLeavesUpdateSignal carries the leaves added and removed since the
// previous update.
type ActiveLeavesUpdateSignal struct {
	Activated   *ActivatedLeaf
	Deactivated []common.Hash
}

// BlockFinalizedSignal announces a finalized relay chain block.
type BlockFinalizedSignal struct {
	Hash        common.Hash
	BlockNumber uint32
}

// OverseerFuncRes is sent back on the response channel of a request message.
// Err is set when Data could not be produced.
type OverseerFuncRes[T any] struct {
	Err  error
	Data T
}
