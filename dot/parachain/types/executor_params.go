// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package parachaintypes

import (
	"errors"
	"fmt"
	"time"

	"github.com/ChainSafe/gossamer/lib/common"
	"github.com/ChainSafe/gossamer/pkg/scale"
)

// ExecutorParams are the per-session parameters of the PVF executor.
// Unset fields fall back to the host defaults.
type ExecutorParams struct {
	// MaxMemoryPages caps the number of 64KiB wasm memory pages.
	MaxMemoryPages *uint32 `scale:"1"`
	// PrecheckingMaxMemory caps the worker resident memory while prechecking, in bytes.
	PrecheckingMaxMemory *uint64 `scale:"2"`
	// PrecheckTimeoutMillis is the CPU time budget of a precheck preparation.
	PrecheckTimeoutMillis *uint64 `scale:"3"`
	// PrepareTimeoutMillis is the CPU time budget of a preparation for execution.
	PrepareTimeoutMillis *uint64 `scale:"4"`
	// BackingTimeoutMillis is the execution deadline for backing.
	BackingTimeoutMillis *uint64 `scale:"5"`
	// ApprovalTimeoutMillis is the execution deadline for approval and disputes.
	ApprovalTimeoutMillis *uint64 `scale:"6"`
	// DisableBulkMemory restricts compilation to the wasm 1.0 feature set.
	DisableBulkMemory bool `scale:"7"`
}

// ExecutorParamsHash is the blake2b-256 hash of the SCALE encoded executor params.
type ExecutorParamsHash common.Hash

// String returns the hex representation of the hash.
func (h ExecutorParamsHash) String() string {
	return common.Hash(h).String()
}

// Hash returns the hash identifying this parameter set.
func (ep ExecutorParams) Hash() (ExecutorParamsHash, error) {
	encoded, err := scale.Marshal(ep)
	if err != nil {
		return ExecutorParamsHash{}, fmt.Errorf("encoding executor params: %w", err)
	}
	hash, err := common.Blake2bHash(encoded)
	if err != nil {
		return ExecutorParamsHash{}, fmt.Errorf("hashing executor params: %w", err)
	}
	return ExecutorParamsHash(hash), nil
}

// MemoryPages returns the wasm memory page limit, or defaultPages if unset.
func (ep ExecutorParams) MemoryPages(defaultPages uint32) uint32 {
	if ep.MaxMemoryPages == nil {
		return defaultPages
	}
	return *ep.MaxMemoryPages
}

// MaxTimeout bounds every timeout taken from executor params.
const MaxTimeout = time.Hour

// ErrInvalidTimeout is returned for a timeout which is zero or above MaxTimeout.
var ErrInvalidTimeout = errors.New("invalid executor timeout")

// PrepareTimeout returns the CPU time budget for the preparation kind.
func (ep ExecutorParams) PrepareTimeout(kind PrepareKind, defaultTimeout time.Duration) (
	time.Duration, error) {
	if kind == Precheck {
		return timeoutFromMillis("precheck", ep.PrecheckTimeoutMillis, defaultTimeout)
	}
	return timeoutFromMillis("prepare", ep.PrepareTimeoutMillis, defaultTimeout)
}

// ExecuteTimeout returns the execution deadline for the priority class.
func (ep ExecutorParams) ExecuteTimeout(priority Priority, defaultTimeout time.Duration) (
	time.Duration, error) {
	if priority == Backing {
		return timeoutFromMillis("backing", ep.BackingTimeoutMillis, defaultTimeout)
	}
	return timeoutFromMillis("approval", ep.ApprovalTimeoutMillis, defaultTimeout)
}

// Validate checks every timeout set in the params.
func (ep ExecutorParams) Validate() error {
	if _, err := ep.PrepareTimeout(Precheck, time.Second); err != nil {
		return err
	}
	if _, err := ep.PrepareTimeout(Prepare, time.Second); err != nil {
		return err
	}
	if _, err := ep.ExecuteTimeout(Backing, time.Second); err != nil {
		return err
	}
	_, err := ep.ExecuteTimeout(Approval, time.Second)
	return err
}

func timeoutFromMillis(name string, millis *uint64, defaultTimeout time.Duration) (time.Duration, error) {
	if millis == nil {
		return defaultTimeout, nil
	}
	// compared in milliseconds so huge values cannot overflow
	if *millis == 0 || *millis > uint64(MaxTimeout.Milliseconds()) {
		return 0, fmt.Errorf("%w: %s timeout of %dms", ErrInvalidTimeout, name, *millis)
	}
	return time.Duration(*millis) * time.Millisecond, nil
}
