// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package wasm

import (
	"errors"
	"fmt"
	"math"
	"math/bits"

	"github.com/tetratelabs/wazero/api"
)

const (
	// every allocation is prefixed with an 8 bytes header holding
	// either its order (occupied) or the next free header (free)
	allocationHeaderSize = 8
	minAllocation        = 8
	maxAllocation        = 1 << 25
	numOrders            = 23
	pageSize             = 65536

	occupiedMask = uint64(1) << 32
	nilMarker    = math.MaxUint32
)

var (
	ErrAllocationTooLarge  = errors.New("requested allocation too large")
	ErrAllocatorOutOfSpace = errors.New("allocator out of space")
	ErrInvalidPointer      = errors.New("invalid pointer for deallocation")
)

// allocator is a freeing bump allocator over the instance linear memory,
// serving power of two sized blocks from 8 bytes to 32MiB. Freed blocks
// go to a free list per order and are reused before bumping.
type allocator struct {
	memory   api.Memory
	heapBase uint32
	bumper   uint32
	heads    [numOrders]uint32
}

func newAllocator(memory api.Memory, heapBase uint32) *allocator {
	a := &allocator{
		memory:   memory,
		heapBase: heapBase,
		bumper:   alignUp(heapBase),
	}
	for i := range a.heads {
		a.heads[i] = nilMarker
	}
	return a
}

func alignUp(n uint32) uint32 {
	const alignment = 8
	return (n + alignment - 1) &^ (alignment - 1)
}

func orderFromSize(size uint32) (order uint32, err error) {
	if size > maxAllocation {
		return 0, fmt.Errorf("%w: %d bytes", ErrAllocationTooLarge, size)
	}
	if size < minAllocation {
		size = minAllocation
	}
	// round up to the next power of two
	powerOfTwo := uint32(1) << (32 - bits.LeadingZeros32(size-1))
	return uint32(bits.TrailingZeros32(powerOfTwo) - bits.TrailingZeros32(minAllocation)), nil
}

func (a *allocator) allocate(size uint32) (pointer uint32, err error) {
	order, err := orderFromSize(size)
	if err != nil {
		return 0, err
	}

	headerPtr := a.heads[order]
	if headerPtr != nilMarker {
		next, ok := a.memory.ReadUint64Le(headerPtr)
		if !ok {
			return 0, fmt.Errorf("%w: corrupt free list at %d", ErrAllocatorOutOfSpace, headerPtr)
		}
		a.heads[order] = uint32(next)
	} else {
		headerPtr, err = a.bump(allocationHeaderSize + minAllocation<<order)
		if err != nil {
			return 0, err
		}
	}

	if !a.memory.WriteUint64Le(headerPtr, occupiedMask|uint64(order)) {
		return 0, fmt.Errorf("%w: writing header at %d", ErrAllocatorOutOfSpace, headerPtr)
	}
	return headerPtr + allocationHeaderSize, nil
}

func (a *allocator) bump(size uint32) (headerPtr uint32, err error) {
	end := uint64(a.bumper) + uint64(size)
	if end > math.MaxUint32 {
		return 0, ErrAllocatorOutOfSpace
	}

	if current := uint64(a.memory.Size()); end > current {
		pages := uint32((end - current + pageSize - 1) / pageSize)
		if _, ok := a.memory.Grow(pages); !ok {
			return 0, fmt.Errorf("%w: cannot grow memory by %d pages", ErrAllocatorOutOfSpace, pages)
		}
	}

	headerPtr = a.bumper
	a.bumper = uint32(end)
	return headerPtr, nil
}

func (a *allocator) deallocate(pointer uint32) error {
	if pointer < a.heapBase+allocationHeaderSize || pointer >= a.bumper {
		return fmt.Errorf("%w: %d", ErrInvalidPointer, pointer)
	}
	headerPtr := pointer - allocationHeaderSize

	header, ok := a.memory.ReadUint64Le(headerPtr)
	if !ok || header&occupiedMask == 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPointer, pointer)
	}
	order := uint32(header)
	if order >= numOrders {
		return fmt.Errorf("%w: %d has order %d", ErrInvalidPointer, pointer, order)
	}

	if !a.memory.WriteUint64Le(headerPtr, uint64(a.heads[order])) {
		return fmt.Errorf("%w: %d", ErrInvalidPointer, pointer)
	}
	a.heads[order] = headerPtr
	return nil
}
