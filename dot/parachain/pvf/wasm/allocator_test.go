// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package wasm

import (
	"context"
	"testing"

	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/wasm/wasmtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

func newTestMemory(t *testing.T) api.Memory {
	t.Helper()
	ctx := context.Background()

	runtime := wazero.NewRuntime(ctx)
	t.Cleanup(func() { _ = runtime.Close(ctx) })

	module, err := runtime.InstantiateWithConfig(ctx, wasmtest.Trap,
		wazero.NewModuleConfig().WithStartFunctions())
	require.NoError(t, err)
	return module.Memory()
}

func Test_orderFromSize(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		size       uint32
		order      uint32
		errWrapped error
	}{
		"zero":            {size: 0, order: 0},
		"minimum":         {size: 8, order: 0},
		"nine":            {size: 9, order: 1},
		"power_of_two":    {size: 1024, order: 7},
		"maximum":         {size: maxAllocation, order: numOrders - 1},
		"above_maximum":   {size: maxAllocation + 1, errWrapped: ErrAllocationTooLarge},
		"just_above_page": {size: pageSize + 1, order: 14},
	}

	for name, testCase := range testCases {
		testCase := testCase
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			order, err := orderFromSize(testCase.size)

			assert.ErrorIs(t, err, testCase.errWrapped)
			assert.Equal(t, testCase.order, order)
		})
	}
}

func Test_allocator(t *testing.T) {
	t.Parallel()

	memory := newTestMemory(t)
	a := newAllocator(memory, wasmtest.HeapBase+1)

	first, err := a.allocate(10)
	require.NoError(t, err)
	// heap base aligned to 8 plus the header
	assert.Equal(t, uint32(wasmtest.HeapBase+8+allocationHeaderSize), first)

	second, err := a.allocate(10)
	require.NoError(t, err)
	assert.Equal(t, first+16+allocationHeaderSize, second)

	require.NoError(t, a.deallocate(first))
	assert.ErrorIs(t, a.deallocate(first), ErrInvalidPointer)

	reused, err := a.allocate(16)
	require.NoError(t, err)
	assert.Equal(t, first, reused)

	assert.ErrorIs(t, a.deallocate(12), ErrInvalidPointer)
}

func Test_allocator_growsMemory(t *testing.T) {
	t.Parallel()

	memory := newTestMemory(t)
	sizeBefore := memory.Size()
	a := newAllocator(memory, wasmtest.HeapBase)

	pointer, err := a.allocate(2 * pageSize)
	require.NoError(t, err)

	assert.Greater(t, memory.Size(), sizeBefore)
	assert.True(t, memory.Write(pointer+2*pageSize-1, []byte{1}))
}
