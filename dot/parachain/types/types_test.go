// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package parachaintypes

import (
	"math"
	"testing"
	"time"

	"github.com/ChainSafe/gossamer/pkg/scale"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ValidationCode_Hash(t *testing.T) {
	t.Parallel()

	code := ValidationCode{1, 2, 3}

	assert.Equal(t, code.Hash(), ValidationCode{1, 2, 3}.Hash())
	assert.NotEqual(t, code.Hash(), ValidationCode{1, 2, 4}.Hash())
}

func Test_ExecutorParams_Hash(t *testing.T) {
	t.Parallel()

	pages := uint32(32)
	otherPages := uint32(64)

	testCases := map[string]struct {
		a, b  ExecutorParams
		equal bool
	}{
		"both_empty": {
			equal: true,
		},
		"same_values": {
			a:     ExecutorParams{MaxMemoryPages: &pages},
			b:     ExecutorParams{MaxMemoryPages: &pages},
			equal: true,
		},
		"set_and_unset": {
			a: ExecutorParams{MaxMemoryPages: &pages},
		},
		"different_values": {
			a: ExecutorParams{MaxMemoryPages: &pages},
			b: ExecutorParams{MaxMemoryPages: &otherPages},
		},
		"different_flag": {
			a: ExecutorParams{DisableBulkMemory: true},
		},
	}

	for name, testCase := range testCases {
		testCase := testCase
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			hashA, err := testCase.a.Hash()
			require.NoError(t, err)
			hashB, err := testCase.b.Hash()
			require.NoError(t, err)

			if testCase.equal {
				assert.Equal(t, hashA, hashB)
			} else {
				assert.NotEqual(t, hashA, hashB)
			}
		})
	}
}

func Test_ExecutorParams_timeouts(t *testing.T) {
	t.Parallel()

	precheck := uint64(1500)
	backing := uint64(2000)
	params := ExecutorParams{
		PrecheckTimeoutMillis: &precheck,
		BackingTimeoutMillis:  &backing,
	}

	timeout, err := params.PrepareTimeout(Precheck, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, timeout)

	timeout, err = params.PrepareTimeout(Prepare, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, timeout)

	timeout, err = params.ExecuteTimeout(Backing, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, timeout)

	for _, priority := range []Priority{Approval, Dispute} {
		timeout, err = params.ExecuteTimeout(priority, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, time.Hour, timeout)
	}

	assert.Equal(t, uint32(7), params.MemoryPages(7))
	assert.NoError(t, params.Validate())
}

func Test_ExecutorParams_invalidTimeouts(t *testing.T) {
	t.Parallel()

	zero := uint64(0)
	huge := uint64(math.MaxUint64)
	aboveMax := uint64(MaxTimeout.Milliseconds()) + 1

	testCases := map[string]struct {
		params  ExecutorParams
		timeout func(ExecutorParams) (time.Duration, error)
	}{
		"zero_approval": {
			params: ExecutorParams{ApprovalTimeoutMillis: &zero},
			timeout: func(p ExecutorParams) (time.Duration, error) {
				return p.ExecuteTimeout(Dispute, time.Minute)
			},
		},
		"zero_backing": {
			params: ExecutorParams{BackingTimeoutMillis: &zero},
			timeout: func(p ExecutorParams) (time.Duration, error) {
				return p.ExecuteTimeout(Backing, time.Minute)
			},
		},
		"zero_precheck": {
			params: ExecutorParams{PrecheckTimeoutMillis: &zero},
			timeout: func(p ExecutorParams) (time.Duration, error) {
				return p.PrepareTimeout(Precheck, time.Minute)
			},
		},
		"overflowing_prepare": {
			params: ExecutorParams{PrepareTimeoutMillis: &huge},
			timeout: func(p ExecutorParams) (time.Duration, error) {
				return p.PrepareTimeout(Prepare, time.Minute)
			},
		},
		"overflowing_approval": {
			params: ExecutorParams{ApprovalTimeoutMillis: &huge},
			timeout: func(p ExecutorParams) (time.Duration, error) {
				return p.ExecuteTimeout(Approval, time.Minute)
			},
		},
		"above_max_backing": {
			params: ExecutorParams{BackingTimeoutMillis: &aboveMax},
			timeout: func(p ExecutorParams) (time.Duration, error) {
				return p.ExecuteTimeout(Backing, time.Minute)
			},
		},
	}

	for name, testCase := range testCases {
		testCase := testCase
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			timeout, err := testCase.timeout(testCase.params)

			assert.ErrorIs(t, err, ErrInvalidTimeout)
			assert.Zero(t, timeout)
			assert.ErrorIs(t, testCase.params.Validate(), ErrInvalidTimeout)
		})
	}
}

func Test_ValidationResult_decode(t *testing.T) {
	t.Parallel()

	// head data {0xab}, no new code, no messages, 0 processed, watermark 1
	encoded := []byte{4, 0xab, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0}

	var result ValidationResult
	err := scale.Unmarshal(encoded, &result)
	require.NoError(t, err)

	assert.Equal(t, HeadData{Data: []byte{0xab}}, result.HeadData)
	assert.Nil(t, result.NewValidationCode)
	assert.Empty(t, result.UpwardMessages)
	assert.Empty(t, result.HorizontalMessages)
	assert.Equal(t, uint32(0), result.ProcessedDownwardMessages)
	assert.Equal(t, uint32(1), result.HrmpWatermark)
}
