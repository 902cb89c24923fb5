// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package execute

import (
	"testing"

	parachaintypes "github.com/ChainSafe/gossamer-pvf/dot/parachain/types"
	"github.com/stretchr/testify/assert"
)

func Test_queue_pop(t *testing.T) {
	t.Parallel()

	jobs := []Job{
		{Tag: 1, Priority: parachaintypes.Backing},
		{Tag: 2, Priority: parachaintypes.Approval},
		{Tag: 3, Priority: parachaintypes.Backing},
		{Tag: 4, Priority: parachaintypes.Backing},
		{Tag: 5, Priority: parachaintypes.Backing},
		{Tag: 6, Priority: parachaintypes.Background},
	}

	testCases := map[string]struct {
		maxConsecutive int
		order          []uint64
	}{
		"no_starvation_guard": {
			order: []uint64{1, 3, 4, 5, 2, 6},
		},
		"starvation_guard": {
			maxConsecutive: 2,
			order:          []uint64{1, 3, 2, 4, 5, 6},
		},
		"guard_above_queue_length": {
			maxConsecutive: 10,
			order:          []uint64{1, 3, 4, 5, 2, 6},
		},
	}

	for name, testCase := range testCases {
		testCase := testCase
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			q := newQueue(testCase.maxConsecutive)
			for _, job := range jobs {
				q.push(job)
			}

			var order []uint64
			for {
				job, ok := q.pop()
				if !ok {
					break
				}
				order = append(order, job.Tag)
			}

			assert.Equal(t, testCase.order, order)
			assert.Equal(t, 0, q.len())
		})
	}
}

func Test_queue_starvationGuardPicksOldestLowerJob(t *testing.T) {
	t.Parallel()

	q := newQueue(1)
	q.push(Job{Tag: 1, Priority: parachaintypes.Dispute})
	q.push(Job{Tag: 2, Priority: parachaintypes.Background})
	q.push(Job{Tag: 3, Priority: parachaintypes.Approval})
	q.push(Job{Tag: 4, Priority: parachaintypes.Dispute})

	var order []uint64
	for q.len() > 0 {
		job, _ := q.pop()
		order = append(order, job.Tag)
	}

	// the background job arrived before the approval job
	assert.Equal(t, []uint64{1, 2, 4, 3}, order)
}

func Test_queue_remove(t *testing.T) {
	t.Parallel()

	q := newQueue(0)
	q.push(Job{Tag: 1, Priority: parachaintypes.Approval})
	q.push(Job{Tag: 2, Priority: parachaintypes.Backing})
	q.push(Job{Tag: 3, Priority: parachaintypes.Approval})

	assert.True(t, q.remove(1))
	assert.False(t, q.remove(1))
	assert.False(t, q.remove(9))

	var order []uint64
	for q.len() > 0 {
		job, _ := q.pop()
		order = append(order, job.Tag)
	}
	assert.Equal(t, []uint64{2, 3}, order)
}
