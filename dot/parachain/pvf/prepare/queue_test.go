// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package prepare

import (
	"testing"

	parachaintypes "github.com/ChainSafe/gossamer-pvf/dot/parachain/types"
	"github.com/stretchr/testify/assert"
)

func Test_queue_amend(t *testing.T) {
	t.Parallel()

	q := newQueue()
	q.push(testJob(1, parachaintypes.Approval))
	q.push(testJob(2, parachaintypes.Background))
	q.push(testJob(3, parachaintypes.Background))
	assert.True(t, q.hasCritical())

	// lowering is ignored
	assert.True(t, q.amend(testJob(1, 0).ArtifactID, parachaintypes.Background))
	assert.True(t, q.amend(testJob(3, 0).ArtifactID, parachaintypes.Approval))
	assert.False(t, q.amend(testJob(4, 0).ArtifactID, parachaintypes.Dispute))

	var order []byte
	for _, job := range q.drain() {
		order = append(order, job.Code[0])
	}
	assert.Equal(t, []byte{1, 3, 2}, order)
	assert.Equal(t, 0, q.len())
	assert.False(t, q.contains(testJob(1, 0).ArtifactID))
	assert.False(t, q.hasCritical())
}
