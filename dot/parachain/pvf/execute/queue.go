// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package execute

import (
	parachaintypes "github.com/ChainSafe/gossamer-pvf/dot/parachain/types"
	"github.com/google/btree"
)

type queuedJob struct {
	job      Job
	sequence uint64
}

func jobLess(a, b *queuedJob) bool {
	if a.job.Priority != b.job.Priority {
		return a.job.Priority > b.job.Priority
	}
	return a.sequence < b.sequence
}

// queue orders jobs by priority then arrival. After maxConsecutive
// dispatches of a higher priority while lower priority jobs wait, the
// oldest lower priority job is dispatched next.
type queue struct {
	tree           *btree.BTreeG[*queuedJob]
	sequence       uint64
	maxConsecutive int
	consecutive    int
}

func newQueue(maxConsecutive int) *queue {
	return &queue{
		tree:           btree.NewG(2, jobLess),
		maxConsecutive: maxConsecutive,
	}
}

func (q *queue) len() int { return q.tree.Len() }

func (q *queue) push(job Job) {
	q.sequence++
	q.tree.ReplaceOrInsert(&queuedJob{job: job, sequence: q.sequence})
}

func (q *queue) pop() (job Job, ok bool) {
	top, ok := q.tree.Min()
	if !ok {
		return job, false
	}
	bottom, _ := q.tree.Max()
	starving := bottom.job.Priority < top.job.Priority

	if starving && q.maxConsecutive > 0 && q.consecutive >= q.maxConsecutive {
		oldest := q.oldestBelow(top.job.Priority)
		q.tree.Delete(oldest)
		q.consecutive = 0
		return oldest.job, true
	}

	q.tree.Delete(top)
	if starving {
		q.consecutive++
	} else {
		q.consecutive = 0
	}
	return top.job, true
}

// oldestBelow returns the earliest queued job with a priority lower than
// priority. At least one such job must be queued.
func (q *queue) oldestBelow(priority parachaintypes.Priority) (oldest *queuedJob) {
	q.tree.Ascend(func(item *queuedJob) bool {
		if item.job.Priority < priority && (oldest == nil || item.sequence < oldest.sequence) {
			oldest = item
		}
		return true
	})
	return oldest
}

// remove deletes the queued job with the tag, if any.
func (q *queue) remove(tag uint64) bool {
	var found *queuedJob
	q.tree.Ascend(func(item *queuedJob) bool {
		if item.job.Tag == tag {
			found = item
			return false
		}
		return true
	})
	if found == nil {
		return false
	}
	q.tree.Delete(found)
	return true
}

func (q *queue) drain() []Job {
	jobs := make([]Job, 0, q.tree.Len())
	for {
		item, ok := q.tree.DeleteMin()
		if !ok {
			return jobs
		}
		jobs = append(jobs, item.job)
	}
}
