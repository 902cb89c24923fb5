// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package prepare

import (
	pvfcommon "github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/common"
	parachaintypes "github.com/ChainSafe/gossamer-pvf/dot/parachain/types"
	"github.com/google/btree"
)

type queuedJob struct {
	job      Job
	sequence uint64
}

// jobLess orders jobs by priority, highest first, then by arrival.
func jobLess(a, b *queuedJob) bool {
	if a.job.Priority != b.job.Priority {
		return a.job.Priority > b.job.Priority
	}
	return a.sequence < b.sequence
}

// queue holds jobs waiting for a worker. At most one job per artifact is
// queued.
type queue struct {
	tree     *btree.BTreeG[*queuedJob]
	byID     map[pvfcommon.ArtifactID]*queuedJob
	sequence uint64
}

func newQueue() *queue {
	return &queue{
		tree: btree.NewG(2, jobLess),
		byID: make(map[pvfcommon.ArtifactID]*queuedJob),
	}
}

func (q *queue) len() int { return q.tree.Len() }

func (q *queue) contains(id pvfcommon.ArtifactID) bool {
	_, ok := q.byID[id]
	return ok
}

func (q *queue) push(job Job) {
	q.sequence++
	item := &queuedJob{job: job, sequence: q.sequence}
	q.tree.ReplaceOrInsert(item)
	q.byID[job.ArtifactID] = item
}

// peek returns the next job without removing it.
func (q *queue) peek() (job Job, ok bool) {
	item, ok := q.tree.Min()
	if !ok {
		return job, false
	}
	return item.job, true
}

func (q *queue) pop() (job Job, ok bool) {
	item, ok := q.tree.DeleteMin()
	if !ok {
		return job, false
	}
	delete(q.byID, item.job.ArtifactID)
	return item.job, true
}

// hasCritical returns true if a job needed by an execution is waiting.
func (q *queue) hasCritical() bool {
	job, ok := q.peek()
	return ok && job.Priority.IsCritical()
}

// amend raises the priority of a queued job, keeping its arrival order.
// It returns false if the job is not queued.
func (q *queue) amend(id pvfcommon.ArtifactID, priority parachaintypes.Priority) bool {
	item, ok := q.byID[id]
	if !ok {
		return false
	}
	if priority <= item.job.Priority {
		return true
	}
	q.tree.Delete(item)
	item.job.Priority = priority
	q.tree.ReplaceOrInsert(item)
	return true
}

// drain removes and returns every queued job.
func (q *queue) drain() []Job {
	jobs := make([]Job, 0, q.tree.Len())
	for {
		job, ok := q.pop()
		if !ok {
			return jobs
		}
		jobs = append(jobs, job)
	}
}
