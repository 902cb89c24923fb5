// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

// Package pvftest provides in-memory pools and a capturing metrics
// collector to test code built on the validation host.
package pvftest

import (
	"sync"
	"time"

	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/artifacts"
	pvfcommon "github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/common"
	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/execute"
	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/prepare"
	parachaintypes "github.com/ChainSafe/gossamer-pvf/dot/parachain/types"
)

// Fingerprint is the fingerprint of artifacts written by WriteArtifact.
const Fingerprint = "pvftest"

// Metrics counts observations.
type Metrics struct {
	mutex                sync.Mutex
	preparationsEnqueued int
	preparationsStarted  int
	executionsEnqueued   int
	verdicts             map[string]int
	busy                 int
	pruned               int
}

var _ pvfcommon.Metrics = (*Metrics)(nil)

func (m *Metrics) PreparationEnqueued() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.preparationsEnqueued++
}

func (m *Metrics) PreparationStarted() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.preparationsStarted++
}

func (*Metrics) PreparationFinished(time.Duration, *pvfcommon.PrepareError) {}

func (m *Metrics) ExecutionEnqueued() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.executionsEnqueued++
}

func (m *Metrics) ExecutionFinished(_ time.Duration, verdict string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.verdicts == nil {
		m.verdicts = make(map[string]int)
	}
	m.verdicts[verdict]++
}

func (*Metrics) WorkerSpawned(string)           {}
func (*Metrics) WorkerRetired(string, string)   {}
func (*Metrics) PoolOccupancy(string, int, int) {}

func (m *Metrics) ArtifactsPruned(count int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.pruned += count
}

func (m *Metrics) HostBusy() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.busy++
}

// PreparationsEnqueued returns the number of preparation jobs queued.
func (m *Metrics) PreparationsEnqueued() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.preparationsEnqueued
}

// ExecutionsEnqueued returns the number of execution jobs queued.
func (m *Metrics) ExecutionsEnqueued() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.executionsEnqueued
}

// BusyRejections returns the number of requests rejected as busy.
func (m *Metrics) BusyRejections() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.busy
}

// Pruned returns the number of artifacts pruned.
func (m *Metrics) Pruned() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.pruned
}

// Amendment is a recorded PreparePool.Amend call.
type Amendment struct {
	ArtifactID pvfcommon.ArtifactID
	Priority   parachaintypes.Priority
}

// PreparePool records submitted jobs. If Prepare is set, each job is
// completed asynchronously with its result, otherwise outcomes are sent
// with Complete.
type PreparePool struct {
	Prepare   func(job prepare.Job) prepare.Outcome
	SubmitErr error

	mutex      sync.Mutex
	jobs       []prepare.Job
	amendments []Amendment
	outcomes   chan prepare.Outcome
}

// NewPreparePool returns a pool completing jobs with prepareFn, which may be nil.
func NewPreparePool(prepareFn func(job prepare.Job) prepare.Outcome) *PreparePool {
	return &PreparePool{
		Prepare:  prepareFn,
		outcomes: make(chan prepare.Outcome, 64),
	}
}

func (p *PreparePool) Submit(job prepare.Job) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.SubmitErr != nil {
		return p.SubmitErr
	}
	p.jobs = append(p.jobs, job)
	if p.Prepare != nil {
		go func() { p.Complete(p.Prepare(job)) }()
	}
	return nil
}

func (p *PreparePool) Amend(id pvfcommon.ArtifactID, priority parachaintypes.Priority) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.amendments = append(p.amendments, Amendment{ArtifactID: id, Priority: priority})
	return true
}

func (p *PreparePool) Outcomes() <-chan prepare.Outcome { return p.outcomes }
func (*PreparePool) Start()                             {}
func (*PreparePool) Stop()                              {}

// Complete sends an outcome as if a job finished.
func (p *PreparePool) Complete(outcome prepare.Outcome) {
	p.outcomes <- outcome
}

// Jobs returns the submitted jobs.
func (p *PreparePool) Jobs() []prepare.Job {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]prepare.Job(nil), p.jobs...)
}

// Amendments returns the recorded priority amendments.
func (p *PreparePool) Amendments() []Amendment {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]Amendment(nil), p.amendments...)
}

// WriteArtifact prepares a job by writing its code as the artifact payload.
func WriteArtifact(job prepare.Job) prepare.Outcome {
	outcome := prepare.Outcome{ArtifactID: job.ArtifactID}
	size, err := artifacts.WriteArtifact(job.OutputPath, job.ArtifactID, Fingerprint, job.Code)
	if err != nil {
		outcome.Err = pvfcommon.NewPrepareError(pvfcommon.PrepareIoFailure, "%s", err)
		return outcome
	}
	outcome.Path = job.OutputPath
	outcome.Size = size
	return outcome
}

// ExecutePool records submitted jobs, completing them like PreparePool.
type ExecutePool struct {
	Execute   func(job execute.Job) execute.Outcome
	SubmitErr error

	mutex     sync.Mutex
	jobs      []execute.Job
	cancelled []uint64
	outcomes  chan execute.Outcome
}

// NewExecutePool returns a pool completing jobs with executeFn, which may be nil.
func NewExecutePool(executeFn func(job execute.Job) execute.Outcome) *ExecutePool {
	return &ExecutePool{
		Execute:  executeFn,
		outcomes: make(chan execute.Outcome, 64),
	}
}

func (p *ExecutePool) Submit(job execute.Job) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.SubmitErr != nil {
		return p.SubmitErr
	}
	p.jobs = append(p.jobs, job)
	if p.Execute != nil {
		go func() { p.Complete(p.Execute(job)) }()
	}
	return nil
}

func (p *ExecutePool) Cancel(tag uint64) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.cancelled = append(p.cancelled, tag)
}

func (p *ExecutePool) Outcomes() <-chan execute.Outcome { return p.outcomes }
func (*ExecutePool) Start()                             {}
func (*ExecutePool) Stop()                              {}

// Cancelled returns the tags of the cancelled jobs.
func (p *ExecutePool) Cancelled() []uint64 {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]uint64(nil), p.cancelled...)
}

// Complete sends an outcome as if a job finished.
func (p *ExecutePool) Complete(outcome execute.Outcome) {
	p.outcomes <- outcome
}

// Jobs returns the submitted jobs.
func (p *ExecutePool) Jobs() []execute.Job {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]execute.Job(nil), p.jobs...)
}

// EchoHead executes a job by returning its parent head as the new head.
func EchoHead(job execute.Job) execute.Outcome {
	return execute.Outcome{
		Job: job,
		Verdict: pvfcommon.Verdict{Result: &parachaintypes.ValidationResult{
			HeadData: job.Params.ParentHeadData,
		}},
	}
}
