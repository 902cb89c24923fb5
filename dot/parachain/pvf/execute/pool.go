// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

// Package execute runs validation jobs against prepared artifacts on a
// bounded set of execute workers.
package execute

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pvfcommon "github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/common"
	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/worker"
	parachaintypes "github.com/ChainSafe/gossamer-pvf/dot/parachain/types"
	"github.com/ChainSafe/gossamer-pvf/internal/log"
)

var logger = log.NewFromGlobal(log.AddContext("pkg", "pvf-execute"))

// Job is one run of validate_block against a prepared artifact.
type Job struct {
	// Tag identifies the request the job belongs to.
	Tag            uint64
	ArtifactID     pvfcommon.ArtifactID
	ArtifactPath   string
	Params         parachaintypes.ValidationParameters
	MaxPoVSize     uint32
	ExecutorParams parachaintypes.ExecutorParams
	Priority       parachaintypes.Priority
	// Timeout is the soft deadline enforced by the worker.
	Timeout time.Duration
	// Attempt counts the retries of the request, starting at zero.
	Attempt int
}

// Outcome is the result of a Job. Err is set for failures which say
// nothing about the candidate, Verdict otherwise.
type Outcome struct {
	Job     Job
	Verdict pvfcommon.Verdict
	Err     *pvfcommon.ExecuteError
	Elapsed time.Duration
}

// Config is the pool configuration.
type Config struct {
	// Capacity bounds the execute workers.
	Capacity int
	// QueueCapacity bounds the jobs waiting for a worker.
	QueueCapacity int
	// MaxJobsPerWorker recycles a worker after this many jobs, zero never.
	MaxJobsPerWorker int
	// HardTimeoutFactor multiplies the soft deadline into the kill deadline.
	HardTimeoutFactor int
	// MaxConsecutiveHighPriority bounds how long lower priority jobs wait.
	MaxConsecutiveHighPriority int
	// MaxMemory is the worker resident memory limit in bytes, zero disables it.
	MaxMemory uint64
}

type slot struct {
	index      int
	generation uint64
	worker     worker.Worker
	busy       bool
}

func (s *slot) String() string {
	return fmt.Sprintf("%d:%d", s.index, s.generation)
}

type completion struct {
	slot    *slot
	worker  worker.Worker
	outcome Outcome
	retire  string
}

// Pool dispatches queued jobs to execute workers.
type Pool struct {
	config  Config
	spawner worker.Spawner
	metrics pvfcommon.Metrics

	mutex   sync.Mutex
	queue   *queue
	cancels map[uint64]context.CancelFunc

	slots       []*slot
	busy        atomic.Int32
	total       atomic.Int32
	wake        chan struct{}
	completions chan completion
	outcomes    chan Outcome

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	running sync.WaitGroup
}

// NewPool creates a pool. Workers are spawned on demand once started.
func NewPool(config Config, spawner worker.Spawner, metrics pvfcommon.Metrics) *Pool {
	if config.HardTimeoutFactor == 0 {
		config.HardTimeoutFactor = 2
	}
	return &Pool{
		config:      config,
		spawner:     spawner,
		metrics:     metrics,
		queue:       newQueue(config.MaxConsecutiveHighPriority),
		cancels:     make(map[uint64]context.CancelFunc),
		wake:        make(chan struct{}, 1),
		completions: make(chan completion),
		outcomes:    make(chan Outcome, config.QueueCapacity+config.Capacity),
		done:        make(chan struct{}),
	}
}

// Outcomes returns the channel of finished jobs. It must be drained.
func (p *Pool) Outcomes() <-chan Outcome {
	return p.outcomes
}

// Start starts the pool loop.
func (p *Pool) Start() {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	go p.loop()
}

// Stop kills running jobs, closes idle workers and waits for the pool
// loop to exit. Queued jobs are dropped.
func (p *Pool) Stop() {
	p.cancel()
	<-p.done
}

// Submit queues a job, or fails with ErrQueueFull. A job without a
// positive timeout of at most parachaintypes.MaxTimeout is refused with
// parachaintypes.ErrInvalidTimeout.
func (p *Pool) Submit(job Job) error {
	if job.Timeout <= 0 || job.Timeout > parachaintypes.MaxTimeout {
		return fmt.Errorf("%w: execution timeout %s", parachaintypes.ErrInvalidTimeout, job.Timeout)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.queue.len() >= p.config.QueueCapacity {
		return fmt.Errorf("%w: %d executions queued", pvfcommon.ErrQueueFull, p.queue.len())
	}
	p.queue.push(job)
	p.metrics.ExecutionEnqueued()
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// Cancel drops the queued job with the tag, or kills the worker running
// it. The outcome of a killed job is still reported.
func (p *Pool) Cancel(tag uint64) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.queue.remove(tag) {
		logger.Tracef("dropped queued execution %d", tag)
		return
	}
	if cancel, ok := p.cancels[tag]; ok {
		logger.Debugf("cancelling running execution %d", tag)
		cancel()
	}
}

// Occupancy returns the number of busy workers and of live workers.
func (p *Pool) Occupancy() (busy, total int) {
	return int(p.busy.Load()), int(p.total.Load())
}

// QueueLen returns the number of queued jobs.
func (p *Pool) QueueLen() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.queue.len()
}

func (p *Pool) loop() {
	defer close(p.done)
	for {
		select {
		case <-p.ctx.Done():
			p.shutdown()
			return
		case <-p.wake:
		case c := <-p.completions:
			p.complete(c)
		}
		p.dispatch()
	}
}

func (p *Pool) shutdown() {
	go func() {
		p.running.Wait()
		close(p.completions)
	}()
	for c := range p.completions {
		reason := c.retire
		if c.worker != nil {
			c.worker.Kill()
			reason = "shutdown"
		}
		p.retire(c.slot, reason)
	}
	for _, s := range p.slots {
		if s.worker != nil {
			s.worker.Close()
			p.retire(s, "shutdown")
		}
	}
	p.reportOccupancy()

	p.mutex.Lock()
	dropped := p.queue.drain()
	p.mutex.Unlock()
	if len(dropped) > 0 {
		logger.Debugf("dropped %d queued executions on shutdown", len(dropped))
	}
}

func (p *Pool) dispatch() {
	for {
		p.mutex.Lock()
		if p.queue.len() == 0 {
			p.mutex.Unlock()
			return
		}
		s := p.acquireSlot()
		if s == nil {
			p.mutex.Unlock()
			return
		}
		job, _ := p.queue.pop()
		ctx, cancel := context.WithCancel(p.ctx)
		if job.Tag != 0 {
			p.cancels[job.Tag] = cancel
		}
		p.mutex.Unlock()

		s.busy = true
		p.running.Add(1)
		go p.run(ctx, cancel, s, s.worker, job)
		p.reportOccupancy()
	}
}

// acquireSlot returns an idle worker slot, or a slot to spawn a worker
// in while below capacity.
func (p *Pool) acquireSlot() *slot {
	var free *slot
	workers := 0
	for _, s := range p.slots {
		switch {
		case s.worker != nil && !s.busy:
			return s
		case s.worker != nil || s.busy:
			workers++
		case free == nil:
			free = s
		}
	}
	if workers >= p.config.Capacity {
		return nil
	}
	if free != nil {
		return free
	}
	s := &slot{index: len(p.slots)}
	p.slots = append(p.slots, s)
	return s
}

func (p *Pool) run(ctx context.Context, cancel context.CancelFunc, s *slot, w worker.Worker, job Job) {
	defer p.running.Done()
	defer cancel()
	started := time.Now()

	c := completion{slot: s, outcome: Outcome{Job: job}}
	if w == nil {
		var err error
		w, err = p.spawner.Spawn(p.ctx)
		if err != nil {
			p.forget(job.Tag)
			c.outcome.Err = executeError(err)
			p.finish(c, started)
			return
		}
		p.metrics.WorkerSpawned(pvfcommon.PoolExecute)
		logger.Debugf("spawned execute worker %s with pid %d", s, w.PID())
	}

	hardTimeout := job.Timeout * time.Duration(p.config.HardTimeoutFactor)
	response, err := w.Execute(ctx, pvfcommon.ExecuteRequest{
		ArtifactID:     job.ArtifactID,
		ArtifactPath:   job.ArtifactPath,
		Params:         job.Params,
		MaxPoVSize:     job.MaxPoVSize,
		TimeoutMillis:  uint64(max(job.Timeout.Milliseconds(), 1)),
		ExecutorParams: job.ExecutorParams,
	}, worker.Limits{
		CPUTime:   hardTimeout,
		WallClock: hardTimeout,
		MaxMemory: p.config.MaxMemory,
	})
	// A retry of the job may reuse the tag once the outcome is reported.
	p.forget(job.Tag)

	switch {
	case err != nil:
		c.outcome.Err = executeError(err)
		c.retire = c.outcome.Err.Kind.String()
		if errors.Is(err, worker.ErrCancelled) && p.ctx.Err() == nil {
			c.retire = "cancelled"
		}
	case response.Error != nil:
		c.outcome.Err = response.Error
		switch response.Error.Kind {
		case pvfcommon.ExecuteTimeout, pvfcommon.ExecuteInternal:
			// The instance may still be spinning or in an unknown state.
			w.Kill()
			c.retire = response.Error.Kind.String()
		default:
			c.worker = w
		}
	case response.Invalid != nil:
		c.worker = w
		c.outcome.Verdict.Invalid = response.Invalid
	case response.Result != nil:
		c.worker = w
		c.outcome.Verdict.Result = response.Result
	default:
		w.Kill()
		c.outcome.Err = pvfcommon.NewExecuteError(pvfcommon.ExecuteInternal, "empty execute response")
		c.retire = c.outcome.Err.Kind.String()
	}
	p.finish(c, started)
}

func (p *Pool) forget(tag uint64) {
	if tag == 0 {
		return
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.cancels, tag)
}

func (p *Pool) finish(c completion, started time.Time) {
	c.outcome.Elapsed = time.Since(started)
	label := c.outcome.Verdict.String()
	if c.outcome.Err != nil {
		label = c.outcome.Err.Kind.String()
	}
	p.metrics.ExecutionFinished(c.outcome.Elapsed, label)
	p.completions <- c
}

func (p *Pool) complete(c completion) {
	s := c.slot
	s.busy = false
	s.worker = nil

	switch {
	case c.worker == nil:
		p.retire(s, c.retire)
	case p.config.MaxJobsPerWorker > 0 && c.worker.Jobs() >= p.config.MaxJobsPerWorker:
		c.worker.Close()
		p.retire(s, "max jobs")
	default:
		s.worker = c.worker
	}
	p.reportOccupancy()

	if c.outcome.Err != nil {
		logger.Debugf("execution of %s (attempt %d) failed: %s",
			c.outcome.Job.ArtifactID, c.outcome.Job.Attempt, c.outcome.Err)
	}
	select {
	case p.outcomes <- c.outcome:
	case <-p.ctx.Done():
	}
}

func (p *Pool) retire(s *slot, reason string) {
	if reason != "" {
		logger.Debugf("retiring execute worker %s: %s", s, reason)
		p.metrics.WorkerRetired(pvfcommon.PoolExecute, reason)
	}
	s.worker = nil
	s.busy = false
	s.generation++
}

func (p *Pool) reportOccupancy() {
	busy, total := 0, 0
	for _, s := range p.slots {
		if s.busy {
			busy++
		}
		if s.busy || s.worker != nil {
			total++
		}
	}
	p.busy.Store(int32(busy))
	p.total.Store(int32(total))
	p.metrics.PoolOccupancy(pvfcommon.PoolExecute, busy, total)
}

// executeError classifies a worker supervision error.
func executeError(err error) *pvfcommon.ExecuteError {
	switch {
	case errors.Is(err, worker.ErrTimeout):
		return pvfcommon.NewExecuteError(pvfcommon.ExecuteTimeout, "%s", err)
	case errors.Is(err, worker.ErrOutOfMemory):
		return pvfcommon.NewExecuteError(pvfcommon.ExecuteOutOfMemory, "%s", err)
	case errors.Is(err, worker.ErrCancelled):
		return pvfcommon.NewExecuteError(pvfcommon.ExecuteInternal, "%s", err)
	default:
		return pvfcommon.NewExecuteError(pvfcommon.ExecuteWorkerDied, "%s", err)
	}
}
