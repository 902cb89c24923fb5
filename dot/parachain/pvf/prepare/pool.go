// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

// Package prepare runs preparation jobs on a bounded set of prepare workers.
package prepare

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	pvfcommon "github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/common"
	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/worker"
	parachaintypes "github.com/ChainSafe/gossamer-pvf/dot/parachain/types"
	"github.com/ChainSafe/gossamer-pvf/internal/log"
)

var logger = log.NewFromGlobal(log.AddContext("pkg", "pvf-prepare"))

var ErrAlreadyQueued = errors.New("artifact preparation already queued")

// Job is one preparation of code for an executor parameter set.
type Job struct {
	ArtifactID     pvfcommon.ArtifactID
	Code           []byte
	ExecutorParams parachaintypes.ExecutorParams
	Priority       parachaintypes.Priority
	Kind           parachaintypes.PrepareKind
	// OutputPath is the temporary file the worker writes the artifact to.
	OutputPath string

	// cpuTime is resolved on Submit.
	cpuTime time.Duration
}

// Outcome is the result of a Job. On success Err is nil and the artifact
// is at Path, waiting to be published. On failure nothing is left on disk.
type Outcome struct {
	ArtifactID pvfcommon.ArtifactID
	Path       string
	Size       uint64
	Err        *pvfcommon.PrepareError
	Elapsed    time.Duration
}

// Config is the pool configuration.
type Config struct {
	// SoftCapacity bounds the workers serving background jobs.
	SoftCapacity int
	// HardCapacity bounds the workers serving jobs needed by executions.
	HardCapacity int
	// QueueCapacity bounds the jobs waiting for a worker.
	QueueCapacity int
	// MaxJobsPerWorker recycles a worker after this many jobs, zero never.
	MaxJobsPerWorker int
	// PrecheckTimeout is the default CPU time of a precheck.
	PrecheckTimeout time.Duration
	// PrepareTimeout is the default CPU time of a preparation for execution.
	PrepareTimeout time.Duration
	// WallClockFactor multiplies the CPU time into the wall clock limit.
	WallClockFactor int
	// MaxMemory is the worker resident memory limit in bytes, zero disables it.
	MaxMemory uint64
	// CodeBombLimit caps the decompressed code size.
	CodeBombLimit uint64
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

// Pool dispatches queued jobs to prepare workers. Submit and Amend may be
// called from any goroutine; the slot table is owned by the pool loop.
type Pool struct {
	config  Config
	spawner worker.Spawner
	metrics pvfcommon.Metrics

	mutex sync.Mutex
	queue *queue

	slots       []*slot
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
	if config.HardCapacity < config.SoftCapacity {
		config.HardCapacity = config.SoftCapacity
	}
	if config.WallClockFactor == 0 {
		config.WallClockFactor = 4
	}
	return &Pool{
		config:      config,
		spawner:     spawner,
		metrics:     metrics,
		queue:       newQueue(),
		wake:        make(chan struct{}, 1),
		completions: make(chan completion),
		outcomes:    make(chan Outcome, config.QueueCapacity+config.HardCapacity),
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

// Stop kills running jobs, closes idle workers and waits for the pool loop
// to exit. Queued jobs are dropped.
func (p *Pool) Stop() {
	p.cancel()
	<-p.done
}

// Submit queues a job. It fails with ErrQueueFull if the queue is at
// capacity, ErrAlreadyQueued if a job for the artifact is queued and
// parachaintypes.ErrInvalidTimeout if the job would run without a time limit.
func (p *Pool) Submit(job Job) error {
	cpuTime, err := p.cpuTime(job)
	if err != nil {
		return err
	}
	job.cpuTime = cpuTime

	p.mutex.Lock()
	defer p.mutex.Unlock()

	switch {
	case p.queue.contains(job.ArtifactID):
		return fmt.Errorf("%w: %s", ErrAlreadyQueued, job.ArtifactID)
	case p.queue.len() >= p.config.QueueCapacity:
		return fmt.Errorf("%w: %d preparations queued", pvfcommon.ErrQueueFull, p.queue.len())
	}
	p.queue.push(job)
	p.signal()
	return nil
}

// Amend raises the priority of a queued job. It returns false if the job
// is not queued anymore.
func (p *Pool) Amend(id pvfcommon.ArtifactID, priority parachaintypes.Priority) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	amended := p.queue.amend(id, priority)
	if amended {
		p.signal()
	}
	return amended
}

// QueueLen returns the number of queued jobs.
func (p *Pool) QueueLen() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.queue.len()
}

func (p *Pool) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
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
	// running jobs end with a cancelled outcome once their worker is killed
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

	p.mutex.Lock()
	dropped := p.queue.drain()
	p.mutex.Unlock()
	if len(dropped) > 0 {
		logger.Debugf("dropped %d queued preparations on shutdown", len(dropped))
	}
}

// dispatch starts queued jobs while workers are available. Background jobs
// are limited to the soft capacity, jobs needed by executions may use the
// hard capacity.
func (p *Pool) dispatch() {
	for {
		p.mutex.Lock()
		job, ok := p.queue.peek()
		if !ok {
			p.mutex.Unlock()
			return
		}

		limit := p.config.SoftCapacity
		if job.Priority.IsCritical() {
			limit = p.config.HardCapacity
		}
		s := p.acquireSlot(limit)
		if s == nil {
			p.mutex.Unlock()
			return
		}
		_, _ = p.queue.pop()
		p.mutex.Unlock()

		s.busy = true
		p.running.Add(1)
		go p.run(s, s.worker, job)
		p.reportOccupancy()
	}
}

// acquireSlot returns an idle worker slot, or a slot to spawn a new
// worker in if fewer than limit workers exist.
func (p *Pool) acquireSlot(limit int) *slot {
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
	if workers >= limit {
		return nil
	}
	if free != nil {
		return free
	}
	s := &slot{index: len(p.slots)}
	p.slots = append(p.slots, s)
	return s
}

func (p *Pool) run(s *slot, w worker.Worker, job Job) {
	defer p.running.Done()
	p.metrics.PreparationStarted()
	started := time.Now()

	c := completion{slot: s, outcome: Outcome{ArtifactID: job.ArtifactID}}
	if w == nil {
		var err error
		w, err = p.spawner.Spawn(p.ctx)
		if err != nil {
			c.outcome.Err = prepareError(err)
			c.outcome.Elapsed = time.Since(started)
			p.finish(c, job)
			return
		}
		p.metrics.WorkerSpawned(pvfcommon.PoolPrepare)
		logger.Debugf("spawned prepare worker %s with pid %d", s, w.PID())
	}

	limits := worker.Limits{
		CPUTime:   job.cpuTime,
		WallClock: job.cpuTime * time.Duration(p.config.WallClockFactor),
		MaxMemory: p.config.MaxMemory,
	}
	if job.Kind == parachaintypes.Precheck && job.ExecutorParams.PrecheckingMaxMemory != nil {
		limits.MaxMemory = *job.ExecutorParams.PrecheckingMaxMemory
	}

	response, err := w.Prepare(p.ctx, pvfcommon.PrepareRequest{
		ArtifactID:     job.ArtifactID,
		Code:           job.Code,
		ExecutorParams: job.ExecutorParams,
		Kind:           job.Kind,
		OutputPath:     job.OutputPath,
		CodeBombLimit:  p.config.CodeBombLimit,
	}, limits)
	c.outcome.Elapsed = time.Since(started)

	switch {
	case err != nil:
		c.outcome.Err = prepareError(err)
		c.retire = c.outcome.Err.Kind.String()
	case response.Error != nil:
		c.worker = w
		c.outcome.Err = response.Error
	default:
		c.worker = w
		c.outcome.Path = job.OutputPath
		c.outcome.Size = response.ArtifactSize
	}
	p.finish(c, job)
}

// cpuTime returns the CPU time limit of the job, which is always positive.
func (p *Pool) cpuTime(job Job) (time.Duration, error) {
	defaultTimeout := p.config.PrepareTimeout
	if job.Kind == parachaintypes.Precheck {
		defaultTimeout = p.config.PrecheckTimeout
	}
	timeout, err := job.ExecutorParams.PrepareTimeout(job.Kind, defaultTimeout)
	if err != nil {
		return 0, err
	}
	if timeout <= 0 {
		return 0, fmt.Errorf("%w: %s timeout of %s", parachaintypes.ErrInvalidTimeout, job.Kind, timeout)
	}
	return timeout, nil
}

func (p *Pool) finish(c completion, job Job) {
	if c.outcome.Err != nil {
		// a killed worker may have left a partial file behind
		err := os.Remove(job.OutputPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warnf("removing temporary artifact %s: %s", job.OutputPath, err)
		}
	}
	p.metrics.PreparationFinished(c.outcome.Elapsed, c.outcome.Err)
	p.completions <- c
}

// complete returns the worker to its slot, or retires it, and publishes
// the outcome.
func (p *Pool) complete(c completion) {
	s := c.slot
	s.busy = false
	// the returned worker is not counted against the capacity below
	s.worker = nil

	switch {
	case c.worker == nil:
		p.retire(s, c.retire)
	case p.config.MaxJobsPerWorker > 0 && c.worker.Jobs() >= p.config.MaxJobsPerWorker:
		c.worker.Close()
		p.retire(s, "max jobs")
	case p.liveWorkers() >= p.config.SoftCapacity && !p.hasCriticalQueued():
		c.worker.Close()
		p.retire(s, "above soft capacity")
	default:
		s.worker = c.worker
	}
	p.reportOccupancy()

	if c.outcome.Err != nil {
		logger.Debugf("preparation of %s failed: %s", c.outcome.ArtifactID, c.outcome.Err)
	}
	select {
	case p.outcomes <- c.outcome:
	case <-p.ctx.Done():
	}
}

// retire empties the slot. An empty reason means no worker was running.
func (p *Pool) retire(s *slot, reason string) {
	if reason != "" {
		logger.Debugf("retiring prepare worker %s: %s", s, reason)
		p.metrics.WorkerRetired(pvfcommon.PoolPrepare, reason)
	}
	s.worker = nil
	s.busy = false
	s.generation++
}

func (p *Pool) liveWorkers() (count int) {
	for _, s := range p.slots {
		if s.worker != nil || s.busy {
			count++
		}
	}
	return count
}

func (p *Pool) hasCriticalQueued() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.queue.hasCritical()
}

func (p *Pool) reportOccupancy() {
	busy := 0
	for _, s := range p.slots {
		if s.busy {
			busy++
		}
	}
	p.metrics.PoolOccupancy(pvfcommon.PoolPrepare, busy, p.liveWorkers())
}

// prepareError classifies a worker supervision error.
func prepareError(err error) *pvfcommon.PrepareError {
	switch {
	case errors.Is(err, worker.ErrTimeout):
		return pvfcommon.NewPrepareError(pvfcommon.PrepareTimeout, "%s", err)
	case errors.Is(err, worker.ErrOutOfMemory):
		return pvfcommon.NewPrepareError(pvfcommon.PrepareOutOfMemory, "%s", err)
	case errors.Is(err, worker.ErrCancelled):
		return pvfcommon.NewPrepareError(pvfcommon.PrepareCancelled, "%s", err)
	default:
		return pvfcommon.NewPrepareError(pvfcommon.PrepareWorkerDied, "%s", err)
	}
}
