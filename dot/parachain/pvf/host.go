// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

// Package pvf is the validation host: it turns validation code into
// prepared artifacts and runs candidates against them on sandboxed
// worker processes.
package pvf

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/artifacts"
	pvfcommon "github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/common"
	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/execute"
	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/prepare"
	parachaintypes "github.com/ChainSafe/gossamer-pvf/dot/parachain/types"
	"github.com/ChainSafe/gossamer-pvf/internal/log"
)

var logger = log.NewFromGlobal(log.AddContext("pkg", "pvf"))

// PreparePool runs preparation jobs.
type PreparePool interface {
	Submit(job prepare.Job) error
	Amend(id pvfcommon.ArtifactID, priority parachaintypes.Priority) bool
	Outcomes() <-chan prepare.Outcome
	Start()
	Stop()
}

// ExecutePool runs execution jobs.
type ExecutePool interface {
	Submit(job execute.Job) error
	Cancel(tag uint64)
	Outcomes() <-chan execute.Outcome
	Start()
	Stop()
}

// Config configures the host coordinator.
type Config struct {
	// MaxOutstanding bounds the execute requests in flight.
	MaxOutstanding int
	// MaxExecuteRetries is the number of retries after an infrastructure failure.
	MaxExecuteRetries int
	// PruneInterval is the period of artifact cache pruning, zero disables it.
	PruneInterval time.Duration
	// BackingTimeout is the default execution timeout of backing requests.
	BackingTimeout time.Duration
	// ApprovalTimeout is the default execution timeout of other requests.
	ApprovalTimeout time.Duration
}

// ExecuteRequest asks for the validation of a candidate.
type ExecuteRequest struct {
	Code           parachaintypes.ValidationCode
	ExecutorParams parachaintypes.ExecutorParams
	Params         parachaintypes.ValidationParameters
	MaxPoVSize     uint32
	Priority       parachaintypes.Priority
	// Deadline overrides the execution timeout when set.
	Deadline time.Time
}

type executeResult struct {
	verdict pvfcommon.Verdict
	err     error
}

type pendingExecute struct {
	tag        uint64
	id         pvfcommon.ArtifactID
	request    ExecuteRequest
	attempt    int
	reprepared bool
	replied    bool
	result     chan executeResult
}

type pendingPrecheck struct {
	id     pvfcommon.ArtifactID
	code   parachaintypes.ValidationCode
	params parachaintypes.ExecutorParams
	result chan error
}

type headsUp struct {
	ids    []pvfcommon.ArtifactID
	codes  []parachaintypes.ValidationCode
	params parachaintypes.ExecutorParams
	done   chan struct{}
}

// waitList holds the requests waiting for one artifact preparation.
type waitList struct {
	priority  parachaintypes.Priority
	executes  []*pendingExecute
	prechecks []*pendingPrecheck
}

// Host coordinates the artifact cache and the worker pools. All its state
// is owned by a single dispatcher goroutine.
type Host struct {
	config   Config
	cache    *artifacts.Cache
	preparer PreparePool
	executor ExecutePool
	metrics  pvfcommon.Metrics
	now      func() time.Time

	executes  chan *pendingExecute
	cancels   chan *pendingExecute
	prechecks chan *pendingPrecheck
	headsUps  chan *headsUp

	waiting     map[pvfcommon.ArtifactID]*waitList
	running     map[uint64]*pendingExecute
	outstanding int
	nextTag     uint64

	lifecycle sync.Mutex
	started   bool
	stopped   bool
	wg        sync.WaitGroup
	stopCh    chan struct{}
}

// NewHost creates a host. The cache is used only by the host once started.
func NewHost(config Config, cache *artifacts.Cache, preparer PreparePool,
	executor ExecutePool, metrics pvfcommon.Metrics) *Host {
	return &Host{
		config:    config,
		cache:     cache,
		preparer:  preparer,
		executor:  executor,
		metrics:   metrics,
		now:       time.Now,
		executes:  make(chan *pendingExecute),
		cancels:   make(chan *pendingExecute),
		prechecks: make(chan *pendingPrecheck),
		headsUps:  make(chan *headsUp),
		waiting:   make(map[pvfcommon.ArtifactID]*waitList),
		running:   make(map[uint64]*pendingExecute),
		stopCh:    make(chan struct{}),
	}
}

// Start starts the worker pools and the dispatcher. It does nothing if the
// host was already started or stopped.
func (h *Host) Start() {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()
	if h.started || h.stopped {
		return
	}
	h.started = true

	logger.Debug("starting validation host")
	h.preparer.Start()
	h.executor.Start()
	h.wg.Add(1)
	go h.run()
}

// Stop stops the dispatcher and the pools. Pending and later requests
// fail with ErrStopped. Stopping twice, or before Start, is allowed.
func (h *Host) Stop() {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true

	close(h.stopCh)
	h.wg.Wait()
}

// Execute validates a candidate, preparing its code first if needed. The
// returned error is a *common.ExecuteError when the candidate could not be
// validated, which says nothing about its validity. Cancelling ctx
// withdraws the request, killing its execution if one is running.
func (h *Host) Execute(ctx context.Context, request ExecuteRequest) (pvfcommon.Verdict, error) {
	err := request.ExecutorParams.Validate()
	if err != nil {
		return pvfcommon.Verdict{}, pvfcommon.NewExecuteError(pvfcommon.ExecuteInternal, "%s", err)
	}
	id, err := pvfcommon.NewArtifactID(request.Code, request.ExecutorParams)
	if err != nil {
		return pvfcommon.Verdict{}, pvfcommon.NewExecuteError(pvfcommon.ExecuteInternal,
			"computing artifact id: %s", err)
	}

	pending := &pendingExecute{
		id:      id,
		request: request,
		result:  make(chan executeResult, 1),
	}
	select {
	case h.executes <- pending:
	case <-h.stopCh:
		return pvfcommon.Verdict{}, pvfcommon.ErrStopped
	case <-ctx.Done():
		return pvfcommon.Verdict{}, ctx.Err()
	}

	select {
	case result := <-pending.result:
		return result.verdict, result.err
	case <-ctx.Done():
		select {
		case h.cancels <- pending:
		case <-h.stopCh:
		}
		return pvfcommon.Verdict{}, ctx.Err()
	}
}

// Precheck prepares the code at background priority. It returns nil if the
// code can be prepared and the *common.PrepareError otherwise.
func (h *Host) Precheck(ctx context.Context, code parachaintypes.ValidationCode,
	params parachaintypes.ExecutorParams) error {
	err := params.Validate()
	if err != nil {
		return err
	}
	id, err := pvfcommon.NewArtifactID(code, params)
	if err != nil {
		return fmt.Errorf("computing artifact id: %w", err)
	}

	pending := &pendingPrecheck{
		id:     id,
		code:   code,
		params: params,
		result: make(chan error, 1),
	}
	select {
	case h.prechecks <- pending:
	case <-h.stopCh:
		return pvfcommon.ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-pending.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HeadsUp prepares upcoming validation code in the background so a later
// execution finds its artifact ready. It returns once the preparations
// are queued.
func (h *Host) HeadsUp(ctx context.Context, codes []parachaintypes.ValidationCode,
	params parachaintypes.ExecutorParams) error {
	err := params.Validate()
	if err != nil {
		return err
	}
	request := &headsUp{
		codes:  codes,
		params: params,
		done:   make(chan struct{}),
	}
	for _, code := range codes {
		id, err := pvfcommon.NewArtifactID(code, params)
		if err != nil {
			return fmt.Errorf("computing artifact id: %w", err)
		}
		request.ids = append(request.ids, id)
	}

	select {
	case h.headsUps <- request:
	case <-h.stopCh:
		return pvfcommon.ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-request.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Host) run() {
	defer h.wg.Done()

	var prune <-chan time.Time
	if h.config.PruneInterval > 0 {
		ticker := time.NewTicker(h.config.PruneInterval)
		defer ticker.Stop()
		prune = ticker.C
	}

	for {
		select {
		case <-h.stopCh:
			h.shutdown()
			return
		case pending := <-h.executes:
			h.handleExecute(pending)
		case pending := <-h.cancels:
			h.handleCancel(pending)
		case pending := <-h.prechecks:
			h.handlePrecheck(pending)
		case request := <-h.headsUps:
			h.handleHeadsUp(request)
			close(request.done)
		case outcome := <-h.preparer.Outcomes():
			h.handlePrepareOutcome(outcome)
		case outcome := <-h.executor.Outcomes():
			h.handleExecuteOutcome(outcome)
		case <-prune:
			h.prune()
		}
	}
}

func (h *Host) shutdown() {
	h.preparer.Stop()
	h.executor.Stop()

	for id, list := range h.waiting {
		for _, pending := range list.executes {
			h.replyExecute(pending, pvfcommon.Verdict{}, pvfcommon.ErrStopped)
		}
		for _, pending := range list.prechecks {
			pending.result <- pvfcommon.ErrStopped
		}
		delete(h.waiting, id)
	}
	for tag, pending := range h.running {
		h.replyExecute(pending, pvfcommon.Verdict{}, pvfcommon.ErrStopped)
		delete(h.running, tag)
	}
	logger.Debug("validation host stopped")
}

func (h *Host) handleExecute(pending *pendingExecute) {
	if h.config.MaxOutstanding > 0 && h.outstanding >= h.config.MaxOutstanding {
		h.metrics.HostBusy()
		pending.replied = true
		pending.result <- executeResult{err: pvfcommon.NewExecuteError(pvfcommon.ExecuteBusy,
			"%d requests outstanding", h.outstanding)}
		return
	}
	h.outstanding++
	h.nextTag++
	pending.tag = h.nextTag
	h.dispatchExecute(pending)
}

// handleCancel withdraws a request its caller gave up on, freeing its
// admission slot.
func (h *Host) handleCancel(pending *pendingExecute) {
	if pending.replied {
		return
	}
	if list, ok := h.waiting[pending.id]; ok {
		for i, waiting := range list.executes {
			if waiting == pending {
				list.executes = append(list.executes[:i], list.executes[i+1:]...)
				break
			}
		}
	}
	if _, ok := h.running[pending.tag]; ok {
		delete(h.running, pending.tag)
		h.executor.Cancel(pending.tag)
	}
	logger.Tracef("execution request %d with %s cancelled", pending.tag, pending.id)
	h.replyExecute(pending, pvfcommon.Verdict{}, context.Canceled)
}

// dispatchExecute sends the request to the execution pool if the artifact
// is prepared and to the preparation pool otherwise.
func (h *Host) dispatchExecute(pending *pendingExecute) {
	state, ok := h.cache.Lookup(pending.id)
	switch state := state.(type) {
	case artifacts.Prepared:
		h.submitExecute(pending, state.Path)
		return
	case artifacts.FailedToPrepare:
		if !h.cache.CanRetry(pending.id, h.now()) {
			h.replyExecute(pending, pvfcommon.Verdict{}, &pvfcommon.ExecuteError{
				Kind:    pvfcommon.ExecutePrepareFailed,
				Prepare: state.Err,
			})
			return
		}
	}
	if !ok {
		logger.Tracef("artifact %s unknown, preparing", pending.id)
	}

	list, err := h.awaitPreparation(pending.id, pending.request.Code, pending.request.ExecutorParams,
		pending.request.Priority, parachaintypes.Prepare)
	if err != nil {
		h.replyExecute(pending, pvfcommon.Verdict{}, &pvfcommon.ExecuteError{
			Kind:   pvfcommon.ExecuteBusy,
			Detail: err.Error(),
		})
		return
	}
	list.executes = append(list.executes, pending)
}

func (h *Host) handlePrecheck(pending *pendingPrecheck) {
	state, _ := h.cache.Lookup(pending.id)
	switch state := state.(type) {
	case artifacts.Prepared:
		h.cache.Touch(pending.id, h.now())
		pending.result <- nil
		return
	case artifacts.FailedToPrepare:
		if !h.cache.CanRetry(pending.id, h.now()) {
			pending.result <- state.Err
			return
		}
	}

	list, err := h.awaitPreparation(pending.id, pending.code, pending.params,
		parachaintypes.Background, parachaintypes.Precheck)
	if err != nil {
		pending.result <- err
		return
	}
	list.prechecks = append(list.prechecks, pending)
}

func (h *Host) handleHeadsUp(request *headsUp) {
	now := h.now()
	for i, id := range request.ids {
		state, ok := h.cache.Lookup(id)
		switch {
		case !ok:
		case isPrepared(state):
			h.cache.Touch(id, now)
			continue
		case !h.cache.CanRetry(id, now):
			continue
		}

		_, err := h.awaitPreparation(id, request.codes[i], request.params,
			parachaintypes.Background, parachaintypes.Prepare)
		if err != nil {
			logger.Debugf("heads up preparation of %s not queued: %s", id, err)
		}
	}
}

// awaitPreparation returns the wait list of the artifact, queueing its
// preparation if none is in flight. At most one preparation per artifact
// is in flight.
func (h *Host) awaitPreparation(id pvfcommon.ArtifactID, code parachaintypes.ValidationCode,
	params parachaintypes.ExecutorParams, priority parachaintypes.Priority,
	kind parachaintypes.PrepareKind) (*waitList, error) {
	list, ok := h.waiting[id]
	if ok {
		if priority > list.priority && h.preparer.Amend(id, priority) {
			list.priority = priority
		}
		return list, nil
	}

	err := h.preparer.Submit(prepare.Job{
		ArtifactID:     id,
		Code:           code,
		ExecutorParams: params,
		Priority:       priority,
		Kind:           kind,
		OutputPath:     h.cache.NewTempPath(id),
	})
	if err != nil {
		return nil, fmt.Errorf("queueing preparation: %w", err)
	}
	h.metrics.PreparationEnqueued()

	list = &waitList{priority: priority}
	h.waiting[id] = list
	return list, nil
}

// handlePrepareOutcome commits the preparation outcome to the cache, then
// releases the waiters in arrival order.
func (h *Host) handlePrepareOutcome(outcome prepare.Outcome) {
	now := h.now()
	prepareErr := outcome.Err
	var prepared artifacts.Prepared
	if prepareErr == nil {
		var err error
		prepared, err = h.cache.Publish(outcome.ArtifactID, outcome.Path, now)
		if err != nil {
			prepareErr = pvfcommon.NewPrepareError(pvfcommon.PrepareIoFailure, "%s", err)
		}
	}
	if prepareErr != nil {
		failed := h.cache.RecordFailure(outcome.ArtifactID, prepareErr, now)
		logger.Debugf("preparation of %s failed %d time(s): %s",
			outcome.ArtifactID, failed.NumFailures, prepareErr)
	} else {
		logger.Debugf("prepared %s in %s (%d bytes)", outcome.ArtifactID, outcome.Elapsed, prepared.Size)
	}

	list, ok := h.waiting[outcome.ArtifactID]
	if !ok {
		return
	}
	delete(h.waiting, outcome.ArtifactID)

	for _, pending := range list.prechecks {
		if prepareErr != nil {
			pending.result <- prepareErr
		} else {
			pending.result <- nil
		}
	}
	for _, pending := range list.executes {
		if prepareErr != nil {
			h.replyExecute(pending, pvfcommon.Verdict{}, &pvfcommon.ExecuteError{
				Kind:    pvfcommon.ExecutePrepareFailed,
				Prepare: prepareErr,
			})
			continue
		}
		h.submitExecute(pending, prepared.Path)
	}
}

func (h *Host) submitExecute(pending *pendingExecute, path string) {
	h.cache.Touch(pending.id, h.now())

	timeout, err := h.executeTimeout(pending.request)
	if err != nil {
		h.replyExecute(pending, pvfcommon.Verdict{}, err)
		return
	}

	err = h.executor.Submit(execute.Job{
		Tag:            pending.tag,
		ArtifactID:     pending.id,
		ArtifactPath:   path,
		Params:         pending.request.Params,
		MaxPoVSize:     pending.request.MaxPoVSize,
		ExecutorParams: pending.request.ExecutorParams,
		Priority:       pending.request.Priority,
		Timeout:        timeout,
		Attempt:        pending.attempt,
	})
	if err != nil {
		h.metrics.HostBusy()
		h.replyExecute(pending, pvfcommon.Verdict{}, pvfcommon.NewExecuteError(pvfcommon.ExecuteBusy,
			"queueing execution: %s", err))
		return
	}
	h.running[pending.tag] = pending
}

func (h *Host) executeTimeout(request ExecuteRequest) (time.Duration, error) {
	if !request.Deadline.IsZero() {
		timeout := request.Deadline.Sub(h.now())
		if timeout <= 0 {
			return 0, pvfcommon.NewExecuteError(pvfcommon.ExecuteTimeout, "deadline passed")
		}
		return min(timeout, parachaintypes.MaxTimeout), nil
	}

	defaultTimeout := h.config.ApprovalTimeout
	if request.Priority == parachaintypes.Backing {
		defaultTimeout = h.config.BackingTimeout
	}
	timeout, err := request.ExecutorParams.ExecuteTimeout(request.Priority, defaultTimeout)
	if err != nil {
		return 0, pvfcommon.NewExecuteError(pvfcommon.ExecuteInternal, "%s", err)
	}
	return timeout, nil
}

func (h *Host) handleExecuteOutcome(outcome execute.Outcome) {
	pending, ok := h.running[outcome.Job.Tag]
	if !ok {
		return
	}
	delete(h.running, outcome.Job.Tag)

	executeErr := outcome.Err
	switch {
	case executeErr == nil:
		h.replyExecute(pending, outcome.Verdict, nil)
	case executeErr.Kind == pvfcommon.ExecuteArtifactMissing && !pending.reprepared:
		logger.Warnf("artifact %s unusable, preparing it again: %s", pending.id, executeErr)
		pending.reprepared = true
		h.cache.Remove(pending.id)
		h.dispatchExecute(pending)
	case executeErr.IsRetryable() && pending.attempt < h.config.MaxExecuteRetries:
		pending.attempt++
		logger.Debugf("retrying execution of %s (attempt %d): %s", pending.id, pending.attempt, executeErr)
		h.dispatchExecute(pending)
	default:
		h.replyExecute(pending, pvfcommon.Verdict{}, executeErr)
	}
}

func (h *Host) replyExecute(pending *pendingExecute, verdict pvfcommon.Verdict, err error) {
	var executeErr *pvfcommon.ExecuteError
	if errors.As(err, &executeErr) && executeErr.Kind == pvfcommon.ExecuteInternal {
		logger.Errorf("internal error validating with %s: %s", pending.id, executeErr)
	}
	if pending.tag != 0 {
		h.outstanding--
	}
	pending.replied = true
	pending.result <- executeResult{verdict: verdict, err: err}
}

func (h *Host) prune() {
	evicted := h.cache.Prune(h.now())
	if len(evicted) == 0 {
		return
	}
	h.metrics.ArtifactsPruned(len(evicted))
	logger.Debugf("pruned %d artifacts, %d left using %d bytes",
		len(evicted), h.cache.Len(), h.cache.TotalSize())
}

func isPrepared(state artifacts.State) bool {
	_, ok := state.(artifacts.Prepared)
	return ok
}
