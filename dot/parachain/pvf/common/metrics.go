// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package common

import "time"

// Pool names used as metric labels.
const (
	PoolPrepare = "prepare"
	PoolExecute = "execute"
)

// Metrics observes the PVF host. It is injected into the host and its
// pools at construction.
type Metrics interface {
	PreparationEnqueued()
	PreparationStarted()
	PreparationFinished(elapsed time.Duration, err *PrepareError)
	ExecutionEnqueued()
	ExecutionFinished(elapsed time.Duration, verdict string)
	WorkerSpawned(pool string)
	WorkerRetired(pool, reason string)
	PoolOccupancy(pool string, busy, total int)
	ArtifactsPruned(count int)
	HostBusy()
}

// NoopMetrics discards all observations.
type NoopMetrics struct{}

var _ Metrics = NoopMetrics{}

func (NoopMetrics) PreparationEnqueued()                             {}
func (NoopMetrics) PreparationStarted()                              {}
func (NoopMetrics) PreparationFinished(time.Duration, *PrepareError) {}
func (NoopMetrics) ExecutionEnqueued()                               {}
func (NoopMetrics) ExecutionFinished(time.Duration, string)          {}
func (NoopMetrics) WorkerSpawned(string)                             {}
func (NoopMetrics) WorkerRetired(string, string)                     {}
func (NoopMetrics) PoolOccupancy(string, int, int)                   {}
func (NoopMetrics) ArtifactsPruned(int)                              {}
func (NoopMetrics) HostBusy()                                        {}
