// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

// Package metrics exports the validation host observations to prometheus.
package metrics

import (
	"time"

	pvfcommon "github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gossamer_pvf"

// Prometheus implements common.Metrics with prometheus collectors.
type Prometheus struct {
	preparationEnqueued prometheus.Counter
	preparationAttempts prometheus.Counter
	preparationTime     prometheus.Histogram
	preparationErrors   *prometheus.CounterVec
	executeEnqueued     prometheus.Counter
	executionTime       prometheus.Histogram
	executionVerdicts   *prometheus.CounterVec
	workersSpawned      *prometheus.CounterVec
	workersRetired      *prometheus.CounterVec
	poolBusyWorkers     *prometheus.GaugeVec
	poolWorkers         *prometheus.GaugeVec
	artifactsPruned     prometheus.Counter
	hostBusy            prometheus.Counter
}

var _ pvfcommon.Metrics = (*Prometheus)(nil)

// NewPrometheus registers the collectors with registerer.
func NewPrometheus(registerer prometheus.Registerer) *Prometheus {
	factory := promauto.With(registerer)
	return &Prometheus{
		preparationEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preparation_enqueued_total",
			Help:      "total number of preparation jobs queued",
		}),
		preparationAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preparation_attempts_total",
			Help:      "total number of preparation jobs started on a worker",
		}),
		preparationTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "preparation_time_seconds",
			Help:      "time spent preparing artifacts",
			Buckets:   []float64{0.1, 0.5, 1, 2, 3, 10, 20, 30, 60, 120, 240, 360, 480},
		}),
		preparationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preparation_errors_total",
			Help:      "total number of failed preparations by error kind",
		}, []string{"kind"}),
		executeEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execute_enqueued_total",
			Help:      "total number of execution jobs queued",
		}),
		executionTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_time_seconds",
			Help:      "time spent executing candidates",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 4, 5, 8, 10, 12},
		}),
		executionVerdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_verdicts_total",
			Help:      "total number of executions by verdict or error kind",
		}, []string{"verdict"}),
		workersSpawned: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workers_spawned_total",
			Help:      "total number of worker processes spawned",
		}, []string{"pool"}),
		workersRetired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workers_retired_total",
			Help:      "total number of worker processes retired",
		}, []string{"pool", "reason"}),
		poolBusyWorkers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_busy_workers",
			Help:      "number of workers running a job",
		}, []string{"pool"}),
		poolWorkers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_workers",
			Help:      "number of live workers",
		}, []string{"pool"}),
		artifactsPruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_pruned_total",
			Help:      "total number of artifacts evicted from the cache",
		}),
		hostBusy: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "host_busy_rejections_total",
			Help:      "total number of execute requests rejected as busy",
		}),
	}
}

func (p *Prometheus) PreparationEnqueued() { p.preparationEnqueued.Inc() }

func (p *Prometheus) PreparationStarted() { p.preparationAttempts.Inc() }

func (p *Prometheus) PreparationFinished(elapsed time.Duration, err *pvfcommon.PrepareError) {
	p.preparationTime.Observe(elapsed.Seconds())
	if err != nil {
		p.preparationErrors.WithLabelValues(err.Kind.String()).Inc()
	}
}

func (p *Prometheus) ExecutionEnqueued() { p.executeEnqueued.Inc() }

func (p *Prometheus) ExecutionFinished(elapsed time.Duration, verdict string) {
	p.executionTime.Observe(elapsed.Seconds())
	p.executionVerdicts.WithLabelValues(verdict).Inc()
}

func (p *Prometheus) WorkerSpawned(pool string) {
	p.workersSpawned.WithLabelValues(pool).Inc()
}

func (p *Prometheus) WorkerRetired(pool, reason string) {
	p.workersRetired.WithLabelValues(pool, reason).Inc()
}

func (p *Prometheus) PoolOccupancy(pool string, busy, total int) {
	p.poolBusyWorkers.WithLabelValues(pool).Set(float64(busy))
	p.poolWorkers.WithLabelValues(pool).Set(float64(total))
}

func (p *Prometheus) ArtifactsPruned(count int) { p.artifactsPruned.Add(float64(count)) }

func (p *Prometheus) HostBusy() { p.hostBusy.Inc() }
