// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package metrics

import (
	"strings"
	"testing"
	"time"

	pvfcommon "github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Prometheus(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	p := NewPrometheus(registry)

	p.PreparationEnqueued()
	p.PreparationStarted()
	p.PreparationFinished(time.Second, nil)
	p.PreparationStarted()
	p.PreparationFinished(2*time.Second,
		pvfcommon.NewPrepareError(pvfcommon.PrepareInvalidModule, "bad magic"))
	p.ExecutionEnqueued()
	p.ExecutionFinished(time.Millisecond, "valid")
	p.ExecutionFinished(time.Millisecond, "valid")
	p.WorkerSpawned(pvfcommon.PoolExecute)
	p.WorkerRetired(pvfcommon.PoolExecute, "timeout")
	p.PoolOccupancy(pvfcommon.PoolPrepare, 1, 3)
	p.ArtifactsPruned(4)
	p.HostBusy()

	assert.Equal(t, 1.0, testutil.ToFloat64(p.preparationEnqueued))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.preparationAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.preparationErrors.WithLabelValues("invalid_module")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.executeEnqueued))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.executionVerdicts.WithLabelValues("valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.workersSpawned.WithLabelValues("execute")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.workersRetired.WithLabelValues("execute", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.poolBusyWorkers.WithLabelValues("prepare")))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.poolWorkers.WithLabelValues("prepare")))
	assert.Equal(t, 4.0, testutil.ToFloat64(p.artifactsPruned))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.hostBusy))

	expected := `
# HELP gossamer_pvf_preparation_attempts_total total number of preparation jobs started on a worker
# TYPE gossamer_pvf_preparation_attempts_total counter
gossamer_pvf_preparation_attempts_total 2
`
	err := testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"gossamer_pvf_preparation_attempts_total")
	require.NoError(t, err)
}

func Test_NewPrometheus_registersOnce(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	NewPrometheus(registry)

	assert.Panics(t, func() { NewPrometheus(registry) })
}
