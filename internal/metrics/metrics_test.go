// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/ChainSafe/gossamer-pvf/internal/httpserver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func Test_Server_StartStop(t *testing.T) {
	t.Parallel()

	errDummy := errors.New("dummy")

	testCases := map[string]struct {
		startDone    bool
		startDoneErr error
		startErr     error
		stopDoneErr  error
		stopErr      error
	}{
		"start_nil_error": {
			startDone: true,
			startErr:  ErrServerDoneBeforeReady,
		},
		"start_error": {
			startDone:    true,
			startDoneErr: errDummy,
			startErr:     errDummy,
		},
		"stop_error": {
			stopDoneErr: errDummy,
			stopErr:     errDummy,
		},
		"success": {},
	}

	for name, testCase := range testCases {
		testCase := testCase
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)

			runner := NewMockRunner(ctrl)
			runner.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any()).
				Do(func(ctx context.Context, ready chan<- struct{}, done chan<- error) {
					if testCase.startDone {
						done <- testCase.startDoneErr
						return
					}
					close(ready)
					<-ctx.Done()
					done <- testCase.stopDoneErr
				})

			server := &Server{
				server: runner,
				done:   make(chan error),
			}

			err := server.Start()
			assert.ErrorIs(t, err, testCase.startErr)
			if testCase.startDone {
				return
			}

			err = server.Stop()
			assert.ErrorIs(t, err, testCase.stopErr)
		})
	}
}

func Test_Server_servesRegistry(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "test",
		Name:      "hits_total",
	})
	registry.MustRegister(counter)
	counter.Add(2)

	server := NewServer("127.0.0.1:0", registry)
	err := server.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, server.Stop())
	})

	address := server.server.(*httpserver.Server).GetAddress()
	response, err := http.Get("http://" + address + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	require.NoError(t, response.Body.Close())

	assert.Contains(t, string(body), "test_hits_total 2")
}
