// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package overseer

import (
	"context"
	"testing"
	"time"

	parachaintypes "github.com/ChainSafe/gossamer-pvf/dot/parachain/types"
	"github.com/ChainSafe/gossamer/lib/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ping struct{ n int }

type pong struct{ n int }

type testSubsystem struct {
	name     string
	received chan any
	stopped  bool
	// reply, if set, is sent to the overseer for every ping
	reply chan<- any
}

func newTestSubsystem(name string) *testSubsystem {
	return &testSubsystem{name: name, received: make(chan any, 16)}
}

func (s *testSubsystem) Run(ctx context.Context, overseerToSubsystem <-chan any) {
	for {
		select {
		case msg := <-overseerToSubsystem:
			s.received <- msg
			if p, ok := msg.(ping); ok && s.reply != nil {
				s.reply <- pong(p)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *testSubsystem) Name() string { return s.name }

func (*testSubsystem) ProcessActiveLeavesUpdateSignal(parachaintypes.ActiveLeavesUpdateSignal) error {
	return nil
}

func (*testSubsystem) ProcessBlockFinalizedSignal(parachaintypes.BlockFinalizedSignal) error {
	return nil
}

func (s *testSubsystem) Stop() { s.stopped = true }

func receive(t *testing.T, s *testSubsystem) any {
	t.Helper()
	select {
	case msg := <-s.received:
		return msg
	case <-time.After(time.Second):
		require.FailNow(t, "no message received", s.name)
		return nil
	}
}

func Test_Overseer_routing(t *testing.T) {
	t.Parallel()

	o := NewOverseer()
	pinger := newTestSubsystem("pinger")
	ponger := newTestSubsystem("ponger")
	pinger.reply = o.SubsystemsToOverseer
	o.RegisterSubsystem(pinger, ping{})
	o.RegisterSubsystem(ponger, pong{})
	require.NoError(t, o.Start())

	require.NoError(t, o.Send(ping{n: 1}))
	assert.Equal(t, ping{n: 1}, receive(t, pinger))
	// the reply of the pinger is routed through the overseer
	assert.Equal(t, pong{n: 1}, receive(t, ponger))

	err := o.Send("unroutable")
	assert.ErrorIs(t, err, parachaintypes.ErrUnknownOverseerMessage)

	signal := parachaintypes.BlockFinalizedSignal{Hash: common.Hash{1}, BlockNumber: 7}
	require.NoError(t, o.BroadcastSignal(signal))
	assert.Equal(t, signal, receive(t, pinger))
	assert.Equal(t, signal, receive(t, ponger))

	err = o.BroadcastSignal(ping{})
	assert.ErrorIs(t, err, parachaintypes.ErrUnknownOverseerMessage)

	require.NoError(t, o.Stop())
	assert.True(t, pinger.stopped)
	assert.True(t, ponger.stopped)

	err = o.Send(ping{n: 2})
	assert.ErrorIs(t, err, ErrStopped)
}

type stuckSubsystem struct{ testSubsystem }

func (*stuckSubsystem) Run(context.Context, <-chan any) {
	select {}
}

func Test_Overseer_Stop_timeout(t *testing.T) {
	t.Parallel()

	o := NewOverseer()
	o.stopTimeout = 10 * time.Millisecond
	stuck := &stuckSubsystem{testSubsystem: *newTestSubsystem("stuck")}
	o.RegisterSubsystem(stuck)
	require.NoError(t, o.Start())

	err := o.Stop()

	assert.ErrorIs(t, err, ErrStopTimeout)
	assert.False(t, stuck.stopped)
}
