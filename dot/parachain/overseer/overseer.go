// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package overseer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	parachaintypes "github.com/ChainSafe/gossamer-pvf/dot/parachain/types"
	"github.com/ChainSafe/gossamer-pvf/internal/log"
)

var (
	logger = log.NewFromGlobal(log.AddContext("pkg", "parachain-overseer"))
)

var (
	ErrStopped     = errors.New("overseer stopped")
	ErrStopTimeout = errors.New("timed out waiting for subsystems to stop")
)

const defaultStopTimeout = 10 * time.Second

// Subsystem is an interface for subsystems to be registered with the overseer.
type Subsystem interface {
	// Run processes messages until the context is canceled.
	Run(ctx context.Context, overseerToSubsystem <-chan any)
	Name() string
	ProcessActiveLeavesUpdateSignal(parachaintypes.ActiveLeavesUpdateSignal) error
	ProcessBlockFinalizedSignal(parachaintypes.BlockFinalizedSignal) error
	// Stop waits for the work started by the subsystem.
	Stop()
}

// Overseer routes messages to the subsystem registered for their type and
// broadcasts signals to every subsystem.
type Overseer struct {
	ctx                  context.Context
	cancel               context.CancelFunc
	SubsystemsToOverseer chan any
	subsystems           map[Subsystem]chan any // map[Subsystem]OverseerToSubSystem channel
	routes               map[reflect.Type]Subsystem
	stopTimeout          time.Duration
	wg                   sync.WaitGroup
}

func NewOverseer() *Overseer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Overseer{
		ctx:                  ctx,
		cancel:               cancel,
		SubsystemsToOverseer: make(chan any),
		subsystems:           make(map[Subsystem]chan any),
		routes:               make(map[reflect.Type]Subsystem),
		stopTimeout:          defaultStopTimeout,
	}
}

// RegisterSubsystem registers a subsystem handling the types of the given
// messages. It must be called before Start.
func (o *Overseer) RegisterSubsystem(subsystem Subsystem, messages ...any) {
	o.subsystems[subsystem] = make(chan any)
	for _, msg := range messages {
		o.routes[reflect.TypeOf(msg)] = subsystem
	}
}

func (o *Overseer) Start() error {
	for subsystem, overseerToSubSystem := range o.subsystems {
		o.wg.Add(1)
		go func(sub Subsystem, overseerToSubSystem chan any) {
			defer o.wg.Done()
			sub.Run(o.ctx, overseerToSubSystem)
			logger.Debugf("subsystem %s stopped", sub.Name())
		}(subsystem, overseerToSubSystem)
	}

	go o.processMessages()
	return nil
}

// Send delivers msg to the subsystem registered for its type.
func (o *Overseer) Send(msg any) error {
	subsystem, ok := o.routes[reflect.TypeOf(msg)]
	if !ok {
		return fmt.Errorf("%w: %T", parachaintypes.ErrUnknownOverseerMessage, msg)
	}
	return o.deliver(subsystem, msg)
}

// BroadcastSignal delivers an overseer signal to every subsystem.
func (o *Overseer) BroadcastSignal(signal any) error {
	switch signal.(type) {
	case parachaintypes.ActiveLeavesUpdateSignal, parachaintypes.BlockFinalizedSignal:
	default:
		return fmt.Errorf("%w: %T", parachaintypes.ErrUnknownOverseerMessage, signal)
	}

	for subsystem := range o.subsystems {
		if err := o.deliver(subsystem, signal); err != nil {
			return err
		}
	}
	return nil
}

func (o *Overseer) deliver(subsystem Subsystem, msg any) error {
	select {
	case o.subsystems[subsystem] <- msg:
		return nil
	case <-o.ctx.Done():
		return ErrStopped
	}
}

func (o *Overseer) processMessages() {
	for {
		select {
		case msg := <-o.SubsystemsToOverseer:
			if err := o.Send(msg); err != nil {
				logger.Errorf("routing message from subsystem: %s", err)
			}
		case <-o.ctx.Done():
			logger.Debug("overseer stopping")
			return
		}
	}
}

// Stop cancels the subsystems and waits for them to return.
func (o *Overseer) Stop() error {
	o.cancel()

	if waitTimeout(&o.wg, o.stopTimeout) {
		return fmt.Errorf("%w: %s", ErrStopTimeout, o.stopTimeout)
	}
	for subsystem := range o.subsystems {
		subsystem.Stop()
	}
	return nil
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) (timeouted bool) {
	c := make(chan struct{})
	go func() {
		defer close(c)
		wg.Wait()
	}()
	timeoutTimer := time.NewTimer(timeout)
	select {
	case <-c:
		if !timeoutTimer.Stop() {
			<-timeoutTimer.C
		}
		return false // completed normally
	case <-timeoutTimer.C:
		return true // timed out
	}
}
