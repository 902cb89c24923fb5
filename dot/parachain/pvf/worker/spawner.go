// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package worker

import (
	"context"
	"fmt"
	"os"
	"time"

	pvfcommon "github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/common"
	"github.com/ChainSafe/gossamer-pvf/dot/parachain/pvf/sandbox"
	"github.com/ChainSafe/gossamer/pkg/scale"
	"github.com/google/uuid"
)

// ProcessSpawner spawns sandboxed worker processes.
type ProcessSpawner struct {
	program     string
	args        []string
	options     sandbox.CommandOptions
	fingerprint string
	settings    Settings
}

var _ Spawner = (*ProcessSpawner)(nil)

// NewProcessSpawner returns a spawner running program with args. The
// options environment is extended with the spawn token of each worker.
func NewProcessSpawner(program string, args []string, options sandbox.CommandOptions,
	settings Settings) *ProcessSpawner {
	settings.setDefaults()
	return &ProcessSpawner{
		program:     program,
		args:        args,
		options:     options,
		fingerprint: pvfcommon.Fingerprint(),
		settings:    settings,
	}
}

// Spawn starts a worker and waits for its handshake. The context only
// bounds the startup, not the lifetime of the worker.
func (s *ProcessSpawner) Spawn(ctx context.Context) (Worker, error) {
	token := uuid.NewString()
	options := s.options
	options.Env = append(append([]string{}, s.options.Env...), TokenEnv+"="+token)

	cmd := sandbox.Command(context.Background(), s.program, s.args, options)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	// own pipes so that Wait does not close them under the readers
	stdoutReader, stdoutWriter, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrReader, stderrWriter, err := os.Pipe()
	if err != nil {
		_ = stdoutReader.Close()
		_ = stdoutWriter.Close()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutWriter
	cmd.Stderr = stderrWriter

	err = cmd.Start()
	_ = stdoutWriter.Close()
	_ = stderrWriter.Close()
	if err != nil {
		_ = stdoutReader.Close()
		_ = stderrReader.Close()
		return nil, fmt.Errorf("starting worker: %w", err)
	}

	h := newHandle(cmd, stdin, stdoutReader, stderrReader, s.settings)
	err = s.handshake(ctx, h, token)
	if err != nil {
		h.Kill()
		<-h.exited
		return nil, err
	}
	h.logger.Debugf("worker spawned")
	return h, nil
}

func (s *ProcessSpawner) handshake(ctx context.Context, h *Handle, token string) error {
	timer := time.NewTimer(s.settings.HandshakeTimeout)
	defer timer.Stop()

	var msg message
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrHandshake, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%w: timed out after %s", ErrHandshake, s.settings.HandshakeTimeout)
	case received, ok := <-h.messages:
		if !ok {
			return fmt.Errorf("%w: worker exited", ErrHandshake)
		}
		msg = received
	}

	if msg.kind != pvfcommon.MessageHandshake {
		return fmt.Errorf("%w: %w: %s", ErrHandshake, pvfcommon.ErrUnexpectedMessage, msg.kind)
	}
	var handshake pvfcommon.Handshake
	err := scale.Unmarshal(msg.body, &handshake)
	if err != nil {
		return fmt.Errorf("%w: decoding: %s", ErrHandshake, err)
	}

	switch {
	case handshake.Token != token:
		return fmt.Errorf("%w: token mismatch", ErrHandshake)
	case handshake.Fingerprint != s.fingerprint:
		return fmt.Errorf("%w: worker fingerprint %q differs from host fingerprint %q",
			ErrHandshake, handshake.Fingerprint, s.fingerprint)
	}
	return nil
}
