// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

//go:build !linux

package sandbox

import (
	"context"
	"os/exec"
)

// Command returns the command running a worker. Namespaces are not
// supported on this platform and are ignored.
func Command(ctx context.Context, program string, args []string, options CommandOptions) *exec.Cmd {
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Dir = options.Dir
	cmd.Env = append([]string{}, options.Env...)
	return cmd
}

// Kill kills a started worker command.
func Kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
