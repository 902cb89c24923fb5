// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package sandbox

import (
	"testing"

	seccomp "github.com/elastic/go-seccomp-bpf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_syscallFilter(t *testing.T) {
	t.Parallel()

	filter := syscallFilter()

	assert.True(t, filter.NoNewPrivs)
	assert.Equal(t, seccomp.FilterFlagTSync, filter.Flag)
	assert.Equal(t, seccomp.ActionAllow, filter.Policy.DefaultAction)
	require.Len(t, filter.Policy.Syscalls, 1)
	assert.Equal(t, seccomp.ActionErrno, filter.Policy.Syscalls[0].Action)
	assert.Contains(t, filter.Policy.Syscalls[0].Names, "connect")
	assert.Contains(t, filter.Policy.Syscalls[0].Names, "execve")
	assert.NotContains(t, filter.Policy.Syscalls[0].Names, "clone")

	// every name must be known to the filter assembler on this architecture
	_, err := filter.Policy.Assemble()
	require.NoError(t, err)
}
