// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package sandbox

import (
	"fmt"

	seccomp "github.com/elastic/go-seccomp-bpf"
)

// deniedSyscalls are never needed by a worker once it is running. They
// cover networking, process spawning, tracing, mounts, kernel modules and
// namespaces.
var deniedSyscalls = []string{
	// networking
	"socket", "socketpair", "connect", "bind", "listen", "accept", "accept4",
	// process spawning
	"execve", "execveat",
	// tracing and other processes memory
	"ptrace", "process_vm_readv", "process_vm_writev",
	// mounts and filesystem roots
	"mount", "umount2", "pivot_root", "chroot",
	// kernel modules and system state
	"init_module", "finit_module", "delete_module", "kexec_load", "reboot",
	"swapon", "swapoff",
	// namespaces
	"unshare", "setns",
	// kernel attack surface
	"bpf", "perf_event_open", "keyctl", "add_key", "request_key",
}

func syscallFilter() seccomp.Filter {
	return seccomp.Filter{
		NoNewPrivs: true,
		Flag:       seccomp.FilterFlagTSync,
		Policy: seccomp.Policy{
			DefaultAction: seccomp.ActionAllow,
			Syscalls: []seccomp.SyscallGroup{
				{
					Action: seccomp.ActionErrno,
					Names:  deniedSyscalls,
				},
			},
		},
	}
}

// loadSyscallFilter installs the seccomp filter on every thread.
func loadSyscallFilter() error {
	if !seccomp.Supported() {
		return ErrSeccompUnavailable
	}
	err := seccomp.LoadFilter(syscallFilter())
	if err != nil {
		// kernels without filter support fail here, e.g. EINVAL
		return fmt.Errorf("%w: loading filter: %s", ErrSeccompUnavailable, err)
	}
	return nil
}
