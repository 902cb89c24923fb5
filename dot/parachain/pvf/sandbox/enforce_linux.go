// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package sandbox

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/sys/unix"
)

// Enforce restricts the calling worker process. It sets resource limits,
// then the landlock filesystem view and finally the seccomp filter. A
// feature in best effort mode which the kernel does not support is skipped.
func Enforce(restrictions Restrictions) (features Features, err error) {
	err = setResourceLimits(restrictions)
	if err != nil {
		return features, fmt.Errorf("setting resource limits: %w", err)
	}

	if restrictions.Landlock != Off {
		err = restrictFilesystem(restrictions.ReadOnlyDirs, restrictions.ReadWriteDirs)
		switch {
		case err == nil:
			features.Landlock = true
		case restrictions.Landlock == BestEffort && errors.Is(err, ErrLandlockUnavailable):
			logger.Debugf("skipping landlock: %s", err)
		default:
			return features, fmt.Errorf("restricting filesystem: %w", err)
		}
	}

	if restrictions.Seccomp != Off {
		err = loadSyscallFilter()
		switch {
		case err == nil:
			features.Seccomp = true
		case restrictions.Seccomp == BestEffort && errors.Is(err, ErrSeccompUnavailable):
			logger.Debugf("skipping seccomp: %s", err)
		default:
			return features, fmt.Errorf("filtering syscalls: %w", err)
		}
	}

	return features, nil
}

func setResourceLimits(restrictions Restrictions) error {
	err := unix.Setrlimit(unix.RLIMIT_CORE, &unix.Rlimit{Cur: 0, Max: 0})
	if err != nil {
		return fmt.Errorf("disabling core dumps: %w", err)
	}

	if restrictions.CPUTimeLimit > 0 {
		seconds := uint64(math.Ceil(restrictions.CPUTimeLimit.Seconds()))
		// SIGXCPU at the soft limit, SIGKILL one second later
		err = unix.Setrlimit(unix.RLIMIT_CPU, &unix.Rlimit{Cur: seconds, Max: seconds + 1})
		if err != nil {
			return fmt.Errorf("limiting cpu time: %w", err)
		}
	}

	if restrictions.MaxOpenFiles > 0 {
		limit := &unix.Rlimit{Cur: restrictions.MaxOpenFiles, Max: restrictions.MaxOpenFiles}
		err = unix.Setrlimit(unix.RLIMIT_NOFILE, limit)
		if err != nil {
			return fmt.Errorf("limiting open files: %w", err)
		}
	}
	return nil
}
