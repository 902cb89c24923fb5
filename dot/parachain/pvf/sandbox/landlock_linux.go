// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package sandbox

import (
	"errors"
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// landlock ABI 1 filesystem rights
const (
	accessFSAll = unix.LANDLOCK_ACCESS_FS_EXECUTE |
		unix.LANDLOCK_ACCESS_FS_WRITE_FILE |
		unix.LANDLOCK_ACCESS_FS_READ_FILE |
		unix.LANDLOCK_ACCESS_FS_READ_DIR |
		unix.LANDLOCK_ACCESS_FS_REMOVE_DIR |
		unix.LANDLOCK_ACCESS_FS_REMOVE_FILE |
		unix.LANDLOCK_ACCESS_FS_MAKE_CHAR |
		unix.LANDLOCK_ACCESS_FS_MAKE_DIR |
		unix.LANDLOCK_ACCESS_FS_MAKE_REG |
		unix.LANDLOCK_ACCESS_FS_MAKE_SOCK |
		unix.LANDLOCK_ACCESS_FS_MAKE_FIFO |
		unix.LANDLOCK_ACCESS_FS_MAKE_BLOCK |
		unix.LANDLOCK_ACCESS_FS_MAKE_SYM

	accessFSReadOnly = unix.LANDLOCK_ACCESS_FS_READ_FILE |
		unix.LANDLOCK_ACCESS_FS_READ_DIR

	accessFSReadWrite = accessFSReadOnly |
		unix.LANDLOCK_ACCESS_FS_WRITE_FILE |
		unix.LANDLOCK_ACCESS_FS_REMOVE_FILE |
		unix.LANDLOCK_ACCESS_FS_REMOVE_DIR |
		unix.LANDLOCK_ACCESS_FS_MAKE_REG |
		unix.LANDLOCK_ACCESS_FS_MAKE_DIR
)

func landlockABIVersion() (version int, err error) {
	r1, _, errno := unix.Syscall(unix.SYS_LANDLOCK_CREATE_RULESET,
		0, 0, unix.LANDLOCK_CREATE_RULESET_VERSION)
	if errno != 0 {
		return 0, errno
	}
	return int(r1), nil
}

// restrictFilesystem limits every thread of the process to the given
// directories. Anything outside of them can no longer be opened.
func restrictFilesystem(readOnlyDirs, readWriteDirs []string) error {
	version, err := landlockABIVersion()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrLandlockUnavailable, err)
	}
	logger.Debugf("landlock ABI version %d", version)

	attr := unix.LandlockRulesetAttr{Access_fs: accessFSAll}
	r1, _, errno := unix.Syscall(unix.SYS_LANDLOCK_CREATE_RULESET,
		uintptr(unsafe.Pointer(&attr)), unsafe.Sizeof(attr.Access_fs), 0)
	if errno != 0 {
		return fmt.Errorf("creating ruleset: %w", errno)
	}
	rulesetFd := int(r1)
	defer unix.Close(rulesetFd)

	for _, dir := range readOnlyDirs {
		err = addPathRule(rulesetFd, dir, accessFSReadOnly)
		if err != nil {
			return err
		}
	}
	for _, dir := range readWriteDirs {
		err = addPathRule(rulesetFd, dir, accessFSReadWrite)
		if err != nil {
			return err
		}
	}

	// landlock and no_new_privs are per thread, the Go runtime already
	// started several
	_, _, errno = syscall.AllThreadsSyscall(unix.SYS_PRCTL, unix.PR_SET_NO_NEW_PRIVS, 1, 0)
	if errors.Is(errno, syscall.ENOTSUP) {
		return fmt.Errorf("%w: not supported in cgo builds", ErrLandlockUnavailable)
	} else if errno != 0 {
		return fmt.Errorf("setting no_new_privs: %w", errno)
	}

	_, _, errno = syscall.AllThreadsSyscall(unix.SYS_LANDLOCK_RESTRICT_SELF, uintptr(rulesetFd), 0, 0)
	if errno != 0 {
		return fmt.Errorf("restricting threads: %w", errno)
	}
	return nil
}

func addPathRule(rulesetFd int, dir string, access uint64) error {
	fd, err := unix.Open(dir, unix.O_PATH|unix.O_CLOEXEC|unix.O_DIRECTORY, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", dir, err)
	}
	defer unix.Close(fd)

	rule := unix.LandlockPathBeneathAttr{
		Allowed_access: access,
		Parent_fd:      int32(fd),
	}
	_, _, errno := unix.Syscall6(unix.SYS_LANDLOCK_ADD_RULE, uintptr(rulesetFd),
		unix.LANDLOCK_RULE_PATH_BENEATH, uintptr(unsafe.Pointer(&rule)), 0, 0, 0)
	if errno != 0 {
		return fmt.Errorf("adding rule for %s: %w", dir, errno)
	}
	return nil
}
