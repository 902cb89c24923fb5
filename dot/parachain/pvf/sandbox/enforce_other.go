// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

//go:build !linux

package sandbox

import "fmt"

// Enforce only succeeds if no sandbox feature is required, since none is
// available on this platform.
func Enforce(restrictions Restrictions) (features Features, err error) {
	if restrictions.Landlock == Required {
		return features, fmt.Errorf("%w: %w", ErrLandlockUnavailable, ErrUnsupportedPlatform)
	}
	if restrictions.Seccomp == Required {
		return features, fmt.Errorf("%w: %w", ErrSeccompUnavailable, ErrUnsupportedPlatform)
	}
	return features, nil
}
