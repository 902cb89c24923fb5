// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package common

import (
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
)

const wazeroModulePath = "github.com/tetratelabs/wazero"

var fingerprint = sync.OnceValue(computeFingerprint)

// Fingerprint identifies the compiler and host build producing artifacts.
// Artifacts written under a different fingerprint are never reused.
func Fingerprint() string {
	return fingerprint()
}

func computeFingerprint() string {
	hostVersion := "unknown"
	compilerVersion := "unknown"

	info, ok := debug.ReadBuildInfo()
	if ok {
		hostVersion = info.Main.Version
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				hostVersion += "@" + setting.Value
			}
		}
		for _, dep := range info.Deps {
			if dep.Path == wazeroModulePath {
				compilerVersion = dep.Version
			}
		}
	}

	return strings.Join([]string{
		"host/" + hostVersion,
		"wazero/" + compilerVersion,
		runtime.GOOS + "-" + runtime.GOARCH,
	}, " ")
}
