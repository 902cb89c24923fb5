// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

// Package sandbox isolates PVF worker processes. The host side builds the
// worker command, the worker side restricts itself before touching any
// untrusted input.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/ChainSafe/gossamer-pvf/internal/log"
	"github.com/ChainSafe/gossamer/pkg/scale"
)

var logger = log.NewFromGlobal(log.AddContext("pkg", "pvf-sandbox"))

var (
	ErrModeNotRecognised      = errors.New("sandbox mode not recognised")
	ErrFeatureUnavailable     = errors.New("required sandbox feature unavailable")
	ErrNamespacesUnavailable  = errors.New("namespaces unavailable")
	ErrLandlockUnavailable    = errors.New("landlock unavailable")
	ErrSeccompUnavailable     = errors.New("seccomp unavailable")
	ErrUnsupportedPlatform    = errors.New("unsupported platform")
	ErrMalformedProbeResponse = errors.New("malformed sandbox probe response")
)

// Mode is how a sandbox feature is applied.
type Mode uint8

const (
	// Off does not apply the feature.
	Off Mode = iota
	// BestEffort applies the feature if the kernel supports it and
	// only warns otherwise.
	BestEffort
	// Required fails if the feature cannot be applied.
	Required
)

func (m Mode) String() string {
	switch m {
	case Off:
		return "off"
	case BestEffort:
		return "best-effort"
	case Required:
		return "required"
	default:
		return fmt.Sprintf("unknown mode %d", m)
	}
}

// ParseMode parses a mode string as written in the configuration.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "off", "disabled":
		return Off, nil
	case "best-effort", "besteffort":
		return BestEffort, nil
	case "required", "on":
		return Required, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrModeNotRecognised, s)
	}
}

// Policy sets the mode of every sandbox feature.
type Policy struct {
	Namespaces Mode
	Landlock   Mode
	Seccomp    Mode
}

// Features lists the sandbox features effectively applied to a worker.
type Features struct {
	Namespaces bool `scale:"1"`
	Landlock   bool `scale:"2"`
	Seccomp    bool `scale:"3"`
}

func (f Features) String() string {
	return fmt.Sprintf("namespaces=%t landlock=%t seccomp=%t", f.Namespaces, f.Landlock, f.Seccomp)
}

// check returns an error wrapping ErrFeatureUnavailable if a required
// feature is missing, and logs a warning for best effort ones.
func (p Policy) check(features Features) error {
	type feature struct {
		name    string
		mode    Mode
		applied bool
	}
	var missing []string
	for _, f := range []feature{
		{name: "namespaces", mode: p.Namespaces, applied: features.Namespaces},
		{name: "landlock", mode: p.Landlock, applied: features.Landlock},
		{name: "seccomp", mode: p.Seccomp, applied: features.Seccomp},
	} {
		if f.applied || f.mode == Off {
			continue
		}
		if f.mode == Required {
			missing = append(missing, f.name)
			continue
		}
		logger.Warnf("sandbox feature %s is not available, workers run without it", f.name)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrFeatureUnavailable, strings.Join(missing, ", "))
	}
	return nil
}

// Restrictions are applied by a worker to itself with Enforce.
type Restrictions struct {
	// ReadOnlyDirs can be read and listed.
	ReadOnlyDirs []string
	// ReadWriteDirs can additionally be written to.
	ReadWriteDirs []string
	Landlock      Mode
	Seccomp       Mode
	// CPUTimeLimit is a process lifetime CPU backstop, zero disables it.
	CPUTimeLimit time.Duration
	// MaxOpenFiles caps the number of file descriptors, zero disables it.
	MaxOpenFiles uint64
}

// CommandOptions configure the host side of a worker process.
type CommandOptions struct {
	// Namespaces runs the worker in new user, network, IPC, UTS and mount
	// namespaces.
	Namespaces bool
	// Dir is the working directory of the worker.
	Dir string
	// Env is the complete environment of the worker. Nothing is inherited.
	Env []string
}

// RunCheck is the worker side of Probe: it enforces the restrictions in
// best effort mode and reports the applied features on w.
func RunCheck(w io.Writer, restrictions Restrictions) error {
	restrictions.Landlock = BestEffort
	restrictions.Seccomp = BestEffort
	features, err := Enforce(restrictions)
	if err != nil {
		return fmt.Errorf("enforcing restrictions: %w", err)
	}

	encoded, err := scale.Marshal(features)
	if err != nil {
		return fmt.Errorf("encoding features: %w", err)
	}
	_, err = w.Write(encoded)
	return err
}

// Probe spawns the worker program in check mode with the sandbox applied
// and returns the features it could apply. If the namespaces policy is not
// Off and the process cannot start in new namespaces, it is retried
// without them. Probe fails if the policy requires a missing feature.
func Probe(ctx context.Context, program string, args []string, policy Policy) (Features, error) {
	options := CommandOptions{Namespaces: policy.Namespaces != Off}

	output, err := runCheck(ctx, program, args, options)
	if err != nil && options.Namespaces {
		logger.Debugf("probing with namespaces failed: %s", err)
		options.Namespaces = false
		output, err = runCheck(ctx, program, args, options)
	}
	if err != nil {
		return Features{}, fmt.Errorf("running sandbox check: %w", err)
	}

	var features Features
	err = scale.Unmarshal(output, &features)
	if err != nil {
		return Features{}, fmt.Errorf("%w: %s", ErrMalformedProbeResponse, err)
	}
	// the worker cannot tell if it runs in new namespaces
	features.Namespaces = options.Namespaces

	if err := policy.check(features); err != nil {
		return features, err
	}
	logger.Infof("sandbox probe: %s", features)
	return features, nil
}

func runCheck(ctx context.Context, program string, args []string, options CommandOptions) ([]byte, error) {
	cmd := Command(ctx, program, args, options)
	stdout := bytes.NewBuffer(nil)
	stderr := bytes.NewBuffer(nil)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}
