// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package log

import (
	"io"
	"os"
	"strconv"
)

// Option modifies the settings of a logger.
type Option func(s *settings)

// SetLevel sets the minimum level logged. It defaults to info.
func SetLevel(level Level) Option {
	return func(s *settings) {
		s.level = &level
	}
}

// SetColour toggles terminal colours for the level. Off by default.
func SetColour(enabled bool) Option {
	return func(s *settings) {
		s.colour = &enabled
	}
}

// SetCaller toggles appending the caller file name and line number.
func SetCaller(file, line bool) Option {
	return func(s *settings) {
		s.caller.file = &file
		s.caller.line = &line
	}
}

// SetWriter sets the log destination. It defaults to os.Stdout.
func SetWriter(writer io.Writer) Option {
	return func(s *settings) {
		s.writer = writer
	}
}

// AddContext appends a key value pair printed after each message.
// Values of a repeated key are joined with a comma.
func AddContext(key, value string) Option {
	return func(s *settings) {
		for i := range s.context {
			if s.context[i].key == key {
				s.context[i].values = append(s.context[i].values, value)
				return
			}
		}
		s.context = append(s.context, contextKeyValues{key: key, values: []string{value}})
	}
}

// ForWorker configures logging inside a worker process. Stdout carries the
// host protocol so lines go uncoloured to stderr, tagged with the worker
// kind and process id.
func ForWorker(kind string) Option {
	return func(s *settings) {
		SetWriter(os.Stderr)(s)
		SetColour(false)(s)
		AddContext("worker", kind)(s)
		AddContext("pid", strconv.Itoa(os.Getpid()))(s)
	}
}
