// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

type contextKeyValues struct {
	key    string
	values []string
}

type settings struct {
	writer  io.Writer
	level   *Level
	colour  *bool
	caller  callerSettings
	context []contextKeyValues
}

func newSettings(options []Option) (s settings) {
	for _, option := range options {
		option(&s)
	}
	return s
}

// mergeWith sets unset fields of s with the fields of other.
// Context key values of other are prepended to the ones of s.
func (s *settings) mergeWith(other settings) {
	if s.writer == nil {
		s.writer = other.writer
	}

	if s.level == nil && other.level != nil {
		value := *other.level
		s.level = &value
	}

	if s.colour == nil && other.colour != nil {
		value := *other.colour
		s.colour = &value
	}

	s.caller.mergeWith(other.caller)

	if len(other.context) > 0 {
		merged := make([]contextKeyValues, 0, len(other.context)+len(s.context))
		for _, kv := range other.context {
			merged = append(merged, contextKeyValues{
				key:    kv.key,
				values: append([]string(nil), kv.values...),
			})
		}
	ownLoop:
		for _, kv := range s.context {
			for i := range merged {
				if merged[i].key == kv.key {
					merged[i].values = append(merged[i].values, kv.values...)
					continue ownLoop
				}
			}
			merged = append(merged, kv)
		}
		s.context = merged
	}
}

// overrideWith sets the fields of s to the set fields of other.
func (s *settings) overrideWith(other settings) {
	if other.writer != nil {
		s.writer = other.writer
	}

	if other.level != nil {
		value := *other.level
		s.level = &value
	}

	if other.colour != nil {
		value := *other.colour
		s.colour = &value
	}

	if other.caller.file != nil {
		s.caller.file = other.caller.file
	}
	if other.caller.line != nil {
		s.caller.line = other.caller.line
	}

	for _, kv := range other.context {
		AddContext(kv.key, strings.Join(kv.values, ","))(s)
	}
}

func (s *settings) setDefaults() {
	if s.writer == nil {
		s.writer = os.Stdout
	}

	if s.level == nil {
		level := Info
		s.level = &level
	}

	if s.colour == nil {
		colour := false
		s.colour = &colour
	}

	s.caller.setDefaults()
}

type callerSettings struct {
	file *bool
	line *bool
}

func (c *callerSettings) mergeWith(other callerSettings) {
	if c.file == nil && other.file != nil {
		value := *other.file
		c.file = &value
	}

	if c.line == nil && other.line != nil {
		value := *other.line
		c.line = &value
	}
}

func (c *callerSettings) setDefaults() {
	if c.file == nil {
		value := false
		c.file = &value
	}

	if c.line == nil {
		value := false
		c.line = &value
	}
}

func getCallerString(settings callerSettings) (s string) {
	if !*settings.file && !*settings.line {
		return ""
	}

	const depth = 3
	_, file, line, ok := runtime.Caller(depth)
	if !ok {
		return "error"
	}

	var fields []string

	if *settings.file {
		fields = append(fields, filepath.Base(file))
	}

	if *settings.line {
		fields = append(fields, "L"+fmt.Sprint(line))
	}

	return strings.Join(fields, ":")
}
