// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package log

import (
	"bytes"
	"os"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const timePrefixRegex = `^[0-9]{4}-[0-9]{2}-[0-9]{2}T[0-9]{2}:[0-9]{2}:[0-9]{2}(Z|[+-][0-9]{2}:[0-9]{2}) `

func Test_Logger_log(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		options  []Option
		logLevel Level
		message  string
		regex    string
	}{
		"below level": {
			options:  []Option{SetLevel(Warn)},
			logLevel: Info,
			message:  "ignored",
		},
		"at level": {
			options:  []Option{SetLevel(Info)},
			logLevel: Info,
			message:  "hello",
			regex:    timePrefixRegex + `INFO hello\n$`,
		},
		"with context": {
			options: []Option{
				SetLevel(Debug),
				AddContext("pkg", "pvf"),
				AddContext("pkg", "prepare"),
				AddContext("worker", "1"),
			},
			logLevel: Error,
			message:  "failed",
			regex:    timePrefixRegex + `EROR failed\tpkg=pvf,prepare worker=1\n$`,
		},
		"with caller file and line": {
			options:  []Option{SetCaller(true, true)},
			logLevel: Warn,
			message:  "careful",
			regex:    timePrefixRegex + `WARN careful\tlogger_test.go:L[0-9]+\n$`,
		},
	}

	for name, testCase := range testCases {
		testCase := testCase
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			buffer := bytes.NewBuffer(nil)
			options := append([]Option{SetWriter(buffer)}, testCase.options...)
			logger := New(options...)

			switch testCase.logLevel {
			case Info:
				logger.Info(testCase.message)
			case Warn:
				logger.Warn(testCase.message)
			case Error:
				logger.Error(testCase.message)
			}

			if testCase.regex == "" {
				assert.Empty(t, buffer.String())
				return
			}
			assert.Regexp(t, regexp.MustCompile(testCase.regex), buffer.String())
		})
	}
}

func Test_Logger_New_child(t *testing.T) {
	t.Parallel()

	buffer := bytes.NewBuffer(nil)
	parent := New(SetWriter(buffer), SetLevel(Debug), AddContext("pkg", "pvf"))
	child := parent.New(AddContext("pool", "execute"))

	child.Debugf("spawned worker %d", 3)

	assert.Regexp(t, timePrefixRegex+`DBUG spawned worker 3\tpkg=pvf pool=execute\n$`, buffer.String())
	assert.Same(t, parent.mutex, child.mutex)
}

func Test_Logger_Patch(t *testing.T) {
	t.Parallel()

	buffer := bytes.NewBuffer(nil)
	parent := New(SetWriter(buffer), SetLevel(Error))
	child := parent.New()

	child.Info("hidden")
	require.Empty(t, buffer.String())

	parent.Patch(SetLevel(Info))
	child.Info("visible")

	assert.Regexp(t, timePrefixRegex+`INFO visible\n$`, buffer.String())
}

func Test_ParseLevel(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		s          string
		level      Level
		errWrapped error
	}{
		"short":   {s: "dbug", level: Debug},
		"long":    {s: "debug", level: Debug},
		"upper":   {s: "WARN", level: Warn},
		"error":   {s: "error", level: Error},
		"unknown": {s: "loud", errWrapped: ErrLevelNotRecognised},
	}

	for name, testCase := range testCases {
		testCase := testCase
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			level, err := ParseLevel(testCase.s)

			assert.ErrorIs(t, err, testCase.errWrapped)
			assert.Equal(t, testCase.level, level)
		})
	}
}

func Test_ForWorker(t *testing.T) {
	t.Parallel()

	logger := New(SetColour(true), ForWorker("execute"))

	assert.Equal(t, os.Stderr, logger.settings.writer)
	assert.False(t, *logger.settings.colour)
	require.Len(t, logger.settings.context, 2)
	assert.Equal(t, contextKeyValues{key: "worker", values: []string{"execute"}}, logger.settings.context[0])
	assert.Equal(t, strconv.Itoa(os.Getpid()), logger.settings.context[1].values[0])
}
