// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package log

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color" //nolint:misspell
)

// Level is the level of the logger.
type Level uint8

const (
	Trace Level = iota
	Debug
	Info
	Warn
	Error
	Critical
)

type levelInfo struct {
	short  string
	long   string
	colour color.Attribute
}

// levels is indexed by Level. Short names are what log lines carry.
var levels = [...]levelInfo{
	Trace:    {short: "TRCE", long: "TRACE", colour: color.FgHiCyan},
	Debug:    {short: "DBUG", long: "DEBUG", colour: color.FgHiBlue},
	Info:     {short: "INFO", long: "INFO", colour: color.FgCyan},
	Warn:     {short: "WARN", long: "WARNING", colour: color.FgYellow},
	Error:    {short: "EROR", long: "ERROR", colour: color.FgHiRed},
	Critical: {short: "CRIT", long: "CRITICAL", colour: color.FgRed},
}

func (level Level) String() string {
	if int(level) >= len(levels) {
		return "???"
	}
	return levels[level].short
}

// ColouredString returns the level string wrapped in its terminal colour.
func (level Level) ColouredString() string {
	attribute := color.Reset
	if int(level) < len(levels) {
		attribute = levels[level].colour
	}
	return color.New(attribute).Sprint(level.String())
}

// ErrLevelNotRecognised is returned by ParseLevel for unknown level names.
var ErrLevelNotRecognised = errors.New("level is not recognised")

// ParseLevel accepts short (dbug) and long (debug) level names in any case.
func ParseLevel(s string) (Level, error) {
	upper := strings.ToUpper(s)
	for level, info := range levels {
		if upper == info.short || upper == info.long {
			return Level(level), nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrLevelNotRecognised, s)
}
