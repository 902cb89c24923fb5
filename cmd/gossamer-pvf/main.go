// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package main

import (
	"os"

	"github.com/ChainSafe/gossamer-pvf/cmd/gossamer-pvf/commands"
)

func main() {
	rootCmd, err := commands.NewRootCommand()
	if err != nil {
		panic(err)
	}
	configureCobraCmd(rootCmd, "GSSMR_PVF")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
