// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package commands

import (
	"fmt"
	"path/filepath"

	cfg "github.com/ChainSafe/gossamer-pvf/config"
	"github.com/spf13/cobra"
)

func init() {
	InitCmd.Flags().Bool("force", false, "overwrite an existing config file")
}

// InitCmd is the command to initialise the base path
var InitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialise the base path",
	Long: `The init command creates the artifact directories and writes
the effective configuration to config.toml under the base path.
Usage: gossamer-pvf init --base-path ~/.gossamer-pvf --force`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return execInit(cmd)
	},
}

// execInit executes the init command. The root command already created
// the directories and a missing config file.
func execInit(cmd *cobra.Command) error {
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return fmt.Errorf("failed to get --force: %s", err)
	}

	configFilePath := filepath.Join(config.BasePath, cfg.ConfigFile)
	if force {
		if err := cfg.WriteConfigFile(configFilePath, config); err != nil {
			return err
		}
	}

	logger.Infof("base path initialised at %s", config.BasePath)
	_, err = fmt.Fprintln(cmd.OutOrStdout(), configFilePath)
	return err
}
