// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package main

import (
	"errors"
	"os"
	"strings"

	"github.com/ChainSafe/gossamer-pvf/cmd/gossamer-pvf/commands"
	"github.com/ChainSafe/gossamer-pvf/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// configureCobraCmd configures the cobra command with the given environment prefix.
func configureCobraCmd(cmd *cobra.Command, envPrefix string) {
	cobra.OnInitialize(func() { initEnv(envPrefix) })
	cmd.PersistentPreRunE = concatCobraCmdFuncs(configureViper, cmd.PersistentPreRunE)
}

// initEnv sets to use ENV variables if set.
func initEnv(prefix string) {
	copyEnvVars(prefix)

	// env variables with GSSMR_PVF prefix (eg. GSSMR_PVF_BASE_PATH)
	viper.SetEnvPrefix(prefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// copyEnvVars copies all envs like GSSMRPVF_BASE_PATH to GSSMR_PVF_BASE_PATH,
// so we can support both formats.
func copyEnvVars(prefix string) {
	prefix = strings.ToUpper(prefix)
	short := strings.ReplaceAll(prefix, "_", "") + "_"
	for _, e := range os.Environ() {
		k, v, ok := strings.Cut(e, "=")
		if ok && strings.HasPrefix(k, short) {
			_ = os.Setenv(prefix+"_"+strings.TrimPrefix(k, short), v)
		}
	}
}

type cobraCmdFunc func(cmd *cobra.Command, args []string) error

// concatCobraCmdFuncs concatenates the given cobra command functions into a single function.
func concatCobraCmdFuncs(fs ...cobraCmdFunc) cobraCmdFunc {
	return func(cmd *cobra.Command, args []string) error {
		for _, f := range fs {
			if f != nil {
				if err := f(cmd, args); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

// configureViper sets up viper to read from the config file under the base path
func configureViper(*cobra.Command, []string) error {
	basePath := commands.ExpandDir(viper.GetString(commands.BasePathFlag))
	viper.Set(commands.BasePathFlag, basePath)
	viper.SetConfigName(strings.TrimSuffix(config.ConfigFile, ".toml"))
	viper.SetConfigType("toml")
	viper.AddConfigPath(basePath)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
	}
	return nil
}
