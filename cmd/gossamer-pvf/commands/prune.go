// Copyright 2024 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// PruneCmd is the command to prune the artifact cache
var PruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Prune the artifact cache",
	Long: `prune removes prepared artifacts unused for longer than
--cache-unused-ttl and evicts the least recently used ones above
--cache-max-size and --cache-max-count. Artifacts written by another
build of the host are always removed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return execPrune(cmd)
	},
}

// execPrune executes the prune command
func execPrune(cmd *cobra.Command) error {
	cache, err := openCache(config)
	if err != nil {
		return err
	}

	pruned := cache.Prune(time.Now())
	for _, id := range pruned {
		logger.Debugf("pruned artifact %s", id)
	}
	logger.Infof("pruned %d artifacts, %d remaining using %d bytes",
		len(pruned), cache.Len(), cache.TotalSize())

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d\n", len(pruned))
	return err
}
