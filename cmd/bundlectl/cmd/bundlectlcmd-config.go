// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/greggcoppen/cwbundle/pkg/wconfig"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "bundlectl configuration commands",
}

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  configGetRun,
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with the default settings",
	Args:  cobra.MaximumNArgs(1),
	RunE:  configInitRun,
}

var configInitForce bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
}

func configGetRun(cmd *cobra.Command, args []string) error {
	return writeJSON(Config)
}

func configInitRun(cmd *cobra.Command, args []string) error {
	path := wconfig.GetConfigPath()
	if len(args) > 0 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil && !configInitForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := wconfig.Save(path, wconfig.DefaultConfig()); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	WriteStdout("wrote %s\n", path)
	return nil
}
