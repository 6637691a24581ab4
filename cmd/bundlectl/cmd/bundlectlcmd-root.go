// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/greggcoppen/cwbundle/pkg/cwbundle"
	"github.com/greggcoppen/cwbundle/pkg/cwlog"
	"github.com/greggcoppen/cwbundle/pkg/cwregistry"
	"github.com/greggcoppen/cwbundle/pkg/wconfig"
)

var (
	BundlectlVersion = "0.0.0"

	Config *wconfig.ConfigType
	Logger = zap.NewNop()

	configPath   string
	bundlesFlag  string
	logLevelFlag string
)

// errProblemsFound makes the process exit non-zero after problems were printed
var errProblemsFound = errors.New("problems found")

var rootCmd = &cobra.Command{
	Use:               "bundlectl",
	Short:             "Inspect, validate and serve editor bundle descriptors",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: preRunLoadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default "+wconfig.GetConfigPath()+")")
	rootCmd.PersistentFlags().StringVar(&bundlesFlag, "bundles", "", "bundles root directory")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level (debug, info, warn, error, none)")
}

func preRunLoadConfig(cmd *cobra.Command, args []string) error {
	config, err := wconfig.Load(configPath)
	if err != nil {
		return err
	}
	if bundlesFlag != "" {
		config.Bundles.Dir = bundlesFlag
	}
	if logLevelFlag != "" {
		config.Log.Level = logLevelFlag
	}
	logger, err := cwlog.New(config.Log.Level, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	Config = config
	Logger = logger
	return nil
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	rootCmd.Version = BundlectlVersion
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	Logger.Sync()
	if err != nil {
		if !errors.Is(err, errProblemsFound) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func WriteStdout(fmtStr string, args ...interface{}) {
	fmt.Fprintf(rootCmd.OutOrStdout(), fmtStr, args...)
}

func WriteStderr(fmtStr string, args ...interface{}) {
	fmt.Fprintf(rootCmd.ErrOrStderr(), fmtStr, args...)
}

func writeJSON(v interface{}) error {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	WriteStdout("%s\n", string(jsonBytes))
	return nil
}

func scanOptions() cwregistry.ScanOptions {
	return cwregistry.ScanOptions{
		Validator:   cwbundle.NewValidator(Config.Bundles.ExtraScopeRoots...),
		Concurrency: Config.Bundles.ScanConcurrency,
		Logger:      Logger,
	}
}

// loadRegistry scans the configured bundles root, or the built-in bundles
// when no root can be found
func loadRegistry() (*cwregistry.Registry, error) {
	cwregistry.Configure(Config.Bundles.Dir, scanOptions())
	reg, err := cwregistry.ReloadRegistry()
	if err != nil {
		return nil, fmt.Errorf("loading bundles: %w", err)
	}
	if reg.Root == "" {
		Logger.Debug("no bundles root found, using built-in bundles")
	}
	return reg, nil
}
