// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/greggcoppen/cwbundle/pkg/cwindex"
	"github.com/greggcoppen/cwbundle/pkg/cwregistry"
	"github.com/greggcoppen/cwbundle/pkg/cwserve"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Scan the bundles root and rebuild the catalog",
	Args:  cobra.NoArgs,
	RunE:  indexRun,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the bundles root and print a JSON event per rescan",
	Args:  cobra.NoArgs,
	RunE:  watchRun,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve bundles over HTTP, rescanning on change",
	Args:  cobra.NoArgs,
	RunE:  serveRun,
}

var indexDBPath string
var watchSyncIndex bool
var serveListen string
var serveSyncIndex bool

func init() {
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)

	rootCmd.PersistentFlags().StringVar(&indexDBPath, "db", "", "catalog database path")
	watchCmd.Flags().BoolVar(&watchSyncIndex, "index", false, "sync the catalog after every rescan")
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address")
	serveCmd.Flags().BoolVar(&serveSyncIndex, "index", false, "sync the catalog after every rescan")
}

func openIndex() (*cwindex.Index, error) {
	path := indexDBPath
	if path == "" {
		path = Config.Index.Path
	}
	return cwindex.Open(path, Logger)
}

func indexRun(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry()
	if err != nil {
		return err
	}
	idx, err := openIndex()
	if err != nil {
		return err
	}
	defer idx.Close()

	if err := idx.Sync(cmd.Context(), reg); err != nil {
		return err
	}
	entries, err := idx.List(cmd.Context())
	if err != nil {
		return err
	}
	WriteStdout("indexed %d bundles into %s\n", len(entries), idx.Path())
	for _, p := range reg.Problems {
		WriteStderr("skipped %s: %s\n", p.BundleID, problemString(p))
	}
	return nil
}

// startWatcher starts a watcher on the configured bundles root
func startWatcher(ctx context.Context) (*cwregistry.Watcher, error) {
	root := Config.Bundles.Dir
	if root == "" {
		cwregistry.Configure("", scanOptions())
		root = cwregistry.GetBundlesRoot()
	}
	if root == "" {
		return nil, fmt.Errorf("%w: set --bundles or [bundles] dir", cwregistry.ErrBundlesRootMissing)
	}
	w := cwregistry.NewWatcher(root, scanOptions(), Config.Bundles.WatchDebounce)
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// syncOnEvents keeps the catalog in step with the watcher until ctx ends or
// the watcher stops. The returned channel closes when the last sync is done.
func syncOnEvents(ctx context.Context, w *cwregistry.Watcher, idx *cwindex.Index) <-chan struct{} {
	events, cancel := w.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Error != "" {
					continue
				}
				if err := idx.Sync(ctx, w.Current()); err != nil {
					Logger.Error("catalog sync failed", zap.Error(err))
				}
			}
		}
	}()
	return done
}

func watchRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	w, err := startWatcher(ctx)
	if err != nil {
		return err
	}
	defer w.Stop()

	if watchSyncIndex {
		idx, err := openIndex()
		if err != nil {
			return err
		}
		defer idx.Close()
		if err := idx.Sync(ctx, w.Current()); err != nil {
			return err
		}
		// the watcher stops and the last sync finishes before idx closes
		synced := syncOnEvents(ctx, w, idx)
		defer func() {
			w.Stop()
			<-synced
		}()
	}

	events, cancel := w.Subscribe()
	defer cancel()
	enc := json.NewEncoder(cmd.OutOrStdout())
	if err := enc.Encode(w.Current().Event()); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
	}
}

func serveRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	w, err := startWatcher(ctx)
	if err != nil {
		return err
	}
	defer w.Stop()

	if serveSyncIndex {
		idx, err := openIndex()
		if err != nil {
			return err
		}
		defer idx.Close()
		if err := idx.Sync(ctx, w.Current()); err != nil {
			return err
		}
		// the watcher stops and the last sync finishes before idx closes
		synced := syncOnEvents(ctx, w, idx)
		defer func() {
			w.Stop()
			<-synced
		}()
	}

	listen := serveListen
	if listen == "" {
		listen = Config.Server.Listen
	}
	return cwserve.New(w, Logger).ListenAndServe(ctx, listen)
}
