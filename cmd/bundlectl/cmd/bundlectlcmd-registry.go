// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/greggcoppen/cwbundle/pkg/cwbundle"
	"github.com/greggcoppen/cwbundle/pkg/cwregistry"
	"github.com/greggcoppen/cwbundle/pkg/cwserve"
)

var listCmd = &cobra.Command{
	Use:   "list [query]",
	Short: "List loaded bundles, optionally filtered by a search query",
	Args:  cobra.MaximumNArgs(1),
	RunE:  listRun,
}

var findCmd = &cobra.Command{
	Use:   "find <command-name>",
	Short: "Find the bundles and menus that declare a command",
	Args:  cobra.ExactArgs(1),
	RunE:  findRun,
}

var scopeCmd = &cobra.Command{
	Use:   "scope <scope>",
	Short: "List the menus active in a scope",
	Args:  cobra.ExactArgs(1),
	RunE:  scopeRun,
}

var findUseIndex bool
var scopeUseIndex bool

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(scopeCmd)

	findCmd.Flags().BoolVar(&findUseIndex, "index", false, "query the catalog instead of scanning")
	scopeCmd.Flags().BoolVar(&scopeUseIndex, "index", false, "query the catalog instead of scanning")
}

func listRun(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry()
	if err != nil {
		return err
	}
	query := ""
	if len(args) > 0 {
		query = args[0]
	}
	summaries := []cwserve.BundleSummary{}
	for _, b := range reg.Search(query) {
		summaries = append(summaries, cwserve.Summarize(b))
	}
	return writeJSON(summaries)
}

func findRun(cmd *cobra.Command, args []string) error {
	var refs []cwregistry.CommandRef
	if findUseIndex {
		idx, err := openIndex()
		if err != nil {
			return err
		}
		defer idx.Close()
		refs, err = idx.FindCommand(cmd.Context(), args[0])
		if err != nil {
			return err
		}
	} else {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		refs = reg.FindCommand(args[0])
	}
	if len(refs) == 0 {
		return fmt.Errorf("command %q not found", args[0])
	}
	return writeJSON(refs)
}

func scopeRun(cmd *cobra.Command, args []string) error {
	scope := args[0]
	if !cwbundle.IsScopeIdentifier(scope) {
		return fmt.Errorf("%w: %q", cwbundle.ErrUnknownScope, scope)
	}
	if scopeUseIndex {
		idx, err := openIndex()
		if err != nil {
			return err
		}
		defer idx.Close()
		ids, err := idx.BundlesForScope(cmd.Context(), scope)
		if err != nil {
			return err
		}
		if ids == nil {
			ids = []string{}
		}
		return writeJSON(ids)
	}

	reg, err := loadRegistry()
	if err != nil {
		return err
	}
	menus := reg.MenusForScope(scope)
	if menus == nil {
		menus = []cwregistry.MenuRef{}
	}
	return writeJSON(menus)
}
