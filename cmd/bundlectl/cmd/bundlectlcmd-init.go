// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/skratchdot/open-golang/open"
	"github.com/spf13/cobra"

	"github.com/greggcoppen/cwbundle/pkg/cwbundle"
	"github.com/greggcoppen/cwbundle/pkg/util/fileutil"
)

var initCmd = &cobra.Command{
	Use:   "init <dir>",
	Short: "Create a new bundle directory with a starter descriptor",
	Args:  cobra.ExactArgs(1),
	RunE:  initRun,
}

var openCmd = &cobra.Command{
	Use:   "open <bundle-id>",
	Short: "Open a bundle's source repository in the browser",
	Args:  cobra.ExactArgs(1),
	RunE:  openRun,
}

var initName string
var initScope string
var initAuthor string
var initFromCSS bool
var openPrintOnly bool

// openURL is replaced in tests
var openURL = open.Run

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(openCmd)

	initCmd.Flags().StringVar(&initName, "name", "", "bundle name (default: directory name)")
	initCmd.Flags().StringVar(&initScope, "scope", "text.plain", "scope of the starter menu")
	initCmd.Flags().StringVar(&initAuthor, "author", "", "bundle author")
	initCmd.Flags().BoolVar(&initFromCSS, "css", false, "start from the built-in CSS bundle")
	openCmd.Flags().BoolVar(&openPrintOnly, "print", false, "print the URL instead of opening it")
}

func initRun(cmd *cobra.Command, args []string) error {
	dir := args[0]
	var d *cwbundle.Descriptor
	if initFromCSS {
		d = cwbundle.CSSBundle()
	} else {
		name := initName
		if name == "" {
			name = filepath.Base(filepath.Clean(dir))
		}
		d = cwbundle.CurrentBundle(func(b *cwbundle.Builder) {
			b.Name(name)
			b.Author(initAuthor)
			b.Menu(name, func(m *cwbundle.MenuBuilder) {
				m.Scope(initScope)
			})
		})
		cwbundle.Normalize(d)
	}

	v := cwbundle.NewValidator(Config.Bundles.ExtraScopeRoots...)
	if err := v.Validate(d); err != nil {
		return err
	}
	data, err := cwbundle.Marshal(d, cwbundle.FormatYAML)
	if err != nil {
		return err
	}
	target := filepath.Join(dir, "bundle.yaml")
	if err := fileutil.WriteFileExclusive(target, data); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s already exists", target)
		}
		return err
	}
	WriteStdout("created %s\n", target)
	return nil
}

// BrowserURL converts a git repository URL into one a browser can open
func BrowserURL(repo string) (string, error) {
	if repo == "" {
		return "", errors.New("bundle has no git_repo")
	}
	if !cwbundle.IsValidGitRepo(repo) {
		return "", fmt.Errorf("%w: %q", cwbundle.ErrInvalidGitRepo, repo)
	}
	// scp-style user@host:path
	if !strings.Contains(repo, "://") {
		colon := strings.Index(repo, ":")
		repo = "ssh://" + repo[:colon] + "/" + strings.TrimPrefix(repo[colon+1:], "/")
	}
	u, err := url.Parse(repo)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "git", "ssh":
		u.Scheme = "https"
		u.User = nil
		u.Path = strings.TrimSuffix(u.Path, ".git")
	case "http", "https":
		u.Path = strings.TrimSuffix(u.Path, ".git")
	}
	return u.String(), nil
}

func openRun(cmd *cobra.Command, args []string) error {
	d, err := loadDescriptor(args[0])
	if err != nil {
		return err
	}
	target, err := BrowserURL(d.GitRepo)
	if err != nil {
		return err
	}
	if openPrintOnly {
		WriteStdout("%s\n", target)
		return nil
	}
	if err := openURL(target); err != nil {
		return fmt.Errorf("opening %s: %w", target, err)
	}
	WriteStdout("opened %s\n", target)
	return nil
}
