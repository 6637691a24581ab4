// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/greggcoppen/cwbundle/pkg/cwbundle"
	"github.com/greggcoppen/cwbundle/pkg/cwindex"
	"github.com/greggcoppen/cwbundle/pkg/cwregistry"
	"github.com/greggcoppen/cwbundle/pkg/cwserve"
	"github.com/greggcoppen/cwbundle/pkg/wconfig"
)

const dupYAML = `name: Broken
menus:
  - title: CSS
    scope: [source.css]
    commands: [Insert Color..., insert color...]
`

func resetFlags() {
	configPath, bundlesFlag, logLevelFlag = "", "", ""
	validateJSON = false
	showFormat = "yaml"
	findUseIndex, scopeUseIndex = false, false
	indexDBPath = ""
	watchSyncIndex, serveSyncIndex = false, false
	serveListen = ""
	initName, initScope, initAuthor = "", "text.plain", ""
	initFromCSS, openPrintOnly = false, false
	configInitForce = false
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	resetFlags()

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append([]string{"--log-level", "none"}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func makeRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	data, err := cwbundle.Marshal(cwbundle.CSSBundle(), cwbundle.FormatYAML)
	require.NoError(t, err)
	writeFile(t, filepath.Join(root, "css", "bundle.yaml"), string(data))
	writeFile(t, filepath.Join(root, "broken", "bundle.yaml"), dupYAML)
	writeFile(t, filepath.Join(root, "html", "bundle.yaml"), `name: HTML
menus:
  - title: HTML
    scope: [text.html.basic, source.css]
    commands: []
`)
	return root
}

func TestValidateFiles(t *testing.T) {
	root := makeRoot(t)
	good := filepath.Join(root, "css", "bundle.yaml")
	bad := filepath.Join(root, "broken", "bundle.yaml")

	out, err := runCmd(t, "validate", good, filepath.Join(root, "html"))
	require.NoError(t, err)
	assert.Contains(t, out, "ok    "+good)
	assert.Contains(t, out, "ok    "+filepath.Join(root, "html"))

	out, err = runCmd(t, "validate", bad)
	assert.ErrorIs(t, err, errProblemsFound)
	assert.Contains(t, out, "FAIL  "+bad)
	assert.Contains(t, out, "menus[0].commands[1]")
}

func TestValidateRoot(t *testing.T) {
	root := makeRoot(t)
	out, err := runCmd(t, "--bundles", root, "validate", "--json")
	assert.ErrorIs(t, err, errProblemsFound)

	var reports []ValidationReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 3)
	byID := map[string]ValidationReport{}
	for _, r := range reports {
		byID[r.BundleID] = r
	}
	assert.True(t, byID["css"].OK)
	assert.True(t, byID["html"].OK)
	assert.False(t, byID["broken"].OK)
	assert.NotEmpty(t, byID["broken"].Problems)
}

func TestShow(t *testing.T) {
	root := makeRoot(t)
	out, err := runCmd(t, "--bundles", root, "show", "css", "--format", "json")
	require.NoError(t, err)
	d, err := cwbundle.Parse([]byte(out), cwbundle.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, cwbundle.CSSBundle(), d)

	out, err = runCmd(t, "show", filepath.Join(root, "css", "bundle.yaml"))
	require.NoError(t, err)
	d, err = cwbundle.Parse([]byte(out), cwbundle.FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, "Ruby on Rails", d.Name)

	_, err = runCmd(t, "show", filepath.Join(root, "broken"))
	assert.Error(t, err)

	_, err = runCmd(t, "--bundles", root, "show", "ruby")
	assert.ErrorIs(t, err, cwregistry.ErrBundleNotFound)

	_, err = runCmd(t, "--bundles", root, "show", "css", "--format", "toml")
	assert.ErrorIs(t, err, cwbundle.ErrUnknownFormat)
}

func TestShowEmbeddedFallback(t *testing.T) {
	out, err := runCmd(t, "--bundles", filepath.Join(t.TempDir(), "missing"), "show", "css")
	require.NoError(t, err)
	d, err := cwbundle.Parse([]byte(out), cwbundle.FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, cwbundle.CSSBundle(), d)
}

func TestSchema(t *testing.T) {
	out, err := runCmd(t, "schema")
	require.NoError(t, err)
	assert.Contains(t, out, cwbundle.SchemaID)
}

func TestListFindScope(t *testing.T) {
	root := makeRoot(t)

	out, err := runCmd(t, "--bundles", root, "list")
	require.NoError(t, err)
	var summaries []cwserve.BundleSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summaries))
	require.Len(t, summaries, 2)
	assert.Equal(t, "css", summaries[0].ID)
	assert.Equal(t, 5, summaries[0].Commands)

	// css matches through its "Show as HTML" command
	out, err = runCmd(t, "--bundles", root, "list", "html")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &summaries))
	require.Len(t, summaries, 2)
	assert.Equal(t, "css", summaries[0].ID)
	assert.Equal(t, "html", summaries[1].ID)

	out, err = runCmd(t, "--bundles", root, "list", "documentation")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "css", summaries[0].ID)

	out, err = runCmd(t, "--bundles", root, "find", "SHOW AS HTML")
	require.NoError(t, err)
	var refs []cwregistry.CommandRef
	require.NoError(t, json.Unmarshal([]byte(out), &refs))
	assert.Equal(t, []cwregistry.CommandRef{{BundleID: "css", Menu: "CSS", Command: "Show as HTML"}}, refs)

	_, err = runCmd(t, "--bundles", root, "find", "Show as PDF")
	assert.ErrorContains(t, err, "not found")

	out, err = runCmd(t, "--bundles", root, "scope", "source.css")
	require.NoError(t, err)
	var menus []cwregistry.MenuRef
	require.NoError(t, json.Unmarshal([]byte(out), &menus))
	require.Len(t, menus, 2)
	assert.Equal(t, "html", menus[1].BundleID)
	assert.Equal(t, []string{}, menus[1].Menu.Commands)

	_, err = runCmd(t, "--bundles", root, "scope", "Not A Scope")
	assert.ErrorIs(t, err, cwbundle.ErrUnknownScope)
}

func TestIndexQueries(t *testing.T) {
	root := makeRoot(t)
	db := filepath.Join(t.TempDir(), "catalog.db")

	out, err := runCmd(t, "--bundles", root, "--db", db, "index")
	require.NoError(t, err)
	assert.Contains(t, out, "indexed 2 bundles")

	out, err = runCmd(t, "--db", db, "find", "--index", "insert color...")
	require.NoError(t, err)
	var refs []cwregistry.CommandRef
	require.NoError(t, json.Unmarshal([]byte(out), &refs))
	assert.Equal(t, []cwregistry.CommandRef{{BundleID: "css", Menu: "CSS", Command: "Insert Color..."}}, refs)

	out, err = runCmd(t, "--db", db, "scope", "--index", "source.css")
	require.NoError(t, err)
	var ids []string
	require.NoError(t, json.Unmarshal([]byte(out), &ids))
	assert.Equal(t, []string{"css", "html"}, ids)
}

func TestSyncOnEventsStopsWithWatcher(t *testing.T) {
	Logger = zap.NewNop()
	root := makeRoot(t)
	w := cwregistry.NewWatcher(root, cwregistry.ScanOptions{}, 20*time.Millisecond)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	idx, err := cwindex.Open(filepath.Join(t.TempDir(), "catalog.db"), Logger)
	require.NoError(t, err)

	synced := syncOnEvents(context.Background(), w, idx)
	writeFile(t, filepath.Join(root, "ruby", "bundle.yaml"), "name: Ruby\n")
	w.Rescan()
	require.Eventually(t, func() bool {
		entries, err := idx.List(context.Background())
		return err == nil && len(entries) == 3
	}, 5*time.Second, 20*time.Millisecond)

	w.Stop()
	select {
	case <-synced:
	case <-time.After(5 * time.Second):
		t.Fatal("catalog sync still running after the watcher stopped")
	}
	assert.NoError(t, idx.Close())
}

func TestInit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ruby")

	out, err := runCmd(t, "init", dir, "--scope", "source.ruby", "--author", "Jane Doe")
	require.NoError(t, err)
	assert.Contains(t, out, "created")

	data, err := os.ReadFile(filepath.Join(dir, "bundle.yaml"))
	require.NoError(t, err)
	d, err := cwbundle.Parse(data, cwbundle.FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, "ruby", d.Name)
	assert.Equal(t, "Jane Doe", d.Author)
	require.Len(t, d.Menus, 1)
	assert.Equal(t, []string{"source.ruby"}, d.Menus[0].Scope)
	assert.Empty(t, d.Menus[0].Commands)
	assert.NoError(t, cwbundle.Validate(d))

	_, err = runCmd(t, "init", dir)
	assert.ErrorContains(t, err, "already exists")

	_, err = runCmd(t, "init", filepath.Join(t.TempDir(), "bad"), "--scope", "nonsense.scope")
	assert.ErrorIs(t, err, cwbundle.ErrUnknownScope)

	cssDir := filepath.Join(t.TempDir(), "css")
	_, err = runCmd(t, "init", cssDir, "--css")
	require.NoError(t, err)
	data, err = os.ReadFile(filepath.Join(cssDir, "bundle.yaml"))
	require.NoError(t, err)
	d, err = cwbundle.Parse(data, cwbundle.FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, cwbundle.CSSBundle(), d)
}

func TestOpen(t *testing.T) {
	var opened []string
	orig := openURL
	t.Cleanup(func() { openURL = orig })
	openURL = func(input string) error {
		opened = append(opened, input)
		return nil
	}

	root := makeRoot(t)
	_, err := runCmd(t, "--bundles", root, "open", "css")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://github.com/aptana/css_bundle"}, opened)

	out, err := runCmd(t, "--bundles", root, "open", "css", "--print")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/aptana/css_bundle\n", out)
	assert.Len(t, opened, 1)

	_, err = runCmd(t, "--bundles", root, "open", "html")
	assert.ErrorContains(t, err, "no git_repo")
}

func TestBrowserURL(t *testing.T) {
	tests := []struct {
		repo    string
		want    string
		wantErr bool
	}{
		{"git://github.com/aptana/css_bundle.git", "https://github.com/aptana/css_bundle", false},
		{"git@github.com:aptana/css_bundle.git", "https://github.com/aptana/css_bundle", false},
		{"ssh://git@example.com/team/bundle.git", "https://example.com/team/bundle", false},
		{"https://example.com/team/bundle.git", "https://example.com/team/bundle", false},
		{"file:///srv/git/bundle.git", "file:///srv/git/bundle.git", false},
		{"", "", true},
		{"ftp://example.com/bundle", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.repo, func(t *testing.T) {
			got, err := BrowserURL(tt.repo)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWatchMissingRoot(t *testing.T) {
	_, err := runCmd(t, "--bundles", filepath.Join(t.TempDir(), "missing"), "watch")
	assert.ErrorIs(t, err, cwregistry.ErrBundlesRootMissing)
}

func TestConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cwbundle.ini")

	out, err := runCmd(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = runCmd(t, "config", "init", path)
	assert.ErrorContains(t, err, "already exists")
	_, err = runCmd(t, "config", "init", path, "--force")
	require.NoError(t, err)

	out, err = runCmd(t, "--config", path, "--bundles", "/srv/bundles", "config", "get")
	require.NoError(t, err)
	var config wconfig.ConfigType
	require.NoError(t, json.Unmarshal([]byte(out), &config))
	assert.Equal(t, "/srv/bundles", config.Bundles.Dir)
	assert.Equal(t, path, config.Source)
	assert.Equal(t, "none", config.Log.Level)
}
