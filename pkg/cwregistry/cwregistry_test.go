// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

package cwregistry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/greggcoppen/cwbundle/pkg/cwbundle"
)

const cssYAML = `name: Ruby on Rails
author: Christopher Williams
git_repo: git://github.com/aptana/css_bundle.git
menus:
  - title: CSS
    scope: [source.css]
    commands:
      - Insert Color...
      - Show as HTML
`

const cssExtraJSON = `{
  "name": "CSS",
  "menus": [
    {"title": "CSS", "scope": ["source.css"], "commands": ["show as html", "Validate Selected CSS"]}
  ]
}`

const brokenYAML = `name: Broken
menus:
  - title: Dup
    scope: [source.ruby]
    commands: [Run, RUN]
`

const htmlYAML = `name: HTML
description: markup helpers
menus:
  - title: HTML
    scope: [text.html.basic, source.css]
    commands: [Wrap Selection]
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func makeRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "css", "bundle.yaml"), cssYAML)
	writeFile(t, filepath.Join(root, "css", "extra.json"), cssExtraJSON)
	writeFile(t, filepath.Join(root, "css", "README.md"), "not a descriptor")
	writeFile(t, filepath.Join(root, "broken", "bundle.yaml"), brokenYAML)
	writeFile(t, filepath.Join(root, "html", "bundle.yml"), htmlYAML)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0755))
	return root
}

func TestScan(t *testing.T) {
	root := makeRoot(t)

	reg, err := Scan(context.Background(), root, ScanOptions{Concurrency: 2})
	require.NoError(t, err)
	assert.NotEmpty(t, reg.ScanID)

	bundles := reg.Bundles()
	require.Len(t, bundles, 2)
	assert.Equal(t, "css", bundles[0].ID)
	assert.Equal(t, "html", bundles[1].ID)

	css := bundles[0]
	assert.Equal(t, "CSS", css.Descriptor.Name)
	assert.Equal(t, "Christopher Williams", css.Descriptor.Author)
	assert.Equal(t, []string{"Insert Color...", "show as html", "Validate Selected CSS"}, css.Descriptor.Menus[0].Commands)
	assert.Equal(t, []string{
		filepath.Join(root, "css", "bundle.yaml"),
		filepath.Join(root, "css", "extra.json"),
	}, css.Files)

	assert.True(t, IsProblem(reg.Problems, cwbundle.ErrDuplicateCommand))
	assert.True(t, IsProblem(reg.Problems, ErrNoDescriptorFiles))
	_, err = reg.Get("broken")
	assert.True(t, errors.Is(err, ErrBundleNotFound))
}

func TestScanMissingRoot(t *testing.T) {
	_, err := Scan(context.Background(), filepath.Join(t.TempDir(), "nope"), ScanOptions{})
	assert.True(t, errors.Is(err, ErrBundlesRootMissing))
}

func TestScanCancelled(t *testing.T) {
	root := makeRoot(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Scan(ctx, root, ScanOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanMalformedFragment(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "bad", "bundle.yaml"), "name: x\nicon: y\n")

	reg, err := Scan(context.Background(), root, ScanOptions{})
	require.NoError(t, err)
	assert.Empty(t, reg.Bundles())
	require.Len(t, reg.Problems, 1)
	assert.Equal(t, filepath.Join(root, "bad", "bundle.yaml"), reg.Problems[0].Path)
	assert.True(t, errors.Is(reg.Problems[0], cwbundle.ErrUnknownField))
}

func TestRegistryLookups(t *testing.T) {
	reg, err := Scan(context.Background(), makeRoot(t), ScanOptions{})
	require.NoError(t, err)

	refs := reg.FindCommand("SHOW AS HTML")
	require.Len(t, refs, 1)
	assert.Equal(t, CommandRef{BundleID: "css", Menu: "CSS", Command: "show as html"}, refs[0])
	assert.Empty(t, reg.FindCommand("Show as PDF"))

	menus := reg.MenusForScope("source.css")
	require.Len(t, menus, 2)
	assert.Equal(t, "css", menus[0].BundleID)
	assert.Equal(t, "html", menus[1].BundleID)
	assert.Empty(t, reg.MenusForScope("source"))

	assert.Len(t, reg.Search(""), 2)
	found := reg.Search("MARKUP")
	require.Len(t, found, 1)
	assert.Equal(t, "html", found[0].ID)
	found = reg.Search("validate selected")
	require.Len(t, found, 1)
	assert.Equal(t, "css", found[0].ID)

	ev := reg.Event()
	assert.Equal(t, reg.ScanID, ev.ScanID)
	assert.Equal(t, 2, ev.Bundles)
}

func TestScanEmbedded(t *testing.T) {
	reg, err := ScanEmbedded(context.Background(), ScanOptions{})
	require.NoError(t, err)
	assert.Empty(t, reg.Problems)

	b, err := reg.Get(cwbundle.DefaultBundleID)
	require.NoError(t, err)
	assert.True(t, b.Embedded)
	assert.Equal(t, cwbundle.CSSBundle(), b.Descriptor)
}

func TestLoadRegistry(t *testing.T) {
	root := makeRoot(t)
	Configure(root, ScanOptions{})
	t.Cleanup(resetRegistryCache)

	reg, err := ReloadRegistry()
	require.NoError(t, err)
	assert.Equal(t, root, reg.Root)

	again, err := LoadRegistry()
	require.NoError(t, err)
	assert.Same(t, reg, again)

	b, err := GetBundle("html")
	require.NoError(t, err)
	assert.Equal(t, "HTML", b.Descriptor.Name)

	writeFile(t, filepath.Join(root, "ruby", "bundle.yaml"), "name: Ruby\n")
	reloaded, err := ReloadRegistry()
	require.NoError(t, err)
	assert.NotEqual(t, reg.ScanID, reloaded.ScanID)
	_, err = reloaded.Get("ruby")
	assert.NoError(t, err)
}

func resetRegistryCache() {
	Configure("", ScanOptions{})
	cacheMu.Lock()
	defer cacheMu.Unlock()
	registryOnce = sync.Once{}
	registryInstance = nil
	registryErr = nil
}

func TestReloadRegistryConcurrent(t *testing.T) {
	root := makeRoot(t)
	Configure(root, ScanOptions{})
	t.Cleanup(resetRegistryCache)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		reload := i%2 == 0
		g.Go(func() error {
			var reg *Registry
			var err error
			if reload {
				reg, err = ReloadRegistry()
			} else {
				reg, err = LoadRegistry()
			}
			if err != nil {
				return err
			}
			if reg == nil || reg.Root != root {
				return fmt.Errorf("unexpected registry %v", reg)
			}
			_, err = GetBundle("css")
			return err
		})
	}
	require.NoError(t, g.Wait())
}

func waitEvent(t *testing.T, ch <-chan ScanEvent, pred func(ScanEvent) bool) ScanEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			require.True(t, ok, "subscription closed")
			if pred(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for scan event")
		}
	}
}

func TestWatcher(t *testing.T) {
	root := makeRoot(t)
	w := NewWatcher(root, ScanOptions{}, 20*time.Millisecond)

	events, cancel := w.Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	assert.ErrorIs(t, w.Start(ctx), ErrWatcherRunning)

	first := waitEvent(t, events, func(ev ScanEvent) bool { return ev.Bundles == 2 })
	assert.Equal(t, w.Current().ScanID, first.ScanID)

	writeFile(t, filepath.Join(root, "ruby", "bundle.yaml"), "name: Ruby\n")
	w.Rescan()
	ev := waitEvent(t, events, func(ev ScanEvent) bool { return ev.Bundles == 3 })
	assert.NotEqual(t, first.ScanID, ev.ScanID)

	_, err := w.Current().Get("ruby")
	assert.NoError(t, err)
}

func TestWatcherFileChange(t *testing.T) {
	root := makeRoot(t)
	w := NewWatcher(root, ScanOptions{}, 20*time.Millisecond)
	events, cancel := w.Subscribe()
	defer cancel()

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	// fix the broken bundle in place
	writeFile(t, filepath.Join(root, "broken", "bundle.yaml"), "name: Fixed\n")
	waitEvent(t, events, func(ev ScanEvent) bool { return ev.Bundles == 3 })

	b, err := w.Current().Get("broken")
	require.NoError(t, err)
	assert.Equal(t, "Fixed", b.Descriptor.Name)
}

func TestWatcherStopClosesSubscriptions(t *testing.T) {
	w := NewWatcher(makeRoot(t), ScanOptions{}, 0)
	events, _ := w.Subscribe()
	require.NoError(t, w.Start(context.Background()))
	w.Stop()

	for range events {
	}
	w.Stop()
}

func TestLoadBundle(t *testing.T) {
	root := makeRoot(t)

	b, problems := LoadBundle(filepath.Join(root, "css"), ScanOptions{})
	require.Empty(t, problems)
	assert.Equal(t, "css", b.ID)
	assert.Equal(t, filepath.Join(root, "css"), b.Dir)
	assert.Equal(t, "CSS", b.Descriptor.Name)

	b, problems = LoadBundle(filepath.Join(root, "broken"), ScanOptions{})
	assert.Nil(t, b)
	assert.True(t, IsProblem(problems, cwbundle.ErrDuplicateCommand))

	_, problems = LoadBundle(filepath.Join(root, "missing"), ScanOptions{})
	assert.NotEmpty(t, problems)
}
