// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

package cwregistry

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/greggcoppen/cwbundle/pkg/cwbundle"
)

// Registry is an immutable snapshot of one scan
type Registry struct {
	ScanID    string        `json:"scanId"`
	ScannedAt time.Time     `json:"scannedAt"`
	Root      string        `json:"root"`
	Problems  []LoadProblem `json:"problems,omitempty"`

	bundles  []*Bundle
	byID     map[string]*Bundle
	commands map[string][]CommandRef
}

func newRegistry(scanID string, at time.Time, root string) *Registry {
	return &Registry{
		ScanID:    scanID,
		ScannedAt: at,
		Root:      root,
		byID:      make(map[string]*Bundle),
		commands:  make(map[string][]CommandRef),
	}
}

func (r *Registry) add(b *Bundle) {
	r.bundles = append(r.bundles, b)
	r.byID[b.ID] = b
	for _, m := range b.Descriptor.Menus {
		for _, c := range m.Commands {
			key := cwbundle.FoldName(c)
			r.commands[key] = append(r.commands[key], CommandRef{BundleID: b.ID, Menu: m.Title, Command: c})
		}
	}
}

func (r *Registry) finish() {
	sort.Slice(r.bundles, func(i, j int) bool {
		return r.bundles[i].ID < r.bundles[j].ID
	})
	for key, refs := range r.commands {
		sort.SliceStable(refs, func(i, j int) bool {
			return refs[i].BundleID < refs[j].BundleID
		})
		r.commands[key] = refs
	}
}

// Event summarizes the registry as a ScanEvent
func (r *Registry) Event() ScanEvent {
	return ScanEvent{
		ScanID:   r.ScanID,
		At:       r.ScannedAt,
		Root:     r.Root,
		Bundles:  len(r.bundles),
		Problems: r.Problems,
	}
}

// Bundles returns all loaded bundles sorted by ID
func (r *Registry) Bundles() []*Bundle {
	return append([]*Bundle(nil), r.bundles...)
}

// Get returns a bundle by ID
func (r *Registry) Get(bundleID string) (*Bundle, error) {
	b, ok := r.byID[bundleID]
	if !ok {
		return nil, ErrBundleNotFound
	}
	return b, nil
}

// FindCommand returns every bundle menu entry whose command name equals name
// under case-insensitive comparison
func (r *Registry) FindCommand(name string) []CommandRef {
	return append([]CommandRef(nil), r.commands[cwbundle.FoldName(name)]...)
}

// MenusForScope returns the menus that list scope verbatim. It does not
// evaluate scope selectors.
func (r *Registry) MenusForScope(scope string) []MenuRef {
	var rtn []MenuRef
	for _, b := range r.bundles {
		for _, m := range b.Descriptor.Menus {
			for _, s := range m.Scope {
				if s == scope {
					rtn = append(rtn, MenuRef{BundleID: b.ID, Menu: m})
					break
				}
			}
		}
	}
	return rtn
}

// Search returns bundles whose name, description, author or command names
// contain query, case-insensitively. An empty query matches everything.
func (r *Registry) Search(query string) []*Bundle {
	if query == "" {
		return r.Bundles()
	}
	q := strings.ToLower(query)
	contains := func(s string) bool {
		return strings.Contains(strings.ToLower(s), q)
	}

	var results []*Bundle
	for _, b := range r.bundles {
		d := b.Descriptor
		if contains(b.ID) || contains(d.Name) || contains(d.Description) || contains(d.Author) {
			results = append(results, b)
			continue
		}
		for _, c := range cwbundle.CommandNames(d) {
			if contains(c) {
				results = append(results, b)
				break
			}
		}
	}
	return results
}

var (
	// cacheMu guards the cached registry across loads and reloads
	cacheMu          sync.Mutex
	registryOnce     sync.Once
	registryInstance *Registry
	registryErr      error

	registryMu   sync.Mutex
	registryRoot string
	registryOpts ScanOptions
)

// Configure sets the bundles root and scan options used by LoadRegistry.
// It takes effect on the next load or reload.
func Configure(root string, opts ScanOptions) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registryRoot = root
	registryOpts = opts
}

// GetBundlesRoot returns the first existing bundles root, or "" when none exists
func GetBundlesRoot() string {
	registryMu.Lock()
	configured := registryRoot
	registryMu.Unlock()

	possiblePaths := []string{configured}
	if dir, err := os.UserConfigDir(); err == nil {
		possiblePaths = append(possiblePaths, filepath.Join(dir, "cwbundle", "bundles"))
	}
	possiblePaths = append(possiblePaths, "bundles")

	for _, p := range possiblePaths {
		if p == "" {
			continue
		}
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p
		}
	}
	return ""
}

// LoadRegistry scans the bundles root once and caches the result.
// It falls back to the embedded bundles when no root exists.
func LoadRegistry() (*Registry, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	return loadRegistryLocked()
}

func loadRegistryLocked() (*Registry, error) {
	registryOnce.Do(func() {
		registryMu.Lock()
		opts := registryOpts
		registryMu.Unlock()

		ctx := context.Background()
		if root := GetBundlesRoot(); root != "" {
			registryInstance, registryErr = Scan(ctx, root, opts)
			return
		}
		registryInstance, registryErr = ScanEmbedded(ctx, opts)
	})
	return registryInstance, registryErr
}

// ReloadRegistry forces a rescan
func ReloadRegistry() (*Registry, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	registryOnce = sync.Once{}
	registryInstance = nil
	registryErr = nil
	return loadRegistryLocked()
}

// GetBundle returns a bundle by ID from the cached registry
func GetBundle(bundleID string) (*Bundle, error) {
	reg, err := LoadRegistry()
	if err != nil {
		return nil, err
	}
	return reg.Get(bundleID)
}
