// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

package cwbundle

import (
	"embed"
	"fmt"
)

// DefaultBundleID is the directory name of the bundled CSS descriptor
const DefaultBundleID = "css"

// EmbeddedBundles contains the descriptors shipped with the binary.
// It is used as a fallback when no bundles directory exists at runtime.
//
//go:embed bundles
var EmbeddedBundles embed.FS

// Default returns a fresh copy of the CSS bundle descriptor
func Default() (*Descriptor, error) {
	data, err := EmbeddedBundles.ReadFile("bundles/" + DefaultBundleID + "/bundle.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded bundle: %w", err)
	}
	return Parse(data, FormatYAML)
}

// CSSBundle declares the CSS bundle with the builder. It matches Default.
func CSSBundle() *Descriptor {
	d := CurrentBundle(func(b *Builder) {
		b.Name("Ruby on Rails")
		b.Author("Christopher Williams")
		b.Copyright("© Copyright 2009 Aptana Inc. Distributed under GPLv3 and Aptana Source license.\n")
		b.Description("CSS bundle for RadRails 3\n")
		b.GitRepo("git://github.com/aptana/css_bundle.git")

		b.Menu("CSS", func(m *MenuBuilder) {
			m.Scope("source.css")
			m.Command("Insert Color...")
			m.Command("Show as HTML")
			m.Command("Documentation for Property")
			m.Command("Validate Selected CSS")
			m.Command("CodeCompletion CSS Properties")
		})
	})
	Normalize(d)
	return d
}
