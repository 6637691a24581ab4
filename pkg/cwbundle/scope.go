// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

package cwbundle

import (
	"regexp"
	"strings"
)

// DefaultScopeRoots are the root segments a scope identifier may start with
var DefaultScopeRoots = []string{
	"source", "text", "meta", "markup", "string", "comment", "keyword",
	"constant", "entity", "variable", "support", "storage", "punctuation",
	"invalid",
}

var scopeSegmentRe = regexp.MustCompile(`^[a-z0-9_+-]+$`)

// IsScopeIdentifier reports whether s is a syntactically valid scope
// identifier such as "source.css" or "text.html.ruby"
func IsScopeIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, seg := range strings.Split(s, ".") {
		if !scopeSegmentRe.MatchString(seg) {
			return false
		}
	}
	return true
}

// ScopeRoot returns the first segment of a scope identifier
func ScopeRoot(s string) string {
	root, _, _ := strings.Cut(s, ".")
	return root
}
