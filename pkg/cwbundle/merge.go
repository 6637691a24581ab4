// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

package cwbundle

import (
	"strings"

	"github.com/emirpasic/gods/sets/linkedhashset"
)

// Merge layers fragment on top of base and returns the result; neither input
// is modified. Several files may contribute to one bundle:
//   - non-blank fragment metadata replaces base metadata
//   - menus are matched by title, unmatched fragment menus are appended
//   - fragment scopes not already in the menu are appended to its scope;
//     repeats within the fragment are kept for validation to report
//   - a fragment command replaces, in place, any command in the bundle with
//     the same case-insensitive name; otherwise it is appended to its menu
func Merge(base, fragment *Descriptor) *Descriptor {
	rtn := Clone(base)
	if rtn == nil {
		rtn = &Descriptor{}
	}
	if fragment == nil {
		return rtn
	}

	overlay := func(dst *string, src string) {
		if strings.TrimSpace(src) != "" {
			*dst = src
		}
	}
	overlay(&rtn.Name, fragment.Name)
	overlay(&rtn.Author, fragment.Author)
	overlay(&rtn.Copyright, fragment.Copyright)
	overlay(&rtn.Description, fragment.Description)
	overlay(&rtn.GitRepo, fragment.GitRepo)

	// only commands already in the bundle can be replaced; duplicates within
	// the fragment itself are kept for validation to report
	existing := make(map[string][2]int)
	for mi, m := range rtn.Menus {
		for ci, c := range m.Commands {
			key := FoldName(c)
			if _, ok := existing[key]; !ok {
				existing[key] = [2]int{mi, ci}
			}
		}
	}

	for _, fm := range fragment.Menus {
		idx := menuIndex(rtn, fm.Title)
		if idx < 0 {
			rtn.Menus = append(rtn.Menus, Menu{Title: fm.Title, Scope: []string{}, Commands: []string{}})
			idx = len(rtn.Menus) - 1
		}
		rtn.Menus[idx].Scope = unionScopes(rtn.Menus[idx].Scope, fm.Scope)

		for _, name := range fm.Commands {
			if pos, ok := existing[FoldName(name)]; ok {
				rtn.Menus[pos[0]].Commands[pos[1]] = name
				continue
			}
			rtn.Menus[idx].Commands = append(rtn.Menus[idx].Commands, name)
		}
	}

	return rtn
}

// MergeAll folds fragments left to right
func MergeAll(fragments ...*Descriptor) *Descriptor {
	var rtn *Descriptor
	for _, f := range fragments {
		if rtn == nil {
			rtn = Clone(f)
			continue
		}
		rtn = Merge(rtn, f)
	}
	if rtn == nil {
		rtn = &Descriptor{}
	}
	return rtn
}

func menuIndex(d *Descriptor, title string) int {
	for i, m := range d.Menus {
		if m.Title == title {
			return i
		}
	}
	return -1
}

func unionScopes(existing, extra []string) []string {
	set := linkedhashset.New()
	for _, s := range existing {
		set.Add(s)
	}
	rtn := append(make([]string, 0, len(existing)+len(extra)), existing...)
	for _, s := range extra {
		if !set.Contains(s) {
			rtn = append(rtn, s)
		}
	}
	return rtn
}
