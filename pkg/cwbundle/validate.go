// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

package cwbundle

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/emirpasic/gods/sets/linkedhashset"
	"go.uber.org/multierr"
)

var scpRepoRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+@[A-Za-z0-9_.-]+:[^\s]+$`)

var gitRepoSchemes = map[string]bool{
	"git":   true,
	"http":  true,
	"https": true,
	"ssh":   true,
	"file":  true,
}

// Validator checks descriptors against the bundle format rules
type Validator struct {
	roots map[string]bool
}

// NewValidator creates a validator that recognizes the default scope roots
// plus any extra roots given
func NewValidator(extraRoots ...string) *Validator {
	v := &Validator{roots: make(map[string]bool)}
	for _, r := range DefaultScopeRoots {
		v.roots[r] = true
	}
	for _, r := range extraRoots {
		r = strings.TrimSpace(r)
		if r != "" {
			v.roots[r] = true
		}
	}
	return v
}

var defaultValidator = NewValidator()

// Validate checks d with the default validator
func Validate(d *Descriptor) error {
	return defaultValidator.Validate(d)
}

// IsRecognizedScope reports whether s is well formed and has a known root
func (v *Validator) IsRecognizedScope(s string) bool {
	return IsScopeIdentifier(s) && v.roots[ScopeRoot(s)]
}

// Validate returns every problem found in d, combined with multierr.
// Each element is a *Problem that unwraps to one of the Err* sentinels.
func (v *Validator) Validate(d *Descriptor) error {
	if d == nil {
		return &Problem{Err: fmt.Errorf("%w: nil descriptor", ErrMalformed)}
	}

	var errs error
	add := func(path string, err error) {
		errs = multierr.Append(errs, &Problem{Path: path, Err: err})
	}

	if strings.TrimSpace(d.Name) == "" {
		add("name", ErrNameRequired)
	}
	if d.GitRepo != "" && !IsValidGitRepo(d.GitRepo) {
		add("git_repo", fmt.Errorf("%w: %q", ErrInvalidGitRepo, d.GitRepo))
	}
	for _, path := range invalidEncodingPaths(d) {
		add(path, ErrInvalidEncoding)
	}

	// command names are unique across the whole bundle, not per menu
	seen := make(map[string]string)
	for i, menu := range d.Menus {
		menuPath := fmt.Sprintf("menus[%d]", i)
		if strings.TrimSpace(menu.Title) == "" {
			add(menuPath+".title", ErrMenuTitleRequired)
		}

		if len(menu.Scope) == 0 {
			add(menuPath+".scope", ErrEmptyScope)
		}
		scopes := linkedhashset.New()
		for j, scope := range menu.Scope {
			scopePath := fmt.Sprintf("%s.scope[%d]", menuPath, j)
			if scopes.Contains(scope) {
				add(scopePath, fmt.Errorf("%w: %q", ErrDuplicateScope, scope))
				continue
			}
			scopes.Add(scope)
			if !v.IsRecognizedScope(scope) {
				add(scopePath, fmt.Errorf("%w: %q", ErrUnknownScope, scope))
			}
		}

		for j, name := range menu.Commands {
			cmdPath := fmt.Sprintf("%s.commands[%d]", menuPath, j)
			if strings.TrimSpace(name) == "" {
				add(cmdPath, ErrCommandRequired)
				continue
			}
			key := FoldName(name)
			if first, exists := seen[key]; exists {
				add(cmdPath, fmt.Errorf("%w: %q conflicts with %s", ErrDuplicateCommand, name, first))
				continue
			}
			seen[key] = cmdPath
		}
	}

	return errs
}

// Problems splits a Validate result into its individual problems
func Problems(err error) []*Problem {
	var rtn []*Problem
	for _, e := range multierr.Errors(err) {
		if p, ok := e.(*Problem); ok {
			rtn = append(rtn, p)
		} else {
			rtn = append(rtn, &Problem{Err: e})
		}
	}
	return rtn
}

// IsValidGitRepo accepts URLs with a git, http(s), ssh or file scheme and
// scp-style "user@host:path" locations
func IsValidGitRepo(repo string) bool {
	if scpRepoRe.MatchString(repo) {
		return true
	}
	u, err := url.Parse(repo)
	if err != nil || !gitRepoSchemes[u.Scheme] {
		return false
	}
	if u.Scheme == "file" {
		return u.Path != ""
	}
	return u.Host != "" && strings.Trim(u.Path, "/") != ""
}

// FoldName maps a command name to a key that is equal for names that compare
// equal under Unicode simple case folding
func FoldName(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		sb.WriteRune(minFold(r))
	}
	return sb.String()
}

// minFold returns the smallest rune in r's simple folding orbit
func minFold(r rune) rune {
	least := r
	for f := unicode.SimpleFold(r); f != r; f = unicode.SimpleFold(f) {
		if f < least {
			least = f
		}
	}
	return least
}
