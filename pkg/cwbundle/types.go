// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

// Package cwbundle provides the bundle descriptor model: the metadata record a
// plugin host reads to learn a bundle's name, authorship, source repository and
// the scoped menus of commands it contributes.
package cwbundle

import (
	"errors"
	"fmt"
)

// Descriptor is the flat metadata record for one bundle
type Descriptor struct {
	Name        string `json:"name" yaml:"name" mapstructure:"name" jsonschema:"title=Bundle name"`
	Author      string `json:"author,omitempty" yaml:"author,omitempty" mapstructure:"author"`
	Copyright   string `json:"copyright,omitempty" yaml:"copyright,omitempty" mapstructure:"copyright"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	GitRepo     string `json:"git_repo,omitempty" yaml:"git_repo,omitempty" mapstructure:"git_repo" jsonschema:"description=URL of the bundle's version-controlled source"`
	Menus       []Menu `json:"menus,omitempty" yaml:"menus,omitempty" mapstructure:"menus"`
}

// Menu is a titled list of command references shown while one of its scopes is active
type Menu struct {
	Title    string   `json:"title" yaml:"title" mapstructure:"title"`
	Scope    []string `json:"scope" yaml:"scope" mapstructure:"scope" jsonschema:"minItems=1,description=Syntax scopes in which the menu is active"`
	Commands []string `json:"commands" yaml:"commands" mapstructure:"commands" jsonschema:"description=Command names resolved by the host"`
}

// Format is a serialization format for descriptors
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Problem is a single validation failure located within a descriptor
type Problem struct {
	Path string `json:"path"`
	Err  error  `json:"-"`
}

func (p *Problem) Error() string {
	if p.Path == "" {
		return p.Err.Error()
	}
	return fmt.Sprintf("%s: %v", p.Path, p.Err)
}

func (p *Problem) Unwrap() error {
	return p.Err
}

// Error types for descriptor operations
var (
	ErrNameRequired      = errors.New("bundle name is required")
	ErrMenuTitleRequired = errors.New("menu title is required")
	ErrCommandRequired   = errors.New("command name is required")
	ErrInvalidEncoding   = errors.New("text is not valid UTF-8")
	ErrEmptyScope        = errors.New("menu scope is empty")
	ErrUnknownScope      = errors.New("unrecognized scope identifier")
	ErrDuplicateScope    = errors.New("duplicate scope in menu")
	ErrDuplicateCommand  = errors.New("duplicate command name (case-insensitive)")
	ErrInvalidGitRepo    = errors.New("invalid git repository URL")
	ErrUnknownFormat     = errors.New("unknown descriptor format")
	ErrUnknownField      = errors.New("unknown descriptor field")
	ErrMalformed         = errors.New("malformed descriptor")
)
