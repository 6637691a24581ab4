// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

// Package cwregistry discovers bundle descriptors under a bundles root and
// answers lookups over the loaded set
package cwregistry

import (
	"errors"
	"time"

	"github.com/greggcoppen/cwbundle/pkg/cwbundle"
)

// Bundle is one loaded bundle: the merge of every descriptor fragment in its directory
type Bundle struct {
	ID         string               `json:"id"`
	Dir        string               `json:"dir,omitempty"`
	Files      []string             `json:"files"`
	Embedded   bool                 `json:"embedded,omitempty"`
	Descriptor *cwbundle.Descriptor `json:"descriptor"`
}

// LoadProblem records why a bundle or fragment was left out of a scan
type LoadProblem struct {
	BundleID string `json:"bundleId"`
	Path     string `json:"path,omitempty"`
	Message  string `json:"message"`
	Err      error  `json:"-"`
}

func (p LoadProblem) Error() string {
	return p.Message
}

func (p LoadProblem) Unwrap() error {
	return p.Err
}

// CommandRef locates a command reference inside a bundle's menus
type CommandRef struct {
	BundleID string `json:"bundleId"`
	Menu     string `json:"menu"`
	Command  string `json:"command"`
}

// MenuRef is a menu together with the bundle that declares it
type MenuRef struct {
	BundleID string        `json:"bundleId"`
	Menu     cwbundle.Menu `json:"menu"`
}

// ScanEvent is published after every rescan
type ScanEvent struct {
	ScanID   string        `json:"scanId"`
	At       time.Time     `json:"at"`
	Root     string        `json:"root"`
	Bundles  int           `json:"bundles"`
	Problems []LoadProblem `json:"problems,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Error types for registry operations
var (
	ErrBundleNotFound     = errors.New("bundle not found in registry")
	ErrRegistryNotLoaded  = errors.New("bundle registry not loaded")
	ErrNoDescriptorFiles  = errors.New("bundle directory has no descriptor files")
	ErrWatcherRunning     = errors.New("bundle watcher is already running")
	ErrBundlesRootMissing = errors.New("bundles root does not exist")
)
