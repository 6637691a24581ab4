// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

package fileutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileIfDifferent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "schema.json")

	written, err := WriteFileIfDifferent(path, []byte("a"))
	if err != nil || !written {
		t.Fatalf("first write: written=%v err=%v", written, err)
	}
	written, err = WriteFileIfDifferent(path, []byte("a"))
	if err != nil || written {
		t.Fatalf("same contents: written=%v err=%v", written, err)
	}
	written, err = WriteFileIfDifferent(path, []byte("b"))
	if err != nil || !written {
		t.Fatalf("changed contents: written=%v err=%v", written, err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "b" {
		t.Errorf("got %q, want %q", data, "b")
	}
}

func TestWriteFileExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "css", "bundle.yaml")
	if err := WriteFileExclusive(path, []byte("name: x\n")); err != nil {
		t.Fatal(err)
	}
	err := WriteFileExclusive(path, []byte("name: y\n"))
	if !errors.Is(err, os.ErrExist) {
		t.Fatalf("expected ErrExist, got %v", err)
	}
}
