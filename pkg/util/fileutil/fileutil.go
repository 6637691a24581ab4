// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

package fileutil

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileIfDifferent writes contents to fileName unless the file already
// holds exactly those bytes. It reports whether a write happened.
func WriteFileIfDifferent(fileName string, contents []byte) (bool, error) {
	oldContents, err := os.ReadFile(fileName)
	if err == nil && bytes.Equal(oldContents, contents) {
		return false, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(fileName), 0755); err != nil {
		return false, fmt.Errorf("error creating directory for %s: %w", fileName, err)
	}
	if err := os.WriteFile(fileName, contents, 0644); err != nil {
		return false, err
	}
	return true, nil
}

// WriteFileExclusive writes contents to a new file, failing with
// os.ErrExist when fileName is already present
func WriteFileExclusive(fileName string, contents []byte) error {
	if err := os.MkdirAll(filepath.Dir(fileName), 0755); err != nil {
		return fmt.Errorf("error creating directory for %s: %w", fileName, err)
	}
	f, err := os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(contents); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
