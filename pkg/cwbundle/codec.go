// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

package cwbundle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// FormatFromPath picks a format from a file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, path)
}

// ParseFormat converts a user supplied format name
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// Parse decodes a descriptor. Unknown keys are rejected with ErrUnknownField.
// The result is normalized (see Normalize).
func Parse(data []byte, format Format) (*Descriptor, error) {
	var raw map[string]interface{}
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	case FormatJSON:
		if len(bytes.TrimSpace(data)) > 0 {
			if err := json.Unmarshal(data, &raw); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return decodeMap(raw)
}

func decodeMap(raw map[string]interface{}) (*Descriptor, error) {
	var d Descriptor
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:  "mapstructure",
		Metadata: &md,
		Result:   &d,
		// keys are case sensitive, matching the schema
		MatchName: func(mapKey, fieldName string) bool {
			return mapKey == fieldName
		},
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(md.Unused) > 0 {
		sort.Strings(md.Unused)
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, strings.Join(md.Unused, ", "))
	}
	Normalize(&d)
	return &d, nil
}

// Marshal encodes d in the given format
func Marshal(d *Descriptor, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(d); err != nil {
			return nil, fmt.Errorf("failed to marshal descriptor: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("failed to marshal descriptor: %w", err)
		}
		return buf.Bytes(), nil
	case FormatJSON:
		// encoding/json would replace invalid bytes with U+FFFD
		if paths := invalidEncodingPaths(d); len(paths) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidEncoding, strings.Join(paths, ", "))
		}
		data, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal descriptor: %w", err)
		}
		return append(data, '\n'), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Normalize makes empty slices canonical: no menus is nil, while every menu
// carries non-nil scope and command slices
func Normalize(d *Descriptor) {
	if len(d.Menus) == 0 {
		d.Menus = nil
		return
	}
	for i := range d.Menus {
		if d.Menus[i].Scope == nil {
			d.Menus[i].Scope = []string{}
		}
		if d.Menus[i].Commands == nil {
			d.Menus[i].Commands = []string{}
		}
	}
}

// Clone returns a deep copy of d
func Clone(d *Descriptor) *Descriptor {
	if d == nil {
		return nil
	}
	rtn := *d
	if d.Menus != nil {
		rtn.Menus = make([]Menu, len(d.Menus))
		for i, m := range d.Menus {
			rtn.Menus[i] = Menu{
				Title:    m.Title,
				Scope:    append([]string(nil), m.Scope...),
				Commands: append([]string(nil), m.Commands...),
			}
			if m.Scope != nil && rtn.Menus[i].Scope == nil {
				rtn.Menus[i].Scope = []string{}
			}
			if m.Commands != nil && rtn.Menus[i].Commands == nil {
				rtn.Menus[i].Commands = []string{}
			}
		}
	}
	return &rtn
}

// invalidEncodingPaths lists the fields of d holding invalid UTF-8
func invalidEncodingPaths(d *Descriptor) []string {
	var paths []string
	check := func(path, s string) {
		if !utf8.ValidString(s) {
			paths = append(paths, path)
		}
	}
	check("name", d.Name)
	check("author", d.Author)
	check("copyright", d.Copyright)
	check("description", d.Description)
	check("git_repo", d.GitRepo)
	for i, m := range d.Menus {
		menuPath := fmt.Sprintf("menus[%d]", i)
		check(menuPath+".title", m.Title)
		for j, s := range m.Scope {
			check(fmt.Sprintf("%s.scope[%d]", menuPath, j), s)
		}
		for j, c := range m.Commands {
			check(fmt.Sprintf("%s.commands[%d]", menuPath, j), c)
		}
	}
	return paths
}

// CommandNames returns every command reference in menu order
func CommandNames(d *Descriptor) []string {
	var names []string
	for _, m := range d.Menus {
		names = append(names, m.Commands...)
	}
	return names
}
