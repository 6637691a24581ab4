// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

package cwbundle

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

const SchemaID = "https://github.com/greggcoppen/cwbundle/schema/bundle.schema.json"

// Schema returns the JSON Schema describing the descriptor format
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	s := r.Reflect(&Descriptor{})
	s.ID = jsonschema.ID(SchemaID)
	s.Title = "Bundle descriptor"
	s.Description = "Metadata and scoped menus for an editor bundle"
	return s
}

// SchemaJSON returns the indented JSON encoding of Schema
func SchemaJSON() ([]byte, error) {
	data, err := json.MarshalIndent(Schema(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return append(data, '\n'), nil
}
