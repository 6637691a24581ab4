// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/greggcoppen/cwbundle/pkg/cwbundle"
	"github.com/greggcoppen/cwbundle/pkg/util/fileutil"
)

const BundleSchemaFileName = "schema/bundle.schema.json"

func GenerateBundleSchema() error {
	fmt.Fprintf(os.Stderr, "generating bundle schema file to %s\n", BundleSchemaFileName)
	data, err := cwbundle.SchemaJSON()
	if err != nil {
		return err
	}
	written, err := fileutil.WriteFileIfDifferent(BundleSchemaFileName, data)
	if !written {
		fmt.Fprintf(os.Stderr, "no changes to %s\n", BundleSchemaFileName)
	}
	return err
}

func main() {
	err := GenerateBundleSchema()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error generating bundle schema: %v\n", err)
		os.Exit(1)
	}
}
