// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/greggcoppen/cwbundle/cmd/bundlectl/cmd"
)

// set by the build
var BundlectlVersion = "0.0.0"

func main() {
	cmd.BundlectlVersion = BundlectlVersion
	cmd.Execute()
}
