// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/greggcoppen/cwbundle/pkg/cwbundle"
	"github.com/greggcoppen/cwbundle/pkg/cwregistry"
)

var validateCmd = &cobra.Command{
	Use:   "validate [path...]",
	Short: "Validate descriptor files or bundle directories",
	Long: "Validate descriptor files or bundle directories. With no arguments every bundle " +
		"under the bundles root is validated.",
	RunE: validateRun,
}

var showCmd = &cobra.Command{
	Use:   "show <bundle-id|path>",
	Short: "Print a bundle descriptor, merged and normalized",
	Args:  cobra.ExactArgs(1),
	RunE:  showRun,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema for descriptor files",
	Args:  cobra.NoArgs,
	RunE:  schemaRun,
}

var validateJSON bool
var showFormat string

func init() {
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(schemaCmd)

	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "print the report as JSON")
	showCmd.Flags().StringVarP(&showFormat, "format", "f", "yaml", "output format (yaml or json)")
}

// ValidationReport is the result of validating one path or bundle
type ValidationReport struct {
	Path     string   `json:"path"`
	BundleID string   `json:"bundleId,omitempty"`
	OK       bool     `json:"ok"`
	Problems []string `json:"problems,omitempty"`
}

func validatePath(p string, v *cwbundle.Validator) ValidationReport {
	report := ValidationReport{Path: p}
	info, err := os.Stat(p)
	if err != nil {
		report.Problems = []string{err.Error()}
		return report
	}

	if info.IsDir() {
		report.BundleID = filepath.Base(filepath.Clean(p))
		b, problems := cwregistry.LoadBundle(p, cwregistry.ScanOptions{Validator: v, Logger: Logger})
		for _, prob := range problems {
			report.Problems = append(report.Problems, problemString(prob))
		}
		report.OK = b != nil && len(problems) == 0
		return report
	}

	d, err := readDescriptorFile(p)
	if err == nil {
		err = v.Validate(d)
	}
	for _, e := range multierr.Errors(err) {
		report.Problems = append(report.Problems, e.Error())
	}
	report.OK = err == nil
	return report
}

func problemString(p cwregistry.LoadProblem) string {
	if p.Path == "" {
		return p.Message
	}
	return p.Path + ": " + p.Message
}

func readDescriptorFile(p string) (*cwbundle.Descriptor, error) {
	format, err := cwbundle.FormatFromPath(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	return cwbundle.Parse(data, format)
}

func validateRun(cmd *cobra.Command, args []string) error {
	var reports []ValidationReport
	if len(args) == 0 {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		for _, b := range reg.Bundles() {
			reports = append(reports, ValidationReport{Path: b.Dir, BundleID: b.ID, OK: true})
		}
		byBundle := make(map[string]int)
		for _, p := range reg.Problems {
			idx, ok := byBundle[p.BundleID]
			if !ok {
				reports = append(reports, ValidationReport{Path: filepath.Join(reg.Root, p.BundleID), BundleID: p.BundleID})
				idx = len(reports) - 1
				byBundle[p.BundleID] = idx
			}
			reports[idx].Problems = append(reports[idx].Problems, problemString(p))
		}
	} else {
		v := cwbundle.NewValidator(Config.Bundles.ExtraScopeRoots...)
		for _, p := range args {
			reports = append(reports, validatePath(p, v))
		}
	}

	failed := 0
	for _, r := range reports {
		if !r.OK {
			failed++
		}
	}

	if validateJSON {
		if reports == nil {
			reports = []ValidationReport{}
		}
		if err := writeJSON(reports); err != nil {
			return err
		}
	} else {
		for _, r := range reports {
			name := r.Path
			if name == "" {
				name = r.BundleID
			}
			if r.OK {
				WriteStdout("ok    %s\n", name)
				continue
			}
			WriteStdout("FAIL  %s\n", name)
			for _, prob := range r.Problems {
				WriteStdout("      %s\n", prob)
			}
		}
	}

	if failed > 0 {
		return errProblemsFound
	}
	return nil
}

// loadDescriptor resolves arg as a descriptor file, a bundle directory or a
// bundle ID in the registry
func loadDescriptor(arg string) (*cwbundle.Descriptor, error) {
	if info, err := os.Stat(arg); err == nil {
		if !info.IsDir() {
			return readDescriptorFile(arg)
		}
		b, problems := cwregistry.LoadBundle(arg, scanOptions())
		if len(problems) > 0 {
			var errs error
			for _, p := range problems {
				errs = multierr.Append(errs, fmt.Errorf("%s", problemString(p)))
			}
			return nil, errs
		}
		return b.Descriptor, nil
	}

	reg, err := loadRegistry()
	if err != nil {
		return nil, err
	}
	b, err := reg.Get(arg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, arg)
	}
	return b.Descriptor, nil
}

func showRun(cmd *cobra.Command, args []string) error {
	format, err := cwbundle.ParseFormat(showFormat)
	if err != nil {
		return err
	}
	d, err := loadDescriptor(args[0])
	if err != nil {
		return err
	}
	data, err := cwbundle.Marshal(d, format)
	if err != nil {
		return err
	}
	WriteStdout("%s", data)
	return nil
}

func schemaRun(cmd *cobra.Command, args []string) error {
	data, err := cwbundle.SchemaJSON()
	if err != nil {
		return err
	}
	WriteStdout("%s", data)
	return nil
}
