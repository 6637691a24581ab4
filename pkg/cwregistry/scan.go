// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

package cwregistry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/greggcoppen/cwbundle/pkg/cwbundle"
)

// ScanOptions controls how a bundles root is loaded
type ScanOptions struct {
	Validator   *cwbundle.Validator
	Concurrency int
	Logger      *zap.Logger
}

func (o ScanOptions) withDefaults() ScanOptions {
	if o.Validator == nil {
		o.Validator = cwbundle.NewValidator()
	}
	if o.Concurrency <= 0 {
		o.Concurrency = runtime.GOMAXPROCS(0)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Scan loads every bundle directory under root
func Scan(ctx context.Context, root string, opts ScanOptions) (*Registry, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrBundlesRootMissing, root)
		}
		return nil, fmt.Errorf("error reading bundles root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("bundles root %s is not a directory", root)
	}
	return scanFS(ctx, os.DirFS(root), root, false, opts)
}

// ScanEmbedded loads the bundles compiled into the binary
func ScanEmbedded(ctx context.Context, opts ScanOptions) (*Registry, error) {
	sub, err := fs.Sub(cwbundle.EmbeddedBundles, "bundles")
	if err != nil {
		return nil, err
	}
	return scanFS(ctx, sub, "", true, opts)
}

// LoadBundle loads the single bundle directory dir. The directory name is
// the bundle ID.
func LoadBundle(dir string, opts ScanOptions) (*Bundle, []LoadProblem) {
	opts = opts.withDefaults()
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, []LoadProblem{{BundleID: filepath.Base(dir), Path: dir, Message: err.Error(), Err: err}}
	}
	root := filepath.Dir(abs)
	res := loadBundle(os.DirFS(root), root, filepath.Base(abs), opts.Validator)
	return res.bundle, res.problems
}

type loadResult struct {
	bundle   *Bundle
	problems []LoadProblem
}

func scanFS(ctx context.Context, fsys fs.FS, root string, embedded bool, opts ScanOptions) (*Registry, error) {
	opts = opts.withDefaults()
	log := opts.Logger.With(zap.String("root", root))

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("error reading bundles root: %w", err)
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			dirs = append(dirs, entry.Name())
		}
	}

	results := make([]loadResult, len(dirs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, dir := range dirs {
		i, dir := i, dir
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = loadBundle(fsys, root, dir, opts.Validator)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reg := newRegistry(uuid.NewString(), time.Now(), root)
	for _, res := range results {
		for _, p := range res.problems {
			log.Warn("bundle problem", zap.String("bundle", p.BundleID), zap.String("path", p.Path), zap.String("problem", p.Message))
		}
		reg.Problems = append(reg.Problems, res.problems...)
		if res.bundle != nil {
			res.bundle.Embedded = embedded
			reg.add(res.bundle)
		}
	}
	reg.finish()

	log.Debug("scanned bundles", zap.String("scan", reg.ScanID), zap.Int("bundles", len(reg.bundles)), zap.Int("problems", len(reg.Problems)))
	return reg, nil
}

// loadBundle merges the descriptor fragments of one bundle directory in
// lexical filename order and validates the result. A bundle with any problem
// is returned without a Bundle.
func loadBundle(fsys fs.FS, root, dir string, v *cwbundle.Validator) loadResult {
	var res loadResult
	problem := func(rel string, err error) {
		p := LoadProblem{BundleID: dir, Err: err, Message: err.Error()}
		if rel != "" {
			p.Path = filepath.Join(root, filepath.FromSlash(rel))
		}
		res.problems = append(res.problems, p)
	}

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		problem(dir, err)
		return res
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if _, err := cwbundle.FormatFromPath(entry.Name()); err == nil {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		problem(dir, ErrNoDescriptorFiles)
		return res
	}

	var fragments []*cwbundle.Descriptor
	var paths []string
	for _, name := range files {
		rel := path.Join(dir, name)
		format, _ := cwbundle.FormatFromPath(name)
		data, err := fs.ReadFile(fsys, rel)
		if err != nil {
			problem(rel, err)
			continue
		}
		d, err := cwbundle.Parse(data, format)
		if err != nil {
			problem(rel, err)
			continue
		}
		fragments = append(fragments, d)
		paths = append(paths, filepath.Join(root, filepath.FromSlash(rel)))
	}
	if len(res.problems) > 0 {
		return res
	}

	merged := cwbundle.MergeAll(fragments...)
	cwbundle.Normalize(merged)
	if err := v.Validate(merged); err != nil {
		for _, p := range cwbundle.Problems(err) {
			problem(dir, p)
		}
		return res
	}

	res.bundle = &Bundle{
		ID:         dir,
		Dir:        filepath.Join(root, dir),
		Files:      paths,
		Descriptor: merged,
	}
	if root == "" {
		res.bundle.Dir = ""
	}
	return res
}

// IsProblem reports whether err, or any load problem wrapping it, matches target
func IsProblem(problems []LoadProblem, target error) bool {
	for _, p := range problems {
		if errors.Is(p, target) {
			return true
		}
	}
	return false
}
