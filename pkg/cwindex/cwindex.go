// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

// Package cwindex keeps a SQLite catalog of loaded bundles so hosts and tools
// can look up commands and scoped menus without rescanning the bundles root.
package cwindex

import (
	"context"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alexflint/go-filemutex"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/greggcoppen/cwbundle/pkg/cwbundle"
	"github.com/greggcoppen/cwbundle/pkg/cwregistry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Entry is the catalog row for one bundle
type Entry struct {
	ID          string `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Author      string `json:"author,omitempty" db:"author"`
	Copyright   string `json:"copyright,omitempty" db:"copyright"`
	Description string `json:"description,omitempty" db:"description"`
	GitRepo     string `json:"git_repo,omitempty" db:"git_repo"`
	Embedded    bool   `json:"embedded,omitempty" db:"embedded"`
	Checksum    string `json:"checksum" db:"checksum"`
	ScanID      string `json:"scanId" db:"scan_id"`
	IndexedAt   int64  `json:"indexedAt" db:"indexed_at"`
}

// Error types for index operations
var (
	ErrBundleNotIndexed  = errors.New("bundle not found in index")
	ErrIndexPathRequired = errors.New("index path is required")
)

// Index is an open bundle catalog
type Index struct {
	db   *sqlx.DB
	path string
	lock *filemutex.FileMutex
	log  *zap.Logger
}

// Open opens or creates the catalog at path and applies pending migrations
func Open(path string, log *zap.Logger) (*Index, error) {
	if path == "" {
		return nil, ErrIndexPathRequired
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	lock, err := filemutex.New(path + ".lock")
	if err != nil {
		return nil, fmt.Errorf("failed to create index lock: %w", err)
	}

	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		lock.Close()
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	idx := &Index{db: db, path: path, lock: lock, log: log.With(zap.String("index", path))}
	if err := idx.migrate(); err != nil {
		idx.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) migrate() error {
	if err := idx.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock index: %w", err)
	}
	defer idx.lock.Unlock()

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(idx.db.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to prepare migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to prepare migrations: %w", err)
	}
	// m.Close would close the shared *sql.DB
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate index: %w", err)
	}
	return nil
}

// Path returns the database file path
func (idx *Index) Path() string {
	return idx.path
}

// Close closes the database and the lock file
func (idx *Index) Close() error {
	err := idx.db.Close()
	if lerr := idx.lock.Close(); err == nil {
		err = lerr
	}
	return err
}

// Checksum returns the BLAKE2b-256 digest of the descriptor's JSON encoding
func Checksum(d *cwbundle.Descriptor) (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Sync replaces the catalog contents with the bundles in reg
func (idx *Index) Sync(ctx context.Context, reg *cwregistry.Registry) (rtnErr error) {
	if reg == nil {
		return cwregistry.ErrRegistryNotLoaded
	}
	if err := idx.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock index: %w", err)
	}
	defer idx.lock.Unlock()

	tx, err := idx.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin index sync: %w", err)
	}
	defer func() {
		if rtnErr != nil {
			tx.Rollback()
		}
	}()

	for _, table := range []string{"commands", "menu_scopes", "menus", "bundles"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	now := time.Now().Unix()
	for _, b := range reg.Bundles() {
		if err := insertBundle(ctx, tx, b, reg.ScanID, now); err != nil {
			return fmt.Errorf("failed to index bundle %s: %w", b.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit index sync: %w", err)
	}
	idx.log.Info("index synced", zap.String("scan", reg.ScanID), zap.Int("bundles", len(reg.Bundles())))
	return nil
}

func insertBundle(ctx context.Context, tx *sqlx.Tx, b *cwregistry.Bundle, scanID string, now int64) error {
	d := b.Descriptor
	checksum, err := Checksum(d)
	if err != nil {
		return err
	}
	entry := Entry{
		ID:          b.ID,
		Name:        d.Name,
		Author:      d.Author,
		Copyright:   d.Copyright,
		Description: d.Description,
		GitRepo:     d.GitRepo,
		Embedded:    b.Embedded,
		Checksum:    checksum,
		ScanID:      scanID,
		IndexedAt:   now,
	}
	_, err = tx.NamedExecContext(ctx, `INSERT INTO bundles
		(id, name, author, copyright, description, git_repo, embedded, checksum, scan_id, indexed_at)
		VALUES (:id, :name, :author, :copyright, :description, :git_repo, :embedded, :checksum, :scan_id, :indexed_at)`, entry)
	if err != nil {
		return err
	}

	for mi, m := range d.Menus {
		if _, err := tx.ExecContext(ctx, `INSERT INTO menus (bundle_id, position, title) VALUES (?, ?, ?)`, b.ID, mi, m.Title); err != nil {
			return err
		}
		for si, s := range m.Scope {
			if _, err := tx.ExecContext(ctx, `INSERT INTO menu_scopes (bundle_id, menu_position, position, scope) VALUES (?, ?, ?, ?)`, b.ID, mi, si, s); err != nil {
				return err
			}
		}
		for ci, c := range m.Commands {
			if _, err := tx.ExecContext(ctx, `INSERT INTO commands (bundle_id, menu_position, position, name, name_fold) VALUES (?, ?, ?, ?, ?)`, b.ID, mi, ci, c, cwbundle.FoldName(c)); err != nil {
				return err
			}
		}
	}
	return nil
}

// List returns every catalog entry ordered by ID
func (idx *Index) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	if err := idx.db.SelectContext(ctx, &entries, `SELECT * FROM bundles ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list index: %w", err)
	}
	return entries, nil
}

// Entry returns the catalog row for one bundle
func (idx *Index) Entry(ctx context.Context, bundleID string) (*Entry, error) {
	var entry Entry
	err := idx.db.GetContext(ctx, &entry, `SELECT * FROM bundles WHERE id = ?`, bundleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBundleNotIndexed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	return &entry, nil
}

// Get rebuilds the descriptor stored for bundleID
func (idx *Index) Get(ctx context.Context, bundleID string) (*cwbundle.Descriptor, error) {
	entry, err := idx.Entry(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	d := &cwbundle.Descriptor{
		Name:        entry.Name,
		Author:      entry.Author,
		Copyright:   entry.Copyright,
		Description: entry.Description,
		GitRepo:     entry.GitRepo,
	}

	var titles []string
	if err := idx.db.SelectContext(ctx, &titles, `SELECT title FROM menus WHERE bundle_id = ? ORDER BY position`, bundleID); err != nil {
		return nil, fmt.Errorf("failed to read menus: %w", err)
	}
	for mi, title := range titles {
		menu := cwbundle.Menu{Title: title, Scope: []string{}, Commands: []string{}}
		if err := idx.db.SelectContext(ctx, &menu.Scope, `SELECT scope FROM menu_scopes WHERE bundle_id = ? AND menu_position = ? ORDER BY position`, bundleID, mi); err != nil {
			return nil, fmt.Errorf("failed to read scopes: %w", err)
		}
		if err := idx.db.SelectContext(ctx, &menu.Commands, `SELECT name FROM commands WHERE bundle_id = ? AND menu_position = ? ORDER BY position`, bundleID, mi); err != nil {
			return nil, fmt.Errorf("failed to read commands: %w", err)
		}
		d.Menus = append(d.Menus, menu)
	}
	cwbundle.Normalize(d)
	return d, nil
}

// FindCommand returns the indexed commands whose name equals name case-insensitively
func (idx *Index) FindCommand(ctx context.Context, name string) ([]cwregistry.CommandRef, error) {
	var refs []cwregistry.CommandRef
	err := idx.db.SelectContext(ctx, &refs, `SELECT c.bundle_id AS bundleid, m.title AS menu, c.name AS command
		FROM commands c
		JOIN menus m ON m.bundle_id = c.bundle_id AND m.position = c.menu_position
		WHERE c.name_fold = ?
		ORDER BY c.bundle_id, c.menu_position, c.position`, cwbundle.FoldName(name))
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	return refs, nil
}

// BundlesForScope returns the IDs of bundles with a menu listing scope
func (idx *Index) BundlesForScope(ctx context.Context, scope string) ([]string, error) {
	var ids []string
	err := idx.db.SelectContext(ctx, &ids, `SELECT DISTINCT bundle_id FROM menu_scopes WHERE scope = ? ORDER BY bundle_id`, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to query scopes: %w", err)
	}
	return ids, nil
}
