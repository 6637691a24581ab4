// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

// Package wconfig loads bundlectl settings from defaults, an INI file, an
// optional .env file and BUNDLECTL_* environment variables, in that order.
package wconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

const (
	ConfigDirName  = "cwbundle"
	ConfigFileName = "cwbundle.ini"
	EnvPrefix      = "BUNDLECTL_"
)

// BundlesConfig controls discovery of bundle descriptors
type BundlesConfig struct {
	Dir             string        `json:"dir" ini:"dir"`
	ExtraScopeRoots []string      `json:"extrascoperoots,omitempty" ini:"extra_scope_roots" delim:","`
	ScanConcurrency int           `json:"scanconcurrency" ini:"scan_concurrency"`
	WatchDebounce   time.Duration `json:"watchdebounce" ini:"watch_debounce"`
}

type IndexConfig struct {
	Path string `json:"path" ini:"path"`
}

type ServerConfig struct {
	Listen string `json:"listen" ini:"listen"`
}

type LogConfig struct {
	Level string `json:"level" ini:"level"`
}

// ConfigType is the effective bundlectl configuration
type ConfigType struct {
	Bundles BundlesConfig `json:"bundles" ini:"bundles"`
	Index   IndexConfig   `json:"index" ini:"index"`
	Server  ServerConfig  `json:"server" ini:"server"`
	Log     LogConfig     `json:"log" ini:"log"`

	// Source is the config file that was read, if any
	Source string `json:"source,omitempty" ini:"-"`
}

// GetConfigDir returns the per-user configuration directory
func GetConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "."+ConfigDirName)
	}
	return filepath.Join(dir, ConfigDirName)
}

// GetConfigPath returns the default config file location
func GetConfigPath() string {
	return filepath.Join(GetConfigDir(), ConfigFileName)
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *ConfigType {
	indexPath := filepath.Join(".", ".cwbundle", "index.db")
	if dir, err := os.UserCacheDir(); err == nil {
		indexPath = filepath.Join(dir, ConfigDirName, "index.db")
	}
	return &ConfigType{
		Bundles: BundlesConfig{
			WatchDebounce: 250 * time.Millisecond,
		},
		Index: IndexConfig{
			Path: indexPath,
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:7341",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. An empty path means the default location,
// which may be absent; an explicit path must exist.
func Load(path string) (*ConfigType, error) {
	config := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = GetConfigPath()
	}
	if _, err := os.Stat(path); err == nil {
		if err := loadFile(path, config); err != nil {
			return nil, err
		}
		config.Source = path
	} else if explicit {
		return nil, fmt.Errorf("error reading config %s: %w", path, err)
	}

	// .env never overrides variables already set in the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}
	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	return config, nil
}

func loadFile(path string, config *ConfigType) error {
	f, err := ini.LoadSources(ini.LoadOptions{Insensitive: true}, path)
	if err != nil {
		return fmt.Errorf("error parsing config %s: %w", path, err)
	}
	if err := f.MapTo(config); err != nil {
		return fmt.Errorf("error parsing config %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(config *ConfigType) error {
	if v := os.Getenv(EnvPrefix + "BUNDLES_DIR"); v != "" {
		config.Bundles.Dir = v
	}
	if v := os.Getenv(EnvPrefix + "EXTRA_SCOPE_ROOTS"); v != "" {
		var roots []string
		for _, r := range strings.Split(v, ",") {
			if r = strings.TrimSpace(r); r != "" {
				roots = append(roots, r)
			}
		}
		config.Bundles.ExtraScopeRoots = roots
	}
	if v := os.Getenv(EnvPrefix + "SCAN_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sSCAN_CONCURRENCY %q: %w", EnvPrefix, v, err)
		}
		config.Bundles.ScanConcurrency = n
	}
	if v := os.Getenv(EnvPrefix + "WATCH_DEBOUNCE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sWATCH_DEBOUNCE %q: %w", EnvPrefix, v, err)
		}
		config.Bundles.WatchDebounce = d
	}
	if v := os.Getenv(EnvPrefix + "INDEX_PATH"); v != "" {
		config.Index.Path = v
	}
	if v := os.Getenv(EnvPrefix + "LISTEN"); v != "" {
		config.Server.Listen = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		config.Log.Level = v
	}
	return nil
}

// Save writes config as an INI file, creating its directory
func Save(path string, config *ConfigType) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating config directory: %v", err)
	}
	f := ini.Empty()
	if err := ini.ReflectFrom(f, config); err != nil {
		return fmt.Errorf("error encoding config: %v", err)
	}
	// durations are written in their readable form, not as nanoseconds
	f.Section("bundles").Key("watch_debounce").SetValue(config.Bundles.WatchDebounce.String())
	return f.SaveTo(path)
}
