// Package config loads printvista server configuration from a TOML file
// with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config holds server configuration.
type Config struct {
	// Listen is the HTTP listen address, e.g. ":8000".
	Listen string `toml:"listen"`
	// DatabasePath is the SQLite database file, relative paths are joined
	// with DataDir.
	DatabasePath string `toml:"database_path"`
	// DataDir is the root for the database and scratch directories.
	DataDir string `toml:"data_dir"`
	// LogDir receives rotated server logs; empty disables file logging.
	LogDir string `toml:"log_dir"`
	// LogLevel is one of error, warn, info, debug, trace.
	LogLevel string `toml:"log_level"`
	// BaseURL is accepted for compatibility with older deployments whose
	// workers called back into the HTTP surface. The core no longer dials it.
	BaseURL string `toml:"base_url"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Listen:       ":8000",
		DatabasePath: "printvista.db",
		DataDir:      ".",
		LogLevel:     "info",
	}
}

// SearchPaths returns the ordered list of locations probed for the config
// file: system dir, user config dir, executable dir, working dir.
func SearchPaths(filename string) []string {
	var paths []string

	switch runtime.GOOS {
	case "windows":
		paths = append(paths, filepath.Join(os.Getenv("ProgramData"), "PrintVista", filename))
	case "darwin":
		paths = append(paths, filepath.Join("/Library/Application Support", "PrintVista", filename))
	default:
		paths = append(paths, filepath.Join("/etc/printvista", filename))
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		switch runtime.GOOS {
		case "windows":
			paths = append(paths, filepath.Join(homeDir, "AppData", "Local", "PrintVista", filename))
		case "darwin":
			paths = append(paths, filepath.Join(homeDir, "Library", "Application Support", "PrintVista", filename))
		default:
			paths = append(paths, filepath.Join(homeDir, ".config", "printvista", filename))
		}
	}

	if exePath, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exePath), filename))
	}

	paths = append(paths, filepath.Join(".", filename))
	return paths
}

// Load reads configuration. When path is empty the search paths are probed;
// a missing file is not an error, defaults plus env overrides apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		for _, candidate := range SearchPaths("printvista.toml") {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PRINTVISTA_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("PRINTVISTA_DB"); v != "" {
		c.DatabasePath = v
	}
	// Compatibility with the environment shape of older deployments: a bare
	// database file name joined with the server base directory.
	if v := os.Getenv("SQLALCHEMY_DATABASE_URI"); v != "" && os.Getenv("PRINTVISTA_DB") == "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("PRINTVISTA_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("PRINTVISTA_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		c.BaseURL = v
	}
}

// ResolveDatabasePath joins a relative database path with the data dir.
func (c *Config) ResolveDatabasePath() string {
	if c.DatabasePath == ":memory:" || filepath.IsAbs(c.DatabasePath) {
		return c.DatabasePath
	}
	return filepath.Join(c.DataDir, c.DatabasePath)
}

// UploadsDir is the scratch directory holding the decompressed G-code file
// of each in-flight print.
func (c *Config) UploadsDir() string {
	return filepath.Join(c.DataDir, "uploads")
}

// TempCSVDir is the scratch directory for CSV exports.
func (c *Config) TempCSVDir() string {
	return filepath.Join(c.DataDir, "tempcsv")
}
