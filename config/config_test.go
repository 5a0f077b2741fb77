package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Listen != ":8000" || cfg.DatabasePath != "printvista.db" || cfg.LogLevel != "info" {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "printvista.toml")
	content := `
listen = ":9100"
database_path = "fleet.db"
data_dir = "` + dir + `"
log_level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9100" || cfg.DatabasePath != "fleet.db" || cfg.LogLevel != "debug" {
		t.Fatalf("loaded config = %+v", cfg)
	}
	if got := cfg.ResolveDatabasePath(); got != filepath.Join(dir, "fleet.db") {
		t.Fatalf("ResolveDatabasePath = %q", got)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PRINTVISTA_LISTEN", ":7777")
	t.Setenv("PRINTVISTA_DB", "override.db")
	t.Setenv("PRINTVISTA_LOG_LEVEL", "trace")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":7777" || cfg.DatabasePath != "override.db" || cfg.LogLevel != "trace" {
		t.Fatalf("env overrides ignored: %+v", cfg)
	}
}

func TestLegacyDatabaseEnv(t *testing.T) {
	t.Setenv("SQLALCHEMY_DATABASE_URI", "legacy.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DatabasePath != "legacy.db" {
		t.Fatalf("legacy env ignored: %+v", cfg)
	}
}

func TestScratchDirs(t *testing.T) {
	cfg := Defaults()
	cfg.DataDir = "/srv/printvista"
	if cfg.UploadsDir() != filepath.Join("/srv/printvista", "uploads") {
		t.Fatalf("UploadsDir = %q", cfg.UploadsDir())
	}
	if cfg.TempCSVDir() != filepath.Join("/srv/printvista", "tempcsv") {
		t.Fatalf("TempCSVDir = %q", cfg.TempCSVDir())
	}
}

func TestMemoryDatabasePathNotJoined(t *testing.T) {
	cfg := Defaults()
	cfg.DatabasePath = ":memory:"
	if cfg.ResolveDatabasePath() != ":memory:" {
		t.Fatalf("ResolveDatabasePath = %q", cfg.ResolveDatabasePath())
	}
}
