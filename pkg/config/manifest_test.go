package config

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func TestNewManifest(t *testing.T) {
	manifest, err := NewManifest("/tmp/testdb", nil)
	if err != nil {
		t.Fatalf("failed to create manifest: %v", err)
	}

	if len(manifest.Entries) != 1 {
		t.Errorf("expected 1 entry, got %d", len(manifest.Entries))
	}

	if manifest.GetConfig() == nil {
		t.Fatal("expected a default config")
	}

	cfg := NewDefaultConfig()
	cfg.Version = 0
	if _, err := NewManifest("/tmp/testdb", cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestManifestUpdateConfig(t *testing.T) {
	manifest, err := NewManifest("/tmp/testdb", NewDefaultConfig())
	if err != nil {
		t.Fatalf("failed to create manifest: %v", err)
	}
	manifest.AddTable("000001.sst", 1)

	err = manifest.UpdateConfig(func(c *Config) {
		c.MaxMemTables = 8
	})
	if err != nil {
		t.Fatalf("failed to update config: %v", err)
	}

	if len(manifest.Entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(manifest.Entries))
	}

	if current := manifest.GetConfig(); current.MaxMemTables != 8 {
		t.Errorf("expected max memtables %d, got %d", 8, current.MaxMemTables)
	}

	if manifest.Entries[0].Config.MaxMemTables == 8 {
		t.Error("expected previous entry to keep its config")
	}

	if _, ok := manifest.GetTables()["000001.sst"]; !ok {
		t.Error("expected table set to carry over into the new entry")
	}

	err = manifest.UpdateConfig(func(c *Config) { c.SSTableCompression = "brotli" })
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
	if len(manifest.Entries) != 2 {
		t.Errorf("expected rejected update to leave 2 entries, got %d", len(manifest.Entries))
	}
}

func TestManifestTableTracking(t *testing.T) {
	manifest, err := NewManifest("/tmp/testdb", nil)
	if err != nil {
		t.Fatalf("failed to create manifest: %v", err)
	}

	manifest.AddTable("000001.sst", 1)
	manifest.AddTable("000002.sst", 2)

	tables := manifest.GetTables()
	if len(tables) != 2 {
		t.Errorf("expected 2 tables, got %d", len(tables))
	}

	if tables["000002.sst"] != 2 {
		t.Errorf("expected sequence number 2, got %d", tables["000002.sst"])
	}

	manifest.RemoveTable("000001.sst")

	tables = manifest.GetTables()
	if len(tables) != 1 {
		t.Errorf("expected 1 table, got %d", len(tables))
	}

	if _, exists := tables["000001.sst"]; exists {
		t.Error("table should have been removed")
	}
}

func TestManifestTablesNewestFirst(t *testing.T) {
	manifest, err := NewManifest("/data", nil)
	if err != nil {
		t.Fatalf("failed to create manifest: %v", err)
	}

	manifest.AddTable("b.sst", 10)
	manifest.AddTable("a.sst", 10)
	manifest.AddTable("/abs/old.sst", 1)
	manifest.AddTable("new.sst", 42)

	got := manifest.TablesNewestFirst()
	want := []string{
		filepath.Join("/data", "new.sst"),
		filepath.Join("/data", "a.sst"),
		filepath.Join("/data", "b.sst"),
		"/abs/old.sst",
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestManifestSaveLoad(t *testing.T) {
	tempDir := t.TempDir()

	manifest, err := NewManifest(tempDir, NewDefaultConfig())
	if err != nil {
		t.Fatalf("failed to create manifest: %v", err)
	}

	err = manifest.UpdateConfig(func(c *Config) {
		c.MemTableSize = 64 * 1024 * 1024 // 64MB
	})
	if err != nil {
		t.Fatalf("failed to update config: %v", err)
	}

	manifest.AddTable("000001.sst", 1)

	if err := manifest.Save(); err != nil {
		t.Fatalf("failed to save manifest: %v", err)
	}

	loaded, err := LoadManifest(tempDir)
	if err != nil {
		t.Fatalf("failed to load manifest: %v", err)
	}

	if len(loaded.Entries) != len(manifest.Entries) {
		t.Errorf("expected %d entries, got %d", len(manifest.Entries), len(loaded.Entries))
	}

	if loaded.GetConfig().MemTableSize != 64*1024*1024 {
		t.Errorf("expected memtable size %d, got %d", 64*1024*1024, loaded.GetConfig().MemTableSize)
	}

	if loaded.GetTables()["000001.sst"] != 1 {
		t.Errorf("expected table sequence number 1, got %d", loaded.GetTables()["000001.sst"])
	}

	if _, err := LoadManifest(filepath.Join(tempDir, "nonexistent")); err != ErrManifestNotFound {
		t.Errorf("expected ErrManifestNotFound, got %v", err)
	}
}
