package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ManifestEntry is one version of the manifest: the configuration in force
// and the set of live table files, each tagged with the highest sequence
// number it contains.
type ManifestEntry struct {
	Timestamp int64            `json:"timestamp"`
	Version   int              `json:"version"`
	Config    *Config          `json:"config"`
	Tables    map[string]int64 `json:"tables,omitempty"`
}

// Manifest records the table files of a directory. Its ordering of tables
// by sequence number is the recency order a merge expects.
type Manifest struct {
	DBPath     string
	Entries    []ManifestEntry
	Current    *ManifestEntry
	LastUpdate time.Time
	mu         sync.RWMutex
}

// NewManifest creates a new manifest for the given directory
func NewManifest(dbPath string, config *Config) (*Manifest, error) {
	if config == nil {
		config = NewDefaultConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	entry := ManifestEntry{
		Timestamp: time.Now().Unix(),
		Version:   CurrentManifestVersion,
		Config:    config,
	}

	m := &Manifest{
		DBPath:     dbPath,
		Entries:    []ManifestEntry{entry},
		LastUpdate: time.Now(),
	}
	m.Current = &m.Entries[0]

	return m, nil
}

// LoadManifest loads an existing manifest from the directory
func LoadManifest(dbPath string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dbPath, DefaultManifestFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrManifestNotFound
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var entries []ManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no entries in manifest", ErrInvalidManifest)
	}

	current := &entries[len(entries)-1]
	if current.Config == nil {
		return nil, fmt.Errorf("%w: missing config", ErrInvalidManifest)
	}
	if err := current.Config.Validate(); err != nil {
		return nil, err
	}

	return &Manifest{
		DBPath:     dbPath,
		Entries:    entries,
		Current:    current,
		LastUpdate: time.Now(),
	}, nil
}

// Save persists the manifest to disk
func (m *Manifest) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.Current.Config.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(m.DBPath, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(m.Entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := writeFileAtomic(filepath.Join(m.DBPath, DefaultManifestFileName), data); err != nil {
		return err
	}

	m.LastUpdate = time.Now()
	return nil
}

// UpdateConfig appends a new entry carrying a modified copy of the current
// configuration and the current table set
func (m *Manifest) UpdateConfig(fn func(*Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	currentJSON, err := json.Marshal(m.Current.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal current config: %w", err)
	}

	newConfig := NewDefaultConfig()
	if err := json.Unmarshal(currentJSON, newConfig); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	fn(newConfig)

	if err := newConfig.Validate(); err != nil {
		return err
	}

	entry := ManifestEntry{
		Timestamp: time.Now().Unix(),
		Version:   CurrentManifestVersion,
		Config:    newConfig,
		Tables:    copyTables(m.Current.Tables),
	}

	m.Entries = append(m.Entries, entry)
	m.Current = &m.Entries[len(m.Entries)-1]

	return nil
}

// AddTable registers a table file with its highest sequence number
func (m *Manifest) AddTable(path string, seqNum int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Current.Tables == nil {
		m.Current.Tables = make(map[string]int64)
	}
	m.Current.Tables[path] = seqNum
}

// RemoveTable removes a table file from the manifest
func (m *Manifest) RemoveTable(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Current.Tables, path)
}

// GetConfig returns the current configuration
func (m *Manifest) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Current.Config
}

// GetTables returns a copy of the registered tables
func (m *Manifest) GetTables() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyTables(m.Current.Tables)
}

// TablesNewestFirst returns table paths ordered by descending sequence
// number. Ties are broken by path so the order is stable. Relative paths
// are resolved against the manifest directory.
func (m *Manifest) TablesNewestFirst() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	paths := make([]string, 0, len(m.Current.Tables))
	for p := range m.Current.Tables {
		paths = append(paths, p)
	}

	tables := m.Current.Tables
	sort.Slice(paths, func(i, j int) bool {
		if tables[paths[i]] != tables[paths[j]] {
			return tables[paths[i]] > tables[paths[j]]
		}
		return paths[i] < paths[j]
	})

	for i, p := range paths {
		if !filepath.IsAbs(p) {
			paths[i] = filepath.Join(m.DBPath, p)
		}
	}
	return paths
}

func copyTables(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
