package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/KevoDB/kmerge/pkg/common/log"
	"github.com/KevoDB/kmerge/pkg/telemetry"
)

const (
	DefaultManifestFileName = "MANIFEST"
	CurrentManifestVersion  = 1
)

var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrConfigNotFound   = errors.New("configuration not found")
	ErrManifestNotFound = errors.New("manifest not found")
	ErrInvalidManifest  = errors.New("invalid manifest")
)

// Compression codec names accepted by SSTableCompression
const (
	CompressionNone   = "none"
	CompressionSnappy = "snappy"
	CompressionZstd   = "zstd"
)

type Config struct {
	Version int `json:"version"`

	// MemTable configuration
	MemTableSize   int64 `json:"memtable_size"`
	MaxMemTables   int   `json:"max_memtables"`
	MaxMemTableAge int64 `json:"max_memtable_age"`

	// SSTable configuration
	SSTableBlockSize       int     `json:"sstable_block_size"`
	SSTableRestartInterval int     `json:"sstable_restart_interval"`
	SSTableCompression     string  `json:"sstable_compression"`
	BloomFalsePositiveRate float64 `json:"bloom_false_positive_rate"`
	BlockCacheSize         int     `json:"block_cache_size"` // in blocks, 0 disables the cache

	LogLevel string `json:"log_level"`

	Telemetry telemetry.Config `json:"telemetry"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config with recommended default values
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentManifestVersion,

		// MemTable defaults
		MemTableSize:   32 * 1024 * 1024, // 32MB
		MaxMemTables:   4,
		MaxMemTableAge: 600, // 10 minutes

		// SSTable defaults
		SSTableBlockSize:       16 * 1024, // 16KB
		SSTableRestartInterval: 16,        // Restart points every 16 keys
		SSTableCompression:     CompressionSnappy,
		BloomFalsePositiveRate: 0.01,
		BlockCacheSize:         256,

		LogLevel:  "info",
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.validate()
}

func (c *Config) validate() error {
	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	if c.MemTableSize <= 0 {
		return fmt.Errorf("%w: MemTable size must be positive", ErrInvalidConfig)
	}

	if c.MaxMemTables <= 0 {
		return fmt.Errorf("%w: Max MemTables must be positive", ErrInvalidConfig)
	}

	if c.SSTableBlockSize <= 0 {
		return fmt.Errorf("%w: SSTable block size must be positive", ErrInvalidConfig)
	}

	if c.SSTableRestartInterval <= 0 {
		return fmt.Errorf("%w: SSTable restart interval must be positive", ErrInvalidConfig)
	}

	switch c.SSTableCompression {
	case CompressionNone, CompressionSnappy, CompressionZstd:
	default:
		return fmt.Errorf("%w: unknown SSTable compression %q", ErrInvalidConfig, c.SSTableCompression)
	}

	if c.BloomFalsePositiveRate <= 0 || c.BloomFalsePositiveRate >= 1 {
		return fmt.Errorf("%w: bloom false positive rate must be in (0, 1)", ErrInvalidConfig)
	}

	if c.BlockCacheSize < 0 {
		return fmt.Errorf("%w: block cache size cannot be negative", ErrInvalidConfig)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("%w: telemetry: %v", ErrInvalidConfig, err)
	}

	return nil
}

// LoadConfig reads a JSON configuration file. Fields missing from the file
// keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := NewDefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig writes the configuration to path atomically
func (c *Config) SaveConfig(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.validate(); err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return writeFileAtomic(path, data)
}

// Update applies the given function to modify the configuration
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

// LoadFromEnv overrides fields from KMERGE_* environment variables.
// Unparseable values are ignored.
func (c *Config) LoadFromEnv() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if val := os.Getenv("KMERGE_MEMTABLE_SIZE"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.MemTableSize = n
		}
	}

	if val := os.Getenv("KMERGE_SSTABLE_BLOCK_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.SSTableBlockSize = n
		}
	}

	if val := os.Getenv("KMERGE_SSTABLE_RESTART_INTERVAL"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.SSTableRestartInterval = n
		}
	}

	if val := os.Getenv("KMERGE_SSTABLE_COMPRESSION"); val != "" {
		c.SSTableCompression = strings.ToLower(strings.TrimSpace(val))
	}

	if val := os.Getenv("KMERGE_BLOOM_FALSE_POSITIVE_RATE"); val != "" {
		if rate, err := strconv.ParseFloat(val, 64); err == nil {
			c.BloomFalsePositiveRate = rate
		}
	}

	if val := os.Getenv("KMERGE_BLOCK_CACHE_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.BlockCacheSize = n
		}
	}

	if val := os.Getenv("KMERGE_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}

	c.Telemetry.LoadFromEnv()
}

// Logger builds a logger at the configured level
func (c *Config) Logger() (log.Logger, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return log.NewStandardLogger(log.WithLevel(level)), nil
}

func writeFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}

	return nil
}
