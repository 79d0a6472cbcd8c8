package sstable

import (
	"errors"
	"fmt"

	"github.com/KevoDB/kmerge/pkg/config"
	"github.com/KevoDB/kmerge/pkg/sstable/block"
)

const (
	// DefaultBlockSize is the target size for data blocks
	DefaultBlockSize = block.BlockSize
	// DefaultBloomFalsePositiveRate is the target false positive rate of the filter block
	DefaultBloomFalsePositiveRate = 0.01
	// indexValueSize is offset(8) + size(4)
	indexValueSize = 12
)

var (
	// ErrNotFound indicates a key was not found in the SSTable
	ErrNotFound = errors.New("key not found in sstable")
	// ErrCorruption indicates data corruption was detected
	ErrCorruption = errors.New("sstable corruption detected")
	// ErrClosed indicates the reader or writer was already closed
	ErrClosed = errors.New("sstable closed")
	// ErrUnknownCompression indicates a codec the reader does not understand
	ErrUnknownCompression = block.ErrUnknownCompression
)

// IndexEntry represents a block index entry
type IndexEntry struct {
	// BlockOffset is the offset of the block in the file
	BlockOffset uint64
	// BlockSize is the stored size of the block in bytes, codec byte included
	BlockSize uint32
	// LastKey is the last key in the block
	LastKey []byte
}

// WriterOptions controls the layout of a new SSTable
type WriterOptions struct {
	BlockSize              int
	RestartInterval        int
	Compression            block.Compression
	EnableBloomFilter      bool
	BloomFalsePositiveRate float64
}

// DefaultWriterOptions returns the options used by NewWriter
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{
		BlockSize:              DefaultBlockSize,
		RestartInterval:        block.RestartInterval,
		Compression:            block.CompressionSnappy,
		EnableBloomFilter:      true,
		BloomFalsePositiveRate: DefaultBloomFalsePositiveRate,
	}
}

// WriterOptionsFromConfig derives writer options from the configuration
func WriterOptionsFromConfig(cfg *config.Config) (WriterOptions, error) {
	codec, err := block.ParseCompression(cfg.SSTableCompression)
	if err != nil {
		return WriterOptions{}, err
	}

	return WriterOptions{
		BlockSize:              cfg.SSTableBlockSize,
		RestartInterval:        cfg.SSTableRestartInterval,
		Compression:            codec,
		EnableBloomFilter:      cfg.BloomFalsePositiveRate > 0,
		BloomFalsePositiveRate: cfg.BloomFalsePositiveRate,
	}, nil
}

// ReaderOptions controls how an SSTable is read
type ReaderOptions struct {
	// Cache holds decoded data blocks; it may be shared between readers.
	// A nil cache disables caching.
	Cache *BlockCache
}

// ReaderOptionsFromConfig builds reader options with a fresh block cache
// sized from the configuration
func ReaderOptionsFromConfig(cfg *config.Config) (ReaderOptions, error) {
	if cfg.BlockCacheSize == 0 {
		return ReaderOptions{}, nil
	}

	cache, err := NewBlockCache(cfg.BlockCacheSize)
	if err != nil {
		return ReaderOptions{}, fmt.Errorf("failed to create block cache: %w", err)
	}
	return ReaderOptions{Cache: cache}, nil
}
