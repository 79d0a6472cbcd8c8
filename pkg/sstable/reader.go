package sstable

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/KevoDB/kmerge/pkg/sstable/block"
	"github.com/KevoDB/kmerge/pkg/sstable/footer"
)

// ErrDeleted is returned by Get when the newest entry for a key in this
// table is a tombstone
var ErrDeleted = errors.New("key deleted in sstable")

// IOManager handles file I/O operations for SSTable
type IOManager struct {
	path     string
	file     *os.File
	fileSize int64
	mu       sync.RWMutex
}

// NewIOManager creates a new IOManager for the given file path
func NewIOManager(path string) (*IOManager, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	return &IOManager{
		path:     path,
		file:     file,
		fileSize: stat.Size(),
	}, nil
}

// ReadAt reads exactly len(data) bytes at the given offset
func (io *IOManager) ReadAt(data []byte, offset int64) error {
	io.mu.RLock()
	defer io.mu.RUnlock()

	if io.file == nil {
		return ErrClosed
	}

	if offset < 0 || offset+int64(len(data)) > io.fileSize {
		return fmt.Errorf("%w: read of %d bytes at offset %d exceeds file size %d",
			ErrCorruption, len(data), offset, io.fileSize)
	}

	_, err := io.file.ReadAt(data, offset)
	return err
}

// GetFileSize returns the size of the file
func (io *IOManager) GetFileSize() int64 {
	io.mu.RLock()
	defer io.mu.RUnlock()
	return io.fileSize
}

// Close closes the file
func (io *IOManager) Close() error {
	io.mu.Lock()
	defer io.mu.Unlock()

	if io.file == nil {
		return nil
	}

	err := io.file.Close()
	io.file = nil
	return err
}

// BlockLocator represents an index entry pointing to a data block
type BlockLocator struct {
	Offset uint64
	Size   uint32
	Key    []byte
}

// ParseBlockLocator extracts block location information from an index entry
func ParseBlockLocator(key, value []byte) (BlockLocator, error) {
	if len(value) != indexValueSize {
		return BlockLocator{}, fmt.Errorf("%w: invalid index entry length %d",
			ErrCorruption, len(value))
	}

	return BlockLocator{
		Offset: binary.LittleEndian.Uint64(value[:8]),
		Size:   binary.LittleEndian.Uint32(value[8:12]),
		Key:    key,
	}, nil
}

// Reader reads an SSTable file. It is safe for concurrent use; each
// Iterator it returns is not.
type Reader struct {
	path       string
	ioManager  *IOManager
	fileID     uint64
	cache      *BlockCache
	indexBlock *block.Reader
	filter     *bloom.BloomFilter
	ft         *footer.Footer
	closed     atomic.Bool
}

// OpenReader opens an SSTable file for reading without a block cache
func OpenReader(path string) (*Reader, error) {
	return OpenReaderWithOptions(path, ReaderOptions{})
}

// OpenReaderWithOptions opens an SSTable file for reading
func OpenReaderWithOptions(path string, opts ReaderOptions) (*Reader, error) {
	ioManager, err := NewIOManager(path)
	if err != nil {
		return nil, err
	}

	r, err := openReader(path, ioManager, opts)
	if err != nil {
		ioManager.Close()
		return nil, fmt.Errorf("sstable %s: %w", path, err)
	}
	return r, nil
}

func openReader(path string, ioManager *IOManager, opts ReaderOptions) (*Reader, error) {
	fileSize := ioManager.GetFileSize()
	if fileSize < int64(footer.FooterSize) {
		return nil, fmt.Errorf("%w: file too small to be valid SSTable: %d bytes", ErrCorruption, fileSize)
	}

	footerData := make([]byte, footer.FooterSize)
	if err := ioManager.ReadAt(footerData, fileSize-int64(footer.FooterSize)); err != nil {
		return nil, fmt.Errorf("failed to read footer: %w", err)
	}

	ft, err := footer.Decode(footerData)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruption, err)
	}
	if ft.Version != footer.CurrentVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorruption, ft.Version)
	}

	r := &Reader{
		path:      path,
		ioManager: ioManager,
		fileID:    nextFileID.Add(1),
		cache:     opts.Cache,
		ft:        ft,
	}

	if ft.IndexSize > 0 {
		indexData := make([]byte, ft.IndexSize)
		if err := ioManager.ReadAt(indexData, int64(ft.IndexOffset)); err != nil {
			return nil, fmt.Errorf("failed to read index block: %w", err)
		}
		if r.indexBlock, err = block.NewReader(indexData); err != nil {
			return nil, fmt.Errorf("%w: index block: %w", ErrCorruption, err)
		}
	}

	if ft.HasBloomFilter() {
		filterData := make([]byte, ft.BloomFilterSize)
		if err := ioManager.ReadAt(filterData, int64(ft.BloomFilterOffset)); err != nil {
			return nil, fmt.Errorf("failed to read filter block: %w", err)
		}
		if r.filter, err = decodeFilter(filterData); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Path returns the file the reader was opened on
func (r *Reader) Path() string {
	return r.path
}

// readBlock loads a data block, consulting the block cache first
func (r *Reader) readBlock(loc BlockLocator) (*block.Reader, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}

	key := cacheKey{fileID: r.fileID, offset: loc.Offset}
	if r.cache != nil {
		if br, ok := r.cache.get(key); ok {
			return br, nil
		}
	}

	stored := make([]byte, loc.Size)
	if err := r.ioManager.ReadAt(stored, int64(loc.Offset)); err != nil {
		return nil, fmt.Errorf("failed to read data block at offset %d: %w", loc.Offset, err)
	}

	raw, err := block.Decompress(stored)
	if err != nil {
		return nil, fmt.Errorf("%w: block at offset %d: %w", ErrCorruption, loc.Offset, err)
	}

	br, err := block.NewReader(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: block at offset %d: %w", ErrCorruption, loc.Offset, err)
	}

	if r.cache != nil {
		r.cache.add(key, br)
	}
	return br, nil
}

// MayContain reports whether key may be present. False means the key is
// definitely absent.
func (r *Reader) MayContain(key []byte) bool {
	if r.filter == nil {
		return true
	}
	return filterContains(r.filter, key)
}

// HasBloomFilter reports whether the table carries a filter block
func (r *Reader) HasBloomFilter() bool {
	return r.filter != nil
}

// Get returns the value for a given key. It returns ErrNotFound when the
// table holds no entry for key and ErrDeleted when it holds a tombstone.
func (r *Reader) Get(key []byte) ([]byte, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	if r.indexBlock == nil || !r.MayContain(key) {
		return nil, ErrNotFound
	}

	indexIter := r.indexBlock.Iterator()
	if !indexIter.Seek(key) {
		if err := indexIter.Err(); err != nil {
			return nil, fmt.Errorf("%w: index block: %w", ErrCorruption, err)
		}
		return nil, ErrNotFound
	}

	loc, err := ParseBlockLocator(indexIter.Key(), indexIter.Value())
	if err != nil {
		return nil, err
	}

	br, err := r.readBlock(loc)
	if err != nil {
		return nil, err
	}

	blockIter := br.Iterator()
	if !blockIter.Seek(key) || !bytes.Equal(blockIter.Key(), key) {
		if err := blockIter.Err(); err != nil {
			return nil, fmt.Errorf("%w: block at offset %d: %w", ErrCorruption, loc.Offset, err)
		}
		return nil, ErrNotFound
	}

	if blockIter.IsTombstone() {
		return nil, ErrDeleted
	}
	return blockIter.Value(), nil
}

// NewIterator returns an iterator positioned at the first entry of the table
func (r *Reader) NewIterator() (*Iterator, error) {
	return r.NewIteratorFrom(nil)
}

// NewIteratorFrom returns an iterator positioned at the first entry with a
// key >= start. Only the block holding that entry is read. A nil start is
// the same as NewIterator.
func (r *Reader) NewIteratorFrom(start []byte) (*Iterator, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}

	it := &Iterator{reader: r}
	var err error
	if start == nil {
		err = it.SeekToFirst()
	} else {
		err = it.Seek(start)
	}
	if err != nil {
		return nil, err
	}
	return it, nil
}

// Close closes the SSTable reader and drops its cached blocks
func (r *Reader) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if r.cache != nil {
		r.cache.evictFile(r.fileID)
	}
	return r.ioManager.Close()
}

// GetKeyCount returns the number of entries in the SSTable, tombstones included
func (r *Reader) GetKeyCount() int {
	return int(r.ft.NumEntries)
}
