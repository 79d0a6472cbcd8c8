package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/KevoDB/kmerge/pkg/sstable/block"
	"github.com/KevoDB/kmerge/pkg/sstable/footer"
)

// FileManager handles file operations for SSTable writing
type FileManager struct {
	path    string
	tmpPath string
	file    *os.File
}

// NewFileManager creates a new FileManager for the given file path
func NewFileManager(path string) (*FileManager, error) {
	dir := filepath.Dir(path)
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp", filepath.Base(path)))

	file, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}

	return &FileManager{
		path:    path,
		tmpPath: tmpPath,
		file:    file,
	}, nil
}

// Write writes data to the file at the current position
func (fm *FileManager) Write(data []byte) (int, error) {
	if fm.file == nil {
		return 0, ErrClosed
	}
	n, err := fm.file.Write(data)
	if err == nil && n != len(data) {
		err = fmt.Errorf("short write: %d of %d bytes", n, len(data))
	}
	return n, err
}

// Sync flushes the file to disk
func (fm *FileManager) Sync() error {
	return fm.file.Sync()
}

// Close closes the file
func (fm *FileManager) Close() error {
	if fm.file == nil {
		return nil
	}
	err := fm.file.Close()
	fm.file = nil
	return err
}

// FinalizeFile closes the file and renames it to the final path
func (fm *FileManager) FinalizeFile() error {
	if err := fm.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Rename(fm.tmpPath, fm.path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Cleanup removes the temporary file if writing is aborted
func (fm *FileManager) Cleanup() error {
	fm.Close()
	if err := os.Remove(fm.tmpPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IndexBuilder constructs the index block. Each entry maps the last key of
// a data block to its location, so the first index key >= target names the
// only block that can hold target.
type IndexBuilder struct {
	builder *block.Builder
	entries []*IndexEntry
}

// NewIndexBuilder creates a new IndexBuilder
func NewIndexBuilder() *IndexBuilder {
	return &IndexBuilder{
		builder: block.NewBuilder(),
	}
}

// AddIndexEntry adds an entry to the pending index entries
func (ib *IndexBuilder) AddIndexEntry(entry *IndexEntry) {
	ib.entries = append(ib.entries, entry)
}

// Serialize builds and serializes the index block
func (ib *IndexBuilder) Serialize() ([]byte, error) {
	if len(ib.entries) == 0 {
		return nil, nil
	}

	for _, entry := range ib.entries {
		value := make([]byte, indexValueSize)
		binary.LittleEndian.PutUint64(value[:8], entry.BlockOffset)
		binary.LittleEndian.PutUint32(value[8:], entry.BlockSize)

		if err := ib.builder.Add(entry.LastKey, value); err != nil {
			return nil, fmt.Errorf("failed to add index entry: %w", err)
		}
	}

	var buf bytes.Buffer
	if _, err := ib.builder.Finish(&buf); err != nil {
		return nil, fmt.Errorf("failed to finish index block: %w", err)
	}
	return buf.Bytes(), nil
}

// Writer writes an SSTable file.
//
// File layout:
//
//	data blocks | index block | filter block | footer
type Writer struct {
	opts         WriterOptions
	fileManager  *FileManager
	blockBuilder *block.Builder
	indexBuilder *IndexBuilder
	filter       *filterBuilder
	dataOffset   uint64
	entriesAdded uint32
	finished     bool
}

// NewWriter creates a new SSTable writer with DefaultWriterOptions
func NewWriter(path string) (*Writer, error) {
	return NewWriterWithOptions(path, DefaultWriterOptions())
}

// NewWriterWithOptions creates a new SSTable writer
func NewWriterWithOptions(path string, opts WriterOptions) (*Writer, error) {
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.BloomFalsePositiveRate <= 0 || opts.BloomFalsePositiveRate >= 1 {
		opts.BloomFalsePositiveRate = DefaultBloomFalsePositiveRate
	}
	if opts.Compression > block.CompressionZstd {
		return nil, fmt.Errorf("%w: %v", ErrUnknownCompression, opts.Compression)
	}

	fileManager, err := NewFileManager(path)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		opts:         opts,
		fileManager:  fileManager,
		blockBuilder: block.NewBuilderWithRestartInterval(opts.RestartInterval),
		indexBuilder: NewIndexBuilder(),
	}
	if opts.EnableBloomFilter {
		w.filter = newFilterBuilder(opts.BloomFalsePositiveRate)
	}
	return w, nil
}

// Add adds a key-value pair to the SSTable
// Keys must be added in strictly increasing order
func (w *Writer) Add(key, value []byte) error {
	if w.finished {
		return ErrClosed
	}
	if err := w.blockBuilder.Add(key, value); err != nil {
		return fmt.Errorf("failed to add to block: %w", err)
	}
	return w.afterAdd(key)
}

// AddTombstone adds a deletion marker for a key to the SSTable
func (w *Writer) AddTombstone(key []byte) error {
	if w.finished {
		return ErrClosed
	}
	if err := w.blockBuilder.AddTombstone(key); err != nil {
		return fmt.Errorf("failed to add to block: %w", err)
	}
	return w.afterAdd(key)
}

func (w *Writer) afterAdd(key []byte) error {
	if w.filter != nil {
		w.filter.add(key)
	}
	w.entriesAdded++

	if int(w.blockBuilder.EstimatedSize()) >= w.opts.BlockSize {
		return w.flushBlock()
	}
	return nil
}

// flushBlock writes the current block to the file and adds an index entry
func (w *Writer) flushBlock() error {
	if w.blockBuilder.Entries() == 0 {
		return nil
	}

	var raw bytes.Buffer
	if _, err := w.blockBuilder.Finish(&raw); err != nil {
		return fmt.Errorf("failed to finish block: %w", err)
	}

	stored, err := block.Compress(raw.Bytes(), w.opts.Compression)
	if err != nil {
		return err
	}

	n, err := w.fileManager.Write(stored)
	if err != nil {
		return fmt.Errorf("failed to write block to file: %w", err)
	}

	w.indexBuilder.AddIndexEntry(&IndexEntry{
		BlockOffset: w.dataOffset,
		BlockSize:   uint32(n),
		LastKey:     append([]byte(nil), w.blockBuilder.LastKey()...),
	})

	w.dataOffset += uint64(n)
	w.blockBuilder.Reset()

	return nil
}

// EntryCount returns the number of entries added so far
func (w *Writer) EntryCount() int {
	return int(w.entriesAdded)
}

// Finish completes the SSTable writing process
func (w *Writer) Finish() error {
	if w.finished {
		return ErrClosed
	}
	w.finished = true

	if err := w.finish(); err != nil {
		w.fileManager.Cleanup()
		return err
	}
	return nil
}

func (w *Writer) finish() error {
	if err := w.flushBlock(); err != nil {
		return err
	}

	indexOffset := w.dataOffset
	indexData, err := w.indexBuilder.Serialize()
	if err != nil {
		return err
	}
	if _, err := w.fileManager.Write(indexData); err != nil {
		return fmt.Errorf("failed to write index block: %w", err)
	}

	filterOffset := indexOffset + uint64(len(indexData))
	var filterData []byte
	if w.filter != nil && w.entriesAdded > 0 {
		if filterData, err = w.filter.finish(); err != nil {
			return err
		}
		if _, err := w.fileManager.Write(filterData); err != nil {
			return fmt.Errorf("failed to write filter block: %w", err)
		}
	}

	ft := footer.NewFooter(
		indexOffset,
		uint32(len(indexData)),
		w.entriesAdded,
		filterOffset,
		uint32(len(filterData)),
	)
	if _, err := ft.WriteTo(w.fileManager); err != nil {
		return fmt.Errorf("failed to write footer: %w", err)
	}

	if err := w.fileManager.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	return w.fileManager.FinalizeFile()
}

// Abort cancels the SSTable writing process
func (w *Writer) Abort() error {
	w.finished = true
	return w.fileManager.Cleanup()
}
