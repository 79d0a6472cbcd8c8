package sstable

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/KevoDB/kmerge/pkg/config"
	"github.com/KevoDB/kmerge/pkg/sstable/block"
)

func TestWriterBasics(t *testing.T) {
	tempDir := t.TempDir()
	sstablePath := filepath.Join(tempDir, "test.sst")

	writer, err := NewWriter(sstablePath)
	if err != nil {
		t.Fatalf("Failed to create SSTable writer: %v", err)
	}

	numEntries := 100
	for i := 0; i < numEntries; i++ {
		key := fmt.Sprintf("key%05d", i)
		value := fmt.Sprintf("value%05d", i)

		if err := writer.Add([]byte(key), []byte(value)); err != nil {
			t.Fatalf("Failed to add entry: %v", err)
		}
	}

	if writer.EntryCount() != numEntries {
		t.Errorf("Expected %d entries added, got %d", numEntries, writer.EntryCount())
	}

	if err := writer.Finish(); err != nil {
		t.Fatalf("Failed to finish SSTable: %v", err)
	}

	if _, err := os.Stat(sstablePath); os.IsNotExist(err) {
		t.Errorf("SSTable file %s does not exist after Finish()", sstablePath)
	}

	reader := openTestTable(t, sstablePath, ReaderOptions{})
	if reader.GetKeyCount() != numEntries {
		t.Errorf("Expected %d entries, got %d", numEntries, reader.GetKeyCount())
	}

	if err := writer.Add([]byte("zzz"), nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after Finish, got %v", err)
	}
}

func TestWriterRejectsUnsortedKeys(t *testing.T) {
	writer, err := NewWriter(filepath.Join(t.TempDir(), "test.sst"))
	if err != nil {
		t.Fatalf("Failed to create SSTable writer: %v", err)
	}
	defer writer.Abort()

	if err := writer.Add([]byte("b"), []byte("1")); err != nil {
		t.Fatalf("Failed to add entry: %v", err)
	}
	if err := writer.Add([]byte("a"), []byte("2")); err == nil {
		t.Error("Expected error adding a smaller key")
	}
	if err := writer.AddTombstone([]byte("b")); err == nil {
		t.Error("Expected error adding a duplicate key")
	}
}

func TestWriterAbort(t *testing.T) {
	tempDir := t.TempDir()
	sstablePath := filepath.Join(tempDir, "test.sst")

	writer, err := NewWriter(sstablePath)
	if err != nil {
		t.Fatalf("Failed to create SSTable writer: %v", err)
	}

	for i := 0; i < 10; i++ {
		writer.Add([]byte(fmt.Sprintf("key%05d", i)), []byte(fmt.Sprintf("value%05d", i)))
	}

	tmpPath := filepath.Join(filepath.Dir(sstablePath), fmt.Sprintf(".%s.tmp", filepath.Base(sstablePath)))

	if err := writer.Abort(); err != nil {
		t.Fatalf("Failed to abort SSTable: %v", err)
	}

	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Errorf("Temp file %s still exists after abort", tmpPath)
	}

	if _, err := os.Stat(sstablePath); !os.IsNotExist(err) {
		t.Errorf("Final file %s exists after abort", sstablePath)
	}
}

func TestWriterTombstone(t *testing.T) {
	entries := sequentialEntries(10)
	for i := 5; i < 10; i++ {
		entries[i].tombstone = true
	}

	reader := openTestTable(t, writeTestTable(t, DefaultWriterOptions(), entries), ReaderOptions{})

	iter, err := reader.NewIterator()
	if err != nil {
		t.Fatalf("Failed to create iterator: %v", err)
	}

	i := 0
	for ; iter.Valid(); i++ {
		if i >= 5 {
			if !iter.IsTombstone() || iter.Value() != nil {
				t.Errorf("Key %s should be a tombstone with nil value, got %q", iter.Key(), iter.Value())
			}
		} else if iter.IsTombstone() || string(iter.Value()) != entries[i].value {
			t.Errorf("Expected value %s for key %s, got %q", entries[i].value, iter.Key(), iter.Value())
		}
		if err := iter.Next(); err != nil {
			t.Fatalf("Next failed: %v", err)
		}
	}
	if i != len(entries) {
		t.Errorf("Expected %d entries, got %d", len(entries), i)
	}

	for i := 0; i < 5; i++ {
		value, err := reader.Get([]byte(entries[i].key))
		if err != nil {
			t.Errorf("Failed to get key %s: %v", entries[i].key, err)
			continue
		}
		if string(value) != entries[i].value {
			t.Errorf("Value mismatch for key %s: expected %s, got %s", entries[i].key, entries[i].value, value)
		}
	}

	for i := 5; i < 10; i++ {
		if _, err := reader.Get([]byte(entries[i].key)); !errors.Is(err, ErrDeleted) {
			t.Errorf("Expected ErrDeleted for tombstone key %s, got %v", entries[i].key, err)
		}
	}
}

func TestWriterEmptyTable(t *testing.T) {
	reader := openTestTable(t, writeTestTable(t, DefaultWriterOptions(), nil), ReaderOptions{})

	if reader.GetKeyCount() != 0 {
		t.Errorf("Expected 0 entries, got %d", reader.GetKeyCount())
	}
	if reader.HasBloomFilter() {
		t.Error("Expected an empty table to carry no filter block")
	}

	iter, err := reader.NewIterator()
	if err != nil {
		t.Fatalf("Failed to create iterator: %v", err)
	}
	if iter.Valid() {
		t.Error("Expected iterator over an empty table to be invalid")
	}
	if _, err := reader.Get([]byte("a")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestWriterOptionsFromConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.SSTableCompression = config.CompressionZstd
	cfg.SSTableBlockSize = 4096
	cfg.SSTableRestartInterval = 8

	opts, err := WriterOptionsFromConfig(cfg)
	if err != nil {
		t.Fatalf("Failed to derive writer options: %v", err)
	}

	if opts.Compression != block.CompressionZstd {
		t.Errorf("Expected zstd, got %v", opts.Compression)
	}
	if opts.BlockSize != 4096 || opts.RestartInterval != 8 {
		t.Errorf("Unexpected layout options %+v", opts)
	}
	if !opts.EnableBloomFilter {
		t.Error("Expected bloom filter to be enabled")
	}

	cfg.SSTableCompression = "lz4"
	if _, err := WriterOptionsFromConfig(cfg); !errors.Is(err, ErrUnknownCompression) {
		t.Errorf("Expected ErrUnknownCompression, got %v", err)
	}

	opts = DefaultWriterOptions()
	opts.Compression = block.Compression(42)
	if _, err := NewWriterWithOptions(filepath.Join(t.TempDir(), "x.sst"), opts); !errors.Is(err, ErrUnknownCompression) {
		t.Errorf("Expected ErrUnknownCompression, got %v", err)
	}
}
