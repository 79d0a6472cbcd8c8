package sstable

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/KevoDB/kmerge/pkg/sstable/block"
)

func TestReaderBasics(t *testing.T) {
	for _, codec := range []block.Compression{block.CompressionNone, block.CompressionSnappy, block.CompressionZstd} {
		t.Run(codec.String(), func(t *testing.T) {
			entries := sequentialEntries(500)
			reader := openTestTable(t, writeTestTable(t, smallBlocks(codec), entries), ReaderOptions{})

			if reader.GetKeyCount() != len(entries) {
				t.Errorf("Expected %d entries, got %d", len(entries), reader.GetKeyCount())
			}

			for _, e := range entries {
				value, err := reader.Get([]byte(e.key))
				if err != nil {
					t.Fatalf("Failed to get key %s: %v", e.key, err)
				}
				if string(value) != e.value {
					t.Errorf("Value mismatch for key %s: expected %s, got %s", e.key, e.value, value)
				}
			}

			for _, key := range []string{"nonexistent", "key", "key00000a", "zzz"} {
				if _, err := reader.Get([]byte(key)); !errors.Is(err, ErrNotFound) {
					t.Errorf("Expected ErrNotFound for %s, got: %v", key, err)
				}
			}
		})
	}
}

func TestReaderClosed(t *testing.T) {
	reader, err := OpenReader(writeTestTable(t, DefaultWriterOptions(), sequentialEntries(10)))
	if err != nil {
		t.Fatalf("Failed to open SSTable: %v", err)
	}

	iter, err := reader.NewIterator()
	if err != nil {
		t.Fatalf("Failed to create iterator: %v", err)
	}

	if err := reader.Close(); err != nil {
		t.Fatalf("Failed to close reader: %v", err)
	}
	if err := reader.Close(); err != nil {
		t.Errorf("Expected second Close to be a no-op, got %v", err)
	}

	if _, err := reader.Get([]byte("key00001")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Get, got %v", err)
	}
	if _, err := reader.NewIterator(); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from NewIterator, got %v", err)
	}

	// A block loaded before Close can still be drained
	for iter.Valid() {
		if err := iter.Next(); err != nil {
			t.Fatalf("Unexpected error within a loaded block: %v", err)
		}
	}
}

func TestReaderCorruption(t *testing.T) {
	testCases := []struct {
		name   string
		offset func(size int64) int64
	}{
		{"footer", func(size int64) int64 { return size - 8 }},
		{"first block", func(size int64) int64 { return 2 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTestTable(t, smallBlocks(block.CompressionNone), sequentialEntries(100))

			file, err := os.OpenFile(path, os.O_RDWR, 0)
			if err != nil {
				t.Fatalf("Failed to open file for corruption: %v", err)
			}
			stat, _ := file.Stat()
			if _, err := file.WriteAt([]byte{0xFF, 0xFF, 0xFF, 0xFF}, tc.offset(stat.Size())); err != nil {
				t.Fatalf("Failed to write garbage: %v", err)
			}
			file.Close()

			reader, err := OpenReader(path)
			if tc.name == "footer" {
				if !errors.Is(err, ErrCorruption) {
					t.Errorf("Expected ErrCorruption opening a corrupted footer, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected open to succeed with a corrupt data block, got %v", err)
			}
			defer reader.Close()

			if _, err := reader.NewIterator(); !errors.Is(err, ErrCorruption) {
				t.Errorf("Expected ErrCorruption from the first block, got %v", err)
			}
			if _, err := reader.Get([]byte("key00000")); !errors.Is(err, ErrCorruption) {
				t.Errorf("Expected ErrCorruption from Get, got %v", err)
			}
		})
	}
}

func TestReaderTooSmall(t *testing.T) {
	path := writeTestTable(t, DefaultWriterOptions(), nil)
	if err := os.Truncate(path, 10); err != nil {
		t.Fatalf("Failed to truncate: %v", err)
	}

	if _, err := OpenReader(path); !errors.Is(err, ErrCorruption) {
		t.Errorf("Expected ErrCorruption, got %v", err)
	}
	if _, err := OpenReader(path + ".missing"); err == nil {
		t.Error("Expected error opening a missing file")
	}
}

func TestReaderConcurrentGets(t *testing.T) {
	entries := sequentialEntries(1000)
	cache, err := NewBlockCache(4)
	if err != nil {
		t.Fatal(err)
	}
	reader := openTestTable(t, writeTestTable(t, smallBlocks(block.CompressionSnappy), entries), ReaderOptions{Cache: cache})

	errs := make(chan error, 8)
	for g := 0; g < 8; g++ {
		go func(g int) {
			for i := g; i < len(entries); i += 8 {
				value, err := reader.Get([]byte(entries[i].key))
				if err != nil {
					errs <- err
					return
				}
				if string(value) != entries[i].value {
					errs <- fmt.Errorf("key %s: got %s", entries[i].key, value)
					return
				}
			}
			errs <- nil
		}(g)
	}

	for g := 0; g < 8; g++ {
		if err := <-errs; err != nil {
			t.Error(err)
		}
	}
}
