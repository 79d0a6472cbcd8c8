package sstable

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/KevoDB/kmerge/pkg/sstable/block"
)

type testEntry struct {
	key       string
	value     string
	tombstone bool
}

func sequentialEntries(n int) []testEntry {
	entries := make([]testEntry, n)
	for i := range entries {
		entries[i] = testEntry{
			key:   fmt.Sprintf("key%05d", i),
			value: fmt.Sprintf("value%05d", i),
		}
	}
	return entries
}

// writeTestTable writes entries, which must be sorted, into a new table
func writeTestTable(t testing.TB, opts WriterOptions, entries []testEntry) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.sst")
	writer, err := NewWriterWithOptions(path, opts)
	if err != nil {
		t.Fatalf("Failed to create SSTable writer: %v", err)
	}

	for _, e := range entries {
		if e.tombstone {
			err = writer.AddTombstone([]byte(e.key))
		} else {
			err = writer.Add([]byte(e.key), []byte(e.value))
		}
		if err != nil {
			t.Fatalf("Failed to add entry %s: %v", e.key, err)
		}
	}

	if err := writer.Finish(); err != nil {
		t.Fatalf("Failed to finish SSTable: %v", err)
	}
	return path
}

func openTestTable(t testing.TB, path string, opts ReaderOptions) *Reader {
	t.Helper()

	reader, err := OpenReaderWithOptions(path, opts)
	if err != nil {
		t.Fatalf("Failed to open SSTable: %v", err)
	}
	t.Cleanup(func() { reader.Close() })
	return reader
}

// smallBlocks forces many data blocks for small tables
func smallBlocks(codec block.Compression) WriterOptions {
	opts := DefaultWriterOptions()
	opts.BlockSize = 256
	opts.RestartInterval = 4
	opts.Compression = codec
	return opts
}
