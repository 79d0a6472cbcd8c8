package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/KevoDB/kmerge/pkg/common/log"
	"github.com/KevoDB/kmerge/pkg/config"
	"github.com/KevoDB/kmerge/pkg/iterator"
	"github.com/KevoDB/kmerge/pkg/memtable"
	"github.com/KevoDB/kmerge/pkg/sstable"
	"github.com/KevoDB/kmerge/pkg/telemetry"
)

// session holds the sources being merged. Edits made in the shell land in
// an in-memory pool that shadows every table.
type session struct {
	cfg      *config.Config
	logger   log.Logger
	tel      telemetry.Telemetry
	factory  *iterator.Factory
	readOpts sstable.ReaderOptions
	manifest *config.Manifest
	pool     *memtable.MemTablePool
	readers  []*sstable.Reader // newest first
}

func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	if path != "" {
		var err error
		if cfg, err = config.LoadConfig(path); err != nil {
			return nil, err
		}
	} else {
		cfg = config.NewDefaultConfig()
	}

	cfg.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openSession(opts Options) (*session, error) {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	logger, err := cfg.Logger()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(cfg.Telemetry, telemetry.WithOutput(os.Stderr))
	if err != nil {
		return nil, err
	}

	readOpts, err := sstable.ReaderOptionsFromConfig(cfg)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, err
	}

	s := &session{
		cfg:      cfg,
		logger:   logger,
		tel:      tel,
		factory:  iterator.NewFactory(iterator.WithTelemetry(tel), iterator.WithLogger(logger)),
		readOpts: readOpts,
		pool:     memtable.NewMemTablePool(cfg),
	}

	paths := append([]string(nil), opts.Tables...)
	if opts.ManifestDir != "" {
		s.manifest, err = config.LoadManifest(opts.ManifestDir)
		if errors.Is(err, config.ErrManifestNotFound) {
			s.manifest, err = config.NewManifest(opts.ManifestDir, cfg)
		}
		if err != nil {
			s.Close()
			return nil, err
		}
		paths = append(paths, s.manifest.TablesNewestFirst()...)
	}

	for _, path := range paths {
		r, err := sstable.OpenReaderWithOptions(path, readOpts)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		s.readers = append(s.readers, r)
	}

	logger.WithFields(map[string]interface{}{
		"tables":      len(s.readers),
		"compression": cfg.SSTableCompression,
	}).Debug("session opened")

	return s, nil
}

// Close releases every table and flushes telemetry
func (s *session) Close() error {
	var firstErr error
	for _, r := range s.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.readers = nil

	if err := s.tel.Shutdown(context.Background()); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Get returns the newest live value for key
func (s *session) Get(ctx context.Context, key []byte) ([]byte, error) {
	return s.factory.Get(ctx, s.pool.GetMemTables(), s.readers, key)
}

// Put records key=value in the edit pool
func (s *session) Put(key, value []byte) {
	s.pool.Put(key, value, s.pool.GetNextSequenceNumber())
	s.rotate()
}

// Delete records a tombstone for key in the edit pool
func (s *session) Delete(key []byte) {
	s.pool.Delete(key, s.pool.GetNextSequenceNumber())
	s.rotate()
}

// rotate freezes the active memtable once it is full
func (s *session) rotate() {
	if s.pool.IsFlushNeeded() {
		s.pool.SwitchToNewMemTable()
	}
}

// Scan passes every entry in [start, end) to fn
func (s *session) Scan(ctx context.Context, start, end []byte, live bool, fn iterator.ScanFunc) (int64, error) {
	return s.factory.Scan(ctx, s.pool.GetMemTables(), s.readers, start, end, live, fn)
}

// Print writes every entry in [start, end) to out as "key: value" lines
func (s *session) Print(ctx context.Context, out io.Writer, start, end []byte, live bool) (int64, error) {
	return s.Scan(ctx, start, end, live, func(key, value []byte, tombstone bool) error {
		var err error
		if tombstone {
			_, err = fmt.Fprintf(out, "%s: <deleted>\n", key)
		} else {
			_, err = fmt.Fprintf(out, "%s: %s\n", key, value)
		}
		return err
	})
}

// WriteTable writes the merged stream over [start, end) into a new table.
// Tombstones are kept unless live is set.
func (s *session) WriteTable(ctx context.Context, path string, start, end []byte, live bool) (int64, error) {
	opts, err := sstable.WriterOptionsFromConfig(s.cfg)
	if err != nil {
		return 0, err
	}

	w, err := sstable.NewWriterWithOptions(path, opts)
	if err != nil {
		return 0, err
	}

	n, err := s.Scan(ctx, start, end, live, func(key, value []byte, tombstone bool) error {
		if tombstone {
			return w.AddTombstone(key)
		}
		return w.Add(key, value)
	})
	if err != nil {
		_ = w.Abort()
		return n, err
	}

	if err := w.Finish(); err != nil {
		return n, err
	}

	s.logger.WithFields(map[string]interface{}{
		"path":    path,
		"entries": n,
	}).Info("wrote merged table")
	return n, nil
}

// Flush writes the edit pool into a new table that becomes the newest
// source. When a manifest is open the table is registered in it. The edits
// leave the pool only once the new table is open; on failure they keep
// shadowing every table.
func (s *session) Flush(ctx context.Context, path string) (int64, error) {
	s.pool.SwitchToNewMemTable()
	frozen := s.pool.GetImmutablesForFlush()

	// The pool hands tables out oldest first; merges want newest first
	mems := make([]*memtable.MemTable, 0, len(frozen))
	for i := len(frozen) - 1; i >= 0; i-- {
		mems = append(mems, frozen[i])
	}

	opts, err := sstable.WriterOptionsFromConfig(s.cfg)
	if err != nil {
		return 0, err
	}
	w, err := sstable.NewWriterWithOptions(path, opts)
	if err != nil {
		return 0, err
	}

	n, err := s.factory.Scan(ctx, mems, nil, nil, nil, false, func(key, value []byte, tombstone bool) error {
		if tombstone {
			return w.AddTombstone(key)
		}
		return w.Add(key, value)
	})
	if err == nil && n == 0 {
		_ = w.Abort()
		s.pool.RemoveFlushed(frozen)
		return 0, nil
	}
	if err != nil {
		_ = w.Abort()
		return n, err
	}
	if err := w.Finish(); err != nil {
		return n, err
	}

	r, err := sstable.OpenReaderWithOptions(path, s.readOpts)
	if err != nil {
		return n, err
	}
	s.readers = append([]*sstable.Reader{r}, s.readers...)
	s.pool.RemoveFlushed(frozen)

	if s.manifest != nil {
		s.manifest.AddTable(s.relativeToManifest(path), s.nextTableSeq())
		if err := s.manifest.Save(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (s *session) nextTableSeq() int64 {
	var highest int64
	for _, seq := range s.manifest.GetTables() {
		if seq > highest {
			highest = seq
		}
	}
	return highest + 1
}

func (s *session) relativeToManifest(path string) string {
	rel, err := filepath.Rel(s.manifest.DBPath, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

// CacheStats reports the shared block cache, if one is configured
func (s *session) CacheStats() (sstable.CacheStats, bool) {
	if s.readOpts.Cache == nil {
		return sstable.CacheStats{}, false
	}
	return s.readOpts.Cache.Stats(), true
}
