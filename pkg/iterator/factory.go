// Package iterator assembles the read path: it turns memtables and sstables
// into a single merged, de-duplicated stream.
package iterator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/KevoDB/kmerge/pkg/common/iterator"
	"github.com/KevoDB/kmerge/pkg/common/iterator/bounded"
	"github.com/KevoDB/kmerge/pkg/common/iterator/filtered"
	"github.com/KevoDB/kmerge/pkg/common/iterator/fused"
	"github.com/KevoDB/kmerge/pkg/common/iterator/merge"
	"github.com/KevoDB/kmerge/pkg/common/log"
	"github.com/KevoDB/kmerge/pkg/memtable"
	"github.com/KevoDB/kmerge/pkg/sstable"
	"github.com/KevoDB/kmerge/pkg/telemetry"
)

// ErrNotFound is returned by Get when no live value exists for a key
var ErrNotFound = errors.New("key not found")

// FactoryOption configures a Factory
type FactoryOption func(*Factory)

// WithTelemetry records factory and merge metrics through tel
func WithTelemetry(tel telemetry.Telemetry) FactoryOption {
	return func(f *Factory) {
		if tel == nil {
			return
		}
		f.tel = tel
		f.metrics = NewIteratorMetrics(tel)
		f.mergeMetrics = merge.NewMetrics(tel)
	}
}

// WithLogger sets the logger handed to every merge the factory builds
func WithLogger(logger log.Logger) FactoryOption {
	return func(f *Factory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// Factory provides methods to create iterators for the read path
type Factory struct {
	tel          telemetry.Telemetry
	metrics      IteratorMetrics
	mergeMetrics merge.Metrics
	logger       log.Logger
}

// NewFactory creates a new iterator factory
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		tel:          telemetry.NewNoop(),
		metrics:      NewNoopIteratorMetrics(),
		mergeMetrics: merge.NewNoopMetrics(),
		logger:       log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateIterator creates a hierarchical iterator over every source. Both
// memTables and ssTables must be ordered newest first; memtables always take
// precedence over sstables.
func (f *Factory) CreateIterator(
	ctx context.Context,
	memTables []*memtable.MemTable,
	ssTables []*sstable.Reader,
) (*fused.Iterator, error) {
	base, err := f.createBaseIterator(ctx, memTables, ssTables, nil)
	if err != nil {
		return nil, err
	}
	f.metrics.RecordIteratorType(ctx, "hierarchical", len(memTables)+len(ssTables))
	return fused.New(base), nil
}

// CreateRangeIterator creates an iterator limited to [startKey, endKey).
// Tombstones are still surfaced.
func (f *Factory) CreateRangeIterator(
	ctx context.Context,
	memTables []*memtable.MemTable,
	ssTables []*sstable.Reader,
	startKey, endKey []byte,
) (*fused.Iterator, error) {
	base, err := f.createBaseIterator(ctx, memTables, ssTables, startKey)
	if err != nil {
		return nil, err
	}
	ranged, err := bounded.NewBoundedIterator(base, startKey, endKey)
	if err != nil {
		f.metrics.RecordSourceError(ctx, telemetry.OpTypeCreate)
		return nil, fmt.Errorf("failed to position range iterator: %w", err)
	}
	f.metrics.RecordIteratorType(ctx, "bounded", len(memTables)+len(ssTables))
	return fused.New(ranged), nil
}

// CreateLiveIterator is CreateRangeIterator with deleted keys hidden
func (f *Factory) CreateLiveIterator(
	ctx context.Context,
	memTables []*memtable.MemTable,
	ssTables []*sstable.Reader,
	startKey, endKey []byte,
) (*fused.Iterator, error) {
	base, err := f.createBaseIterator(ctx, memTables, ssTables, startKey)
	if err != nil {
		return nil, err
	}
	ranged, err := bounded.NewBoundedIterator(base, startKey, endKey)
	if err != nil {
		f.metrics.RecordSourceError(ctx, telemetry.OpTypeCreate)
		return nil, fmt.Errorf("failed to position range iterator: %w", err)
	}
	live, err := filtered.NewLiveIterator(ranged)
	if err != nil {
		f.metrics.RecordSourceError(ctx, telemetry.OpTypeCreate)
		return nil, fmt.Errorf("failed to skip deleted keys: %w", err)
	}
	f.metrics.RecordIteratorType(ctx, "live", len(memTables)+len(ssTables))
	return fused.New(live), nil
}

// Get returns the newest value for key across all sources. It returns
// ErrNotFound when no source holds the key or the newest entry is a tombstone.
func (f *Factory) Get(
	ctx context.Context,
	memTables []*memtable.MemTable,
	ssTables []*sstable.Reader,
	key []byte,
) ([]byte, error) {
	start := time.Now()

	// Tables whose filter rules the key out are never opened
	candidates := make([]*sstable.Reader, 0, len(ssTables))
	for _, r := range ssTables {
		if r.MayContain(key) {
			candidates = append(candidates, r)
		}
	}

	// The smallest key greater than key bounds the range to exactly one key
	end := append(append(make([]byte, 0, len(key)+1), key...), 0)
	iter, err := f.CreateRangeIterator(ctx, memTables, candidates, key, end)
	if err != nil {
		return nil, err
	}

	found := iter.Valid() && !iter.IsTombstone()
	f.metrics.RecordGet(ctx, time.Since(start), found)
	if !found {
		return nil, ErrNotFound
	}
	return append([]byte(nil), iter.Value()...), nil
}

// ScanFunc receives each entry of a scan. Returning an error stops the scan
// and that error is returned from Scan.
type ScanFunc func(key, value []byte, tombstone bool) error

// Scan drains [startKey, endKey) through fn. With live set, deleted keys are
// skipped. It returns the number of entries passed to fn.
func (f *Factory) Scan(
	ctx context.Context,
	memTables []*memtable.MemTable,
	ssTables []*sstable.Reader,
	startKey, endKey []byte,
	live bool,
	fn ScanFunc,
) (int64, error) {
	start := time.Now()
	ctx, span := f.tel.StartSpan(ctx, "kmerge.scan",
		attribute.Bool("live", live),
		attribute.Int(telemetry.AttrSourceCount, len(memTables)+len(ssTables)),
	)
	defer span.End()

	var (
		iter *fused.Iterator
		err  error
	)
	if live {
		iter, err = f.CreateLiveIterator(ctx, memTables, ssTables, startKey, endKey)
	} else {
		iter, err = f.CreateRangeIterator(ctx, memTables, ssTables, startKey, endKey)
	}
	if err != nil {
		return 0, err
	}

	var n int64
	for iter.Valid() {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if err := fn(iter.Key(), iter.Value(), iter.IsTombstone()); err != nil {
			return n, err
		}
		n++
		if err := iter.Next(); err != nil {
			f.metrics.RecordSourceError(ctx, telemetry.OpTypeScan)
			return n, fmt.Errorf("scan failed after %d entries: %w", n, err)
		}
	}

	f.metrics.RecordRangeScan(ctx, time.Since(start), n, startKey, endKey)
	return n, nil
}

// createBaseIterator builds merge([merge(memtables), merge(sstables)]) with
// every source positioned at the first key >= startKey
func (f *Factory) createBaseIterator(
	ctx context.Context,
	memTables []*memtable.MemTable,
	ssTables []*sstable.Reader,
	startKey []byte,
) (iterator.TombstoneIterator, error) {
	start := time.Now()

	opts := []merge.Option{
		merge.WithMetrics(f.mergeMetrics),
		merge.WithLogger(f.logger),
		merge.WithContext(ctx),
	}

	// Add memtable iterators (newest to oldest)
	memIters := make([]*memtable.IteratorAdapter, 0, len(memTables))
	for _, mt := range memTables {
		it := mt.NewSourceIterator()
		if startKey != nil {
			it.Seek(startKey)
		}
		memIters = append(memIters, it)
	}

	// Add sstable iterators (newest to oldest)
	sstIters := make([]*sstable.Iterator, 0, len(ssTables))
	for _, r := range ssTables {
		it, err := r.NewIteratorFrom(startKey)
		if err != nil {
			f.metrics.RecordSourceError(ctx, telemetry.OpTypeCreate)
			f.logger.WithFields(map[string]interface{}{
				"path":  r.Path(),
				"error": err,
			}).Error("failed to open sstable iterator")
			return nil, fmt.Errorf("failed to open iterator for %s: %w", r.Path(), err)
		}
		sstIters = append(sstIters, it)
	}

	top := merge.New([]iterator.Iterator{
		merge.New(memIters, opts...),
		merge.New(sstIters, opts...),
	}, opts...)

	f.metrics.RecordHierarchicalMerge(ctx, len(memTables), len(ssTables), time.Since(start))
	f.logger.WithFields(map[string]interface{}{
		"memtables": len(memTables),
		"sstables":  len(ssTables),
	}).Debug("created merge iterator")

	return top, nil
}
