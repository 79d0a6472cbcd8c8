// Package merge implements the k-way merge iterator of the read path.
//
// A MergeIterator fuses any number of sorted sources into a single sorted
// stream with one entry per key. When several sources hold the same key, the
// value from the source that appears first in the input slice wins, so callers
// must order sources from most to least authoritative (newest memtable first,
// oldest sstable last). MergeIterator itself satisfies iterator.Iterator and
// can be fed into another merge.
//
// A MergeIterator is not safe for concurrent use.
package merge

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevoDB/kmerge/pkg/common/iterator"
	"github.com/KevoDB/kmerge/pkg/common/log"
)

var (
	// ErrNoCurrentEntry is the panic value (wrapped) when Key, Value or Next
	// is called on an exhausted merge.
	ErrNoCurrentEntry = errors.New("merge iterator has no current entry")

	// ErrOrderViolation is the panic value (wrapped) when a source yields a key
	// smaller than one already emitted.
	ErrOrderViolation = errors.New("merge source out of order")
)

// Stats counts what a MergeIterator has done so far
type Stats struct {
	// Emitted is the number of entries surfaced to the caller
	Emitted uint64
	// Shadowed is the number of duplicate entries skipped in favour of a newer source
	Shadowed uint64
	// Evicted is the number of sources dropped because their Next failed
	Evicted uint64
}

// MergeIterator merges sources of type I. It owns every source passed to New.
type MergeIterator[I iterator.Iterator] struct {
	// heap holds every live source except current
	heap *sourceHeap[I]

	// current holds the smallest key across all sources; nil once exhausted
	current *sourceHandle[I]

	cmp     Comparator
	metrics Metrics
	logger  log.Logger
	ctx     context.Context
	stats   Stats
}

// Compile-time check that a merge can be nested inside another merge
var _ iterator.Iterator = (*MergeIterator[iterator.Iterator])(nil)

// New creates a merge over sources. The position of each source in the slice
// is its priority: on equal keys the lower index wins. Sources that are
// already invalid are dropped. With no valid sources the merge starts
// exhausted; this is not an error.
func New[I iterator.Iterator](sources []I, opts ...Option) *MergeIterator[I] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	m := &MergeIterator[I]{
		heap: &sourceHeap[I]{
			items: make([]*sourceHandle[I], 0, len(sources)),
			cmp:   o.cmp,
		},
		cmp:     o.cmp,
		metrics: o.metrics,
		logger:  o.logger,
		ctx:     o.ctx,
	}

	for i, src := range sources {
		if !src.Valid() {
			continue
		}
		m.heap.items = append(m.heap.items, &sourceHandle[I]{iter: src, index: i})
	}
	heap.Init(m.heap)

	m.metrics.RecordCreate(m.ctx, len(sources), m.heap.Len())
	m.promote()

	return m
}

// Key returns the current key. It panics if the merge is exhausted.
func (m *MergeIterator[I]) Key() []byte {
	return m.mustCurrent("Key").iter.Key()
}

// Value returns the value of the current key from the highest priority source
// holding it. It panics if the merge is exhausted.
func (m *MergeIterator[I]) Value() []byte {
	return m.mustCurrent("Value").iter.Value()
}

// Valid returns true while the merge has a current entry
func (m *MergeIterator[I]) Valid() bool {
	return m.current != nil && m.current.iter.Valid()
}

// IsTombstone returns true if the current entry is a deletion marker in the
// source that supplied it
func (m *MergeIterator[I]) IsTombstone() bool {
	if !m.Valid() {
		return false
	}
	return iterator.IsTombstone(m.current.iter)
}

// Next moves to the next distinct key.
//
// Every other source positioned at the current key is advanced first, which
// discards their shadowed values. If one of them fails it is removed from the
// merge and its error is returned; the current entry is left in place. Then
// the current source itself is advanced. If that fails the source is dropped
// and the merge becomes invalid. A source error is returned unchanged.
//
// Next panics if the merge is exhausted or a source breaks the sort order.
func (m *MergeIterator[I]) Next() error {
	cur := m.mustCurrent("Next")
	start := time.Now()
	key := cur.iter.Key()

	var shadowed int
	for m.heap.Len() > 0 {
		top := m.heap.peek()
		c := m.cmp(top.iter.Key(), key)
		if c < 0 {
			panic(fmt.Errorf("%w: source %d is at %q after %q was emitted",
				ErrOrderViolation, top.index, top.iter.Key(), key))
		}
		if c > 0 {
			break
		}

		if err := top.iter.Next(); err != nil {
			// Remove before returning so a failed source is never revisited
			heap.Pop(m.heap)
			m.recordShadowed(shadowed)
			m.evict(top, err)
			return err
		}
		shadowed++

		if !top.iter.Valid() {
			heap.Pop(m.heap)
			continue
		}
		heap.Fix(m.heap, 0)
	}
	m.recordShadowed(shadowed)

	if err := cur.iter.Next(); err != nil {
		m.current = nil
		m.evict(cur, err)
		return err
	}

	if cur.iter.Valid() {
		heap.Push(m.heap, cur)
	}
	m.current = nil
	m.promote()

	m.metrics.RecordNext(m.ctx, time.Since(start), m.current != nil)
	return nil
}

// NumSources returns how many sources are still live, including the current one
func (m *MergeIterator[I]) NumSources() int {
	n := m.heap.Len()
	if m.current != nil {
		n++
	}
	return n
}

// Stats returns the counters accumulated so far
func (m *MergeIterator[I]) Stats() Stats {
	return m.stats
}

// promote installs the heap minimum as current, if any source is left
func (m *MergeIterator[I]) promote() {
	if m.heap.Len() == 0 {
		return
	}
	m.current = heap.Pop(m.heap).(*sourceHandle[I])
	m.stats.Emitted++
}

func (m *MergeIterator[I]) mustCurrent(op string) *sourceHandle[I] {
	if m.current == nil {
		panic(fmt.Errorf("%w: %s called on exhausted merge", ErrNoCurrentEntry, op))
	}
	return m.current
}

func (m *MergeIterator[I]) evict(h *sourceHandle[I], err error) {
	m.stats.Evicted++
	m.metrics.RecordSourceFailure(m.ctx, h.index)
	m.logger.WithFields(map[string]interface{}{
		"source": h.index,
		"error":  err,
	}).Warn("merge source failed and was evicted")
}

func (m *MergeIterator[I]) recordShadowed(n int) {
	if n == 0 {
		return
	}
	m.stats.Shadowed += uint64(n)
	m.metrics.RecordShadowed(m.ctx, n)
}
