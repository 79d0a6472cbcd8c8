// Package bounded restricts an iterator to a half-open key range.
package bounded

import (
	"bytes"

	"github.com/KevoDB/kmerge/pkg/common/iterator"
)

var _ iterator.TombstoneIterator = (*BoundedIterator)(nil)

// BoundedIterator wraps an iterator and limits it to [start, end).
// A nil start or end leaves that side open.
type BoundedIterator struct {
	iter  iterator.Iterator
	start []byte
	end   []byte
}

// NewBoundedIterator creates a new bounded iterator, advancing iter past
// every key below start. An error from that advance is returned and the
// wrapped iterator must not be used further.
func NewBoundedIterator(iter iterator.Iterator, startKey, endKey []byte) (*BoundedIterator, error) {
	bi := &BoundedIterator{iter: iter}

	// Make copies of the bounds to avoid external modification
	if startKey != nil {
		bi.start = append([]byte{}, startKey...)
	}
	if endKey != nil {
		bi.end = append([]byte{}, endKey...)
	}

	if bi.start != nil {
		for iter.Valid() && bytes.Compare(iter.Key(), bi.start) < 0 {
			if err := iter.Next(); err != nil {
				return nil, err
			}
		}
	}

	return bi, nil
}

// Next advances to the next key within bounds
func (b *BoundedIterator) Next() error {
	if !b.Valid() {
		return nil
	}
	return b.iter.Next()
}

// Valid returns true if the iterator is positioned at a valid entry within bounds
func (b *BoundedIterator) Valid() bool {
	if !b.iter.Valid() {
		return false
	}
	return b.end == nil || bytes.Compare(b.iter.Key(), b.end) < 0
}

// Key returns the current key if within bounds
func (b *BoundedIterator) Key() []byte {
	if !b.Valid() {
		return nil
	}
	return b.iter.Key()
}

// Value returns the current value if within bounds
func (b *BoundedIterator) Value() []byte {
	if !b.Valid() {
		return nil
	}
	return b.iter.Value()
}

// IsTombstone returns true if the current entry is a deletion marker
func (b *BoundedIterator) IsTombstone() bool {
	return b.Valid() && iterator.IsTombstone(b.iter)
}
