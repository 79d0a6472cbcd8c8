package memtable

import (
	"bytes"

	"github.com/KevoDB/kmerge/pkg/common/iterator"
)

var _ iterator.TombstoneIterator = (*IteratorAdapter)(nil)

// IteratorAdapter exposes a MemTable as a merge source. It is positioned at
// the first key on creation and yields only the newest version of each key.
// Tombstones surface with a nil value.
type IteratorAdapter struct {
	iter *Iterator
}

// NewIteratorAdapter creates a new adapter for a memtable iterator and
// positions it at the first entry
func NewIteratorAdapter(iter *Iterator) *IteratorAdapter {
	iter.SeekToFirst()
	return &IteratorAdapter{iter: iter}
}

// NewSourceIterator is shorthand for NewIteratorAdapter(m.NewIterator())
func (m *MemTable) NewSourceIterator() *IteratorAdapter {
	return NewIteratorAdapter(m.NewIterator())
}

// Seek positions the adapter at the newest version of the first key >= target
func (a *IteratorAdapter) Seek(target []byte) bool {
	a.iter.Seek(target)
	return a.iter.Valid()
}

// Next skips the remaining versions of the current key. It never fails.
func (a *IteratorAdapter) Next() error {
	if !a.Valid() {
		return nil
	}
	key := a.iter.Key()
	for a.iter.Next(); a.iter.Valid(); a.iter.Next() {
		if !bytes.Equal(a.iter.Key(), key) {
			break
		}
	}
	return nil
}

// Key returns the current key
func (a *IteratorAdapter) Key() []byte {
	if !a.Valid() {
		return nil
	}
	return a.iter.Key()
}

// Value returns the current value, nil for a tombstone
func (a *IteratorAdapter) Value() []byte {
	if !a.Valid() {
		return nil
	}
	return a.iter.Value()
}

// Valid returns true if the iterator is positioned at a valid entry
func (a *IteratorAdapter) Valid() bool {
	return a.iter != nil && a.iter.Valid()
}

// IsTombstone returns true if the current entry is a deletion marker
func (a *IteratorAdapter) IsTombstone() bool {
	return a.iter != nil && a.iter.IsTombstone()
}

// SequenceNumber returns the sequence number of the current entry
func (a *IteratorAdapter) SequenceNumber() uint64 {
	if !a.Valid() {
		return 0
	}
	return a.iter.SequenceNumber()
}
