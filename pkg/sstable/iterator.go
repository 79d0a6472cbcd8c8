package sstable

import (
	"fmt"

	"github.com/KevoDB/kmerge/pkg/common/iterator"
	"github.com/KevoDB/kmerge/pkg/sstable/block"
)

var _ iterator.TombstoneIterator = (*Iterator)(nil)

// Iterator iterates over the entries of an SSTable in key order. Any read,
// checksum or decode failure is returned from Next or Seek and leaves the
// iterator permanently invalid.
type Iterator struct {
	reader        *Reader
	indexIterator *block.Iterator
	dataBlockIter *block.Iterator
	blockOffset   uint64
	err           error
}

// SeekToFirst positions the iterator at the first key
func (it *Iterator) SeekToFirst() error {
	if it.err != nil {
		return it.err
	}
	it.dataBlockIter = nil

	if it.reader.indexBlock == nil {
		return nil
	}

	it.indexIterator = it.reader.indexBlock.Iterator()
	if !it.indexIterator.SeekToFirst() {
		return it.checkIndex()
	}

	return it.enterBlock(nil)
}

// Seek positions the iterator at the first key >= target
func (it *Iterator) Seek(target []byte) error {
	if it.err != nil {
		return it.err
	}
	it.dataBlockIter = nil

	if it.reader.indexBlock == nil {
		return nil
	}

	// The first block whose last key is >= target holds the answer
	it.indexIterator = it.reader.indexBlock.Iterator()
	if !it.indexIterator.Seek(target) {
		return it.checkIndex()
	}

	return it.enterBlock(target)
}

// Next advances the iterator to the next key
func (it *Iterator) Next() error {
	if it.err != nil {
		return it.err
	}
	if !it.Valid() {
		return nil
	}

	if it.dataBlockIter.Next() {
		return nil
	}
	if err := it.dataBlockIter.Err(); err != nil {
		return it.fail(fmt.Errorf("%w: block at offset %d: %w", ErrCorruption, it.blockOffset, err))
	}

	it.dataBlockIter = nil
	if !it.indexIterator.Next() {
		return it.checkIndex()
	}
	return it.enterBlock(nil)
}

// enterBlock loads the block under the index iterator and positions within
// it, moving on to later blocks while the current one yields nothing
func (it *Iterator) enterBlock(target []byte) error {
	for {
		loc, err := ParseBlockLocator(it.indexIterator.Key(), it.indexIterator.Value())
		if err != nil {
			return it.fail(err)
		}

		br, err := it.reader.readBlock(loc)
		if err != nil {
			return it.fail(err)
		}

		it.blockOffset = loc.Offset
		it.dataBlockIter = br.Iterator()

		var ok bool
		if target != nil {
			ok = it.dataBlockIter.Seek(target)
		} else {
			ok = it.dataBlockIter.SeekToFirst()
		}
		if ok {
			return nil
		}
		if err := it.dataBlockIter.Err(); err != nil {
			return it.fail(fmt.Errorf("%w: block at offset %d: %w", ErrCorruption, loc.Offset, err))
		}

		it.dataBlockIter = nil
		target = nil
		if !it.indexIterator.Next() {
			return it.checkIndex()
		}
	}
}

// checkIndex is called once the index iterator is exhausted
func (it *Iterator) checkIndex() error {
	if err := it.indexIterator.Err(); err != nil {
		return it.fail(fmt.Errorf("%w: index block: %w", ErrCorruption, err))
	}
	return nil
}

func (it *Iterator) fail(err error) error {
	it.err = err
	it.dataBlockIter = nil
	return err
}

// Key returns the current key
func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.dataBlockIter.Key()
}

// Value returns the current value, nil for a tombstone
func (it *Iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.dataBlockIter.Value()
}

// Valid returns true if the iterator is positioned at a valid entry
func (it *Iterator) Valid() bool {
	return it.err == nil && it.dataBlockIter != nil && it.dataBlockIter.Valid()
}

// IsTombstone returns true if the current entry is a deletion marker
func (it *Iterator) IsTombstone() bool {
	return it.Valid() && it.dataBlockIter.IsTombstone()
}

// Err returns the error that invalidated the iterator, if any
func (it *Iterator) Err() error {
	return it.err
}
