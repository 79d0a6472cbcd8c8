// Package fused makes an iterator safe to drive after it is exhausted or
// has failed.
package fused

import (
	"errors"
	"fmt"

	"github.com/KevoDB/kmerge/pkg/common/iterator"
)

// ErrPoisoned is returned by every Next call after the first failure
var ErrPoisoned = errors.New("iterator poisoned by an earlier failure")

var _ iterator.TombstoneIterator = (*Iterator)(nil)

// Iterator wraps a source so that Next on an exhausted iterator is a no-op
// and, once Next has failed, every later Next returns ErrPoisoned wrapping
// the original error without touching the source again.
type Iterator struct {
	iter iterator.Iterator
	err  error
}

// New wraps iter
func New(iter iterator.Iterator) *Iterator {
	return &Iterator{iter: iter}
}

// Next advances the wrapped iterator
func (f *Iterator) Next() error {
	if f.err != nil {
		return fmt.Errorf("%w: %w", ErrPoisoned, f.err)
	}
	if !f.iter.Valid() {
		return nil
	}
	if err := f.iter.Next(); err != nil {
		f.err = err
		return err
	}
	return nil
}

// Valid is false once the wrapped iterator is exhausted or has failed
func (f *Iterator) Valid() bool {
	return f.err == nil && f.iter.Valid()
}

// Key returns the current key, nil when not valid
func (f *Iterator) Key() []byte {
	if !f.Valid() {
		return nil
	}
	return f.iter.Key()
}

// Value returns the current value, nil when not valid
func (f *Iterator) Value() []byte {
	if !f.Valid() {
		return nil
	}
	return f.iter.Value()
}

// IsTombstone returns true if the current entry is a deletion marker
func (f *Iterator) IsTombstone() bool {
	return f.Valid() && iterator.IsTombstone(f.iter)
}

// Err returns the failure that poisoned the iterator, if any
func (f *Iterator) Err() error {
	return f.err
}
