// Package filtered provides iterators that filter keys based on different criteria
package filtered

import (
	"bytes"

	"github.com/KevoDB/kmerge/pkg/common/iterator"
)

var _ iterator.TombstoneIterator = (*FilteredIterator)(nil)

// KeyFilterFunc is a function type for filtering keys
type KeyFilterFunc func(key []byte) bool

// FilteredIterator wraps an iterator and skips entries rejected by its
// predicate. It is always positioned on an accepted entry or exhausted.
type FilteredIterator struct {
	iter iterator.Iterator
	keep func(iterator.Iterator) bool
}

func newFiltered(iter iterator.Iterator, keep func(iterator.Iterator) bool) (*FilteredIterator, error) {
	fi := &FilteredIterator{iter: iter, keep: keep}
	if err := fi.skip(); err != nil {
		return nil, err
	}
	return fi, nil
}

// NewFilteredIterator creates a new iterator with a key filter. Skipping to
// the first accepted key may fail, in which case the error is returned.
func NewFilteredIterator(iter iterator.Iterator, filter KeyFilterFunc) (*FilteredIterator, error) {
	return newFiltered(iter, func(it iterator.Iterator) bool {
		return filter(it.Key())
	})
}

// NewLiveIterator hides tombstones
func NewLiveIterator(iter iterator.Iterator) (*FilteredIterator, error) {
	return newFiltered(iter, func(it iterator.Iterator) bool {
		return !iterator.IsTombstone(it)
	})
}

// skip advances past rejected entries
func (fi *FilteredIterator) skip() error {
	for fi.iter.Valid() && !fi.keep(fi.iter) {
		if err := fi.iter.Next(); err != nil {
			return err
		}
	}
	return nil
}

// Next advances to the next key that passes the filter
func (fi *FilteredIterator) Next() error {
	if !fi.iter.Valid() {
		return nil
	}
	if err := fi.iter.Next(); err != nil {
		return err
	}
	return fi.skip()
}

// Key returns the current key
func (fi *FilteredIterator) Key() []byte {
	return fi.iter.Key()
}

// Value returns the current value
func (fi *FilteredIterator) Value() []byte {
	return fi.iter.Value()
}

// Valid returns true if the iterator is at a valid position
func (fi *FilteredIterator) Valid() bool {
	return fi.iter.Valid()
}

// IsTombstone returns true if the current entry is a deletion marker
func (fi *FilteredIterator) IsTombstone() bool {
	return iterator.IsTombstone(fi.iter)
}

// PrefixFilterFunc creates a filter function for keys with a specific prefix
func PrefixFilterFunc(prefix []byte) KeyFilterFunc {
	return func(key []byte) bool {
		return bytes.HasPrefix(key, prefix)
	}
}

// SuffixFilterFunc creates a filter function for keys with a specific suffix
func SuffixFilterFunc(suffix []byte) KeyFilterFunc {
	return func(key []byte) bool {
		return bytes.HasSuffix(key, suffix)
	}
}

// NewPrefixIterator returns an iterator that filters keys by prefix
func NewPrefixIterator(iter iterator.Iterator, prefix []byte) (*FilteredIterator, error) {
	return NewFilteredIterator(iter, PrefixFilterFunc(prefix))
}

// NewSuffixIterator returns an iterator that filters keys by suffix
func NewSuffixIterator(iter iterator.Iterator, suffix []byte) (*FilteredIterator, error) {
	return NewFilteredIterator(iter, SuffixFilterFunc(suffix))
}
