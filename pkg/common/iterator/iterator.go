// Package iterator defines the iteration contract shared by every sorted
// key/value source on the read path.
package iterator

// Iterator walks a sorted sequence of key-value pairs in ascending key order.
// A new iterator is already positioned at its first entry (or is invalid if
// the source is empty).
type Iterator interface {
	// Key returns the current key. Only defined while Valid returns true.
	Key() []byte

	// Value returns the current value. Only defined while Valid returns true.
	Value() []byte

	// Valid returns true if the iterator is positioned at a live entry
	Valid() bool

	// Next advances to the next entry. It may leave the iterator invalid when
	// the source is exhausted. A non-nil error means the underlying source
	// failed; the position is then undefined and the iterator must not be used again.
	Next() error
}

// TombstoneIterator is implemented by sources that can distinguish a deletion
// marker from an empty value.
type TombstoneIterator interface {
	Iterator

	// IsTombstone returns true if the current entry is a deletion marker
	IsTombstone() bool
}

// IsTombstone reports whether iter is positioned at a deletion marker. Sources
// that don't implement TombstoneIterator encode tombstones as a nil value.
func IsTombstone(iter Iterator) bool {
	if !iter.Valid() {
		return false
	}
	if t, ok := iter.(TombstoneIterator); ok {
		return t.IsTombstone()
	}
	return iter.Value() == nil
}

// Entry is a materialized key-value pair
type Entry struct {
	Key   []byte
	Value []byte
}

// Collect drains iter into a slice, copying keys and values. It stops at the
// first error and returns the entries read so far.
func Collect(iter Iterator) ([]Entry, error) {
	var entries []Entry
	for iter.Valid() {
		entries = append(entries, Entry{
			Key:   append([]byte(nil), iter.Key()...),
			Value: cloneValue(iter.Value()),
		})
		if err := iter.Next(); err != nil {
			return entries, err
		}
	}
	return entries, nil
}

// cloneValue copies v, keeping nil distinct from an empty value
func cloneValue(v []byte) []byte {
	if v == nil {
		return nil
	}
	return append([]byte{}, v...)
}

// Empty returns an iterator with no entries
func Empty() Iterator {
	return emptyIterator{}
}

type emptyIterator struct{}

func (emptyIterator) Key() []byte   { return nil }
func (emptyIterator) Value() []byte { return nil }
func (emptyIterator) Valid() bool   { return false }
func (emptyIterator) Next() error   { return nil }
