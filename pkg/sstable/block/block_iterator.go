package block

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Iterator allows iterating through key-value pairs in a block
type Iterator struct {
	reader    *Reader
	nextPos   uint32
	key       []byte
	value     []byte
	tombstone bool
	valid     bool
	err       error
}

// SeekToFirst positions the iterator at the first entry
func (it *Iterator) SeekToFirst() bool {
	it.err = nil
	return it.decodeAt(0, nil)
}

// Seek positions the iterator at the first key >= target
func (it *Iterator) Seek(target []byte) bool {
	it.err = nil

	// Find the last restart point whose key is < target
	points := it.reader.restartPoints
	left, right := 0, len(points)-1
	for left < right {
		mid := (left + right + 1) / 2
		if !it.decodeAt(points[mid], nil) {
			return false
		}
		if bytes.Compare(it.key, target) < 0 {
			left = mid
		} else {
			right = mid - 1
		}
	}

	for ok := it.decodeAt(points[left], nil); ok; ok = it.Next() {
		if bytes.Compare(it.key, target) >= 0 {
			return true
		}
	}
	return false
}

// Next advances the iterator to the next entry
func (it *Iterator) Next() bool {
	if !it.valid {
		return false
	}
	return it.decodeAt(it.nextPos, it.key)
}

// Key returns the current key
func (it *Iterator) Key() []byte {
	if !it.valid {
		return nil
	}
	return it.key
}

// Value returns the current value, nil for a tombstone
func (it *Iterator) Value() []byte {
	if !it.valid || it.tombstone {
		return nil
	}
	return it.value
}

// Valid returns true if the iterator is positioned at a valid entry
func (it *Iterator) Valid() bool {
	return it.valid
}

// IsTombstone returns true if the current entry is a deletion marker
func (it *Iterator) IsTombstone() bool {
	return it.valid && it.tombstone
}

// Err returns the decode error that invalidated the iterator, if any
func (it *Iterator) Err() error {
	return it.err
}

// decodeAt decodes the entry at pos, reconstructing its key from prevKey
func (it *Iterator) decodeAt(pos uint32, prevKey []byte) bool {
	it.valid = false
	if pos >= it.reader.dataEnd {
		return false
	}

	data := it.reader.data[pos:it.reader.dataEnd]
	if len(data) < entryHeaderSize {
		return it.fail(pos, "truncated entry header")
	}

	shared := int(binary.LittleEndian.Uint16(data[0:2]))
	unshared := int(binary.LittleEndian.Uint16(data[2:4]))
	flags := data[4]
	valueLen := int(binary.LittleEndian.Uint32(data[5:9]))
	data = data[entryHeaderSize:]

	if shared > len(prevKey) {
		return it.fail(pos, "shared prefix exceeds previous key")
	}
	if len(data) < unshared+valueLen {
		return it.fail(pos, "truncated entry body")
	}

	key := make([]byte, shared+unshared)
	copy(key, prevKey[:shared])
	copy(key[shared:], data[:unshared])

	it.key = key
	it.tombstone = flags&flagTombstone != 0
	if it.tombstone {
		it.value = nil
	} else {
		it.value = append([]byte{}, data[unshared:unshared+valueLen]...)
	}
	it.nextPos = pos + uint32(entryHeaderSize+unshared+valueLen)
	it.valid = true
	return true
}

func (it *Iterator) fail(pos uint32, reason string) bool {
	it.err = fmt.Errorf("%w: %s at offset %d", ErrMalformed, reason, pos)
	it.key = nil
	it.value = nil
	return false
}
